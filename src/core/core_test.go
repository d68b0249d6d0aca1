// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/utility/kar"
	qt "github.com/frankban/quicktest"
	"github.com/gobuffalo/envy"
	"github.com/sirupsen/logrus"
)

func TestLoadConfigurationDefaults(t *testing.T) {
	c := qt.New(t)
	envy.Temp(func() {
		for _, key := range []string{EnvDriver, EnvBufferCount, EnvCommandListCount, EnvDebug, EnvValidation, EnvFramesPerSecond, EnvShaderArchive, EnvPipelineCache} {
			envy.Set(key, "")
		}
		cfg, err := LoadConfiguration()
		c.Assert(err, qt.IsNil)
		c.Assert(cfg, qt.DeepEquals, DefaultConfiguration())
	})
}

func TestLoadConfigurationOverrides(t *testing.T) {
	c := qt.New(t)
	envy.Temp(func() {
		envy.Set(EnvDriver, "soft")
		envy.Set(EnvBufferCount, "3")
		envy.Set(EnvDebug, "true")
		envy.Set(EnvFramesPerSecond, "60")
		envy.Set(EnvPipelineCache, "cache.kar")

		cfg, err := LoadConfiguration()
		c.Assert(err, qt.IsNil)
		c.Assert(cfg.Device.Driver, qt.Equals, "soft")
		c.Assert(cfg.Device.BufferCount, qt.Equals, uint32(3))
		c.Assert(cfg.Device.Debug, qt.IsTrue)
		c.Assert(cfg.Time.FramesPerSecond, qt.Equals, 60)
		c.Assert(cfg.PipelineCache, qt.Equals, "cache.kar")

		vc := cfg.Device.Vkr(nil, []byte{1})
		c.Assert(vc.BufferCount, qt.Equals, uint32(3))
		c.Assert(vc.PipelineCache, qt.DeepEquals, []byte{1})
	})
}

func TestLoadConfigurationInvalid(t *testing.T) {
	c := qt.New(t)
	envy.Temp(func() {
		envy.Set(EnvBufferCount, "many")
		_, err := LoadConfiguration()
		c.Assert(err, qt.ErrorMatches, `KORU_BUFFER_COUNT: .*`)
	})
}

func TestTime(t *testing.T) {
	c := qt.New(t)
	ts := NewTime(TimeConfiguration{FramesPerSecond: 1000, EventPollDelay: 1})
	defer ts.Stop()
	c.Assert(ts.Fps(), qt.Equals, 1000)
	select {
	case <-ts.FpsTicker().C:
	case <-time.After(time.Second):
		c.Fatal("fps ticker did not tick")
	}
	select {
	case <-ts.EventTicker().C:
	case <-time.After(time.Second):
		c.Fatal("event ticker did not tick")
	}
	c.Assert(ts.Elapsed() > 0, qt.IsTrue)
}

func TestStageOf(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		file  string
		stage gfx.ShaderStage
		ok    bool
	}{
		{"triangle.vert.spv", gfx.ShaderStageVS, true},
		{"shaders/triangle.frag.spv", gfx.ShaderStagePS, true},
		{"cull.comp.spv", gfx.ShaderStageCS, true},
		{"triangle.vert", 0, false},
		{"a.b.vert.spv", 0, false},
		{"triangle.foo.spv", 0, false},
		{".vert.spv", 0, false},
	}
	for _, test := range tests {
		stage, ok := StageOf(test.file)
		c.Check(ok, qt.Equals, test.ok, qt.Commentf("%s", test.file))
		if test.ok {
			c.Check(stage, qt.Equals, test.stage, qt.Commentf("%s", test.file))
		}
	}
}

type fakeCreator struct {
	created map[gfx.ShaderStage]int
}

func (f *fakeCreator) CreateShader(stage gfx.ShaderStage, bytecode []byte) (gfx.Shader, error) {
	if len(bytecode) == 0 {
		return gfx.Shader{}, gfx.ErrInvalidDesc
	}
	f.created[stage]++
	return gfx.Shader{Stage: stage}, nil
}

func writeArchive(c *qt.C, files map[string]string) string {
	b := kar.NewBuilder(kar.Header{Author: "test", Version: 1})
	for name, data := range files {
		c.Assert(b.Add(name, strings.NewReader(data)), qt.IsNil)
	}
	path := filepath.Join(c.TempDir(), "shaders.kar")
	f, err := os.Create(path)
	c.Assert(err, qt.IsNil)
	_, err = b.WriteTo(f)
	c.Assert(err, qt.IsNil)
	c.Assert(f.Close(), qt.IsNil)
	return path
}

func TestShaderLibrary(t *testing.T) {
	c := qt.New(t)
	path := writeArchive(c, map[string]string{
		"triangle.vert.spv": "vertex",
		"triangle.frag.spv": "fragment",
		"README":            "not a shader",
	})
	lib, err := OpenShaderLibrary(path)
	c.Assert(err, qt.IsNil)
	defer lib.Close()

	c.Assert(lib.Names(), qt.DeepEquals, []string{"triangle.frag.spv", "triangle.vert.spv"})

	data, stage, err := lib.Load("triangle.vert.spv")
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, "vertex")
	c.Assert(stage, qt.Equals, gfx.ShaderStageVS)

	_, _, err = lib.Load("README")
	c.Assert(err, qt.ErrorMatches, `README is not a compiled shader`)

	creator := &fakeCreator{created: make(map[gfx.ShaderStage]int)}
	shaders, err := lib.CreateShaders(creator)
	c.Assert(err, qt.IsNil)
	c.Assert(shaders, qt.HasLen, 2)
	c.Assert(shaders["triangle.frag"].Stage, qt.Equals, gfx.ShaderStagePS)
	c.Assert(creator.created[gfx.ShaderStageVS], qt.Equals, 1)
}

func TestShaderLibraryCreateFailure(t *testing.T) {
	c := qt.New(t)
	lib, err := OpenShaderLibrary(writeArchive(c, map[string]string{"empty.comp.spv": ""}))
	c.Assert(err, qt.IsNil)
	defer lib.Close()

	_, err = lib.CreateShaders(&fakeCreator{created: make(map[gfx.ShaderStage]int)})
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidDesc)
}

type cacheSource []byte

func (s cacheSource) PipelineCacheData() ([]byte, error) {
	return s, nil
}

func TestPipelineCachePersistence(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "pipeline.kar")

	data, err := LoadPipelineCache(path)
	c.Assert(err, qt.IsNil)
	c.Assert(data, qt.IsNil)

	log := logrus.NewEntry(logrus.New())
	blob := cacheSource("driver pipeline cache blob")
	c.Assert(SavePipelineCache(path, blob, log), qt.IsNil)

	data, err = LoadPipelineCache(path)
	c.Assert(err, qt.IsNil)
	c.Assert(data, qt.DeepEquals, []byte(blob))

	c.Assert(os.WriteFile(path, []byte("garbage"), 0o644), qt.IsNil)
	_, err = LoadPipelineCache(path)
	c.Assert(err, qt.ErrorIs, kar.ErrFileFormat)
}
