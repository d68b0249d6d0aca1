// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/utility/kar"
	"golang.org/x/exp/mmap"
)

const shaderSuffix = ".spv"

var shaderStages = map[string]gfx.ShaderStage{
	"vert":  gfx.ShaderStageVS,
	"frag":  gfx.ShaderStagePS,
	"comp":  gfx.ShaderStageCS,
	"geom":  gfx.ShaderStageGS,
	"tesc":  gfx.ShaderStageHS,
	"tese":  gfx.ShaderStageDS,
	"mesh":  gfx.ShaderStageMS,
	"task":  gfx.ShaderStageAS,
	"rlib":  gfx.ShaderStageLIB,
	"rgen":  gfx.ShaderStageLIB,
	"rmiss": gfx.ShaderStageLIB,
	"rchit": gfx.ShaderStageLIB,
	"rahit": gfx.ShaderStageLIB,
}

// StageOf returns the stage of a compiled shader file. The name must have
// exactly two dots, the first is always the name of the shader, second is
// type, and the third one ensures that the shader is compiled:
// "triangle.vert.spv".
func StageOf(file string) (gfx.ShaderStage, bool) {
	if !strings.HasSuffix(file, shaderSuffix) {
		return 0, false
	}
	base := file[strings.LastIndex(file, "/")+1:]
	nodes := strings.Split(strings.TrimSuffix(base, shaderSuffix), ".")
	if len(nodes) != 2 || nodes[0] == "" {
		return 0, false
	}
	stage, ok := shaderStages[nodes[1]]
	return stage, ok
}

// ShaderLibrary is a kar archive of compiled shaders, memory mapped.
type ShaderLibrary struct {
	reader  *mmap.ReaderAt
	archive *kar.Archive
}

// OpenShaderLibrary maps the archive at path.
func OpenShaderLibrary(path string) (*ShaderLibrary, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "mmap.Open()")
	}
	ar, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "shader library %s", path)
	}
	return &ShaderLibrary{reader: r, archive: ar}, nil
}

// Names returns the shader files of the library.
func (l *ShaderLibrary) Names() []string {
	var names []string
	for _, name := range l.archive.Names() {
		if _, ok := StageOf(name); ok {
			names = append(names, name)
		}
	}
	return names
}

// Load returns the bytecode and stage of a shader file.
func (l *ShaderLibrary) Load(name string) ([]byte, gfx.ShaderStage, error) {
	stage, ok := StageOf(name)
	if !ok {
		return nil, 0, errors.Newf("%s is not a compiled shader", name)
	}
	data, err := l.archive.ReadAll(name)
	if err != nil {
		return nil, 0, err
	}
	return data, stage, nil
}

// CreateShader loads a shader file and creates it on dev.
func (l *ShaderLibrary) CreateShader(dev ShaderCreator, name string) (gfx.Shader, error) {
	data, stage, err := l.Load(name)
	if err != nil {
		return gfx.Shader{}, err
	}
	shader, err := dev.CreateShader(stage, data)
	if err != nil {
		return gfx.Shader{}, errors.Wrapf(err, "create shader %s", name)
	}
	return shader, nil
}

// CreateShaders creates every shader of the library, keyed by file name
// without the ".spv" suffix.
func (l *ShaderLibrary) CreateShaders(dev ShaderCreator) (map[string]gfx.Shader, error) {
	shaders := make(map[string]gfx.Shader)
	for _, name := range l.Names() {
		s, err := l.CreateShader(dev, name)
		if err != nil {
			for _, created := range shaders {
				created.Release()
			}
			return nil, err
		}
		shaders[strings.TrimSuffix(name, shaderSuffix)] = s
	}
	return shaders, nil
}

// Close unmaps the archive.
func (l *ShaderLibrary) Close() error {
	return l.reader.Close()
}
