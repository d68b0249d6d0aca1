// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	"github.com/devblok/korugfx/src/gfx/vkr/native/soft"
	qt "github.com/frankban/quicktest"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

// newTestDevice opens a device on a fresh software driver, optionally
// restricted to a feature set. The device is released when the test ends.
func newTestDevice(t testing.TB, cfg Config, features ...native.Features) (*Device, *soft.Device) {
	c := qt.New(t)
	cfg.Logger = quietLogger()
	drv := soft.New(native.Config{Logger: cfg.Logger})
	if len(features) > 0 {
		drv.SetFeatures(features[0])
	}
	d, err := New(drv, cfg)
	c.Assert(err, qt.IsNil)
	c.Cleanup(d.Release)
	return d, drv
}

// SPIR-V execution models.
const (
	execVertex   = 0
	execFragment = 4
	execCompute  = 5
)

// spirvModule assembles minimal SPIR-V modules declaring resources.
type spirvModule struct {
	words []uint32
	bound uint32

	float uint32
}

func newSPIRV(model uint32) *spirvModule {
	m := &spirvModule{words: []uint32{spirvMagic, 0x00010300, 0, 0, 0}, bound: 1}
	fn := m.id()
	name := stringWords("main")
	m.op(opEntryPoint, append([]uint32{model, fn}, name...)...)
	m.float = m.id()
	m.op(opTypeFloat, m.float, 32)
	return m
}

func stringWords(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

func (m *spirvModule) id() uint32 {
	m.bound++
	return m.bound - 1
}

func (m *spirvModule) op(code uint32, args ...uint32) {
	m.words = append(m.words, uint32(len(args)+1)<<16|code)
	m.words = append(m.words, args...)
}

func (m *spirvModule) variable(typ, storage, set, binding uint32) {
	ptr := m.id()
	m.op(opTypePointer, ptr, storage, typ)
	v := m.id()
	m.op(opVariable, ptr, v, storage)
	m.op(opDecorate, v, decorationDescriptorSet, set)
	m.op(opDecorate, v, decorationBinding, binding)
}

// block declares a struct of n floats.
func (m *spirvModule) block(n int, decoration uint32) uint32 {
	members := make([]uint32, n)
	for i := range members {
		members[i] = m.float
	}
	st := m.id()
	m.op(opTypeStruct, append([]uint32{st}, members...)...)
	m.op(opDecorate, st, decoration)
	for i := range members {
		m.op(opMemberDecorate, st, uint32(i), decorationOffset, uint32(i*4))
	}
	return st
}

func (m *spirvModule) image(dim, arrayed, sampled uint32) uint32 {
	img := m.id()
	m.op(opTypeImage, img, m.float, dim, 0, arrayed, 0, sampled, 0)
	return img
}

func (m *spirvModule) constantBuffer(binding uint32) *spirvModule {
	m.variable(m.block(4, decorationBlock), storageUniform, 0, shiftB+binding)
	return m
}

func (m *spirvModule) texture(binding uint32) *spirvModule {
	m.variable(m.image(dim2D, 0, 1), storageUniformConstant, 0, shiftT+binding)
	return m
}

func (m *spirvModule) rwTexture(binding uint32) *spirvModule {
	m.variable(m.image(dim2D, 0, 2), storageUniformConstant, 0, shiftU+binding)
	return m
}

func (m *spirvModule) structuredBuffer(binding uint32) *spirvModule {
	m.variable(m.block(1, decorationBlock), storageBuffer, 0, shiftT+binding)
	return m
}

func (m *spirvModule) rwBuffer(binding uint32) *spirvModule {
	m.variable(m.block(1, decorationBlock), storageBuffer, 0, shiftU+binding)
	return m
}

// combinedTexture declares a texture with its sampler, as GLSL sampler2D.
func (m *spirvModule) combinedTexture(binding uint32) *spirvModule {
	si := m.id()
	m.op(opTypeSampledImage, si, m.image(dim2D, 0, 1))
	m.variable(si, storageUniformConstant, 0, shiftT+binding)
	return m
}

func (m *spirvModule) sampler(binding uint32) *spirvModule {
	s := m.id()
	m.op(opTypeSampler, s)
	m.variable(s, storageUniformConstant, 0, shiftS+binding)
	return m
}

func (m *spirvModule) accelerationStructure(binding uint32) *spirvModule {
	as := m.id()
	m.op(opTypeAccelerationStruct, as)
	m.variable(as, storageUniformConstant, 0, shiftT+binding)
	return m
}

// bindlessTextures declares an unsized texture array in its own set.
func (m *spirvModule) bindlessTextures(set uint32) *spirvModule {
	arr := m.id()
	m.op(opTypeRuntimeArray, arr, m.image(dim2D, 0, 1))
	m.variable(arr, storageUniformConstant, set, 0)
	return m
}

func (m *spirvModule) pushConstants(floats int) *spirvModule {
	st := m.block(floats, decorationBlock)
	ptr := m.id()
	m.op(opTypePointer, ptr, storagePushConstant, st)
	m.op(opVariable, ptr, m.id(), storagePushConstant)
	return m
}

func (m *spirvModule) bytes() []byte {
	m.words[3] = m.bound
	out := make([]byte, len(m.words)*4)
	for i, w := range m.words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func mustShader(c *qt.C, d *Device, stage gfx.ShaderStage, m *spirvModule) gfx.Shader {
	sh, err := d.CreateShader(stage, m.bytes())
	c.Assert(err, qt.IsNil)
	return sh
}

func mustBuffer(c *qt.C, d *Device, desc gfx.BufferDesc, data []byte) gfx.GPUBuffer {
	buf, err := d.CreateBuffer(&desc, data)
	c.Assert(err, qt.IsNil)
	return buf
}

func mustTexture(c *qt.C, d *Device, desc gfx.TextureDesc) gfx.Texture {
	tex, err := d.CreateTexture(&desc, nil)
	c.Assert(err, qt.IsNil)
	return tex
}

func mustBegin(c *qt.C, d *Device, q gfx.QueueType) gfx.CommandList {
	cmd, err := d.BeginCommandList(q)
	c.Assert(err, qt.IsNil)
	return cmd
}

func renderTarget(w, h uint32) gfx.TextureDesc {
	return gfx.TextureDesc{
		Type:      gfx.Texture2D,
		Width:     w,
		Height:    h,
		MipLevels: 1,
		Format:    gfx.FormatR8G8B8A8Unorm,
		BindFlags: gfx.BindRenderTarget | gfx.BindShaderResource,
		Layout:    gfx.StateRenderTarget,
	}
}
