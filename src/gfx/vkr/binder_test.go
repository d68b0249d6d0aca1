// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
	qt "github.com/frankban/quicktest"
)

// writeFor returns the descriptor write of a binding from the last flush
// of a list.
func writeFor(l *commandList, binding uint32) (native.DescriptorWrite, bool) {
	for _, w := range l.binder.writes {
		if w.Binding == binding {
			return w, true
		}
	}
	return native.DescriptorWrite{}, false
}

func computeShader(c *qt.C, d *Device) gfx.Shader {
	return mustShader(c, d, gfx.ShaderStageCS, newSPIRV(execCompute).
		constantBuffer(0).
		texture(0).
		rwBuffer(0).
		sampler(0))
}

func TestBinderNullFallback(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})
	cs := computeShader(c, d)

	cmd := mustBegin(c, d, gfx.QueueCompute)
	l := d.lists[cmd]
	d.BindComputeShader(cmd, &cs)
	d.Dispatch(cmd, 1, 1, 1)
	c.Assert(l.err, qt.IsNil)

	w, ok := writeFor(l, shiftB)
	c.Assert(ok, qt.IsTrue)
	c.Assert(w.Buffers[0].Buffer, qt.Equals, d.null.buffer)
	w, ok = writeFor(l, shiftT)
	c.Assert(ok, qt.IsTrue)
	c.Assert(w.Images[0].View, qt.Equals, d.null.nullView(vk.ImageViewType2d))
	w, ok = writeFor(l, shiftU)
	c.Assert(ok, qt.IsTrue)
	c.Assert(w.Buffers[0].Buffer, qt.Equals, d.null.buffer)
	w, ok = writeFor(l, shiftS)
	c.Assert(ok, qt.IsTrue)
	c.Assert(w.Images[0].Sampler, qt.Equals, d.null.sampler)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
}

func TestBinderWritesBoundResources(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})
	cs := computeShader(c, d)

	cb := mustBuffer(c, d, gfx.BufferDesc{Size: 256, BindFlags: gfx.BindConstantBuffer}, nil)
	tex := mustTexture(c, d, renderTarget(8, 8))
	rw := mustBuffer(c, d, gfx.BufferDesc{Size: 512, BindFlags: gfx.BindUnorderedAccess, MiscFlags: gfx.MiscBufferRaw}, nil)
	smp, err := d.CreateSampler(&gfx.SamplerDesc{Filter: gfx.FilterMinMagMipLinear, MaxLOD: 8})
	c.Assert(err, qt.IsNil)

	cmd := mustBegin(c, d, gfx.QueueCompute)
	l := d.lists[cmd]
	d.BindComputeShader(cmd, &cs)
	d.BindConstantBuffer(cmd, &cb, 0, 128)
	d.BindResource(cmd, &tex.GPUResource, 0, -1)
	d.BindUAV(cmd, &rw.GPUResource, 0, -1)
	d.BindSampler(cmd, &smp, 0)
	d.Dispatch(cmd, 1, 1, 1)
	c.Assert(l.err, qt.IsNil)

	w, _ := writeFor(l, shiftB)
	c.Assert(w.Buffers[0], qt.Equals, native.BufferDescriptor{
		Buffer: resourceOf(&cb.GPUResource).buffer,
		Offset: 128,
		Range:  128,
	})
	w, _ = writeFor(l, shiftT)
	c.Assert(w.Images[0].View, qt.Equals, resourceOf(&tex.GPUResource).srv.handle)
	c.Assert(w.Images[0].Layout, qt.Equals, vk.ImageLayoutShaderReadOnlyOptimal)
	w, _ = writeFor(l, shiftU)
	c.Assert(w.Buffers[0].Buffer, qt.Equals, resourceOf(&rw.GPUResource).buffer)
	c.Assert(w.Buffers[0].Range, qt.Equals, uint64(512))
	w, _ = writeFor(l, shiftS)
	c.Assert(w.Images[0].Sampler, qt.Equals, samplerOf(&smp).sampler)

	desc, ok := drv.DescriptorAt(w.Set, shiftT, 0)
	c.Assert(ok, qt.IsTrue)
	c.Assert(desc.Image.View, qt.Equals, resourceOf(&tex.GPUResource).srv.handle)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
}

func TestBinderAllocatesOnlyWhenDirty(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})
	cs := computeShader(c, d)
	a := mustBuffer(c, d, gfx.BufferDesc{Size: 64, BindFlags: gfx.BindConstantBuffer}, nil)
	b := mustBuffer(c, d, gfx.BufferDesc{Size: 64, BindFlags: gfx.BindConstantBuffer}, nil)

	cmd := mustBegin(c, d, gfx.QueueCompute)
	pool := d.lists[cmd].frame.descriptors.handle
	d.BindComputeShader(cmd, &cs)
	d.BindConstantBuffer(cmd, &a, 0, 0)
	d.Dispatch(cmd, 1, 1, 1)
	c.Assert(drv.AllocatedSets(pool), qt.Equals, 1)

	d.Dispatch(cmd, 1, 1, 1)
	d.BindConstantBuffer(cmd, &a, 0, 0)
	d.Dispatch(cmd, 1, 1, 1)
	c.Assert(drv.AllocatedSets(pool), qt.Equals, 1)

	d.BindConstantBuffer(cmd, &b, 0, 0)
	d.Dispatch(cmd, 1, 1, 1)
	c.Assert(drv.AllocatedSets(pool), qt.Equals, 2)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)
	c.Assert(drv.Stats().Dispatches, qt.Equals, 4)
}

func TestDescriptorPoolGrows(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{DescriptorPoolSize: 1})
	cs := computeShader(c, d)
	a := mustBuffer(c, d, gfx.BufferDesc{Size: 64, BindFlags: gfx.BindConstantBuffer}, nil)
	b := mustBuffer(c, d, gfx.BufferDesc{Size: 64, BindFlags: gfx.BindConstantBuffer}, nil)

	cmd := mustBegin(c, d, gfx.QueueCompute)
	l := d.lists[cmd]
	d.BindComputeShader(cmd, &cs)
	for i := 0; i < 3; i++ {
		d.BindConstantBuffer(cmd, &a, 0, 0)
		d.Dispatch(cmd, 1, 1, 1)
		d.BindConstantBuffer(cmd, &b, 0, 0)
		d.Dispatch(cmd, 1, 1, 1)
	}
	c.Assert(l.err, qt.IsNil)
	// Six sets: the pool goes 1, 2, 4 and the outgrown pools wait for
	// the frame to retire.
	c.Assert(l.frame.descriptors.size, qt.Equals, uint32(4))
	c.Assert(d.alloc.pending(native.KindDescriptorPool), qt.Equals, 2)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
}

func TestBindingSlotOutOfRange(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})
	buf := mustBuffer(c, d, gfx.BufferDesc{Size: 64}, nil)

	cmd := mustBegin(c, d, gfx.QueueGraphics)
	d.BindResource(cmd, &buf.GPUResource, srvCount, -1)
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrInvalidBinding)

	cmd = mustBegin(c, d, gfx.QueueGraphics)
	d.BindConstantBuffer(cmd, &buf, cbvCount, 0)
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrInvalidBinding)
}

func TestAccelerationStructureSlotRejectsBuffer(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})
	cs := mustShader(c, d, gfx.ShaderStageCS, newSPIRV(execCompute).accelerationStructure(0))
	buf := mustBuffer(c, d, gfx.BufferDesc{Size: 64, BindFlags: gfx.BindShaderResource}, nil)

	cmd := mustBegin(c, d, gfx.QueueCompute)
	d.BindComputeShader(cmd, &cs)
	d.Dispatch(cmd, 1, 1, 1)
	c.Assert(d.lists[cmd].err, qt.IsNil)

	d.BindResource(cmd, &buf.GPUResource, 0, -1)
	d.Dispatch(cmd, 1, 1, 1)
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrInvalidBinding)
}

func TestDispatchNeedsComputeShader(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})
	vs := mustShader(c, d, gfx.ShaderStageVS, newSPIRV(execVertex))

	cmd := mustBegin(c, d, gfx.QueueCompute)
	d.Dispatch(cmd, 1, 1, 1)
	err := d.SubmitCommandLists()
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidCommandList)

	cmd = mustBegin(c, d, gfx.QueueCompute)
	d.BindComputeShader(cmd, &vs)
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrInvalidBinding)
	c.Assert(d.WaitForGPU(), qt.IsNil)
	c.Assert(drv.Stats().Dispatches, qt.Equals, 0)
}

func TestBindlessSetsBound(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})
	cs := mustShader(c, d, gfx.ShaderStageCS, newSPIRV(execCompute).bindlessTextures(2))
	layout := shaderOf(&cs).layout
	c.Assert(layout.bindless, qt.HasLen, 1)
	c.Assert(layout.bindless[0].set, qt.Equals, uint32(2))
	c.Assert(layout.bindless[0].handle, qt.Equals, d.alloc.heap(BindlessSampledImage).set)

	cmd := mustBegin(c, d, gfx.QueueCompute)
	d.BindComputeShader(cmd, &cs)
	d.Dispatch(cmd, 1, 1, 1)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
}

func TestBindlessSetsUnsupported(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{}, native.Features{})

	_, err := d.CreateShader(gfx.ShaderStageCS, newSPIRV(execCompute).bindlessTextures(1).bytes())
	c.Assert(err, qt.ErrorIs, gfx.ErrUnsupported)
}

func TestAccelerationStructureWithoutRaytracing(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{DescriptorPoolSize: 1}, native.Features{})

	_, err := d.CreateShader(gfx.ShaderStageCS, newSPIRV(execCompute).accelerationStructure(0).bytes())
	c.Assert(err, qt.ErrorIs, gfx.ErrUnsupported)
}

func TestDescriptorPoolLayoutTooLarge(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{}, native.Features{})

	// No pool of a device without ray tracing holds acceleration structures.
	layout, err := drv.CreateSetLayout(&native.SetLayoutInfo{Bindings: []native.SetLayoutBinding{
		{Binding: shiftT, Type: descriptorTypeAccelerationStructure, Count: 1, Stages: vk.ShaderStageFlags(vk.ShaderStageComputeBit)},
	}})
	c.Assert(err, qt.IsNil)
	defer drv.Destroy(native.KindSetLayout, layout)

	var p descriptorPool
	c.Assert(p.init(d, 1), qt.IsNil)
	_, err = p.allocate(d, layout)
	c.Assert(err, qt.ErrorIs, native.ErrOutOfPoolMemory)
	c.Assert(p.size, qt.Equals, uint32(2))
	c.Assert(d.alloc.pending(native.KindDescriptorPool), qt.Equals, 1)
	drv.Destroy(native.KindDescriptorPool, p.handle)
}

func TestDescriptorPoolGrowthBound(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})

	var p descriptorPool
	c.Assert(p.init(d, maxDescriptorPoolSets), qt.IsNil)
	c.Assert(p.grow(d), qt.ErrorIs, native.ErrOutOfPoolMemory)
	c.Assert(p.size, qt.Equals, uint32(maxDescriptorPoolSets))
	drv.Destroy(native.KindDescriptorPool, p.handle)

	cfg := Config{DescriptorPoolSize: 1 << 30}.withDefaults()
	c.Assert(cfg.DescriptorPoolSize, qt.Equals, uint32(maxDescriptorPoolSets))
}

func TestCombinedImageSamplerUnsupported(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	_, err := d.CreateShader(gfx.ShaderStagePS, newSPIRV(execFragment).combinedTexture(0).bytes())
	c.Assert(err, qt.ErrorIs, gfx.ErrUnsupported)
}
