// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

// Slot counts of the binding table.
const (
	cbvCount     = 14
	srvCount     = 16
	uavCount     = 16
	samplerCount = 16
)

// maxDescriptorPoolSets bounds descriptor pool growth.
const maxDescriptorPoolSets = 1 << 16

type bindPoint int

const (
	bindGraphics bindPoint = iota
	bindCompute
	bindRayTracing
	bindPointCount
)

var bindPoints = [bindPointCount]vk.PipelineBindPoint{
	vk.PipelineBindPointGraphics,
	vk.PipelineBindPointCompute,
	pipelineBindPointRayTracing,
}

// bindingTable holds what a command list has bound to each slot.
type bindingTable struct {
	cbv       [cbvCount]*resourceState
	cbvOffset [cbvCount]uint64
	srv       [srvCount]*resourceState
	srvIndex  [srvCount]int
	uav       [uavCount]*resourceState
	uavIndex  [uavCount]int
	sampler   [samplerCount]*samplerState
}

// descriptorBinder turns the binding table into a descriptor set when a
// draw or dispatch needs it.
type descriptorBinder struct {
	table bindingTable

	// dirty is set when the table changed since the last flush.
	dirty   bool
	stale   [bindPointCount]bool
	layouts [bindPointCount]*pipelineLayout
	writes  []native.DescriptorWrite
}

func (b *descriptorBinder) reset() {
	b.table = bindingTable{}
	b.layouts = [bindPointCount]*pipelineLayout{}
	b.markDirty()
}

func (b *descriptorBinder) markDirty() {
	b.dirty = true
	for i := range b.stale {
		b.stale[i] = true
	}
}

func (b *descriptorBinder) bindCBV(s *resourceState, slot uint32, offset uint64) {
	if b.table.cbv[slot] == s && b.table.cbvOffset[slot] == offset {
		return
	}
	b.table.cbv[slot] = s
	b.table.cbvOffset[slot] = offset
	b.markDirty()
}

func (b *descriptorBinder) bindSRV(s *resourceState, slot uint32, sub int) {
	if b.table.srv[slot] == s && b.table.srvIndex[slot] == sub {
		return
	}
	b.table.srv[slot] = s
	b.table.srvIndex[slot] = sub
	b.markDirty()
}

func (b *descriptorBinder) bindUAV(s *resourceState, slot uint32, sub int) {
	if b.table.uav[slot] == s && b.table.uavIndex[slot] == sub {
		return
	}
	b.table.uav[slot] = s
	b.table.uavIndex[slot] = sub
	b.markDirty()
}

func (b *descriptorBinder) bindSampler(s *samplerState, slot uint32) {
	if b.table.sampler[slot] == s {
		return
	}
	b.table.sampler[slot] = s
	b.markDirty()
}

// descriptorPool is the per list, per frame pool binder sets come from.
type descriptorPool struct {
	handle native.Handle
	size   uint32
}

func (p *descriptorPool) init(d *Device, size uint32) error {
	sizes := []native.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, Count: cbvCount * size},
		{Type: vk.DescriptorTypeSampledImage, Count: srvCount * size},
		{Type: vk.DescriptorTypeUniformTexelBuffer, Count: srvCount * size},
		{Type: vk.DescriptorTypeStorageBuffer, Count: (srvCount + uavCount) * size},
		{Type: vk.DescriptorTypeStorageImage, Count: uavCount * size},
		{Type: vk.DescriptorTypeStorageTexelBuffer, Count: uavCount * size},
		{Type: vk.DescriptorTypeSampler, Count: samplerCount * size},
	}
	if d.CheckCapability(gfx.CapRaytracing) {
		sizes = append(sizes, native.DescriptorPoolSize{Type: descriptorTypeAccelerationStructure, Count: srvCount * size})
	}
	h, err := d.drv.CreateDescriptorPool(&native.DescriptorPoolInfo{MaxSets: size, Sizes: sizes})
	if err != nil {
		return errors.Wrap(err, "vk.CreateDescriptorPool()")
	}
	p.handle = h
	p.size = size
	return nil
}

// grow replaces the pool with one twice the size. Sets allocated from
// the old pool stay valid until it is destroyed with the frame.
func (p *descriptorPool) grow(d *Device) error {
	if p.size >= maxDescriptorPoolSets {
		return errors.Wrapf(native.ErrOutOfPoolMemory, "descriptor pool of %d sets", p.size)
	}
	d.alloc.retire(native.KindDescriptorPool, p.handle)
	p.handle = native.Null
	d.log.WithField("size", p.size*2).Debug("Growing descriptor pool")
	return p.init(d, p.size*2)
}

// allocate takes a set from the pool, growing it once when exhausted. A
// layout that does not fit an empty pool is an error.
func (p *descriptorPool) allocate(d *Device, layout native.Handle) (native.Handle, error) {
	for fresh := false; ; fresh = true {
		set, err := d.drv.AllocateDescriptorSet(p.handle, layout, 0)
		if err == nil {
			return set, nil
		}
		if !errors.Is(err, native.ErrOutOfPoolMemory) {
			return native.Null, errors.Wrap(err, "vk.AllocateDescriptorSets()")
		}
		if fresh {
			return native.Null, errors.Wrapf(err, "set layout does not fit a pool of %d sets", p.size)
		}
		if err := p.grow(d); err != nil {
			return native.Null, err
		}
	}
}

// flush writes and binds a descriptor set for layout at a bind point
// when the table or the layout changed since the last flush there.
func (b *descriptorBinder) flush(l *commandList, point bindPoint, layout *pipelineLayout) error {
	if layout == nil || (!b.stale[point] && b.layouts[point] == layout) {
		return nil
	}
	d := l.d
	vkPoint := bindPoints[point]

	if len(layout.bindings) > 0 {
		set, err := l.frame.descriptors.allocate(d, layout.setLayout)
		if err != nil {
			return err
		}
		b.writes = b.writes[:0]
		for i, lb := range layout.bindings {
			if len(lb.ImmutableSamplers) > 0 {
				continue
			}
			for e := uint32(0); e < lb.Count; e++ {
				w, err := b.write(d, lb, layout.viewTypes[i], e)
				if err != nil {
					return err
				}
				if w.Count() == 0 {
					continue
				}
				w.Set = set
				b.writes = append(b.writes, w)
			}
		}
		d.drv.UpdateDescriptorSets(b.writes)
		l.cb.BindDescriptorSets(vkPoint, layout.handle, 0, []native.Handle{set})
	}
	for _, bb := range layout.bindless {
		l.cb.BindDescriptorSets(vkPoint, layout.handle, bb.set, []native.Handle{bb.handle})
	}

	b.stale[point] = false
	b.layouts[point] = layout
	b.dirty = false
	return nil
}

// write resolves one array element of a binding. Unbound slots get the
// null descriptor of their type.
func (b *descriptorBinder) write(d *Device, lb native.SetLayoutBinding, viewType vk.ImageViewType, element uint32) (native.DescriptorWrite, error) {
	w := native.DescriptorWrite{Binding: lb.Binding, ArrayElement: element, Type: lb.Type}
	t := &b.table
	n := &d.null

	switch lb.Type {
	case vk.DescriptorTypeSampler:
		h := n.sampler
		if slot, ok := slotOf(lb.Binding, shiftS, element, samplerCount); ok && t.sampler[slot] != nil {
			h = t.sampler[slot].sampler
		}
		w.Images = []native.ImageDescriptor{{Sampler: h}}

	case vk.DescriptorTypeSampledImage:
		img := native.ImageDescriptor{View: n.nullView(viewType), Layout: vk.ImageLayoutGeneral}
		if slot, ok := slotOf(lb.Binding, shiftT, element, srvCount); ok {
			if v := textureView(t.srv[slot], gfx.SRV, t.srvIndex[slot]); v != nil {
				img = native.ImageDescriptor{View: v.handle, Layout: vk.ImageLayoutShaderReadOnlyOptimal}
			}
		}
		w.Images = []native.ImageDescriptor{img}

	case vk.DescriptorTypeStorageImage:
		img := native.ImageDescriptor{View: n.nullView(viewType), Layout: vk.ImageLayoutGeneral}
		if slot, ok := slotOf(lb.Binding, shiftU, element, uavCount); ok {
			if v := textureView(t.uav[slot], gfx.UAV, t.uavIndex[slot]); v != nil {
				img.View = v.handle
			}
		}
		w.Images = []native.ImageDescriptor{img}

	case vk.DescriptorTypeUniformBuffer:
		buf := native.BufferDescriptor{Buffer: n.buffer, Range: vk.WholeSize}
		if slot, ok := slotOf(lb.Binding, shiftB, element, cbvCount); ok {
			if s := t.cbv[slot]; s != nil && s.buffer != native.Null && t.cbvOffset[slot] < s.size {
				offset := t.cbvOffset[slot]
				size := s.size - offset
				if limit := uint64(d.props.Limits.MaxUniformBufferRange); limit > 0 && size > limit {
					size = limit
				}
				buf = native.BufferDescriptor{Buffer: s.buffer, Offset: offset, Range: size}
			}
		}
		w.Buffers = []native.BufferDescriptor{buf}

	case vk.DescriptorTypeUniformTexelBuffer:
		h := n.bufferView
		if slot, ok := slotOf(lb.Binding, shiftT, element, srvCount); ok {
			if v := bufferView(t.srv[slot], gfx.SRV, t.srvIndex[slot]); v != nil && v.handle != native.Null {
				h = v.handle
			}
		}
		w.TexelBuffers = []native.Handle{h}

	case vk.DescriptorTypeStorageTexelBuffer:
		h := n.bufferView
		if slot, ok := slotOf(lb.Binding, shiftU, element, uavCount); ok {
			if v := bufferView(t.uav[slot], gfx.UAV, t.uavIndex[slot]); v != nil && v.handle != native.Null {
				h = v.handle
			}
		}
		w.TexelBuffers = []native.Handle{h}

	case vk.DescriptorTypeStorageBuffer:
		buf := native.BufferDescriptor{Buffer: n.buffer, Range: vk.WholeSize}
		var s *resourceState
		var sub int
		if lb.Binding < shiftU {
			if slot, ok := slotOf(lb.Binding, shiftT, element, srvCount); ok {
				s, sub = t.srv[slot], t.srvIndex[slot]
			}
		} else if slot, ok := slotOf(lb.Binding, shiftU, element, uavCount); ok {
			s, sub = t.uav[slot], t.uavIndex[slot]
		}
		if s != nil && s.typ != gfx.ResourceTexture && s.buffer != native.Null {
			buf = native.BufferDescriptor{Buffer: s.buffer, Range: vk.WholeSize}
			typ := gfx.SRV
			if lb.Binding >= shiftU {
				typ = gfx.UAV
			}
			if v := bufferView(s, typ, sub); v != nil {
				buf.Offset, buf.Range = v.offset, v.size
			}
		}
		w.Buffers = []native.BufferDescriptor{buf}

	case descriptorTypeAccelerationStructure:
		if slot, ok := slotOf(lb.Binding, shiftT, element, srvCount); ok {
			if s := t.srv[slot]; s != nil {
				if s.typ != gfx.ResourceAccelerationStructure {
					return w, errors.Wrapf(gfx.ErrInvalidBinding, "binding %d expects an acceleration structure", lb.Binding)
				}
				w.AccelStructs = []native.Handle{s.as}
			}
		}
	}
	return w, nil
}

// slotOf maps a shifted binding number and array element to a table
// slot.
func slotOf(binding, shift, element uint32, count int) (uint32, bool) {
	if binding < shift {
		return 0, false
	}
	slot := binding - shift + element
	return slot, slot < uint32(count)
}

func textureView(s *resourceState, typ gfx.SubresourceType, sub int) *view {
	if s == nil || s.Released() || s.typ != gfx.ResourceTexture {
		return nil
	}
	v := s.subresource(typ, sub)
	if v == nil || v.handle == native.Null {
		return nil
	}
	return v
}

func bufferView(s *resourceState, typ gfx.SubresourceType, sub int) *view {
	if s == nil || s.Released() || s.typ != gfx.ResourceBuffer {
		return nil
	}
	v := s.subresource(typ, sub)
	if v == nil || !v.valid() {
		return nil
	}
	return v
}
