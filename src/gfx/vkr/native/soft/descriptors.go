// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

type descriptorPool struct {
	info      native.DescriptorPoolInfo
	sets      uint32
	remaining map[vk.DescriptorType]uint32
	allocated []native.Handle
}

func (p *descriptorPool) reset() {
	p.sets = 0
	p.allocated = p.allocated[:0]
	p.remaining = make(map[vk.DescriptorType]uint32, len(p.info.Sizes))
	for _, s := range p.info.Sizes {
		p.remaining[s.Type] += s.Count
	}
}

// Descriptor is the content of one descriptor array element.
type Descriptor struct {
	Type        vk.DescriptorType
	Image       native.ImageDescriptor
	Buffer      native.BufferDescriptor
	TexelBuffer native.Handle
	AccelStruct native.Handle
}

type descriptorSet struct {
	pool    native.Handle
	layout  *setLayout
	count   map[uint32]uint32
	content map[uint32]map[uint32]Descriptor
}

// CreateDescriptorPool implements native.Device.
func (d *Device) CreateDescriptorPool(info *native.DescriptorPoolInfo) (native.Handle, error) {
	if info.MaxSets == 0 {
		return native.Null, errors.New("soft: descriptor pool without sets")
	}
	p := &descriptorPool{info: *info}
	p.info.Sizes = append([]native.DescriptorPoolSize(nil), info.Sizes...)
	p.reset()
	return d.add(native.KindDescriptorPool, p), nil
}

// ResetDescriptorPool implements native.Device. Sets allocated from the
// pool become invalid.
func (d *Device) ResetDescriptorPool(h native.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.objects[h].(*descriptorPool)
	if !ok {
		return errHandle("descriptor pool", h)
	}
	for _, set := range p.allocated {
		delete(d.objects, set)
	}
	p.reset()
	return nil
}

// AllocateDescriptorSet implements native.Device.
func (d *Device) AllocateDescriptorSet(pool, layout native.Handle, variableCount uint32) (native.Handle, error) {
	d.mu.Lock()
	p, ok := d.objects[pool].(*descriptorPool)
	l, lok := d.objects[layout].(*setLayout)
	d.mu.Unlock()
	if !ok {
		return native.Null, errHandle("descriptor pool", pool)
	}
	if !lok {
		return native.Null, errHandle("descriptor set layout", layout)
	}

	set := &descriptorSet{
		pool:    pool,
		layout:  l,
		count:   make(map[uint32]uint32, len(l.info.Bindings)),
		content: make(map[uint32]map[uint32]Descriptor, len(l.info.Bindings)),
	}
	need := make(map[vk.DescriptorType]uint32)
	for i, b := range l.info.Bindings {
		count := b.Count
		if l.info.Bindless && i == len(l.info.Bindings)-1 && variableCount > 0 {
			count = variableCount
		}
		set.count[b.Binding] = count
		need[b.Type] += count
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if p.sets >= p.info.MaxSets {
		return native.Null, native.ErrOutOfPoolMemory
	}
	for typ, n := range need {
		if p.remaining[typ] < n {
			return native.Null, native.ErrOutOfPoolMemory
		}
	}
	for typ, n := range need {
		p.remaining[typ] -= n
	}
	p.sets++
	h := native.Handle(d.nextHandle())
	d.objects[h] = set
	p.allocated = append(p.allocated, h)
	return h, nil
}

// UpdateDescriptorSets implements native.Device. Writes outside a
// binding's array are logged and dropped.
func (d *Device) UpdateDescriptorSets(writes []native.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range writes {
		w := &writes[i]
		set, ok := d.objects[w.Set].(*descriptorSet)
		if !ok {
			d.log.WithField("set", w.Set).Error("descriptor write to unknown set")
			continue
		}
		count, ok := set.count[w.Binding]
		if !ok || w.ArrayElement+uint32(w.Count()) > count {
			d.log.WithField("binding", w.Binding).WithField("element", w.ArrayElement).
				Error("descriptor write out of range")
			continue
		}
		elems := set.content[w.Binding]
		if elems == nil {
			elems = make(map[uint32]Descriptor)
			set.content[w.Binding] = elems
		}
		el := w.ArrayElement
		for _, img := range w.Images {
			elems[el] = Descriptor{Type: w.Type, Image: img}
			el++
		}
		for _, buf := range w.Buffers {
			elems[el] = Descriptor{Type: w.Type, Buffer: buf}
			el++
		}
		for _, tb := range w.TexelBuffers {
			elems[el] = Descriptor{Type: w.Type, TexelBuffer: tb}
			el++
		}
		for _, as := range w.AccelStructs {
			elems[el] = Descriptor{Type: w.Type, AccelStruct: as}
			el++
		}
	}
}

// DescriptorAt returns the descriptor written at one element of a set.
func (d *Device) DescriptorAt(set native.Handle, binding, element uint32) (Descriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.objects[set].(*descriptorSet)
	if !ok {
		return Descriptor{}, false
	}
	desc, ok := s.content[binding][element]
	return desc, ok
}

// AllocatedSets returns how many sets are currently allocated from a pool.
func (d *Device) AllocatedSets(pool native.Handle) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.objects[pool].(*descriptorPool); ok {
		return int(p.sets)
	}
	return 0
}
