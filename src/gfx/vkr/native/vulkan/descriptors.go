// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

type descriptorPool struct {
	pool vk.DescriptorPool
	sets []native.Handle
}

// CreateDescriptorPool implements native.Device.
func (d *Device) CreateDescriptorPool(info *native.DescriptorPoolInfo) (native.Handle, error) {
	if info.Bindless {
		return native.Null, errors.Wrap(native.ErrUnsupported, "bindless descriptor pool")
	}
	sizes := make([]vk.DescriptorPoolSize, 0, len(info.Sizes))
	for _, s := range info.Sizes {
		if s.Type == descriptorTypeAccelerationStructure || s.Count == 0 {
			continue
		}
		sizes = append(sizes, vk.DescriptorPoolSize{Type: s.Type, DescriptorCount: s.Count})
	}
	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       info.MaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(d.device, &dpci, nil, &pool)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateDescriptorPool()")
	}
	return d.add(native.KindDescriptorPool, &descriptorPool{pool: pool}), nil
}

// ResetDescriptorPool implements native.Device. Sets allocated from the
// pool become invalid.
func (d *Device) ResetDescriptorPool(h native.Handle) error {
	p, ok := d.get(h).(*descriptorPool)
	if !ok {
		return errors.Wrapf(native.ErrInvalidHandle, "descriptor pool %d", h)
	}
	if err := vk.Error(vk.ResetDescriptorPool(d.device, p.pool, 0)); err != nil {
		return errors.Wrap(err, "vk.ResetDescriptorPool()")
	}
	d.mu.Lock()
	for _, set := range p.sets {
		delete(d.objects, set)
	}
	p.sets = p.sets[:0]
	d.mu.Unlock()
	return nil
}

// AllocateDescriptorSet implements native.Device.
func (d *Device) AllocateDescriptorSet(pool, layout native.Handle, variableCount uint32) (native.Handle, error) {
	p, ok := d.get(pool).(*descriptorPool)
	if !ok {
		return native.Null, errors.Wrapf(native.ErrInvalidHandle, "descriptor pool %d", pool)
	}
	l := d.setLayoutOf(layout)
	if l == nil {
		return native.Null, errors.Wrapf(native.ErrInvalidHandle, "set layout %d", layout)
	}
	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{l},
	}
	var set vk.DescriptorSet
	switch res := vk.AllocateDescriptorSets(d.device, &dsai, &set); res {
	case vk.Success:
	case resultOutOfPoolMemory, vk.ErrorFragmentedPool:
		return native.Null, native.ErrOutOfPoolMemory
	default:
		return native.Null, resultError(res, "vk.AllocateDescriptorSets()")
	}

	// Sets are owned by their pool and carry no kind of their own.
	h := native.Handle(d.nextHandle())
	d.mu.Lock()
	d.objects[h] = set
	p.sets = append(p.sets, h)
	d.mu.Unlock()
	return h, nil
}

func (d *Device) setOf(h native.Handle) vk.DescriptorSet {
	s, _ := d.get(h).(vk.DescriptorSet)
	return s
}

// UpdateDescriptorSets implements native.Device. Writes naming unknown
// handles are dropped and logged.
func (d *Device) UpdateDescriptorSets(writes []native.DescriptorWrite) {
	out := make([]vk.WriteDescriptorSet, 0, len(writes))
	for i := range writes {
		w := &writes[i]
		set := d.setOf(w.Set)
		if set == nil {
			d.log.WithField("set", w.Set).Error("descriptor write to unknown set")
			continue
		}
		vw := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorCount: uint32(w.Count()),
			DescriptorType:  w.Type,
		}
		switch {
		case len(w.Images) > 0:
			infos := make([]vk.DescriptorImageInfo, len(w.Images))
			for j, img := range w.Images {
				infos[j] = vk.DescriptorImageInfo{
					Sampler:     d.samplerOf(img.Sampler),
					ImageView:   d.viewOf(img.View),
					ImageLayout: img.Layout,
				}
			}
			vw.PImageInfo = infos
		case len(w.Buffers) > 0:
			infos := make([]vk.DescriptorBufferInfo, len(w.Buffers))
			for j, b := range w.Buffers {
				infos[j] = vk.DescriptorBufferInfo{
					Buffer: d.bufferOf(b.Buffer),
					Offset: vk.DeviceSize(b.Offset),
					Range:  vk.DeviceSize(b.Range),
				}
			}
			vw.PBufferInfo = infos
		case len(w.TexelBuffers) > 0:
			views := make([]vk.BufferView, len(w.TexelBuffers))
			for j, h := range w.TexelBuffers {
				views[j] = d.bufferViewOf(h)
			}
			vw.PTexelBufferView = views
		default:
			continue
		}
		out = append(out, vw)
	}
	if len(out) > 0 {
		vk.UpdateDescriptorSets(d.device, uint32(len(out)), out, 0, nil)
	}
}
