// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
	"github.com/sirupsen/logrus"
)

// Register classes are packed into set 0 binding numbers by shifts.
const (
	shiftB = 0    // constant buffers
	shiftT = 1000 // shader resources
	shiftU = 2000 // unordered access
	shiftS = 3000 // samplers
)

// shaderBindings is the resource interface of one or more shader stages.
type shaderBindings struct {
	bindings  []native.SetLayoutBinding // set 0, sorted by binding
	viewTypes []vk.ImageViewType        // parallel to bindings
	bindless  []bindlessBinding         // sets above 0, sorted by set
	push      native.PushConstantRange
}

func stageFlags(stage gfx.ShaderStage) vk.ShaderStageFlags {
	if stage == gfx.ShaderStageLIB {
		return vk.ShaderStageFlags(shaderStageRayTracing)
	}
	return vk.ShaderStageFlags(convertStage(stage))
}

// CreateShader implements gfx.Device. Compute shaders get their pipeline
// right away.
func (d *Device) CreateShader(stage gfx.ShaderStage, bytecode []byte) (gfx.Shader, error) {
	if stage < 0 || stage >= gfx.ShaderStageCount {
		return gfx.Shader{}, errors.Wrapf(gfx.ErrInvalidDesc, "shader stage %d", stage)
	}

	key := hashBytes(bytecode)
	refl, ok := d.reflections.Get(key)
	if !ok {
		var err error
		if refl, err = reflect(bytecode); err != nil {
			return gfx.Shader{}, errors.Mark(errors.Wrapf(err, "reflect %s shader", stage), gfx.ErrInvalidDesc)
		}
		d.reflections.Add(key, refl)
	}

	bind, err := d.reflectBindings(stage, refl)
	if err != nil {
		return gfx.Shader{}, err
	}

	module, err := d.drv.CreateShaderModule(bytecode)
	if err != nil {
		return gfx.Shader{}, errors.Wrap(err, "vk.CreateShaderModule()")
	}

	s := &shaderState{
		id:     d.shaderIDs.Add(1),
		stage:  stage,
		module: module,
		entry:  refl.Entry,
		bind:   bind,
	}
	s.dev = d
	if s.entry == "" {
		s.entry = "main"
	}

	if stage == gfx.ShaderStageCS || stage == gfx.ShaderStageLIB {
		if s.layout, err = d.layoutFor(&s.bind); err != nil {
			d.drv.Destroy(native.KindShaderModule, module)
			return gfx.Shader{}, err
		}
	}
	if stage == gfx.ShaderStageCS {
		s.pipeline, err = d.drv.CreateComputePipeline(&native.ComputePipelineInfo{
			Stage: native.ShaderStageInfo{
				Stage:  vk.ShaderStageComputeBit,
				Module: module,
				Entry:  s.entry,
			},
			Layout: s.layout.handle,
		})
		if err != nil {
			d.drv.Destroy(native.KindShaderModule, module)
			return gfx.Shader{}, errors.Wrap(err, "vk.CreateComputePipelines()")
		}
	}

	track(s)
	return gfx.Shader{DeviceChild: gfx.DeviceChild{Internal: s}, Stage: stage}, nil
}

// reflectBindings turns reflected descriptors into set layout bindings
// of one stage.
func (d *Device) reflectBindings(stage gfx.ShaderStage, refl *reflection) (shaderBindings, error) {
	flags := stageFlags(stage)
	var b shaderBindings
	for _, rb := range refl.Bindings {
		if rb.Type == descriptorTypeAccelerationStructure && !d.CheckCapability(gfx.CapRaytracing) {
			return b, errors.Wrapf(gfx.ErrUnsupported, "acceleration structure at binding %d", rb.Binding)
		}
		if rb.Type == vk.DescriptorTypeCombinedImageSampler {
			return b, errors.Wrapf(gfx.ErrUnsupported, "combined image sampler at binding %d", rb.Binding)
		}
		if rb.Set > 0 {
			kind, ok := bindlessKindOf(rb.Type)
			if !ok {
				return b, errors.Wrapf(gfx.ErrUnsupported, "bindless descriptor type %d at set %d", rb.Type, rb.Set)
			}
			if err := b.addBindless(bindlessBinding{set: rb.Set, kind: kind}); err != nil {
				return b, err
			}
			continue
		}
		lb := native.SetLayoutBinding{
			Binding: rb.Binding,
			Type:    rb.Type,
			Count:   rb.Count,
			Stages:  flags,
		}
		if lb.Count == 0 {
			lb.Count = 1
		}
		if rb.Type == vk.DescriptorTypeSampler && rb.Binding >= shiftS {
			if h := d.commonSampler(rb.Binding - shiftS); h != native.Null {
				lb.ImmutableSamplers = []native.Handle{h}
				lb.Count = 1
			}
		}
		b.bindings = append(b.bindings, lb)
		b.viewTypes = append(b.viewTypes, rb.ViewType)
	}
	if refl.PushConstant > 0 {
		b.push = native.PushConstantRange{Stages: flags, Size: refl.PushConstant}
	}
	return b, nil
}

func (b *shaderBindings) addBindless(bb bindlessBinding) error {
	i := sort.Search(len(b.bindless), func(i int) bool { return b.bindless[i].set >= bb.set })
	if i < len(b.bindless) && b.bindless[i].set == bb.set {
		if b.bindless[i].kind != bb.kind {
			return errors.Wrapf(gfx.ErrInvalidDesc, "set %d is declared with two descriptor types", bb.set)
		}
		return nil
	}
	b.bindless = append(b.bindless, bindlessBinding{})
	copy(b.bindless[i+1:], b.bindless[i:])
	b.bindless[i] = bb
	return nil
}

// merge folds the bindings of another stage into b. Bindings with the
// same number must agree on type and count.
func (b *shaderBindings) merge(o *shaderBindings) error {
	for i, ob := range o.bindings {
		j := sort.Search(len(b.bindings), func(k int) bool { return b.bindings[k].Binding >= ob.Binding })
		if j < len(b.bindings) && b.bindings[j].Binding == ob.Binding {
			cur := &b.bindings[j]
			if cur.Type != ob.Type || cur.Count != ob.Count {
				return errors.Wrapf(gfx.ErrInvalidDesc, "binding %d differs between stages", ob.Binding)
			}
			cur.Stages |= ob.Stages
			continue
		}
		b.bindings = append(b.bindings, native.SetLayoutBinding{})
		copy(b.bindings[j+1:], b.bindings[j:])
		b.bindings[j] = ob
		b.viewTypes = append(b.viewTypes, 0)
		copy(b.viewTypes[j+1:], b.viewTypes[j:])
		b.viewTypes[j] = o.viewTypes[i]
	}
	for _, bb := range o.bindless {
		if err := b.addBindless(bb); err != nil {
			return err
		}
	}
	if o.push.Size > 0 {
		if b.push.Size == 0 {
			b.push = o.push
		} else {
			if o.push.Offset < b.push.Offset {
				b.push.Offset = o.push.Offset
			}
			if o.push.Size > b.push.Size {
				b.push.Size = o.push.Size
			}
			b.push.Stages |= o.push.Stages
		}
	}
	return nil
}

func (b *shaderBindings) hash() uint64 {
	h := newHasher()
	for i, lb := range b.bindings {
		h.u32(lb.Binding)
		h.int(int(lb.Type))
		h.u32(lb.Count)
		h.u32(uint32(lb.Stages))
		h.int(int(b.viewTypes[i]))
		for _, s := range lb.ImmutableSamplers {
			h.u64(uint64(s))
		}
	}
	for _, bb := range b.bindless {
		h.u32(bb.set)
		h.int(int(bb.kind))
	}
	h.u32(uint32(b.push.Stages))
	h.u32(b.push.Offset)
	h.u32(b.push.Size)
	return h.sum()
}

// layoutFor returns the cached pipeline layout of a binding set,
// creating it on first use.
func (d *Device) layoutFor(b *shaderBindings) (*pipelineLayout, error) {
	hash := b.hash()

	d.layoutMu.Lock()
	defer d.layoutMu.Unlock()
	if l, ok := d.layouts[hash]; ok {
		return l, nil
	}

	setLayout, err := d.drv.CreateSetLayout(&native.SetLayoutInfo{Bindings: b.bindings})
	if err != nil {
		return nil, errors.Wrap(err, "vk.CreateDescriptorSetLayout()")
	}

	sets := []native.Handle{setLayout}
	var bindless []bindlessBinding
	for _, bb := range b.bindless {
		heap := d.alloc.heap(bb.kind)
		if heap == nil {
			d.drv.Destroy(native.KindSetLayout, setLayout)
			return nil, errors.Wrapf(gfx.ErrUnsupported, "bindless set %d", bb.set)
		}
		for uint32(len(sets)) < bb.set {
			sets = append(sets, d.emptySetLayout)
		}
		sets = append(sets, heap.layout)
		bb.handle = heap.set
		bindless = append(bindless, bb)
	}

	info := &native.PipelineLayoutInfo{SetLayouts: sets}
	if b.push.Size > 0 {
		info.PushConstants = []native.PushConstantRange{b.push}
	}
	handle, err := d.drv.CreatePipelineLayout(info)
	if err != nil {
		d.drv.Destroy(native.KindSetLayout, setLayout)
		return nil, errors.Wrap(err, "vk.CreatePipelineLayout()")
	}

	l := &pipelineLayout{
		handle:    handle,
		setLayout: setLayout,
		bindings:  b.bindings,
		viewTypes: b.viewTypes,
		push:      b.push,
		bindless:  bindless,
		hash:      hash,
	}
	d.layouts[hash] = l
	d.log.WithFields(logrus.Fields{
		"bindings": len(b.bindings),
		"bindless": len(bindless),
		"push":     b.push.Size,
	}).Debug("Pipeline layout created")
	return l, nil
}
