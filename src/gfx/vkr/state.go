// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"runtime"
	"sync/atomic"

	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

// deviceChild is the part every internal state shares.
type deviceChild struct {
	dev      *Device
	released atomic.Bool
}

// Released implements gfx.Internal.
func (c *deviceChild) Released() bool {
	return c.released.Load()
}

// markReleased reports whether this call released the state.
func (c *deviceChild) markReleased() bool {
	return c.released.CompareAndSwap(false, true)
}

// track makes the garbage collector release states whose handles were
// all dropped without Release.
func track(state gfx.Internal) {
	runtime.SetFinalizer(state, func(s gfx.Internal) { s.Release() })
}

// view is a subresource of a buffer or a texture.
type view struct {
	handle   native.Handle // image view or buffer view, Null for raw ranges
	kind     native.Kind
	bindless BindlessKind
	index    int

	offset uint64
	size   uint64

	viewType   vk.ImageViewType
	format     vk.Format
	firstMip   uint32
	mipCount   uint32
	firstSlice uint32
	sliceCount uint32
}

var noView = view{index: -1}

func (v *view) valid() bool {
	return v.handle != native.Null || v.size > 0
}

func (v *view) retire(a *allocationHandler) {
	a.retire(v.kind, v.handle)
	a.retireIndex(v.bindless, v.index)
}

// resourceState backs buffers, textures and acceleration structures.
type resourceState struct {
	deviceChild

	typ     gfx.GPUResourceType
	buffer  native.Handle
	size    uint64
	address uint64

	image      native.Handle
	ownsImage  bool
	format     vk.Format
	imageType  vk.ImageType
	mipLevels  uint32
	arraySize  uint32
	depthCount uint32
	cube       bool
	texDesc    gfx.TextureDesc

	srv, uav, rtv, dsv             view
	subSRV, subUAV, subRTV, subDSV []view

	as             native.Handle
	build          native.AccelerationStructureBuildInfo
	scratchAddress uint64
}

func newResourceState(d *Device, typ gfx.GPUResourceType) *resourceState {
	s := &resourceState{typ: typ, srv: noView, uav: noView, rtv: noView, dsv: noView}
	s.dev = d
	return s
}

// Release implements gfx.Internal.
func (s *resourceState) Release() {
	if !s.markReleased() {
		return
	}
	a := s.dev.alloc
	for _, v := range []*view{&s.srv, &s.uav, &s.rtv, &s.dsv} {
		v.retire(a)
	}
	for _, subs := range [][]view{s.subSRV, s.subUAV, s.subRTV, s.subDSV} {
		for i := range subs {
			subs[i].retire(a)
		}
	}
	a.retire(native.KindAccelerationStructure, s.as)
	if s.ownsImage {
		a.retire(native.KindImage, s.image)
	}
	a.retire(native.KindBuffer, s.buffer)
}

// subresource returns the main view of a type for index -1, a
// subresource view otherwise.
func (s *resourceState) subresource(typ gfx.SubresourceType, index int) *view {
	var main *view
	var subs []view
	switch typ {
	case gfx.SRV:
		main, subs = &s.srv, s.subSRV
	case gfx.UAV:
		main, subs = &s.uav, s.subUAV
	case gfx.RTV:
		main, subs = &s.rtv, s.subRTV
	case gfx.DSV:
		main, subs = &s.dsv, s.subDSV
	default:
		return nil
	}
	if index < 0 {
		return main
	}
	if index >= len(subs) {
		return nil
	}
	return &subs[index]
}

// addSubresource stores a view as the main view of its type, or appends
// it to the subresources once a main view exists.
func (s *resourceState) addSubresource(typ gfx.SubresourceType, v view) int {
	main := s.subresource(typ, -1)
	if !main.valid() {
		*main = v
		return -1
	}
	switch typ {
	case gfx.SRV:
		s.subSRV = append(s.subSRV, v)
		return len(s.subSRV) - 1
	case gfx.UAV:
		s.subUAV = append(s.subUAV, v)
		return len(s.subUAV) - 1
	case gfx.RTV:
		s.subRTV = append(s.subRTV, v)
		return len(s.subRTV) - 1
	default:
		s.subDSV = append(s.subDSV, v)
		return len(s.subDSV) - 1
	}
}

func resourceOf(res *gfx.GPUResource) *resourceState {
	if res == nil {
		return nil
	}
	s, _ := res.Internal.(*resourceState)
	if s == nil || s.Released() {
		return nil
	}
	return s
}

type samplerState struct {
	deviceChild
	sampler native.Handle
	index   int
}

func (s *samplerState) Release() {
	if !s.markReleased() {
		return
	}
	s.dev.alloc.retire(native.KindSampler, s.sampler)
	s.dev.alloc.retireIndex(BindlessSampler, s.index)
}

func samplerOf(smp *gfx.Sampler) *samplerState {
	if smp == nil {
		return nil
	}
	s, _ := smp.Internal.(*samplerState)
	if s == nil || s.Released() {
		return nil
	}
	return s
}

type queryHeapState struct {
	deviceChild
	pool  native.Handle
	typ   gfx.QueryType
	count uint32
}

func (s *queryHeapState) Release() {
	if s.markReleased() {
		s.dev.alloc.retire(native.KindQueryPool, s.pool)
	}
}

func queryHeapOf(h *gfx.QueryHeap) *queryHeapState {
	if h == nil {
		return nil
	}
	s, _ := h.Internal.(*queryHeapState)
	if s == nil || s.Released() {
		return nil
	}
	return s
}

type shaderState struct {
	deviceChild
	id     uint64
	stage  gfx.ShaderStage
	module native.Handle
	entry  string
	bind   shaderBindings

	// Compute and library shaders own a resolved layout, compute
	// shaders a pipeline too.
	layout   *pipelineLayout
	pipeline native.Handle
}

func (s *shaderState) Release() {
	if !s.markReleased() {
		return
	}
	s.dev.alloc.retire(native.KindPipeline, s.pipeline)
	s.dev.alloc.retire(native.KindShaderModule, s.module)
}

func shaderOf(sh *gfx.Shader) *shaderState {
	if sh == nil {
		return nil
	}
	s, _ := sh.Internal.(*shaderState)
	if s == nil || s.Released() {
		return nil
	}
	return s
}

type psoState struct {
	deviceChild
	desc   gfx.PipelineStateDesc
	hash   uint64
	layout *pipelineLayout
	stages []native.ShaderStageInfo
}

// Release implements gfx.Internal. Concrete pipelines are owned by the
// pipeline cache.
func (s *psoState) Release() {
	s.markReleased()
}

func psoOf(p *gfx.PipelineState) *psoState {
	if p == nil {
		return nil
	}
	s, _ := p.Internal.(*psoState)
	if s == nil || s.Released() {
		return nil
	}
	return s
}

type renderPassState struct {
	deviceChild
	renderPass  native.Handle
	framebuffer native.Handle
	begin       native.RenderPassBegin
	samples     uint32
	colorCount  int
	hash        uint64
	owned       bool

	// attachments keeps the textures behind the framebuffer views alive.
	attachments []*resourceState
}

func (s *renderPassState) Release() {
	if !s.markReleased() || !s.owned {
		return
	}
	s.dev.alloc.retire(native.KindFramebuffer, s.framebuffer)
	s.dev.alloc.retire(native.KindRenderPass, s.renderPass)
}

func renderPassOf(p *gfx.RenderPass) *renderPassState {
	if p == nil {
		return nil
	}
	s, _ := p.Internal.(*renderPassState)
	if s == nil || s.Released() {
		return nil
	}
	return s
}

type rtPipelineState struct {
	deviceChild
	pipeline native.Handle
	layout   *pipelineLayout
	groups   uint32
}

func (s *rtPipelineState) Release() {
	if s.markReleased() {
		s.dev.alloc.retire(native.KindPipeline, s.pipeline)
	}
}

func rtPipelineOf(p *gfx.RaytracingPipelineState) *rtPipelineState {
	if p == nil {
		return nil
	}
	s, _ := p.Internal.(*rtPipelineState)
	if s == nil || s.Released() {
		return nil
	}
	return s
}

// pipelineLayout is a resolved descriptor layout shared by every shader
// and pipeline state with the same bindings.
type pipelineLayout struct {
	handle    native.Handle
	setLayout native.Handle
	bindings  []native.SetLayoutBinding
	viewTypes []vk.ImageViewType
	push      native.PushConstantRange
	bindless  []bindlessBinding
	hash      uint64
}

// bindlessBinding is a global heap set bound at a set index above 0.
type bindlessBinding struct {
	set    uint32
	kind   BindlessKind
	handle native.Handle
}
