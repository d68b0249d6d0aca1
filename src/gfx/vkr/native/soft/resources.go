// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

type buffer struct {
	info    native.BufferInfo
	data    []byte
	address uint64
}

type image struct {
	info        native.ImageInfo
	texel       uint32
	block       uint32
	subresource [][]byte // layer * MipLevels + mip

	layoutMu sync.Mutex
	layouts  []vk.ImageLayout
}

func (img *image) extent(mip uint32) (w, h, d uint32) {
	w, h, d = img.info.Extent.Width>>mip, img.info.Extent.Height>>mip, img.info.Extent.Depth>>mip
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	if d == 0 {
		d = 1
	}
	return
}

// blocks returns the number of block columns and rows of a mip.
func (img *image) blocks(mip uint32) (cols, rows, depth uint32) {
	w, h, d := img.extent(mip)
	return (w + img.block - 1) / img.block, (h + img.block - 1) / img.block, d
}

func (img *image) sub(mip, layer uint32) []byte {
	idx := layer*img.info.MipLevels + mip
	if int(idx) >= len(img.subresource) {
		return nil
	}
	return img.subresource[idx]
}

// transition moves a subresource range to a new layout and reports the
// first subresource whose layout did not match oldLayout.
func (img *image) transition(r vk.ImageSubresourceRange, oldLayout, newLayout vk.ImageLayout) (mismatch vk.ImageLayout, ok bool) {
	img.layoutMu.Lock()
	defer img.layoutMu.Unlock()
	ok = true
	img.forEach(r, func(idx uint32) {
		if oldLayout != vk.ImageLayoutUndefined && img.layouts[idx] != oldLayout && ok {
			mismatch, ok = img.layouts[idx], false
		}
		img.layouts[idx] = newLayout
	})
	return mismatch, ok
}

func (img *image) forEach(r vk.ImageSubresourceRange, fn func(idx uint32)) {
	levels, layers := r.LevelCount, r.LayerCount
	if levels == remaining || r.BaseMipLevel+levels > img.info.MipLevels {
		levels = img.info.MipLevels - r.BaseMipLevel
	}
	if layers == remaining || r.BaseArrayLayer+layers > img.info.ArrayLayers {
		layers = img.info.ArrayLayers - r.BaseArrayLayer
	}
	for layer := r.BaseArrayLayer; layer < r.BaseArrayLayer+layers; layer++ {
		for mip := r.BaseMipLevel; mip < r.BaseMipLevel+levels; mip++ {
			fn(layer*img.info.MipLevels + mip)
		}
	}
}

// remaining is VK_REMAINING_MIP_LEVELS and VK_REMAINING_ARRAY_LAYERS.
const remaining = ^uint32(0)

type imageView struct {
	info native.ImageViewInfo
}

type bufferView struct {
	info native.BufferViewInfo
}

type sampler struct {
	info native.SamplerInfo
}

type queryPool struct {
	mu        sync.Mutex
	info      native.QueryPoolInfo
	results   []uint64
	available []bool
}

type shaderModule struct {
	code []byte
}

type setLayout struct {
	info native.SetLayoutInfo
}

type pipelineLayout struct {
	info native.PipelineLayoutInfo
}

type pipeline struct {
	point    vk.PipelineBindPoint
	graphics *native.GraphicsPipelineInfo
	compute  *native.ComputePipelineInfo
	rt       *native.RaytracingPipelineInfo
}

type renderPass struct {
	info native.RenderPassInfo
}

type framebuffer struct {
	info native.FramebufferInfo
}

type accelStruct struct {
	info    native.AccelerationStructureInfo
	address uint64
	built   int
}

type commandPool struct {
	queue native.Queue
}

// Buffer returns the content of a buffer. The slice aliases device memory.
func (d *Device) Buffer(h native.Handle) []byte {
	if b, ok := d.get(h).(*buffer); ok {
		return b.data
	}
	return nil
}

// ImageData returns the content of one image subresource. The slice
// aliases device memory.
func (d *Device) ImageData(h native.Handle, mip, layer uint32) []byte {
	if img, ok := d.get(h).(*image); ok {
		return img.sub(mip, layer)
	}
	return nil
}

// ImageLayout returns the layout the device last transitioned a
// subresource to.
func (d *Device) ImageLayout(h native.Handle, mip, layer uint32) vk.ImageLayout {
	img, ok := d.get(h).(*image)
	if !ok {
		return vk.ImageLayoutUndefined
	}
	img.layoutMu.Lock()
	defer img.layoutMu.Unlock()
	idx := layer*img.info.MipLevels + mip
	if int(idx) >= len(img.layouts) {
		return vk.ImageLayoutUndefined
	}
	return img.layouts[idx]
}

// ViewImage returns the image behind an image view.
func (d *Device) ViewImage(h native.Handle) native.Handle {
	if v, ok := d.get(h).(*imageView); ok {
		return v.info.Image
	}
	return native.Null
}

// AccelerationStructureBuilds returns how many times a structure was built.
func (d *Device) AccelerationStructureBuilds(h native.Handle) int {
	if as, ok := d.get(h).(*accelStruct); ok {
		return as.built
	}
	return 0
}

// CreateBuffer implements native.Device.
func (d *Device) CreateBuffer(info *native.BufferInfo) (native.Handle, error) {
	if info.Size == 0 {
		return native.Null, errors.New("soft: zero sized buffer")
	}
	b := &buffer{
		info:    *info,
		data:    make([]byte, info.Size),
		address: d.address(info.Size),
	}
	return d.add(native.KindBuffer, b), nil
}

// BufferAddress implements native.Device.
func (d *Device) BufferAddress(h native.Handle) uint64 {
	if b, ok := d.get(h).(*buffer); ok {
		return b.address
	}
	return 0
}

// Mapped implements native.Device.
func (d *Device) Mapped(h native.Handle) []byte {
	b, ok := d.get(h).(*buffer)
	if !ok || b.info.Memory == native.MemoryGPU {
		return nil
	}
	return b.data
}

// CreateImage implements native.Device.
func (d *Device) CreateImage(info *native.ImageInfo) (native.Handle, error) {
	if info.Extent.Width == 0 || info.Extent.Height == 0 {
		return native.Null, errors.New("soft: zero sized image")
	}
	img := &image{info: *info}
	if img.info.MipLevels == 0 {
		img.info.MipLevels = 1
	}
	if img.info.ArrayLayers == 0 {
		img.info.ArrayLayers = 1
	}
	if img.info.Extent.Depth == 0 {
		img.info.Extent.Depth = 1
	}
	img.texel, img.block = texelInfo(info.Format)
	img.subresource = make([][]byte, img.info.ArrayLayers*img.info.MipLevels)
	img.layouts = make([]vk.ImageLayout, len(img.subresource))
	for layer := uint32(0); layer < img.info.ArrayLayers; layer++ {
		for mip := uint32(0); mip < img.info.MipLevels; mip++ {
			cols, rows, depth := img.blocks(mip)
			img.subresource[layer*img.info.MipLevels+mip] = make([]byte, cols*rows*depth*img.texel)
		}
	}
	return d.add(native.KindImage, img), nil
}

// CreateImageView implements native.Device.
func (d *Device) CreateImageView(info *native.ImageViewInfo) (native.Handle, error) {
	if _, ok := d.get(info.Image).(*image); !ok {
		return native.Null, errHandle("image", info.Image)
	}
	return d.add(native.KindImageView, &imageView{info: *info}), nil
}

// CreateBufferView implements native.Device.
func (d *Device) CreateBufferView(info *native.BufferViewInfo) (native.Handle, error) {
	if _, ok := d.get(info.Buffer).(*buffer); !ok {
		return native.Null, errHandle("buffer", info.Buffer)
	}
	return d.add(native.KindBufferView, &bufferView{info: *info}), nil
}

// CreateSampler implements native.Device.
func (d *Device) CreateSampler(info *native.SamplerInfo) (native.Handle, error) {
	return d.add(native.KindSampler, &sampler{info: *info}), nil
}

// CreateQueryPool implements native.Device.
func (d *Device) CreateQueryPool(info *native.QueryPoolInfo) (native.Handle, error) {
	if info.Count == 0 {
		return native.Null, errors.New("soft: empty query pool")
	}
	qp := &queryPool{
		info:      *info,
		results:   make([]uint64, info.Count),
		available: make([]bool, info.Count),
	}
	return d.add(native.KindQueryPool, qp), nil
}

// CreateShaderModule implements native.Device.
func (d *Device) CreateShaderModule(code []byte) (native.Handle, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return native.Null, errors.New("soft: shader code must be a non empty multiple of 4 bytes")
	}
	if binary.LittleEndian.Uint32(code) != 0x07230203 {
		return native.Null, errors.New("soft: shader code is not SPIR-V")
	}
	return d.add(native.KindShaderModule, &shaderModule{code: append([]byte(nil), code...)}), nil
}

// CreateSetLayout implements native.Device.
func (d *Device) CreateSetLayout(info *native.SetLayoutInfo) (native.Handle, error) {
	cp := *info
	cp.Bindings = append([]native.SetLayoutBinding(nil), info.Bindings...)
	return d.add(native.KindSetLayout, &setLayout{info: cp}), nil
}

// CreatePipelineLayout implements native.Device.
func (d *Device) CreatePipelineLayout(info *native.PipelineLayoutInfo) (native.Handle, error) {
	for _, l := range info.SetLayouts {
		if _, ok := d.get(l).(*setLayout); !ok {
			return native.Null, errHandle("descriptor set layout", l)
		}
	}
	cp := *info
	cp.SetLayouts = append([]native.Handle(nil), info.SetLayouts...)
	return d.add(native.KindPipelineLayout, &pipelineLayout{info: cp}), nil
}

// CreateGraphicsPipeline implements native.Device.
func (d *Device) CreateGraphicsPipeline(info *native.GraphicsPipelineInfo) (native.Handle, error) {
	if _, ok := d.get(info.Layout).(*pipelineLayout); !ok {
		return native.Null, errHandle("pipeline layout", info.Layout)
	}
	if _, ok := d.get(info.RenderPass).(*renderPass); !ok {
		return native.Null, errHandle("render pass", info.RenderPass)
	}
	cp := *info
	return d.add(native.KindPipeline, &pipeline{point: vk.PipelineBindPointGraphics, graphics: &cp}), nil
}

// CreateComputePipeline implements native.Device.
func (d *Device) CreateComputePipeline(info *native.ComputePipelineInfo) (native.Handle, error) {
	if _, ok := d.get(info.Layout).(*pipelineLayout); !ok {
		return native.Null, errHandle("pipeline layout", info.Layout)
	}
	cp := *info
	return d.add(native.KindPipeline, &pipeline{point: vk.PipelineBindPointCompute, compute: &cp}), nil
}

// CreateRaytracingPipeline implements native.Device.
func (d *Device) CreateRaytracingPipeline(info *native.RaytracingPipelineInfo) (native.Handle, error) {
	if !d.props.Features.RayTracing {
		return native.Null, native.ErrUnsupported
	}
	cp := *info
	return d.add(native.KindPipeline, &pipeline{rt: &cp}), nil
}

// ShaderGroupHandles implements native.Device. The handle of group i is
// the group index followed by the pipeline handle, zero padded.
func (d *Device) ShaderGroupHandles(h native.Handle, first, count uint32, dst []byte) error {
	p, ok := d.get(h).(*pipeline)
	if !ok || p.rt == nil {
		return errHandle("ray tracing pipeline", h)
	}
	size := d.props.Limits.ShaderGroupHandleSize
	if uint32(len(dst)) < count*size {
		return errors.New("soft: shader group handle destination too small")
	}
	for i := uint32(0); i < count; i++ {
		rec := dst[i*size : (i+1)*size]
		for j := range rec {
			rec[j] = 0
		}
		binary.LittleEndian.PutUint32(rec, first+i+1)
		binary.LittleEndian.PutUint64(rec[4:], uint64(h))
	}
	return nil
}

// CreateRenderPass implements native.Device.
func (d *Device) CreateRenderPass(info *native.RenderPassInfo) (native.Handle, error) {
	cp := *info
	cp.Attachments = append([]native.AttachmentInfo(nil), info.Attachments...)
	cp.Color = append([]native.AttachmentRef(nil), info.Color...)
	cp.Resolve = append([]native.AttachmentRef(nil), info.Resolve...)
	return d.add(native.KindRenderPass, &renderPass{info: cp}), nil
}

// CreateFramebuffer implements native.Device.
func (d *Device) CreateFramebuffer(info *native.FramebufferInfo) (native.Handle, error) {
	rp, ok := d.get(info.RenderPass).(*renderPass)
	if !ok {
		return native.Null, errHandle("render pass", info.RenderPass)
	}
	if len(info.Attachments) != len(rp.info.Attachments) {
		return native.Null, errors.Newf("soft: framebuffer has %d attachments, render pass expects %d",
			len(info.Attachments), len(rp.info.Attachments))
	}
	for _, v := range info.Attachments {
		if _, ok := d.get(v).(*imageView); !ok {
			return native.Null, errHandle("image view", v)
		}
	}
	cp := *info
	cp.Attachments = append([]native.Handle(nil), info.Attachments...)
	return d.add(native.KindFramebuffer, &framebuffer{info: cp}), nil
}

// AccelerationStructureSizes implements native.Device. Sizes grow
// linearly with primitive counts, which is enough to validate layouts.
func (d *Device) AccelerationStructureSizes(info *native.AccelerationStructureBuildInfo) (native.AccelerationStructureSizes, error) {
	if !d.props.Features.RayTracing {
		return native.AccelerationStructureSizes{}, native.ErrUnsupported
	}
	var prims uint64
	for _, g := range info.Geometries {
		prims += uint64(g.PrimitiveCount)
	}
	sizes := native.AccelerationStructureSizes{
		Size:         256 + prims*64,
		BuildScratch: 128 + prims*32,
	}
	if info.Flags&native.BuildAllowUpdate != 0 {
		sizes.UpdateScratch = 128 + prims*16
	}
	return sizes, nil
}

// CreateAccelerationStructure implements native.Device.
func (d *Device) CreateAccelerationStructure(info *native.AccelerationStructureInfo) (native.Handle, error) {
	if !d.props.Features.RayTracing {
		return native.Null, native.ErrUnsupported
	}
	b, ok := d.get(info.Buffer).(*buffer)
	if !ok {
		return native.Null, errHandle("buffer", info.Buffer)
	}
	if info.Offset+info.Size > uint64(len(b.data)) {
		return native.Null, errors.New("soft: acceleration structure does not fit its buffer")
	}
	as := &accelStruct{info: *info, address: b.address + info.Offset}
	return d.add(native.KindAccelerationStructure, as), nil
}

// AccelerationStructureAddress implements native.Device.
func (d *Device) AccelerationStructureAddress(h native.Handle) uint64 {
	if as, ok := d.get(h).(*accelStruct); ok {
		return as.address
	}
	return 0
}

// CreateCommandPool implements native.Device.
func (d *Device) CreateCommandPool(q native.Queue) (native.Handle, error) {
	return d.add(native.KindCommandPool, &commandPool{queue: q}), nil
}

// ResetCommandPool implements native.Device.
func (d *Device) ResetCommandPool(h native.Handle) error {
	if _, ok := d.get(h).(*commandPool); !ok {
		return errHandle("command pool", h)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cb := range d.cmdbufs {
		if cb.pool == h {
			cb.reset()
		}
	}
	return nil
}

// AllocateCommandBuffer implements native.Device. Command buffers are
// freed with their pool.
func (d *Device) AllocateCommandBuffer(pool native.Handle) (native.CommandBuffer, error) {
	p, ok := d.get(pool).(*commandPool)
	if !ok {
		return nil, errHandle("command pool", pool)
	}
	cb := &commandBuffer{
		dev:    d,
		pool:   pool,
		queue:  p.queue,
		handle: native.Handle(atomic.AddUint64(&d.next, 1)),
	}
	d.mu.Lock()
	d.cmdbufs[cb.handle] = cb
	d.mu.Unlock()
	return cb, nil
}

func (d *Device) commandBuffer(h native.Handle) *commandBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cmdbufs[h]
}
