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

const maxViewports = 16

// RenderPassBegin implements gfx.Device.
func (d *Device) RenderPassBegin(cmd gfx.CommandList, pass *gfx.RenderPass) {
	l := d.list(cmd)
	if l == nil || !l.outsideRenderPass("RenderPassBegin") {
		return
	}
	rp := renderPassOf(pass)
	if rp == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "render pass"))
		return
	}
	l.cb.BeginRenderPass(&rp.begin)
	l.renderPass = rp
	l.psoDirty = true
}

// RenderPassEnd implements gfx.Device.
func (d *Device) RenderPassEnd(cmd gfx.CommandList) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	if l.renderPass == nil {
		l.fail(errors.Wrap(gfx.ErrInvalidCommandList, "no render pass to end"))
		return
	}
	l.cb.EndRenderPass()
	l.renderPass = nil
}

// BindScissorRects implements gfx.Device.
func (d *Device) BindScissorRects(cmd gfx.CommandList, rects []gfx.Rect) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	if len(rects) > maxViewports {
		rects = rects[:maxViewports]
	}
	scissors := make([]vk.Rect2D, len(rects))
	for i, r := range rects {
		scissors[i] = vk.Rect2D{
			Offset: vk.Offset2D{X: r.Left, Y: r.Top},
			Extent: vk.Extent2D{Width: span(r.Left, r.Right), Height: span(r.Top, r.Bottom)},
		}
	}
	l.cb.SetScissors(0, scissors)
}

func span(from, to int32) uint32 {
	if to <= from {
		return 0
	}
	return uint32(to - from)
}

// BindViewports implements gfx.Device. Viewports are flipped vertically
// so that clip space Y points up.
func (d *Device) BindViewports(cmd gfx.CommandList, viewports []gfx.Viewport) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	if len(viewports) > maxViewports {
		viewports = viewports[:maxViewports]
	}
	vps := make([]vk.Viewport, len(viewports))
	for i, v := range viewports {
		vps[i] = vk.Viewport{
			X:        v.TopLeftX,
			Y:        v.TopLeftY + v.Height,
			Width:    v.Width,
			Height:   -v.Height,
			MinDepth: v.MinDepth,
			MaxDepth: v.MaxDepth,
		}
	}
	l.cb.SetViewports(0, vps)
}

// BindResource implements gfx.Device.
func (d *Device) BindResource(cmd gfx.CommandList, res *gfx.GPUResource, slot uint32, subresource int) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	if slot >= srvCount {
		l.fail(errors.Wrapf(gfx.ErrInvalidBinding, "resource slot %d", slot))
		return
	}
	l.binder.bindSRV(resourceOf(res), slot, subresource)
}

// BindUAV implements gfx.Device.
func (d *Device) BindUAV(cmd gfx.CommandList, res *gfx.GPUResource, slot uint32, subresource int) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	if slot >= uavCount {
		l.fail(errors.Wrapf(gfx.ErrInvalidBinding, "UAV slot %d", slot))
		return
	}
	l.binder.bindUAV(resourceOf(res), slot, subresource)
}

// BindSampler implements gfx.Device.
func (d *Device) BindSampler(cmd gfx.CommandList, sampler *gfx.Sampler, slot uint32) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	if slot >= samplerCount {
		l.fail(errors.Wrapf(gfx.ErrInvalidBinding, "sampler slot %d", slot))
		return
	}
	l.binder.bindSampler(samplerOf(sampler), slot)
}

// BindConstantBuffer implements gfx.Device.
func (d *Device) BindConstantBuffer(cmd gfx.CommandList, buf *gfx.GPUBuffer, slot uint32, offset uint64) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	if slot >= cbvCount {
		l.fail(errors.Wrapf(gfx.ErrInvalidBinding, "constant buffer slot %d", slot))
		return
	}
	var s *resourceState
	if buf != nil {
		s = resourceOf(&buf.GPUResource)
	}
	l.binder.bindCBV(s, slot, offset)
}

// BindVertexBuffers implements gfx.Device. Changed strides select a
// different pipeline on the next draw.
func (d *Device) BindVertexBuffers(cmd gfx.CommandList, slot uint32, buffers []*gfx.GPUBuffer, strides []uint32, offsets []uint64) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	if int(slot)+len(buffers) > maxVertexBuffers {
		l.fail(errors.Wrapf(gfx.ErrInvalidBinding, "vertex buffers %d..%d", slot, int(slot)+len(buffers)-1))
		return
	}
	handles := make([]native.Handle, len(buffers))
	offs := make([]uint64, len(buffers))
	changed := false
	for i, buf := range buffers {
		handles[i] = d.null.buffer
		if buf != nil {
			if s := resourceOf(&buf.GPUResource); s != nil {
				handles[i] = s.buffer
			}
		}
		if i < len(offsets) {
			offs[i] = offsets[i]
		}
		if i < len(strides) && l.strides[int(slot)+i] != strides[i] {
			l.strides[int(slot)+i] = strides[i]
			changed = true
		}
	}
	if changed {
		l.strideHash = hashStrides(&l.strides)
		l.psoDirty = true
	}
	if len(handles) > 0 {
		l.cb.BindVertexBuffers(slot, handles, offs)
	}
}

// BindIndexBuffer implements gfx.Device.
func (d *Device) BindIndexBuffer(cmd gfx.CommandList, buf *gfx.GPUBuffer, format gfx.IndexBufferFormat, offset uint64) {
	l := d.list(cmd)
	if l == nil || buf == nil {
		return
	}
	s := resourceOf(&buf.GPUResource)
	if s == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "index buffer"))
		return
	}
	l.cb.BindIndexBuffer(s.buffer, offset, convertIndexFormat(format))
}

// BindStencilRef implements gfx.Device.
func (d *Device) BindStencilRef(cmd gfx.CommandList, ref uint32) {
	if l := d.list(cmd); l != nil {
		l.cb.SetStencilReference(ref)
	}
}

// BindBlendFactor implements gfx.Device.
func (d *Device) BindBlendFactor(cmd gfx.CommandList, r, g, b, a float32) {
	if l := d.list(cmd); l != nil {
		l.cb.SetBlendConstants([4]float32{r, g, b, a})
	}
}

// BindShadingRate implements gfx.Device. It does nothing without
// variable rate shading.
func (d *Device) BindShadingRate(cmd gfx.CommandList, rate gfx.ShadingRate) {
	l := d.list(cmd)
	if l == nil || !d.CheckCapability(gfx.CapVariableRateShading) {
		return
	}
	l.cb.SetFragmentShadingRate(convertShadingRate(rate))
}

// BindPipelineState implements gfx.Device. The concrete pipeline is
// resolved on the next draw.
func (d *Device) BindPipelineState(cmd gfx.CommandList, pso *gfx.PipelineState) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	s := psoOf(pso)
	if s == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "pipeline state"))
		return
	}
	if l.pso == s {
		return
	}
	l.pso = s
	l.pushLayout = s.layout
	l.psoDirty = true
}

// BindComputeShader implements gfx.Device.
func (d *Device) BindComputeShader(cmd gfx.CommandList, cs *gfx.Shader) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	s := shaderOf(cs)
	if s == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "compute shader"))
		return
	}
	if s.stage != gfx.ShaderStageCS || s.pipeline == native.Null {
		l.fail(errors.Wrapf(gfx.ErrInvalidBinding, "%s shader bound as compute shader", s.stage))
		return
	}
	l.pushLayout = s.layout
	if l.cs == s {
		return
	}
	l.cs = s
	l.cb.BindPipeline(vk.PipelineBindPointCompute, s.pipeline)
}

// BindRaytracingPipelineState implements gfx.Device.
func (d *Device) BindRaytracingPipelineState(cmd gfx.CommandList, rtpso *gfx.RaytracingPipelineState) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	s := rtPipelineOf(rtpso)
	if s == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "ray tracing pipeline state"))
		return
	}
	l.pushLayout = s.layout
	if l.rt == s {
		return
	}
	l.rt = s
	l.cb.BindPipeline(pipelineBindPointRayTracing, s.pipeline)
}

// predraw binds the pipeline and the descriptors a draw needs.
func (l *commandList) predraw() bool {
	if err := l.validatePipeline(); err != nil {
		l.fail(err)
		return false
	}
	if err := l.binder.flush(l, bindGraphics, l.pso.layout); err != nil {
		l.fail(err)
		return false
	}
	return true
}

func (l *commandList) predispatch() bool {
	if !l.outsideRenderPass("Dispatch") {
		return false
	}
	if l.cs == nil {
		l.fail(errors.Wrap(gfx.ErrInvalidCommandList, "no compute shader bound"))
		return false
	}
	if err := l.binder.flush(l, bindCompute, l.cs.layout); err != nil {
		l.fail(err)
		return false
	}
	return true
}

// indirectArgs resolves the buffer of an indirect command.
func (l *commandList) indirectArgs(args *gfx.GPUBuffer) native.Handle {
	var s *resourceState
	if args != nil {
		s = resourceOf(&args.GPUResource)
	}
	if s == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "indirect argument buffer"))
		return native.Null
	}
	return s.buffer
}

// Draw implements gfx.Device.
func (d *Device) Draw(cmd gfx.CommandList, vertexCount, startVertex uint32) {
	if l := d.list(cmd); l != nil && l.predraw() {
		l.cb.Draw(vertexCount, 1, startVertex, 0)
	}
}

// DrawIndexed implements gfx.Device.
func (d *Device) DrawIndexed(cmd gfx.CommandList, indexCount, startIndex uint32, baseVertex int32) {
	if l := d.list(cmd); l != nil && l.predraw() {
		l.cb.DrawIndexed(indexCount, 1, startIndex, baseVertex, 0)
	}
}

// DrawInstanced implements gfx.Device.
func (d *Device) DrawInstanced(cmd gfx.CommandList, vertexCount, instanceCount, startVertex, startInstance uint32) {
	if l := d.list(cmd); l != nil && l.predraw() {
		l.cb.Draw(vertexCount, instanceCount, startVertex, startInstance)
	}
}

// DrawIndexedInstanced implements gfx.Device.
func (d *Device) DrawIndexedInstanced(cmd gfx.CommandList, indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	if l := d.list(cmd); l != nil && l.predraw() {
		l.cb.DrawIndexed(indexCount, instanceCount, startIndex, baseVertex, startInstance)
	}
}

// DrawInstancedIndirect implements gfx.Device.
func (d *Device) DrawInstancedIndirect(cmd gfx.CommandList, args *gfx.GPUBuffer, offset uint64) {
	l := d.list(cmd)
	if l == nil || !l.predraw() {
		return
	}
	if buf := l.indirectArgs(args); buf != native.Null {
		l.cb.DrawIndirect(buf, offset, 1, 0)
	}
}

// DrawIndexedInstancedIndirect implements gfx.Device.
func (d *Device) DrawIndexedInstancedIndirect(cmd gfx.CommandList, args *gfx.GPUBuffer, offset uint64) {
	l := d.list(cmd)
	if l == nil || !l.predraw() {
		return
	}
	if buf := l.indirectArgs(args); buf != native.Null {
		l.cb.DrawIndexedIndirect(buf, offset, 1, 0)
	}
}

// Dispatch implements gfx.Device.
func (d *Device) Dispatch(cmd gfx.CommandList, x, y, z uint32) {
	if l := d.list(cmd); l != nil && l.predispatch() {
		l.cb.Dispatch(x, y, z)
	}
}

// DispatchIndirect implements gfx.Device.
func (d *Device) DispatchIndirect(cmd gfx.CommandList, args *gfx.GPUBuffer, offset uint64) {
	l := d.list(cmd)
	if l == nil || !l.predispatch() {
		return
	}
	if buf := l.indirectArgs(args); buf != native.Null {
		l.cb.DispatchIndirect(buf, offset)
	}
}

// DispatchMesh implements gfx.Device. The bound pipeline state must
// hold a mesh shader.
func (d *Device) DispatchMesh(cmd gfx.CommandList, x, y, z uint32) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	if !d.CheckCapability(gfx.CapMeshShader) {
		l.fail(errors.Wrap(gfx.ErrUnsupported, "mesh shaders"))
		return
	}
	if l.predraw() {
		l.cb.DrawMeshTasks(x, y, z)
	}
}

// DispatchMeshIndirect implements gfx.Device.
func (d *Device) DispatchMeshIndirect(cmd gfx.CommandList, args *gfx.GPUBuffer, offset uint64) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	if !d.CheckCapability(gfx.CapMeshShader) {
		l.fail(errors.Wrap(gfx.ErrUnsupported, "mesh shaders"))
		return
	}
	if !l.predraw() {
		return
	}
	if buf := l.indirectArgs(args); buf != native.Null {
		l.cb.DrawMeshTasksIndirect(buf, offset, 1, 0)
	}
}

// PushConstants implements gfx.Device. The data goes to the push
// constant range of the last bound pipeline state, compute shader or
// ray tracing pipeline.
func (d *Device) PushConstants(cmd gfx.CommandList, data []byte) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	layout := l.pushLayout
	if layout == nil || layout.push.Size == 0 {
		l.fail(errors.Wrap(gfx.ErrInvalidBinding, "no push constants in the bound pipeline"))
		return
	}
	if uint32(len(data)) > layout.push.Size {
		l.fail(errors.Wrapf(gfx.ErrInvalidBinding, "%d bytes of push constants, the pipeline takes %d", len(data), layout.push.Size))
		return
	}
	l.cb.PushConstants(layout.handle, layout.push.Stages, layout.push.Offset, data)
}

// copyAspect is the single aspect copied for a format.
func copyAspect(f gfx.Format) vk.ImageAspectFlags {
	if isFormatDepthSupport(f) {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

// CopyResource implements gfx.Device. Textures are copied into and out
// of upload and readback textures as tightly packed subresources. The
// source must be in the copy source state and the destination in the
// copy destination state.
func (d *Device) CopyResource(cmd gfx.CommandList, dst, src *gfx.GPUResource) {
	l := d.list(cmd)
	if l == nil || !l.outsideRenderPass("CopyResource") {
		return
	}
	ds, ss := resourceOf(dst), resourceOf(src)
	if ds == nil || ss == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "copy resource"))
		return
	}

	switch {
	case ds.image == native.Null && ss.image == native.Null:
		size := ds.size
		if ss.size < size {
			size = ss.size
		}
		l.cb.CopyBuffer(ss.buffer, ds.buffer, []vk.BufferCopy{{Size: vk.DeviceSize(size)}})

	case ds.image != native.Null && ss.image == native.Null:
		desc := &ds.texDesc
		l.cb.CopyBufferToImage(ss.buffer, ds.image, vk.ImageLayoutTransferDstOptimal,
			subresourceCopies(desc, desc.ArraySize, desc.MipLevels, copyAspect(desc.Format)))

	case ds.image == native.Null && ss.image != native.Null:
		desc := &ss.texDesc
		l.cb.CopyImageToBuffer(ss.image, vk.ImageLayoutTransferSrcOptimal, ds.buffer,
			subresourceCopies(desc, desc.ArraySize, desc.MipLevels, copyAspect(desc.Format)))

	default:
		desc := &ss.texDesc
		layers := minU32(ds.arraySize, ss.arraySize)
		mips := minU32(ds.mipLevels, ss.mipLevels)
		aspect := copyAspect(desc.Format)
		regions := make([]vk.ImageCopy, 0, layers*mips)
		for layer := uint32(0); layer < layers; layer++ {
			for mip := uint32(0); mip < mips; mip++ {
				w, h, depth, _, _ := mipExtent(desc, mip)
				sub := vk.ImageSubresourceLayers{
					AspectMask:     aspect,
					MipLevel:       mip,
					BaseArrayLayer: layer,
					LayerCount:     1,
				}
				regions = append(regions, vk.ImageCopy{
					SrcSubresource: sub,
					DstSubresource: sub,
					Extent:         vk.Extent3D{Width: w, Height: h, Depth: depth},
				})
			}
		}
		l.cb.CopyImage(ss.image, vk.ImageLayoutTransferSrcOptimal, ds.image, vk.ImageLayoutTransferDstOptimal, regions)
	}
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// CopyBuffer implements gfx.Device.
func (d *Device) CopyBuffer(cmd gfx.CommandList, dst *gfx.GPUBuffer, dstOffset uint64, src *gfx.GPUBuffer, srcOffset, size uint64) {
	l := d.list(cmd)
	if l == nil || !l.outsideRenderPass("CopyBuffer") {
		return
	}
	if dst == nil || src == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "copy buffer"))
		return
	}
	ds, ss := resourceOf(&dst.GPUResource), resourceOf(&src.GPUResource)
	if ds == nil || ss == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "copy buffer"))
		return
	}
	if dstOffset+size > ds.size || srcOffset+size > ss.size {
		l.fail(errors.Wrapf(gfx.ErrInvalidDesc, "copy of %d bytes out of range", size))
		return
	}
	l.cb.CopyBuffer(ss.buffer, ds.buffer, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

// UpdateBuffer implements gfx.Device. Mapped buffers are written
// directly; the rest are copied from the list's upload ring and made
// visible to every later command.
func (d *Device) UpdateBuffer(cmd gfx.CommandList, buf *gfx.GPUBuffer, data []byte, offset uint64) {
	l := d.list(cmd)
	if l == nil || len(data) == 0 {
		return
	}
	if buf == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "update buffer"))
		return
	}
	s := resourceOf(&buf.GPUResource)
	if s == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "update buffer"))
		return
	}
	size := uint64(len(data))
	if offset+size > s.size {
		l.fail(errors.Wrapf(gfx.ErrInvalidDesc, "update of %d bytes at %d into a %d byte buffer", size, offset, s.size))
		return
	}
	if buf.Mapped != nil {
		copy(buf.Mapped[offset:], data)
		return
	}
	if !l.outsideRenderPass("UpdateBuffer") {
		return
	}

	upload, at, mem, err := l.frame.upload.allocate(d, size)
	if err != nil {
		l.fail(err)
		return
	}
	copy(mem, data)
	l.cb.CopyBuffer(upload, s.buffer, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(at),
		DstOffset: vk.DeviceSize(offset),
		Size:      vk.DeviceSize(size),
	}})
	l.cb.PipelineBarrier(&native.Barrier{
		SrcStage: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		DstStage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		Memory: []native.MemoryBarrier{{
			SrcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccess: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		}},
	})
}

// PredicationBegin implements gfx.Device. It does nothing without
// conditional rendering.
func (d *Device) PredicationBegin(cmd gfx.CommandList, buf *gfx.GPUBuffer, offset uint64, op gfx.PredicationOp) {
	l := d.list(cmd)
	if l == nil || !d.CheckCapability(gfx.CapPredication) {
		return
	}
	var s *resourceState
	if buf != nil {
		s = resourceOf(&buf.GPUResource)
	}
	if s == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "predication buffer"))
		return
	}
	if l.predicated {
		l.cb.EndConditionalRendering()
	}
	l.cb.BeginConditionalRendering(s.buffer, offset, op == gfx.PredicationNotEqualZero)
	l.predicated = true
}

// PredicationEnd implements gfx.Device.
func (d *Device) PredicationEnd(cmd gfx.CommandList) {
	l := d.list(cmd)
	if l == nil || !l.predicated {
		return
	}
	l.cb.EndConditionalRendering()
	l.predicated = false
}
