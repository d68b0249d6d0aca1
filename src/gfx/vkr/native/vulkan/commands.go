// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
	"github.com/sirupsen/logrus"
)

type commandPool struct {
	pool    vk.CommandPool
	buffers []*commandBuffer
}

// CreateCommandPool implements native.Device.
func (d *Device) CreateCommandPool(queue native.Queue) (native.Handle, error) {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
		QueueFamilyIndex: d.families[queue],
	}
	var pool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(d.device, &cpci, nil, &pool)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateCommandPool()")
	}
	return d.add(native.KindCommandPool, &commandPool{pool: pool}), nil
}

// ResetCommandPool implements native.Device.
func (d *Device) ResetCommandPool(h native.Handle) error {
	p, ok := d.get(h).(*commandPool)
	if !ok {
		return errors.Wrapf(native.ErrInvalidHandle, "command pool %d", h)
	}
	return resultError(vk.ResetCommandPool(d.device, p.pool, 0), "vk.ResetCommandPool()")
}

// AllocateCommandBuffer implements native.Device.
func (d *Device) AllocateCommandBuffer(h native.Handle) (native.CommandBuffer, error) {
	p, ok := d.get(h).(*commandPool)
	if !ok {
		return nil, errors.Wrapf(native.ErrInvalidHandle, "command pool %d", h)
	}
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cbs := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(d.device, &cbai, cbs)); err != nil {
		return nil, errors.Wrap(err, "vk.AllocateCommandBuffers()")
	}
	cb := &commandBuffer{
		d:      d,
		handle: native.Handle(d.nextHandle()),
		cb:     cbs[0],
	}
	d.mu.Lock()
	d.cmdbufs[cb.handle] = cb
	p.buffers = append(p.buffers, cb)
	d.mu.Unlock()
	return cb, nil
}

// commandBuffer records into a vk.CommandBuffer. Commands that need
// extensions the binding lacks are dropped and logged once per buffer.
type commandBuffer struct {
	d      *Device
	handle native.Handle
	cb     vk.CommandBuffer

	warned map[string]bool
}

func (c *commandBuffer) unsupported(cmd string) {
	if c.warned == nil {
		c.warned = make(map[string]bool)
	}
	if c.warned[cmd] {
		return
	}
	c.warned[cmd] = true
	c.d.log.WithFields(logrus.Fields{"command": cmd, "name": c.d.name(c.handle)}).Warn("Command not supported by driver")
}

func (c *commandBuffer) Handle() native.Handle {
	return c.handle
}

func (c *commandBuffer) Begin(oneTime bool) error {
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTime {
		cbbi.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	return resultError(vk.BeginCommandBuffer(c.cb, &cbbi), "vk.BeginCommandBuffer()")
}

func (c *commandBuffer) End() error {
	return resultError(vk.EndCommandBuffer(c.cb), "vk.EndCommandBuffer()")
}

func (c *commandBuffer) BeginRenderPass(info *native.RenderPassBegin) {
	pass := c.d.renderPassOf(info.RenderPass)
	if pass == nil {
		c.d.log.WithField("render pass", info.RenderPass).Error("begin of unknown render pass")
		return
	}
	fb, _ := c.d.get(info.Framebuffer).(vk.Framebuffer)
	clearValues := make([]vk.ClearValue, len(info.ClearValues))
	for i, v := range info.ClearValues {
		if i < len(pass.depth) && pass.depth[i] {
			clearValues[i].SetDepthStencil(v.Depth, v.Stencil)
		} else {
			clearValues[i].SetColor(v.Color[:])
		}
	}
	rpbi := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      pass.pass,
		Framebuffer:     fb,
		RenderArea:      info.Area,
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(c.cb, &rpbi, vk.SubpassContentsInline)
}

func (c *commandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(c.cb)
}

func (c *commandBuffer) BindPipeline(point vk.PipelineBindPoint, pipeline native.Handle) {
	if point == pipelineBindPointRayTracing {
		c.unsupported("BindPipeline(ray tracing)")
		return
	}
	vk.CmdBindPipeline(c.cb, point, c.d.pipelineOf(pipeline))
}

func (c *commandBuffer) BindDescriptorSets(point vk.PipelineBindPoint, layout native.Handle, first uint32, sets []native.Handle) {
	if point == pipelineBindPointRayTracing {
		c.unsupported("BindDescriptorSets(ray tracing)")
		return
	}
	vsets := make([]vk.DescriptorSet, len(sets))
	for i, h := range sets {
		vsets[i] = c.d.setOf(h)
	}
	vk.CmdBindDescriptorSets(c.cb, point, c.d.pipelineLayoutOf(layout), first, uint32(len(vsets)), vsets, 0, nil)
}

func (c *commandBuffer) PushConstants(layout native.Handle, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(c.cb, c.d.pipelineLayoutOf(layout), stages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (c *commandBuffer) BindVertexBuffers(first uint32, buffers []native.Handle, offsets []uint64) {
	vbufs := make([]vk.Buffer, len(buffers))
	voffs := make([]vk.DeviceSize, len(buffers))
	for i, h := range buffers {
		vbufs[i] = c.d.bufferOf(h)
		if i < len(offsets) {
			voffs[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(c.cb, first, uint32(len(vbufs)), vbufs, voffs)
}

func (c *commandBuffer) BindIndexBuffer(buffer native.Handle, offset uint64, indexType vk.IndexType) {
	vk.CmdBindIndexBuffer(c.cb, c.d.bufferOf(buffer), vk.DeviceSize(offset), indexType)
}

func (c *commandBuffer) SetViewports(first uint32, viewports []vk.Viewport) {
	if first >= c.d.viewports {
		return
	}
	viewports = viewports[:min(uint32(len(viewports)), c.d.viewports-first)]
	vk.CmdSetViewport(c.cb, first, uint32(len(viewports)), viewports)
}

func (c *commandBuffer) SetScissors(first uint32, scissors []vk.Rect2D) {
	if first >= c.d.viewports {
		return
	}
	scissors = scissors[:min(uint32(len(scissors)), c.d.viewports-first)]
	vk.CmdSetScissor(c.cb, first, uint32(len(scissors)), scissors)
}

func (c *commandBuffer) SetBlendConstants(constants [4]float32) {
	vk.CmdSetBlendConstants(c.cb, &constants)
}

func (c *commandBuffer) SetStencilReference(reference uint32) {
	vk.CmdSetStencilReference(c.cb, vk.StencilFaceFlags(vk.StencilFrontAndBack), reference)
}

func (c *commandBuffer) SetFragmentShadingRate(width, height uint32) {
	c.unsupported("SetFragmentShadingRate")
}

func (c *commandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(c.cb, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *commandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(c.cb, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c *commandBuffer) DrawIndirect(buffer native.Handle, offset uint64, drawCount, stride uint32) {
	vk.CmdDrawIndirect(c.cb, c.d.bufferOf(buffer), vk.DeviceSize(offset), drawCount, stride)
}

func (c *commandBuffer) DrawIndexedIndirect(buffer native.Handle, offset uint64, drawCount, stride uint32) {
	vk.CmdDrawIndexedIndirect(c.cb, c.d.bufferOf(buffer), vk.DeviceSize(offset), drawCount, stride)
}

func (c *commandBuffer) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(c.cb, x, y, z)
}

func (c *commandBuffer) DispatchIndirect(buffer native.Handle, offset uint64) {
	vk.CmdDispatchIndirect(c.cb, c.d.bufferOf(buffer), vk.DeviceSize(offset))
}

func (c *commandBuffer) DrawMeshTasks(x, y, z uint32) {
	c.unsupported("DrawMeshTasks")
}

func (c *commandBuffer) DrawMeshTasksIndirect(buffer native.Handle, offset uint64, drawCount, stride uint32) {
	c.unsupported("DrawMeshTasksIndirect")
}

func (c *commandBuffer) TraceRays(info *native.TraceRaysInfo) {
	c.unsupported("TraceRays")
}

func (c *commandBuffer) CopyBuffer(src, dst native.Handle, regions []vk.BufferCopy) {
	vk.CmdCopyBuffer(c.cb, c.d.bufferOf(src), c.d.bufferOf(dst), uint32(len(regions)), regions)
}

func (c *commandBuffer) CopyImage(src native.Handle, srcLayout vk.ImageLayout, dst native.Handle, dstLayout vk.ImageLayout, regions []vk.ImageCopy) {
	vk.CmdCopyImage(c.cb, c.d.imageOf(src), srcLayout, c.d.imageOf(dst), dstLayout, uint32(len(regions)), regions)
}

func (c *commandBuffer) CopyBufferToImage(src, dst native.Handle, dstLayout vk.ImageLayout, regions []vk.BufferImageCopy) {
	vk.CmdCopyBufferToImage(c.cb, c.d.bufferOf(src), c.d.imageOf(dst), dstLayout, uint32(len(regions)), regions)
}

func (c *commandBuffer) CopyImageToBuffer(src native.Handle, srcLayout vk.ImageLayout, dst native.Handle, regions []vk.BufferImageCopy) {
	vk.CmdCopyImageToBuffer(c.cb, c.d.imageOf(src), srcLayout, c.d.bufferOf(dst), uint32(len(regions)), regions)
}

// supportedStages drops stages of extensions the binding lacks.
func supportedStages(s vk.PipelineStageFlags) vk.PipelineStageFlags {
	const ext = vk.PipelineStageFlags(stageAccelerationStructureBuild | stageRayTracingShader |
		stageConditionalRendering | stageTaskShader | stageMeshShader)
	if s &^= ext; s == 0 {
		return vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	return s
}

func supportedAccess(a vk.AccessFlags) vk.AccessFlags {
	const ext = vk.AccessFlags(accessAccelerationStructureRead | accessAccelerationStructureWrite |
		accessConditionalRenderingRead)
	return a &^ ext
}

func (c *commandBuffer) PipelineBarrier(b *native.Barrier) {
	memory := make([]vk.MemoryBarrier, len(b.Memory))
	for i, m := range b.Memory {
		memory[i] = vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: supportedAccess(m.SrcAccess),
			DstAccessMask: supportedAccess(m.DstAccess),
		}
	}
	buffers := make([]vk.BufferMemoryBarrier, 0, len(b.Buffers))
	for _, bb := range b.Buffers {
		buf := c.d.bufferOf(bb.Buffer)
		if buf == nil {
			continue
		}
		size := vk.DeviceSize(bb.Size)
		if size == 0 {
			size = vk.DeviceSize(vk.WholeSize)
		}
		buffers = append(buffers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       supportedAccess(bb.SrcAccess),
			DstAccessMask:       supportedAccess(bb.DstAccess),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              buf,
			Offset:              vk.DeviceSize(bb.Offset),
			Size:                size,
		})
	}
	images := make([]vk.ImageMemoryBarrier, 0, len(b.Images))
	for _, ib := range b.Images {
		img := c.d.imageOf(ib.Image)
		if img == nil {
			continue
		}
		newLayout := ib.NewLayout
		if newLayout == imageLayoutShadingRate {
			newLayout = vk.ImageLayoutGeneral
		}
		images = append(images, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       supportedAccess(ib.SrcAccess),
			DstAccessMask:       supportedAccess(ib.DstAccess),
			OldLayout:           ib.OldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img,
			SubresourceRange:    ib.Range,
		})
	}
	vk.CmdPipelineBarrier(c.cb, supportedStages(b.SrcStage), supportedStages(b.DstStage), 0,
		uint32(len(memory)), memory,
		uint32(len(buffers)), buffers,
		uint32(len(images)), images)
}

func (c *commandBuffer) BeginQuery(pool native.Handle, query uint32, precise bool) {
	var flags vk.QueryControlFlags
	if precise {
		flags = vk.QueryControlFlags(vk.QueryControlPreciseBit)
	}
	vk.CmdBeginQuery(c.cb, c.d.queryPoolOf(pool), query, flags)
}

func (c *commandBuffer) EndQuery(pool native.Handle, query uint32) {
	vk.CmdEndQuery(c.cb, c.d.queryPoolOf(pool), query)
}

func (c *commandBuffer) WriteTimestamp(stage vk.PipelineStageFlagBits, pool native.Handle, query uint32) {
	vk.CmdWriteTimestamp(c.cb, stage, c.d.queryPoolOf(pool), query)
}

func (c *commandBuffer) ResetQueryPool(pool native.Handle, first, count uint32) {
	vk.CmdResetQueryPool(c.cb, c.d.queryPoolOf(pool), first, count)
}

func (c *commandBuffer) CopyQueryPoolResults(pool native.Handle, first, count uint32, dst native.Handle, offset, stride uint64, flags vk.QueryResultFlags) {
	vk.CmdCopyQueryPoolResults(c.cb, c.d.queryPoolOf(pool), first, count, c.d.bufferOf(dst),
		vk.DeviceSize(offset), vk.DeviceSize(stride), flags)
}

func (c *commandBuffer) BuildAccelerationStructure(info *native.AccelerationStructureBuildInfo) {
	c.unsupported("BuildAccelerationStructure")
}

func (c *commandBuffer) BeginConditionalRendering(buffer native.Handle, offset uint64, inverted bool) {
	c.unsupported("BeginConditionalRendering")
}

func (c *commandBuffer) EndConditionalRendering() {}

// BeginLabel logs at trace level, the binding has no debug labels.
func (c *commandBuffer) BeginLabel(name string) {
	c.d.log.WithField("label", name).Trace("Begin label")
}

func (c *commandBuffer) EndLabel() {}

func (c *commandBuffer) InsertLabel(name string) {
	c.d.log.WithField("label", name).Trace("Label")
}
