// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
	"github.com/sirupsen/logrus"
)

// Stats counts executed work.
type Stats struct {
	Draws          int
	Dispatches     int
	MeshDispatches int
	TraceRays      int
	Predicated     int
	RenderPasses   int
	Barriers       int
	Copies         int
	Builds         int
	Labels         []string
	LayoutErrors   int
}

type statsBox struct {
	mu sync.Mutex
	s  Stats
}

func (b *statsBox) update(fn func(*Stats)) {
	b.mu.Lock()
	fn(&b.s)
	b.mu.Unlock()
}

// Stats returns the work counters accumulated so far.
func (d *Device) Stats() Stats {
	d.stats.mu.Lock()
	defer d.stats.mu.Unlock()
	s := d.stats.s
	s.Labels = append([]string(nil), s.Labels...)
	return s
}

type queryKey struct {
	pool  native.Handle
	query uint32
}

// execState is the state of one command buffer execution.
type execState struct {
	pipeline    bool
	skip        bool
	renderPass  *renderPass
	framebuffer *framebuffer
	occlusion   map[queryKey]uint64
}

type op func(d *Device, st *execState)

type commandBuffer struct {
	dev       *Device
	pool      native.Handle
	queue     native.Queue
	handle    native.Handle
	recording bool
	oneTime   bool
	ops       []op
}

func (cb *commandBuffer) reset() {
	cb.ops = cb.ops[:0]
	cb.recording = false
}

func (cb *commandBuffer) record(o op) {
	if !cb.recording {
		cb.dev.log.WithField("commandbuffer", cb.handle).Error("command recorded outside Begin/End")
		return
	}
	cb.ops = append(cb.ops, o)
}

func (cb *commandBuffer) execute() {
	st := &execState{occlusion: make(map[queryKey]uint64)}
	for _, o := range cb.ops {
		o(cb.dev, st)
	}
	if cb.oneTime {
		cb.ops = nil
	}
}

// Handle implements native.CommandBuffer.
func (cb *commandBuffer) Handle() native.Handle { return cb.handle }

// Begin implements native.CommandBuffer.
func (cb *commandBuffer) Begin(oneTime bool) error {
	if cb.recording {
		return errors.New("soft: command buffer already recording")
	}
	cb.ops = cb.ops[:0]
	cb.oneTime = oneTime
	cb.recording = true
	return nil
}

// End implements native.CommandBuffer.
func (cb *commandBuffer) End() error {
	if !cb.recording {
		return errors.New("soft: command buffer is not recording")
	}
	cb.recording = false
	return nil
}

// BeginRenderPass implements native.CommandBuffer. Attachments with a
// clear load op are cleared over the whole view.
func (cb *commandBuffer) BeginRenderPass(info *native.RenderPassBegin) {
	rpHandle, fbHandle := info.RenderPass, info.Framebuffer
	clears := append([]native.ClearValue(nil), info.ClearValues...)
	cb.record(func(d *Device, st *execState) {
		rp, ok := d.get(rpHandle).(*renderPass)
		fb, fok := d.get(fbHandle).(*framebuffer)
		if !ok || !fok {
			d.log.WithFields(logrus.Fields{"renderpass": rpHandle, "framebuffer": fbHandle}).
				Error("render pass begin with unknown objects")
			return
		}
		st.renderPass, st.framebuffer = rp, fb
		d.stats.update(func(s *Stats) { s.RenderPasses++ })
		for i, att := range rp.info.Attachments {
			view, ok := d.get(fb.info.Attachments[i]).(*imageView)
			if !ok {
				continue
			}
			img, ok := d.get(view.info.Image).(*image)
			if !ok {
				continue
			}
			if _, ok := img.transition(view.info.Range, att.InitialLayout, subpassLayout(&rp.info, uint32(i))); !ok {
				d.stats.update(func(s *Stats) { s.LayoutErrors++ })
			}
			if att.LoadOp != vk.AttachmentLoadOpClear || i >= len(clears) {
				continue
			}
			var texel []byte
			if isDepthFormat(img.info.Format) {
				texel = encodeDepth(img.info.Format, clears[i].Depth, clears[i].Stencil)
			} else {
				texel = encodeColor(img.info.Format, clears[i].Color)
			}
			img.forEach(view.info.Range, func(idx uint32) {
				fill(img.subresource[idx], texel)
			})
		}
	})
}

func subpassLayout(rp *native.RenderPassInfo, attachment uint32) vk.ImageLayout {
	for _, r := range rp.Color {
		if r.Attachment == attachment {
			return r.Layout
		}
	}
	for _, r := range rp.Resolve {
		if r.Attachment == attachment {
			return r.Layout
		}
	}
	if rp.DepthStencil != nil && rp.DepthStencil.Attachment == attachment {
		return rp.DepthStencil.Layout
	}
	if rp.ShadingRate != nil && rp.ShadingRate.Attachment == attachment {
		return rp.ShadingRate.Layout
	}
	return rp.Attachments[attachment].InitialLayout
}

// EndRenderPass implements native.CommandBuffer. Multisampled color
// attachments are resolved by copying sample zero.
func (cb *commandBuffer) EndRenderPass() {
	cb.record(func(d *Device, st *execState) {
		rp, fb := st.renderPass, st.framebuffer
		st.renderPass, st.framebuffer = nil, nil
		if rp == nil {
			d.log.Error("render pass end without begin")
			return
		}
		for i, r := range rp.info.Resolve {
			if r.Attachment == native.AttachmentUnused || i >= len(rp.info.Color) {
				continue
			}
			src := d.viewSubresources(fb.info.Attachments[rp.info.Color[i].Attachment])
			dst := d.viewSubresources(fb.info.Attachments[r.Attachment])
			for j := 0; j < len(src) && j < len(dst); j++ {
				copy(dst[j], src[j])
			}
		}
		for i, att := range rp.info.Attachments {
			view, ok := d.get(fb.info.Attachments[i]).(*imageView)
			if !ok {
				continue
			}
			if img, ok := d.get(view.info.Image).(*image); ok {
				img.transition(view.info.Range, vk.ImageLayoutUndefined, att.FinalLayout)
			}
		}
	})
}

func (d *Device) viewSubresources(h native.Handle) [][]byte {
	view, ok := d.get(h).(*imageView)
	if !ok {
		return nil
	}
	img, ok := d.get(view.info.Image).(*image)
	if !ok {
		return nil
	}
	var out [][]byte
	img.forEach(view.info.Range, func(idx uint32) {
		out = append(out, img.subresource[idx])
	})
	return out
}

// BindPipeline implements native.CommandBuffer.
func (cb *commandBuffer) BindPipeline(point vk.PipelineBindPoint, h native.Handle) {
	cb.record(func(d *Device, st *execState) {
		_, st.pipeline = d.get(h).(*pipeline)
	})
}

// BindDescriptorSets implements native.CommandBuffer.
func (cb *commandBuffer) BindDescriptorSets(point vk.PipelineBindPoint, layout native.Handle, first uint32, sets []native.Handle) {
}

// PushConstants implements native.CommandBuffer.
func (cb *commandBuffer) PushConstants(layout native.Handle, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	if offset+uint32(len(data)) > cb.dev.props.Limits.MaxPushConstantsSize {
		cb.dev.log.WithField("size", offset+uint32(len(data))).Error("push constants exceed device limit")
	}
}

// BindVertexBuffers implements native.CommandBuffer.
func (cb *commandBuffer) BindVertexBuffers(first uint32, buffers []native.Handle, offsets []uint64) {}

// BindIndexBuffer implements native.CommandBuffer.
func (cb *commandBuffer) BindIndexBuffer(buffer native.Handle, offset uint64, indexType vk.IndexType) {
}

// SetViewports implements native.CommandBuffer.
func (cb *commandBuffer) SetViewports(first uint32, viewports []vk.Viewport) {}

// SetScissors implements native.CommandBuffer.
func (cb *commandBuffer) SetScissors(first uint32, scissors []vk.Rect2D) {}

// SetBlendConstants implements native.CommandBuffer.
func (cb *commandBuffer) SetBlendConstants(constants [4]float32) {}

// SetStencilReference implements native.CommandBuffer.
func (cb *commandBuffer) SetStencilReference(reference uint32) {}

// SetFragmentShadingRate implements native.CommandBuffer.
func (cb *commandBuffer) SetFragmentShadingRate(width, height uint32) {}

// draw records a draw that produces samples for active occlusion queries.
func (cb *commandBuffer) draw(samples uint64, count func(*Stats)) {
	cb.record(func(d *Device, st *execState) {
		if st.skip {
			d.stats.update(func(s *Stats) { s.Predicated++ })
			return
		}
		if !st.pipeline {
			d.log.Error("draw without a bound pipeline")
		}
		for k := range st.occlusion {
			st.occlusion[k] += samples
		}
		d.stats.update(count)
	})
}

func countDraw(s *Stats)     { s.Draws++ }
func countDispatch(s *Stats) { s.Dispatches++ }
func countMesh(s *Stats)     { s.MeshDispatches++ }

// Draw implements native.CommandBuffer.
func (cb *commandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	cb.draw(uint64(vertexCount)*uint64(instanceCount), countDraw)
}

// DrawIndexed implements native.CommandBuffer.
func (cb *commandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	cb.draw(uint64(indexCount)*uint64(instanceCount), countDraw)
}

// DrawIndirect implements native.CommandBuffer.
func (cb *commandBuffer) DrawIndirect(buffer native.Handle, offset uint64, drawCount, stride uint32) {
	cb.draw(uint64(drawCount), countDraw)
}

// DrawIndexedIndirect implements native.CommandBuffer.
func (cb *commandBuffer) DrawIndexedIndirect(buffer native.Handle, offset uint64, drawCount, stride uint32) {
	cb.draw(uint64(drawCount), countDraw)
}

// Dispatch implements native.CommandBuffer.
func (cb *commandBuffer) Dispatch(x, y, z uint32) {
	cb.draw(0, countDispatch)
}

// DispatchIndirect implements native.CommandBuffer.
func (cb *commandBuffer) DispatchIndirect(buffer native.Handle, offset uint64) {
	cb.draw(0, countDispatch)
}

// DrawMeshTasks implements native.CommandBuffer.
func (cb *commandBuffer) DrawMeshTasks(x, y, z uint32) {
	cb.draw(uint64(x)*uint64(y)*uint64(z), countMesh)
}

// DrawMeshTasksIndirect implements native.CommandBuffer.
func (cb *commandBuffer) DrawMeshTasksIndirect(buffer native.Handle, offset uint64, drawCount, stride uint32) {
	cb.draw(uint64(drawCount), countMesh)
}

// TraceRays implements native.CommandBuffer.
func (cb *commandBuffer) TraceRays(info *native.TraceRaysInfo) {
	cb.draw(0, func(s *Stats) { s.TraceRays++ })
}

// CopyBuffer implements native.CommandBuffer.
func (cb *commandBuffer) CopyBuffer(src, dst native.Handle, regions []vk.BufferCopy) {
	regions = append([]vk.BufferCopy(nil), regions...)
	cb.record(func(d *Device, st *execState) {
		s, sok := d.get(src).(*buffer)
		t, tok := d.get(dst).(*buffer)
		if !sok || !tok {
			d.log.Error("buffer copy with unknown buffers")
			return
		}
		for _, r := range regions {
			size := uint64(r.Size)
			if uint64(r.SrcOffset)+size > uint64(len(s.data)) || uint64(r.DstOffset)+size > uint64(len(t.data)) {
				d.log.WithField("size", size).Error("buffer copy out of range")
				continue
			}
			copy(t.data[r.DstOffset:uint64(r.DstOffset)+size], s.data[r.SrcOffset:uint64(r.SrcOffset)+size])
		}
		d.stats.update(func(s *Stats) { s.Copies++ })
	})
}

// CopyImage implements native.CommandBuffer.
func (cb *commandBuffer) CopyImage(src native.Handle, srcLayout vk.ImageLayout, dst native.Handle, dstLayout vk.ImageLayout, regions []vk.ImageCopy) {
	regions = append([]vk.ImageCopy(nil), regions...)
	cb.record(func(d *Device, st *execState) {
		s, sok := d.get(src).(*image)
		t, tok := d.get(dst).(*image)
		if !sok || !tok {
			d.log.Error("image copy with unknown images")
			return
		}
		for _, r := range regions {
			for l := uint32(0); l < r.SrcSubresource.LayerCount; l++ {
				sp := s.sub(r.SrcSubresource.MipLevel, r.SrcSubresource.BaseArrayLayer+l)
				tp := t.sub(r.DstSubresource.MipLevel, r.DstSubresource.BaseArrayLayer+l)
				if sp == nil || tp == nil {
					continue
				}
				scols, srows, _ := s.blocks(r.SrcSubresource.MipLevel)
				tcols, trows, _ := t.blocks(r.DstSubresource.MipLevel)
				cols := (r.Extent.Width + s.block - 1) / s.block
				rows := (r.Extent.Height + s.block - 1) / s.block
				for z := uint32(0); z < maxu(r.Extent.Depth, 1); z++ {
					for y := uint32(0); y < rows; y++ {
						so := ((uint32(r.SrcOffset.Z)+z)*srows+uint32(r.SrcOffset.Y)/s.block+y)*scols + uint32(r.SrcOffset.X)/s.block
						to := ((uint32(r.DstOffset.Z)+z)*trows+uint32(r.DstOffset.Y)/t.block+y)*tcols + uint32(r.DstOffset.X)/t.block
						n := cols * s.texel
						if (so*s.texel)+n > uint32(len(sp)) || (to*t.texel)+n > uint32(len(tp)) {
							continue
						}
						copy(tp[to*t.texel:to*t.texel+n], sp[so*s.texel:so*s.texel+n])
					}
				}
			}
		}
		d.stats.update(func(s *Stats) { s.Copies++ })
	})
}

// CopyBufferToImage implements native.CommandBuffer.
func (cb *commandBuffer) CopyBufferToImage(src, dst native.Handle, dstLayout vk.ImageLayout, regions []vk.BufferImageCopy) {
	regions = append([]vk.BufferImageCopy(nil), regions...)
	cb.record(func(d *Device, st *execState) {
		b, bok := d.get(src).(*buffer)
		img, iok := d.get(dst).(*image)
		if !bok || !iok {
			d.log.Error("buffer to image copy with unknown objects")
			return
		}
		for _, r := range regions {
			transferRegion(img, b.data, r, true)
		}
		d.stats.update(func(s *Stats) { s.Copies++ })
	})
}

// CopyImageToBuffer implements native.CommandBuffer.
func (cb *commandBuffer) CopyImageToBuffer(src native.Handle, srcLayout vk.ImageLayout, dst native.Handle, regions []vk.BufferImageCopy) {
	regions = append([]vk.BufferImageCopy(nil), regions...)
	cb.record(func(d *Device, st *execState) {
		img, iok := d.get(src).(*image)
		b, bok := d.get(dst).(*buffer)
		if !bok || !iok {
			d.log.Error("image to buffer copy with unknown objects")
			return
		}
		for _, r := range regions {
			transferRegion(img, b.data, r, false)
		}
		d.stats.update(func(s *Stats) { s.Copies++ })
	})
}

// transferRegion moves one buffer image copy region between buffer
// memory and an image.
func transferRegion(img *image, mem []byte, r vk.BufferImageCopy, toImage bool) {
	rowLength, imageHeight := r.BufferRowLength, r.BufferImageHeight
	if rowLength == 0 {
		rowLength = r.ImageExtent.Width
	}
	if imageHeight == 0 {
		imageHeight = r.ImageExtent.Height
	}
	bcols := (rowLength + img.block - 1) / img.block
	brows := (imageHeight + img.block - 1) / img.block
	cols := (r.ImageExtent.Width + img.block - 1) / img.block
	rows := (r.ImageExtent.Height + img.block - 1) / img.block
	depth := maxu(r.ImageExtent.Depth, 1)
	layerSize := uint64(bcols) * uint64(brows) * uint64(depth) * uint64(img.texel)

	mip := r.ImageSubresource.MipLevel
	icols, irows, _ := img.blocks(mip)
	for l := uint32(0); l < maxu(r.ImageSubresource.LayerCount, 1); l++ {
		sub := img.sub(mip, r.ImageSubresource.BaseArrayLayer+l)
		if sub == nil {
			continue
		}
		for z := uint32(0); z < depth; z++ {
			for y := uint32(0); y < rows; y++ {
				bo := uint64(r.BufferOffset) + uint64(l)*layerSize +
					(uint64(z)*uint64(brows)+uint64(y))*uint64(bcols)*uint64(img.texel)
				io := (((uint32(r.ImageOffset.Z)+z)*irows+uint32(r.ImageOffset.Y)/img.block+y)*icols +
					uint32(r.ImageOffset.X)/img.block) * img.texel
				n := cols * img.texel
				if bo+uint64(n) > uint64(len(mem)) || io+n > uint32(len(sub)) {
					continue
				}
				if toImage {
					copy(sub[io:io+n], mem[bo:bo+uint64(n)])
				} else {
					copy(mem[bo:bo+uint64(n)], sub[io:io+n])
				}
			}
		}
	}
}

func maxu(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// PipelineBarrier implements native.CommandBuffer. Image barriers move
// the tracked layouts; a barrier whose old layout does not match is
// counted as a layout error.
func (cb *commandBuffer) PipelineBarrier(b *native.Barrier) {
	images := append([]native.ImageBarrier(nil), b.Images...)
	cb.record(func(d *Device, st *execState) {
		errs := 0
		for _, ib := range images {
			img, ok := d.get(ib.Image).(*image)
			if !ok {
				d.log.WithField("image", ib.Image).Error("barrier on unknown image")
				continue
			}
			if have, ok := img.transition(ib.Range, ib.OldLayout, ib.NewLayout); !ok {
				d.log.WithFields(logrus.Fields{"image": ib.Image, "expected": ib.OldLayout, "actual": have}).
					Warn("image barrier layout mismatch")
				errs++
			}
		}
		d.stats.update(func(s *Stats) {
			s.Barriers++
			s.LayoutErrors += errs
		})
	})
}

func (d *Device) queryPool(h native.Handle) *queryPool {
	qp, ok := d.get(h).(*queryPool)
	if !ok {
		d.log.WithField("pool", h).Error("unknown query pool")
		return nil
	}
	return qp
}

// BeginQuery implements native.CommandBuffer.
func (cb *commandBuffer) BeginQuery(pool native.Handle, query uint32, precise bool) {
	cb.record(func(d *Device, st *execState) {
		st.occlusion[queryKey{pool, query}] = 0
	})
}

// EndQuery implements native.CommandBuffer. Imprecise queries report
// one when any sample passed.
func (cb *commandBuffer) EndQuery(pool native.Handle, query uint32) {
	cb.record(func(d *Device, st *execState) {
		k := queryKey{pool, query}
		samples, ok := st.occlusion[k]
		if !ok {
			d.log.WithField("query", query).Error("query end without begin")
			return
		}
		delete(st.occlusion, k)
		qp := d.queryPool(pool)
		if qp == nil || query >= qp.info.Count {
			return
		}
		qp.mu.Lock()
		qp.results[query] = samples
		qp.available[query] = true
		qp.mu.Unlock()
	})
}

// WriteTimestamp implements native.CommandBuffer. Timestamps are
// nanoseconds.
func (cb *commandBuffer) WriteTimestamp(stage vk.PipelineStageFlagBits, pool native.Handle, query uint32) {
	cb.record(func(d *Device, st *execState) {
		qp := d.queryPool(pool)
		if qp == nil || query >= qp.info.Count {
			return
		}
		qp.mu.Lock()
		qp.results[query] = uint64(time.Now().UnixNano())
		qp.available[query] = true
		qp.mu.Unlock()
	})
}

// ResetQueryPool implements native.CommandBuffer.
func (cb *commandBuffer) ResetQueryPool(pool native.Handle, first, count uint32) {
	cb.record(func(d *Device, st *execState) {
		qp := d.queryPool(pool)
		if qp == nil {
			return
		}
		qp.mu.Lock()
		for i := first; i < first+count && i < qp.info.Count; i++ {
			qp.results[i] = 0
			qp.available[i] = false
		}
		qp.mu.Unlock()
	})
}

// CopyQueryPoolResults implements native.CommandBuffer. Results are
// always written as 64 bit values.
func (cb *commandBuffer) CopyQueryPoolResults(pool native.Handle, first, count uint32, dst native.Handle, offset, stride uint64, flags vk.QueryResultFlags) {
	withAvailability := flags&vk.QueryResultFlags(vk.QueryResultWithAvailabilityBit) != 0
	cb.record(func(d *Device, st *execState) {
		qp := d.queryPool(pool)
		b, ok := d.get(dst).(*buffer)
		if qp == nil || !ok {
			return
		}
		qp.mu.Lock()
		defer qp.mu.Unlock()
		for i := uint32(0); i < count && first+i < qp.info.Count; i++ {
			o := offset + uint64(i)*stride
			need := uint64(8)
			if withAvailability {
				need = 16
			}
			if o+need > uint64(len(b.data)) {
				d.log.Error("query results copy out of range")
				return
			}
			binary.LittleEndian.PutUint64(b.data[o:], qp.results[first+i])
			if withAvailability {
				var avail uint64
				if qp.available[first+i] {
					avail = 1
				}
				binary.LittleEndian.PutUint64(b.data[o+8:], avail)
			}
		}
	})
}

// BuildAccelerationStructure implements native.CommandBuffer.
func (cb *commandBuffer) BuildAccelerationStructure(info *native.AccelerationStructureBuildInfo) {
	dst, update, src := info.Dst, info.Update, info.Src
	cb.record(func(d *Device, st *execState) {
		as, ok := d.get(dst).(*accelStruct)
		if !ok {
			d.log.WithField("dst", dst).Error("build of unknown acceleration structure")
			return
		}
		if update {
			if _, ok := d.get(src).(*accelStruct); !ok {
				d.log.WithField("src", src).Error("update from unknown acceleration structure")
				return
			}
		}
		as.built++
		d.stats.update(func(s *Stats) { s.Builds++ })
	})
}

// BeginConditionalRendering implements native.CommandBuffer. The
// predicate is read when the command executes.
func (cb *commandBuffer) BeginConditionalRendering(buf native.Handle, offset uint64, inverted bool) {
	cb.record(func(d *Device, st *execState) {
		b, ok := d.get(buf).(*buffer)
		if !ok || offset+4 > uint64(len(b.data)) {
			d.log.WithField("buffer", buf).Error("invalid predication buffer")
			return
		}
		zero := binary.LittleEndian.Uint32(b.data[offset:]) == 0
		st.skip = zero != inverted
	})
}

// EndConditionalRendering implements native.CommandBuffer.
func (cb *commandBuffer) EndConditionalRendering() {
	cb.record(func(d *Device, st *execState) {
		st.skip = false
	})
}

// BeginLabel implements native.CommandBuffer.
func (cb *commandBuffer) BeginLabel(name string) {
	cb.label(name)
}

// EndLabel implements native.CommandBuffer.
func (cb *commandBuffer) EndLabel() {}

// InsertLabel implements native.CommandBuffer.
func (cb *commandBuffer) InsertLabel(name string) {
	cb.label(name)
}

func (cb *commandBuffer) label(name string) {
	cb.record(func(d *Device, st *execState) {
		d.stats.update(func(s *Stats) { s.Labels = append(s.Labels, name) })
	})
}
