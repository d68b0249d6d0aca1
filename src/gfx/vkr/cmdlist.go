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
	"github.com/sirupsen/logrus"
)

// swapchainUse is a back buffer a list renders to. It is presented after
// the list's batch.
type swapchainUse struct {
	state *swapChainState
	image uint32
	slot  int
}

// commandList is the recording state of one command list slot. It is
// owned by the goroutine recording it until the next submit.
type commandList struct {
	d      *Device
	index  gfx.CommandList
	active bool
	queue  gfx.QueueType
	waits  []gfx.CommandList
	cb     native.CommandBuffer
	frame  *listFrame

	binder     descriptorBinder
	pso        *psoState
	cs         *shaderState
	rt         *rtPipelineState
	pushLayout *pipelineLayout
	psoDirty   bool
	renderPass *renderPassState
	strides    [maxVertexBuffers]uint32
	strideHash uint64
	predicated bool

	pipelines  map[pipelineKey]native.Handle
	swapchains []swapchainUse
	err        error
}

func newCommandList(d *Device, index gfx.CommandList) *commandList {
	return &commandList{
		d:         d,
		index:     index,
		pipelines: make(map[pipelineKey]native.Handle),
	}
}

// fail latches the first error of the list.
func (l *commandList) fail(err error) {
	if l.err == nil {
		l.err = errors.Wrapf(err, "command list %d", l.index)
		l.d.log.WithError(err).WithField("list", l.index).Error("Recording failed")
	}
}

func (l *commandList) outsideRenderPass(op string) bool {
	if l.renderPass != nil {
		l.fail(errors.Wrap(gfx.ErrInsideRenderPass, op))
		return false
	}
	return true
}

// list returns a recording command list or reports a stray error.
func (d *Device) list(cmd gfx.CommandList) *commandList {
	if int(cmd) >= len(d.lists) || !d.lists[cmd].active {
		d.stray(errors.Wrapf(gfx.ErrInvalidCommandList, "command list %d", cmd))
		return nil
	}
	return d.lists[cmd]
}

func (l *commandList) begin(queue gfx.QueueType, f *listFrame) error {
	d := l.d
	if f.pools[queue] == native.Null {
		pool, err := d.drv.CreateCommandPool(d.nativeQueue(queue))
		if err != nil {
			return errors.Wrap(err, "vk.CreateCommandPool()")
		}
		cb, err := d.drv.AllocateCommandBuffer(pool)
		if err != nil {
			d.drv.Destroy(native.KindCommandPool, pool)
			return errors.Wrap(err, "vk.AllocateCommandBuffers()")
		}
		f.pools[queue] = pool
		f.cmds[queue] = cb
	} else if err := d.drv.ResetCommandPool(f.pools[queue]); err != nil {
		return errors.Wrap(err, "vk.ResetCommandPool()")
	}

	if f.descriptors.handle == native.Null {
		if err := f.descriptors.init(d, d.cfg.DescriptorPoolSize); err != nil {
			return err
		}
	} else if err := d.drv.ResetDescriptorPool(f.descriptors.handle); err != nil {
		return errors.Wrap(err, "vk.ResetDescriptorPool()")
	}
	f.upload.offset = 0

	cb := f.cmds[queue]
	if err := cb.Begin(true); err != nil {
		return errors.Wrap(err, "vk.BeginCommandBuffer()")
	}

	l.active = true
	l.queue = queue
	l.waits = l.waits[:0]
	l.cb = cb
	l.frame = f
	l.binder.reset()
	l.pso, l.cs, l.rt, l.pushLayout = nil, nil, nil, nil
	l.psoDirty = true
	l.renderPass = nil
	l.strides = [maxVertexBuffers]uint32{}
	l.strideHash = hashStrides(&l.strides)
	l.predicated = false
	l.swapchains = l.swapchains[:0]
	l.err = nil

	if queue == gfx.QueueGraphics {
		scissors := make([]vk.Rect2D, 16)
		for i := range scissors {
			scissors[i].Extent = vk.Extent2D{Width: 1 << 16, Height: 1 << 16}
		}
		cb.SetScissors(0, scissors)
		cb.SetBlendConstants([4]float32{1, 1, 1, 1})
		cb.SetStencilReference(0)
		if d.CheckCapability(gfx.CapVariableRateShading) {
			cb.SetFragmentShadingRate(1, 1)
		}
	}
	return nil
}

// BeginCommandList implements gfx.Device. Lists are numbered in the
// order they are begun within a frame.
func (d *Device) BeginCommandList(queue gfx.QueueType) (gfx.CommandList, error) {
	if queue < 0 || queue >= gfx.QueueCount {
		return 0, errors.Wrapf(gfx.ErrInvalidDesc, "queue %d", queue)
	}
	n := d.listCount.Add(1)
	if n > d.cfg.CommandListCount {
		d.listCount.Add(^uint32(0))
		return 0, errors.Wrapf(gfx.ErrInvalidCommandList, "all %d command lists of the frame are in use", d.cfg.CommandListCount)
	}
	cmd := gfx.CommandList(n - 1)
	l := d.lists[cmd]
	if err := l.begin(queue, &d.frame().lists[cmd]); err != nil {
		l.active = false
		l.cb = nil
		return 0, err
	}
	return cmd, nil
}

// WaitCommandList implements gfx.Device. cmd starts only after the
// batch holding waitFor has finished on the GPU.
func (d *Device) WaitCommandList(cmd, waitFor gfx.CommandList) error {
	if waitFor >= cmd {
		return errors.Wrapf(gfx.ErrInvalidWait, "list %d waits for list %d", cmd, waitFor)
	}
	l := d.list(cmd)
	if l == nil {
		return errors.Wrapf(gfx.ErrInvalidCommandList, "command list %d", cmd)
	}
	if !d.lists[waitFor].active {
		return errors.Wrapf(gfx.ErrInvalidCommandList, "waited command list %d", waitFor)
	}
	l.waits = append(l.waits, waitFor)
	return nil
}

// queueSubmit accumulates the batch of one queue.
type queueSubmit struct {
	batch      native.SubmitBatch
	present    native.Present
	swapchains []*swapChainState
}

func (q *queueSubmit) wait(sem native.Handle, value uint64, stage vk.PipelineStageFlagBits) {
	q.batch.Wait = append(q.batch.Wait, native.SemaphoreOp{
		Semaphore: sem,
		Value:     value,
		Stage:     vk.PipelineStageFlags(stage),
	})
}

func (q *queueSubmit) empty() bool {
	return len(q.batch.CommandBuffers) == 0 && len(q.batch.Wait) == 0 && len(q.batch.Signal) == 0
}

// flushQueue submits the accumulated batch of a queue with an optional
// fence, then presents its swapchains.
func (d *Device) flushQueue(q gfx.QueueType, s *queueSubmit, fence native.Handle) error {
	defer func() { *s = queueSubmit{} }()
	var batches []native.SubmitBatch
	if !s.empty() {
		batches = []native.SubmitBatch{s.batch}
	}
	if len(batches) == 0 && fence == native.Null {
		return nil
	}
	queue := d.nativeQueue(q)
	if err := d.drv.Submit(queue, batches, fence); err != nil {
		return errors.Wrapf(err, "vk.QueueSubmit(%s)", q)
	}
	if len(s.present.Swapchains) == 0 {
		return nil
	}
	err := d.drv.Present(queue, &s.present)
	if errors.Is(err, native.ErrOutOfDate) {
		for _, sc := range s.swapchains {
			sc.outOfDate.Store(true)
		}
		d.log.Debug("Swapchain out of date at present")
		return nil
	}
	return errors.Wrap(err, "vk.QueuePresentKHR()")
}

// SubmitCommandLists implements gfx.Device. Lists are submitted in the
// order they were begun. Consecutive lists on one queue share a batch;
// a queue change or a wait starts a new batch, and the closing batch
// signals its queue timeline with frame*CommandListCount plus the index
// of the list that follows it. A wait for list w therefore waits for a
// value above frame*CommandListCount+w. Then the frame advances,
// blocking while the GPU is BufferCount frames behind.
func (d *Device) SubmitCommandLists() error {
	d.initMu.Lock()
	defer d.initMu.Unlock()

	errs := d.takeStray()
	frame := d.frame()
	fc := d.frameCount.Load()
	n := uint64(d.cfg.CommandListCount)

	if d.submitInits {
		if err := frame.initCmd.End(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "vk.EndCommandBuffer()"))
			d.submitInits = false
		}
	}
	copySync, err := d.copier.flush()
	errs = errors.CombineErrors(errs, err)

	var pending [gfx.QueueCount]queueSubmit
	submitQueue := gfx.QueueCount
	count := d.listCount.Swap(0)
	if count > d.cfg.CommandListCount {
		count = d.cfg.CommandListCount
	}

	for cmd := uint32(0); cmd < count; cmd++ {
		l := d.lists[cmd]
		if l.cb == nil {
			continue
		}
		if l.renderPass != nil {
			l.cb.EndRenderPass()
			l.renderPass = nil
			l.fail(errors.Wrap(gfx.ErrInsideRenderPass, "submitted with an open render pass"))
		}
		if l.predicated {
			l.cb.EndConditionalRendering()
			l.predicated = false
		}
		if err := l.cb.End(); err != nil {
			l.fail(errors.Wrap(err, "vk.EndCommandBuffer()"))
		}
		errs = errors.CombineErrors(errs, l.err)

		if submitQueue == gfx.QueueCount {
			submitQueue = l.queue
			p := &pending[submitQueue]
			if copySync > 0 {
				p.wait(d.copier.semaphore, copySync, vk.PipelineStageTransferBit)
			}
			if d.submitInits && d.nativeQueue(submitQueue) != d.nativeQueue(gfx.QueueGraphics) {
				// Init commands come from a graphics pool; run them
				// alone and make the first batch wait for them.
				g := &pending[gfx.QueueGraphics]
				if copySync > 0 {
					g.wait(d.copier.semaphore, copySync, vk.PipelineStageTransferBit)
				}
				g.batch.CommandBuffers = append(g.batch.CommandBuffers, frame.initCmd.Handle())
				g.batch.Signal = append(g.batch.Signal, native.SemaphoreOp{Semaphore: frame.initDone})
				errs = errors.CombineErrors(errs, d.flushQueue(gfx.QueueGraphics, g, native.Null))
				p.wait(frame.initDone, 0, vk.PipelineStageAllCommandsBit)
				d.submitInits = false
			}
			copySync = 0
		}

		if submitQueue != l.queue || len(l.waits) > 0 {
			p := &pending[submitQueue]
			p.batch.Signal = append(p.batch.Signal, native.SemaphoreOp{
				Semaphore: d.timelines[submitQueue],
				Value:     fc*n + uint64(cmd),
			})
			errs = errors.CombineErrors(errs, d.flushQueue(submitQueue, p, native.Null))
			submitQueue = l.queue
			for _, w := range l.waits {
				pending[submitQueue].wait(d.timelines[d.lists[w].queue], fc*n+uint64(w)+1, vk.PipelineStageAllCommandsBit)
			}
		}

		p := &pending[submitQueue]
		if d.submitInits {
			p.batch.CommandBuffers = append(p.batch.CommandBuffers, frame.initCmd.Handle())
			d.submitInits = false
		}
		for _, use := range l.swapchains {
			sc := use.state
			p.wait(sc.acquire[use.slot], 0, vk.PipelineStageColorAttachmentOutputBit)
			p.batch.Signal = append(p.batch.Signal, native.SemaphoreOp{Semaphore: sc.release[use.slot]})
			p.present.Wait = append(p.present.Wait, sc.release[use.slot])
			p.present.Swapchains = append(p.present.Swapchains, sc.swapchain)
			p.present.Images = append(p.present.Images, use.image)
			p.swapchains = append(p.swapchains, sc)
		}
		p.batch.CommandBuffers = append(p.batch.CommandBuffers, l.cb.Handle())

		d.mergePipelines(l)
		l.active = false
		l.cb = nil
	}

	if d.submitInits || copySync > 0 {
		p := &pending[gfx.QueueGraphics]
		if copySync > 0 {
			p.wait(d.copier.semaphore, copySync, vk.PipelineStageTransferBit)
		}
		if d.submitInits {
			p.batch.CommandBuffers = append(p.batch.CommandBuffers, frame.initCmd.Handle())
			d.submitInits = false
		}
	}

	for q := range pending {
		errs = errors.CombineErrors(errs, d.flushQueue(gfx.QueueType(q), &pending[q], frame.fences[q]))
	}

	errs = errors.CombineErrors(errs, d.advanceFrame())
	return errs
}

// mergePipelines moves pipelines a list built into the global cache.
// Pipelines another list built for the same key are retired.
func (d *Device) mergePipelines(l *commandList) {
	if len(l.pipelines) == 0 {
		return
	}
	d.pipelinesMu.Lock()
	defer d.pipelinesMu.Unlock()
	for key, p := range l.pipelines {
		if _, ok := d.pipelines[key]; ok {
			d.alloc.retire(native.KindPipeline, p)
		} else {
			d.pipelines[key] = p
		}
		delete(l.pipelines, key)
	}
}

// advanceFrame moves to the next frame slot, waiting for the GPU to
// finish the frame that last used it.
func (d *Device) advanceFrame() error {
	fc := d.frameCount.Add(1)
	next := d.frame()
	var errs error
	if fc >= uint64(d.cfg.BufferCount) {
		if err := d.drv.WaitFences(next.fences[:], d.cfg.fenceTimeout()); err != nil {
			errs = errors.Wrapf(err, "vk.WaitForFences(frame %d)", fc-uint64(d.cfg.BufferCount))
		} else if err := d.drv.ResetFences(next.fences[:]); err != nil {
			errs = errors.Wrap(err, "vk.ResetFences()")
		}
	}
	d.alloc.update(fc, d.cfg.BufferCount)

	if err := d.drv.ResetCommandPool(next.initPool); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "vk.ResetCommandPool()"))
	}
	if err := next.initCmd.Begin(true); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "vk.BeginCommandBuffer()"))
	}
	d.submitInits = false

	if errs != nil {
		d.log.WithError(errs).WithField("frame", fc).Error("Frame advance failed")
	} else {
		d.log.WithFields(logrus.Fields{"frame": fc}).Debug("Frame advanced")
	}
	return errs
}

// uploadRing is a linear upload buffer of one list and frame slot.
type uploadRing struct {
	buffer native.Handle
	mapped []byte
	offset uint64
}

const (
	uploadAlignment = 256
	uploadMinSize   = 64 << 10
)

// allocate returns a region of the ring, growing it when full. A
// replaced buffer is retired with the frame.
func (r *uploadRing) allocate(d *Device, size uint64) (native.Handle, uint64, []byte, error) {
	offset := (r.offset + uploadAlignment - 1) &^ (uploadAlignment - 1)
	if r.buffer == native.Null || offset+size > uint64(len(r.mapped)) {
		newSize := uint64(len(r.mapped)) * 2
		if newSize < size {
			newSize = size
		}
		if newSize < uploadMinSize {
			newSize = uploadMinSize
		}
		newSize = nextPowerOfTwo(newSize)
		h, err := d.drv.CreateBuffer(&native.BufferInfo{
			Size:   newSize,
			Usage:  vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
			Memory: native.MemoryUpload,
		})
		if err != nil {
			return native.Null, 0, nil, errors.Wrap(err, "vk.CreateBuffer()")
		}
		d.alloc.retire(native.KindBuffer, r.buffer)
		r.buffer = h
		r.mapped = d.drv.Mapped(h)
		offset = 0
	}
	r.offset = offset + size
	return r.buffer, offset, r.mapped[offset : offset+size], nil
}
