// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

// semaphore is a binary semaphore or an emulated timeline. A timeline
// signal is a point that signals one binary semaphore for every other
// hardware queue. A wait consumes the binary semaphore of its queue;
// later waits of the same queue are ordered behind it and skip.
type semaphore struct {
	timeline bool
	binary   vk.Semaphore

	completed uint64
	points    []*timelinePoint
}

type timelinePoint struct {
	sem      *semaphore
	value    uint64
	slot     native.Queue
	waits    [native.QueueCount]vk.Semaphore
	consumed [native.QueueCount]bool
}

// submission tracks one Submit call that touched a timeline.
type submission struct {
	fence  vk.Fence
	points []*timelinePoint
	// waited are binary semaphores this submission consumed. They are
	// unsignaled again once it completes.
	waited []vk.Semaphore
}

type timelineTracker struct {
	d *Device

	mu       sync.Mutex
	free     []vk.Semaphore
	fences   []vk.Fence
	inflight []*submission
	closed   bool
}

func newTimelineTracker(d *Device) *timelineTracker {
	return &timelineTracker{d: d}
}

func (t *timelineTracker) binary() (vk.Semaphore, error) {
	if n := len(t.free); n > 0 {
		s := t.free[n-1]
		t.free = t.free[:n-1]
		return s, nil
	}
	return createBinary(t.d.device)
}

func (t *timelineTracker) fence() (vk.Fence, error) {
	if n := len(t.fences); n > 0 {
		f := t.fences[n-1]
		t.fences = t.fences[:n-1]
		return f, nil
	}
	fci := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var f vk.Fence
	if err := vk.Error(vk.CreateFence(t.d.device, &fci, nil, &f)); err != nil {
		return nil, errors.Wrap(err, "vk.CreateFence()")
	}
	return f, nil
}

func createBinary(dev vk.Device) (vk.Semaphore, error) {
	sci := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var s vk.Semaphore
	if err := vk.Error(vk.CreateSemaphore(dev, &sci, nil, &s)); err != nil {
		return nil, errors.Wrap(err, "vk.CreateSemaphore()")
	}
	return s, nil
}

// resolveWait returns the binary semaphore a queue has to wait on to see
// value, nil when no wait is needed.
func (t *timelineTracker) resolveWait(sem *semaphore, value uint64, slot native.Queue) (vk.Semaphore, error) {
	if value <= sem.completed {
		return nil, nil
	}
	var p *timelinePoint
	for _, q := range sem.points {
		if q.value >= value && (p == nil || q.value < p.value) {
			p = q
		}
	}
	if p == nil {
		return nil, errors.Newf("wait for timeline value %d that was never signaled", value)
	}
	if p.slot == slot || p.consumed[slot] {
		return nil, nil
	}
	s := p.waits[slot]
	p.waits[slot] = nil
	p.consumed[slot] = true
	return s, nil
}

// signal creates a point and the binary semaphores that carry it to the
// other queues.
func (t *timelineTracker) signal(sem *semaphore, value uint64, slot native.Queue) (*timelinePoint, []vk.Semaphore, error) {
	p := &timelinePoint{sem: sem, value: value, slot: slot}
	var out []vk.Semaphore
	for q, s := range t.d.slots {
		if native.Queue(q) != s || s == slot {
			continue
		}
		b, err := t.binary()
		if err != nil {
			t.free = append(t.free, out...)
			return nil, nil, err
		}
		p.waits[q] = b
		out = append(out, b)
	}
	return p, out, nil
}

// harvest completes every submission whose fence signaled.
func (t *timelineTracker) harvest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.harvestLocked()
}

func (t *timelineTracker) harvestLocked() {
	dev := t.d.device
	inflight := t.inflight[:0]
	for _, sub := range t.inflight {
		if vk.GetFenceStatus(dev, sub.fence) != vk.Success {
			inflight = append(inflight, sub)
			continue
		}
		t.complete(sub)
		if err := vk.Error(vk.ResetFences(dev, 1, []vk.Fence{sub.fence})); err != nil {
			vk.DestroyFence(dev, sub.fence, nil)
		} else {
			t.fences = append(t.fences, sub.fence)
		}
	}
	t.inflight = inflight
}

func (t *timelineTracker) complete(sub *submission) {
	dev := t.d.device
	for _, p := range sub.points {
		sem := p.sem
		if p.value > sem.completed {
			sem.completed = p.value
		}
		for i, q := range sem.points {
			if q == p {
				sem.points = append(sem.points[:i], sem.points[i+1:]...)
				break
			}
		}
		// Signaled but never waited.
		for q, s := range p.waits {
			if s != nil {
				vk.DestroySemaphore(dev, s, nil)
				p.waits[q] = nil
			}
		}
	}
	t.free = append(t.free, sub.waited...)
}

func (t *timelineTracker) destroy(sem *semaphore) {
	if !sem.timeline {
		vk.DestroySemaphore(t.d.device, sem.binary, nil)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.harvestLocked()
	if len(sem.points) > 0 {
		t.d.log.WithField("points", len(sem.points)).Warn("Timeline destroyed with pending signals")
	}
}

// close releases the pooled objects. The device must be idle.
func (t *timelineTracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.harvestLocked()
	dev := t.d.device
	for _, sub := range t.inflight {
		t.complete(sub)
		vk.DestroyFence(dev, sub.fence, nil)
	}
	t.inflight = nil
	for _, s := range t.free {
		vk.DestroySemaphore(dev, s, nil)
	}
	for _, f := range t.fences {
		vk.DestroyFence(dev, f, nil)
	}
	t.free, t.fences = nil, nil
	t.closed = true
}

// CreateFence implements native.Device.
func (d *Device) CreateFence(signaled bool) (native.Handle, error) {
	fci := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		fci.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := vk.Error(vk.CreateFence(d.device, &fci, nil, &fence)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateFence()")
	}
	return d.add(native.KindFence, fence), nil
}

func (d *Device) fences(handles []native.Handle) ([]vk.Fence, error) {
	out := make([]vk.Fence, len(handles))
	for i, h := range handles {
		f, _ := d.get(h).(vk.Fence)
		if f == nil {
			return nil, errors.Wrapf(native.ErrInvalidHandle, "fence %d", h)
		}
		out[i] = f
	}
	return out, nil
}

// WaitFences implements native.Device.
func (d *Device) WaitFences(handles []native.Handle, timeout time.Duration) error {
	if len(handles) == 0 {
		return nil
	}
	fences, err := d.fences(handles)
	if err != nil {
		return err
	}
	return resultError(vk.WaitForFences(d.device, uint32(len(fences)), fences, vk.True, timeoutOf(timeout)), "vk.WaitForFences()")
}

// timeoutOf converts a wait timeout to Vulkan nanoseconds; negative waits forever.
func timeoutOf(timeout time.Duration) uint {
	if timeout < 0 {
		return math.MaxUint
	}
	return uint(timeout.Nanoseconds())
}

// ResetFences implements native.Device.
func (d *Device) ResetFences(handles []native.Handle) error {
	if len(handles) == 0 {
		return nil
	}
	fences, err := d.fences(handles)
	if err != nil {
		return err
	}
	return resultError(vk.ResetFences(d.device, uint32(len(fences)), fences), "vk.ResetFences()")
}

// CreateSemaphore implements native.Device.
func (d *Device) CreateSemaphore(timeline bool) (native.Handle, error) {
	if timeline {
		return d.add(native.KindSemaphore, &semaphore{timeline: true}), nil
	}
	s, err := createBinary(d.device)
	if err != nil {
		return native.Null, err
	}
	return d.add(native.KindSemaphore, &semaphore{binary: s}), nil
}

// SemaphoreValue implements native.Device. The value advances when the
// fence tracking the signaling submission is observed.
func (d *Device) SemaphoreValue(h native.Handle) (uint64, error) {
	sem, ok := d.get(h).(*semaphore)
	if !ok || !sem.timeline {
		return 0, errors.Wrapf(native.ErrInvalidHandle, "timeline semaphore %d", h)
	}
	t := d.timelines
	t.mu.Lock()
	defer t.mu.Unlock()
	t.harvestLocked()
	return sem.completed, nil
}

// submitBuilder keeps the backing slices of one vk.QueueSubmit alive.
type submitBuilder struct {
	infos []vk.SubmitInfo
	sub   submission
	// signaled are the binary semaphores created for timeline points.
	signaled []vk.Semaphore
}

func (d *Device) buildBatch(b *submitBuilder, batch *native.SubmitBatch, slot native.Queue) error {
	t := d.timelines
	var (
		waits  []vk.Semaphore
		stages []vk.PipelineStageFlags
		sigs   []vk.Semaphore
	)
	for _, op := range batch.Wait {
		sem, ok := d.get(op.Semaphore).(*semaphore)
		if !ok {
			return errors.Wrapf(native.ErrInvalidHandle, "wait semaphore %d", op.Semaphore)
		}
		s := sem.binary
		if sem.timeline {
			var err error
			if s, err = t.resolveWait(sem, op.Value, slot); err != nil {
				return err
			}
			if s == nil {
				continue
			}
			b.sub.waited = append(b.sub.waited, s)
		}
		stage := op.Stage
		if stage == 0 {
			stage = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		}
		waits = append(waits, s)
		stages = append(stages, stage)
	}
	for _, op := range batch.Signal {
		sem, ok := d.get(op.Semaphore).(*semaphore)
		if !ok {
			return errors.Wrapf(native.ErrInvalidHandle, "signal semaphore %d", op.Semaphore)
		}
		if !sem.timeline {
			sigs = append(sigs, sem.binary)
			continue
		}
		p, carriers, err := t.signal(sem, op.Value, slot)
		if err != nil {
			return err
		}
		b.sub.points = append(b.sub.points, p)
		b.signaled = append(b.signaled, carriers...)
		sigs = append(sigs, carriers...)
	}

	cbs := make([]vk.CommandBuffer, 0, len(batch.CommandBuffers))
	d.mu.RLock()
	for _, h := range batch.CommandBuffers {
		cb, ok := d.cmdbufs[h]
		if !ok {
			d.mu.RUnlock()
			return errors.Wrapf(native.ErrInvalidHandle, "command buffer %d", h)
		}
		cbs = append(cbs, cb.cb)
	}
	d.mu.RUnlock()

	b.infos = append(b.infos, vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(cbs)),
		PCommandBuffers:      cbs,
		SignalSemaphoreCount: uint32(len(sigs)),
		PSignalSemaphores:    sigs,
	})
	return nil
}

// Submit implements native.Device. Submissions touching a timeline are
// followed by an empty submission signaling a tracking fence.
func (d *Device) Submit(queue native.Queue, batches []native.SubmitBatch, fence native.Handle) error {
	var vkFence vk.Fence
	if fence != native.Null {
		if vkFence, _ = d.get(fence).(vk.Fence); vkFence == nil {
			return errors.Wrapf(native.ErrInvalidHandle, "fence %d", fence)
		}
	}
	slot := d.slots[queue]
	d.queueMu[slot].Lock()
	defer d.queueMu[slot].Unlock()

	t := d.timelines
	t.mu.Lock()
	defer t.mu.Unlock()

	var b submitBuilder
	for i := range batches {
		if err := d.buildBatch(&b, &batches[i], slot); err != nil {
			t.free = append(t.free, b.signaled...)
			return err
		}
	}

	q := d.queues[slot]
	if err := resultError(vk.QueueSubmit(q, uint32(len(b.infos)), b.infos, vkFence), "vk.QueueSubmit()"); err != nil {
		t.free = append(t.free, b.signaled...)
		return err
	}
	if len(b.sub.points) == 0 && len(b.sub.waited) == 0 {
		return nil
	}

	for _, p := range b.sub.points {
		p.sem.points = append(p.sem.points, p)
	}
	track, err := t.fence()
	if err != nil {
		return err
	}
	if err := resultError(vk.QueueSubmit(q, 0, nil, track), "vk.QueueSubmit()"); err != nil {
		vk.DestroyFence(d.device, track, nil)
		return err
	}
	sub := b.sub
	sub.fence = track
	t.inflight = append(t.inflight, &sub)
	return nil
}
