// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	"github.com/sirupsen/logrus"
)

type fence struct {
	signaled bool
}

type semaphore struct {
	timeline bool
	value    uint64
	signaled bool
}

// CreateFence implements native.Device.
func (d *Device) CreateFence(signaled bool) (native.Handle, error) {
	return d.add(native.KindFence, &fence{signaled: signaled}), nil
}

// WaitFences implements native.Device.
func (d *Device) WaitFences(fences []native.Handle, timeout time.Duration) error {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
		t := time.AfterFunc(timeout, func() {
			d.syncMu.Lock()
			d.syncCond.Broadcast()
			d.syncMu.Unlock()
		})
		defer t.Stop()
	}

	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	for {
		done := true
		for _, h := range fences {
			f, ok := d.get(h).(*fence)
			if !ok {
				return errHandle("fence", h)
			}
			if !f.signaled {
				done = false
				break
			}
		}
		if done {
			return nil
		}
		if d.lost {
			return native.ErrDeviceLost
		}
		if timeout >= 0 && !time.Now().Before(deadline) {
			return native.ErrTimeout
		}
		d.syncCond.Wait()
	}
}

// ResetFences implements native.Device.
func (d *Device) ResetFences(fences []native.Handle) error {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	for _, h := range fences {
		f, ok := d.get(h).(*fence)
		if !ok {
			return errHandle("fence", h)
		}
		f.signaled = false
	}
	return nil
}

// FenceSignaled reports the state of a fence without waiting.
func (d *Device) FenceSignaled(h native.Handle) bool {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	f, ok := d.get(h).(*fence)
	return ok && f.signaled
}

// CreateSemaphore implements native.Device.
func (d *Device) CreateSemaphore(timeline bool) (native.Handle, error) {
	return d.add(native.KindSemaphore, &semaphore{timeline: timeline}), nil
}

// SemaphoreValue implements native.Device.
func (d *Device) SemaphoreValue(h native.Handle) (uint64, error) {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	s, ok := d.get(h).(*semaphore)
	if !ok || !s.timeline {
		return 0, errHandle("timeline semaphore", h)
	}
	return s.value, nil
}

// wait blocks until op is satisfied. Binary semaphores are consumed.
func (d *Device) wait(op native.SemaphoreOp) error {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	s, ok := d.get(op.Semaphore).(*semaphore)
	if !ok {
		return errHandle("semaphore", op.Semaphore)
	}
	for {
		if d.lost {
			return native.ErrDeviceLost
		}
		if s.timeline && s.value >= op.Value {
			return nil
		}
		if !s.timeline && s.signaled {
			s.signaled = false
			return nil
		}
		d.syncCond.Wait()
	}
}

func (d *Device) signal(op native.SemaphoreOp) {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	s, ok := d.get(op.Semaphore).(*semaphore)
	if !ok {
		d.log.WithField("semaphore", op.Semaphore).Error("signal of unknown semaphore")
		return
	}
	if s.timeline {
		if op.Value <= s.value {
			d.log.WithFields(logrus.Fields{"current": s.value, "value": op.Value}).
				Error("timeline semaphore signaled with a non increasing value")
			return
		}
		s.value = op.Value
	} else {
		s.signaled = true
	}
	d.syncCond.Broadcast()
}

func (d *Device) signalFence(h native.Handle) {
	if h == native.Null {
		return
	}
	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	if f, ok := d.get(h).(*fence); ok {
		f.signaled = true
	}
	d.syncCond.Broadcast()
}

// submission is one unit of queue work.
type submission struct {
	batches []native.SubmitBatch
	fence   native.Handle
	present *native.Present
}

type queue struct {
	dev  *Device
	kind native.Queue
	log  *logrus.Entry

	mu      sync.Mutex
	cond    *sync.Cond
	pending []submission
	busy    bool
	closed  bool
	done    chan struct{}

	executed uint64
}

func newQueue(d *Device, kind native.Queue) *queue {
	q := &queue{
		dev:  d,
		kind: kind,
		log:  d.log.WithField("queue", kind),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *queue) push(s submission) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.Wrap(native.ErrDeviceLost, "queue closed")
	}
	q.pending = append(q.pending, s)
	q.cond.Broadcast()
	return nil
}

func (q *queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		s := q.pending[0]
		q.pending = q.pending[1:]
		q.busy = true
		q.mu.Unlock()

		q.dev.waitGate()
		if err := q.execute(s); err != nil {
			q.log.WithError(err).Error("submission failed")
		}

		q.mu.Lock()
		q.busy = false
		q.executed++
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *queue) execute(s submission) error {
	for _, b := range s.batches {
		for _, w := range b.Wait {
			if err := q.dev.wait(w); err != nil {
				return err
			}
		}
		for _, h := range b.CommandBuffers {
			cb := q.dev.commandBuffer(h)
			if cb == nil {
				return errHandle("command buffer", h)
			}
			cb.execute()
		}
		for _, sig := range b.Signal {
			q.dev.signal(sig)
		}
	}
	if s.present != nil {
		for _, w := range s.present.Wait {
			if err := q.dev.wait(native.SemaphoreOp{Semaphore: w}); err != nil {
				return err
			}
		}
		for i, h := range s.present.Swapchains {
			q.dev.presented(h, s.present.Images[i])
		}
	}
	q.dev.signalFence(s.fence)
	return nil
}

// idle waits until all queued work has executed.
func (q *queue) idle() {
	q.mu.Lock()
	for len(q.pending) > 0 || q.busy {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	// Unblock executions stuck on semaphores that will never be signaled.
	q.dev.syncMu.Lock()
	q.dev.lost = true
	q.dev.syncCond.Broadcast()
	q.dev.syncMu.Unlock()
	<-q.done
}

// Submit implements native.Device.
func (d *Device) Submit(kind native.Queue, batches []native.SubmitBatch, f native.Handle) error {
	if int(kind) >= len(d.queues) {
		return errors.Newf("soft: invalid queue %d", kind)
	}
	cp := make([]native.SubmitBatch, len(batches))
	for i, b := range batches {
		for _, h := range b.CommandBuffers {
			cb := d.commandBuffer(h)
			if cb == nil {
				return errHandle("command buffer", h)
			}
			if cb.recording {
				return errors.Newf("soft: command buffer %d is still recording", h)
			}
		}
		cp[i] = native.SubmitBatch{
			Wait:           append([]native.SemaphoreOp(nil), b.Wait...),
			CommandBuffers: append([]native.Handle(nil), b.CommandBuffers...),
			Signal:         append([]native.SemaphoreOp(nil), b.Signal...),
		}
	}
	if f != native.Null {
		if _, ok := d.get(f).(*fence); !ok {
			return errHandle("fence", f)
		}
	}
	d.submits.Add(1)
	return d.queues[kind].push(submission{batches: cp, fence: f})
}

// Submits returns how many Submit calls the device accepted.
func (d *Device) Submits() int64 {
	return d.submits.Load()
}
