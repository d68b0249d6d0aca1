// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

// copyCmd is a transfer command buffer with its staging buffer.
type copyCmd struct {
	pool   native.Handle
	cb     native.CommandBuffer
	upload native.Handle
	size   uint64
	mapped []byte
	target uint64
}

// copyAllocator records initial data uploads on the copy queue. Uploads
// are batched into one submission per frame, which signals the copy
// timeline.
type copyAllocator struct {
	drv       native.Device
	queue     native.Queue
	semaphore native.Handle

	mu         sync.Mutex
	fenceValue uint64
	free       []*copyCmd
	work       []*copyCmd
	pending    []native.Handle
	submitWait uint64
}

func newCopyAllocator(d *Device) (*copyAllocator, error) {
	sem, err := d.drv.CreateSemaphore(true)
	if err != nil {
		return nil, errors.Wrap(err, "vk.CreateSemaphore()")
	}
	return &copyAllocator{
		drv:       d.drv,
		queue:     d.nativeQueue(gfx.QueueCopy),
		semaphore: sem,
	}, nil
}

func nextPowerOfTwo(v uint64) uint64 {
	p := uint64(1)
	for p < v {
		p <<= 1
	}
	return p
}

// allocate returns a recording command buffer whose staging buffer holds
// at least size bytes.
func (c *copyAllocator) allocate(size uint64) (*copyCmd, error) {
	c.mu.Lock()
	if len(c.free) == 0 {
		pool, err := c.drv.CreateCommandPool(c.queue)
		if err != nil {
			c.mu.Unlock()
			return nil, errors.Wrap(err, "vk.CreateCommandPool()")
		}
		cb, err := c.drv.AllocateCommandBuffer(pool)
		if err != nil {
			c.mu.Unlock()
			c.drv.Destroy(native.KindCommandPool, pool)
			return nil, errors.Wrap(err, "vk.AllocateCommandBuffers()")
		}
		c.free = append(c.free, &copyCmd{pool: pool, cb: cb})
	}
	last := len(c.free) - 1
	if c.free[last].size < size {
		for i, cmd := range c.free {
			if cmd.size >= size {
				c.free[i], c.free[last] = c.free[last], c.free[i]
				break
			}
		}
	}
	cmd := c.free[last]
	c.free = c.free[:last]
	c.mu.Unlock()

	if cmd.size < size {
		if cmd.upload != native.Null {
			c.drv.Destroy(native.KindBuffer, cmd.upload)
		}
		cmd.size = nextPowerOfTwo(size)
		upload, err := c.drv.CreateBuffer(&native.BufferInfo{
			Size:   cmd.size,
			Usage:  vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
			Memory: native.MemoryUpload,
		})
		if err != nil {
			cmd.size, cmd.upload, cmd.mapped = 0, native.Null, nil
			c.release(cmd)
			return nil, errors.Wrap(err, "vk.CreateBuffer()")
		}
		cmd.upload = upload
		cmd.mapped = c.drv.Mapped(upload)
	}

	if err := c.drv.ResetCommandPool(cmd.pool); err != nil {
		c.release(cmd)
		return nil, errors.Wrap(err, "vk.ResetCommandPool()")
	}
	if err := cmd.cb.Begin(true); err != nil {
		c.release(cmd)
		return nil, errors.Wrap(err, "vk.BeginCommandBuffer()")
	}
	return cmd, nil
}

func (c *copyAllocator) release(cmd *copyCmd) {
	c.mu.Lock()
	c.free = append(c.free, cmd)
	c.mu.Unlock()
}

// submit ends a command buffer and queues it for the next flush.
func (c *copyAllocator) submit(cmd *copyCmd) error {
	if err := cmd.cb.End(); err != nil {
		return errors.Wrap(err, "vk.EndCommandBuffer()")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fenceValue++
	cmd.target = c.fenceValue
	c.work = append(c.work, cmd)
	c.pending = append(c.pending, cmd.cb.Handle())
	c.submitWait = cmd.target
	return nil
}

// flush submits the queued uploads and returns the timeline value that
// marks their completion, 0 when nothing was queued. Finished command
// buffers return to the free list.
func (c *copyAllocator) flush() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if len(c.pending) > 0 {
		err = c.drv.Submit(c.queue, []native.SubmitBatch{{
			CommandBuffers: c.pending,
			Signal:         []native.SemaphoreOp{{Semaphore: c.semaphore, Value: c.submitWait}},
		}}, native.Null)
		err = errors.Wrap(err, "vk.QueueSubmit()")
		c.pending = nil
	}

	completed, verr := c.drv.SemaphoreValue(c.semaphore)
	if verr == nil {
		work := c.work[:0]
		for _, cmd := range c.work {
			if cmd.target <= completed {
				c.free = append(c.free, cmd)
			} else {
				work = append(work, cmd)
			}
		}
		c.work = work
	}

	value := c.submitWait
	c.submitWait = 0
	if err != nil {
		return 0, err
	}
	return value, nil
}

// close destroys every command buffer and staging buffer. The device
// must be idle.
func (c *copyAllocator) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range append(c.free, c.work...) {
		c.drv.Destroy(native.KindCommandPool, cmd.pool)
		if cmd.upload != native.Null {
			c.drv.Destroy(native.KindBuffer, cmd.upload)
		}
	}
	c.free, c.work = nil, nil
	c.drv.Destroy(native.KindSemaphore, c.semaphore)
}
