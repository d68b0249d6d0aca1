// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"bytes"
	"testing"
	"time"

	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	"github.com/devblok/korugfx/src/gfx/vkr/native/soft"
	qt "github.com/frankban/quicktest"
)

func destroyed(drv *soft.Device, kind native.Kind, h native.Handle) bool {
	for _, d := range drv.DestroyLog() {
		if d.Kind == kind && d.Handle == h {
			return true
		}
	}
	return false
}

func TestSubmitAdvancesFrame(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	c.Assert(d.FrameCount(), qt.Equals, uint64(0))
	c.Assert(d.BufferCount(), qt.Equals, uint32(DefaultBufferCount))
	for i := 1; i <= 5; i++ {
		cmd := mustBegin(c, d, gfx.QueueGraphics)
		c.Assert(cmd, qt.Equals, gfx.CommandList(0))
		c.Assert(d.SubmitCommandLists(), qt.IsNil)
		c.Assert(d.FrameCount(), qt.Equals, uint64(i))
	}
}

func TestSubmitBlocksWhenGPUIsBehind(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{BufferCount: 2})

	drv.Pause()
	defer drv.Resume()
	c.Assert(d.SubmitCommandLists(), qt.IsNil)

	done := make(chan error, 1)
	go func() {
		done <- d.SubmitCommandLists()
	}()
	select {
	case err := <-done:
		c.Fatalf("second frame finished while the first was still on the GPU: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	drv.Resume()
	select {
	case err := <-done:
		c.Assert(err, qt.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("frame did not advance after the GPU caught up")
	}
	c.Assert(d.FrameCount(), qt.Equals, uint64(2))
}

func TestFenceTimeout(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{BufferCount: 1, FenceTimeout: 20 * time.Millisecond})

	drv.Pause()
	defer drv.Resume()
	err := d.SubmitCommandLists()
	c.Assert(err, qt.ErrorIs, native.ErrTimeout)
}

func TestDeferredDestruction(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{BufferCount: 3})

	buf := mustBuffer(c, d, gfx.BufferDesc{Size: 64, BindFlags: gfx.BindConstantBuffer}, nil)
	h := resourceOf(&buf.GPUResource).buffer
	buf.Release()
	c.Assert(buf.IsValid(), qt.IsFalse)
	c.Assert(d.alloc.pending(native.KindBuffer), qt.Equals, 1)

	for i := 0; i < 2; i++ {
		c.Assert(d.SubmitCommandLists(), qt.IsNil)
		c.Assert(destroyed(drv, native.KindBuffer, h), qt.IsFalse, qt.Commentf("frame %d", d.FrameCount()))
	}
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(destroyed(drv, native.KindBuffer, h), qt.IsTrue)
	c.Assert(d.alloc.pending(native.KindBuffer), qt.Equals, 0)
}

func TestCommandListExhaustion(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{CommandListCount: 2})

	mustBegin(c, d, gfx.QueueGraphics)
	mustBegin(c, d, gfx.QueueCompute)
	_, err := d.BeginCommandList(gfx.QueueGraphics)
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidCommandList)

	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	cmd := mustBegin(c, d, gfx.QueueGraphics)
	c.Assert(cmd, qt.Equals, gfx.CommandList(0))
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
}

func TestBeginInvalidQueue(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	_, err := d.BeginCommandList(gfx.QueueCount)
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidDesc)
}

func TestWaitCommandListOrder(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	first := mustBegin(c, d, gfx.QueueGraphics)
	second := mustBegin(c, d, gfx.QueueCompute)
	c.Assert(d.WaitCommandList(first, second), qt.ErrorIs, gfx.ErrInvalidWait)
	c.Assert(d.WaitCommandList(second, second), qt.ErrorIs, gfx.ErrInvalidWait)
	c.Assert(d.WaitCommandList(second, first), qt.IsNil)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
}

func TestRecordingOnInactiveList(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	d.Draw(3, 3, 0)
	err := d.SubmitCommandLists()
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidCommandList)

	// Stray errors are reported once.
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
}

func TestCrossQueueWaitSignalsTimeline(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{CommandListCount: 8})

	data := []byte("copied on the copy queue first")
	src := mustBuffer(c, d, gfx.BufferDesc{Size: 64, Usage: gfx.UsageUpload}, data)
	mid := mustBuffer(c, d, gfx.BufferDesc{Size: 64, BindFlags: gfx.BindShaderResource}, nil)
	dst := mustBuffer(c, d, gfx.BufferDesc{Size: 64, Usage: gfx.UsageReadback}, nil)

	copyList := mustBegin(c, d, gfx.QueueCopy)
	d.CopyResource(copyList, &mid.GPUResource, &src.GPUResource)
	gfxList := mustBegin(c, d, gfx.QueueGraphics)
	c.Assert(d.WaitCommandList(gfxList, copyList), qt.IsNil)
	d.CopyResource(gfxList, &dst.GPUResource, &mid.GPUResource)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)

	c.Assert(bytes.HasPrefix(dst.Mapped, data), qt.IsTrue)
	v, err := drv.SemaphoreValue(d.timelines[gfx.QueueCopy])
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, uint64(gfxList))
}

func TestWaitOnSameQueueBatch(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{CommandListCount: 8})

	// graphics, compute, graphics waiting on compute: three batches.
	mustBegin(c, d, gfx.QueueGraphics)
	compute := mustBegin(c, d, gfx.QueueCompute)
	last := mustBegin(c, d, gfx.QueueGraphics)
	c.Assert(d.WaitCommandList(last, compute), qt.IsNil)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)

	g, err := drv.SemaphoreValue(d.timelines[gfx.QueueGraphics])
	c.Assert(err, qt.IsNil)
	c.Assert(g, qt.Equals, uint64(compute))
	cv, err := drv.SemaphoreValue(d.timelines[gfx.QueueCompute])
	c.Assert(err, qt.IsNil)
	c.Assert(cv, qt.Equals, uint64(last))

	// The next frame signals above every value of this one.
	first := mustBegin(c, d, gfx.QueueCompute)
	mustBegin(c, d, gfx.QueueGraphics)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)
	cv, err = drv.SemaphoreValue(d.timelines[gfx.QueueCompute])
	c.Assert(err, qt.IsNil)
	c.Assert(cv, qt.Equals, uint64(8+first+1))
}

func TestInitCommandsRunBeforeComputeList(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})

	tex := mustTexture(c, d, renderTarget(4, 4))
	image := resourceOf(&tex.GPUResource).image

	mustBegin(c, d, gfx.QueueCompute)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)
	c.Assert(drv.ImageLayout(image, 0, 0), qt.Equals, convertImageLayout(gfx.StateRenderTarget))
	c.Assert(drv.Stats().LayoutErrors, qt.Equals, 0)
}
