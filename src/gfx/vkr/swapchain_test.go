// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	qt "github.com/frankban/quicktest"
)

func mustSwapChain(c *qt.C, d *Device, w, h uint32) gfx.SwapChain {
	sc, err := d.CreateSwapChain(&gfx.SwapChainDesc{
		Width:       w,
		Height:      h,
		BufferCount: 2,
		Format:      gfx.FormatB8G8R8A8Unorm,
		ClearColor:  [4]float32{0, 0, 1, 1},
	}, "window", nil)
	c.Assert(err, qt.IsNil)
	return sc
}

func presentFrame(c *qt.C, d *Device, sc *gfx.SwapChain) {
	cmd := mustBegin(c, d, gfx.QueueGraphics)
	d.RenderPassBeginSwapChain(cmd, sc)
	d.RenderPassEnd(cmd)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
}

func TestPresentSwapChain(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})
	sc := mustSwapChain(c, d, 32, 16)
	s := swapChainOf(&sc)

	for i := 0; i < 3; i++ {
		presentFrame(c, d, &sc)
	}
	c.Assert(d.WaitForGPU(), qt.IsNil)
	c.Assert(drv.Presented(s.swapchain), qt.DeepEquals, []uint32{0, 1, 0})

	back := d.GetBackBuffer(&sc)
	c.Assert(back.Desc.Width, qt.Equals, uint32(32))
	c.Assert(back.Desc.Height, qt.Equals, uint32(16))
	c.Assert(resourceOf(&back.GPUResource).image, qt.Equals, s.images[0])

	// The clear color is stored in BGRA order.
	data := drv.ImageData(s.images[0], 0, 0)
	c.Assert(data[:4], qt.DeepEquals, []byte{255, 0, 0, 255})

	stats := drv.Stats()
	c.Assert(stats.RenderPasses, qt.Equals, 3)
	c.Assert(stats.LayoutErrors, qt.Equals, 0)
}

func TestSwapChainRecreatedWhenOutOfDate(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})
	sc := mustSwapChain(c, d, 32, 32)
	s := swapChainOf(&sc)

	presentFrame(c, d, &sc)
	old := s.swapchain
	drv.Invalidate(old)

	presentFrame(c, d, &sc)
	c.Assert(s.swapchain, qt.Not(qt.Equals), old)
	c.Assert(d.WaitForGPU(), qt.IsNil)
	c.Assert(drv.Presented(old), qt.DeepEquals, []uint32{0})
	c.Assert(drv.Presented(s.swapchain), qt.DeepEquals, []uint32{0})

	for i := uint32(0); i < d.BufferCount(); i++ {
		c.Assert(d.SubmitCommandLists(), qt.IsNil)
	}
	c.Assert(destroyed(drv, native.KindSwapchain, old), qt.IsTrue)
}

func TestSwapChainOutOfDateAtPresent(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})
	sc := mustSwapChain(c, d, 32, 32)
	s := swapChainOf(&sc)

	cmd := mustBegin(c, d, gfx.QueueGraphics)
	d.RenderPassBeginSwapChain(cmd, &sc)
	d.RenderPassEnd(cmd)
	old := s.swapchain
	drv.Invalidate(old)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(s.outOfDate.Load(), qt.IsTrue)

	presentFrame(c, d, &sc)
	c.Assert(s.swapchain, qt.Not(qt.Equals), old)
	c.Assert(s.outOfDate.Load(), qt.IsFalse)
}

func TestResizeSwapChain(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})
	sc := mustSwapChain(c, d, 32, 32)
	old := swapChainOf(&sc).swapchain

	desc := sc.Desc
	desc.Width, desc.Height = 64, 48
	resized, err := d.CreateSwapChain(&desc, nil, &sc)
	c.Assert(err, qt.IsNil)
	c.Assert(resized.Internal, qt.Equals, sc.Internal)
	c.Assert(resized.Desc.Width, qt.Equals, uint32(64))
	c.Assert(swapChainOf(&resized).swapchain, qt.Not(qt.Equals), old)
	c.Assert(swapChainOf(&resized).surface, qt.Equals, interface{}("window"))

	presentFrame(c, d, &resized)
	back := d.GetBackBuffer(&resized)
	c.Assert(back.Desc.Height, qt.Equals, uint32(48))
}

func TestCreateSwapChainRejectsEmptyExtent(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	_, err := d.CreateSwapChain(&gfx.SwapChainDesc{Width: 0, Height: 32}, nil, nil)
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidDesc)
}
