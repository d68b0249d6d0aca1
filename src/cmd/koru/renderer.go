// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"

	"github.com/devblok/korugfx/src/core"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr"
	log "github.com/sirupsen/logrus"
)

// renderer clears the window every frame and draws a spinning triangle
// when the shader library has one.
type renderer struct {
	dev       *vkr.Device
	desc      gfx.SwapChainDesc
	swapchain gfx.SwapChain

	library *core.ShaderLibrary
	shaders map[string]gfx.Shader
	pso     *gfx.PipelineState

	// pending resize as width<<32 | height, zero when none
	resized atomic.Uint64

	log *log.Entry
}

func newRenderer(dev *vkr.Device, win window, cfg core.Configuration) (*renderer, error) {
	r := &renderer{
		dev: dev,
		log: log.WithField("component", "koru"),
	}
	width, height := win.drawableSize()
	r.desc = gfx.SwapChainDesc{
		Width:       width,
		Height:      height,
		BufferCount: cfg.Device.SwapchainSize,
		Format:      gfx.FormatB8G8R8A8Unorm,
		VSync:       cfg.Window.VSync,
		ClearColor:  [4]float32{0.05, 0.05, 0.1, 1},
	}
	sc, err := dev.CreateSwapChain(&r.desc, win, nil)
	if err != nil {
		return nil, err
	}
	r.swapchain = sc

	library, err := core.OpenShaderLibrary(cfg.ShaderArchive)
	if err != nil {
		r.log.WithError(err).Warn("No shader library, only clearing")
		return r, nil
	}
	r.library = library
	if r.shaders, err = library.CreateShaders(dev); err != nil {
		r.release()
		return nil, err
	}
	vs, okv := r.shaders["triangle.vert"]
	ps, okp := r.shaders["triangle.frag"]
	if !okv || !okp {
		r.log.Warn("Shader library has no triangle shaders")
		return r, nil
	}
	pso, err := dev.CreatePipelineState(&gfx.PipelineStateDesc{
		VS: &vs,
		PS: &ps,
		PT: gfx.TopologyTriangleList,
	})
	if err != nil {
		r.release()
		return nil, err
	}
	r.pso = &pso
	return r, nil
}

// resize is called from the event loop.
func (r *renderer) resize(width, height uint32) {
	r.resized.Store(uint64(width)<<32 | uint64(height))
}

func (r *renderer) frame(elapsed time.Duration) error {
	if size := r.resized.Swap(0); size != 0 {
		r.desc.Width, r.desc.Height = uint32(size>>32), uint32(size)
		if r.desc.Width > 0 && r.desc.Height > 0 {
			sc, err := r.dev.CreateSwapChain(&r.desc, nil, &r.swapchain)
			if err != nil {
				return err
			}
			r.swapchain = sc
			r.log.WithFields(log.Fields{"width": r.desc.Width, "height": r.desc.Height}).Info("Resized")
		}
	}

	cmd, err := r.dev.BeginCommandList(gfx.QueueGraphics)
	if err != nil {
		return err
	}
	r.dev.EventBegin(cmd, "frame")
	r.dev.RenderPassBeginSwapChain(cmd, &r.swapchain)
	if r.pso != nil {
		w, h := float32(r.desc.Width), float32(r.desc.Height)
		r.dev.BindViewports(cmd, []gfx.Viewport{{Width: w, Height: h, MaxDepth: 1}})
		r.dev.BindScissorRects(cmd, []gfx.Rect{{Right: int32(r.desc.Width), Bottom: int32(r.desc.Height)}})
		r.dev.BindPipelineState(cmd, r.pso)

		m := transform(elapsed, w/h)
		push := make([]byte, 4*len(m))
		for i, f := range m {
			binary.LittleEndian.PutUint32(push[4*i:], math.Float32bits(f))
		}
		r.dev.PushConstants(cmd, push)
		r.dev.Draw(cmd, 3, 0)
	}
	r.dev.RenderPassEnd(cmd)
	r.dev.EventEnd(cmd)
	return r.dev.SubmitCommandLists()
}

func (r *renderer) release() {
	if r.pso != nil {
		r.pso.Release()
	}
	for _, s := range r.shaders {
		s.Release()
	}
	if r.library != nil {
		r.library.Close()
	}
	r.swapchain.Release()
}
