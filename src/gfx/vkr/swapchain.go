// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
	"github.com/sirupsen/logrus"
)

type swapChainState struct {
	deviceChild

	mu           sync.Mutex
	surface      interface{}
	desc         gfx.SwapChainDesc
	swapchain    native.Handle
	images       []native.Handle
	views        []native.Handle
	framebuffers []native.Handle
	format       vk.Format
	pass         renderPassState
	imageIndex   uint32
	outOfDate    atomic.Bool

	// Binary semaphores, one pair per frame slot.
	acquire []native.Handle
	release []native.Handle
}

func swapChainOf(sc *gfx.SwapChain) *swapChainState {
	if sc == nil {
		return nil
	}
	s, _ := sc.Internal.(*swapChainState)
	if s == nil || s.Released() {
		return nil
	}
	return s
}

func (s *swapChainState) Release() {
	if !s.markReleased() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retire()
	a := s.dev.alloc
	for _, sem := range append(s.acquire, s.release...) {
		a.retire(native.KindSemaphore, sem)
	}
}

// retire hands the swapchain and everything built on its images over
// for deferred destruction.
func (s *swapChainState) retire() {
	a := s.dev.alloc
	for _, fb := range s.framebuffers {
		a.retire(native.KindFramebuffer, fb)
	}
	for _, v := range s.views {
		a.retire(native.KindImageView, v)
	}
	a.retire(native.KindRenderPass, s.pass.renderPass)
	a.retire(native.KindSwapchain, s.swapchain)
	s.framebuffers, s.views, s.images = nil, nil, nil
	s.pass.renderPass = native.Null
	s.swapchain = native.Null
}

func swapChainColorSpace(desc *gfx.SwapChainDesc) vk.ColorSpace {
	if desc.AllowHDR {
		switch desc.Format {
		case gfx.FormatR10G10B10A2Unorm:
			return convertColorSpace(gfx.ColorSpaceHDR10ST2084)
		case gfx.FormatR16G16B16A16Float:
			return convertColorSpace(gfx.ColorSpaceHDRLinear)
		}
	}
	return convertColorSpace(gfx.ColorSpaceSRGB)
}

// create builds the swapchain, replacing the current one if any.
func (s *swapChainState) create() error {
	d := s.dev
	old := s.swapchain
	st, err := d.drv.CreateSwapchain(&native.SwapchainInfo{
		Surface:      s.surface,
		Width:        s.desc.Width,
		Height:       s.desc.Height,
		ImageCount:   s.desc.BufferCount,
		Format:       convertFormat(s.desc.Format),
		ColorSpace:   swapChainColorSpace(&s.desc),
		VSync:        s.desc.VSync,
		OldSwapchain: old,
	})
	if err != nil {
		return errors.Wrap(err, "vk.CreateSwapchainKHR()")
	}
	if old != native.Null {
		s.retire()
	}
	s.swapchain = st.Handle
	s.images = st.Images
	s.format = st.Format
	s.desc.Width, s.desc.Height = st.Width, st.Height

	s.pass.renderPass, err = d.drv.CreateRenderPass(&native.RenderPassInfo{
		Attachments: []native.AttachmentInfo{{
			Format:         st.Format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		}},
		Color: []native.AttachmentRef{{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal}},
	})
	if err != nil {
		return errors.Wrap(err, "vk.CreateRenderPass()")
	}

	for _, img := range s.images {
		v, err := d.drv.CreateImageView(&native.ImageViewInfo{
			Image:    img,
			ViewType: vk.ImageViewType2d,
			Format:   st.Format,
			Range: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		})
		if err != nil {
			return errors.Wrap(err, "vk.CreateImageView()")
		}
		s.views = append(s.views, v)
		fb, err := d.drv.CreateFramebuffer(&native.FramebufferInfo{
			RenderPass:  s.pass.renderPass,
			Attachments: []native.Handle{v},
			Width:       st.Width,
			Height:      st.Height,
			Layers:      1,
		})
		if err != nil {
			return errors.Wrap(err, "vk.CreateFramebuffer()")
		}
		s.framebuffers = append(s.framebuffers, fb)
	}

	s.pass.samples = 1
	s.pass.colorCount = 1
	s.pass.hash = hashRenderPass([]vk.Format{st.Format}, []uint32{1})
	s.pass.begin = native.RenderPassBegin{
		RenderPass:  s.pass.renderPass,
		Area:        vk.Rect2D{Extent: vk.Extent2D{Width: st.Width, Height: st.Height}},
		ClearValues: []native.ClearValue{{Color: s.desc.ClearColor}},
	}
	s.outOfDate.Store(false)

	d.log.WithFields(logrus.Fields{
		"width":  st.Width,
		"height": st.Height,
		"images": len(s.images),
	}).Info("Swapchain created")
	return nil
}

// CreateSwapChain implements gfx.Device. Passing a live previous swap
// chain resizes it in place and returns it with the new description.
func (d *Device) CreateSwapChain(desc *gfx.SwapChainDesc, surface interface{}, previous *gfx.SwapChain) (gfx.SwapChain, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return gfx.SwapChain{}, errors.Wrapf(gfx.ErrInvalidDesc, "swap chain extent %dx%d", desc.Width, desc.Height)
	}

	if s := swapChainOf(previous); s != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.desc = *desc
		if surface != nil {
			s.surface = surface
		}
		if err := s.create(); err != nil {
			return gfx.SwapChain{}, err
		}
		return gfx.SwapChain{DeviceChild: previous.DeviceChild, Desc: s.desc}, nil
	}

	s := &swapChainState{surface: surface, desc: *desc}
	s.dev = d
	s.pass.dev = d
	for i := uint32(0); i < d.cfg.BufferCount; i++ {
		acq, err := d.drv.CreateSemaphore(false)
		if err != nil {
			s.Release()
			return gfx.SwapChain{}, errors.Wrap(err, "vk.CreateSemaphore()")
		}
		s.acquire = append(s.acquire, acq)
		rel, err := d.drv.CreateSemaphore(false)
		if err != nil {
			s.Release()
			return gfx.SwapChain{}, errors.Wrap(err, "vk.CreateSemaphore()")
		}
		s.release = append(s.release, rel)
	}
	if err := s.create(); err != nil {
		s.Release()
		return gfx.SwapChain{}, err
	}
	track(s)
	return gfx.SwapChain{DeviceChild: gfx.DeviceChild{Internal: s}, Desc: s.desc}, nil
}

// acquireImage acquires the next back buffer for a frame slot,
// recreating the swapchain once when it went out of date.
func (s *swapChainState) acquireImage(slot int) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 0; ; attempt++ {
		if s.outOfDate.Load() {
			if err := s.create(); err != nil {
				return 0, err
			}
		}
		idx, err := s.dev.drv.AcquireNextImage(s.swapchain, s.acquire[slot])
		if err == nil {
			s.imageIndex = idx
			return idx, nil
		}
		if !errors.Is(err, native.ErrOutOfDate) || attempt > 0 {
			return 0, errors.Wrap(err, "vk.AcquireNextImageKHR()")
		}
		s.dev.log.Debug("Swapchain out of date, recreating")
		s.outOfDate.Store(true)
	}
}

// GetBackBuffer implements gfx.Device. The texture is the image last
// acquired and stays owned by the swap chain.
func (d *Device) GetBackBuffer(swapchain *gfx.SwapChain) gfx.Texture {
	s := swapChainOf(swapchain)
	if s == nil {
		return gfx.Texture{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := newResourceState(d, gfx.ResourceTexture)
	r.image = s.images[s.imageIndex]
	r.format = s.format
	r.imageType = vk.ImageType2d
	r.mipLevels = 1
	r.arraySize = 1
	r.depthCount = 1

	tex := gfx.Texture{Desc: gfx.TextureDesc{
		Type:        gfx.Texture2D,
		Width:       s.desc.Width,
		Height:      s.desc.Height,
		Depth:       1,
		ArraySize:   1,
		MipLevels:   1,
		Format:      s.desc.Format,
		SampleCount: 1,
		BindFlags:   gfx.BindRenderTarget,
	}}
	tex.Type = gfx.ResourceTexture
	r.texDesc = tex.Desc
	tex.Internal = r
	return tex
}

// RenderPassBeginSwapChain implements gfx.Device. The back buffer is
// cleared to the swap chain clear color and presented when the list is
// submitted.
func (d *Device) RenderPassBeginSwapChain(cmd gfx.CommandList, swapchain *gfx.SwapChain) {
	l := d.list(cmd)
	if l == nil || !l.outsideRenderPass("RenderPassBeginSwapChain") {
		return
	}
	s := swapChainOf(swapchain)
	if s == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "swap chain"))
		return
	}
	slot := int(d.frameCount.Load() % uint64(d.cfg.BufferCount))
	idx, err := s.acquireImage(slot)
	if err != nil {
		l.fail(err)
		return
	}
	l.swapchains = append(l.swapchains, swapchainUse{state: s, image: idx, slot: slot})

	begin := s.pass.begin
	begin.Framebuffer = s.framebuffers[idx]
	l.cb.BeginRenderPass(&begin)
	l.renderPass = &s.pass
	l.psoDirty = true
}
