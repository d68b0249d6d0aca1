// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

type swapchain struct {
	info   native.SwapchainInfo
	images []native.Handle

	mu        sync.Mutex
	next      uint32
	outOfDate bool
	retired   bool
	presents  []uint32
}

// CreateSwapchain implements native.Device. Swapchain images are plain
// images that are never shown anywhere.
func (d *Device) CreateSwapchain(info *native.SwapchainInfo) (native.SwapchainState, error) {
	if info.Width == 0 || info.Height == 0 {
		return native.SwapchainState{}, errors.New("soft: zero sized swapchain")
	}
	if old, ok := d.get(info.OldSwapchain).(*swapchain); ok {
		old.mu.Lock()
		old.retired = true
		old.mu.Unlock()
	}
	count := info.ImageCount
	if count < 2 {
		count = 2
	}
	format := info.Format
	if format == vk.FormatUndefined {
		format = vk.FormatB8g8r8a8Unorm
	}

	sc := &swapchain{info: *info}
	sc.info.Format = format
	sc.info.ImageCount = count
	for i := uint32(0); i < count; i++ {
		img, err := d.CreateImage(&native.ImageInfo{
			Type:        vk.ImageType2d,
			Format:      format,
			Extent:      vk.Extent3D{Width: info.Width, Height: info.Height, Depth: 1},
			MipLevels:   1,
			ArrayLayers: 1,
			Samples:     vk.SampleCount1Bit,
			Usage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		})
		if err != nil {
			for _, h := range sc.images {
				d.Destroy(native.KindImage, h)
			}
			return native.SwapchainState{}, err
		}
		sc.images = append(sc.images, img)
	}
	h := d.add(native.KindSwapchain, sc)
	return native.SwapchainState{
		Handle: h,
		Images: append([]native.Handle(nil), sc.images...),
		Format: format,
		Width:  info.Width,
		Height: info.Height,
	}, nil
}

// AcquireNextImage implements native.Device. The semaphore is signaled
// immediately.
func (d *Device) AcquireNextImage(h, sem native.Handle) (uint32, error) {
	sc, ok := d.get(h).(*swapchain)
	if !ok {
		return 0, errHandle("swapchain", h)
	}
	sc.mu.Lock()
	if sc.outOfDate || sc.retired {
		sc.mu.Unlock()
		return 0, native.ErrOutOfDate
	}
	idx := sc.next
	sc.next = (sc.next + 1) % uint32(len(sc.images))
	sc.mu.Unlock()
	if sem != native.Null {
		d.signal(native.SemaphoreOp{Semaphore: sem})
	}
	return idx, nil
}

// Present implements native.Device. Presentation is ordered with the
// queue's other work.
func (d *Device) Present(kind native.Queue, p *native.Present) error {
	if len(p.Swapchains) != len(p.Images) {
		return errors.New("soft: present needs one image per swapchain")
	}
	for _, h := range p.Swapchains {
		sc, ok := d.get(h).(*swapchain)
		if !ok {
			return errHandle("swapchain", h)
		}
		sc.mu.Lock()
		stale := sc.outOfDate
		sc.mu.Unlock()
		if stale {
			return native.ErrOutOfDate
		}
	}
	cp := &native.Present{
		Wait:       append([]native.Handle(nil), p.Wait...),
		Swapchains: append([]native.Handle(nil), p.Swapchains...),
		Images:     append([]uint32(nil), p.Images...),
	}
	return d.queues[kind].push(submission{present: cp})
}

func (d *Device) presented(h native.Handle, image uint32) {
	sc, ok := d.get(h).(*swapchain)
	if !ok {
		return
	}
	sc.mu.Lock()
	sc.presents = append(sc.presents, image)
	sc.mu.Unlock()
}

// Invalidate makes the swapchain report ErrOutOfDate, as a resized
// window would.
func (d *Device) Invalidate(h native.Handle) {
	if sc, ok := d.get(h).(*swapchain); ok {
		sc.mu.Lock()
		sc.outOfDate = true
		sc.mu.Unlock()
	}
}

// Presented returns the image indices presented on a swapchain so far.
func (d *Device) Presented(h native.Handle) []uint32 {
	sc, ok := d.get(h).(*swapchain)
	if !ok {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]uint32(nil), sc.presents...)
}
