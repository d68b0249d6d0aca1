// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
	"github.com/sirupsen/logrus"
)

type swapchain struct {
	swapchain vk.Swapchain
	images    []native.Handle
}

func (d *Device) swapchainOf(h native.Handle) *swapchain {
	sc, _ := d.get(h).(*swapchain)
	return sc
}

// surfaceOf returns the surface of a window, creating it on first use.
// vk.Surface values are accepted as they are.
func (d *Device) surfaceOf(key interface{}) (vk.Surface, error) {
	if s, ok := key.(vk.Surface); ok && s != vk.NullSurface {
		return s, nil
	}
	window, ok := key.(Window)
	if !ok {
		return vk.NullSurface, errors.Wrapf(native.ErrUnsupported, "surface of type %T", key)
	}
	d.surfaceMu.Lock()
	defer d.surfaceMu.Unlock()
	if s, ok := d.surfaces[key]; ok {
		return s, nil
	}
	s, err := window.CreateSurface(d.instance)
	if err != nil {
		return vk.NullSurface, errors.Wrap(err, "window.CreateSurface()")
	}
	d.surfaces[key] = s
	return s, nil
}

// pickSurfaceFormat returns the requested format when the surface
// supports it, otherwise the first supported one.
func (d *Device) pickSurfaceFormat(surface vk.Surface, format vk.Format, space vk.ColorSpace) (vk.SurfaceFormat, error) {
	var count uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(d.gpu, surface, &count, nil)); err != nil {
		return vk.SurfaceFormat{}, errors.Wrap(err, "vk.GetPhysicalDeviceSurfaceFormats()")
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(d.gpu, surface, &count, formats)); err != nil {
		return vk.SurfaceFormat{}, errors.Wrap(err, "vk.GetPhysicalDeviceSurfaceFormats()")
	}
	if count == 0 {
		return vk.SurfaceFormat{}, errors.New("surface reports no formats")
	}
	for i := range formats {
		formats[i].Deref()
	}
	if count == 1 && formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: format, ColorSpace: space}, nil
	}
	for _, f := range formats {
		if f.Format == format && f.ColorSpace == space {
			return f, nil
		}
	}
	for _, f := range formats {
		if f.Format == format {
			return f, nil
		}
	}
	d.log.WithFields(logrus.Fields{"requested": format, "chosen": formats[0].Format}).Warn("Swapchain format not supported")
	return formats[0], nil
}

// CreateSwapchain implements native.Device. The extent is clamped to
// what the surface allows.
func (d *Device) CreateSwapchain(info *native.SwapchainInfo) (native.SwapchainState, error) {
	surface, err := d.surfaceOf(info.Surface)
	if err != nil {
		return native.SwapchainState{}, err
	}

	var caps vk.SurfaceCapabilities
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(d.gpu, surface, &caps)); err != nil {
		return native.SwapchainState{}, errors.Wrap(err, "vk.GetPhysicalDeviceSurfaceCapabilities()")
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	extent := vk.Extent2D{Width: info.Width, Height: info.Height}
	if caps.CurrentExtent.Width != ^uint32(0) {
		extent = caps.CurrentExtent
	} else {
		extent.Width = min(max(extent.Width, caps.MinImageExtent.Width), caps.MaxImageExtent.Width)
		extent.Height = min(max(extent.Height, caps.MinImageExtent.Height), caps.MaxImageExtent.Height)
	}
	if extent.Width == 0 || extent.Height == 0 {
		return native.SwapchainState{}, errors.Wrap(native.ErrOutOfDate, "surface has no area")
	}

	count := max(info.ImageCount, caps.MinImageCount)
	if caps.MaxImageCount > 0 {
		count = min(count, caps.MaxImageCount)
	}

	format, err := d.pickSurfaceFormat(surface, info.Format, info.ColorSpace)
	if err != nil {
		return native.SwapchainState{}, err
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	presentMode := vk.PresentModeFifo
	if !info.VSync {
		presentMode = d.immediatePresentMode(surface)
	}

	var old vk.Swapchain
	if sc := d.swapchainOf(info.OldSwapchain); sc != nil {
		old = sc.swapchain
	}
	scci := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    count,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     vk.SurfaceTransformIdentityBit,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     old,
	}
	var handle vk.Swapchain
	if err := resultError(vk.CreateSwapchain(d.device, &scci, nil, &handle), "vk.CreateSwapchain()"); err != nil {
		return native.SwapchainState{}, err
	}

	var numImages uint32
	if err := vk.Error(vk.GetSwapchainImages(d.device, handle, &numImages, nil)); err != nil {
		vk.DestroySwapchain(d.device, handle, nil)
		return native.SwapchainState{}, errors.Wrap(err, "vk.GetSwapchainImages()")
	}
	images := make([]vk.Image, numImages)
	if err := vk.Error(vk.GetSwapchainImages(d.device, handle, &numImages, images)); err != nil {
		vk.DestroySwapchain(d.device, handle, nil)
		return native.SwapchainState{}, errors.Wrap(err, "vk.GetSwapchainImages()")
	}

	sc := &swapchain{swapchain: handle}
	for _, img := range images {
		sc.images = append(sc.images, d.add(native.KindImage, &image{image: img}))
	}
	h := d.add(native.KindSwapchain, sc)
	return native.SwapchainState{
		Handle: h,
		Images: append([]native.Handle(nil), sc.images...),
		Format: format.Format,
		Width:  extent.Width,
		Height: extent.Height,
	}, nil
}

func (d *Device) immediatePresentMode(surface vk.Surface) vk.PresentMode {
	var count uint32
	if vk.Error(vk.GetPhysicalDeviceSurfacePresentModes(d.gpu, surface, &count, nil)) != nil {
		return vk.PresentModeFifo
	}
	modes := make([]vk.PresentMode, count)
	if vk.Error(vk.GetPhysicalDeviceSurfacePresentModes(d.gpu, surface, &count, modes)) != nil {
		return vk.PresentModeFifo
	}
	mode := vk.PresentModeFifo
	for _, m := range modes {
		switch m {
		case vk.PresentModeMailbox:
			return m
		case vk.PresentModeImmediate:
			mode = m
		}
	}
	return mode
}

// AcquireNextImage implements native.Device.
func (d *Device) AcquireNextImage(h, sem native.Handle) (uint32, error) {
	sc := d.swapchainOf(h)
	if sc == nil {
		return 0, errors.Wrapf(native.ErrInvalidHandle, "swapchain %d", h)
	}
	s, ok := d.get(sem).(*semaphore)
	if !ok || s.timeline {
		return 0, errors.Wrapf(native.ErrInvalidHandle, "binary semaphore %d", sem)
	}
	var idx uint32
	res := vk.AcquireNextImage(d.device, sc.swapchain, timeoutOf(-1), s.binary, nil, &idx)
	if res == vk.Suboptimal {
		return idx, nil
	}
	if err := resultError(res, "vk.AcquireNextImage()"); err != nil {
		return 0, err
	}
	return idx, nil
}

// Present implements native.Device. A suboptimal swapchain presents
// fine and is not reported.
func (d *Device) Present(queue native.Queue, p *native.Present) error {
	waits := make([]vk.Semaphore, 0, len(p.Wait))
	for _, h := range p.Wait {
		s, ok := d.get(h).(*semaphore)
		if !ok || s.timeline {
			return errors.Wrapf(native.ErrInvalidHandle, "binary semaphore %d", h)
		}
		waits = append(waits, s.binary)
	}
	swapchains := make([]vk.Swapchain, 0, len(p.Swapchains))
	for _, h := range p.Swapchains {
		sc := d.swapchainOf(h)
		if sc == nil {
			return errors.Wrapf(native.ErrInvalidHandle, "swapchain %d", h)
		}
		swapchains = append(swapchains, sc.swapchain)
	}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    waits,
		SwapchainCount:     uint32(len(swapchains)),
		PSwapchains:        swapchains,
		PImageIndices:      p.Images,
	}
	slot := d.slots[queue]
	d.queueMu[slot].Lock()
	res := vk.QueuePresent(d.queues[slot], &presentInfo)
	d.queueMu[slot].Unlock()
	if res == vk.Suboptimal {
		return nil
	}
	return resultError(res, "vk.QueuePresent()")
}
