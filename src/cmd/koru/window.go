// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/devblok/vulkan"
	"github.com/veandco/go-sdl2/sdl"
)

// window adapts an SDL window to the Vulkan driver.
type window struct {
	*sdl.Window
}

func newWindow(title string, width, height uint32) (window, error) {
	w, err := sdl.CreateWindow(title,
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(width),
		int32(height),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return window{}, errors.Wrap(err, "sdl.CreateWindow()")
	}
	return window{w}, nil
}

func (w window) ProcAddr() unsafe.Pointer {
	return sdl.VulkanGetVkGetInstanceProcAddr()
}

func (w window) InstanceExtensions() []string {
	return w.VulkanGetInstanceExtensions()
}

func (w window) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	p, err := w.VulkanCreateSurface(instance)
	if err != nil {
		return vk.NullSurface, errors.Wrap(err, "sdl.VulkanCreateSurface()")
	}
	return vk.SurfaceFromPointer(uintptr(p)), nil
}

// drawableSize returns the size of the window in pixels.
func (w window) drawableSize() (uint32, uint32) {
	width, height := w.VulkanGetDrawableSize()
	return uint32(width), uint32(height)
}
