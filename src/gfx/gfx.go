// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gfx defines rendering related features that renderers must implement.
// The types here are backend neutral: a device implementation translates
// them into native API objects and keeps the native state behind Internal.
package gfx

// Releasable defines any memory-occupying item that can be freed.
type Releasable interface {

	// Release releases memory occupied by the implementing structure.
	Release()
}

// Internal is the device-owned state behind a handle. It is shared by
// every copy of the handle; releasing it hands the native objects over
// to the device for deferred destruction.
type Internal interface {
	Releasable

	// Released reports whether Release was already called.
	Released() bool
}

// DeviceChild is embedded by every handle type created by a Device.
type DeviceChild struct {
	Internal Internal
}

// IsValid reports whether the handle refers to live device state.
func (d *DeviceChild) IsValid() bool {
	return d.Internal != nil && !d.Internal.Released()
}

// Release hands the native objects back to the device. It is safe to
// call more than once.
func (d *DeviceChild) Release() {
	if d.Internal != nil {
		d.Internal.Release()
	}
}
