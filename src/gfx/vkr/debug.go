// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import "github.com/devblok/korugfx/src/gfx"

// EventBegin implements gfx.Device. Events show up as labels in
// graphics debuggers when debug names are available.
func (d *Device) EventBegin(cmd gfx.CommandList, name string) {
	if l := d.list(cmd); l != nil && d.CheckCapability(gfx.CapDebugNames) {
		l.cb.BeginLabel(name)
	}
}

// EventEnd implements gfx.Device.
func (d *Device) EventEnd(cmd gfx.CommandList) {
	if l := d.list(cmd); l != nil && d.CheckCapability(gfx.CapDebugNames) {
		l.cb.EndLabel()
	}
}

// SetMarker implements gfx.Device.
func (d *Device) SetMarker(cmd gfx.CommandList, name string) {
	if l := d.list(cmd); l != nil && d.CheckCapability(gfx.CapDebugNames) {
		l.cb.InsertLabel(name)
	}
}
