// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"testing"

	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"
)

func TestCapabilityNames(t *testing.T) {
	c := qt.New(t)
	c.Assert(Capability(0).Names(), qt.HasLen, 0)
	c.Assert((CapTessellation | CapBindless | CapDebugNames).Names(), qt.DeepEquals,
		[]string{"Tessellation", "Bindless", "DebugNames"})
}

func TestInstanceTransform(t *testing.T) {
	c := qt.New(t)
	c.Assert(IdentityTransform(), qt.DeepEquals, [3][4]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	})
	m := InstanceTransform(glm.Translate3D(1, 2, 3))
	c.Assert([]float32{m[0][3], m[1][3], m[2][3]}, qt.DeepEquals, []float32{1, 2, 3})
}

type releaseCounter struct{ n int }

func (r *releaseCounter) Release()       { r.n++ }
func (r *releaseCounter) Released() bool { return r.n > 0 }

func TestDeviceChild(t *testing.T) {
	c := qt.New(t)
	var empty DeviceChild
	c.Assert(empty.IsValid(), qt.IsFalse)
	empty.Release()

	rc := &releaseCounter{}
	child := DeviceChild{Internal: rc}
	c.Assert(child.IsValid(), qt.IsTrue)
	child.Release()
	c.Assert(child.IsValid(), qt.IsFalse)
}

func TestMipCount(t *testing.T) {
	c := qt.New(t)
	c.Assert(MipCount(1, 1), qt.Equals, uint32(1))
	c.Assert(MipCount(256, 256), qt.Equals, uint32(9))
	c.Assert(MipCount(300, 7), qt.Equals, uint32(9))
	c.Assert(MipCount(0, 0), qt.Equals, uint32(1))
}
