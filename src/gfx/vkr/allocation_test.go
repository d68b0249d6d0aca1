// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	"github.com/devblok/korugfx/src/gfx/vkr/native/soft"
	vk "github.com/devblok/vulkan"
	qt "github.com/frankban/quicktest"
	"github.com/sirupsen/logrus"
)

func newTestAllocator(c *qt.C) (*allocationHandler, *soft.Device) {
	drv := soft.New(native.Config{Logger: quietLogger()})
	a := newAllocationHandler(drv, logrus.NewEntry(quietLogger()))
	c.Cleanup(a.close)
	return a, drv
}

func TestRetiredObjectsWaitForBufferCount(t *testing.T) {
	c := qt.New(t)
	a, drv := newTestAllocator(c)

	var sems []native.Handle
	for i := 0; i < 2; i++ {
		h, err := drv.CreateSemaphore(false)
		c.Assert(err, qt.IsNil)
		sems = append(sems, h)
	}
	a.retire(native.KindSemaphore, sems[0])
	a.retire(native.KindSemaphore, native.Null)
	a.update(1, 2)
	a.retire(native.KindSemaphore, sems[1])
	c.Assert(a.pending(native.KindSemaphore), qt.Equals, 2)

	a.update(2, 2)
	c.Assert(destroyed(drv, native.KindSemaphore, sems[0]), qt.IsTrue)
	c.Assert(destroyed(drv, native.KindSemaphore, sems[1]), qt.IsFalse)
	c.Assert(a.pending(native.KindSemaphore), qt.Equals, 1)

	a.update(3, 2)
	c.Assert(destroyed(drv, native.KindSemaphore, sems[1]), qt.IsTrue)
	c.Assert(a.pending(native.KindSemaphore), qt.Equals, 0)
}

func TestCloseDestroysEverything(t *testing.T) {
	c := qt.New(t)
	drv := soft.New(native.Config{Logger: quietLogger()})
	a := newAllocationHandler(drv, logrus.NewEntry(quietLogger()))

	h, err := drv.CreateSemaphore(false)
	c.Assert(err, qt.IsNil)
	a.retire(native.KindSemaphore, h)
	a.close()
	c.Assert(destroyed(drv, native.KindSemaphore, h), qt.IsTrue)

	// Retiring after close is ignored.
	h, err = drv.CreateSemaphore(false)
	c.Assert(err, qt.IsNil)
	a.retire(native.KindSemaphore, h)
	c.Assert(a.pending(native.KindSemaphore), qt.Equals, 0)
}

func TestBindlessHeapLowestFreeIndex(t *testing.T) {
	c := qt.New(t)
	a, _ := newTestAllocator(c)
	var capacity [BindlessKindCount]uint32
	for k := range capacity {
		capacity[k] = 4
	}
	c.Assert(a.initBindless(capacity, false), qt.IsNil)
	c.Assert(a.heap(BindlessAccelerationStructure), qt.IsNil)
	h := a.heap(BindlessSampledImage)

	for want := 0; want < 4; want++ {
		got, err := h.allocate()
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.Equals, want)
	}
	_, err := h.allocate()
	c.Assert(err, qt.ErrorIs, gfx.ErrBindlessExhausted)

	a.retireIndex(BindlessSampledImage, 3)
	a.retireIndex(BindlessSampledImage, 1)
	a.retireIndex(BindlessSampledImage, -1)
	c.Assert(h.inUse(), qt.Equals, 4)
	a.update(2, 2)
	c.Assert(h.inUse(), qt.Equals, 2)

	got, err := h.allocate()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, 1)
	got, err = h.allocate()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, 3)
}

func TestBindlessHeapWrite(t *testing.T) {
	c := qt.New(t)
	a, drv := newTestAllocator(c)
	var capacity [BindlessKindCount]uint32
	for k := range capacity {
		capacity[k] = 8
	}
	c.Assert(a.initBindless(capacity, true), qt.IsNil)
	h := a.heap(BindlessStorageBuffer)

	buf, err := drv.CreateBuffer(&native.BufferInfo{Size: 64, Usage: vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)})
	c.Assert(err, qt.IsNil)
	idx, err := h.allocate()
	c.Assert(err, qt.IsNil)
	h.write(idx, native.DescriptorWrite{Buffers: []native.BufferDescriptor{{Buffer: buf, Range: 64}}})

	desc, ok := drv.DescriptorAt(h.set, 0, uint32(idx))
	c.Assert(ok, qt.IsTrue)
	c.Assert(desc.Type, qt.Equals, vk.DescriptorTypeStorageBuffer)
	c.Assert(desc.Buffer.Buffer, qt.Equals, buf)
}

func TestBindlessKindOf(t *testing.T) {
	c := qt.New(t)
	k, ok := bindlessKindOf(vk.DescriptorTypeStorageImage)
	c.Assert(ok, qt.IsTrue)
	c.Assert(k, qt.Equals, BindlessStorageImage)
	_, ok = bindlessKindOf(vk.DescriptorTypeUniformBuffer)
	c.Assert(ok, qt.IsFalse)
}
