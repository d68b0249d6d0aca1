// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"container/heap"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
	"github.com/sirupsen/logrus"
)

// BindlessKind is a class of descriptors that has its own bindless heap.
type BindlessKind int

// Bindless heaps.
const (
	BindlessSampledImage BindlessKind = iota
	BindlessStorageImage
	BindlessUniformTexelBuffer
	BindlessStorageTexelBuffer
	BindlessStorageBuffer
	BindlessSampler
	BindlessAccelerationStructure
	BindlessKindCount
)

var bindlessTypes = [BindlessKindCount]vk.DescriptorType{
	vk.DescriptorTypeSampledImage,
	vk.DescriptorTypeStorageImage,
	vk.DescriptorTypeUniformTexelBuffer,
	vk.DescriptorTypeStorageTexelBuffer,
	vk.DescriptorTypeStorageBuffer,
	vk.DescriptorTypeSampler,
	descriptorTypeAccelerationStructure,
}

// bindlessKindOf returns the heap serving a descriptor type.
func bindlessKindOf(t vk.DescriptorType) (BindlessKind, bool) {
	for k, bt := range bindlessTypes {
		if bt == t {
			return BindlessKind(k), true
		}
	}
	return 0, false
}

type retiredObject struct {
	handle native.Handle
	frame  uint64
}

type retiredIndex struct {
	kind  BindlessKind
	index int
	frame uint64
}

// allocationHandler defers the destruction of native objects until the
// frames that could reference them have finished on the GPU.
type allocationHandler struct {
	drv native.Device
	log *logrus.Entry

	mu      sync.Mutex
	frame   uint64
	closed  bool
	objects [native.KindCount][]retiredObject
	indices []retiredIndex

	heaps [BindlessKindCount]*bindlessHeap
}

func newAllocationHandler(drv native.Device, log *logrus.Entry) *allocationHandler {
	return &allocationHandler{drv: drv, log: log}
}

// retire queues h for destruction, tagged with the current frame.
func (a *allocationHandler) retire(kind native.Kind, h native.Handle) {
	if h == native.Null {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.objects[kind] = append(a.objects[kind], retiredObject{handle: h, frame: a.frame})
}

// retireIndex gives a bindless index back once the current frame is
// out of flight.
func (a *allocationHandler) retireIndex(kind BindlessKind, index int) {
	if index < 0 || a.heaps[kind] == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.indices = append(a.indices, retiredIndex{kind: kind, index: index, frame: a.frame})
}

// pending returns the number of queued objects of a kind.
func (a *allocationHandler) pending(kind native.Kind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.objects[kind])
}

// update destroys everything retired at least bufferCount frames before
// frame. Queues are ordered by frame, so each one stops at the first
// young entry.
func (a *allocationHandler) update(frame uint64, bufferCount uint32) {
	type victim struct {
		kind native.Kind
		h    native.Handle
	}
	var victims []victim
	var freed []retiredIndex

	a.mu.Lock()
	a.frame = frame
	for kind := range a.objects {
		q := a.objects[kind]
		n := 0
		for n < len(q) && frame-q[n].frame >= uint64(bufferCount) {
			victims = append(victims, victim{native.Kind(kind), q[n].handle})
			n++
		}
		a.objects[kind] = q[n:]
	}
	n := 0
	for n < len(a.indices) && frame-a.indices[n].frame >= uint64(bufferCount) {
		n++
	}
	freed = append(freed, a.indices[:n]...)
	a.indices = a.indices[n:]
	a.mu.Unlock()

	for _, v := range victims {
		a.drv.Destroy(v.kind, v.h)
	}
	for _, r := range freed {
		a.heaps[r.kind].free(r.index)
	}
	if len(victims) > 0 {
		a.log.WithFields(logrus.Fields{
			"frame":     frame,
			"destroyed": len(victims),
		}).Debug("Released retired objects")
	}
}

// close destroys every queued object and the bindless heaps. The device
// must be idle.
func (a *allocationHandler) close() {
	a.mu.Lock()
	a.closed = true
	objects := a.objects
	a.objects = [native.KindCount][]retiredObject{}
	a.indices = nil
	a.mu.Unlock()

	for kind, q := range objects {
		for _, o := range q {
			a.drv.Destroy(native.Kind(kind), o.handle)
		}
	}
	for i, h := range a.heaps {
		if h != nil {
			a.drv.Destroy(native.KindDescriptorPool, h.pool)
			a.drv.Destroy(native.KindSetLayout, h.layout)
			a.heaps[i] = nil
		}
	}
}

// initBindless creates one global descriptor set per bindless kind.
func (a *allocationHandler) initBindless(capacity [BindlessKindCount]uint32, rayTracing bool) error {
	for k := BindlessKind(0); k < BindlessKindCount; k++ {
		if k == BindlessAccelerationStructure && !rayTracing {
			continue
		}
		h, err := newBindlessHeap(a.drv, k, capacity[k])
		if err != nil {
			return errors.Wrapf(err, "bindless heap %d", k)
		}
		a.heaps[k] = h
	}
	return nil
}

// heap returns the bindless heap of a kind, nil when bindless is off.
func (a *allocationHandler) heap(kind BindlessKind) *bindlessHeap {
	return a.heaps[kind]
}

// indexHeap is a min-heap of free bindless indices.
type indexHeap []int

func (h indexHeap) Len() int            { return len(h) }
func (h indexHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// bindlessHeap hands out indices into one global descriptor array.
type bindlessHeap struct {
	drv  native.Device
	kind BindlessKind
	typ  vk.DescriptorType

	layout native.Handle
	pool   native.Handle
	set    native.Handle

	mu       sync.Mutex
	capacity int
	next     int
	freed    indexHeap
}

func newBindlessHeap(drv native.Device, kind BindlessKind, capacity uint32) (*bindlessHeap, error) {
	typ := bindlessTypes[kind]
	layout, err := drv.CreateSetLayout(&native.SetLayoutInfo{
		Bindings: []native.SetLayoutBinding{{
			Binding: 0,
			Type:    typ,
			Count:   capacity,
			Stages:  vk.ShaderStageFlags(vk.ShaderStageAll),
		}},
		Bindless: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "vk.CreateDescriptorSetLayout()")
	}
	pool, err := drv.CreateDescriptorPool(&native.DescriptorPoolInfo{
		MaxSets:  1,
		Sizes:    []native.DescriptorPoolSize{{Type: typ, Count: capacity}},
		Bindless: true,
	})
	if err != nil {
		drv.Destroy(native.KindSetLayout, layout)
		return nil, errors.Wrap(err, "vk.CreateDescriptorPool()")
	}
	set, err := drv.AllocateDescriptorSet(pool, layout, capacity)
	if err != nil {
		drv.Destroy(native.KindDescriptorPool, pool)
		drv.Destroy(native.KindSetLayout, layout)
		return nil, errors.Wrap(err, "vk.AllocateDescriptorSets()")
	}
	return &bindlessHeap{
		drv:      drv,
		kind:     kind,
		typ:      typ,
		layout:   layout,
		pool:     pool,
		set:      set,
		capacity: int(capacity),
	}, nil
}

// allocate returns the lowest free index.
func (h *bindlessHeap) allocate() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.freed) > 0 {
		return heap.Pop(&h.freed).(int), nil
	}
	if h.next >= h.capacity {
		return -1, errors.Wrapf(gfx.ErrBindlessExhausted, "%d of %d descriptors in use", h.next, h.capacity)
	}
	h.next++
	return h.next - 1, nil
}

func (h *bindlessHeap) free(index int) {
	h.mu.Lock()
	heap.Push(&h.freed, index)
	h.mu.Unlock()
}

// inUse returns the number of allocated indices.
func (h *bindlessHeap) inUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next - len(h.freed)
}

// write points an index of the heap at a descriptor.
func (h *bindlessHeap) write(index int, w native.DescriptorWrite) {
	w.Set = h.set
	w.Binding = 0
	w.ArrayElement = uint32(index)
	w.Type = h.typ
	h.drv.UpdateDescriptorSets([]native.DescriptorWrite{w})
}
