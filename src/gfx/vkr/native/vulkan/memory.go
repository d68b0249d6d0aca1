// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

// Memory defines a usable memory region.
type Memory struct {
	len    uint64
	device vk.Device
	memory vk.DeviceMemory
	mapped []byte
}

// Len returns the length of assigned memory.
func (m *Memory) Len() uint64 {
	return m.len
}

// Get returns the vulkan memory handle.
func (m *Memory) Get() vk.DeviceMemory {
	return m.memory
}

// Map maps the entire memory region once and returns the mapping.
func (m *Memory) Map() ([]byte, error) {
	if m.mapped != nil {
		return m.mapped, nil
	}
	var ptr unsafe.Pointer
	if err := vk.Error(vk.MapMemory(m.device, m.memory, 0, vk.DeviceSize(m.len), 0, &ptr)); err != nil {
		return nil, errors.Wrap(err, "vk.MapMemory()")
	}
	m.mapped = unsafe.Slice((*byte)(ptr), m.len)
	return m.mapped, nil
}

// Unmap removes the memory mapping if it was mapped.
func (m *Memory) Unmap() {
	if m.mapped != nil {
		vk.UnmapMemory(m.device, m.memory)
		m.mapped = nil
	}
}

// Release frees memory after unmapping it if previously mapped.
func (m *Memory) Release() {
	if m.memory == nil {
		return
	}
	m.Unmap()
	vk.FreeMemory(m.device, m.memory, nil)
	m.memory = nil
}

func newMemoryAllocator(device vk.Device, gpu vk.PhysicalDevice) *memoryAllocator {
	var props vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(gpu, &props)
	props.Deref()
	for idx := uint32(0); idx < props.MemoryTypeCount; idx++ {
		props.MemoryTypes[idx].Deref()
	}
	return &memoryAllocator{
		device: device,
		props:  props,
	}
}

// memoryAllocator returns one dedicated allocation per resource.
type memoryAllocator struct {
	device vk.Device
	props  vk.PhysicalDeviceMemoryProperties
}

// propertiesOf lists the acceptable memory properties of a usage, most
// preferred first.
func propertiesOf(usage native.MemoryUsage) []vk.MemoryPropertyFlagBits {
	switch usage {
	case native.MemoryUpload:
		return []vk.MemoryPropertyFlagBits{
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit,
		}
	case native.MemoryReadback:
		return []vk.MemoryPropertyFlagBits{
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit,
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit,
		}
	}
	return []vk.MemoryPropertyFlagBits{vk.MemoryPropertyDeviceLocalBit}
}

// Malloc returns a usable memory chunk ready for use.
func (ma *memoryAllocator) Malloc(req vk.MemoryRequirements, usage native.MemoryUsage) (Memory, error) {
	var (
		memTypeIdx uint32
		err        error
	)
	for _, prop := range propertiesOf(usage) {
		if memTypeIdx, err = ma.findMemoryType(req.MemoryTypeBits, vk.MemoryPropertyFlags(prop)); err == nil {
			break
		}
	}
	if err != nil {
		return Memory{}, err
	}

	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memTypeIdx,
	}
	var memory vk.DeviceMemory
	if err := vk.Error(vk.AllocateMemory(ma.device, &mai, nil, &memory)); err != nil {
		return Memory{}, errors.Wrap(err, "vk.AllocateMemory()")
	}
	return Memory{
		len:    uint64(req.Size),
		device: ma.device,
		memory: memory,
	}, nil
}

func (ma *memoryAllocator) findMemoryType(filter uint32, prop vk.MemoryPropertyFlags) (uint32, error) {
	for idx := uint32(0); idx < ma.props.MemoryTypeCount; idx++ {
		if filter&(1<<idx) != 0 && (ma.props.MemoryTypes[idx].PropertyFlags&prop) == prop {
			return idx, nil
		}
	}
	return 0, errors.Newf("suitable memory type not found for properties %#x", prop)
}
