// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"math"
	"testing"
	"time"

	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
	qt "github.com/frankban/quicktest"
)

func TestResolveWait(t *testing.T) {
	c := qt.New(t)
	tr := &timelineTracker{}
	sem := &semaphore{timeline: true, completed: 2}

	// Values already observed need no wait.
	s, err := tr.resolveWait(sem, 2, native.QueueCompute)
	c.Assert(err, qt.IsNil)
	c.Assert(s, qt.IsNil)

	_, err = tr.resolveWait(sem, 3, native.QueueCompute)
	c.Assert(err, qt.ErrorMatches, `wait for timeline value 3 that was never signaled`)

	// The carrier is a placeholder; resolveWait never dereferences it.
	var carrier vk.Semaphore
	p4 := &timelinePoint{sem: sem, value: 4, slot: native.QueueGraphics}
	p6 := &timelinePoint{sem: sem, value: 6, slot: native.QueueGraphics}
	p4.waits[native.QueueCompute] = carrier
	sem.points = []*timelinePoint{p6, p4}

	// The lowest point covering the value is used.
	_, err = tr.resolveWait(sem, 3, native.QueueCompute)
	c.Assert(err, qt.IsNil)
	c.Assert(p4.consumed[native.QueueCompute], qt.IsTrue)
	c.Assert(p6.consumed[native.QueueCompute], qt.IsFalse)

	// A second wait of the same queue is ordered behind the first.
	s, err = tr.resolveWait(sem, 4, native.QueueCompute)
	c.Assert(err, qt.IsNil)
	c.Assert(s, qt.IsNil)

	// The signaling queue never waits on itself.
	_, err = tr.resolveWait(sem, 5, native.QueueGraphics)
	c.Assert(err, qt.IsNil)
	c.Assert(p6.consumed[native.QueueGraphics], qt.IsFalse)
}

func TestSliceUint32(t *testing.T) {
	c := qt.New(t)
	c.Assert(sliceUint32([]byte{0x03, 0x02, 0x23, 0x07, 1, 0, 0, 0}), qt.DeepEquals, []uint32{0x07230203, 1})
}

func TestCstr(t *testing.T) {
	c := qt.New(t)
	c.Assert(cstr("VK_KHR_swapchain"), qt.Equals, "VK_KHR_swapchain\x00")
	c.Assert(cstr("main\x00"), qt.Equals, "main\x00")
}

func TestSupportedStages(t *testing.T) {
	c := qt.New(t)

	mesh := vk.PipelineStageFlags(stageMeshShader)
	c.Assert(supportedStages(mesh), qt.Equals, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))

	mixed := vk.PipelineStageFlags(stageRayTracingShader | vk.PipelineStageComputeShaderBit)
	c.Assert(supportedStages(mixed), qt.Equals, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit))

	access := vk.AccessFlags(accessAccelerationStructureRead | vk.AccessShaderReadBit)
	c.Assert(supportedAccess(access), qt.Equals, vk.AccessFlags(vk.AccessShaderReadBit))
}

func TestPropertiesOf(t *testing.T) {
	c := qt.New(t)
	c.Assert(propertiesOf(native.MemoryGPU), qt.DeepEquals, []vk.MemoryPropertyFlagBits{vk.MemoryPropertyDeviceLocalBit})
	c.Assert(propertiesOf(native.MemoryReadback), qt.HasLen, 2)
}

func TestRegistered(t *testing.T) {
	c := qt.New(t)
	c.Assert(native.Drivers(), qt.Contains, DriverName)
}

func TestTimeoutOf(t *testing.T) {
	c := qt.New(t)
	c.Assert(timeoutOf(-1), qt.Equals, uint(math.MaxUint))
	c.Assert(timeoutOf(0), qt.Equals, uint(0))
	c.Assert(timeoutOf(2*time.Millisecond), qt.Equals, uint(2000000))
}
