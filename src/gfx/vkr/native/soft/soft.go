// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package soft implements a headless driver that executes transfer,
// clear, query and synchronization work on the CPU. It does not
// rasterize. Queues run on their own goroutines so fence and semaphore
// behaviour matches a real device.
package soft

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	"github.com/sirupsen/logrus"
)

// DriverName is the name the driver registers under.
const DriverName = "soft"

func init() {
	native.Register(driver{})
}

type driver struct{}

func (driver) Name() string { return DriverName }

func (driver) Open(cfg native.Config) (native.Device, error) {
	return New(cfg), nil
}

// Destroyed records one destroy call.
type Destroyed struct {
	Kind   native.Kind
	Handle native.Handle
}

// Device is a software device.
type Device struct {
	log *logrus.Entry

	mu      sync.Mutex
	objects map[native.Handle]interface{}
	kinds   map[native.Handle]native.Kind
	names   map[native.Handle]string
	cmdbufs map[native.Handle]*commandBuffer
	next    uint64

	live      [native.KindCount]int
	destroyed []Destroyed

	addressMu   sync.Mutex
	nextAddress uint64

	queues  [native.QueueCount]*queue
	submits atomic.Int64
	stats   statsBox

	syncMu   sync.Mutex
	syncCond *sync.Cond
	lost     bool

	gateMu sync.Mutex
	gate   *sync.Cond
	paused bool

	props native.Properties
}

// New creates a software device.
func New(cfg native.Config) *Device {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	d := &Device{
		log:         logger.WithField("component", "soft"),
		objects:     make(map[native.Handle]interface{}),
		kinds:       make(map[native.Handle]native.Kind),
		names:       make(map[native.Handle]string),
		cmdbufs:     make(map[native.Handle]*commandBuffer),
		nextAddress: 1 << 16,
	}
	d.gate = sync.NewCond(&d.gateMu)
	d.syncCond = sync.NewCond(&d.syncMu)
	d.props = native.Properties{
		Name:       "korugfx software device",
		APIVersion: 1<<22 | 2<<12,
		Limits: native.Limits{
			MaxFramebufferWidth:      16384,
			MaxFramebufferHeight:     16384,
			MaxFramebufferLayers:     2048,
			MaxPushConstantsSize:     128,
			MaxUniformBufferRange:    65536,
			TimestampPeriod:          1,
			ShaderGroupHandleSize:    32,
			ShaderGroupBaseAlignment: 64,
			MaxBindlessDescriptors:   500000,
		},
		Features: native.Features{
			Tessellation:         true,
			GeometryShader:       true,
			MeshShader:           true,
			RayTracing:           true,
			VariableRateShading:  true,
			ConditionalRendering: true,
			DebugUtils:           true,
			DescriptorIndexing:   true,
			SamplerMinMax:        true,
			DepthBounds:          true,
			BufferDeviceAddress:  true,
		},
		Queues: [native.QueueCount]bool{true, true, true},
	}
	for i := range d.queues {
		d.queues[i] = newQueue(d, native.Queue(i))
	}
	return d
}

// Properties implements native.Device.
func (d *Device) Properties() native.Properties {
	return d.props
}

// SetFeatures overrides the reported optional features. Tests use it to
// emulate devices without ray tracing or bindless support.
func (d *Device) SetFeatures(f native.Features) {
	d.props.Features = f
}

// Pause stops queue execution until Resume is called. Submissions are
// accepted and held, which keeps their fences unsignaled.
func (d *Device) Pause() {
	d.gateMu.Lock()
	d.paused = true
	d.gateMu.Unlock()
}

// Resume restarts queue execution.
func (d *Device) Resume() {
	d.gateMu.Lock()
	d.paused = false
	d.gateMu.Unlock()
	d.gate.Broadcast()
}

func (d *Device) waitGate() {
	d.gateMu.Lock()
	for d.paused {
		d.gate.Wait()
	}
	d.gateMu.Unlock()
}

// Live returns the number of live objects of a kind.
func (d *Device) Live(kind native.Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[kind]
}

// DestroyLog returns every destroy call made so far, oldest first.
func (d *Device) DestroyLog() []Destroyed {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Destroyed, len(d.destroyed))
	copy(out, d.destroyed)
	return out
}

// Name returns the debug name assigned to a handle.
func (d *Device) Name(h native.Handle) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.names[h]
}

func (d *Device) nextHandle() uint64 {
	return atomic.AddUint64(&d.next, 1)
}

func (d *Device) add(kind native.Kind, obj interface{}) native.Handle {
	h := native.Handle(d.nextHandle())
	d.mu.Lock()
	d.objects[h] = obj
	d.kinds[h] = kind
	d.live[kind]++
	d.mu.Unlock()
	return h
}

func (d *Device) get(h native.Handle) interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.objects[h]
}

func (d *Device) address(size uint64) uint64 {
	d.addressMu.Lock()
	defer d.addressMu.Unlock()
	addr := d.nextAddress
	d.nextAddress += (size + 255) &^ 255
	return addr
}

// Destroy implements native.Device.
func (d *Device) Destroy(kind native.Kind, h native.Handle) {
	if h == native.Null {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if k, ok := d.kinds[h]; !ok || k != kind {
		d.log.WithFields(logrus.Fields{"kind": kind, "handle": h}).Error("destroy of unknown object")
		return
	}
	if sc, ok := d.objects[h].(*swapchain); ok {
		for _, img := range sc.images {
			delete(d.objects, img)
			delete(d.kinds, img)
			d.live[native.KindImage]--
		}
	}
	if p, ok := d.objects[h].(*descriptorPool); ok {
		for _, set := range p.allocated {
			delete(d.objects, set)
		}
	}
	delete(d.objects, h)
	delete(d.kinds, h)
	delete(d.names, h)
	if kind == native.KindCommandPool {
		for cbh, cb := range d.cmdbufs {
			if cb.pool == h {
				delete(d.cmdbufs, cbh)
			}
		}
	}
	d.live[kind]--
	d.destroyed = append(d.destroyed, Destroyed{Kind: kind, Handle: h})
}

// SetName implements native.Device.
func (d *Device) SetName(kind native.Kind, h native.Handle, name string) {
	d.mu.Lock()
	d.names[h] = name
	d.mu.Unlock()
}

// WaitIdle implements native.Device.
func (d *Device) WaitIdle() error {
	for _, q := range d.queues {
		q.idle()
	}
	return nil
}

// Close implements native.Device.
func (d *Device) Close() error {
	d.Resume()
	for _, q := range d.queues {
		q.close()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var leaked int
	for _, n := range d.live {
		leaked += n
	}
	if leaked > 0 {
		d.log.WithField("objects", leaked).Warn("device closed with live objects")
	}
	return nil
}

// PipelineCacheData implements native.Device.
func (d *Device) PipelineCacheData() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []byte("korugfx-soft-cache"), nil
}

func errHandle(kind string, h native.Handle) error {
	return errors.Wrapf(native.ErrInvalidHandle, "%s %d", kind, h)
}

var (
	_ native.Device        = (*Device)(nil)
	_ native.CommandBuffer = (*commandBuffer)(nil)
)
