// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vulkan implements the native driver on top of the vulkan
// binding. The binding targets Vulkan 1.0 headers, so ray tracing, mesh
// shading and descriptor indexing are reported as unsupported and
// timeline semaphores are emulated with binary semaphores and fences.
package vulkan

import (
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
	"github.com/sirupsen/logrus"
)

// DriverName is the name the driver registers under.
const DriverName = "vulkan"

func init() {
	native.Register(driver{})
}

var _ native.Device = (*Device)(nil)

type driver struct{}

func (driver) Name() string { return DriverName }

func (driver) Open(cfg native.Config) (native.Device, error) {
	d, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Window is a presentation target. It is passed as native.Config.Surface
// and as the surface of swapchains.
type Window interface {
	// ProcAddr returns vkGetInstanceProcAddr of the loader the window
	// system uses, nil for the default loader.
	ProcAddr() unsafe.Pointer
	// InstanceExtensions returns the instance extensions surfaces of
	// the window need.
	InstanceExtensions() []string
	// CreateSurface creates the surface of the window.
	CreateSurface(instance vk.Instance) (vk.Surface, error)
}

// ApplicationInfo is passed to the instance.
var ApplicationInfo = &vk.ApplicationInfo{
	SType:              vk.StructureTypeApplicationInfo,
	ApiVersion:         vk.MakeVersion(1, 0, 0),
	ApplicationVersion: vk.MakeVersion(1, 0, 0),
	PApplicationName:   "Koru3D\x00",
	PEngineName:        "Koru3D\x00",
}

const validationLayer = "VK_LAYER_KHRONOS_validation"

// Device is an opened vulkan device.
type Device struct {
	log *logrus.Entry

	instance vk.Instance
	gpu      vk.PhysicalDevice
	device   vk.Device
	debug    vk.DebugReportCallback

	mem *memoryAllocator

	queueMu  [native.QueueCount]sync.Mutex
	queues   [native.QueueCount]vk.Queue
	families [native.QueueCount]uint32
	// slots maps a queue to the first queue sharing its vk.Queue.
	slots [native.QueueCount]native.Queue

	pipelineCache vk.PipelineCache
	// viewports is the viewport and scissor count of pipelines.
	viewports uint32

	mu      sync.RWMutex
	objects map[native.Handle]interface{}
	kinds   map[native.Handle]native.Kind
	names   map[native.Handle]string
	cmdbufs map[native.Handle]*commandBuffer
	next    uint64

	surfaceMu sync.Mutex
	surfaces  map[interface{}]vk.Surface

	timelines *timelineTracker

	props native.Properties
}

func cstr(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

// Open creates the instance, picks the first suitable physical device and
// creates the logical device with one queue per distinct family.
func Open(cfg native.Config) (*Device, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	d := &Device{
		log:      logger.WithField("component", "vulkan"),
		objects:  make(map[native.Handle]interface{}),
		kinds:    make(map[native.Handle]native.Kind),
		names:    make(map[native.Handle]string),
		cmdbufs:  make(map[native.Handle]*commandBuffer),
		surfaces: make(map[interface{}]vk.Surface),
	}

	window, _ := cfg.Surface.(Window)
	if window != nil && window.ProcAddr() != nil {
		vk.SetGetInstanceProcAddr(window.ProcAddr())
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, errors.Wrap(err, "vk.SetDefaultGetInstanceProcAddr()")
	}
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "vk.Init()")
	}

	if err := d.createInstance(window, cfg); err != nil {
		return nil, err
	}
	if window != nil {
		surface, err := window.CreateSurface(d.instance)
		if err != nil {
			d.Close()
			return nil, errors.Wrap(err, "window.CreateSurface()")
		}
		d.surfaces[window] = surface
	}
	if err := d.pickDevice(); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.createDevice(window != nil); err != nil {
		d.Close()
		return nil, err
	}
	d.mem = newMemoryAllocator(d.device, d.gpu)
	d.timelines = newTimelineTracker(d)

	if err := d.createPipelineCache(cfg.PipelineCache); err != nil {
		d.Close()
		return nil, err
	}

	d.log.WithFields(logrus.Fields{
		"adapter":  d.props.Name,
		"discrete": d.props.Discrete,
		"queues":   d.props.Queues,
	}).Info("Vulkan device opened")
	return d, nil
}

func (d *Device) createInstance(window Window, cfg native.Config) error {
	var extensions, layers []string
	if window != nil {
		for _, ext := range window.InstanceExtensions() {
			extensions = append(extensions, cstr(ext))
		}
	}
	if cfg.Validation {
		layers = append(layers, cstr(validationLayer))
	}
	if cfg.Debug {
		extensions = append(extensions, cstr(vk.ExtDebugReportExtensionName))
	}

	ici := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        ApplicationInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}
	var instance vk.Instance
	if err := vk.Error(vk.CreateInstance(&ici, nil, &instance)); err != nil {
		return errors.Wrap(err, "vk.CreateInstance()")
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return errors.Wrap(err, "vk.InitInstance()")
	}
	d.instance = instance

	if cfg.Debug {
		drci := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: d.debugReport,
		}
		var callback vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(instance, &drci, nil, &callback)); err != nil {
			d.log.WithError(err).Warn("Debug report callback unavailable")
		} else {
			d.debug = callback
		}
	}
	return nil
}

func (d *Device) debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	entry := d.log.WithFields(logrus.Fields{"layer": pLayerPrefix, "code": messageCode})
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		entry.Error(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		entry.Warn(pMessage)
	default:
		entry.Debug(pMessage)
	}
	return vk.False
}

func enumerateDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var count uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &count, nil)); err != nil {
		return nil, errors.Wrap(err, "vk.EnumeratePhysicalDevices()")
	}
	gpus := make([]vk.PhysicalDevice, count)
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &count, gpus)); err != nil {
		return nil, errors.Wrap(err, "vk.EnumeratePhysicalDevices()")
	}
	return gpus, nil
}

// pickDevice selects a discrete GPU when there is one.
func (d *Device) pickDevice() error {
	gpus, err := enumerateDevices(d.instance)
	if err != nil {
		return err
	}
	if len(gpus) == 0 {
		return errors.New("no vulkan capable device found")
	}
	d.gpu = gpus[0]
	for _, gpu := range gpus {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(gpu, &props)
		props.Deref()
		if props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			d.gpu = gpu
			break
		}
	}
	return nil
}

func (d *Device) findFamilies(present vk.Surface) error {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(d.gpu, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(d.gpu, &count, families)
	if count == 0 {
		return errors.New("vk.GetPhysicalDeviceQueueFamilyProperties(): no queue families on GPU")
	}

	const none = ^uint32(0)
	graphics, compute, transfer := none, none, none
	for i := uint32(0); i < count; i++ {
		families[i].Deref()
		flags := families[i].QueueFlags
		if families[i].QueueCount == 0 {
			continue
		}
		switch {
		case flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0:
			if graphics != none {
				continue
			}
			if present != vk.NullSurface {
				var supported vk.Bool32
				vk.GetPhysicalDeviceSurfaceSupport(d.gpu, i, present, &supported)
				if !supported.B() {
					continue
				}
			}
			graphics = i
		case flags&vk.QueueFlags(vk.QueueComputeBit) != 0:
			if compute == none {
				compute = i
			}
		case flags&vk.QueueFlags(vk.QueueTransferBit) != 0:
			if transfer == none {
				transfer = i
			}
		}
	}
	if graphics == none {
		return errors.New("could not find a graphics queue family that can present")
	}

	d.families[native.QueueGraphics] = graphics
	d.props.Queues[native.QueueGraphics] = true
	d.families[native.QueueCompute], d.families[native.QueueCopy] = graphics, graphics
	if compute != none {
		d.families[native.QueueCompute] = compute
		d.props.Queues[native.QueueCompute] = true
	}
	switch {
	case transfer != none:
		d.families[native.QueueCopy] = transfer
		d.props.Queues[native.QueueCopy] = true
	case compute != none:
		d.families[native.QueueCopy] = compute
		d.props.Queues[native.QueueCopy] = true
	}
	return nil
}

func (d *Device) createDevice(present bool) error {
	surface := vk.NullSurface
	for _, s := range d.surfaces {
		surface = s
	}
	if err := d.findFamilies(surface); err != nil {
		return err
	}

	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(d.gpu, &props)
	props.Deref()
	props.Limits.Deref()
	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(d.gpu, &features)
	features.Deref()

	d.props.Name = vk.ToString(props.DeviceName[:])
	d.props.VendorID = props.VendorID
	d.props.DeviceID = props.DeviceID
	d.props.Discrete = props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu
	d.props.APIVersion = props.ApiVersion
	d.props.Limits = native.Limits{
		MaxFramebufferWidth:   props.Limits.MaxFramebufferWidth,
		MaxFramebufferHeight:  props.Limits.MaxFramebufferHeight,
		MaxFramebufferLayers:  props.Limits.MaxFramebufferLayers,
		MaxPushConstantsSize:  props.Limits.MaxPushConstantsSize,
		MaxUniformBufferRange: props.Limits.MaxUniformBufferRange,
		TimestampPeriod:       props.Limits.TimestampPeriod,
	}
	d.props.Features = native.Features{
		Tessellation:   features.TessellationShader.B(),
		GeometryShader: features.GeometryShader.B(),
		DepthBounds:    features.DepthBounds.B(),
	}

	enabled := vk.PhysicalDeviceFeatures{
		TessellationShader: features.TessellationShader,
		GeometryShader:     features.GeometryShader,
		DepthBounds:        features.DepthBounds,
		SamplerAnisotropy:  features.SamplerAnisotropy,
		FillModeNonSolid:   features.FillModeNonSolid,
		DepthClamp:         features.DepthClamp,
		DepthBiasClamp:     features.DepthBiasClamp,
		IndependentBlend:   features.IndependentBlend,
		MultiDrawIndirect:  features.MultiDrawIndirect,
		ImageCubeArray:     features.ImageCubeArray,
		MultiViewport:      features.MultiViewport,
	}

	d.viewports = 1
	if features.MultiViewport.B() {
		d.viewports = min(props.Limits.MaxViewports, 16)
	}

	var queueInfos []vk.DeviceQueueCreateInfo
	seen := make(map[uint32]bool)
	for _, family := range d.families {
		if seen[family] {
			continue
		}
		seen[family] = true
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1},
		})
	}

	var extensions []string
	if present {
		extensions = append(extensions, cstr(vk.KhrSwapchainExtensionName))
	}
	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{enabled},
	}
	var device vk.Device
	if err := vk.Error(vk.CreateDevice(d.gpu, &dci, nil, &device)); err != nil {
		return errors.Wrap(err, "vk.CreateDevice()")
	}
	d.device = device

	for q := range d.queues {
		vk.GetDeviceQueue(device, d.families[q], 0, &d.queues[q])
		d.slots[q] = native.Queue(q)
		for p := 0; p < q; p++ {
			if d.families[p] == d.families[q] {
				d.slots[q] = native.Queue(p)
				break
			}
		}
	}
	return nil
}

// Properties implements native.Device.
func (d *Device) Properties() native.Properties {
	return d.props
}

// Instance returns the vulkan instance.
func (d *Device) Instance() vk.Instance {
	return d.instance
}

// WaitIdle implements native.Device.
func (d *Device) WaitIdle() error {
	for i := range d.queueMu {
		d.queueMu[i].Lock()
	}
	res := vk.DeviceWaitIdle(d.device)
	for i := range d.queueMu {
		d.queueMu[i].Unlock()
	}
	if err := resultError(res, "vk.DeviceWaitIdle()"); err != nil {
		return err
	}
	d.timelines.harvest()
	return nil
}

// Close implements native.Device. Objects still alive are destroyed.
func (d *Device) Close() error {
	if d.device != nil {
		vk.DeviceWaitIdle(d.device)
		if d.timelines != nil {
			d.timelines.close()
		}
		d.mu.Lock()
		leaked := len(d.objects)
		handles := make([]native.Handle, 0, leaked)
		for h := range d.objects {
			handles = append(handles, h)
		}
		d.mu.Unlock()
		if leaked > 0 {
			d.log.WithField("objects", leaked).Warn("Destroying objects alive at close")
		}
		for _, h := range handles {
			d.mu.RLock()
			kind, ok := d.kinds[h]
			d.mu.RUnlock()
			if ok {
				d.Destroy(kind, h)
			}
		}
		if d.pipelineCache != nil {
			vk.DestroyPipelineCache(d.device, d.pipelineCache, nil)
		}
		vk.DestroyDevice(d.device, nil)
		d.device = nil
	}
	if d.instance != nil {
		for key, s := range d.surfaces {
			vk.DestroySurface(d.instance, s, nil)
			delete(d.surfaces, key)
		}
		if d.debug != nil {
			vk.DestroyDebugReportCallback(d.instance, d.debug, nil)
		}
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
	return nil
}

func (d *Device) nextHandle() uint64 {
	return atomic.AddUint64(&d.next, 1)
}

func (d *Device) add(kind native.Kind, obj interface{}) native.Handle {
	h := native.Handle(d.nextHandle())
	d.mu.Lock()
	d.objects[h] = obj
	d.kinds[h] = kind
	d.mu.Unlock()
	return h
}

func (d *Device) get(h native.Handle) interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.objects[h]
}

func (d *Device) remove(kind native.Kind, h native.Handle) interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if k, ok := d.kinds[h]; !ok || k != kind {
		return nil
	}
	obj := d.objects[h]
	delete(d.objects, h)
	delete(d.kinds, h)
	delete(d.names, h)
	return obj
}

// SetName implements native.Device. Names only show up in driver logs,
// the binding has no debug utils.
func (d *Device) SetName(kind native.Kind, h native.Handle, name string) {
	d.mu.Lock()
	if _, ok := d.objects[h]; ok {
		d.names[h] = name
	}
	d.mu.Unlock()
}

func (d *Device) name(h native.Handle) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.names[h]
}

// Destroy implements native.Device.
func (d *Device) Destroy(kind native.Kind, h native.Handle) {
	if h == native.Null {
		return
	}
	obj := d.remove(kind, h)
	if obj == nil {
		d.log.WithFields(logrus.Fields{"kind": kind, "handle": h}).Error("destroy of unknown object")
		return
	}
	dev := d.device
	switch o := obj.(type) {
	case *buffer:
		vk.DestroyBuffer(dev, o.buffer, nil)
		o.memory.Release()
	case *image:
		if o.owned {
			vk.DestroyImage(dev, o.image, nil)
			o.memory.Release()
		}
	case vk.ImageView:
		vk.DestroyImageView(dev, o, nil)
	case vk.BufferView:
		vk.DestroyBufferView(dev, o, nil)
	case vk.Sampler:
		vk.DestroySampler(dev, o, nil)
	case *queryPool:
		vk.DestroyQueryPool(dev, o.pool, nil)
	case vk.ShaderModule:
		vk.DestroyShaderModule(dev, o, nil)
	case vk.Pipeline:
		vk.DestroyPipeline(dev, o, nil)
	case vk.PipelineLayout:
		vk.DestroyPipelineLayout(dev, o, nil)
	case vk.DescriptorSetLayout:
		vk.DestroyDescriptorSetLayout(dev, o, nil)
	case *descriptorPool:
		d.mu.Lock()
		for _, set := range o.sets {
			delete(d.objects, set)
			delete(d.kinds, set)
		}
		d.mu.Unlock()
		vk.DestroyDescriptorPool(dev, o.pool, nil)
	case *renderPass:
		vk.DestroyRenderPass(dev, o.pass, nil)
	case vk.Framebuffer:
		vk.DestroyFramebuffer(dev, o, nil)
	case *semaphore:
		d.timelines.destroy(o)
	case *swapchain:
		d.mu.Lock()
		for _, img := range o.images {
			delete(d.objects, img)
			delete(d.kinds, img)
		}
		d.mu.Unlock()
		vk.DestroySwapchain(dev, o.swapchain, nil)
	case *commandPool:
		d.mu.Lock()
		for _, cb := range o.buffers {
			delete(d.cmdbufs, cb.handle)
		}
		d.mu.Unlock()
		vk.DestroyCommandPool(dev, o.pool, nil)
	case vk.Fence:
		vk.DestroyFence(dev, o, nil)
	default:
		d.log.WithFields(logrus.Fields{"kind": kind, "handle": h}).Error("destroy of unsupported object")
	}
}

// resultError maps binding results onto driver errors.
func resultError(res vk.Result, op string) error {
	switch res {
	case vk.Success:
		return nil
	case vk.Timeout:
		return errors.Wrap(native.ErrTimeout, op)
	case vk.ErrorDeviceLost:
		return errors.Wrap(native.ErrDeviceLost, op)
	case vk.ErrorOutOfDate:
		return errors.Wrap(native.ErrOutOfDate, op)
	}
	if err := vk.Error(res); err != nil {
		return errors.Wrap(err, op)
	}
	return nil
}

func bool32(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}
