// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vkr implements gfx.Device on top of a vulkan style driver.
//
// Resources are created with the Create methods and recorded into
// command lists obtained from BeginCommandList. Native objects released
// by the caller are destroyed BufferCount frames later, once the GPU can
// no longer reference them.
package vkr

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const reflectionCacheSize = 512

// Device is a gfx.Device over a native driver.
type Device struct {
	drv   native.Device
	cfg   Config
	log   *logrus.Entry
	props native.Properties
	caps  gfx.Capability

	alloc  *allocationHandler
	copier *copyAllocator

	frameCount atomic.Uint64
	frames     []frameResources
	listCount  atomic.Uint32
	lists      []*commandList
	timelines  [gfx.QueueCount]native.Handle

	initMu      sync.Mutex
	submitInits bool

	layoutMu sync.Mutex
	layouts  map[uint64]*pipelineLayout

	pipelinesMu sync.RWMutex
	pipelines   map[pipelineKey]native.Handle

	reflections *lru.Cache[uint64, *reflection]
	shaderIDs   atomic.Uint64

	samplersMu     sync.Mutex
	commonSamplers []gfx.StaticSampler

	null           nullResources
	emptySetLayout native.Handle

	errMu     sync.Mutex
	strayErrs error
}

type listFrame struct {
	pools       [gfx.QueueCount]native.Handle
	cmds        [gfx.QueueCount]native.CommandBuffer
	descriptors descriptorPool
	upload      uploadRing
}

// frameResources is one slot of the frame ring.
type frameResources struct {
	fences   [gfx.QueueCount]native.Handle
	initPool native.Handle
	initCmd  native.CommandBuffer
	initDone native.Handle // binary, for init commands run apart from the first batch
	lists    []listFrame
}

var _ gfx.Device = (*Device)(nil)

// New creates a device on an opened driver. The device owns drv and
// closes it on Release.
func New(drv native.Device, cfg Config) (*Device, error) {
	cfg = cfg.withDefaults()
	d := &Device{
		drv:       drv,
		cfg:       cfg,
		log:       cfg.Logger.WithField("component", "vkr"),
		props:     drv.Properties(),
		layouts:   make(map[uint64]*pipelineLayout),
		pipelines: make(map[pipelineKey]native.Handle),
	}
	d.caps = capabilitiesOf(d.props.Features)
	d.alloc = newAllocationHandler(drv, d.log)

	cache, err := lru.New[uint64, *reflection](reflectionCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "reflection cache")
	}
	d.reflections = cache

	if err := d.init(); err != nil {
		d.alloc.close()
		return nil, err
	}

	d.log.WithFields(logrus.Fields{
		"adapter":      d.props.Name,
		"capabilities": d.caps,
		"buffers":      cfg.BufferCount,
		"lists":        cfg.CommandListCount,
	}).Info("Graphics device created")
	return d, nil
}

func capabilitiesOf(f native.Features) gfx.Capability {
	caps := gfx.CapUAVLoadFormatCommon
	set := func(ok bool, c gfx.Capability) {
		if ok {
			caps |= c
		}
	}
	set(f.Tessellation, gfx.CapTessellation)
	set(f.ConservativeRaster, gfx.CapConservativeRasterization)
	set(f.VariableRateShading, gfx.CapVariableRateShading|gfx.CapVariableRateShadingTier2)
	set(f.MeshShader, gfx.CapMeshShader)
	set(f.RayTracing && f.BufferDeviceAddress, gfx.CapRaytracing)
	set(f.ConditionalRendering, gfx.CapPredication)
	set(f.SamplerMinMax, gfx.CapSamplerMinMax)
	set(f.DepthBounds, gfx.CapDepthBoundsTest)
	set(f.DescriptorIndexing, gfx.CapBindless)
	set(f.DebugUtils, gfx.CapDebugNames)
	return caps
}

func (d *Device) init() error {
	if d.CheckCapability(gfx.CapBindless) {
		if err := d.alloc.initBindless(d.cfg.BindlessCapacity, d.CheckCapability(gfx.CapRaytracing)); err != nil {
			return err
		}
	}

	var err error
	if d.emptySetLayout, err = d.drv.CreateSetLayout(&native.SetLayoutInfo{}); err != nil {
		return errors.Wrap(err, "vk.CreateDescriptorSetLayout()")
	}

	for q := range d.timelines {
		if d.timelines[q], err = d.drv.CreateSemaphore(true); err != nil {
			return errors.Wrap(err, "vk.CreateSemaphore()")
		}
	}

	d.frames = make([]frameResources, d.cfg.BufferCount)
	for i := range d.frames {
		f := &d.frames[i]
		for q := range f.fences {
			if f.fences[q], err = d.drv.CreateFence(false); err != nil {
				return errors.Wrap(err, "vk.CreateFence()")
			}
		}
		if f.initPool, err = d.drv.CreateCommandPool(native.QueueGraphics); err != nil {
			return errors.Wrap(err, "vk.CreateCommandPool()")
		}
		if f.initCmd, err = d.drv.AllocateCommandBuffer(f.initPool); err != nil {
			return errors.Wrap(err, "vk.AllocateCommandBuffers()")
		}
		if f.initDone, err = d.drv.CreateSemaphore(false); err != nil {
			return errors.Wrap(err, "vk.CreateSemaphore()")
		}
		f.lists = make([]listFrame, d.cfg.CommandListCount)
	}
	if err := d.frames[0].initCmd.Begin(true); err != nil {
		return errors.Wrap(err, "vk.BeginCommandBuffer()")
	}

	d.lists = make([]*commandList, d.cfg.CommandListCount)
	for i := range d.lists {
		d.lists[i] = newCommandList(d, gfx.CommandList(i))
	}

	if d.copier, err = newCopyAllocator(d); err != nil {
		return err
	}
	return d.createNullResources()
}

// Release waits for the GPU and destroys every native object.
func (d *Device) Release() {
	if err := d.drv.WaitIdle(); err != nil {
		d.log.WithError(err).Error("Wait for idle failed")
	}
	d.copier.close()
	d.null.release(d.alloc)
	d.ClearPipelineStateCache()
	d.layoutMu.Lock()
	for hash, l := range d.layouts {
		d.alloc.retire(native.KindPipelineLayout, l.handle)
		d.alloc.retire(native.KindSetLayout, l.setLayout)
		delete(d.layouts, hash)
	}
	d.layoutMu.Unlock()

	for i := range d.frames {
		f := &d.frames[i]
		for _, fence := range f.fences {
			d.drv.Destroy(native.KindFence, fence)
		}
		d.drv.Destroy(native.KindCommandPool, f.initPool)
		d.drv.Destroy(native.KindSemaphore, f.initDone)
		for j := range f.lists {
			for _, pool := range f.lists[j].pools {
				if pool != native.Null {
					d.drv.Destroy(native.KindCommandPool, pool)
				}
			}
			d.alloc.retire(native.KindDescriptorPool, f.lists[j].descriptors.handle)
			d.alloc.retire(native.KindBuffer, f.lists[j].upload.buffer)
		}
	}
	for _, sem := range d.timelines {
		d.drv.Destroy(native.KindSemaphore, sem)
	}
	d.alloc.retire(native.KindSetLayout, d.emptySetLayout)
	d.alloc.close()
	if err := d.drv.Close(); err != nil {
		d.log.WithError(err).Error("Closing driver failed")
	}
}

// Driver returns the native device.
func (d *Device) Driver() native.Device {
	return d.drv
}

// Capabilities implements gfx.Device.
func (d *Device) Capabilities() gfx.Capability {
	return d.caps
}

// CheckCapability implements gfx.Device.
func (d *Device) CheckCapability(c gfx.Capability) bool {
	return d.caps&c == c
}

// FrameCount implements gfx.Device.
func (d *Device) FrameCount() uint64 {
	return d.frameCount.Load()
}

// BufferCount implements gfx.Device.
func (d *Device) BufferCount() uint32 {
	return d.cfg.BufferCount
}

// TimestampFrequency implements gfx.Device.
func (d *Device) TimestampFrequency() uint64 {
	period := d.props.Limits.TimestampPeriod
	if period <= 0 {
		period = 1
	}
	return uint64(1e9 / float64(period))
}

// ShaderIdentifierSize implements gfx.Device.
func (d *Device) ShaderIdentifierSize() uint32 {
	return d.props.Limits.ShaderGroupHandleSize
}

// TopLevelInstanceSize implements gfx.Device.
func (d *Device) TopLevelInstanceSize() uint32 {
	return topLevelInstanceSize
}

// PipelineCacheData returns the driver pipeline cache for persisting.
func (d *Device) PipelineCacheData() ([]byte, error) {
	data, err := d.drv.PipelineCacheData()
	return data, errors.Wrap(err, "vk.GetPipelineCacheData()")
}

func (d *Device) frame() *frameResources {
	return &d.frames[d.frameCount.Load()%uint64(d.cfg.BufferCount)]
}

// nativeQueue maps a queue to the hardware queue backing it. Missing
// queues fall back to graphics.
func (d *Device) nativeQueue(q gfx.QueueType) native.Queue {
	if q >= 0 && q < gfx.QueueCount && d.props.Queues[q] {
		return native.Queue(q)
	}
	return native.QueueGraphics
}

// stray records an error that has no command list to latch onto.
func (d *Device) stray(err error) {
	d.errMu.Lock()
	d.strayErrs = errors.CombineErrors(d.strayErrs, err)
	d.errMu.Unlock()
	d.log.WithError(err).Error("Recording call failed")
}

func (d *Device) takeStray() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	err := d.strayErrs
	d.strayErrs = nil
	return err
}

// recordInit runs fn on the current frame's init command buffer, which
// is submitted ahead of the frame's command lists.
func (d *Device) recordInit(fn func(cb native.CommandBuffer)) {
	d.initMu.Lock()
	fn(d.frame().initCmd)
	d.submitInits = true
	d.initMu.Unlock()
}

// SetName implements gfx.Device.
func (d *Device) SetName(res *gfx.GPUResource, name string) {
	if !d.CheckCapability(gfx.CapDebugNames) {
		return
	}
	s := resourceOf(res)
	if s == nil {
		return
	}
	switch {
	case s.as != native.Null:
		d.drv.SetName(native.KindAccelerationStructure, s.as, name)
	case s.image != native.Null:
		d.drv.SetName(native.KindImage, s.image, name)
	case s.buffer != native.Null:
		d.drv.SetName(native.KindBuffer, s.buffer, name)
	}
}

// SetCommonSampler implements gfx.Device. Shaders created afterwards
// bake the sampler into sampler bindings at its slot.
func (d *Device) SetCommonSampler(sampler *gfx.StaticSampler) {
	d.samplersMu.Lock()
	defer d.samplersMu.Unlock()
	for i := range d.commonSamplers {
		if d.commonSamplers[i].Slot == sampler.Slot {
			d.commonSamplers[i] = *sampler
			return
		}
	}
	d.commonSamplers = append(d.commonSamplers, *sampler)
}

func (d *Device) commonSampler(slot uint32) native.Handle {
	d.samplersMu.Lock()
	defer d.samplersMu.Unlock()
	for i := range d.commonSamplers {
		if d.commonSamplers[i].Slot == slot {
			if s := samplerOf(&d.commonSamplers[i].Sampler); s != nil {
				return s.sampler
			}
		}
	}
	return native.Null
}

// GetDescriptorIndex implements gfx.Device. It returns -1 for resources
// without a bindless descriptor.
func (d *Device) GetDescriptorIndex(res *gfx.GPUResource, typ gfx.SubresourceType, subresource int) int {
	s := resourceOf(res)
	if s == nil {
		return -1
	}
	if s.typ == gfx.ResourceAccelerationStructure {
		return s.srv.index
	}
	v := s.subresource(typ, subresource)
	if v == nil {
		return -1
	}
	return v.index
}

// GetSamplerDescriptorIndex implements gfx.Device.
func (d *Device) GetSamplerDescriptorIndex(sampler *gfx.Sampler) int {
	s := samplerOf(sampler)
	if s == nil {
		return -1
	}
	return s.index
}

// WriteShadingRateValue implements gfx.Device.
func (d *Device) WriteShadingRateValue(rate gfx.ShadingRate, dst []byte) {
	if len(dst) == 0 {
		return
	}
	w, h := convertShadingRate(rate)
	dst[0] = byte(log2(w)<<2 | log2(h))
}

func log2(v uint32) uint32 {
	var n uint32
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// WaitForGPU implements gfx.Device.
func (d *Device) WaitForGPU() error {
	return errors.Wrap(d.drv.WaitIdle(), "vk.DeviceWaitIdle()")
}

// ClearPipelineStateCache implements gfx.Device. Concrete pipelines are
// retired and rebuilt on the next draw; layouts stay cached.
func (d *Device) ClearPipelineStateCache() {
	d.pipelinesMu.Lock()
	for key, p := range d.pipelines {
		d.alloc.retire(native.KindPipeline, p)
		delete(d.pipelines, key)
	}
	d.pipelinesMu.Unlock()

	for _, l := range d.lists {
		for key, p := range l.pipelines {
			d.alloc.retire(native.KindPipeline, p)
			delete(l.pipelines, key)
		}
	}
}

// nullResources back descriptors of unbound slots.
type nullResources struct {
	buffer     native.Handle
	bufferView native.Handle
	sampler    native.Handle
	images     [3]native.Handle // 1D, 2D (cube compatible), 3D
	views      map[vk.ImageViewType]native.Handle
}

func (d *Device) createNullResources() error {
	n := &d.null
	var err error
	n.buffer, err = d.drv.CreateBuffer(&native.BufferInfo{
		Size: 4,
		Usage: vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit | vk.BufferUsageStorageBufferBit |
			vk.BufferUsageUniformTexelBufferBit | vk.BufferUsageStorageTexelBufferBit |
			vk.BufferUsageVertexBufferBit),
		Memory: native.MemoryGPU,
	})
	if err != nil {
		return errors.Wrap(err, "vk.CreateBuffer()")
	}
	n.bufferView, err = d.drv.CreateBufferView(&native.BufferViewInfo{
		Buffer: n.buffer,
		Format: vk.FormatR32g32b32a32Sfloat,
		Range:  vk.WholeSize,
	})
	if err != nil {
		return errors.Wrap(err, "vk.CreateBufferView()")
	}
	n.sampler, err = d.drv.CreateSampler(&native.SamplerInfo{
		MagFilter:    vk.FilterNearest,
		MinFilter:    vk.FilterNearest,
		MipmapMode:   vk.SamplerMipmapModeNearest,
		AddressModeU: vk.SamplerAddressModeClampToEdge,
		AddressModeV: vk.SamplerAddressModeClampToEdge,
		AddressModeW: vk.SamplerAddressModeClampToEdge,
		MaxLod:       vk.LodClampNone,
	})
	if err != nil {
		return errors.Wrap(err, "vk.CreateSampler()")
	}

	usage := vk.ImageUsageFlags(vk.ImageUsageSampledBit | vk.ImageUsageStorageBit)
	infos := [3]native.ImageInfo{
		{Type: vk.ImageType1d, Extent: vk.Extent3D{Width: 1, Height: 1, Depth: 1}, ArrayLayers: 1},
		{Type: vk.ImageType2d, Extent: vk.Extent3D{Width: 1, Height: 1, Depth: 1}, ArrayLayers: 6,
			Flags: vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)},
		{Type: vk.ImageType3d, Extent: vk.Extent3D{Width: 1, Height: 1, Depth: 1}, ArrayLayers: 1},
	}
	for i := range infos {
		info := &infos[i]
		info.Format = vk.FormatR8g8b8a8Unorm
		info.MipLevels = 1
		info.Samples = vk.SampleCount1Bit
		info.Usage = usage
		if n.images[i], err = d.drv.CreateImage(info); err != nil {
			return errors.Wrap(err, "vk.CreateImage()")
		}
	}

	n.views = make(map[vk.ImageViewType]native.Handle)
	viewOf := []struct {
		typ    vk.ImageViewType
		image  int
		layers uint32
	}{
		{vk.ImageViewType1d, 0, 1},
		{vk.ImageViewType1dArray, 0, 1},
		{vk.ImageViewType2d, 1, 1},
		{vk.ImageViewType2dArray, 1, 1},
		{vk.ImageViewTypeCube, 1, 6},
		{vk.ImageViewTypeCubeArray, 1, 6},
		{vk.ImageViewType3d, 2, 1},
	}
	for _, v := range viewOf {
		h, err := d.drv.CreateImageView(&native.ImageViewInfo{
			Image:    n.images[v.image],
			ViewType: v.typ,
			Format:   vk.FormatR8g8b8a8Unorm,
			Range: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: v.layers,
			},
		})
		if err != nil {
			return errors.Wrap(err, "vk.CreateImageView()")
		}
		n.views[v.typ] = h
	}

	d.recordInit(func(cb native.CommandBuffer) {
		b := native.Barrier{
			SrcStage: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			DstStage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		}
		for _, img := range n.images {
			b.Images = append(b.Images, native.ImageBarrier{
				Image:     img,
				DstAccess: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
				OldLayout: vk.ImageLayoutUndefined,
				NewLayout: vk.ImageLayoutGeneral,
				Range: vk.ImageSubresourceRange{
					AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
					LevelCount: remainingMipLevels,
					LayerCount: remainingArrayLayers,
				},
			})
		}
		cb.PipelineBarrier(&b)
	})
	return nil
}

func (n *nullResources) release(a *allocationHandler) {
	for _, v := range n.views {
		a.retire(native.KindImageView, v)
	}
	for _, img := range n.images {
		a.retire(native.KindImage, img)
	}
	a.retire(native.KindSampler, n.sampler)
	a.retire(native.KindBufferView, n.bufferView)
	a.retire(native.KindBuffer, n.buffer)
}

// nullView returns the placeholder image view of a view type.
func (n *nullResources) nullView(t vk.ImageViewType) native.Handle {
	if h, ok := n.views[t]; ok {
		return h
	}
	return n.views[vk.ImageViewType2d]
}
