// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package native is the boundary between the graphics device and the
// driver that owns the native objects. Objects are referred to by opaque
// handles into driver tables. Create infos use vulkan enum types so the
// device translates once, whatever the driver is.
package native

import (
	"time"

	vk "github.com/devblok/vulkan"
	"github.com/sirupsen/logrus"
)

// Handle is an opaque reference to a driver object. Null is never valid.
type Handle uint64

// Null is the invalid handle.
const Null Handle = 0

// Kind is the type of object a handle refers to.
type Kind int

// Object kinds.
const (
	KindBuffer Kind = iota
	KindImage
	KindImageView
	KindBufferView
	KindSampler
	KindShaderModule
	KindPipeline
	KindPipelineLayout
	KindSetLayout
	KindDescriptorPool
	KindRenderPass
	KindFramebuffer
	KindQueryPool
	KindAccelerationStructure
	KindSemaphore
	KindSwapchain
	KindCommandPool
	KindFence
	KindCount
)

var kindNames = [KindCount]string{
	"buffer", "image", "image view", "buffer view", "sampler", "shader module",
	"pipeline", "pipeline layout", "descriptor set layout", "descriptor pool",
	"render pass", "framebuffer", "query pool", "acceleration structure",
	"semaphore", "swapchain", "command pool", "fence",
}

func (k Kind) String() string {
	if k < 0 || k >= KindCount {
		return "unknown"
	}
	return kindNames[k]
}

// Queue is a hardware queue class.
type Queue int

// Queues.
const (
	QueueGraphics Queue = iota
	QueueCompute
	QueueCopy
	QueueCount
)

// MemoryUsage selects the memory heap of a buffer.
type MemoryUsage int

// Memory usages.
const (
	MemoryGPU      MemoryUsage = iota // device local
	MemoryUpload                      // host visible, coherent, write combined
	MemoryReadback                    // host visible, cached
)

// Config is passed to a driver when a device is opened.
type Config struct {
	Logger     *logrus.Logger
	Debug      bool
	Validation bool

	// Surface is the presentation surface the device must support,
	// driver specific. Nil for headless devices.
	Surface interface{}

	// PipelineCache is a blob produced by PipelineCacheData.
	PipelineCache []byte
}

// Limits are device limits consumed by the graphics device.
type Limits struct {
	MaxFramebufferWidth      uint32
	MaxFramebufferHeight     uint32
	MaxFramebufferLayers     uint32
	MaxPushConstantsSize     uint32
	MaxUniformBufferRange    uint32
	TimestampPeriod          float32
	ShaderGroupHandleSize    uint32
	ShaderGroupBaseAlignment uint32
	MaxBindlessDescriptors   uint32
}

// Features are optional features the driver enabled.
type Features struct {
	Tessellation         bool
	GeometryShader       bool
	MeshShader           bool
	RayTracing           bool
	VariableRateShading  bool
	ConditionalRendering bool
	DebugUtils           bool
	DescriptorIndexing   bool
	SamplerMinMax        bool
	DepthBounds          bool
	ConservativeRaster   bool
	BufferDeviceAddress  bool
}

// Properties describe the opened device.
type Properties struct {
	Name       string
	VendorID   uint32
	DeviceID   uint32
	Discrete   bool
	APIVersion uint32
	Limits     Limits
	Features   Features

	// Queues reports which queues are backed by distinct hardware
	// queues. The graphics queue is always present.
	Queues [QueueCount]bool
}

// BufferInfo creates a buffer.
type BufferInfo struct {
	Size   uint64
	Usage  vk.BufferUsageFlags
	Memory MemoryUsage
}

// ImageInfo creates an image.
type ImageInfo struct {
	Type        vk.ImageType
	Format      vk.Format
	Extent      vk.Extent3D
	MipLevels   uint32
	ArrayLayers uint32
	Samples     vk.SampleCountFlagBits
	Usage       vk.ImageUsageFlags
	Flags       vk.ImageCreateFlags
}

// ImageViewInfo creates an image view.
type ImageViewInfo struct {
	Image    Handle
	ViewType vk.ImageViewType
	Format   vk.Format
	Range    vk.ImageSubresourceRange
}

// BufferViewInfo creates a typed buffer view.
type BufferViewInfo struct {
	Buffer Handle
	Format vk.Format
	Offset uint64
	Range  uint64
}

// SamplerInfo creates a sampler.
type SamplerInfo struct {
	MagFilter        vk.Filter
	MinFilter        vk.Filter
	MipmapMode       vk.SamplerMipmapMode
	AddressModeU     vk.SamplerAddressMode
	AddressModeV     vk.SamplerAddressMode
	AddressModeW     vk.SamplerAddressMode
	MipLodBias       float32
	AnisotropyEnable bool
	MaxAnisotropy    float32
	CompareEnable    bool
	CompareOp        vk.CompareOp
	MinLod           float32
	MaxLod           float32
	BorderColor      vk.BorderColor
	Reduction        int // 0 average, 1 min, 2 max
}

// QueryPoolInfo creates a query pool.
type QueryPoolInfo struct {
	Type  vk.QueryType
	Count uint32
}

// SetLayoutBinding is one binding of a descriptor set layout.
type SetLayoutBinding struct {
	Binding           uint32
	Type              vk.DescriptorType
	Count             uint32
	Stages            vk.ShaderStageFlags
	ImmutableSamplers []Handle
}

// SetLayoutInfo creates a descriptor set layout. Bindless layouts have a
// single partially bound, update-after-bind binding.
type SetLayoutInfo struct {
	Bindings []SetLayoutBinding
	Bindless bool
}

// PushConstantRange is the push constant block of a pipeline layout.
type PushConstantRange struct {
	Stages vk.ShaderStageFlags
	Offset uint32
	Size   uint32
}

// PipelineLayoutInfo creates a pipeline layout.
type PipelineLayoutInfo struct {
	SetLayouts    []Handle
	PushConstants []PushConstantRange
}

// ShaderStageInfo is one stage of a pipeline.
type ShaderStageInfo struct {
	Stage  vk.ShaderStageFlagBits
	Module Handle
	Entry  string
}

// VertexBinding is a vertex buffer binding of a pipeline.
type VertexBinding struct {
	Binding   uint32
	Stride    uint32
	InputRate vk.VertexInputRate
}

// VertexAttribute is a vertex attribute of a pipeline.
type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   vk.Format
	Offset   uint32
}

// RasterState is the rasterization state of a pipeline.
type RasterState struct {
	DepthClampEnable        bool
	PolygonMode             vk.PolygonMode
	CullMode                vk.CullModeFlags
	FrontFace               vk.FrontFace
	DepthBiasEnable         bool
	DepthBiasConstantFactor float32
	DepthBiasClamp          float32
	DepthBiasSlopeFactor    float32
	LineWidth               float32
	DepthClipEnable         bool
	ConservativeRaster      bool
}

// StencilOpState is the stencil behaviour of one face.
type StencilOpState struct {
	FailOp      vk.StencilOp
	PassOp      vk.StencilOp
	DepthFailOp vk.StencilOp
	CompareOp   vk.CompareOp
	CompareMask uint32
	WriteMask   uint32
	Reference   uint32
}

// DepthStencilState is the depth stencil state of a pipeline.
type DepthStencilState struct {
	DepthTestEnable       bool
	DepthWriteEnable      bool
	DepthCompareOp        vk.CompareOp
	DepthBoundsTestEnable bool
	StencilTestEnable     bool
	Front                 StencilOpState
	Back                  StencilOpState
	MinDepthBounds        float32
	MaxDepthBounds        float32
}

// BlendAttachment is the blend state of one color attachment.
type BlendAttachment struct {
	BlendEnable         bool
	SrcColorBlendFactor vk.BlendFactor
	DstColorBlendFactor vk.BlendFactor
	ColorBlendOp        vk.BlendOp
	SrcAlphaBlendFactor vk.BlendFactor
	DstAlphaBlendFactor vk.BlendFactor
	AlphaBlendOp        vk.BlendOp
	ColorWriteMask      vk.ColorComponentFlags
}

// GraphicsPipelineInfo creates a graphics pipeline.
type GraphicsPipelineInfo struct {
	Stages             []ShaderStageInfo
	VertexBindings     []VertexBinding
	VertexAttributes   []VertexAttribute
	Topology           vk.PrimitiveTopology
	PatchControlPoints uint32
	Raster             RasterState
	Samples            vk.SampleCountFlagBits
	SampleMask         uint32
	AlphaToCoverage    bool
	DepthStencil       DepthStencilState
	Blend              []BlendAttachment
	DynamicStates      []vk.DynamicState
	Layout             Handle
	RenderPass         Handle
}

// ComputePipelineInfo creates a compute pipeline.
type ComputePipelineInfo struct {
	Stage  ShaderStageInfo
	Layout Handle
}

// ShaderGroupType is the kind of a ray tracing shader group.
type ShaderGroupType int

// Shader group kinds.
const (
	ShaderGroupGeneral ShaderGroupType = iota
	ShaderGroupTriangles
	ShaderGroupProcedural
)

// ShaderUnused marks an unused shader index of a group.
const ShaderUnused = ^uint32(0)

// ShaderGroupInfo is one group of a ray tracing pipeline.
type ShaderGroupInfo struct {
	Type         ShaderGroupType
	General      uint32
	ClosestHit   uint32
	AnyHit       uint32
	Intersection uint32
}

// RaytracingPipelineInfo creates a ray tracing pipeline.
type RaytracingPipelineInfo struct {
	Stages            []ShaderStageInfo
	Groups            []ShaderGroupInfo
	MaxRecursionDepth uint32
	Layout            Handle
}

// AttachmentInfo describes one attachment of a render pass.
type AttachmentInfo struct {
	Format         vk.Format
	Samples        vk.SampleCountFlagBits
	LoadOp         vk.AttachmentLoadOp
	StoreOp        vk.AttachmentStoreOp
	StencilLoadOp  vk.AttachmentLoadOp
	StencilStoreOp vk.AttachmentStoreOp
	InitialLayout  vk.ImageLayout
	FinalLayout    vk.ImageLayout
}

// AttachmentUnused marks an unused attachment reference.
const AttachmentUnused = ^uint32(0)

// AttachmentRef references an attachment from the subpass.
type AttachmentRef struct {
	Attachment uint32
	Layout     vk.ImageLayout
}

// RenderPassInfo creates a single subpass render pass.
type RenderPassInfo struct {
	Attachments  []AttachmentInfo
	Color        []AttachmentRef
	Resolve      []AttachmentRef
	DepthStencil *AttachmentRef
	ShadingRate  *AttachmentRef
	ShadingTexel vk.Extent2D
}

// FramebufferInfo creates a framebuffer.
type FramebufferInfo struct {
	RenderPass  Handle
	Attachments []Handle
	Width       uint32
	Height      uint32
	Layers      uint32
}

// DescriptorPoolSize is the capacity of one descriptor type.
type DescriptorPoolSize struct {
	Type  vk.DescriptorType
	Count uint32
}

// DescriptorPoolInfo creates a descriptor pool.
type DescriptorPoolInfo struct {
	MaxSets  uint32
	Sizes    []DescriptorPoolSize
	Bindless bool
}

// ImageDescriptor is written into image and sampler bindings.
type ImageDescriptor struct {
	Sampler Handle
	View    Handle
	Layout  vk.ImageLayout
}

// BufferDescriptor is written into buffer bindings.
type BufferDescriptor struct {
	Buffer Handle
	Offset uint64
	Range  uint64
}

// DescriptorWrite updates consecutive array elements of one binding.
type DescriptorWrite struct {
	Set          Handle
	Binding      uint32
	ArrayElement uint32
	Type         vk.DescriptorType
	Images       []ImageDescriptor
	Buffers      []BufferDescriptor
	TexelBuffers []Handle
	AccelStructs []Handle
}

// Count returns the number of descriptors written.
func (w *DescriptorWrite) Count() int {
	return len(w.Images) + len(w.Buffers) + len(w.TexelBuffers) + len(w.AccelStructs)
}

// GeometryType is the input kind of an acceleration structure geometry.
type GeometryType int

// Geometry kinds.
const (
	GeometryTriangles GeometryType = iota
	GeometryAABBs
	GeometryInstances
)

// GeometryFlags are per geometry build options.
type GeometryFlags uint32

// Geometry flags.
const (
	GeometryOpaque GeometryFlags = 1 << iota
	GeometryNoDuplicateAnyHit
)

// BuildFlags are acceleration structure build options.
type BuildFlags uint32

// Build flags.
const (
	BuildAllowUpdate BuildFlags = 1 << iota
	BuildAllowCompaction
	BuildPreferFastTrace
	BuildPreferFastBuild
	BuildLowMemory
)

// GeometryInfo is one geometry of an acceleration structure build.
type GeometryInfo struct {
	Type  GeometryType
	Flags GeometryFlags

	VertexAddress    uint64
	VertexStride     uint64
	VertexFormat     vk.Format
	MaxVertex        uint32
	IndexAddress     uint64
	IndexType        vk.IndexType
	TransformAddress uint64

	AABBAddress uint64
	AABBStride  uint64

	InstanceAddress uint64

	PrimitiveCount  uint32
	PrimitiveOffset uint32
}

// AccelerationStructureBuildInfo describes the input of a build.
type AccelerationStructureBuildInfo struct {
	TopLevel   bool
	Flags      BuildFlags
	Update     bool
	Geometries []GeometryInfo

	Src            Handle
	Dst            Handle
	ScratchAddress uint64
}

// AccelerationStructureSizes are the memory requirements of a build.
type AccelerationStructureSizes struct {
	Size          uint64
	BuildScratch  uint64
	UpdateScratch uint64
}

// AccelerationStructureInfo creates an acceleration structure in an
// existing buffer.
type AccelerationStructureInfo struct {
	TopLevel bool
	Buffer   Handle
	Offset   uint64
	Size     uint64
}

// SwapchainInfo creates a swapchain.
type SwapchainInfo struct {
	Surface      interface{}
	Width        uint32
	Height       uint32
	ImageCount   uint32
	Format       vk.Format
	ColorSpace   vk.ColorSpace
	VSync        bool
	OldSwapchain Handle
}

// SwapchainState is what a driver reports after creating a swapchain.
type SwapchainState struct {
	Handle Handle
	Images []Handle
	Format vk.Format
	Width  uint32
	Height uint32
}

// SemaphoreOp is a wait or signal operation on a semaphore. Timeline
// semaphores use Value; binary semaphores ignore it.
type SemaphoreOp struct {
	Semaphore Handle
	Value     uint64
	Stage     vk.PipelineStageFlags
}

// SubmitBatch is one queue submission.
type SubmitBatch struct {
	Wait           []SemaphoreOp
	CommandBuffers []Handle
	Signal         []SemaphoreOp
}

// Present presents swapchain images after waiting on semaphores.
type Present struct {
	Wait       []Handle
	Swapchains []Handle
	Images     []uint32
}

// Device is an opened driver device.
type Device interface {
	Properties() Properties
	WaitIdle() error
	Close() error

	// Destroy releases any object created by this device.
	Destroy(kind Kind, h Handle)
	SetName(kind Kind, h Handle, name string)

	CreateBuffer(info *BufferInfo) (Handle, error)
	BufferAddress(buf Handle) uint64
	// Mapped returns the persistent mapping of a host visible buffer.
	Mapped(buf Handle) []byte
	CreateImage(info *ImageInfo) (Handle, error)
	CreateImageView(info *ImageViewInfo) (Handle, error)
	CreateBufferView(info *BufferViewInfo) (Handle, error)
	CreateSampler(info *SamplerInfo) (Handle, error)
	CreateQueryPool(info *QueryPoolInfo) (Handle, error)
	CreateShaderModule(code []byte) (Handle, error)

	CreateSetLayout(info *SetLayoutInfo) (Handle, error)
	CreatePipelineLayout(info *PipelineLayoutInfo) (Handle, error)
	CreateGraphicsPipeline(info *GraphicsPipelineInfo) (Handle, error)
	CreateComputePipeline(info *ComputePipelineInfo) (Handle, error)
	CreateRaytracingPipeline(info *RaytracingPipelineInfo) (Handle, error)
	ShaderGroupHandles(pipeline Handle, first, count uint32, dst []byte) error
	PipelineCacheData() ([]byte, error)

	CreateRenderPass(info *RenderPassInfo) (Handle, error)
	CreateFramebuffer(info *FramebufferInfo) (Handle, error)

	AccelerationStructureSizes(info *AccelerationStructureBuildInfo) (AccelerationStructureSizes, error)
	CreateAccelerationStructure(info *AccelerationStructureInfo) (Handle, error)
	AccelerationStructureAddress(as Handle) uint64

	CreateDescriptorPool(info *DescriptorPoolInfo) (Handle, error)
	ResetDescriptorPool(pool Handle) error
	// AllocateDescriptorSet returns ErrOutOfPoolMemory when the pool is full.
	AllocateDescriptorSet(pool, layout Handle, variableCount uint32) (Handle, error)
	UpdateDescriptorSets(writes []DescriptorWrite)

	CreateFence(signaled bool) (Handle, error)
	// WaitFences waits for all fences. A negative timeout waits forever;
	// ErrTimeout is returned when the timeout expires first.
	WaitFences(fences []Handle, timeout time.Duration) error
	ResetFences(fences []Handle) error
	// CreateSemaphore creates a timeline semaphore starting at zero, or a
	// binary semaphore.
	CreateSemaphore(timeline bool) (Handle, error)
	SemaphoreValue(sem Handle) (uint64, error)

	CreateCommandPool(queue Queue) (Handle, error)
	ResetCommandPool(pool Handle) error
	AllocateCommandBuffer(pool Handle) (CommandBuffer, error)

	Submit(queue Queue, batches []SubmitBatch, fence Handle) error

	CreateSwapchain(info *SwapchainInfo) (SwapchainState, error)
	// AcquireNextImage returns ErrOutOfDate when the swapchain has to be
	// recreated.
	AcquireNextImage(swapchain, semaphore Handle) (uint32, error)
	Present(queue Queue, p *Present) error
}

// RenderPassBegin begins a render pass instance.
type RenderPassBegin struct {
	RenderPass  Handle
	Framebuffer Handle
	Area        vk.Rect2D
	ClearValues []ClearValue
}

// ClearValue is a color or depth stencil clear value.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// MemoryBarrier is a global memory dependency.
type MemoryBarrier struct {
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

// BufferBarrier is a buffer memory dependency.
type BufferBarrier struct {
	Buffer    Handle
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
	Offset    uint64
	Size      uint64
}

// ImageBarrier is an image layout transition.
type ImageBarrier struct {
	Image     Handle
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
	OldLayout vk.ImageLayout
	NewLayout vk.ImageLayout
	Range     vk.ImageSubresourceRange
}

// Barrier is a pipeline barrier.
type Barrier struct {
	SrcStage vk.PipelineStageFlags
	DstStage vk.PipelineStageFlags
	Memory   []MemoryBarrier
	Buffers  []BufferBarrier
	Images   []ImageBarrier
}

// TraceRaysInfo describes a ray dispatch.
type TraceRaysInfo struct {
	RaygenBuffer   Handle
	RaygenOffset   uint64
	MissBuffer     Handle
	MissOffset     uint64
	MissStride     uint64
	HitBuffer      Handle
	HitOffset      uint64
	HitStride      uint64
	CallableBuffer Handle
	CallableOffset uint64
	CallableStride uint64
	Width          uint32
	Height         uint32
	Depth          uint32
}

// CommandBuffer records commands. It is not safe for concurrent use.
type CommandBuffer interface {
	Handle() Handle
	Begin(oneTime bool) error
	End() error

	BeginRenderPass(info *RenderPassBegin)
	EndRenderPass()

	BindPipeline(point vk.PipelineBindPoint, pipeline Handle)
	BindDescriptorSets(point vk.PipelineBindPoint, layout Handle, first uint32, sets []Handle)
	PushConstants(layout Handle, stages vk.ShaderStageFlags, offset uint32, data []byte)
	BindVertexBuffers(first uint32, buffers []Handle, offsets []uint64)
	BindIndexBuffer(buffer Handle, offset uint64, indexType vk.IndexType)

	SetViewports(first uint32, viewports []vk.Viewport)
	SetScissors(first uint32, scissors []vk.Rect2D)
	SetBlendConstants(constants [4]float32)
	SetStencilReference(reference uint32)
	SetFragmentShadingRate(width, height uint32)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	DrawIndirect(buffer Handle, offset uint64, drawCount, stride uint32)
	DrawIndexedIndirect(buffer Handle, offset uint64, drawCount, stride uint32)
	Dispatch(x, y, z uint32)
	DispatchIndirect(buffer Handle, offset uint64)
	DrawMeshTasks(x, y, z uint32)
	DrawMeshTasksIndirect(buffer Handle, offset uint64, drawCount, stride uint32)
	TraceRays(info *TraceRaysInfo)

	CopyBuffer(src, dst Handle, regions []vk.BufferCopy)
	CopyImage(src Handle, srcLayout vk.ImageLayout, dst Handle, dstLayout vk.ImageLayout, regions []vk.ImageCopy)
	CopyBufferToImage(src, dst Handle, dstLayout vk.ImageLayout, regions []vk.BufferImageCopy)
	CopyImageToBuffer(src Handle, srcLayout vk.ImageLayout, dst Handle, regions []vk.BufferImageCopy)
	PipelineBarrier(b *Barrier)

	BeginQuery(pool Handle, query uint32, precise bool)
	EndQuery(pool Handle, query uint32)
	WriteTimestamp(stage vk.PipelineStageFlagBits, pool Handle, query uint32)
	ResetQueryPool(pool Handle, first, count uint32)
	CopyQueryPoolResults(pool Handle, first, count uint32, dst Handle, offset, stride uint64, flags vk.QueryResultFlags)

	BuildAccelerationStructure(info *AccelerationStructureBuildInfo)

	BeginConditionalRendering(buffer Handle, offset uint64, inverted bool)
	EndConditionalRendering()

	BeginLabel(name string)
	EndLabel()
	InsertLabel(name string)
}
