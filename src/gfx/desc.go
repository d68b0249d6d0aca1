// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

// AppendAligned places an input element right after the previous one.
const AppendAligned = ^uint32(0)

// ShaderIdentifierUnused marks an unused hit group entry.
const ShaderIdentifierUnused = ^uint32(0)

// BufferDesc describes a GPUBuffer.
type BufferDesc struct {
	Size      uint64
	Usage     Usage
	BindFlags BindFlag
	MiscFlags ResourceMiscFlag
	Stride    uint32 // structured buffer element size
	Format    Format // FormatUnknown means raw or structured
}

// ClearValue is the optimized clear value of a texture.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint8
}

// TextureDesc describes a Texture.
type TextureDesc struct {
	Type        TextureType
	Width       uint32
	Height      uint32
	Depth       uint32
	ArraySize   uint32
	MipLevels   uint32 // 0 requests a full chain
	Format      Format
	SampleCount uint32
	Usage       Usage
	BindFlags   BindFlag
	MiscFlags   ResourceMiscFlag
	Clear       ClearValue
	Layout      ResourceState // steady state layout
}

// SubresourceData is the initial content of one texture subresource or a
// buffer.
type SubresourceData struct {
	Data       []byte
	RowPitch   uint32
	SlicePitch uint32
}

// SamplerDesc describes a Sampler.
type SamplerDesc struct {
	Filter         Filter
	AddressU       TextureAddressMode
	AddressV       TextureAddressMode
	AddressW       TextureAddressMode
	MipLODBias     float32
	MaxAnisotropy  uint32
	ComparisonFunc ComparisonFunc
	BorderColor    BorderColor
	MinLOD         float32
	MaxLOD         float32
}

// StaticSampler is a sampler baked into shader layouts at a fixed slot.
type StaticSampler struct {
	Sampler Sampler
	Slot    uint32
}

// RasterizerState describes fixed function rasterization.
type RasterizerState struct {
	FillMode              FillMode
	CullMode              CullMode
	FrontCounterClockwise bool
	DepthBias             int32
	DepthBiasClamp        float32
	SlopeScaledDepthBias  float32
	DepthClipEnable       bool
	MultisampleEnable     bool
	AntialiasedLineEnable bool
	ConservativeRaster    bool
	ForcedSampleCount     uint32
}

// DepthStencilOp describes stencil behaviour for one face.
type DepthStencilOp struct {
	StencilFailOp      StencilOp
	StencilDepthFailOp StencilOp
	StencilPassOp      StencilOp
	StencilFunc        ComparisonFunc
}

// DepthStencilState describes depth and stencil testing.
type DepthStencilState struct {
	DepthEnable      bool
	DepthWriteMask   DepthWriteMask
	DepthFunc        ComparisonFunc
	StencilEnable    bool
	StencilReadMask  uint8
	StencilWriteMask uint8
	FrontFace        DepthStencilOp
	BackFace         DepthStencilOp
	DepthBoundsTest  bool
}

// RenderTargetBlendState describes blending of one render target.
type RenderTargetBlendState struct {
	BlendEnable    bool
	SrcBlend       Blend
	DestBlend      Blend
	BlendOp        BlendOp
	SrcBlendAlpha  Blend
	DestBlendAlpha Blend
	BlendOpAlpha   BlendOp
	WriteMask      ColorWrite
}

// BlendState describes blending of all render targets.
type BlendState struct {
	AlphaToCoverage  bool
	IndependentBlend bool
	RenderTarget     [8]RenderTargetBlendState
}

// InputLayoutElement is one vertex attribute.
type InputLayoutElement struct {
	SemanticName      string
	SemanticIndex     uint32
	Format            Format
	InputSlot         uint32
	AlignedByteOffset uint32 // AppendAligned packs after the previous element
	InputSlotClass    InputClassification
}

// InputLayout lists vertex attributes.
type InputLayout struct {
	Elements []InputLayoutElement
}

// PipelineStateDesc combines shaders and fixed function state.
type PipelineStateDesc struct {
	VS, HS, DS, GS, PS *Shader
	MS, AS             *Shader

	IL  *InputLayout
	RS  *RasterizerState
	BS  *BlendState
	DSS *DepthStencilState
	PT  PrimitiveTopology

	PatchControlPoints uint32
	SampleMask         uint32
}

// RenderPassAttachmentType is the role of an attachment.
type RenderPassAttachmentType int

// Attachment roles.
const (
	AttachmentRenderTarget RenderPassAttachmentType = iota
	AttachmentDepthStencil
	AttachmentResolve
	AttachmentShadingRateSource
)

// LoadOp decides what happens to attachment content at pass start.
type LoadOp int

// Load operations.
const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

// StoreOp decides what happens to attachment content at pass end.
type StoreOp int

// Store operations.
const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

// RenderPassAttachment is one attachment of a RenderPass.
type RenderPassAttachment struct {
	Type          RenderPassAttachmentType
	LoadOp        LoadOp
	Texture       *Texture
	Subresource   int // -1 selects the main view
	StoreOp       StoreOp
	InitialLayout ResourceState
	SubpassLayout ResourceState
	FinalLayout   ResourceState
}

// RenderPassAttachmentRT is a shorthand for a render target attachment.
func RenderPassAttachmentRT(tex *Texture, load LoadOp, store StoreOp) RenderPassAttachment {
	layout := tex.Desc.Layout
	return RenderPassAttachment{
		Type:          AttachmentRenderTarget,
		LoadOp:        load,
		Texture:       tex,
		Subresource:   -1,
		StoreOp:       store,
		InitialLayout: layout,
		SubpassLayout: StateRenderTarget,
		FinalLayout:   layout,
	}
}

// RenderPassAttachmentDS is a shorthand for a depth stencil attachment.
func RenderPassAttachmentDS(tex *Texture, load LoadOp, store StoreOp) RenderPassAttachment {
	layout := tex.Desc.Layout
	return RenderPassAttachment{
		Type:          AttachmentDepthStencil,
		LoadOp:        load,
		Texture:       tex,
		Subresource:   -1,
		StoreOp:       store,
		InitialLayout: layout,
		SubpassLayout: StateDepthStencil,
		FinalLayout:   layout,
	}
}

// RenderPassAttachmentResolve is a shorthand for a resolve attachment.
func RenderPassAttachmentResolve(tex *Texture) RenderPassAttachment {
	a := RenderPassAttachment{
		Type:          AttachmentResolve,
		LoadOp:        LoadOpDontCare,
		Texture:       tex,
		Subresource:   -1,
		InitialLayout: StateShaderResource,
		SubpassLayout: StateShaderResource,
		FinalLayout:   StateShaderResource,
	}
	if tex != nil {
		a.InitialLayout = tex.Desc.Layout
		a.FinalLayout = tex.Desc.Layout
	}
	return a
}

// RenderPassFlags are options of a render pass.
type RenderPassFlags uint32

// Render pass flags.
const (
	RenderPassAllowUAVWrites RenderPassFlags = 1 << iota
)

// RenderPassDesc describes a RenderPass.
type RenderPassDesc struct {
	Flags       RenderPassFlags
	Attachments []RenderPassAttachment
}

// SwapChainDesc describes a SwapChain.
type SwapChainDesc struct {
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      Format
	Fullscreen  bool
	VSync       bool
	ClearColor  [4]float32
	AllowHDR    bool
}

// QueryHeapDesc describes a QueryHeap.
type QueryHeapDesc struct {
	Type       QueryType
	QueryCount uint32
}

// AccelerationStructureType selects the acceleration structure level.
type AccelerationStructureType int

// Acceleration structure levels.
const (
	BottomLevel AccelerationStructureType = iota
	TopLevel
)

// AccelerationStructureFlags control build behaviour.
type AccelerationStructureFlags uint32

// Build flags.
const (
	ASAllowUpdate AccelerationStructureFlags = 1 << iota
	ASAllowCompaction
	ASPreferFastTrace
	ASPreferFastBuild
	ASMinimizeMemory
)

// GeometryType is the kind of a bottom level geometry.
type GeometryType int

// Geometry kinds.
const (
	GeometryTriangles GeometryType = iota
	GeometryProceduralAABBs
)

// GeometryFlags are per geometry options.
type GeometryFlags uint32

// Geometry flags.
const (
	GeometryOpaque GeometryFlags = 1 << iota
	GeometryNoDuplicateAnyHit
	GeometryUseTransform
)

// TrianglesDesc is triangle input of a bottom level geometry.
type TrianglesDesc struct {
	VertexBuffer     *GPUBuffer
	IndexBuffer      *GPUBuffer
	IndexCount       uint32
	IndexOffset      uint32
	VertexCount      uint32
	VertexByteOffset uint64
	VertexStride     uint32
	IndexFormat      IndexBufferFormat
	VertexFormat     Format

	Transform3x4Buffer       *GPUBuffer
	Transform3x4BufferOffset uint32
}

// AABBsDesc is procedural input of a bottom level geometry.
type AABBsDesc struct {
	AABBBuffer *GPUBuffer
	Offset     uint32
	Count      uint32
	Stride     uint32 // 0 means 24, six packed floats
}

// Geometry is one input of a bottom level acceleration structure.
type Geometry struct {
	Type      GeometryType
	Flags     GeometryFlags
	Triangles TrianglesDesc
	AABBs     AABBsDesc
}

// BottomLevelDesc lists geometries.
type BottomLevelDesc struct {
	Geometries []Geometry
}

// TopLevelDesc points at an instance buffer.
type TopLevelDesc struct {
	InstanceBuffer *GPUBuffer
	Offset         uint32
	Count          uint32
}

// AccelerationStructureDesc describes an AccelerationStructure.
type AccelerationStructureDesc struct {
	Flags       AccelerationStructureFlags
	Type        AccelerationStructureType
	BottomLevel BottomLevelDesc
	TopLevel    TopLevelDesc
}

// InstanceFlags are per instance options of a top level structure.
type InstanceFlags uint32

// Instance flags.
const (
	InstanceTriangleCullDisable InstanceFlags = 1 << iota
	InstanceTriangleFrontCounterClockwise
	InstanceForceOpaque
	InstanceForceNonOpaque
)

// TopLevelInstance is one instance written into a top level instance buffer.
type TopLevelInstance struct {
	Transform    [3][4]float32
	InstanceID   uint32 // 24 bits
	InstanceMask uint32 // 8 bits
	HitGroupBase uint32 // 24 bits
	Flags        InstanceFlags
	BottomLevel  *AccelerationStructure
}

// ShaderLibraryType is the role of a ray tracing shader.
type ShaderLibraryType int

// Ray tracing shader roles.
const (
	LibraryRayGeneration ShaderLibraryType = iota
	LibraryMiss
	LibraryClosestHit
	LibraryAnyHit
	LibraryIntersection
)

// ShaderLibrary is one ray tracing shader entry point.
type ShaderLibrary struct {
	Type         ShaderLibraryType
	Shader       *Shader
	FunctionName string
}

// HitGroupType is the kind of a shader group.
type HitGroupType int

// Shader group kinds.
const (
	HitGroupGeneral HitGroupType = iota
	HitGroupTriangles
	HitGroupProcedural
)

// ShaderHitGroup references shader libraries by index.
type ShaderHitGroup struct {
	Type               HitGroupType
	Name               string
	GeneralShader      uint32
	ClosestHitShader   uint32
	AnyHitShader       uint32
	IntersectionShader uint32
}

// RaytracingPipelineStateDesc describes a RaytracingPipelineState.
type RaytracingPipelineStateDesc struct {
	ShaderLibraries   []ShaderLibrary
	HitGroups         []ShaderHitGroup
	MaxRecursionDepth uint32
	MaxAttributeSize  uint32
	MaxPayloadSize    uint32
}

// ShaderTable is a region of a buffer holding shader records.
type ShaderTable struct {
	Buffer *GPUBuffer
	Offset uint64
	Size   uint64
	Stride uint64
}

// DispatchRaysDesc describes a ray dispatch.
type DispatchRaysDesc struct {
	RayGeneration ShaderTable
	Miss          ShaderTable
	HitGroup      ShaderTable
	Callable      ShaderTable
	Width         uint32
	Height        uint32
	Depth         uint32
}

// Viewport is a rasterizer viewport.
type Viewport struct {
	TopLeftX float32
	TopLeftY float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

// Rect is a scissor rectangle.
type Rect struct {
	Left   int32
	Top    int32
	Right  int32
	Bottom int32
}

// BarrierType tags the variant held by a GPUBarrier.
type BarrierType int

// Barrier variants.
const (
	BarrierMemoryType BarrierType = iota
	BarrierImageType
	BarrierBufferType
)

// GPUBarrier is a resource state transition or a memory dependency.
type GPUBarrier struct {
	Type BarrierType

	Resource *GPUResource // memory barrier target, nil for all memory

	Texture      *Texture
	LayoutBefore ResourceState
	LayoutAfter  ResourceState
	Mip          int // -1 for every mip
	Slice        int // -1 for every slice

	Buffer      *GPUBuffer
	StateBefore ResourceState
	StateAfter  ResourceState
}

// BarrierMemory creates a memory barrier.
func BarrierMemory(res *GPUResource) GPUBarrier {
	return GPUBarrier{Type: BarrierMemoryType, Resource: res}
}

// BarrierImage creates an image layout transition of every subresource.
func BarrierImage(tex *Texture, before, after ResourceState) GPUBarrier {
	return GPUBarrier{
		Type:         BarrierImageType,
		Texture:      tex,
		LayoutBefore: before,
		LayoutAfter:  after,
		Mip:          -1,
		Slice:        -1,
	}
}

// BarrierImageSubresource creates an image layout transition of one mip
// and slice.
func BarrierImageSubresource(tex *Texture, before, after ResourceState, mip, slice int) GPUBarrier {
	b := BarrierImage(tex, before, after)
	b.Mip = mip
	b.Slice = slice
	return b
}

// BarrierBuffer creates a buffer state transition.
func BarrierBuffer(buf *GPUBuffer, before, after ResourceState) GPUBarrier {
	return GPUBarrier{
		Type:        BarrierBufferType,
		Buffer:      buf,
		StateBefore: before,
		StateAfter:  after,
	}
}
