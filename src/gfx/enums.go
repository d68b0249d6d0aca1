// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

// ShaderStage identifies a programmable pipeline stage.
type ShaderStage int

// Shader stages.
const (
	ShaderStageMS ShaderStage = iota // mesh
	ShaderStageAS                    // amplification
	ShaderStageVS
	ShaderStageHS
	ShaderStageDS
	ShaderStageGS
	ShaderStagePS
	ShaderStageCS
	ShaderStageLIB // ray tracing library
	ShaderStageCount
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageMS:
		return "MS"
	case ShaderStageAS:
		return "AS"
	case ShaderStageVS:
		return "VS"
	case ShaderStageHS:
		return "HS"
	case ShaderStageDS:
		return "DS"
	case ShaderStageGS:
		return "GS"
	case ShaderStagePS:
		return "PS"
	case ShaderStageCS:
		return "CS"
	case ShaderStageLIB:
		return "LIB"
	}
	return "unknown"
}

// PrimitiveTopology describes how vertices are assembled.
type PrimitiveTopology int

// Primitive topologies.
const (
	TopologyUndefined PrimitiveTopology = iota
	TopologyTriangleList
	TopologyTriangleStrip
	TopologyPointList
	TopologyLineList
	TopologyLineStrip
	TopologyPatchList
)

// ComparisonFunc is used by depth, stencil and comparison samplers.
type ComparisonFunc int

// Comparison functions.
const (
	ComparisonNever ComparisonFunc = iota
	ComparisonLess
	ComparisonEqual
	ComparisonLessEqual
	ComparisonGreater
	ComparisonNotEqual
	ComparisonGreaterEqual
	ComparisonAlways
)

// DepthWriteMask toggles depth writes.
type DepthWriteMask int

// Depth write masks.
const (
	DepthWriteMaskZero DepthWriteMask = iota
	DepthWriteMaskAll
)

// StencilOp is an operation applied to the stencil buffer.
type StencilOp int

// Stencil operations.
const (
	StencilOpKeep StencilOp = iota
	StencilOpZero
	StencilOpReplace
	StencilOpIncrSat
	StencilOpDecrSat
	StencilOpInvert
	StencilOpIncr
	StencilOpDecr
)

// Blend is a blend factor.
type Blend int

// Blend factors.
const (
	BlendZero Blend = iota
	BlendOne
	BlendSrcColor
	BlendInvSrcColor
	BlendSrcAlpha
	BlendInvSrcAlpha
	BlendDestAlpha
	BlendInvDestAlpha
	BlendDestColor
	BlendInvDestColor
	BlendSrcAlphaSat
	BlendBlendFactor
	BlendInvBlendFactor
	BlendSrc1Color
	BlendInvSrc1Color
	BlendSrc1Alpha
	BlendInvSrc1Alpha
)

// BlendOp combines source and destination.
type BlendOp int

// Blend operations.
const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
	BlendOpRevSubtract
	BlendOpMin
	BlendOpMax
)

// ColorWrite is a mask of written color channels.
type ColorWrite uint8

// Color write masks.
const (
	ColorWriteDisable ColorWrite = 0
	ColorWriteRed     ColorWrite = 1 << 0
	ColorWriteGreen   ColorWrite = 1 << 1
	ColorWriteBlue    ColorWrite = 1 << 2
	ColorWriteAlpha   ColorWrite = 1 << 3
	ColorWriteAll                = ColorWriteRed | ColorWriteGreen | ColorWriteBlue | ColorWriteAlpha
)

// FillMode selects solid or wireframe rasterization.
type FillMode int

// Fill modes.
const (
	FillSolid FillMode = iota
	FillWireframe
)

// CullMode selects which faces are culled.
type CullMode int

// Cull modes.
const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

// InputClassification tells whether a vertex element advances per vertex
// or per instance.
type InputClassification int

// Input classifications.
const (
	InputPerVertexData InputClassification = iota
	InputPerInstanceData
)

// Usage describes CPU access to a resource.
type Usage int

// Usages.
const (
	UsageDefault  Usage = iota // GPU only
	UsageUpload                // CPU write, GPU read
	UsageReadback              // GPU write, CPU read
)

// TextureAddressMode is a sampler addressing mode.
type TextureAddressMode int

// Texture address modes.
const (
	AddressWrap TextureAddressMode = iota
	AddressMirror
	AddressClamp
	AddressBorder
	AddressMirrorOnce
)

// Filter is a sampler filter. The values are grouped in runs of nine:
// standard, comparison, minimum and maximum reduction.
type Filter int

// Sampler filters.
const (
	FilterMinMagMipPoint Filter = iota
	FilterMinMagPointMipLinear
	FilterMinPointMagLinearMipPoint
	FilterMinPointMagMipLinear
	FilterMinLinearMagMipPoint
	FilterMinLinearMagPointMipLinear
	FilterMinMagLinearMipPoint
	FilterMinMagMipLinear
	FilterAnisotropic

	FilterComparisonMinMagMipPoint
	FilterComparisonMinMagPointMipLinear
	FilterComparisonMinPointMagLinearMipPoint
	FilterComparisonMinPointMagMipLinear
	FilterComparisonMinLinearMagMipPoint
	FilterComparisonMinLinearMagPointMipLinear
	FilterComparisonMinMagLinearMipPoint
	FilterComparisonMinMagMipLinear
	FilterComparisonAnisotropic

	FilterMinimumMinMagMipPoint
	FilterMinimumMinMagPointMipLinear
	FilterMinimumMinPointMagLinearMipPoint
	FilterMinimumMinPointMagMipLinear
	FilterMinimumMinLinearMagMipPoint
	FilterMinimumMinLinearMagPointMipLinear
	FilterMinimumMinMagLinearMipPoint
	FilterMinimumMinMagMipLinear
	FilterMinimumAnisotropic

	FilterMaximumMinMagMipPoint
	FilterMaximumMinMagPointMipLinear
	FilterMaximumMinPointMagLinearMipPoint
	FilterMaximumMinPointMagMipLinear
	FilterMaximumMinLinearMagMipPoint
	FilterMaximumMinLinearMagPointMipLinear
	FilterMaximumMinMagLinearMipPoint
	FilterMaximumMinMagMipLinear
	FilterMaximumAnisotropic
)

// FilterReduction is the reduction class of a Filter.
type FilterReduction int

// Filter reductions.
const (
	ReductionStandard FilterReduction = iota
	ReductionComparison
	ReductionMinimum
	ReductionMaximum
)

// Reduction returns the reduction class of f.
func (f Filter) Reduction() FilterReduction {
	return FilterReduction(int(f) / 9)
}

// Base strips the reduction class from f.
func (f Filter) Base() Filter {
	return Filter(int(f) % 9)
}

// BorderColor is the color returned by border addressing.
type BorderColor int

// Border colors.
const (
	BorderTransparentBlack BorderColor = iota
	BorderOpaqueBlack
	BorderOpaqueWhite
)

// IndexBufferFormat is the size of one index.
type IndexBufferFormat int

// Index formats.
const (
	IndexFormat16 IndexBufferFormat = iota
	IndexFormat32
)

// SubresourceType is the kind of view into a resource.
type SubresourceType int

// Subresource types.
const (
	SRV SubresourceType = iota // shader resource view
	UAV                        // unordered access view
	RTV                        // render target view
	DSV                        // depth stencil view
)

// BindFlag describes how a resource is going to be bound.
type BindFlag uint32

// Bind flags.
const (
	BindVertexBuffer BindFlag = 1 << iota
	BindIndexBuffer
	BindConstantBuffer
	BindShaderResource
	BindRenderTarget
	BindDepthStencil
	BindUnorderedAccess
	BindShadingRate
)

// ResourceMiscFlag holds uncommon resource options.
type ResourceMiscFlag uint32

// Misc flags.
const (
	MiscTextureCube ResourceMiscFlag = 1 << iota
	MiscIndirectArgs
	MiscBufferRaw
	MiscBufferStructured
	MiscRayTracing
	MiscPredication
)

// ResourceState is a bitmask of the ways a resource is used by the GPU.
type ResourceState uint32

// Resource states.
const (
	StateUndefined ResourceState = 0

	StateShaderResource ResourceState = 1 << (iota - 1)
	StateShaderResourceCompute
	StateUnorderedAccess
	StateCopySrc
	StateCopyDst
	StateRenderTarget
	StateDepthStencil
	StateDepthStencilReadOnly
	StateShadingRateSource
	StateVertexBuffer
	StateIndexBuffer
	StateConstantBuffer
	StateIndirectArgument
	StateAccelerationStructure
	StatePredication
)

// ShadingRate is a variable rate shading tile rate.
type ShadingRate int

// Shading rates.
const (
	ShadingRate1x1 ShadingRate = iota
	ShadingRate1x2
	ShadingRate2x1
	ShadingRate2x2
	ShadingRate2x4
	ShadingRate4x2
	ShadingRate4x4
)

// QueryType selects what a query heap measures.
type QueryType int

// Query types.
const (
	QueryTimestamp QueryType = iota
	QueryOcclusion
	QueryOcclusionBinary
)

// QueueType selects the hardware queue a command list is submitted to.
type QueueType int

// Queues.
const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueCopy
	QueueCount
)

func (q QueueType) String() string {
	switch q {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueCopy:
		return "copy"
	}
	return "unknown"
}

// TextureType is the dimensionality of a texture.
type TextureType int

// Texture types.
const (
	Texture1D TextureType = iota
	Texture2D
	Texture3D
)

// GPUResourceType tags the variant held by a GPUResource.
type GPUResourceType int

// Resource variants.
const (
	ResourceUnknown GPUResourceType = iota
	ResourceBuffer
	ResourceTexture
	ResourceAccelerationStructure
)

// Capability is a bitmask of optional device features.
type Capability uint32

// Device capabilities.
const (
	CapTessellation Capability = 1 << iota
	CapConservativeRasterization
	CapRasterizerOrderedViews
	CapUAVLoadFormatCommon
	CapVariableRateShading
	CapVariableRateShadingTier2
	CapMeshShader
	CapRaytracing
	CapPredication
	CapSamplerMinMax
	CapDepthBoundsTest
	CapBindless
	CapDebugNames
)

var capabilityNames = [...]string{
	"Tessellation",
	"ConservativeRasterization",
	"RasterizerOrderedViews",
	"UAVLoadFormatCommon",
	"VariableRateShading",
	"VariableRateShadingTier2",
	"MeshShader",
	"Raytracing",
	"Predication",
	"SamplerMinMax",
	"DepthBoundsTest",
	"Bindless",
	"DebugNames",
}

// Names returns the names of the set capabilities.
func (c Capability) Names() []string {
	var names []string
	for i, name := range capabilityNames {
		if c&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return names
}

// ColorSpace of a swap chain.
type ColorSpace int

// Color spaces.
const (
	ColorSpaceSRGB ColorSpace = iota
	ColorSpaceHDR10ST2084
	ColorSpaceHDRLinear
)
