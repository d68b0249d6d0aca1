// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/korugfx/src/gfx"
	vk "github.com/devblok/vulkan"
)

var formats = map[gfx.Format]vk.Format{
	gfx.FormatUnknown:           vk.FormatUndefined,
	gfx.FormatR32G32B32A32Float: vk.FormatR32g32b32a32Sfloat,
	gfx.FormatR32G32B32A32Uint:  vk.FormatR32g32b32a32Uint,
	gfx.FormatR32G32B32A32Sint:  vk.FormatR32g32b32a32Sint,
	gfx.FormatR32G32B32Float:    vk.FormatR32g32b32Sfloat,
	gfx.FormatR32G32B32Uint:     vk.FormatR32g32b32Uint,
	gfx.FormatR32G32B32Sint:     vk.FormatR32g32b32Sint,
	gfx.FormatR16G16B16A16Float: vk.FormatR16g16b16a16Sfloat,
	gfx.FormatR16G16B16A16Unorm: vk.FormatR16g16b16a16Unorm,
	gfx.FormatR16G16B16A16Uint:  vk.FormatR16g16b16a16Uint,
	gfx.FormatR16G16B16A16Snorm: vk.FormatR16g16b16a16Snorm,
	gfx.FormatR16G16B16A16Sint:  vk.FormatR16g16b16a16Sint,
	gfx.FormatR32G32Float:       vk.FormatR32g32Sfloat,
	gfx.FormatR32G32Uint:        vk.FormatR32g32Uint,
	gfx.FormatR32G32Sint:        vk.FormatR32g32Sint,
	gfx.FormatR32G8X24Typeless:  vk.FormatD32SfloatS8Uint,
	gfx.FormatD32FloatS8X24Uint: vk.FormatD32SfloatS8Uint,
	gfx.FormatR10G10B10A2Unorm:  vk.FormatA2b10g10r10UnormPack32,
	gfx.FormatR10G10B10A2Uint:   vk.FormatA2b10g10r10UintPack32,
	gfx.FormatR11G11B10Float:    vk.FormatB10g11r11UfloatPack32,
	gfx.FormatR8G8B8A8Unorm:     vk.FormatR8g8b8a8Unorm,
	gfx.FormatR8G8B8A8UnormSrgb: vk.FormatR8g8b8a8Srgb,
	gfx.FormatR8G8B8A8Uint:      vk.FormatR8g8b8a8Uint,
	gfx.FormatR8G8B8A8Snorm:     vk.FormatR8g8b8a8Snorm,
	gfx.FormatR8G8B8A8Sint:      vk.FormatR8g8b8a8Sint,
	gfx.FormatB8G8R8A8Unorm:     vk.FormatB8g8r8a8Unorm,
	gfx.FormatB8G8R8A8UnormSrgb: vk.FormatB8g8r8a8Srgb,
	gfx.FormatR16G16Float:       vk.FormatR16g16Sfloat,
	gfx.FormatR16G16Unorm:       vk.FormatR16g16Unorm,
	gfx.FormatR16G16Uint:        vk.FormatR16g16Uint,
	gfx.FormatR16G16Snorm:       vk.FormatR16g16Snorm,
	gfx.FormatR16G16Sint:        vk.FormatR16g16Sint,
	gfx.FormatR32Typeless:       vk.FormatD32Sfloat,
	gfx.FormatD32Float:          vk.FormatD32Sfloat,
	gfx.FormatR32Float:          vk.FormatR32Sfloat,
	gfx.FormatR32Uint:           vk.FormatR32Uint,
	gfx.FormatR32Sint:           vk.FormatR32Sint,
	gfx.FormatR24G8Typeless:     vk.FormatD24UnormS8Uint,
	gfx.FormatD24UnormS8Uint:    vk.FormatD24UnormS8Uint,
	gfx.FormatR9G9B9E5SharedExp: vk.FormatE5b9g9r9UfloatPack32,
	gfx.FormatR8G8Unorm:         vk.FormatR8g8Unorm,
	gfx.FormatR8G8Uint:          vk.FormatR8g8Uint,
	gfx.FormatR8G8Snorm:         vk.FormatR8g8Snorm,
	gfx.FormatR8G8Sint:          vk.FormatR8g8Sint,
	gfx.FormatR16Typeless:       vk.FormatD16Unorm,
	gfx.FormatR16Float:          vk.FormatR16Sfloat,
	gfx.FormatD16Unorm:          vk.FormatD16Unorm,
	gfx.FormatR16Unorm:          vk.FormatR16Unorm,
	gfx.FormatR16Uint:           vk.FormatR16Uint,
	gfx.FormatR16Snorm:          vk.FormatR16Snorm,
	gfx.FormatR16Sint:           vk.FormatR16Sint,
	gfx.FormatR8Unorm:           vk.FormatR8Unorm,
	gfx.FormatR8Uint:            vk.FormatR8Uint,
	gfx.FormatR8Snorm:           vk.FormatR8Snorm,
	gfx.FormatR8Sint:            vk.FormatR8Sint,
	gfx.FormatBC1Unorm:          vk.FormatBc1RgbaUnormBlock,
	gfx.FormatBC1UnormSrgb:      vk.FormatBc1RgbaSrgbBlock,
	gfx.FormatBC2Unorm:          vk.FormatBc2UnormBlock,
	gfx.FormatBC2UnormSrgb:      vk.FormatBc2SrgbBlock,
	gfx.FormatBC3Unorm:          vk.FormatBc3UnormBlock,
	gfx.FormatBC3UnormSrgb:      vk.FormatBc3SrgbBlock,
	gfx.FormatBC4Unorm:          vk.FormatBc4UnormBlock,
	gfx.FormatBC4Snorm:          vk.FormatBc4SnormBlock,
	gfx.FormatBC5Unorm:          vk.FormatBc5UnormBlock,
	gfx.FormatBC5Snorm:          vk.FormatBc5SnormBlock,
	gfx.FormatBC6HUF16:          vk.FormatBc6hUfloatBlock,
	gfx.FormatBC6HSF16:          vk.FormatBc6hSfloatBlock,
	gfx.FormatBC7Unorm:          vk.FormatBc7UnormBlock,
	gfx.FormatBC7UnormSrgb:      vk.FormatBc7SrgbBlock,
}

func convertFormat(f gfx.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

// isFormatDepthSupport reports whether a format has a depth aspect. The
// typeless formats count because they are created as depth formats.
func isFormatDepthSupport(f gfx.Format) bool {
	return f.IsDepth()
}

func isFormatStencilSupport(f gfx.Format) bool {
	return f.IsStencil()
}

func convertComparison(c gfx.ComparisonFunc) vk.CompareOp {
	switch c {
	case gfx.ComparisonNever:
		return vk.CompareOpNever
	case gfx.ComparisonLess:
		return vk.CompareOpLess
	case gfx.ComparisonEqual:
		return vk.CompareOpEqual
	case gfx.ComparisonLessEqual:
		return vk.CompareOpLessOrEqual
	case gfx.ComparisonGreater:
		return vk.CompareOpGreater
	case gfx.ComparisonNotEqual:
		return vk.CompareOpNotEqual
	case gfx.ComparisonGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	case gfx.ComparisonAlways:
		return vk.CompareOpAlways
	}
	return vk.CompareOpNever
}

func convertBlend(b gfx.Blend) vk.BlendFactor {
	switch b {
	case gfx.BlendZero:
		return vk.BlendFactorZero
	case gfx.BlendOne:
		return vk.BlendFactorOne
	case gfx.BlendSrcColor:
		return vk.BlendFactorSrcColor
	case gfx.BlendInvSrcColor:
		return vk.BlendFactorOneMinusSrcColor
	case gfx.BlendSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case gfx.BlendInvSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	case gfx.BlendDestAlpha:
		return vk.BlendFactorDstAlpha
	case gfx.BlendInvDestAlpha:
		return vk.BlendFactorOneMinusDstAlpha
	case gfx.BlendDestColor:
		return vk.BlendFactorDstColor
	case gfx.BlendInvDestColor:
		return vk.BlendFactorOneMinusDstColor
	case gfx.BlendSrcAlphaSat:
		return vk.BlendFactorSrcAlphaSaturate
	case gfx.BlendBlendFactor:
		return vk.BlendFactorConstantColor
	case gfx.BlendInvBlendFactor:
		return vk.BlendFactorOneMinusConstantColor
	case gfx.BlendSrc1Color:
		return vk.BlendFactorSrc1Color
	case gfx.BlendInvSrc1Color:
		return vk.BlendFactorOneMinusSrc1Color
	case gfx.BlendSrc1Alpha:
		return vk.BlendFactorSrc1Alpha
	case gfx.BlendInvSrc1Alpha:
		return vk.BlendFactorOneMinusSrc1Alpha
	}
	return vk.BlendFactorZero
}

func convertBlendOp(op gfx.BlendOp) vk.BlendOp {
	switch op {
	case gfx.BlendOpAdd:
		return vk.BlendOpAdd
	case gfx.BlendOpSubtract:
		return vk.BlendOpSubtract
	case gfx.BlendOpRevSubtract:
		return vk.BlendOpReverseSubtract
	case gfx.BlendOpMin:
		return vk.BlendOpMin
	case gfx.BlendOpMax:
		return vk.BlendOpMax
	}
	return vk.BlendOpAdd
}

func convertColorWrite(w gfx.ColorWrite) vk.ColorComponentFlags {
	var flags vk.ColorComponentFlagBits
	if w&gfx.ColorWriteRed != 0 {
		flags |= vk.ColorComponentRBit
	}
	if w&gfx.ColorWriteGreen != 0 {
		flags |= vk.ColorComponentGBit
	}
	if w&gfx.ColorWriteBlue != 0 {
		flags |= vk.ColorComponentBBit
	}
	if w&gfx.ColorWriteAlpha != 0 {
		flags |= vk.ColorComponentABit
	}
	return vk.ColorComponentFlags(flags)
}

func convertAddressMode(m gfx.TextureAddressMode) vk.SamplerAddressMode {
	switch m {
	case gfx.AddressWrap:
		return vk.SamplerAddressModeRepeat
	case gfx.AddressMirror:
		return vk.SamplerAddressModeMirroredRepeat
	case gfx.AddressClamp:
		return vk.SamplerAddressModeClampToEdge
	case gfx.AddressBorder:
		return vk.SamplerAddressModeClampToBorder
	case gfx.AddressMirrorOnce:
		return vk.SamplerAddressModeMirrorClampToEdge
	}
	return vk.SamplerAddressModeRepeat
}

func convertBorderColor(c gfx.BorderColor) vk.BorderColor {
	switch c {
	case gfx.BorderTransparentBlack:
		return vk.BorderColorFloatTransparentBlack
	case gfx.BorderOpaqueBlack:
		return vk.BorderColorFloatOpaqueBlack
	case gfx.BorderOpaqueWhite:
		return vk.BorderColorFloatOpaqueWhite
	}
	return vk.BorderColorFloatTransparentBlack
}

func convertStencilOp(op gfx.StencilOp) vk.StencilOp {
	switch op {
	case gfx.StencilOpKeep:
		return vk.StencilOpKeep
	case gfx.StencilOpZero:
		return vk.StencilOpZero
	case gfx.StencilOpReplace:
		return vk.StencilOpReplace
	case gfx.StencilOpIncrSat:
		return vk.StencilOpIncrementAndClamp
	case gfx.StencilOpDecrSat:
		return vk.StencilOpDecrementAndClamp
	case gfx.StencilOpInvert:
		return vk.StencilOpInvert
	case gfx.StencilOpIncr:
		return vk.StencilOpIncrementAndWrap
	case gfx.StencilOpDecr:
		return vk.StencilOpDecrementAndWrap
	}
	return vk.StencilOpKeep
}

// filterModes splits a filter into its minification, magnification and
// mip modes.
type filterModes struct {
	min, mag   vk.Filter
	mip        vk.SamplerMipmapMode
	anisotropy bool
	compare    bool
	reduction  int
}

func convertFilter(f gfx.Filter) filterModes {
	m := filterModes{
		min: vk.FilterNearest,
		mag: vk.FilterNearest,
		mip: vk.SamplerMipmapModeNearest,
	}
	switch f.Base() {
	case gfx.FilterMinMagPointMipLinear:
		m.mip = vk.SamplerMipmapModeLinear
	case gfx.FilterMinPointMagLinearMipPoint:
		m.mag = vk.FilterLinear
	case gfx.FilterMinPointMagMipLinear:
		m.mag, m.mip = vk.FilterLinear, vk.SamplerMipmapModeLinear
	case gfx.FilterMinLinearMagMipPoint:
		m.min = vk.FilterLinear
	case gfx.FilterMinLinearMagPointMipLinear:
		m.min, m.mip = vk.FilterLinear, vk.SamplerMipmapModeLinear
	case gfx.FilterMinMagLinearMipPoint:
		m.min, m.mag = vk.FilterLinear, vk.FilterLinear
	case gfx.FilterMinMagMipLinear:
		m.min, m.mag, m.mip = vk.FilterLinear, vk.FilterLinear, vk.SamplerMipmapModeLinear
	case gfx.FilterAnisotropic:
		m.min, m.mag, m.mip = vk.FilterLinear, vk.FilterLinear, vk.SamplerMipmapModeLinear
		m.anisotropy = true
	}
	switch f.Reduction() {
	case gfx.ReductionComparison:
		m.compare = true
	case gfx.ReductionMinimum:
		m.reduction = 1
	case gfx.ReductionMaximum:
		m.reduction = 2
	}
	return m
}

func convertTopology(t gfx.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case gfx.TopologyTriangleList:
		return vk.PrimitiveTopologyTriangleList
	case gfx.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case gfx.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	case gfx.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case gfx.TopologyLineStrip:
		return vk.PrimitiveTopologyLineStrip
	case gfx.TopologyPatchList:
		return vk.PrimitiveTopologyPatchList
	}
	return vk.PrimitiveTopologyTriangleList
}

func convertStage(s gfx.ShaderStage) vk.ShaderStageFlagBits {
	switch s {
	case gfx.ShaderStageMS:
		return shaderStageMesh
	case gfx.ShaderStageAS:
		return shaderStageTask
	case gfx.ShaderStageVS:
		return vk.ShaderStageVertexBit
	case gfx.ShaderStageHS:
		return vk.ShaderStageTessellationControlBit
	case gfx.ShaderStageDS:
		return vk.ShaderStageTessellationEvaluationBit
	case gfx.ShaderStageGS:
		return vk.ShaderStageGeometryBit
	case gfx.ShaderStagePS:
		return vk.ShaderStageFragmentBit
	case gfx.ShaderStageCS:
		return vk.ShaderStageComputeBit
	}
	return vk.ShaderStageAll
}

func convertCullMode(c gfx.CullMode) vk.CullModeFlags {
	switch c {
	case gfx.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case gfx.CullBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func convertFillMode(f gfx.FillMode) vk.PolygonMode {
	if f == gfx.FillWireframe {
		return vk.PolygonModeLine
	}
	return vk.PolygonModeFill
}

func convertIndexFormat(f gfx.IndexBufferFormat) vk.IndexType {
	if f == gfx.IndexFormat16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func convertQueryType(t gfx.QueryType) vk.QueryType {
	if t == gfx.QueryTimestamp {
		return vk.QueryTypeTimestamp
	}
	return vk.QueryTypeOcclusion
}

func convertSampleCount(n uint32) vk.SampleCountFlagBits {
	switch n {
	case 2:
		return vk.SampleCount2Bit
	case 4:
		return vk.SampleCount4Bit
	case 8:
		return vk.SampleCount8Bit
	case 16:
		return vk.SampleCount16Bit
	case 32:
		return vk.SampleCount32Bit
	case 64:
		return vk.SampleCount64Bit
	}
	return vk.SampleCount1Bit
}

func convertLoadOp(op gfx.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case gfx.LoadOpClear:
		return vk.AttachmentLoadOpClear
	case gfx.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	}
	return vk.AttachmentLoadOpLoad
}

func convertStoreOp(op gfx.StoreOp) vk.AttachmentStoreOp {
	if op == gfx.StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

// convertImageLayout maps the single state an image is in to its layout.
func convertImageLayout(s gfx.ResourceState) vk.ImageLayout {
	switch s {
	case gfx.StateUndefined:
		return vk.ImageLayoutUndefined
	case gfx.StateRenderTarget:
		return vk.ImageLayoutColorAttachmentOptimal
	case gfx.StateDepthStencil:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gfx.StateDepthStencilReadOnly:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case gfx.StateShaderResource, gfx.StateShaderResourceCompute:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gfx.StateUnorderedAccess:
		return vk.ImageLayoutGeneral
	case gfx.StateCopySrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gfx.StateCopyDst:
		return vk.ImageLayoutTransferDstOptimal
	case gfx.StateShadingRateSource:
		return imageLayoutShadingRate
	}
	return vk.ImageLayoutUndefined
}

var stateAccess = []struct {
	state  gfx.ResourceState
	access vk.AccessFlagBits
}{
	{gfx.StateShaderResource, vk.AccessShaderReadBit},
	{gfx.StateShaderResourceCompute, vk.AccessShaderReadBit},
	{gfx.StateUnorderedAccess, vk.AccessShaderReadBit | vk.AccessShaderWriteBit},
	{gfx.StateCopySrc, vk.AccessTransferReadBit},
	{gfx.StateCopyDst, vk.AccessTransferWriteBit},
	{gfx.StateRenderTarget, vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit},
	{gfx.StateDepthStencil, vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit},
	{gfx.StateDepthStencilReadOnly, vk.AccessDepthStencilAttachmentReadBit},
	{gfx.StateVertexBuffer, vk.AccessVertexAttributeReadBit},
	{gfx.StateIndexBuffer, vk.AccessIndexReadBit},
	{gfx.StateConstantBuffer, vk.AccessUniformReadBit},
	{gfx.StateIndirectArgument, vk.AccessIndirectCommandReadBit},
	{gfx.StateAccelerationStructure, accessAccelerationStructureRead | accessAccelerationStructureWrite},
	{gfx.StatePredication, accessConditionalRenderingRead},
}

// parseResourceState returns the memory access implied by a state mask.
func parseResourceState(s gfx.ResourceState) vk.AccessFlags {
	var flags vk.AccessFlagBits
	for _, sa := range stateAccess {
		if s&sa.state != 0 {
			flags |= sa.access
		}
	}
	return vk.AccessFlags(flags)
}

func convertShadingRate(r gfx.ShadingRate) (w, h uint32) {
	switch r {
	case gfx.ShadingRate1x2:
		return 1, 2
	case gfx.ShadingRate2x1:
		return 2, 1
	case gfx.ShadingRate2x2:
		return 2, 2
	case gfx.ShadingRate2x4:
		return 2, 4
	case gfx.ShadingRate4x2:
		return 4, 2
	case gfx.ShadingRate4x4:
		return 4, 4
	}
	return 1, 1
}

func convertColorSpace(c gfx.ColorSpace) vk.ColorSpace {
	switch c {
	case gfx.ColorSpaceHDR10ST2084:
		return colorSpaceHDR10ST2084
	case gfx.ColorSpaceHDRLinear:
		return colorSpaceExtendedLinear
	}
	return vk.ColorSpaceSrgbNonlinear
}

func aspectMask(f gfx.Format) vk.ImageAspectFlags {
	if isFormatDepthSupport(f) {
		mask := vk.ImageAspectDepthBit
		if isFormatStencilSupport(f) {
			mask |= vk.ImageAspectStencilBit
		}
		return vk.ImageAspectFlags(mask)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}
