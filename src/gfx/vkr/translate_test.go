// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	"github.com/devblok/korugfx/src/gfx"
	vk "github.com/devblok/vulkan"
	qt "github.com/frankban/quicktest"
)

func TestConvertFormat(t *testing.T) {
	c := qt.New(t)

	c.Assert(convertFormat(gfx.FormatR8G8B8A8Unorm), qt.Equals, vk.FormatR8g8b8a8Unorm)
	c.Assert(convertFormat(gfx.FormatD24UnormS8Uint), qt.Equals, vk.FormatD24UnormS8Uint)
	c.Assert(convertFormat(gfx.FormatR32Typeless), qt.Equals, vk.FormatD32Sfloat)
	c.Assert(convertFormat(gfx.FormatBC7UnormSrgb), qt.Equals, vk.FormatBc7SrgbBlock)
	c.Assert(convertFormat(gfx.Format(-1)), qt.Equals, vk.FormatUndefined)
}

func TestAspectMask(t *testing.T) {
	c := qt.New(t)

	c.Assert(aspectMask(gfx.FormatR8G8B8A8Unorm), qt.Equals, vk.ImageAspectFlags(vk.ImageAspectColorBit))
	c.Assert(aspectMask(gfx.FormatD32Float), qt.Equals, vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	c.Assert(aspectMask(gfx.FormatD24UnormS8Uint), qt.Equals, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit))
}

func TestParseResourceState(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		state gfx.ResourceState
		want  vk.AccessFlagBits
	}{
		{gfx.StateUndefined, 0},
		{gfx.StateCopySrc, vk.AccessTransferReadBit},
		{gfx.StateVertexBuffer | gfx.StateIndexBuffer, vk.AccessVertexAttributeReadBit | vk.AccessIndexReadBit},
		{gfx.StateUnorderedAccess, vk.AccessShaderReadBit | vk.AccessShaderWriteBit},
		{gfx.StateShaderResource | gfx.StateShaderResourceCompute, vk.AccessShaderReadBit},
	}
	for _, test := range tests {
		c.Assert(parseResourceState(test.state), qt.Equals, vk.AccessFlags(test.want), qt.Commentf("state %#x", test.state))
	}
}

func TestConvertImageLayout(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		state gfx.ResourceState
		want  vk.ImageLayout
	}{
		{gfx.StateRenderTarget, vk.ImageLayoutColorAttachmentOptimal},
		{gfx.StateShaderResourceCompute, vk.ImageLayoutShaderReadOnlyOptimal},
		{gfx.StateUnorderedAccess, vk.ImageLayoutGeneral},
		{gfx.StateCopyDst, vk.ImageLayoutTransferDstOptimal},
		{gfx.StateDepthStencilReadOnly, vk.ImageLayoutDepthStencilReadOnlyOptimal},
		{gfx.StateVertexBuffer, vk.ImageLayoutUndefined},
	}
	for _, test := range tests {
		c.Assert(convertImageLayout(test.state), qt.Equals, test.want, qt.Commentf("state %#x", test.state))
	}
}

func TestConvertSmallEnums(t *testing.T) {
	c := qt.New(t)

	c.Assert(convertSampleCount(4), qt.Equals, vk.SampleCount4Bit)
	c.Assert(convertSampleCount(3), qt.Equals, vk.SampleCount1Bit)
	c.Assert(convertCullMode(gfx.CullFront), qt.Equals, vk.CullModeFlags(vk.CullModeFrontBit))
	c.Assert(convertFillMode(gfx.FillWireframe), qt.Equals, vk.PolygonModeLine)
	c.Assert(convertIndexFormat(gfx.IndexFormat16), qt.Equals, vk.IndexTypeUint16)
	c.Assert(convertLoadOp(gfx.LoadOpDontCare), qt.Equals, vk.AttachmentLoadOpDontCare)
	c.Assert(convertStoreOp(gfx.StoreOpStore), qt.Equals, vk.AttachmentStoreOpStore)
	c.Assert(convertStage(gfx.ShaderStagePS), qt.Equals, vk.ShaderStageFragmentBit)

	w, h := convertShadingRate(gfx.ShadingRate2x4)
	c.Assert([2]uint32{w, h}, qt.Equals, [2]uint32{2, 4})
}

func TestConvertFilter(t *testing.T) {
	c := qt.New(t)

	m := convertFilter(gfx.FilterMinMagMipLinear)
	c.Assert(m.min, qt.Equals, vk.FilterLinear)
	c.Assert(m.mag, qt.Equals, vk.FilterLinear)
	c.Assert(m.mip, qt.Equals, vk.SamplerMipmapModeLinear)
	c.Assert(m.compare, qt.IsFalse)

	m = convertFilter(gfx.FilterComparisonAnisotropic)
	c.Assert(m.anisotropy, qt.IsTrue)
	c.Assert(m.compare, qt.IsTrue)
}

func TestHasherOrderMatters(t *testing.T) {
	c := qt.New(t)

	a := newHasher()
	a.u32(1)
	a.u32(2)
	b := newHasher()
	b.u32(2)
	b.u32(1)
	c.Assert(a.sum(), qt.Not(qt.Equals), b.sum())

	c.Assert(hashBytes([]byte("spirv")), qt.Equals, hashBytes([]byte("spirv")))
}
