// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

// shadingRateTexel is the screen area one shading rate texel covers.
const shadingRateTexel = 16

// hashRenderPass hashes what pipelines have to be compatible with: the
// attachment formats and sample counts.
func hashRenderPass(formats []vk.Format, samples []uint32) uint64 {
	h := newHasher()
	h.int(len(formats))
	for i := range formats {
		h.int(int(formats[i]))
		h.u32(samples[i])
	}
	return h.sum()
}

// CreateRenderPass implements gfx.Device.
func (d *Device) CreateRenderPass(desc *gfx.RenderPassDesc) (gfx.RenderPass, error) {
	info := &native.RenderPassInfo{}
	s := &renderPassState{owned: true}
	s.dev = d

	var views []native.Handle
	var formats []vk.Format
	var samples []uint32
	var width, height, layers uint32
	for i := range desc.Attachments {
		a := &desc.Attachments[i]
		if a.Type == gfx.AttachmentResolve && a.Texture == nil {
			info.Resolve = append(info.Resolve, native.AttachmentRef{Attachment: native.AttachmentUnused})
			continue
		}
		if a.Texture == nil {
			return gfx.RenderPass{}, errors.Wrapf(gfx.ErrInvalidDesc, "attachment %d has no texture", i)
		}
		t := resourceOf(&a.Texture.GPUResource)
		if t == nil {
			return gfx.RenderPass{}, errors.Wrapf(gfx.ErrReleased, "attachment %d", i)
		}

		var v *view
		switch a.Type {
		case gfx.AttachmentRenderTarget, gfx.AttachmentResolve:
			v = t.subresource(gfx.RTV, a.Subresource)
		case gfx.AttachmentDepthStencil:
			v = t.subresource(gfx.DSV, a.Subresource)
		case gfx.AttachmentShadingRateSource:
			v = t.subresource(gfx.SRV, a.Subresource)
			if v == nil || !v.valid() {
				v = t.subresource(gfx.UAV, a.Subresource)
			}
		}
		if v == nil || !v.valid() {
			return gfx.RenderPass{}, errors.Wrapf(gfx.ErrInvalidDesc, "attachment %d has no matching view", i)
		}

		tdesc := &a.Texture.Desc
		count := tdesc.SampleCount
		if count == 0 {
			count = 1
		}
		att := native.AttachmentInfo{
			Format:         v.format,
			Samples:        convertSampleCount(count),
			LoadOp:         convertLoadOp(a.LoadOp),
			StoreOp:        convertStoreOp(a.StoreOp),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  convertImageLayout(a.InitialLayout),
			FinalLayout:    convertImageLayout(a.FinalLayout),
		}
		index := uint32(len(info.Attachments))
		ref := native.AttachmentRef{Attachment: index, Layout: convertImageLayout(a.SubpassLayout)}

		var clear native.ClearValue
		switch a.Type {
		case gfx.AttachmentRenderTarget:
			info.Color = append(info.Color, ref)
			clear.Color = tdesc.Clear.Color
			s.colorCount++
		case gfx.AttachmentResolve:
			info.Resolve = append(info.Resolve, ref)
		case gfx.AttachmentDepthStencil:
			if isFormatStencilSupport(tdesc.Format) {
				att.StencilLoadOp = att.LoadOp
				att.StencilStoreOp = att.StoreOp
			}
			info.DepthStencil = &ref
			clear.Depth = tdesc.Clear.Depth
			clear.Stencil = uint32(tdesc.Clear.Stencil)
		case gfx.AttachmentShadingRateSource:
			if !d.CheckCapability(gfx.CapVariableRateShadingTier2) {
				continue
			}
			ref.Layout = imageLayoutShadingRate
			info.ShadingRate = &ref
			info.ShadingTexel = vk.Extent2D{Width: shadingRateTexel, Height: shadingRateTexel}
		}

		info.Attachments = append(info.Attachments, att)
		views = append(views, v.handle)
		s.attachments = append(s.attachments, t)
		s.begin.ClearValues = append(s.begin.ClearValues, clear)
		formats = append(formats, v.format)
		samples = append(samples, count)

		if a.Type != gfx.AttachmentShadingRateSource && width == 0 {
			width = maxU32(1, tdesc.Width>>v.firstMip)
			height = maxU32(1, tdesc.Height>>v.firstMip)
			layers = maxU32(1, v.sliceCount)
			s.samples = count
		}
	}
	if width == 0 {
		width = d.props.Limits.MaxFramebufferWidth
		height = d.props.Limits.MaxFramebufferHeight
		layers = 1
		s.samples = 1
	}

	var err error
	if s.renderPass, err = d.drv.CreateRenderPass(info); err != nil {
		return gfx.RenderPass{}, errors.Wrap(err, "vk.CreateRenderPass()")
	}
	s.framebuffer, err = d.drv.CreateFramebuffer(&native.FramebufferInfo{
		RenderPass:  s.renderPass,
		Attachments: views,
		Width:       width,
		Height:      height,
		Layers:      layers,
	})
	if err != nil {
		d.drv.Destroy(native.KindRenderPass, s.renderPass)
		return gfx.RenderPass{}, errors.Wrap(err, "vk.CreateFramebuffer()")
	}

	s.hash = hashRenderPass(formats, samples)
	s.begin.RenderPass = s.renderPass
	s.begin.Framebuffer = s.framebuffer
	s.begin.Area = vk.Rect2D{Extent: vk.Extent2D{Width: width, Height: height}}

	track(s)
	return gfx.RenderPass{
		DeviceChild: gfx.DeviceChild{Internal: s},
		Desc:        *desc,
		Hash:        s.hash,
	}, nil
}
