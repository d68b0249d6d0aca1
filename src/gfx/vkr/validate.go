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
	"github.com/sirupsen/logrus"
)

const maxVertexBuffers = 8

// pipelineKey identifies a concrete graphics pipeline.
type pipelineKey struct {
	pso        uint64
	renderPass uint64
	strides    uint64
}

func hashStrides(strides *[maxVertexBuffers]uint32) uint64 {
	h := newHasher()
	for _, s := range strides {
		h.u32(s)
	}
	return h.sum()
}

// pipeline returns the concrete pipeline of key, looking in the global
// cache first and in the list's own cache second. New pipelines stay
// with the list until the next submit merges them.
func (l *commandList) pipeline(key pipelineKey) (native.Handle, error) {
	d := l.d
	d.pipelinesMu.RLock()
	p, ok := d.pipelines[key]
	d.pipelinesMu.RUnlock()
	if ok {
		return p, nil
	}
	if p, ok := l.pipelines[key]; ok {
		return p, nil
	}
	p, err := d.buildPipeline(l.pso, l.renderPass, &l.strides)
	if err != nil {
		return native.Null, err
	}
	l.pipelines[key] = p
	return p, nil
}

// validatePipeline binds the pipeline matching the bound state, render
// pass and vertex strides when any of them changed.
func (l *commandList) validatePipeline() error {
	if l.pso == nil {
		return errors.Wrap(gfx.ErrInvalidCommandList, "no pipeline state bound")
	}
	if l.renderPass == nil {
		return errors.Wrap(gfx.ErrInvalidCommandList, "draw outside of a render pass")
	}
	if !l.psoDirty {
		return nil
	}
	key := pipelineKey{pso: l.pso.hash, renderPass: l.renderPass.hash, strides: l.strideHash}
	p, err := l.pipeline(key)
	if err != nil {
		return err
	}
	l.cb.BindPipeline(vk.PipelineBindPointGraphics, p)
	l.psoDirty = false
	return nil
}

func (d *Device) buildPipeline(pso *psoState, rp *renderPassState, strides *[maxVertexBuffers]uint32) (native.Handle, error) {
	desc := &pso.desc
	info := &native.GraphicsPipelineInfo{
		Stages:             pso.stages,
		Topology:           convertTopology(desc.PT),
		PatchControlPoints: desc.PatchControlPoints,
		Samples:            convertSampleCount(rp.samples),
		SampleMask:         desc.SampleMask,
		Layout:             pso.layout.handle,
		RenderPass:         rp.renderPass,
		DynamicStates: []vk.DynamicState{
			vk.DynamicStateViewport,
			vk.DynamicStateScissor,
			vk.DynamicStateStencilReference,
			vk.DynamicStateBlendConstants,
		},
	}
	if info.SampleMask == 0 {
		info.SampleMask = ^uint32(0)
	}
	if d.CheckCapability(gfx.CapDepthBoundsTest) {
		info.DynamicStates = append(info.DynamicStates, vk.DynamicStateDepthBounds)
	}
	if d.CheckCapability(gfx.CapVariableRateShading) {
		info.DynamicStates = append(info.DynamicStates, dynamicStateFragmentShadingRate)
	}

	if il := desc.IL; il != nil {
		var offsets [maxVertexBuffers]uint32
		var used [maxVertexBuffers]bool
		var rates [maxVertexBuffers]vk.VertexInputRate
		for i, e := range il.Elements {
			if e.InputSlot >= maxVertexBuffers {
				return native.Null, errors.Wrapf(gfx.ErrInvalidDesc, "input slot %d", e.InputSlot)
			}
			offset := e.AlignedByteOffset
			if offset == gfx.AppendAligned {
				offset = offsets[e.InputSlot]
			}
			offsets[e.InputSlot] = offset + e.Format.Stride()
			info.VertexAttributes = append(info.VertexAttributes, native.VertexAttribute{
				Location: uint32(i),
				Binding:  e.InputSlot,
				Format:   convertFormat(e.Format),
				Offset:   offset,
			})
			if !used[e.InputSlot] {
				used[e.InputSlot] = true
				rates[e.InputSlot] = vk.VertexInputRateVertex
				if e.InputSlotClass == gfx.InputPerInstanceData {
					rates[e.InputSlot] = vk.VertexInputRateInstance
				}
			}
		}
		for slot := range used {
			if !used[slot] {
				continue
			}
			stride := strides[slot]
			if stride == 0 {
				stride = offsets[slot]
			}
			info.VertexBindings = append(info.VertexBindings, native.VertexBinding{
				Binding:   uint32(slot),
				Stride:    stride,
				InputRate: rates[slot],
			})
		}
	}

	info.Raster = native.RasterState{
		PolygonMode:     vk.PolygonModeFill,
		CullMode:        vk.CullModeFlags(vk.CullModeNone),
		FrontFace:       vk.FrontFaceClockwise,
		LineWidth:       1,
		DepthClipEnable: true,
	}
	if rs := desc.RS; rs != nil {
		r := &info.Raster
		r.PolygonMode = convertFillMode(rs.FillMode)
		r.CullMode = convertCullMode(rs.CullMode)
		if rs.FrontCounterClockwise {
			r.FrontFace = vk.FrontFaceCounterClockwise
		}
		r.DepthBiasEnable = rs.DepthBias != 0 || rs.SlopeScaledDepthBias != 0
		r.DepthBiasConstantFactor = float32(rs.DepthBias)
		r.DepthBiasClamp = rs.DepthBiasClamp
		r.DepthBiasSlopeFactor = rs.SlopeScaledDepthBias
		r.DepthClipEnable = rs.DepthClipEnable
		r.DepthClampEnable = !rs.DepthClipEnable
		r.ConservativeRaster = rs.ConservativeRaster && d.CheckCapability(gfx.CapConservativeRasterization)
		if rs.ForcedSampleCount > 1 && rp.samples <= 1 {
			info.Samples = convertSampleCount(rs.ForcedSampleCount)
		}
	}

	if dss := desc.DSS; dss != nil {
		ds := &info.DepthStencil
		ds.DepthTestEnable = dss.DepthEnable
		ds.DepthWriteEnable = dss.DepthWriteMask == gfx.DepthWriteMaskAll
		ds.DepthCompareOp = convertComparison(dss.DepthFunc)
		ds.StencilTestEnable = dss.StencilEnable
		ds.DepthBoundsTestEnable = dss.DepthBoundsTest && d.CheckCapability(gfx.CapDepthBoundsTest)
		ds.MaxDepthBounds = 1
		face := func(op gfx.DepthStencilOp) native.StencilOpState {
			return native.StencilOpState{
				FailOp:      convertStencilOp(op.StencilFailOp),
				PassOp:      convertStencilOp(op.StencilPassOp),
				DepthFailOp: convertStencilOp(op.StencilDepthFailOp),
				CompareOp:   convertComparison(op.StencilFunc),
				CompareMask: uint32(dss.StencilReadMask),
				WriteMask:   uint32(dss.StencilWriteMask),
			}
		}
		ds.Front = face(dss.FrontFace)
		ds.Back = face(dss.BackFace)
	}

	for i := 0; i < rp.colorCount; i++ {
		att := native.BlendAttachment{
			SrcColorBlendFactor: vk.BlendFactorOne,
			DstColorBlendFactor: vk.BlendFactorZero,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorOne,
			DstAlphaBlendFactor: vk.BlendFactorZero,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask:      convertColorWrite(gfx.ColorWriteAll),
		}
		if bs := desc.BS; bs != nil {
			rt := bs.RenderTarget[0]
			if bs.IndependentBlend && i < len(bs.RenderTarget) {
				rt = bs.RenderTarget[i]
			}
			att = native.BlendAttachment{
				BlendEnable:         rt.BlendEnable,
				SrcColorBlendFactor: convertBlend(rt.SrcBlend),
				DstColorBlendFactor: convertBlend(rt.DestBlend),
				ColorBlendOp:        convertBlendOp(rt.BlendOp),
				SrcAlphaBlendFactor: convertBlend(rt.SrcBlendAlpha),
				DstAlphaBlendFactor: convertBlend(rt.DestBlendAlpha),
				AlphaBlendOp:        convertBlendOp(rt.BlendOpAlpha),
				ColorWriteMask:      convertColorWrite(rt.WriteMask),
			}
			info.AlphaToCoverage = bs.AlphaToCoverage
		}
		info.Blend = append(info.Blend, att)
	}

	p, err := d.drv.CreateGraphicsPipeline(info)
	if err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateGraphicsPipelines()")
	}
	d.log.WithFields(logrus.Fields{
		"pso":        pso.hash,
		"renderPass": rp.hash,
	}).Debug("Graphics pipeline created")
	return p, nil
}
