// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
)

// CreatePipelineState implements gfx.Device. The layout is the union of
// the stage bindings; concrete pipelines are built at draw time for the
// render pass and vertex strides in use.
func (d *Device) CreatePipelineState(desc *gfx.PipelineStateDesc) (gfx.PipelineState, error) {
	shaders := []*gfx.Shader{desc.MS, desc.AS, desc.VS, desc.HS, desc.DS, desc.GS, desc.PS}
	if desc.VS == nil && desc.MS == nil {
		return gfx.PipelineState{}, errors.Wrap(gfx.ErrInvalidDesc, "pipeline state needs a vertex or mesh shader")
	}

	s := &psoState{desc: *desc}
	s.dev = d
	var bind shaderBindings
	h := newHasher()
	for _, sh := range shaders {
		if sh == nil {
			h.u64(0)
			continue
		}
		st := shaderOf(sh)
		if st == nil {
			return gfx.PipelineState{}, errors.Wrapf(gfx.ErrReleased, "%s shader", sh.Stage)
		}
		if err := bind.merge(&st.bind); err != nil {
			return gfx.PipelineState{}, err
		}
		s.stages = append(s.stages, native.ShaderStageInfo{
			Stage:  convertStage(st.stage),
			Module: st.module,
			Entry:  st.entry,
		})
		h.u64(st.id)
	}

	layout, err := d.layoutFor(&bind)
	if err != nil {
		return gfx.PipelineState{}, err
	}
	s.layout = layout
	hashFixedFunction(h, desc)
	s.hash = h.sum()

	track(s)
	return gfx.PipelineState{
		DeviceChild: gfx.DeviceChild{Internal: s},
		Desc:        *desc,
		Hash:        s.hash,
	}, nil
}

// hashFixedFunction hashes the contents of the fixed function state, so
// equal descriptions built from different pointers hash the same.
func hashFixedFunction(h *hasher, desc *gfx.PipelineStateDesc) {
	h.int(int(desc.PT))
	h.u32(desc.PatchControlPoints)
	h.u32(desc.SampleMask)

	h.bool(desc.IL != nil)
	if desc.IL != nil {
		for _, e := range desc.IL.Elements {
			h.str(e.SemanticName)
			h.u32(e.SemanticIndex)
			h.int(int(e.Format))
			h.u32(e.InputSlot)
			h.u32(e.AlignedByteOffset)
			h.int(int(e.InputSlotClass))
		}
	}

	h.bool(desc.RS != nil)
	if rs := desc.RS; rs != nil {
		h.int(int(rs.FillMode))
		h.int(int(rs.CullMode))
		h.bool(rs.FrontCounterClockwise)
		h.int(int(rs.DepthBias))
		h.f32(rs.DepthBiasClamp)
		h.f32(rs.SlopeScaledDepthBias)
		h.bool(rs.DepthClipEnable)
		h.bool(rs.MultisampleEnable)
		h.bool(rs.AntialiasedLineEnable)
		h.bool(rs.ConservativeRaster)
		h.u32(rs.ForcedSampleCount)
	}

	h.bool(desc.BS != nil)
	if bs := desc.BS; bs != nil {
		h.bool(bs.AlphaToCoverage)
		h.bool(bs.IndependentBlend)
		for _, rt := range bs.RenderTarget {
			h.bool(rt.BlendEnable)
			h.int(int(rt.SrcBlend))
			h.int(int(rt.DestBlend))
			h.int(int(rt.BlendOp))
			h.int(int(rt.SrcBlendAlpha))
			h.int(int(rt.DestBlendAlpha))
			h.int(int(rt.BlendOpAlpha))
			h.u32(uint32(rt.WriteMask))
		}
	}

	h.bool(desc.DSS != nil)
	if dss := desc.DSS; dss != nil {
		h.bool(dss.DepthEnable)
		h.int(int(dss.DepthWriteMask))
		h.int(int(dss.DepthFunc))
		h.bool(dss.StencilEnable)
		h.u32(uint32(dss.StencilReadMask))
		h.u32(uint32(dss.StencilWriteMask))
		for _, op := range []gfx.DepthStencilOp{dss.FrontFace, dss.BackFace} {
			h.int(int(op.StencilFailOp))
			h.int(int(op.StencilDepthFailOp))
			h.int(int(op.StencilPassOp))
			h.int(int(op.StencilFunc))
		}
		h.bool(dss.DepthBoundsTest)
	}
}
