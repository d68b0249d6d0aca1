// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	qt "github.com/frankban/quicktest"
)

type drawSetup struct {
	target gfx.Texture
	pass   gfx.RenderPass
	pso    gfx.PipelineState
}

func newDrawSetup(c *qt.C, d *Device) drawSetup {
	vs := mustShader(c, d, gfx.ShaderStageVS, newSPIRV(execVertex).constantBuffer(0))
	ps := mustShader(c, d, gfx.ShaderStagePS, newSPIRV(execFragment).constantBuffer(0).texture(0).sampler(1))

	var s drawSetup
	s.target = mustTexture(c, d, renderTarget(16, 16))
	var err error
	s.pass, err = d.CreateRenderPass(&gfx.RenderPassDesc{
		Attachments: []gfx.RenderPassAttachment{
			gfx.RenderPassAttachmentRT(&s.target, gfx.LoadOpClear, gfx.StoreOpStore),
		},
	})
	c.Assert(err, qt.IsNil)
	s.pso, err = d.CreatePipelineState(&gfx.PipelineStateDesc{
		VS: &vs,
		PS: &ps,
		IL: &gfx.InputLayout{Elements: []gfx.InputLayoutElement{
			{SemanticName: "POSITION", Format: gfx.FormatR32G32B32Float, AlignedByteOffset: gfx.AppendAligned},
		}},
		PT: gfx.TopologyTriangleList,
	})
	c.Assert(err, qt.IsNil)
	return s
}

func TestShadersShareLayouts(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	a := computeShader(c, d)
	b := computeShader(c, d)
	other := mustShader(c, d, gfx.ShaderStageCS, newSPIRV(execCompute).rwTexture(3))
	c.Assert(shaderOf(&a).layout, qt.Equals, shaderOf(&b).layout)
	c.Assert(shaderOf(&a).layout, qt.Not(qt.Equals), shaderOf(&other).layout)
	c.Assert(shaderOf(&a).pipeline, qt.Not(qt.Equals), shaderOf(&b).pipeline)
}

func TestPipelineStateMergesStages(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})
	s := newDrawSetup(c, d)

	layout := psoOf(&s.pso).layout
	c.Assert(layout.bindings, qt.HasLen, 3)
	c.Assert(layout.bindings[0].Binding, qt.Equals, uint32(shiftB))
	c.Assert(layout.bindings[0].Stages, qt.Equals, stageFlags(gfx.ShaderStageVS)|stageFlags(gfx.ShaderStagePS))
	c.Assert(layout.bindings[1].Binding, qt.Equals, uint32(shiftT))
	c.Assert(layout.bindings[2].Binding, qt.Equals, uint32(shiftS+1))
}

func TestPipelineStateBindingConflict(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	vs := mustShader(c, d, gfx.ShaderStageVS, newSPIRV(execVertex).rwBuffer(0))
	ps := mustShader(c, d, gfx.ShaderStagePS, newSPIRV(execFragment).rwTexture(0))
	_, err := d.CreatePipelineState(&gfx.PipelineStateDesc{VS: &vs, PS: &ps})
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidDesc)

	_, err = d.CreatePipelineState(&gfx.PipelineStateDesc{PS: &ps})
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidDesc)
}

func TestPipelineStateHashIgnoresPointers(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	vs := mustShader(c, d, gfx.ShaderStageVS, newSPIRV(execVertex))
	desc := func() *gfx.PipelineStateDesc {
		return &gfx.PipelineStateDesc{
			VS: &vs,
			RS: &gfx.RasterizerState{CullMode: gfx.CullBack, DepthClipEnable: true},
		}
	}
	a, err := d.CreatePipelineState(desc())
	c.Assert(err, qt.IsNil)
	b, err := d.CreatePipelineState(desc())
	c.Assert(err, qt.IsNil)
	c.Assert(a.Hash, qt.Equals, b.Hash)

	other := desc()
	other.RS.CullMode = gfx.CullNone
	o, err := d.CreatePipelineState(other)
	c.Assert(err, qt.IsNil)
	c.Assert(o.Hash, qt.Not(qt.Equals), a.Hash)
}

func TestDrawBuildsPipelineOnce(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})
	s := newDrawSetup(c, d)

	cmd := mustBegin(c, d, gfx.QueueGraphics)
	l := d.lists[cmd]
	d.RenderPassBegin(cmd, &s.pass)
	d.BindPipelineState(cmd, &s.pso)
	d.Draw(cmd, 3, 0)
	d.Draw(cmd, 3, 0)
	d.RenderPassEnd(cmd)
	c.Assert(l.err, qt.IsNil)
	c.Assert(l.pipelines, qt.HasLen, 1)
	c.Assert(d.pipelines, qt.HasLen, 0)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(l.pipelines, qt.HasLen, 0)
	c.Assert(d.pipelines, qt.HasLen, 1)

	// The next frame finds the pipeline in the device cache.
	cmd = mustBegin(c, d, gfx.QueueGraphics)
	l = d.lists[cmd]
	d.RenderPassBegin(cmd, &s.pass)
	d.BindPipelineState(cmd, &s.pso)
	d.DrawInstanced(cmd, 3, 2, 0, 0)
	d.RenderPassEnd(cmd)
	c.Assert(l.pipelines, qt.HasLen, 0)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)

	stats := drv.Stats()
	c.Assert(stats.Draws, qt.Equals, 3)
	c.Assert(stats.RenderPasses, qt.Equals, 2)
	c.Assert(stats.LayoutErrors, qt.Equals, 0)
}

func TestDrawNeedsPipelineAndRenderPass(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})
	s := newDrawSetup(c, d)

	cmd := mustBegin(c, d, gfx.QueueGraphics)
	d.RenderPassBegin(cmd, &s.pass)
	d.Draw(cmd, 3, 0)
	d.RenderPassEnd(cmd)
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrInvalidCommandList)

	cmd = mustBegin(c, d, gfx.QueueGraphics)
	d.BindPipelineState(cmd, &s.pso)
	d.Draw(cmd, 3, 0)
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrInvalidCommandList)
}

func TestVertexStrideSelectsPipeline(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})
	s := newDrawSetup(c, d)
	vb := mustBuffer(c, d, gfx.BufferDesc{Size: 1024, BindFlags: gfx.BindVertexBuffer}, nil)

	cmd := mustBegin(c, d, gfx.QueueGraphics)
	l := d.lists[cmd]
	d.RenderPassBegin(cmd, &s.pass)
	d.BindPipelineState(cmd, &s.pso)
	d.BindVertexBuffers(cmd, 0, []*gfx.GPUBuffer{&vb}, []uint32{12}, nil)
	d.Draw(cmd, 3, 0)
	d.BindVertexBuffers(cmd, 0, []*gfx.GPUBuffer{&vb}, []uint32{12}, []uint64{36})
	d.Draw(cmd, 3, 0)
	c.Assert(l.pipelines, qt.HasLen, 1)
	d.BindVertexBuffers(cmd, 0, []*gfx.GPUBuffer{&vb}, []uint32{16}, nil)
	d.Draw(cmd, 3, 0)
	c.Assert(l.pipelines, qt.HasLen, 2)
	d.RenderPassEnd(cmd)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)

	cmd = mustBegin(c, d, gfx.QueueGraphics)
	d.BindVertexBuffers(cmd, 0, make([]*gfx.GPUBuffer, maxVertexBuffers+1), nil, nil)
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrInvalidBinding)
}

func TestPipelineMergeRetiresDuplicates(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})
	s := newDrawSetup(c, d)

	var built []native.Handle
	for i := 0; i < 2; i++ {
		cmd := mustBegin(c, d, gfx.QueueGraphics)
		d.RenderPassBegin(cmd, &s.pass)
		d.BindPipelineState(cmd, &s.pso)
		d.Draw(cmd, 3, 0)
		d.RenderPassEnd(cmd)
		for _, p := range d.lists[cmd].pipelines {
			built = append(built, p)
		}
	}
	c.Assert(built, qt.HasLen, 2)
	c.Assert(built[0], qt.Not(qt.Equals), built[1])
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.pipelines, qt.HasLen, 1)
	c.Assert(d.alloc.pending(native.KindPipeline), qt.Equals, 1)

	var kept native.Handle
	for _, p := range d.pipelines {
		kept = p
	}
	for i := uint32(0); i < d.BufferCount(); i++ {
		c.Assert(d.SubmitCommandLists(), qt.IsNil)
	}
	c.Assert(d.alloc.pending(native.KindPipeline), qt.Equals, 0)
	c.Assert(destroyed(drv, native.KindPipeline, kept), qt.IsFalse)
}

func TestClearPipelineStateCache(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})
	s := newDrawSetup(c, d)

	draw := func() {
		cmd := mustBegin(c, d, gfx.QueueGraphics)
		d.RenderPassBegin(cmd, &s.pass)
		d.BindPipelineState(cmd, &s.pso)
		d.Draw(cmd, 3, 0)
		d.RenderPassEnd(cmd)
		c.Assert(d.SubmitCommandLists(), qt.IsNil)
	}
	draw()
	layouts := len(d.layouts)
	c.Assert(d.pipelines, qt.HasLen, 1)

	d.ClearPipelineStateCache()
	c.Assert(d.pipelines, qt.HasLen, 0)
	c.Assert(d.layouts, qt.HasLen, layouts)
	c.Assert(d.alloc.pending(native.KindPipeline), qt.Equals, 1)

	draw()
	c.Assert(d.pipelines, qt.HasLen, 1)
}

func TestPushConstants(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})
	cs := mustShader(c, d, gfx.ShaderStageCS, newSPIRV(execCompute).pushConstants(4))
	plain := computeShader(c, d)
	c.Assert(shaderOf(&cs).layout.push.Size, qt.Equals, uint32(16))

	cmd := mustBegin(c, d, gfx.QueueCompute)
	d.BindComputeShader(cmd, &cs)
	d.PushConstants(cmd, make([]byte, 16))
	d.Dispatch(cmd, 1, 1, 1)
	c.Assert(d.lists[cmd].err, qt.IsNil)
	d.PushConstants(cmd, make([]byte, 20))
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrInvalidBinding)

	cmd = mustBegin(c, d, gfx.QueueCompute)
	d.BindComputeShader(cmd, &plain)
	d.PushConstants(cmd, make([]byte, 4))
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrInvalidBinding)
}
