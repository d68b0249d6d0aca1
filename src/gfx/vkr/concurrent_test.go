// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	"github.com/devblok/korugfx/src/gfx"
	qt "github.com/frankban/quicktest"
	"golang.org/x/sync/errgroup"
)

func TestRecordListsConcurrently(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})
	cs := computeShader(c, d)
	s := newDrawSetup(c, d)

	const workers = 4
	const dispatches = 16
	bufs := make([]gfx.GPUBuffer, workers)
	for i := range bufs {
		bufs[i] = mustBuffer(c, d, gfx.BufferDesc{Size: 256, BindFlags: gfx.BindConstantBuffer}, nil)
	}

	for frame := 0; frame < 3; frame++ {
		cmds := make([]gfx.CommandList, workers)
		for i := range cmds {
			q := gfx.QueueCompute
			if i == 0 {
				q = gfx.QueueGraphics
			}
			cmds[i] = mustBegin(c, d, q)
		}

		var g errgroup.Group
		for i, cmd := range cmds {
			i, cmd := i, cmd
			g.Go(func() error {
				if i == 0 {
					d.RenderPassBegin(cmd, &s.pass)
					d.BindPipelineState(cmd, &s.pso)
					d.Draw(cmd, 3, 0)
					d.RenderPassEnd(cmd)
					return nil
				}
				d.BindComputeShader(cmd, &cs)
				for j := 0; j < dispatches; j++ {
					d.UpdateBuffer(cmd, &bufs[i], []byte{byte(j)}, uint64(j))
					d.BindConstantBuffer(cmd, &bufs[i], 0, uint64(j%2)*128)
					d.Dispatch(cmd, 1, 1, 1)
				}
				return nil
			})
		}
		c.Assert(g.Wait(), qt.IsNil)
		c.Assert(d.SubmitCommandLists(), qt.IsNil)
	}
	c.Assert(d.WaitForGPU(), qt.IsNil)

	stats := drv.Stats()
	c.Assert(stats.Dispatches, qt.Equals, 3*(workers-1)*dispatches)
	c.Assert(stats.Draws, qt.Equals, 3)
	c.Assert(d.pipelines, qt.HasLen, 1)
}
