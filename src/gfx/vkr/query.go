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

// CreateQueryHeap implements gfx.Device.
func (d *Device) CreateQueryHeap(desc *gfx.QueryHeapDesc) (gfx.QueryHeap, error) {
	if desc.QueryCount == 0 {
		return gfx.QueryHeap{}, errors.Wrap(gfx.ErrInvalidDesc, "query heap is empty")
	}
	pool, err := d.drv.CreateQueryPool(&native.QueryPoolInfo{
		Type:  convertQueryType(desc.Type),
		Count: desc.QueryCount,
	})
	if err != nil {
		return gfx.QueryHeap{}, errors.Wrap(err, "vk.CreateQueryPool()")
	}
	s := &queryHeapState{pool: pool, typ: desc.Type, count: desc.QueryCount}
	s.dev = d
	track(s)
	return gfx.QueryHeap{DeviceChild: gfx.DeviceChild{Internal: s}, Desc: *desc}, nil
}

func (l *commandList) queryHeap(heap *gfx.QueryHeap, index, count uint32) *queryHeapState {
	s := queryHeapOf(heap)
	if s == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "query heap"))
		return nil
	}
	if index+count > s.count {
		l.fail(errors.Wrapf(gfx.ErrInvalidDesc, "queries %d+%d beyond heap size %d", index, count, s.count))
		return nil
	}
	return s
}

// QueryBegin implements gfx.Device. Timestamps have no begin.
func (d *Device) QueryBegin(cmd gfx.CommandList, heap *gfx.QueryHeap, index uint32) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	s := l.queryHeap(heap, index, 1)
	if s == nil || s.typ == gfx.QueryTimestamp {
		return
	}
	l.cb.BeginQuery(s.pool, index, s.typ == gfx.QueryOcclusion)
}

// QueryEnd implements gfx.Device. Ending a timestamp query writes it.
func (d *Device) QueryEnd(cmd gfx.CommandList, heap *gfx.QueryHeap, index uint32) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	s := l.queryHeap(heap, index, 1)
	if s == nil {
		return
	}
	if s.typ == gfx.QueryTimestamp {
		l.cb.WriteTimestamp(vk.PipelineStageBottomOfPipeBit, s.pool, index)
		return
	}
	l.cb.EndQuery(s.pool, index)
}

// QueryResolve implements gfx.Device. Results are written as 64 bit
// values once available.
func (d *Device) QueryResolve(cmd gfx.CommandList, heap *gfx.QueryHeap, index, count uint32, dst *gfx.GPUBuffer, dstOffset uint64) {
	l := d.list(cmd)
	if l == nil || !l.outsideRenderPass("QueryResolve") {
		return
	}
	s := l.queryHeap(heap, index, count)
	if s == nil {
		return
	}
	b := resourceOf(&dst.GPUResource)
	if b == nil {
		l.fail(errors.Wrap(gfx.ErrReleased, "query resolve destination"))
		return
	}
	l.cb.CopyQueryPoolResults(s.pool, index, count, b.buffer, dstOffset, 8,
		vk.QueryResultFlags(vk.QueryResult64Bit|vk.QueryResultWaitBit))
}

// QueryReset implements gfx.Device.
func (d *Device) QueryReset(cmd gfx.CommandList, heap *gfx.QueryHeap, index, count uint32) {
	l := d.list(cmd)
	if l == nil || !l.outsideRenderPass("QueryReset") {
		return
	}
	if s := l.queryHeap(heap, index, count); s != nil {
		l.cb.ResetQueryPool(s.pool, index, count)
	}
}
