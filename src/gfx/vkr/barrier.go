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

// Barrier implements gfx.Device. All barriers of a call are recorded as
// one pipeline barrier between all commands.
func (d *Device) Barrier(cmd gfx.CommandList, barriers ...gfx.GPUBarrier) {
	l := d.list(cmd)
	if l == nil || len(barriers) == 0 || !l.outsideRenderPass("Barrier") {
		return
	}
	b := native.Barrier{
		SrcStage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		DstStage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
	}
	for i := range barriers {
		gb := &barriers[i]
		switch gb.Type {
		case gfx.BarrierMemoryType:
			b.Memory = append(b.Memory, native.MemoryBarrier{
				SrcAccess: vk.AccessFlags(vk.AccessShaderWriteBit),
				DstAccess: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			})

		case gfx.BarrierImageType:
			if gb.Texture == nil {
				l.fail(errors.Wrap(gfx.ErrInvalidDesc, "image barrier without texture"))
				return
			}
			s := resourceOf(&gb.Texture.GPUResource)
			if s == nil {
				l.fail(errors.Wrap(gfx.ErrReleased, "image barrier"))
				return
			}
			if s.image == native.Null {
				continue
			}
			b.Images = append(b.Images, native.ImageBarrier{
				Image:     s.image,
				SrcAccess: parseResourceState(gb.LayoutBefore),
				DstAccess: parseResourceState(gb.LayoutAfter),
				OldLayout: convertImageLayout(gb.LayoutBefore),
				NewLayout: convertImageLayout(gb.LayoutAfter),
				Range:     barrierRange(&gb.Texture.Desc, gb.Mip, gb.Slice),
			})

		case gfx.BarrierBufferType:
			if gb.Buffer == nil {
				l.fail(errors.Wrap(gfx.ErrInvalidDesc, "buffer barrier without buffer"))
				return
			}
			s := resourceOf(&gb.Buffer.GPUResource)
			if s == nil {
				l.fail(errors.Wrap(gfx.ErrReleased, "buffer barrier"))
				return
			}
			b.Buffers = append(b.Buffers, native.BufferBarrier{
				Buffer:    s.buffer,
				SrcAccess: parseResourceState(gb.StateBefore),
				DstAccess: parseResourceState(gb.StateAfter),
				Size:      vk.WholeSize,
			})
		}
	}
	if len(b.Memory)+len(b.Images)+len(b.Buffers) > 0 {
		l.cb.PipelineBarrier(&b)
	}
}

// barrierRange selects one mip and slice, or all of them for -1.
func barrierRange(desc *gfx.TextureDesc, mip, slice int) vk.ImageSubresourceRange {
	r := vk.ImageSubresourceRange{
		AspectMask: aspectMask(desc.Format),
		LevelCount: remainingMipLevels,
		LayerCount: remainingArrayLayers,
	}
	if mip >= 0 {
		r.BaseMipLevel = uint32(mip)
		r.LevelCount = 1
	}
	if slice >= 0 {
		r.BaseArrayLayer = uint32(slice)
		r.LayerCount = 1
	}
	return r
}
