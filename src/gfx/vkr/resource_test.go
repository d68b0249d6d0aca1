// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	qt "github.com/frankban/quicktest"
)

func readbackTexture(w, h uint32) gfx.TextureDesc {
	return gfx.TextureDesc{
		Type:      gfx.Texture2D,
		Width:     w,
		Height:    h,
		MipLevels: 1,
		Format:    gfx.FormatR8G8B8A8Unorm,
		Usage:     gfx.UsageReadback,
	}
}

func TestClearAndReadBack(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})

	desc := renderTarget(4, 4)
	desc.Clear.Color = [4]float32{1, 0, 0, 1}
	tex := mustTexture(c, d, desc)
	readback := mustTexture(c, d, readbackTexture(4, 4))
	c.Assert(readback.Mapped, qt.HasLen, 4*4*4)
	c.Assert(readback.MappedRowPitch, qt.Equals, uint32(16))

	pass, err := d.CreateRenderPass(&gfx.RenderPassDesc{
		Attachments: []gfx.RenderPassAttachment{
			gfx.RenderPassAttachmentRT(&tex, gfx.LoadOpClear, gfx.StoreOpStore),
		},
	})
	c.Assert(err, qt.IsNil)

	cmd := mustBegin(c, d, gfx.QueueGraphics)
	d.RenderPassBegin(cmd, &pass)
	d.RenderPassEnd(cmd)
	d.Barrier(cmd, gfx.BarrierImage(&tex, gfx.StateRenderTarget, gfx.StateCopySrc))
	d.CopyResource(cmd, &readback.GPUResource, &tex.GPUResource)
	d.Barrier(cmd, gfx.BarrierImage(&tex, gfx.StateCopySrc, gfx.StateRenderTarget))
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)

	for i := 0; i < 16; i++ {
		c.Assert(readback.Mapped[i*4:i*4+4], qt.DeepEquals, []byte{255, 0, 0, 255}, qt.Commentf("texel %d", i))
	}
	stats := drv.Stats()
	c.Assert(stats.RenderPasses, qt.Equals, 1)
	c.Assert(stats.LayoutErrors, qt.Equals, 0)
}

func TestRenderPassKeepsAttachments(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	// Only the pass survives; its description no longer points at the texture.
	pass := func() gfx.RenderPass {
		tex := mustTexture(c, d, renderTarget(4, 4))
		pass, err := d.CreateRenderPass(&gfx.RenderPassDesc{
			Attachments: []gfx.RenderPassAttachment{
				gfx.RenderPassAttachmentRT(&tex, gfx.LoadOpClear, gfx.StoreOpStore),
			},
		})
		c.Assert(err, qt.IsNil)
		pass.Desc.Attachments = nil
		return pass
	}()

	runtime.GC()
	runtime.GC()
	c.Assert(d.alloc.pending(native.KindImageView), qt.Equals, 0)
	attachments := renderPassOf(&pass).attachments
	c.Assert(attachments, qt.HasLen, 1)
	c.Assert(attachments[0].typ, qt.Equals, gfx.ResourceTexture)
	c.Assert(attachments[0].Released(), qt.IsFalse)

	cmd := mustBegin(c, d, gfx.QueueGraphics)
	d.RenderPassBegin(cmd, &pass)
	d.RenderPassEnd(cmd)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	runtime.KeepAlive(pass)
}

func TestTextureInitialData(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})

	pixels := make([]byte, 2*2*4)
	for i := range pixels {
		pixels[i] = byte(i * 7)
	}
	desc := gfx.TextureDesc{
		Type:      gfx.Texture2D,
		Width:     2,
		Height:    2,
		MipLevels: 1,
		Format:    gfx.FormatR8G8B8A8Unorm,
		BindFlags: gfx.BindShaderResource,
		Layout:    gfx.StateShaderResource,
	}
	tex, err := d.CreateTexture(&desc, []gfx.SubresourceData{{Data: pixels, RowPitch: 8}})
	c.Assert(err, qt.IsNil)
	readback := mustTexture(c, d, readbackTexture(2, 2))

	cmd := mustBegin(c, d, gfx.QueueGraphics)
	d.Barrier(cmd, gfx.BarrierImage(&tex, gfx.StateShaderResource, gfx.StateCopySrc))
	d.CopyResource(cmd, &readback.GPUResource, &tex.GPUResource)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)

	c.Assert(readback.Mapped, qt.DeepEquals, pixels)
	c.Assert(drv.Stats().LayoutErrors, qt.Equals, 0)
}

func TestBufferInitialData(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	data := bytes.Repeat([]byte{1, 2, 3, 4}, 64)
	buf := mustBuffer(c, d, gfx.BufferDesc{Size: 256, BindFlags: gfx.BindVertexBuffer}, data)
	c.Assert(buf.Mapped, qt.IsNil)
	readback := mustBuffer(c, d, gfx.BufferDesc{Size: 256, Usage: gfx.UsageReadback}, nil)

	cmd := mustBegin(c, d, gfx.QueueCompute)
	d.CopyResource(cmd, &readback.GPUResource, &buf.GPUResource)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)
	c.Assert(readback.Mapped, qt.DeepEquals, data)
}

func TestUpdateBuffer(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	buf := mustBuffer(c, d, gfx.BufferDesc{Size: 128, BindFlags: gfx.BindConstantBuffer}, nil)
	readback := mustBuffer(c, d, gfx.BufferDesc{Size: 128, Usage: gfx.UsageReadback}, nil)
	upload := mustBuffer(c, d, gfx.BufferDesc{Size: 16, Usage: gfx.UsageUpload}, nil)

	cmd := mustBegin(c, d, gfx.QueueGraphics)
	d.UpdateBuffer(cmd, &buf, []byte("first"), 0)
	d.UpdateBuffer(cmd, &buf, []byte("second"), 64)
	d.CopyResource(cmd, &readback.GPUResource, &buf.GPUResource)
	d.UpdateBuffer(cmd, &upload, []byte("mapped"), 2)
	c.Assert(upload.Mapped[2:8], qt.DeepEquals, []byte("mapped"))
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)

	c.Assert(readback.Mapped[:5], qt.DeepEquals, []byte("first"))
	c.Assert(readback.Mapped[64:70], qt.DeepEquals, []byte("second"))
}

func TestUpdateBufferOutOfRange(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	buf := mustBuffer(c, d, gfx.BufferDesc{Size: 16}, nil)
	cmd := mustBegin(c, d, gfx.QueueGraphics)
	d.UpdateBuffer(cmd, &buf, make([]byte, 8), 12)
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrInvalidDesc)
}

func TestUploadRingGrows(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})

	buf := mustBuffer(c, d, gfx.BufferDesc{Size: 256 << 10}, nil)
	cmd := mustBegin(c, d, gfx.QueueGraphics)
	l := d.lists[cmd]
	d.UpdateBuffer(cmd, &buf, make([]byte, 1000), 0)
	first := l.frame.upload.buffer
	c.Assert(l.frame.upload.mapped, qt.HasLen, uploadMinSize)
	d.UpdateBuffer(cmd, &buf, make([]byte, 100<<10), 0)
	c.Assert(l.frame.upload.buffer, qt.Not(qt.Equals), first)
	c.Assert(l.frame.upload.mapped, qt.HasLen, 128<<10)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)

	for i := uint32(0); i < d.BufferCount(); i++ {
		c.Assert(d.SubmitCommandLists(), qt.IsNil)
	}
	c.Assert(destroyed(drv, native.KindBuffer, first), qt.IsTrue)
}

func TestCreateTextureRejectsInvalid(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	_, err := d.CreateTexture(&gfx.TextureDesc{Width: 0, Height: 4, Format: gfx.FormatR8G8B8A8Unorm}, nil)
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidDesc)
	_, err = d.CreateTexture(&gfx.TextureDesc{Width: 4, Height: 4}, nil)
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidDesc)
	_, err = d.CreateBuffer(&gfx.BufferDesc{}, nil)
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidDesc)
}

func TestTextureFullMipChain(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	tex := mustTexture(c, d, gfx.TextureDesc{
		Type:      gfx.Texture2D,
		Width:     16,
		Height:    4,
		Format:    gfx.FormatR8G8B8A8Unorm,
		BindFlags: gfx.BindShaderResource,
	})
	c.Assert(tex.Desc.MipLevels, qt.Equals, uint32(5))
	c.Assert(tex.Desc.ArraySize, qt.Equals, uint32(1))

	sub, err := d.CreateSubresource(&tex, gfx.SRV, 0, 1, 2, 10)
	c.Assert(err, qt.IsNil)
	v := resourceOf(&tex.GPUResource).subresource(gfx.SRV, sub)
	c.Assert(v.firstMip, qt.Equals, uint32(2))
	c.Assert(v.mipCount, qt.Equals, uint32(3))

	_, err = d.CreateSubresource(&tex, gfx.SRV, 0, 1, 5, 1)
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidDesc)
}

func TestBindlessIndices(t *testing.T) {
	c := qt.New(t)
	var capacity [BindlessKindCount]uint32
	capacity[BindlessStorageBuffer] = 2
	d, _ := newTestDevice(t, Config{BindlessCapacity: capacity})
	heap := d.alloc.heap(BindlessStorageBuffer)
	c.Assert(heap, qt.Not(qt.IsNil))

	desc := gfx.BufferDesc{Size: 64, BindFlags: gfx.BindShaderResource, MiscFlags: gfx.MiscBufferRaw}
	a := mustBuffer(c, d, desc, nil)
	b := mustBuffer(c, d, desc, nil)
	c.Assert(d.GetDescriptorIndex(&a.GPUResource, gfx.SRV, -1), qt.Equals, 0)
	c.Assert(d.GetDescriptorIndex(&b.GPUResource, gfx.SRV, -1), qt.Equals, 1)

	// A full heap leaves default views slot bound only; explicit views fail.
	full := mustBuffer(c, d, desc, nil)
	c.Assert(d.GetDescriptorIndex(&full.GPUResource, gfx.SRV, -1), qt.Equals, -1)
	_, err := d.CreateBufferSubresource(&full, gfx.SRV, 0, 32)
	c.Assert(err, qt.ErrorIs, gfx.ErrBindlessExhausted)
	full.Release()

	// Indices come back once the frame that freed them is retired.
	a.Release()
	c.Assert(heap.inUse(), qt.Equals, 2)
	for i := uint32(0); i < d.BufferCount(); i++ {
		c.Assert(d.SubmitCommandLists(), qt.IsNil)
	}
	c.Assert(heap.inUse(), qt.Equals, 1)
	again := mustBuffer(c, d, desc, nil)
	c.Assert(d.GetDescriptorIndex(&again.GPUResource, gfx.SRV, -1), qt.Equals, 0)
}

func TestBindlessExhaustedTexture(t *testing.T) {
	c := qt.New(t)
	var capacity [BindlessKindCount]uint32
	capacity[BindlessSampledImage] = 1
	d, _ := newTestDevice(t, Config{BindlessCapacity: capacity})

	desc := gfx.TextureDesc{
		Type:      gfx.Texture2D,
		Width:     4,
		Height:    4,
		MipLevels: 1,
		Format:    gfx.FormatR8G8B8A8Unorm,
		BindFlags: gfx.BindShaderResource,
		Layout:    gfx.StateShaderResource,
	}
	a := mustTexture(c, d, desc)
	b := mustTexture(c, d, desc)
	c.Assert(d.GetDescriptorIndex(&a.GPUResource, gfx.SRV, -1), qt.Equals, 0)
	c.Assert(d.GetDescriptorIndex(&b.GPUResource, gfx.SRV, -1), qt.Equals, -1)

	_, err := d.CreateSubresource(&b, gfx.SRV, 0, 1, 0, 1)
	c.Assert(err, qt.ErrorIs, gfx.ErrBindlessExhausted)

	// The texture still binds by slot.
	cmd := mustBegin(c, d, gfx.QueueGraphics)
	d.BindResource(cmd, &b.GPUResource, 0, -1)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
}

func TestWithoutBindless(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{}, native.Features{})
	c.Assert(d.CheckCapability(gfx.CapBindless), qt.IsFalse)
	c.Assert(d.CheckCapability(gfx.CapRaytracing), qt.IsFalse)

	buf := mustBuffer(c, d, gfx.BufferDesc{Size: 64, BindFlags: gfx.BindShaderResource}, nil)
	c.Assert(d.GetDescriptorIndex(&buf.GPUResource, gfx.SRV, -1), qt.Equals, -1)
}

func TestSetName(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})

	buf := mustBuffer(c, d, gfx.BufferDesc{Size: 64}, nil)
	d.SetName(&buf.GPUResource, "vertices")
	c.Assert(drv.Name(resourceOf(&buf.GPUResource).buffer), qt.Equals, "vertices")
}
