// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package imageutil turns decoded images into texture data.
package imageutil

import (
	"image"

	"github.com/devblok/korugfx/src/gfx"
	"golang.org/x/image/draw"
)

// RGBA transforms a given image into the tightly packed RGBA8 layout
// by drawing it onto a controlled canvas. The result starts at (0, 0).
func RGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*b.Dx() {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// MipChain returns levels images, each half the size of the previous.
// Zero levels produces a full chain. Levels are filtered bilinearly.
func MipChain(img image.Image, levels uint32) []*image.RGBA {
	base := RGBA(img)
	full := gfx.MipCount(uint32(base.Bounds().Dx()), uint32(base.Bounds().Dy()))
	if base.Bounds().Empty() {
		full = 0
	}
	if levels == 0 || levels > full {
		levels = full
	}
	chain := make([]*image.RGBA, 0, levels)
	if levels == 0 {
		return chain
	}
	chain = append(chain, base)
	for i := uint32(1); i < levels; i++ {
		prev := chain[i-1].Bounds()
		w, h := max(prev.Dx()/2, 1), max(prev.Dy()/2, 1)
		next := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(next, next.Bounds(), chain[i-1], prev, draw.Src, nil)
		chain = append(chain, next)
	}
	return chain
}

// SubresourceData returns the initial data of a 2D RGBA8 texture built
// from the mip chain of img.
func SubresourceData(img image.Image, levels uint32) []gfx.SubresourceData {
	chain := MipChain(img, levels)
	data := make([]gfx.SubresourceData, len(chain))
	for i, level := range chain {
		data[i] = gfx.SubresourceData{
			Data:       level.Pix,
			RowPitch:   uint32(level.Stride),
			SlicePitch: uint32(len(level.Pix)),
		}
	}
	return data
}

// TextureDesc describes a sampled 2D texture that SubresourceData of the
// same image and level count initializes.
func TextureDesc(img image.Image, levels uint32, srgb bool) gfx.TextureDesc {
	b := img.Bounds()
	full := gfx.MipCount(uint32(b.Dx()), uint32(b.Dy()))
	if levels == 0 || levels > full {
		levels = full
	}
	format := gfx.FormatR8G8B8A8Unorm
	if srgb {
		format = gfx.FormatR8G8B8A8UnormSrgb
	}
	return gfx.TextureDesc{
		Type:        gfx.Texture2D,
		Width:       uint32(b.Dx()),
		Height:      uint32(b.Dy()),
		Depth:       1,
		ArraySize:   1,
		MipLevels:   levels,
		Format:      format,
		SampleCount: 1,
		Usage:       gfx.UsageDefault,
		BindFlags:   gfx.BindShaderResource,
		Layout:      gfx.StateShaderResource,
	}
}
