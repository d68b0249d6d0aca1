// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package imageutil

import (
	"image"
	"image/color"
	"testing"

	qt "github.com/frankban/quicktest"
)

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(10, 10, 10+w, 10+h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{A: 255}
			if (x+y)%2 == 0 {
				c.R, c.G, c.B = 255, 255, 255
			}
			img.SetNRGBA(10+x, 10+y, c)
		}
	}
	return img
}

func TestRGBA(t *testing.T) {
	c := qt.New(t)
	rgba := RGBA(checker(4, 2))
	c.Assert(rgba.Bounds(), qt.Equals, image.Rect(0, 0, 4, 2))
	c.Assert(rgba.Stride, qt.Equals, 16)
	c.Assert(rgba.Pix[:8], qt.DeepEquals, []byte{255, 255, 255, 255, 0, 0, 0, 255})

	c.Assert(RGBA(rgba), qt.Equals, rgba)
}

func TestMipChain(t *testing.T) {
	c := qt.New(t)
	chain := MipChain(checker(8, 2), 0)
	c.Assert(chain, qt.HasLen, 4)
	sizes := make([]image.Point, len(chain))
	for i, level := range chain {
		sizes[i] = level.Bounds().Size()
	}
	c.Assert(sizes, qt.DeepEquals, []image.Point{{8, 2}, {4, 1}, {2, 1}, {1, 1}})

	c.Assert(MipChain(checker(8, 8), 2), qt.HasLen, 2)
	c.Assert(MipChain(image.NewRGBA(image.Rect(0, 0, 0, 0)), 0), qt.HasLen, 0)
}

func TestSubresourceData(t *testing.T) {
	c := qt.New(t)
	img := checker(4, 4)
	data := SubresourceData(img, 0)
	c.Assert(data, qt.HasLen, 3)
	c.Assert(data[0].RowPitch, qt.Equals, uint32(16))
	c.Assert(data[1].SlicePitch, qt.Equals, uint32(16))

	desc := TextureDesc(img, 0, true)
	c.Assert(desc.MipLevels, qt.Equals, uint32(len(data)))
	c.Assert(desc.Width, qt.Equals, uint32(4))
}
