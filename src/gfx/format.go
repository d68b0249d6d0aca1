// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

// Format is a pixel or vertex element format.
type Format int

// Formats understood by devices.
const (
	FormatUnknown Format = iota

	FormatR32G32B32A32Float
	FormatR32G32B32A32Uint
	FormatR32G32B32A32Sint

	FormatR32G32B32Float
	FormatR32G32B32Uint
	FormatR32G32B32Sint

	FormatR16G16B16A16Float
	FormatR16G16B16A16Unorm
	FormatR16G16B16A16Uint
	FormatR16G16B16A16Snorm
	FormatR16G16B16A16Sint

	FormatR32G32Float
	FormatR32G32Uint
	FormatR32G32Sint
	FormatR32G8X24Typeless // depth + stencil (alias)
	FormatD32FloatS8X24Uint

	FormatR10G10B10A2Unorm
	FormatR10G10B10A2Uint
	FormatR11G11B10Float
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8UnormSrgb
	FormatR8G8B8A8Uint
	FormatR8G8B8A8Snorm
	FormatR8G8B8A8Sint
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8UnormSrgb
	FormatR16G16Float
	FormatR16G16Unorm
	FormatR16G16Uint
	FormatR16G16Snorm
	FormatR16G16Sint
	FormatR32Typeless // depth (alias)
	FormatD32Float
	FormatR32Float
	FormatR32Uint
	FormatR32Sint
	FormatR24G8Typeless // depth + stencil (alias)
	FormatD24UnormS8Uint
	FormatR9G9B9E5SharedExp

	FormatR8G8Unorm
	FormatR8G8Uint
	FormatR8G8Snorm
	FormatR8G8Sint
	FormatR16Typeless // depth (alias)
	FormatR16Float
	FormatD16Unorm
	FormatR16Unorm
	FormatR16Uint
	FormatR16Snorm
	FormatR16Sint

	FormatR8Unorm
	FormatR8Uint
	FormatR8Snorm
	FormatR8Sint

	FormatBC1Unorm
	FormatBC1UnormSrgb
	FormatBC2Unorm
	FormatBC2UnormSrgb
	FormatBC3Unorm
	FormatBC3UnormSrgb
	FormatBC4Unorm
	FormatBC4Snorm
	FormatBC5Unorm
	FormatBC5Snorm
	FormatBC6HUF16
	FormatBC6HSF16
	FormatBC7Unorm
	FormatBC7UnormSrgb
)

// IsBlockCompressed reports whether the format stores 4x4 texel blocks.
func (f Format) IsBlockCompressed() bool {
	return f >= FormatBC1Unorm && f <= FormatBC7UnormSrgb
}

// BlockSize is the width and height of one addressable element in texels.
func (f Format) BlockSize() uint32 {
	if f.IsBlockCompressed() {
		return 4
	}
	return 1
}

// Stride returns the size in bytes of one texel, or of one block for
// block compressed formats.
func (f Format) Stride() uint32 {
	switch f {
	case FormatBC1Unorm, FormatBC1UnormSrgb, FormatBC4Unorm, FormatBC4Snorm:
		return 8
	case FormatBC2Unorm, FormatBC2UnormSrgb, FormatBC3Unorm, FormatBC3UnormSrgb,
		FormatBC5Unorm, FormatBC5Snorm, FormatBC6HUF16, FormatBC6HSF16,
		FormatBC7Unorm, FormatBC7UnormSrgb:
		return 16
	case FormatR32G32B32A32Float, FormatR32G32B32A32Uint, FormatR32G32B32A32Sint:
		return 16
	case FormatR32G32B32Float, FormatR32G32B32Uint, FormatR32G32B32Sint:
		return 12
	case FormatR16G16B16A16Float, FormatR16G16B16A16Unorm, FormatR16G16B16A16Uint,
		FormatR16G16B16A16Snorm, FormatR16G16B16A16Sint,
		FormatR32G32Float, FormatR32G32Uint, FormatR32G32Sint,
		FormatR32G8X24Typeless, FormatD32FloatS8X24Uint:
		return 8
	case FormatR10G10B10A2Unorm, FormatR10G10B10A2Uint, FormatR11G11B10Float,
		FormatR8G8B8A8Unorm, FormatR8G8B8A8UnormSrgb, FormatR8G8B8A8Uint,
		FormatR8G8B8A8Snorm, FormatR8G8B8A8Sint,
		FormatB8G8R8A8Unorm, FormatB8G8R8A8UnormSrgb,
		FormatR16G16Float, FormatR16G16Unorm, FormatR16G16Uint,
		FormatR16G16Snorm, FormatR16G16Sint,
		FormatR32Typeless, FormatD32Float, FormatR32Float, FormatR32Uint, FormatR32Sint,
		FormatR24G8Typeless, FormatD24UnormS8Uint, FormatR9G9B9E5SharedExp:
		return 4
	case FormatR8G8Unorm, FormatR8G8Uint, FormatR8G8Snorm, FormatR8G8Sint,
		FormatR16Typeless, FormatR16Float, FormatD16Unorm, FormatR16Unorm,
		FormatR16Uint, FormatR16Snorm, FormatR16Sint:
		return 2
	case FormatR8Unorm, FormatR8Uint, FormatR8Snorm, FormatR8Sint:
		return 1
	}
	return 16
}

// IsDepth reports whether the format can back a depth attachment.
func (f Format) IsDepth() bool {
	switch f {
	case FormatD16Unorm, FormatD32Float, FormatD32FloatS8X24Uint, FormatD24UnormS8Uint,
		FormatR16Typeless, FormatR32Typeless, FormatR24G8Typeless, FormatR32G8X24Typeless:
		return true
	}
	return false
}

// IsStencil reports whether the format carries a stencil component.
func (f Format) IsStencil() bool {
	switch f {
	case FormatR32G8X24Typeless, FormatD32FloatS8X24Uint, FormatR24G8Typeless, FormatD24UnormS8Uint:
		return true
	}
	return false
}

// IsSRGB reports whether the format is gamma encoded.
func (f Format) IsSRGB() bool {
	switch f {
	case FormatR8G8B8A8UnormSrgb, FormatB8G8R8A8UnormSrgb, FormatBC1UnormSrgb,
		FormatBC2UnormSrgb, FormatBC3UnormSrgb, FormatBC7UnormSrgb:
		return true
	}
	return false
}

// MipCount returns the length of a full mip chain for the given extent.
func MipCount(width, height uint32) uint32 {
	size := width
	if height > size {
		size = height
	}
	var count uint32
	for size > 0 {
		count++
		size >>= 1
	}
	if count == 0 {
		return 1
	}
	return count
}

// ComputeTextureMemorySize returns the number of bytes needed to hold
// every slice and mip of a texture in tightly packed linear layout.
func ComputeTextureMemorySize(desc *TextureDesc) uint64 {
	var size uint64
	stride := uint64(desc.Format.Stride())
	block := desc.Format.BlockSize()
	arraySize := desc.ArraySize
	if arraySize == 0 {
		arraySize = 1
	}
	mips := desc.MipLevels
	if mips == 0 {
		mips = MipCount(desc.Width, desc.Height)
	}
	depth := desc.Depth
	if depth == 0 {
		depth = 1
	}
	for mip := uint32(0); mip < mips; mip++ {
		w := maxU32(1, desc.Width>>mip)
		h := maxU32(1, desc.Height>>mip)
		d := maxU32(1, depth>>mip)
		bw := (w + block - 1) / block
		bh := (h + block - 1) / block
		size += uint64(bw) * uint64(bh) * uint64(d) * stride
	}
	return size * uint64(arraySize)
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
