// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"encoding/binary"
	"math"

	vk "github.com/devblok/vulkan"
)

// texelInfo returns the size in bytes of one texel (or block) and the
// block dimension of a format.
func texelInfo(f vk.Format) (size, block uint32) {
	switch f {
	case vk.FormatBc1RgbaUnormBlock, vk.FormatBc1RgbaSrgbBlock,
		vk.FormatBc4UnormBlock, vk.FormatBc4SnormBlock:
		return 8, 4
	case vk.FormatBc2UnormBlock, vk.FormatBc2SrgbBlock, vk.FormatBc3UnormBlock,
		vk.FormatBc3SrgbBlock, vk.FormatBc5UnormBlock, vk.FormatBc5SnormBlock,
		vk.FormatBc6hUfloatBlock, vk.FormatBc6hSfloatBlock,
		vk.FormatBc7UnormBlock, vk.FormatBc7SrgbBlock:
		return 16, 4
	case vk.FormatR32g32b32a32Sfloat, vk.FormatR32g32b32a32Uint, vk.FormatR32g32b32a32Sint:
		return 16, 1
	case vk.FormatR32g32b32Sfloat, vk.FormatR32g32b32Uint, vk.FormatR32g32b32Sint:
		return 12, 1
	case vk.FormatR16g16b16a16Sfloat, vk.FormatR16g16b16a16Unorm, vk.FormatR16g16b16a16Uint,
		vk.FormatR16g16b16a16Snorm, vk.FormatR16g16b16a16Sint,
		vk.FormatR32g32Sfloat, vk.FormatR32g32Uint, vk.FormatR32g32Sint,
		vk.FormatD32SfloatS8Uint:
		return 8, 1
	case vk.FormatR8g8Unorm, vk.FormatR8g8Uint, vk.FormatR8g8Snorm, vk.FormatR8g8Sint,
		vk.FormatR16Sfloat, vk.FormatR16Unorm, vk.FormatR16Uint, vk.FormatR16Snorm,
		vk.FormatR16Sint, vk.FormatD16Unorm:
		return 2, 1
	case vk.FormatR8Unorm, vk.FormatR8Uint, vk.FormatR8Snorm, vk.FormatR8Sint:
		return 1, 1
	}
	return 4, 1
}

func clampUnit(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func unorm8(v float32) byte {
	return byte(math.Round(float64(clampUnit(v)) * 255))
}

func unorm16(v float32) uint16 {
	return uint16(math.Round(float64(clampUnit(v)) * 65535))
}

// half converts a float32 into IEEE 754 binary16, flushing denormals.
func half(v float32) uint16 {
	bits := math.Float32bits(v)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	mant := bits & 0x7fffff
	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1f:
		return sign | 0x7c00
	}
	return sign | uint16(exp)<<10 | uint16(mant>>13)
}

// encodeColor packs a clear color into one texel of the format. Formats
// the emulation does not know are cleared to zero.
func encodeColor(f vk.Format, c [4]float32) []byte {
	size, _ := texelInfo(f)
	out := make([]byte, size)
	le := binary.LittleEndian
	switch f {
	case vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Srgb:
		out[0], out[1], out[2], out[3] = unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])
	case vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb:
		out[0], out[1], out[2], out[3] = unorm8(c[2]), unorm8(c[1]), unorm8(c[0]), unorm8(c[3])
	case vk.FormatR8g8Unorm:
		out[0], out[1] = unorm8(c[0]), unorm8(c[1])
	case vk.FormatR8Unorm:
		out[0] = unorm8(c[0])
	case vk.FormatR16g16b16a16Unorm:
		for i := 0; i < 4; i++ {
			le.PutUint16(out[i*2:], unorm16(c[i]))
		}
	case vk.FormatR16g16b16a16Sfloat:
		for i := 0; i < 4; i++ {
			le.PutUint16(out[i*2:], half(c[i]))
		}
	case vk.FormatR16g16Sfloat:
		le.PutUint16(out[0:], half(c[0]))
		le.PutUint16(out[2:], half(c[1]))
	case vk.FormatR16Sfloat:
		le.PutUint16(out, half(c[0]))
	case vk.FormatR32g32b32a32Sfloat:
		for i := 0; i < 4; i++ {
			le.PutUint32(out[i*4:], math.Float32bits(c[i]))
		}
	case vk.FormatR32g32Sfloat:
		le.PutUint32(out[0:], math.Float32bits(c[0]))
		le.PutUint32(out[4:], math.Float32bits(c[1]))
	case vk.FormatR32Sfloat:
		le.PutUint32(out, math.Float32bits(c[0]))
	case vk.FormatR32Uint:
		le.PutUint32(out, uint32(c[0]))
	}
	return out
}

// encodeDepth packs a depth stencil clear value into one texel.
func encodeDepth(f vk.Format, depth float32, stencil uint32) []byte {
	size, _ := texelInfo(f)
	out := make([]byte, size)
	le := binary.LittleEndian
	switch f {
	case vk.FormatD32Sfloat:
		le.PutUint32(out, math.Float32bits(depth))
	case vk.FormatD16Unorm:
		le.PutUint16(out, unorm16(depth))
	case vk.FormatD24UnormS8Uint:
		d := uint32(math.Round(float64(clampUnit(depth)) * 0xffffff))
		le.PutUint32(out, d|stencil<<24)
	case vk.FormatD32SfloatS8Uint:
		le.PutUint32(out, math.Float32bits(depth))
		out[4] = byte(stencil)
	}
	return out
}

func isDepthFormat(f vk.Format) bool {
	switch f {
	case vk.FormatD16Unorm, vk.FormatD32Sfloat, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return true
	}
	return false
}

// fill repeats texel over dst.
func fill(dst, texel []byte) {
	if len(texel) == 0 {
		return
	}
	for i := 0; i+len(texel) <= len(dst); i += len(texel) {
		copy(dst[i:], texel)
	}
}
