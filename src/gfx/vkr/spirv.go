// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"
	vk "github.com/devblok/vulkan"
)

const spirvMagic = 0x07230203

// SPIR-V opcodes read by the reflector.
const (
	opEntryPoint             = 15
	opTypeBool               = 20
	opTypeInt                = 21
	opTypeFloat              = 22
	opTypeVector             = 23
	opTypeMatrix             = 24
	opTypeImage              = 25
	opTypeSampler            = 26
	opTypeSampledImage       = 27
	opTypeArray              = 28
	opTypeRuntimeArray       = 29
	opTypeStruct             = 30
	opTypePointer            = 32
	opConstant               = 43
	opVariable               = 59
	opDecorate               = 71
	opMemberDecorate         = 72
	opTypeAccelerationStruct = 5341
)

// SPIR-V decorations, storage classes and image dimensions.
const (
	decorationBlock         = 2
	decorationBufferBlock   = 3
	decorationArrayStride   = 6
	decorationMatrixStride  = 7
	decorationBinding       = 33
	decorationDescriptorSet = 34
	decorationOffset        = 35

	storageUniformConstant = 0
	storageUniform         = 2
	storagePushConstant    = 9
	storageBuffer          = 12

	dim1D     = 0
	dim2D     = 1
	dim3D     = 2
	dimCube   = 3
	dimBuffer = 5
)

// ErrInvalidSPIRV is returned for bytecode the reflector cannot read.
var ErrInvalidSPIRV = errors.New("invalid SPIR-V bytecode")

// reflectedBinding is one descriptor binding declared by a module.
type reflectedBinding struct {
	Set      uint32
	Binding  uint32
	Type     vk.DescriptorType
	Count    uint32 // 0 for runtime arrays
	ViewType vk.ImageViewType
}

// reflection is what a shader module declares about its resources.
type reflection struct {
	Entry        string
	Bindings     []reflectedBinding // sorted by set and binding
	PushConstant uint32             // push constant block size, 0 for none
}

type spirvType struct {
	op    uint32
	words []uint32
}

type spirvDecorations struct {
	set, binding       uint32
	hasSet, hasBinding bool
	block, bufferBlock bool
	arrayStride        uint32
	memberOffsets      map[uint32]uint32
	matrixStride       uint32
}

// reflect reads descriptor bindings, the push constant block size and
// the first entry point of a SPIR-V module.
func reflect(code []byte) (*reflection, error) {
	if len(code) < 20 || len(code)%4 != 0 {
		return nil, errors.Wrapf(ErrInvalidSPIRV, "size %d", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, errors.Wrapf(ErrInvalidSPIRV, "magic %#x", words[0])
	}

	r := &reflection{}
	types := make(map[uint32]spirvType)
	constants := make(map[uint32]uint32)
	decorations := make(map[uint32]*spirvDecorations)
	type variable struct{ id, ptrType, storage uint32 }
	var variables []variable

	decoration := func(id uint32) *spirvDecorations {
		d, ok := decorations[id]
		if !ok {
			d = &spirvDecorations{memberOffsets: make(map[uint32]uint32)}
			decorations[id] = d
		}
		return d
	}

	for pos := 5; pos < len(words); {
		count := int(words[pos] >> 16)
		op := words[pos] & 0xffff
		if count == 0 || pos+count > len(words) {
			return nil, errors.Wrapf(ErrInvalidSPIRV, "truncated instruction at word %d", pos)
		}
		args := words[pos+1 : pos+count]
		pos += count

		switch op {
		case opEntryPoint:
			if r.Entry == "" && len(args) > 2 {
				r.Entry = literalString(args[2:])
			}
		case opDecorate:
			if len(args) < 2 {
				continue
			}
			d := decoration(args[0])
			switch args[1] {
			case decorationDescriptorSet:
				if len(args) > 2 {
					d.set, d.hasSet = args[2], true
				}
			case decorationBinding:
				if len(args) > 2 {
					d.binding, d.hasBinding = args[2], true
				}
			case decorationBlock:
				d.block = true
			case decorationBufferBlock:
				d.bufferBlock = true
			case decorationArrayStride:
				if len(args) > 2 {
					d.arrayStride = args[2]
				}
			}
		case opMemberDecorate:
			if len(args) < 4 {
				continue
			}
			d := decoration(args[0])
			switch args[2] {
			case decorationOffset:
				d.memberOffsets[args[1]] = args[3]
			case decorationMatrixStride:
				d.matrixStride = args[3]
			}
		case opTypeBool, opTypeInt, opTypeFloat, opTypeVector, opTypeMatrix, opTypeImage,
			opTypeSampler, opTypeSampledImage, opTypeArray, opTypeRuntimeArray, opTypeStruct,
			opTypePointer, opTypeAccelerationStruct:
			if len(args) > 0 {
				types[args[0]] = spirvType{op: op, words: args[1:]}
			}
		case opConstant:
			if len(args) > 2 {
				constants[args[1]] = args[2]
			}
		case opVariable:
			if len(args) > 2 {
				variables = append(variables, variable{id: args[1], ptrType: args[0], storage: args[2]})
			}
		}
	}

	for _, v := range variables {
		ptr, ok := types[v.ptrType]
		if !ok || ptr.op != opTypePointer || len(ptr.words) < 2 {
			continue
		}
		pointee := ptr.words[1]

		if v.storage == storagePushConstant {
			r.PushConstant = typeSize(pointee, types, constants, decorations)
			continue
		}
		if v.storage != storageUniformConstant && v.storage != storageUniform && v.storage != storageBuffer {
			continue
		}
		d := decorations[v.id]
		if d == nil || !d.hasBinding {
			continue
		}

		b := reflectedBinding{Set: d.set, Binding: d.binding, Count: 1, ViewType: vk.ImageViewType2d}
		t := types[pointee]
		switch t.op {
		case opTypeArray:
			if len(t.words) > 1 {
				b.Count = constants[t.words[1]]
			}
			t = types[t.words[0]]
		case opTypeRuntimeArray:
			b.Count = 0
			if len(t.words) > 0 {
				t = types[t.words[0]]
			}
		}
		combined := false
		if t.op == opTypeSampledImage && len(t.words) > 0 {
			t = types[t.words[0]]
			combined = true
		}

		switch t.op {
		case opTypeImage:
			if len(t.words) < 6 {
				continue
			}
			dim, arrayed, sampled := t.words[1], t.words[3] == 1, t.words[5]
			switch {
			case dim == dimBuffer && sampled == 2:
				b.Type = vk.DescriptorTypeStorageTexelBuffer
			case dim == dimBuffer:
				b.Type = vk.DescriptorTypeUniformTexelBuffer
			case sampled == 2:
				b.Type = vk.DescriptorTypeStorageImage
			case combined:
				b.Type = vk.DescriptorTypeCombinedImageSampler
			default:
				b.Type = vk.DescriptorTypeSampledImage
			}
			b.ViewType = viewTypeOf(dim, arrayed)
		case opTypeSampler:
			b.Type = vk.DescriptorTypeSampler
		case opTypeAccelerationStruct:
			b.Type = descriptorTypeAccelerationStructure
		case opTypeStruct:
			sd := decorations[typeID(types, pointee)]
			switch {
			case v.storage == storageBuffer:
				b.Type = vk.DescriptorTypeStorageBuffer
			case sd != nil && sd.bufferBlock:
				b.Type = vk.DescriptorTypeStorageBuffer
			default:
				b.Type = vk.DescriptorTypeUniformBuffer
			}
		default:
			continue
		}
		r.Bindings = append(r.Bindings, b)
	}

	sort.Slice(r.Bindings, func(i, j int) bool {
		if r.Bindings[i].Set != r.Bindings[j].Set {
			return r.Bindings[i].Set < r.Bindings[j].Set
		}
		return r.Bindings[i].Binding < r.Bindings[j].Binding
	})
	return r, nil
}

// typeID strips array wrappers from a type id.
func typeID(types map[uint32]spirvType, id uint32) uint32 {
	for {
		t := types[id]
		if (t.op != opTypeArray && t.op != opTypeRuntimeArray) || len(t.words) == 0 {
			return id
		}
		id = t.words[0]
	}
}

func viewTypeOf(dim uint32, arrayed bool) vk.ImageViewType {
	switch dim {
	case dim1D:
		if arrayed {
			return vk.ImageViewType1dArray
		}
		return vk.ImageViewType1d
	case dim3D:
		return vk.ImageViewType3d
	case dimCube:
		if arrayed {
			return vk.ImageViewTypeCubeArray
		}
		return vk.ImageViewTypeCube
	}
	if arrayed {
		return vk.ImageViewType2dArray
	}
	return vk.ImageViewType2d
}

// typeSize returns the byte size of a type laid out with explicit
// offsets and strides.
func typeSize(id uint32, types map[uint32]spirvType, constants map[uint32]uint32, decorations map[uint32]*spirvDecorations) uint32 {
	t, ok := types[id]
	if !ok {
		return 0
	}
	switch t.op {
	case opTypeBool:
		return 4
	case opTypeInt, opTypeFloat:
		if len(t.words) > 0 {
			return t.words[0] / 8
		}
	case opTypeVector:
		if len(t.words) > 1 {
			return typeSize(t.words[0], types, constants, decorations) * t.words[1]
		}
	case opTypeMatrix:
		if len(t.words) > 1 {
			return typeSize(t.words[0], types, constants, decorations) * t.words[1]
		}
	case opTypeArray:
		if len(t.words) > 1 {
			stride := uint32(0)
			if d := decorations[id]; d != nil {
				stride = d.arrayStride
			}
			if stride == 0 {
				stride = typeSize(t.words[0], types, constants, decorations)
			}
			return stride * constants[t.words[1]]
		}
	case opTypeStruct:
		d := decorations[id]
		var size uint32
		for i, member := range t.words {
			var offset uint32
			if d != nil {
				offset = d.memberOffsets[uint32(i)]
			}
			msize := typeSize(member, types, constants, decorations)
			if types[member].op == opTypeMatrix && d != nil && d.matrixStride > 0 {
				msize = d.matrixStride * types[member].words[1]
			}
			if end := offset + msize; end > size {
				size = end
			}
		}
		return size
	}
	return 0
}

// literalString decodes a nul terminated SPIR-V string literal.
func literalString(words []uint32) string {
	var b []byte
	for _, w := range words {
		for i := 0; i < 4; i++ {
			c := byte(w >> (8 * i))
			if c == 0 {
				return string(b)
			}
			b = append(b, c)
		}
	}
	return string(b)
}
