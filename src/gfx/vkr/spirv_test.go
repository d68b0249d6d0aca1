// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	vk "github.com/devblok/vulkan"
	qt "github.com/frankban/quicktest"
)

func TestReflectBindings(t *testing.T) {
	c := qt.New(t)

	m := newSPIRV(execCompute).
		sampler(2).
		constantBuffer(1).
		texture(0).
		rwTexture(4).
		structuredBuffer(5).
		rwBuffer(1)
	r, err := reflect(m.bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(r.Entry, qt.Equals, "main")
	c.Assert(r.PushConstant, qt.Equals, uint32(0))
	c.Assert(r.Bindings, qt.DeepEquals, []reflectedBinding{
		{Binding: shiftB + 1, Type: vk.DescriptorTypeUniformBuffer, Count: 1, ViewType: vk.ImageViewType2d},
		{Binding: shiftT, Type: vk.DescriptorTypeSampledImage, Count: 1, ViewType: vk.ImageViewType2d},
		{Binding: shiftT + 5, Type: vk.DescriptorTypeStorageBuffer, Count: 1, ViewType: vk.ImageViewType2d},
		{Binding: shiftU + 1, Type: vk.DescriptorTypeStorageBuffer, Count: 1, ViewType: vk.ImageViewType2d},
		{Binding: shiftU + 4, Type: vk.DescriptorTypeStorageImage, Count: 1, ViewType: vk.ImageViewType2d},
		{Binding: shiftS + 2, Type: vk.DescriptorTypeSampler, Count: 1, ViewType: vk.ImageViewType2d},
	})
}

func TestReflectViewTypes(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		dim     uint32
		arrayed uint32
		want    vk.ImageViewType
	}{
		{dim1D, 0, vk.ImageViewType1d},
		{dim1D, 1, vk.ImageViewType1dArray},
		{dim2D, 1, vk.ImageViewType2dArray},
		{dim3D, 0, vk.ImageViewType3d},
		{dimCube, 0, vk.ImageViewTypeCube},
		{dimCube, 1, vk.ImageViewTypeCubeArray},
	}
	for _, test := range tests {
		m := newSPIRV(execFragment)
		m.variable(m.image(test.dim, test.arrayed, 1), storageUniformConstant, 0, shiftT)
		r, err := reflect(m.bytes())
		c.Assert(err, qt.IsNil)
		c.Assert(r.Bindings, qt.HasLen, 1)
		c.Assert(r.Bindings[0].ViewType, qt.Equals, test.want, qt.Commentf("dim %d arrayed %d", test.dim, test.arrayed))
	}
}

func TestReflectTexelBuffers(t *testing.T) {
	c := qt.New(t)

	m := newSPIRV(execCompute)
	m.variable(m.image(dimBuffer, 0, 1), storageUniformConstant, 0, shiftT)
	m.variable(m.image(dimBuffer, 0, 2), storageUniformConstant, 0, shiftU)
	r, err := reflect(m.bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(r.Bindings, qt.HasLen, 2)
	c.Assert(r.Bindings[0].Type, qt.Equals, vk.DescriptorTypeUniformTexelBuffer)
	c.Assert(r.Bindings[1].Type, qt.Equals, vk.DescriptorTypeStorageTexelBuffer)
}

func TestReflectArrays(t *testing.T) {
	c := qt.New(t)

	m := newSPIRV(execFragment)
	u32 := m.id()
	m.op(opTypeInt, u32, 32, 0)
	four := m.id()
	m.op(opConstant, u32, four, 4)
	arr := m.id()
	m.op(opTypeArray, arr, m.image(dim2D, 0, 1), four)
	m.variable(arr, storageUniformConstant, 0, shiftT+2)
	m.bindlessTextures(3)

	r, err := reflect(m.bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(r.Bindings, qt.HasLen, 2)
	c.Assert(r.Bindings[0].Count, qt.Equals, uint32(4))
	c.Assert(r.Bindings[1].Set, qt.Equals, uint32(3))
	c.Assert(r.Bindings[1].Count, qt.Equals, uint32(0))
}

func TestReflectPushConstants(t *testing.T) {
	c := qt.New(t)

	r, err := reflect(newSPIRV(execVertex).pushConstants(6).bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(r.PushConstant, qt.Equals, uint32(24))
	c.Assert(r.Bindings, qt.HasLen, 0)
}

func TestReflectAccelerationStructure(t *testing.T) {
	c := qt.New(t)

	r, err := reflect(newSPIRV(execCompute).accelerationStructure(7).bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(r.Bindings, qt.HasLen, 1)
	c.Assert(r.Bindings[0].Binding, qt.Equals, uint32(shiftT+7))
	c.Assert(r.Bindings[0].Type, qt.Equals, descriptorTypeAccelerationStructure)
}

func TestReflectCombinedImageSampler(t *testing.T) {
	c := qt.New(t)

	r, err := reflect(newSPIRV(execFragment).combinedTexture(3).bytes())
	c.Assert(err, qt.IsNil)
	c.Assert(r.Bindings, qt.HasLen, 1)
	c.Assert(r.Bindings[0].Binding, qt.Equals, uint32(shiftT+3))
	c.Assert(r.Bindings[0].Type, qt.Equals, vk.DescriptorTypeCombinedImageSampler)
}

func TestReflectInvalid(t *testing.T) {
	c := qt.New(t)

	_, err := reflect([]byte{1, 2, 3})
	c.Assert(err, qt.ErrorIs, ErrInvalidSPIRV)

	code := newSPIRV(execCompute).bytes()
	code[0] = 0
	_, err = reflect(code)
	c.Assert(err, qt.ErrorIs, ErrInvalidSPIRV)

	code = newSPIRV(execCompute).texture(0).bytes()
	_, err = reflect(code[:len(code)-4])
	c.Assert(err, qt.ErrorIs, ErrInvalidSPIRV)
}
