// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import glm "github.com/go-gl/mathgl/mgl32"

// InstanceTransform converts a column major affine matrix into the row
// major 3x4 layout of a top level instance.
func InstanceTransform(m glm.Mat4) [3][4]float32 {
	var t [3][4]float32
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			t[row][col] = m.At(row, col)
		}
	}
	return t
}

// IdentityTransform is the transform of an untransformed instance.
func IdentityTransform() [3][4]float32 {
	return InstanceTransform(glm.Ident4())
}
