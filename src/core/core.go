// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package core holds the engine services that sit around the graphics
// device: configuration, frame pacing, shader libraries and the
// persisted pipeline cache.
package core

import (
	"github.com/devblok/korugfx/src/gfx"
)

// ShaderCreator creates shaders from SPIR-V bytecode. *vkr.Device is one.
type ShaderCreator interface {
	CreateShader(stage gfx.ShaderStage, bytecode []byte) (gfx.Shader, error)
}

// PipelineCacheSource provides the serialized driver pipeline cache.
// *vkr.Device is one.
type PipelineCacheSource interface {
	PipelineCacheData() ([]byte, error)
}
