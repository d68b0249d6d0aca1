// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

// GPUResource is the common part of resources living in GPU memory.
// Copies of a GPUResource share the same Internal state.
type GPUResource struct {
	DeviceChild

	Type GPUResourceType

	// Mapped is the persistently mapped memory of upload and
	// readback resources, nil otherwise.
	Mapped         []byte
	MappedRowPitch uint32
}

// IsBuffer reports whether the resource is a buffer.
func (r *GPUResource) IsBuffer() bool { return r.Type == ResourceBuffer }

// IsTexture reports whether the resource is a texture.
func (r *GPUResource) IsTexture() bool { return r.Type == ResourceTexture }

// IsAccelerationStructure reports whether the resource is an acceleration structure.
func (r *GPUResource) IsAccelerationStructure() bool {
	return r.Type == ResourceAccelerationStructure
}

// GPUBuffer is a linear GPU allocation.
type GPUBuffer struct {
	GPUResource
	Desc BufferDesc
}

// Texture is an image resource.
type Texture struct {
	GPUResource
	Desc TextureDesc
}

// Sampler is a sampler state object.
type Sampler struct {
	DeviceChild
	Desc SamplerDesc
}

// Shader is a compiled shader module with its reflected layout.
type Shader struct {
	DeviceChild
	Stage ShaderStage
}

// PipelineState is a graphics pipeline description with a resolved layout.
type PipelineState struct {
	DeviceChild
	Desc PipelineStateDesc
	Hash uint64
}

// RenderPass is a set of attachments rendered together.
type RenderPass struct {
	DeviceChild
	Desc RenderPassDesc
	Hash uint64
}

// QueryHeap is a pool of GPU queries.
type QueryHeap struct {
	DeviceChild
	Desc QueryHeapDesc
}

// AccelerationStructure is a ray tracing bounding volume hierarchy.
type AccelerationStructure struct {
	GPUResource
	Desc AccelerationStructureDesc
	Size uint64
}

// RaytracingPipelineState is a ray tracing pipeline.
type RaytracingPipelineState struct {
	DeviceChild
	Desc RaytracingPipelineStateDesc
}

// SwapChain is a presentable set of back buffers.
type SwapChain struct {
	DeviceChild
	Desc SwapChainDesc
}

// CommandList identifies one command list slot of the current frame.
type CommandList uint32
