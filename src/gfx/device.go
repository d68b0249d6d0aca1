// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

// PredicationOp selects when predicated commands are skipped.
type PredicationOp int

// Predication operations.
const (
	PredicationEqualZero PredicationOp = iota
	PredicationNotEqualZero
)

// Device creates GPU resources and records command lists. Creation calls
// are safe for concurrent use. Recording calls on distinct command lists
// may run concurrently; a single command list belongs to one goroutine
// between BeginCommandList and SubmitCommandLists.
//
// Recording calls do not return errors. The first failure on a command
// list is kept and returned by SubmitCommandLists.
type Device interface {
	Releasable

	CreateSwapChain(desc *SwapChainDesc, surface interface{}, previous *SwapChain) (SwapChain, error)
	CreateBuffer(desc *BufferDesc, initData []byte) (GPUBuffer, error)
	CreateTexture(desc *TextureDesc, initData []SubresourceData) (Texture, error)
	CreateShader(stage ShaderStage, bytecode []byte) (Shader, error)
	CreateSampler(desc *SamplerDesc) (Sampler, error)
	CreateQueryHeap(desc *QueryHeapDesc) (QueryHeap, error)
	CreatePipelineState(desc *PipelineStateDesc) (PipelineState, error)
	CreateRenderPass(desc *RenderPassDesc) (RenderPass, error)
	CreateAccelerationStructure(desc *AccelerationStructureDesc) (AccelerationStructure, error)
	CreateRaytracingPipelineState(desc *RaytracingPipelineStateDesc) (RaytracingPipelineState, error)

	CreateSubresource(tex *Texture, typ SubresourceType, firstSlice, sliceCount, firstMip, mipCount uint32) (int, error)
	CreateBufferSubresource(buf *GPUBuffer, typ SubresourceType, offset, size uint64) (int, error)

	GetDescriptorIndex(res *GPUResource, typ SubresourceType, subresource int) int
	GetSamplerDescriptorIndex(sampler *Sampler) int
	WriteShadingRateValue(rate ShadingRate, dst []byte)
	WriteTopLevelInstance(instance *TopLevelInstance, dst []byte)
	WriteShaderIdentifier(rtpso *RaytracingPipelineState, group uint32, dst []byte) error
	SetCommonSampler(sampler *StaticSampler)
	SetName(res *GPUResource, name string)

	Capabilities() Capability
	CheckCapability(c Capability) bool
	FrameCount() uint64
	BufferCount() uint32
	TimestampFrequency() uint64
	ShaderIdentifierSize() uint32
	TopLevelInstanceSize() uint32
	GetBackBuffer(swapchain *SwapChain) Texture

	BeginCommandList(queue QueueType) (CommandList, error)
	WaitCommandList(cmd, waitFor CommandList) error
	SubmitCommandLists() error
	WaitForGPU() error
	ClearPipelineStateCache()

	RenderPassBeginSwapChain(cmd CommandList, swapchain *SwapChain)
	RenderPassBegin(cmd CommandList, pass *RenderPass)
	RenderPassEnd(cmd CommandList)
	BindScissorRects(cmd CommandList, rects []Rect)
	BindViewports(cmd CommandList, viewports []Viewport)
	BindResource(cmd CommandList, res *GPUResource, slot uint32, subresource int)
	BindUAV(cmd CommandList, res *GPUResource, slot uint32, subresource int)
	BindSampler(cmd CommandList, sampler *Sampler, slot uint32)
	BindConstantBuffer(cmd CommandList, buf *GPUBuffer, slot uint32, offset uint64)
	BindVertexBuffers(cmd CommandList, slot uint32, buffers []*GPUBuffer, strides []uint32, offsets []uint64)
	BindIndexBuffer(cmd CommandList, buf *GPUBuffer, format IndexBufferFormat, offset uint64)
	BindStencilRef(cmd CommandList, ref uint32)
	BindBlendFactor(cmd CommandList, r, g, b, a float32)
	BindShadingRate(cmd CommandList, rate ShadingRate)
	BindPipelineState(cmd CommandList, pso *PipelineState)
	BindComputeShader(cmd CommandList, cs *Shader)
	BindRaytracingPipelineState(cmd CommandList, rtpso *RaytracingPipelineState)

	Draw(cmd CommandList, vertexCount, startVertex uint32)
	DrawIndexed(cmd CommandList, indexCount, startIndex uint32, baseVertex int32)
	DrawInstanced(cmd CommandList, vertexCount, instanceCount, startVertex, startInstance uint32)
	DrawIndexedInstanced(cmd CommandList, indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
	DrawInstancedIndirect(cmd CommandList, args *GPUBuffer, offset uint64)
	DrawIndexedInstancedIndirect(cmd CommandList, args *GPUBuffer, offset uint64)
	Dispatch(cmd CommandList, x, y, z uint32)
	DispatchIndirect(cmd CommandList, args *GPUBuffer, offset uint64)
	DispatchMesh(cmd CommandList, x, y, z uint32)
	DispatchMeshIndirect(cmd CommandList, args *GPUBuffer, offset uint64)
	DispatchRays(cmd CommandList, desc *DispatchRaysDesc)
	PushConstants(cmd CommandList, data []byte)

	CopyResource(cmd CommandList, dst, src *GPUResource)
	CopyBuffer(cmd CommandList, dst *GPUBuffer, dstOffset uint64, src *GPUBuffer, srcOffset, size uint64)
	UpdateBuffer(cmd CommandList, buf *GPUBuffer, data []byte, offset uint64)
	Barrier(cmd CommandList, barriers ...GPUBarrier)
	BuildAccelerationStructure(cmd CommandList, dst, src *AccelerationStructure)

	QueryBegin(cmd CommandList, heap *QueryHeap, index uint32)
	QueryEnd(cmd CommandList, heap *QueryHeap, index uint32)
	QueryResolve(cmd CommandList, heap *QueryHeap, index, count uint32, dst *GPUBuffer, dstOffset uint64)
	QueryReset(cmd CommandList, heap *QueryHeap, index, count uint32)

	PredicationBegin(cmd CommandList, buf *GPUBuffer, offset uint64, op PredicationOp)
	PredicationEnd(cmd CommandList)

	EventBegin(cmd CommandList, name string)
	EventEnd(cmd CommandList)
	SetMarker(cmd CommandList, name string)
}
