// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import vk "github.com/devblok/vulkan"

// Extension enums the binding does not carry.
const (
	descriptorTypeAccelerationStructure = vk.DescriptorType(1000150000)
	pipelineBindPointRayTracing         = vk.PipelineBindPoint(1000165000)
	dynamicStateFragmentShadingRate     = vk.DynamicState(1000226000)
	imageLayoutShadingRate              = vk.ImageLayout(1000164003)
	imageUsageShadingRate               = vk.ImageUsageFlagBits(0x100)

	accessAccelerationStructureRead  = vk.AccessFlagBits(0x200000)
	accessAccelerationStructureWrite = vk.AccessFlagBits(0x400000)
	accessConditionalRenderingRead   = vk.AccessFlagBits(0x100000)

	stageAccelerationStructureBuild = vk.PipelineStageFlagBits(0x2000000)
	stageRayTracingShader           = vk.PipelineStageFlagBits(0x200000)
	stageConditionalRendering       = vk.PipelineStageFlagBits(0x40000)
	stageTaskShader                 = vk.PipelineStageFlagBits(0x80000)
	stageMeshShader                 = vk.PipelineStageFlagBits(0x100000)

	shaderStageRaygen       = vk.ShaderStageFlagBits(0x100)
	shaderStageAnyHit       = vk.ShaderStageFlagBits(0x200)
	shaderStageClosestHit   = vk.ShaderStageFlagBits(0x400)
	shaderStageMiss         = vk.ShaderStageFlagBits(0x800)
	shaderStageIntersection = vk.ShaderStageFlagBits(0x1000)
	shaderStageTask         = vk.ShaderStageFlagBits(0x40)
	shaderStageMesh         = vk.ShaderStageFlagBits(0x80)

	shaderStageRayTracing = shaderStageRaygen | shaderStageAnyHit | shaderStageClosestHit |
		shaderStageMiss | shaderStageIntersection

	bufferUsageDeviceAddress                = vk.BufferUsageFlagBits(0x20000)
	bufferUsageConditionalRendering         = vk.BufferUsageFlagBits(0x200)
	bufferUsageShaderBindingTable           = vk.BufferUsageFlagBits(0x400)
	bufferUsageAccelerationStructureInput   = vk.BufferUsageFlagBits(0x80000)
	bufferUsageAccelerationStructureStorage = vk.BufferUsageFlagBits(0x100000)

	colorSpaceHDR10ST2084       = vk.ColorSpace(1000104008)
	colorSpaceExtendedLinear    = vk.ColorSpace(1000104002)
	remainingMipLevels          = ^uint32(0)
	remainingArrayLayers        = ^uint32(0)
	queryResultWithAvailability = vk.QueryResultFlags(vk.QueryResultWithAvailabilityBit)
)
