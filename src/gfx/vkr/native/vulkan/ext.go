// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import vk "github.com/devblok/vulkan"

// Extension values the device may pass through that the binding does not
// carry. They are filtered out before reaching the driver.
const (
	resultOutOfPoolMemory = vk.Result(-1000069000)

	descriptorTypeAccelerationStructure = vk.DescriptorType(1000150000)
	pipelineBindPointRayTracing         = vk.PipelineBindPoint(1000165000)
	dynamicStateFragmentShadingRate     = vk.DynamicState(1000226000)
	imageLayoutShadingRate              = vk.ImageLayout(1000164003)

	accessAccelerationStructureRead  = vk.AccessFlagBits(0x200000)
	accessAccelerationStructureWrite = vk.AccessFlagBits(0x400000)
	accessConditionalRenderingRead   = vk.AccessFlagBits(0x100000)

	stageAccelerationStructureBuild = vk.PipelineStageFlagBits(0x2000000)
	stageRayTracingShader           = vk.PipelineStageFlagBits(0x200000)
	stageConditionalRendering       = vk.PipelineStageFlagBits(0x40000)
	stageTaskShader                 = vk.PipelineStageFlagBits(0x80000)
	stageMeshShader                 = vk.PipelineStageFlagBits(0x100000)
)
