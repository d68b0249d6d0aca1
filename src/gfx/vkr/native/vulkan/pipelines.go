// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

func (d *Device) createPipelineCache(initial []byte) error {
	pcci := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if len(initial) > 0 {
		pcci.InitialDataSize = uint(len(initial))
		pcci.PInitialData = unsafe.Pointer(&initial[0])
	}
	var cache vk.PipelineCache
	if err := vk.Error(vk.CreatePipelineCache(d.device, &pcci, nil, &cache)); err != nil {
		if len(initial) == 0 {
			return errors.Wrap(err, "vk.CreatePipelineCache()")
		}
		// A cache from another driver version is rejected, start empty.
		d.log.WithError(err).Warn("Pipeline cache data rejected")
		return d.createPipelineCache(nil)
	}
	d.pipelineCache = cache
	return nil
}

// PipelineCacheData implements native.Device.
func (d *Device) PipelineCacheData() ([]byte, error) {
	var size uint
	if err := vk.Error(vk.GetPipelineCacheData(d.device, d.pipelineCache, &size, nil)); err != nil {
		return nil, errors.Wrap(err, "vk.GetPipelineCacheData()")
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if err := vk.Error(vk.GetPipelineCacheData(d.device, d.pipelineCache, &size, unsafe.Pointer(&data[0]))); err != nil {
		return nil, errors.Wrap(err, "vk.GetPipelineCacheData()")
	}
	return data[:size], nil
}

func (d *Device) setLayoutOf(h native.Handle) vk.DescriptorSetLayout {
	l, _ := d.get(h).(vk.DescriptorSetLayout)
	return l
}

func (d *Device) pipelineLayoutOf(h native.Handle) vk.PipelineLayout {
	l, _ := d.get(h).(vk.PipelineLayout)
	return l
}

func (d *Device) pipelineOf(h native.Handle) vk.Pipeline {
	p, _ := d.get(h).(vk.Pipeline)
	return p
}

func (d *Device) shaderModuleOf(h native.Handle) vk.ShaderModule {
	m, _ := d.get(h).(vk.ShaderModule)
	return m
}

// CreateSetLayout implements native.Device.
func (d *Device) CreateSetLayout(info *native.SetLayoutInfo) (native.Handle, error) {
	if info.Bindless {
		return native.Null, errors.Wrap(native.ErrUnsupported, "bindless descriptor set layout")
	}
	bindings := make([]vk.DescriptorSetLayoutBinding, len(info.Bindings))
	for i, b := range info.Bindings {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  b.Type,
			DescriptorCount: b.Count,
			StageFlags:      b.Stages,
		}
		if len(b.ImmutableSamplers) > 0 {
			samplers := make([]vk.Sampler, len(b.ImmutableSamplers))
			for j, s := range b.ImmutableSamplers {
				if samplers[j] = d.samplerOf(s); samplers[j] == nil {
					return native.Null, errors.Wrapf(native.ErrInvalidHandle, "immutable sampler %d", s)
				}
			}
			bindings[i].PImmutableSamplers = samplers
		}
	}
	dslci := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(d.device, &dslci, nil, &layout)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateDescriptorSetLayout()")
	}
	return d.add(native.KindSetLayout, layout), nil
}

// CreatePipelineLayout implements native.Device.
func (d *Device) CreatePipelineLayout(info *native.PipelineLayoutInfo) (native.Handle, error) {
	layouts := make([]vk.DescriptorSetLayout, len(info.SetLayouts))
	for i, h := range info.SetLayouts {
		if layouts[i] = d.setLayoutOf(h); layouts[i] == nil {
			return native.Null, errors.Wrapf(native.ErrInvalidHandle, "set layout %d", h)
		}
	}
	ranges := make([]vk.PushConstantRange, len(info.PushConstants))
	for i, r := range info.PushConstants {
		ranges[i] = vk.PushConstantRange{
			StageFlags: r.Stages,
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	plci := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(layouts)),
		PSetLayouts:            layouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	var layout vk.PipelineLayout
	if err := vk.Error(vk.CreatePipelineLayout(d.device, &plci, nil, &layout)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreatePipelineLayout()")
	}
	return d.add(native.KindPipelineLayout, layout), nil
}

func (d *Device) stageInfo(s *native.ShaderStageInfo) (vk.PipelineShaderStageCreateInfo, error) {
	module := d.shaderModuleOf(s.Module)
	if module == nil {
		return vk.PipelineShaderStageCreateInfo{}, errors.Wrapf(native.ErrInvalidHandle, "shader module %d", s.Module)
	}
	entry := s.Entry
	if entry == "" {
		entry = "main"
	}
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  s.Stage,
		Module: module,
		PName:  cstr(entry),
	}, nil
}

func stencilOp(s *native.StencilOpState) vk.StencilOpState {
	return vk.StencilOpState{
		FailOp:      s.FailOp,
		PassOp:      s.PassOp,
		DepthFailOp: s.DepthFailOp,
		CompareOp:   s.CompareOp,
		CompareMask: s.CompareMask,
		WriteMask:   s.WriteMask,
		Reference:   s.Reference,
	}
}

// CreateGraphicsPipeline implements native.Device. Viewports and
// scissors are always dynamic.
func (d *Device) CreateGraphicsPipeline(info *native.GraphicsPipelineInfo) (native.Handle, error) {
	layout := d.pipelineLayoutOf(info.Layout)
	if layout == nil {
		return native.Null, errors.Wrapf(native.ErrInvalidHandle, "pipeline layout %d", info.Layout)
	}
	pass := d.renderPassOf(info.RenderPass)
	if pass == nil {
		return native.Null, errors.Wrapf(native.ErrInvalidHandle, "render pass %d", info.RenderPass)
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, len(info.Stages))
	for i := range info.Stages {
		var err error
		if stages[i], err = d.stageInfo(&info.Stages[i]); err != nil {
			return native.Null, err
		}
	}

	bindings := make([]vk.VertexInputBindingDescription, len(info.VertexBindings))
	for i, b := range info.VertexBindings {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: b.InputRate,
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(info.VertexAttributes))
	for i, a := range info.VertexAttributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   a.Format,
			Offset:   a.Offset,
		}
	}

	blend := make([]vk.PipelineColorBlendAttachmentState, len(info.Blend))
	for i, b := range info.Blend {
		blend[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         bool32(b.BlendEnable),
			SrcColorBlendFactor: b.SrcColorBlendFactor,
			DstColorBlendFactor: b.DstColorBlendFactor,
			ColorBlendOp:        b.ColorBlendOp,
			SrcAlphaBlendFactor: b.SrcAlphaBlendFactor,
			DstAlphaBlendFactor: b.DstAlphaBlendFactor,
			AlphaBlendOp:        b.AlphaBlendOp,
			ColorWriteMask:      b.ColorWriteMask,
		}
	}

	var dynamic []vk.DynamicState
	for _, s := range info.DynamicStates {
		if s == dynamicStateFragmentShadingRate {
			continue
		}
		dynamic = append(dynamic, s)
	}

	samples := info.Samples
	if samples == 0 {
		samples = vk.SampleCount1Bit
	}
	multisample := &vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples:  samples,
		AlphaToCoverageEnable: bool32(info.AlphaToCoverage),
	}
	if info.SampleMask != 0 && info.SampleMask != ^uint32(0) {
		multisample.PSampleMask = []vk.SampleMask{vk.SampleMask(info.SampleMask)}
	}

	r := &info.Raster
	lineWidth := r.LineWidth
	if lineWidth == 0 {
		lineWidth = 1
	}
	ds := &info.DepthStencil
	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
			VertexAttributeDescriptionCount: uint32(len(attributes)),
			PVertexAttributeDescriptions:    attributes,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: info.Topology,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: d.viewports,
			ScissorCount:  d.viewports,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
			DepthClampEnable:        bool32(r.DepthClampEnable),
			PolygonMode:             r.PolygonMode,
			CullMode:                r.CullMode,
			FrontFace:               r.FrontFace,
			DepthBiasEnable:         bool32(r.DepthBiasEnable),
			DepthBiasConstantFactor: r.DepthBiasConstantFactor,
			DepthBiasClamp:          r.DepthBiasClamp,
			DepthBiasSlopeFactor:    r.DepthBiasSlopeFactor,
			LineWidth:               lineWidth,
		},
		PMultisampleState: multisample,
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       bool32(ds.DepthTestEnable),
			DepthWriteEnable:      bool32(ds.DepthWriteEnable),
			DepthCompareOp:        ds.DepthCompareOp,
			DepthBoundsTestEnable: bool32(ds.DepthBoundsTestEnable && d.props.Features.DepthBounds),
			StencilTestEnable:     bool32(ds.StencilTestEnable),
			Front:                 stencilOp(&ds.Front),
			Back:                  stencilOp(&ds.Back),
			MinDepthBounds:        ds.MinDepthBounds,
			MaxDepthBounds:        ds.MaxDepthBounds,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: uint32(len(blend)),
			PAttachments:    blend,
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamic)),
			PDynamicStates:    dynamic,
		},
		Layout:     layout,
		RenderPass: pass.pass,
	}}
	if info.PatchControlPoints > 0 {
		gpci[0].PTessellationState = &vk.PipelineTessellationStateCreateInfo{
			SType:              vk.StructureTypePipelineTessellationStateCreateInfo,
			PatchControlPoints: info.PatchControlPoints,
		}
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := vk.Error(vk.CreateGraphicsPipelines(d.device, d.pipelineCache, 1, gpci, nil, pipelines)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateGraphicsPipelines()")
	}
	return d.add(native.KindPipeline, pipelines[0]), nil
}

// CreateComputePipeline implements native.Device.
func (d *Device) CreateComputePipeline(info *native.ComputePipelineInfo) (native.Handle, error) {
	layout := d.pipelineLayoutOf(info.Layout)
	if layout == nil {
		return native.Null, errors.Wrapf(native.ErrInvalidHandle, "pipeline layout %d", info.Layout)
	}
	stage, err := d.stageInfo(&info.Stage)
	if err != nil {
		return native.Null, err
	}
	cpci := []vk.ComputePipelineCreateInfo{{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stage,
		Layout: layout,
	}}
	pipelines := make([]vk.Pipeline, 1)
	if err := vk.Error(vk.CreateComputePipelines(d.device, d.pipelineCache, 1, cpci, nil, pipelines)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateComputePipelines()")
	}
	return d.add(native.KindPipeline, pipelines[0]), nil
}

// CreateRaytracingPipeline implements native.Device.
func (d *Device) CreateRaytracingPipeline(info *native.RaytracingPipelineInfo) (native.Handle, error) {
	return native.Null, errors.Wrap(native.ErrUnsupported, "ray tracing pipelines")
}

// ShaderGroupHandles implements native.Device.
func (d *Device) ShaderGroupHandles(pipeline native.Handle, first, count uint32, dst []byte) error {
	return errors.Wrap(native.ErrUnsupported, "ray tracing pipelines")
}

// renderPass remembers which attachment takes a depth clear value.
type renderPass struct {
	pass  vk.RenderPass
	depth []bool
}

func (d *Device) renderPassOf(h native.Handle) *renderPass {
	rp, _ := d.get(h).(*renderPass)
	return rp
}

// CreateRenderPass implements native.Device. The single subpass depends
// on everything before and after it.
func (d *Device) CreateRenderPass(info *native.RenderPassInfo) (native.Handle, error) {
	attachments := make([]vk.AttachmentDescription, len(info.Attachments))
	for i, a := range info.Attachments {
		samples := a.Samples
		if samples == 0 {
			samples = vk.SampleCount1Bit
		}
		attachments[i] = vk.AttachmentDescription{
			Format:         a.Format,
			Samples:        samples,
			LoadOp:         a.LoadOp,
			StoreOp:        a.StoreOp,
			StencilLoadOp:  a.StencilLoadOp,
			StencilStoreOp: a.StencilStoreOp,
			InitialLayout:  a.InitialLayout,
			FinalLayout:    a.FinalLayout,
		}
	}
	refs := func(in []native.AttachmentRef) []vk.AttachmentReference {
		if len(in) == 0 {
			return nil
		}
		out := make([]vk.AttachmentReference, len(in))
		for i, r := range in {
			out[i] = vk.AttachmentReference{Attachment: r.Attachment, Layout: r.Layout}
		}
		return out
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(info.Color)),
		PColorAttachments:    refs(info.Color),
	}
	if len(info.Resolve) > 0 {
		subpass.PResolveAttachments = refs(info.Resolve)
	}
	if info.DepthStencil != nil {
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: info.DepthStencil.Attachment,
			Layout:     info.DepthStencil.Layout,
		}
	}
	if info.ShadingRate != nil {
		d.log.Debug("Shading rate attachment ignored")
	}

	stages := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	access := vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit)
	dependencies := []vk.SubpassDependency{{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		DstStageMask:  stages,
		SrcAccessMask: access,
		DstAccessMask: access,
	}, {
		SrcSubpass:    0,
		DstSubpass:    vk.SubpassExternal,
		SrcStageMask:  stages,
		DstStageMask:  stages,
		SrcAccessMask: access,
		DstAccessMask: access,
	}}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}
	rp := &renderPass{depth: make([]bool, len(attachments))}
	if info.DepthStencil != nil && int(info.DepthStencil.Attachment) < len(rp.depth) {
		rp.depth[info.DepthStencil.Attachment] = true
	}
	if err := vk.Error(vk.CreateRenderPass(d.device, &rpci, nil, &rp.pass)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateRenderPass()")
	}
	return d.add(native.KindRenderPass, rp), nil
}

// CreateFramebuffer implements native.Device.
func (d *Device) CreateFramebuffer(info *native.FramebufferInfo) (native.Handle, error) {
	pass := d.renderPassOf(info.RenderPass)
	if pass == nil {
		return native.Null, errors.Wrapf(native.ErrInvalidHandle, "render pass %d", info.RenderPass)
	}
	views := make([]vk.ImageView, len(info.Attachments))
	for i, h := range info.Attachments {
		if views[i] = d.viewOf(h); views[i] == nil {
			return native.Null, errors.Wrapf(native.ErrInvalidHandle, "attachment view %d", h)
		}
	}
	fci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           info.Width,
		Height:          info.Height,
		Layers:          max(info.Layers, 1),
	}
	var framebuffer vk.Framebuffer
	if err := vk.Error(vk.CreateFramebuffer(d.device, &fci, nil, &framebuffer)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateFramebuffer()")
	}
	return d.add(native.KindFramebuffer, framebuffer), nil
}
