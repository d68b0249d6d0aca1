// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

// topLevelInstanceSize is the size of one packed instance record.
const topLevelInstanceSize = 64

const defaultAABBStride = 24

func convertBuildFlags(f gfx.AccelerationStructureFlags) native.BuildFlags {
	var flags native.BuildFlags
	if f&gfx.ASAllowUpdate != 0 {
		flags |= native.BuildAllowUpdate
	}
	if f&gfx.ASAllowCompaction != 0 {
		flags |= native.BuildAllowCompaction
	}
	if f&gfx.ASPreferFastTrace != 0 {
		flags |= native.BuildPreferFastTrace
	}
	if f&gfx.ASPreferFastBuild != 0 {
		flags |= native.BuildPreferFastBuild
	}
	if f&gfx.ASMinimizeMemory != 0 {
		flags |= native.BuildLowMemory
	}
	return flags
}

func convertGeometryFlags(f gfx.GeometryFlags) native.GeometryFlags {
	var flags native.GeometryFlags
	if f&gfx.GeometryOpaque != 0 {
		flags |= native.GeometryOpaque
	}
	if f&gfx.GeometryNoDuplicateAnyHit != 0 {
		flags |= native.GeometryNoDuplicateAnyHit
	}
	return flags
}

func bufferAddress(buf *gfx.GPUBuffer) (uint64, error) {
	if buf == nil {
		return 0, nil
	}
	s := resourceOf(&buf.GPUResource)
	if s == nil {
		return 0, errors.Wrap(gfx.ErrReleased, "acceleration structure input")
	}
	return s.address, nil
}

// buildInfo reads the build input of an acceleration structure from its
// description.
func buildInfo(desc *gfx.AccelerationStructureDesc) (native.AccelerationStructureBuildInfo, error) {
	info := native.AccelerationStructureBuildInfo{
		TopLevel: desc.Type == gfx.TopLevel,
		Flags:    convertBuildFlags(desc.Flags),
	}
	if info.TopLevel {
		addr, err := bufferAddress(desc.TopLevel.InstanceBuffer)
		if err != nil {
			return info, err
		}
		info.Geometries = []native.GeometryInfo{{
			Type:            native.GeometryInstances,
			InstanceAddress: addr + uint64(desc.TopLevel.Offset),
			PrimitiveCount:  desc.TopLevel.Count,
		}}
		return info, nil
	}

	for i := range desc.BottomLevel.Geometries {
		g := &desc.BottomLevel.Geometries[i]
		gi := native.GeometryInfo{Flags: convertGeometryFlags(g.Flags)}
		switch g.Type {
		case gfx.GeometryTriangles:
			t := &g.Triangles
			vb, err := bufferAddress(t.VertexBuffer)
			if err != nil {
				return info, err
			}
			ib, err := bufferAddress(t.IndexBuffer)
			if err != nil {
				return info, err
			}
			indexSize := uint64(2)
			if t.IndexFormat == gfx.IndexFormat32 {
				indexSize = 4
			}
			gi.Type = native.GeometryTriangles
			gi.VertexAddress = vb + t.VertexByteOffset
			gi.VertexStride = uint64(t.VertexStride)
			gi.VertexFormat = convertFormat(t.VertexFormat)
			gi.MaxVertex = t.VertexCount
			gi.IndexType = convertIndexFormat(t.IndexFormat)
			gi.IndexAddress = ib + uint64(t.IndexOffset)*indexSize
			gi.PrimitiveCount = t.IndexCount / 3
			if g.Flags&gfx.GeometryUseTransform != 0 {
				tr, err := bufferAddress(t.Transform3x4Buffer)
				if err != nil {
					return info, err
				}
				gi.TransformAddress = tr + uint64(t.Transform3x4BufferOffset)
			}
		case gfx.GeometryProceduralAABBs:
			a := &g.AABBs
			addr, err := bufferAddress(a.AABBBuffer)
			if err != nil {
				return info, err
			}
			gi.Type = native.GeometryAABBs
			gi.AABBAddress = addr + uint64(a.Offset)
			gi.AABBStride = uint64(a.Stride)
			if gi.AABBStride == 0 {
				gi.AABBStride = defaultAABBStride
			}
			gi.PrimitiveCount = a.Count
		}
		info.Geometries = append(info.Geometries, gi)
	}
	return info, nil
}

// CreateAccelerationStructure implements gfx.Device. The structure and
// its scratch memory share one buffer.
func (d *Device) CreateAccelerationStructure(desc *gfx.AccelerationStructureDesc) (gfx.AccelerationStructure, error) {
	if !d.CheckCapability(gfx.CapRaytracing) {
		return gfx.AccelerationStructure{}, errors.Wrap(gfx.ErrUnsupported, "ray tracing")
	}
	build, err := buildInfo(desc)
	if err != nil {
		return gfx.AccelerationStructure{}, err
	}
	sizes, err := d.drv.AccelerationStructureSizes(&build)
	if err != nil {
		return gfx.AccelerationStructure{}, errors.Wrap(err, "vk.GetAccelerationStructureBuildSizesKHR()")
	}
	scratch := sizes.BuildScratch
	if sizes.UpdateScratch > scratch {
		scratch = sizes.UpdateScratch
	}

	buf, err := d.drv.CreateBuffer(&native.BufferInfo{
		Size: sizes.Size + scratch,
		Usage: vk.BufferUsageFlags(bufferUsageAccelerationStructureStorage | bufferUsageDeviceAddress |
			vk.BufferUsageStorageBufferBit),
		Memory: native.MemoryGPU,
	})
	if err != nil {
		return gfx.AccelerationStructure{}, errors.Wrap(err, "vk.CreateBuffer()")
	}
	s := newResourceState(d, gfx.ResourceAccelerationStructure)
	s.buffer = buf
	s.size = sizes.Size + scratch
	s.address = d.drv.BufferAddress(buf)
	s.scratchAddress = s.address + sizes.Size
	s.build = build

	s.as, err = d.drv.CreateAccelerationStructure(&native.AccelerationStructureInfo{
		TopLevel: build.TopLevel,
		Buffer:   buf,
		Size:     sizes.Size,
	})
	if err != nil {
		s.Release()
		return gfx.AccelerationStructure{}, errors.Wrap(err, "vk.CreateAccelerationStructureKHR()")
	}

	if build.TopLevel {
		s.srv.bindless = BindlessAccelerationStructure
		s.srv.index, err = d.allocateBindless(BindlessAccelerationStructure, native.DescriptorWrite{
			AccelStructs: []native.Handle{s.as},
		}, true)
		if err != nil {
			s.Release()
			return gfx.AccelerationStructure{}, err
		}
	}

	as := gfx.AccelerationStructure{Desc: *desc, Size: sizes.Size}
	as.Type = gfx.ResourceAccelerationStructure
	as.Internal = s
	track(s)
	return as, nil
}

// BuildAccelerationStructure implements gfx.Device. With a source the
// structure is updated from it instead of built from scratch. Inputs are
// read from dst.Desc at record time.
func (d *Device) BuildAccelerationStructure(cmd gfx.CommandList, dst, src *gfx.AccelerationStructure) {
	l := d.list(cmd)
	if l == nil || !l.outsideRenderPass("BuildAccelerationStructure") {
		return
	}
	s := resourceOf(&dst.GPUResource)
	if s == nil || s.as == native.Null {
		l.fail(errors.Wrap(gfx.ErrReleased, "acceleration structure"))
		return
	}
	info, err := buildInfo(&dst.Desc)
	if err != nil {
		l.fail(err)
		return
	}
	info.Dst = s.as
	info.ScratchAddress = s.scratchAddress
	if src != nil {
		from := resourceOf(&src.GPUResource)
		if from == nil || from.as == native.Null {
			l.fail(errors.Wrap(gfx.ErrReleased, "acceleration structure update source"))
			return
		}
		info.Update = true
		info.Src = from.as
	}
	l.cb.BuildAccelerationStructure(&info)
}

func libraryStage(t gfx.ShaderLibraryType) vk.ShaderStageFlagBits {
	switch t {
	case gfx.LibraryMiss:
		return shaderStageMiss
	case gfx.LibraryClosestHit:
		return shaderStageClosestHit
	case gfx.LibraryAnyHit:
		return shaderStageAnyHit
	case gfx.LibraryIntersection:
		return shaderStageIntersection
	}
	return shaderStageRaygen
}

// CreateRaytracingPipelineState implements gfx.Device. The pipeline uses
// the layout of its first library shader.
func (d *Device) CreateRaytracingPipelineState(desc *gfx.RaytracingPipelineStateDesc) (gfx.RaytracingPipelineState, error) {
	if !d.CheckCapability(gfx.CapRaytracing) {
		return gfx.RaytracingPipelineState{}, errors.Wrap(gfx.ErrUnsupported, "ray tracing")
	}
	if len(desc.ShaderLibraries) == 0 {
		return gfx.RaytracingPipelineState{}, errors.Wrap(gfx.ErrInvalidDesc, "no shader libraries")
	}

	s := &rtPipelineState{groups: uint32(len(desc.HitGroups))}
	s.dev = d
	info := &native.RaytracingPipelineInfo{MaxRecursionDepth: desc.MaxRecursionDepth}
	for i, lib := range desc.ShaderLibraries {
		sh := shaderOf(lib.Shader)
		if sh == nil {
			return gfx.RaytracingPipelineState{}, errors.Wrapf(gfx.ErrReleased, "shader library %d", i)
		}
		if s.layout == nil {
			s.layout = sh.layout
		}
		entry := lib.FunctionName
		if entry == "" {
			entry = sh.entry
		}
		info.Stages = append(info.Stages, native.ShaderStageInfo{
			Stage:  libraryStage(lib.Type),
			Module: sh.module,
			Entry:  entry,
		})
	}
	if s.layout == nil {
		return gfx.RaytracingPipelineState{}, errors.Wrap(gfx.ErrInvalidDesc, "shader libraries must be LIB stage shaders")
	}
	info.Layout = s.layout.handle

	for _, g := range desc.HitGroups {
		gi := native.ShaderGroupInfo{
			General:      native.ShaderUnused,
			ClosestHit:   native.ShaderUnused,
			AnyHit:       native.ShaderUnused,
			Intersection: native.ShaderUnused,
		}
		switch g.Type {
		case gfx.HitGroupGeneral:
			gi.Type = native.ShaderGroupGeneral
			gi.General = g.GeneralShader
		case gfx.HitGroupTriangles:
			gi.Type = native.ShaderGroupTriangles
			gi.ClosestHit = g.ClosestHitShader
			gi.AnyHit = g.AnyHitShader
		case gfx.HitGroupProcedural:
			gi.Type = native.ShaderGroupProcedural
			gi.ClosestHit = g.ClosestHitShader
			gi.AnyHit = g.AnyHitShader
			gi.Intersection = g.IntersectionShader
		}
		info.Groups = append(info.Groups, gi)
	}

	var err error
	if s.pipeline, err = d.drv.CreateRaytracingPipeline(info); err != nil {
		return gfx.RaytracingPipelineState{}, errors.Wrap(err, "vk.CreateRayTracingPipelinesKHR()")
	}
	track(s)
	return gfx.RaytracingPipelineState{DeviceChild: gfx.DeviceChild{Internal: s}, Desc: *desc}, nil
}

// WriteShaderIdentifier implements gfx.Device.
func (d *Device) WriteShaderIdentifier(rtpso *gfx.RaytracingPipelineState, group uint32, dst []byte) error {
	s := rtPipelineOf(rtpso)
	if s == nil {
		return errors.Wrap(gfx.ErrReleased, "ray tracing pipeline")
	}
	if group >= s.groups {
		return errors.Wrapf(gfx.ErrInvalidDesc, "group %d of %d", group, s.groups)
	}
	size := d.ShaderIdentifierSize()
	if uint32(len(dst)) < size {
		return errors.Wrapf(gfx.ErrInvalidDesc, "identifier needs %d bytes, got %d", size, len(dst))
	}
	return errors.Wrap(d.drv.ShaderGroupHandles(s.pipeline, group, 1, dst[:size]), "vk.GetRayTracingShaderGroupHandlesKHR()")
}

// WriteTopLevelInstance implements gfx.Device. The record is a row major
// 3x4 transform followed by the packed id, mask, hit group offset, flags
// and the bottom level address.
func (d *Device) WriteTopLevelInstance(instance *gfx.TopLevelInstance, dst []byte) {
	if len(dst) < topLevelInstanceSize {
		return
	}
	off := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(instance.Transform[row][col]))
			off += 4
		}
	}
	binary.LittleEndian.PutUint32(dst[48:], instance.InstanceID&0xffffff|instance.InstanceMask<<24)

	var flags uint32
	if instance.Flags&gfx.InstanceTriangleCullDisable != 0 {
		flags |= 0x1
	}
	if instance.Flags&gfx.InstanceTriangleFrontCounterClockwise != 0 {
		flags |= 0x2
	}
	if instance.Flags&gfx.InstanceForceOpaque != 0 {
		flags |= 0x4
	}
	if instance.Flags&gfx.InstanceForceNonOpaque != 0 {
		flags |= 0x8
	}
	binary.LittleEndian.PutUint32(dst[52:], instance.HitGroupBase&0xffffff|flags<<24)

	var address uint64
	if instance.BottomLevel != nil {
		if s := resourceOf(&instance.BottomLevel.GPUResource); s != nil {
			address = d.drv.AccelerationStructureAddress(s.as)
		}
	}
	binary.LittleEndian.PutUint64(dst[56:], address)
}

// DispatchRays implements gfx.Device.
func (d *Device) DispatchRays(cmd gfx.CommandList, desc *gfx.DispatchRaysDesc) {
	l := d.list(cmd)
	if l == nil {
		return
	}
	if !d.CheckCapability(gfx.CapRaytracing) {
		l.fail(errors.Wrap(gfx.ErrUnsupported, "ray tracing"))
		return
	}
	if l.rt == nil {
		l.fail(errors.Wrap(gfx.ErrInvalidCommandList, "no ray tracing pipeline bound"))
		return
	}
	if err := l.binder.flush(l, bindRayTracing, l.rt.layout); err != nil {
		l.fail(err)
		return
	}

	table := func(t *gfx.ShaderTable) (native.Handle, uint64) {
		if t.Buffer == nil {
			return native.Null, 0
		}
		s := resourceOf(&t.Buffer.GPUResource)
		if s == nil {
			return native.Null, 0
		}
		return s.buffer, t.Offset
	}
	info := &native.TraceRaysInfo{Width: desc.Width, Height: desc.Height, Depth: desc.Depth}
	info.RaygenBuffer, info.RaygenOffset = table(&desc.RayGeneration)
	info.MissBuffer, info.MissOffset = table(&desc.Miss)
	info.MissStride = desc.Miss.Stride
	info.HitBuffer, info.HitOffset = table(&desc.HitGroup)
	info.HitStride = desc.HitGroup.Stride
	info.CallableBuffer, info.CallableOffset = table(&desc.Callable)
	info.CallableStride = desc.Callable.Stride
	if info.Depth == 0 {
		info.Depth = 1
	}
	l.cb.TraceRays(info)
}
