// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	qt "github.com/frankban/quicktest"
)

// bottomLevel describes a structure of three triangles and four boxes.
func bottomLevel(c *qt.C, d *Device) gfx.AccelerationStructureDesc {
	vb := mustBuffer(c, d, gfx.BufferDesc{Size: 9 * 12}, nil)
	ib := mustBuffer(c, d, gfx.BufferDesc{Size: 9 * 4}, nil)
	aabbs := mustBuffer(c, d, gfx.BufferDesc{Size: 4 * defaultAABBStride}, nil)
	return gfx.AccelerationStructureDesc{
		Type:  gfx.BottomLevel,
		Flags: gfx.ASAllowUpdate,
		BottomLevel: gfx.BottomLevelDesc{Geometries: []gfx.Geometry{
			{
				Type:  gfx.GeometryTriangles,
				Flags: gfx.GeometryOpaque,
				Triangles: gfx.TrianglesDesc{
					VertexBuffer: &vb,
					IndexBuffer:  &ib,
					IndexCount:   9,
					IndexOffset:  3,
					VertexCount:  9,
					VertexStride: 12,
					IndexFormat:  gfx.IndexFormat32,
					VertexFormat: gfx.FormatR32G32B32Float,
				},
			},
			{
				Type:  gfx.GeometryProceduralAABBs,
				AABBs: gfx.AABBsDesc{AABBBuffer: &aabbs, Count: 4},
			},
		}},
	}
}

func TestAccelerationStructureSizes(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{})

	desc := bottomLevel(c, d)
	blas, err := d.CreateAccelerationStructure(&desc)
	c.Assert(err, qt.IsNil)
	defer blas.Release()

	s := resourceOf(&blas.GPUResource)
	c.Assert(s.build.Geometries, qt.HasLen, 2)
	c.Assert(s.build.Geometries[0].PrimitiveCount, qt.Equals, uint32(3))
	c.Assert(s.build.Geometries[0].Type, qt.Equals, native.GeometryTriangles)
	c.Assert(s.build.Geometries[0].Flags, qt.Equals, native.GeometryOpaque)
	ib := resourceOf(&desc.BottomLevel.Geometries[0].Triangles.IndexBuffer.GPUResource)
	c.Assert(s.build.Geometries[0].IndexAddress, qt.Equals, ib.address+12)
	c.Assert(s.build.Geometries[1].PrimitiveCount, qt.Equals, uint32(4))
	c.Assert(s.build.Geometries[1].AABBStride, qt.Equals, uint64(defaultAABBStride))
	c.Assert(s.build.Flags&native.BuildAllowUpdate, qt.Not(qt.Equals), native.BuildFlags(0))

	// Seven primitives: 704 bytes of structure, and scratch large enough
	// for the bigger of the build and update passes.
	c.Assert(blas.Size, qt.Equals, uint64(704))
	c.Assert(s.size, qt.Equals, uint64(704+352))
	c.Assert(s.scratchAddress, qt.Equals, s.address+704)

	// Bottom level structures are not shader visible.
	c.Assert(d.GetDescriptorIndex(&blas.GPUResource, gfx.SRV, -1), qt.Equals, -1)
}

func TestAccelerationStructureBuild(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})

	desc := bottomLevel(c, d)
	blas, err := d.CreateAccelerationStructure(&desc)
	c.Assert(err, qt.IsNil)

	instances := mustBuffer(c, d, gfx.BufferDesc{Size: uint64(d.TopLevelInstanceSize()), Usage: gfx.UsageUpload}, nil)
	d.WriteTopLevelInstance(&gfx.TopLevelInstance{InstanceMask: 0xff, BottomLevel: &blas}, instances.Mapped)
	tlas, err := d.CreateAccelerationStructure(&gfx.AccelerationStructureDesc{
		Type:     gfx.TopLevel,
		TopLevel: gfx.TopLevelDesc{InstanceBuffer: &instances, Count: 1},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(d.GetDescriptorIndex(&tlas.GPUResource, gfx.SRV, -1), qt.Equals, 0)

	top := resourceOf(&tlas.GPUResource)
	c.Assert(top.build.TopLevel, qt.IsTrue)
	c.Assert(top.build.Geometries[0].InstanceAddress, qt.Equals, resourceOf(&instances.GPUResource).address)

	cmd := mustBegin(c, d, gfx.QueueCompute)
	d.BuildAccelerationStructure(cmd, &blas, nil)
	d.BuildAccelerationStructure(cmd, &tlas, nil)
	d.BuildAccelerationStructure(cmd, &blas, &blas)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)
	c.Assert(drv.Stats().Builds, qt.Equals, 3)
	c.Assert(drv.AccelerationStructureBuilds(resourceOf(&blas.GPUResource).as), qt.Equals, 2)

	tlas.Release()
	cmd = mustBegin(c, d, gfx.QueueCompute)
	d.BuildAccelerationStructure(cmd, &tlas, nil)
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrReleased)
}

func TestAccelerationStructureUnsupported(t *testing.T) {
	c := qt.New(t)
	d, _ := newTestDevice(t, Config{}, native.Features{})

	_, err := d.CreateAccelerationStructure(&gfx.AccelerationStructureDesc{Type: gfx.TopLevel})
	c.Assert(err, qt.ErrorIs, gfx.ErrUnsupported)
	_, err = d.CreateRaytracingPipelineState(&gfx.RaytracingPipelineStateDesc{})
	c.Assert(err, qt.ErrorIs, gfx.ErrUnsupported)

	cmd := mustBegin(c, d, gfx.QueueCompute)
	d.DispatchRays(cmd, &gfx.DispatchRaysDesc{Width: 1, Height: 1})
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrUnsupported)
}

func TestWriteTopLevelInstance(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})

	desc := bottomLevel(c, d)
	blas, err := d.CreateAccelerationStructure(&desc)
	c.Assert(err, qt.IsNil)
	defer blas.Release()

	inst := gfx.TopLevelInstance{
		InstanceID:   0x1234567,
		InstanceMask: 0xab,
		HitGroupBase: 5,
		Flags:        gfx.InstanceTriangleCullDisable | gfx.InstanceForceOpaque,
		BottomLevel:  &blas,
	}
	inst.Transform[0] = [4]float32{1, 0, 0, 7.5}
	inst.Transform[2][2] = -1

	dst := make([]byte, d.TopLevelInstanceSize())
	d.WriteTopLevelInstance(&inst, dst)
	c.Assert(math.Float32frombits(binary.LittleEndian.Uint32(dst[0:])), qt.Equals, float32(1))
	c.Assert(math.Float32frombits(binary.LittleEndian.Uint32(dst[12:])), qt.Equals, float32(7.5))
	c.Assert(math.Float32frombits(binary.LittleEndian.Uint32(dst[40:])), qt.Equals, float32(-1))
	// The id keeps its low 24 bits under the mask.
	c.Assert(binary.LittleEndian.Uint32(dst[48:]), qt.Equals, uint32(0xab234567))
	c.Assert(binary.LittleEndian.Uint32(dst[52:]), qt.Equals, uint32(0x05000005))
	address := drv.AccelerationStructureAddress(resourceOf(&blas.GPUResource).as)
	c.Assert(address, qt.Not(qt.Equals), uint64(0))
	c.Assert(binary.LittleEndian.Uint64(dst[56:]), qt.Equals, address)

	// Short destinations are left alone.
	short := make([]byte, 8)
	d.WriteTopLevelInstance(&inst, short)
	c.Assert(short, qt.DeepEquals, make([]byte, 8))
}

func TestRaytracingPipelineState(t *testing.T) {
	c := qt.New(t)
	d, drv := newTestDevice(t, Config{})

	lib := mustShader(c, d, gfx.ShaderStageLIB, newSPIRV(execCompute).accelerationStructure(0))
	_, err := d.CreateRaytracingPipelineState(&gfx.RaytracingPipelineStateDesc{})
	c.Assert(err, qt.ErrorIs, gfx.ErrInvalidDesc)

	rtpso, err := d.CreateRaytracingPipelineState(&gfx.RaytracingPipelineStateDesc{
		ShaderLibraries: []gfx.ShaderLibrary{
			{Type: gfx.LibraryRayGeneration, Shader: &lib, FunctionName: "raygen"},
			{Type: gfx.LibraryMiss, Shader: &lib, FunctionName: "miss"},
			{Type: gfx.LibraryClosestHit, Shader: &lib, FunctionName: "hit"},
		},
		HitGroups: []gfx.ShaderHitGroup{
			{Type: gfx.HitGroupGeneral, GeneralShader: 0},
			{Type: gfx.HitGroupGeneral, GeneralShader: 1},
			{Type: gfx.HitGroupTriangles, ClosestHitShader: 2, AnyHitShader: native.ShaderUnused},
		},
		MaxRecursionDepth: 1,
	})
	c.Assert(err, qt.IsNil)
	defer rtpso.Release()

	size := d.ShaderIdentifierSize()
	c.Assert(size, qt.Equals, uint32(32))
	id := make([]byte, size)
	c.Assert(d.WriteShaderIdentifier(&rtpso, 2, id), qt.IsNil)
	c.Assert(binary.LittleEndian.Uint32(id), qt.Equals, uint32(3))
	c.Assert(binary.LittleEndian.Uint64(id[4:]), qt.Equals, uint64(rtPipelineOf(&rtpso).pipeline))

	c.Assert(d.WriteShaderIdentifier(&rtpso, 3, id), qt.ErrorIs, gfx.ErrInvalidDesc)
	c.Assert(d.WriteShaderIdentifier(&rtpso, 0, id[:16]), qt.ErrorIs, gfx.ErrInvalidDesc)

	// Three records, one per group.
	table := mustBuffer(c, d, gfx.BufferDesc{Size: uint64(3 * size), Usage: gfx.UsageUpload}, nil)
	for g := uint32(0); g < 3; g++ {
		c.Assert(d.WriteShaderIdentifier(&rtpso, g, table.Mapped[g*size:]), qt.IsNil)
	}

	desc := bottomLevel(c, d)
	blas, err := d.CreateAccelerationStructure(&desc)
	c.Assert(err, qt.IsNil)
	instances := mustBuffer(c, d, gfx.BufferDesc{Size: uint64(d.TopLevelInstanceSize()), Usage: gfx.UsageUpload}, nil)
	d.WriteTopLevelInstance(&gfx.TopLevelInstance{InstanceMask: 0xff, BottomLevel: &blas}, instances.Mapped)
	tlas, err := d.CreateAccelerationStructure(&gfx.AccelerationStructureDesc{
		Type:     gfx.TopLevel,
		TopLevel: gfx.TopLevelDesc{InstanceBuffer: &instances, Count: 1},
	})
	c.Assert(err, qt.IsNil)

	cmd := mustBegin(c, d, gfx.QueueCompute)
	d.DispatchRays(cmd, &gfx.DispatchRaysDesc{Width: 4, Height: 4})
	c.Assert(d.lists[cmd].err, qt.ErrorIs, gfx.ErrInvalidCommandList)
	c.Assert(d.SubmitCommandLists(), qt.ErrorIs, gfx.ErrInvalidCommandList)

	cmd = mustBegin(c, d, gfx.QueueCompute)
	d.BuildAccelerationStructure(cmd, &blas, nil)
	d.BuildAccelerationStructure(cmd, &tlas, nil)
	d.BindRaytracingPipelineState(cmd, &rtpso)
	d.BindResource(cmd, &tlas.GPUResource, 0, -1)
	d.DispatchRays(cmd, &gfx.DispatchRaysDesc{
		RayGeneration: gfx.ShaderTable{Buffer: &table, Size: uint64(size)},
		Miss:          gfx.ShaderTable{Buffer: &table, Offset: uint64(size), Size: uint64(size), Stride: uint64(size)},
		HitGroup:      gfx.ShaderTable{Buffer: &table, Offset: uint64(2 * size), Size: uint64(size), Stride: uint64(size)},
		Width:         4,
		Height:        4,
	})
	c.Assert(d.lists[cmd].err, qt.IsNil)
	c.Assert(d.SubmitCommandLists(), qt.IsNil)
	c.Assert(d.WaitForGPU(), qt.IsNil)
	c.Assert(drv.Stats().TraceRays, qt.Equals, 1)
}
