// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

func memoryUsage(u gfx.Usage) native.MemoryUsage {
	switch u {
	case gfx.UsageUpload:
		return native.MemoryUpload
	case gfx.UsageReadback:
		return native.MemoryReadback
	}
	return native.MemoryGPU
}

func (d *Device) bufferUsage(desc *gfx.BufferDesc) vk.BufferUsageFlags {
	usage := vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit
	if desc.BindFlags&gfx.BindVertexBuffer != 0 {
		usage |= vk.BufferUsageVertexBufferBit
	}
	if desc.BindFlags&gfx.BindIndexBuffer != 0 {
		usage |= vk.BufferUsageIndexBufferBit
	}
	if desc.BindFlags&gfx.BindConstantBuffer != 0 {
		usage |= vk.BufferUsageUniformBufferBit
	}
	if desc.BindFlags&gfx.BindShaderResource != 0 {
		if desc.Format == gfx.FormatUnknown {
			usage |= vk.BufferUsageStorageBufferBit
		} else {
			usage |= vk.BufferUsageUniformTexelBufferBit
		}
	}
	if desc.BindFlags&gfx.BindUnorderedAccess != 0 {
		if desc.Format == gfx.FormatUnknown {
			usage |= vk.BufferUsageStorageBufferBit
		} else {
			usage |= vk.BufferUsageStorageTexelBufferBit
		}
	}
	if desc.MiscFlags&gfx.MiscIndirectArgs != 0 {
		usage |= vk.BufferUsageIndirectBufferBit
	}
	if d.CheckCapability(gfx.CapRaytracing) {
		usage |= bufferUsageDeviceAddress
		if desc.MiscFlags&gfx.MiscRayTracing != 0 {
			usage |= bufferUsageAccelerationStructureInput | bufferUsageShaderBindingTable
		}
	}
	if desc.MiscFlags&gfx.MiscPredication != 0 && d.CheckCapability(gfx.CapPredication) {
		usage |= bufferUsageConditionalRendering
	}
	return vk.BufferUsageFlags(usage)
}

// bufferAccess is the access a buffer is used with after initial upload.
func bufferAccess(desc *gfx.BufferDesc) vk.AccessFlags {
	var access vk.AccessFlagBits
	if desc.BindFlags&gfx.BindVertexBuffer != 0 {
		access |= vk.AccessVertexAttributeReadBit
	}
	if desc.BindFlags&gfx.BindIndexBuffer != 0 {
		access |= vk.AccessIndexReadBit
	}
	if desc.BindFlags&gfx.BindConstantBuffer != 0 {
		access |= vk.AccessUniformReadBit
	}
	if desc.BindFlags&gfx.BindShaderResource != 0 {
		access |= vk.AccessShaderReadBit
	}
	if desc.BindFlags&gfx.BindUnorderedAccess != 0 {
		access |= vk.AccessShaderReadBit | vk.AccessShaderWriteBit
	}
	if desc.MiscFlags&gfx.MiscIndirectArgs != 0 {
		access |= vk.AccessIndirectCommandReadBit
	}
	if desc.MiscFlags&gfx.MiscRayTracing != 0 {
		access |= accessAccelerationStructureRead
	}
	return vk.AccessFlags(access)
}

// CreateBuffer implements gfx.Device. Initial data of GPU only buffers
// goes through the copy queue.
func (d *Device) CreateBuffer(desc *gfx.BufferDesc, initData []byte) (gfx.GPUBuffer, error) {
	if desc.Size == 0 {
		return gfx.GPUBuffer{}, errors.Wrap(gfx.ErrInvalidDesc, "buffer size is zero")
	}

	h, err := d.drv.CreateBuffer(&native.BufferInfo{
		Size:   desc.Size,
		Usage:  d.bufferUsage(desc),
		Memory: memoryUsage(desc.Usage),
	})
	if err != nil {
		return gfx.GPUBuffer{}, errors.Wrap(err, "vk.CreateBuffer()")
	}

	s := newResourceState(d, gfx.ResourceBuffer)
	s.buffer = h
	s.size = desc.Size
	if d.CheckCapability(gfx.CapRaytracing) {
		s.address = d.drv.BufferAddress(h)
	}

	buf := gfx.GPUBuffer{Desc: *desc}
	buf.Type = gfx.ResourceBuffer
	buf.Internal = s
	if desc.Usage != gfx.UsageDefault {
		buf.Mapped = d.drv.Mapped(h)
	}

	if len(initData) > 0 {
		if err := d.uploadBuffer(&buf, s, initData); err != nil {
			s.Release()
			return gfx.GPUBuffer{}, err
		}
	}

	if desc.BindFlags&gfx.BindShaderResource != 0 {
		if _, err := d.bufferSubresource(&buf, gfx.SRV, 0, desc.Size, true); err != nil {
			s.Release()
			return gfx.GPUBuffer{}, err
		}
	}
	if desc.BindFlags&gfx.BindUnorderedAccess != 0 {
		if _, err := d.bufferSubresource(&buf, gfx.UAV, 0, desc.Size, true); err != nil {
			s.Release()
			return gfx.GPUBuffer{}, err
		}
	}

	track(s)
	return buf, nil
}

func (d *Device) uploadBuffer(buf *gfx.GPUBuffer, s *resourceState, data []byte) error {
	if uint64(len(data)) > s.size {
		data = data[:s.size]
	}
	if buf.Mapped != nil {
		copy(buf.Mapped, data)
		return nil
	}

	cmd, err := d.copier.allocate(uint64(len(data)))
	if err != nil {
		return err
	}
	copy(cmd.mapped, data)
	cmd.cb.CopyBuffer(cmd.upload, s.buffer, []vk.BufferCopy{{Size: vk.DeviceSize(len(data))}})
	if err := d.copier.submit(cmd); err != nil {
		return err
	}

	access := bufferAccess(&buf.Desc)
	d.recordInit(func(cb native.CommandBuffer) {
		cb.PipelineBarrier(&native.Barrier{
			SrcStage: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			DstStage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			Buffers: []native.BufferBarrier{{
				Buffer:    s.buffer,
				SrcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
				DstAccess: access,
				Size:      vk.WholeSize,
			}},
		})
	})
	return nil
}

// CreateBufferSubresource implements gfx.Device. Buffers without a
// format get raw storage buffer ranges, typed buffers get texel views.
// A size of 0 selects the rest of the buffer.
func (d *Device) CreateBufferSubresource(buf *gfx.GPUBuffer, typ gfx.SubresourceType, offset, size uint64) (int, error) {
	return d.bufferSubresource(buf, typ, offset, size, false)
}

// bufferSubresource creates a view. Default views stay usable through
// slot binding when the bindless heap is full.
func (d *Device) bufferSubresource(buf *gfx.GPUBuffer, typ gfx.SubresourceType, offset, size uint64, fallback bool) (int, error) {
	s := resourceOf(&buf.GPUResource)
	if s == nil || s.typ != gfx.ResourceBuffer {
		return -1, errors.Wrap(gfx.ErrReleased, "buffer subresource")
	}
	if typ != gfx.SRV && typ != gfx.UAV {
		return -1, errors.Wrapf(gfx.ErrInvalidDesc, "buffer subresource type %d", typ)
	}
	if offset >= s.size {
		return -1, errors.Wrapf(gfx.ErrInvalidDesc, "offset %d beyond buffer size %d", offset, s.size)
	}
	if size == 0 || offset+size > s.size {
		size = s.size - offset
	}

	v := view{index: -1, offset: offset, size: size}
	var write native.DescriptorWrite
	if buf.Desc.Format == gfx.FormatUnknown {
		v.bindless = BindlessStorageBuffer
		write.Buffers = []native.BufferDescriptor{{Buffer: s.buffer, Offset: offset, Range: size}}
	} else {
		format := convertFormat(buf.Desc.Format)
		h, err := d.drv.CreateBufferView(&native.BufferViewInfo{
			Buffer: s.buffer,
			Format: format,
			Offset: offset,
			Range:  size,
		})
		if err != nil {
			return -1, errors.Wrap(err, "vk.CreateBufferView()")
		}
		v.handle = h
		v.kind = native.KindBufferView
		v.format = format
		v.bindless = BindlessUniformTexelBuffer
		if typ == gfx.UAV {
			v.bindless = BindlessStorageTexelBuffer
		}
		write.TexelBuffers = []native.Handle{h}
	}

	index, err := d.allocateBindless(v.bindless, write, fallback)
	if err != nil {
		d.alloc.retire(v.kind, v.handle)
		return -1, err
	}
	v.index = index
	return s.addSubresource(typ, v), nil
}

// allocateBindless takes an index of a heap and writes the descriptor
// into it. Devices without bindless support return -1, and so does a
// full heap when fallback is set.
func (d *Device) allocateBindless(kind BindlessKind, w native.DescriptorWrite, fallback bool) (int, error) {
	heap := d.alloc.heap(kind)
	if heap == nil {
		return -1, nil
	}
	index, err := heap.allocate()
	if err != nil {
		if fallback && errors.Is(err, gfx.ErrBindlessExhausted) {
			d.log.WithError(err).WithField("heap", kind).Warn("View has no bindless index")
			return -1, nil
		}
		return -1, err
	}
	heap.write(index, w)
	return index, nil
}
