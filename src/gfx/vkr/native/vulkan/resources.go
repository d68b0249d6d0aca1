// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vulkan

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
	vk "github.com/devblok/vulkan"
)

type buffer struct {
	buffer vk.Buffer
	memory Memory
	size   uint64
	mapped []byte
}

type image struct {
	image  vk.Image
	memory Memory
	// owned is false for swapchain images.
	owned bool
}

type queryPool struct {
	pool  vk.QueryPool
	count uint32
}

func (d *Device) bufferOf(h native.Handle) vk.Buffer {
	if b, ok := d.get(h).(*buffer); ok {
		return b.buffer
	}
	return nil
}

func (d *Device) imageOf(h native.Handle) vk.Image {
	if img, ok := d.get(h).(*image); ok {
		return img.image
	}
	return nil
}

func (d *Device) viewOf(h native.Handle) vk.ImageView {
	v, _ := d.get(h).(vk.ImageView)
	return v
}

func (d *Device) bufferViewOf(h native.Handle) vk.BufferView {
	v, _ := d.get(h).(vk.BufferView)
	return v
}

func (d *Device) samplerOf(h native.Handle) vk.Sampler {
	s, _ := d.get(h).(vk.Sampler)
	return s
}

func (d *Device) queryPoolOf(h native.Handle) vk.QueryPool {
	if p, ok := d.get(h).(*queryPool); ok {
		return p.pool
	}
	return nil
}

// CreateBuffer implements native.Device. Host visible buffers stay
// mapped for their lifetime.
func (d *Device) CreateBuffer(info *native.BufferInfo) (native.Handle, error) {
	if info.Size == 0 {
		return native.Null, errors.New("buffer size is zero")
	}
	bci := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       info.Usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var buf vk.Buffer
	if err := vk.Error(vk.CreateBuffer(d.device, &bci, nil, &buf)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateBuffer()")
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buf, &req)
	req.Deref()

	memory, err := d.mem.Malloc(req, info.Memory)
	if err != nil {
		vk.DestroyBuffer(d.device, buf, nil)
		return native.Null, err
	}
	if err := vk.Error(vk.BindBufferMemory(d.device, buf, memory.Get(), 0)); err != nil {
		vk.DestroyBuffer(d.device, buf, nil)
		memory.Release()
		return native.Null, errors.Wrap(err, "vk.BindBufferMemory()")
	}

	b := &buffer{buffer: buf, memory: memory, size: info.Size}
	if info.Memory != native.MemoryGPU {
		mapped, err := b.memory.Map()
		if err != nil {
			vk.DestroyBuffer(d.device, buf, nil)
			b.memory.Release()
			return native.Null, err
		}
		b.mapped = mapped[:info.Size]
	}
	return d.add(native.KindBuffer, b), nil
}

// BufferAddress implements native.Device. The binding has no buffer
// device address, so addresses are always zero.
func (d *Device) BufferAddress(buf native.Handle) uint64 {
	return 0
}

// Mapped implements native.Device.
func (d *Device) Mapped(buf native.Handle) []byte {
	if b, ok := d.get(buf).(*buffer); ok {
		return b.mapped
	}
	return nil
}

// CreateImage implements native.Device.
func (d *Device) CreateImage(info *native.ImageInfo) (native.Handle, error) {
	samples := info.Samples
	if samples == 0 {
		samples = vk.SampleCount1Bit
	}
	ici := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		Flags:         info.Flags,
		ImageType:     info.Type,
		Format:        info.Format,
		Extent:        info.Extent,
		MipLevels:     max(info.MipLevels, 1),
		ArrayLayers:   max(info.ArrayLayers, 1),
		Samples:       samples,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         info.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var img vk.Image
	if err := vk.Error(vk.CreateImage(d.device, &ici, nil, &img)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateImage()")
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, img, &req)
	req.Deref()

	memory, err := d.mem.Malloc(req, native.MemoryGPU)
	if err != nil {
		vk.DestroyImage(d.device, img, nil)
		return native.Null, err
	}
	if err := vk.Error(vk.BindImageMemory(d.device, img, memory.Get(), 0)); err != nil {
		vk.DestroyImage(d.device, img, nil)
		memory.Release()
		return native.Null, errors.Wrap(err, "vk.BindImageMemory()")
	}
	return d.add(native.KindImage, &image{image: img, memory: memory, owned: true}), nil
}

// CreateImageView implements native.Device.
func (d *Device) CreateImageView(info *native.ImageViewInfo) (native.Handle, error) {
	img := d.imageOf(info.Image)
	if img == nil {
		return native.Null, errors.Wrapf(native.ErrInvalidHandle, "image %d", info.Image)
	}
	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: info.ViewType,
		Format:   info.Format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: info.Range,
	}
	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(d.device, &ivci, nil, &view)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateImageView()")
	}
	return d.add(native.KindImageView, view), nil
}

// CreateBufferView implements native.Device.
func (d *Device) CreateBufferView(info *native.BufferViewInfo) (native.Handle, error) {
	buf := d.bufferOf(info.Buffer)
	if buf == nil {
		return native.Null, errors.Wrapf(native.ErrInvalidHandle, "buffer %d", info.Buffer)
	}
	bvci := vk.BufferViewCreateInfo{
		SType:  vk.StructureTypeBufferViewCreateInfo,
		Buffer: buf,
		Format: info.Format,
		Offset: vk.DeviceSize(info.Offset),
		Range:  vk.DeviceSize(info.Range),
	}
	var view vk.BufferView
	if err := vk.Error(vk.CreateBufferView(d.device, &bvci, nil, &view)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateBufferView()")
	}
	return d.add(native.KindBufferView, view), nil
}

// CreateSampler implements native.Device. Min and max reductions need an
// extension the binding lacks and fall back to averaging.
func (d *Device) CreateSampler(info *native.SamplerInfo) (native.Handle, error) {
	sci := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        info.MagFilter,
		MinFilter:        info.MinFilter,
		MipmapMode:       info.MipmapMode,
		AddressModeU:     info.AddressModeU,
		AddressModeV:     info.AddressModeV,
		AddressModeW:     info.AddressModeW,
		MipLodBias:       info.MipLodBias,
		AnisotropyEnable: bool32(info.AnisotropyEnable),
		MaxAnisotropy:    info.MaxAnisotropy,
		CompareEnable:    bool32(info.CompareEnable),
		CompareOp:        info.CompareOp,
		MinLod:           info.MinLod,
		MaxLod:           info.MaxLod,
		BorderColor:      info.BorderColor,
	}
	var sampler vk.Sampler
	if err := vk.Error(vk.CreateSampler(d.device, &sci, nil, &sampler)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateSampler()")
	}
	return d.add(native.KindSampler, sampler), nil
}

// CreateQueryPool implements native.Device.
func (d *Device) CreateQueryPool(info *native.QueryPoolInfo) (native.Handle, error) {
	qpci := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  info.Type,
		QueryCount: info.Count,
	}
	var pool vk.QueryPool
	if err := vk.Error(vk.CreateQueryPool(d.device, &qpci, nil, &pool)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateQueryPool()")
	}
	return d.add(native.KindQueryPool, &queryPool{pool: pool, count: info.Count}), nil
}

// sliceUint32 reinterprets SPIR-V bytes as words.
func sliceUint32(data []byte) []uint32 {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words
}

// CreateShaderModule implements native.Device.
func (d *Device) CreateShaderModule(code []byte) (native.Handle, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return native.Null, errors.Newf("shader code of %d bytes is not SPIR-V", len(code))
	}
	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    sliceUint32(code),
	}
	var module vk.ShaderModule
	if err := vk.Error(vk.CreateShaderModule(d.device, &smci, nil, &module)); err != nil {
		return native.Null, errors.Wrap(err, "vk.CreateShaderModule()")
	}
	return d.add(native.KindShaderModule, module), nil
}

// AccelerationStructureSizes implements native.Device.
func (d *Device) AccelerationStructureSizes(info *native.AccelerationStructureBuildInfo) (native.AccelerationStructureSizes, error) {
	return native.AccelerationStructureSizes{}, errors.Wrap(native.ErrUnsupported, "acceleration structures")
}

// CreateAccelerationStructure implements native.Device.
func (d *Device) CreateAccelerationStructure(info *native.AccelerationStructureInfo) (native.Handle, error) {
	return native.Null, errors.Wrap(native.ErrUnsupported, "acceleration structures")
}

// AccelerationStructureAddress implements native.Device.
func (d *Device) AccelerationStructureAddress(as native.Handle) uint64 {
	return 0
}
