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

func normalizeTextureDesc(desc gfx.TextureDesc) gfx.TextureDesc {
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	if desc.ArraySize == 0 {
		desc.ArraySize = 1
	}
	if desc.SampleCount == 0 {
		desc.SampleCount = 1
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = gfx.MipCount(desc.Width, desc.Height)
	}
	return desc
}

func imageUsage(desc *gfx.TextureDesc) vk.ImageUsageFlags {
	usage := vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit
	if desc.BindFlags&gfx.BindShaderResource != 0 {
		usage |= vk.ImageUsageSampledBit
	}
	if desc.BindFlags&gfx.BindUnorderedAccess != 0 {
		usage |= vk.ImageUsageStorageBit
	}
	if desc.BindFlags&gfx.BindRenderTarget != 0 {
		usage |= vk.ImageUsageColorAttachmentBit
	}
	if desc.BindFlags&gfx.BindDepthStencil != 0 {
		usage |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if desc.BindFlags&gfx.BindShadingRate != 0 {
		usage |= imageUsageShadingRate
	}
	return vk.ImageUsageFlags(usage)
}

func imageType(t gfx.TextureType) vk.ImageType {
	switch t {
	case gfx.Texture1D:
		return vk.ImageType1d
	case gfx.Texture3D:
		return vk.ImageType3d
	}
	return vk.ImageType2d
}

// mipExtent returns the extent of a mip level in blocks and texels.
func mipExtent(desc *gfx.TextureDesc, mip uint32) (w, h, d, rowBytes, rows uint32) {
	w = maxU32(1, desc.Width>>mip)
	h = maxU32(1, desc.Height>>mip)
	d = maxU32(1, desc.Depth>>mip)
	block := desc.Format.BlockSize()
	rowBytes = (w + block - 1) / block * desc.Format.Stride()
	rows = (h + block - 1) / block
	return
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// CreateTexture implements gfx.Device. Upload and readback textures are
// linear buffers; the rest are images transitioned into desc.Layout
// before the next submitted command list runs.
func (d *Device) CreateTexture(desc *gfx.TextureDesc, initData []gfx.SubresourceData) (gfx.Texture, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return gfx.Texture{}, errors.Wrapf(gfx.ErrInvalidDesc, "texture extent %dx%d", desc.Width, desc.Height)
	}
	if desc.Format == gfx.FormatUnknown {
		return gfx.Texture{}, errors.Wrap(gfx.ErrInvalidDesc, "texture format unknown")
	}

	tex := gfx.Texture{Desc: normalizeTextureDesc(*desc)}
	tex.Type = gfx.ResourceTexture
	desc = &tex.Desc

	s := newResourceState(d, gfx.ResourceTexture)
	s.format = convertFormat(desc.Format)
	s.imageType = imageType(desc.Type)
	s.mipLevels = desc.MipLevels
	s.arraySize = desc.ArraySize
	s.depthCount = desc.Depth
	s.cube = desc.MiscFlags&gfx.MiscTextureCube != 0
	s.texDesc = *desc
	tex.Internal = s

	if desc.Usage != gfx.UsageDefault {
		if err := d.createStagingTexture(&tex, s, initData); err != nil {
			return gfx.Texture{}, err
		}
		track(s)
		return tex, nil
	}

	info := &native.ImageInfo{
		Type:        s.imageType,
		Format:      s.format,
		Extent:      vk.Extent3D{Width: desc.Width, Height: desc.Height, Depth: desc.Depth},
		MipLevels:   desc.MipLevels,
		ArrayLayers: desc.ArraySize,
		Samples:     convertSampleCount(desc.SampleCount),
		Usage:       imageUsage(desc),
	}
	if s.cube {
		info.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}
	image, err := d.drv.CreateImage(info)
	if err != nil {
		return gfx.Texture{}, errors.Wrap(err, "vk.CreateImage()")
	}
	s.image = image
	s.ownsImage = true

	full := vk.ImageSubresourceRange{
		AspectMask: aspectMask(desc.Format),
		LevelCount: remainingMipLevels,
		LayerCount: remainingArrayLayers,
	}
	layout := convertImageLayout(desc.Layout)
	access := parseResourceState(desc.Layout)

	if len(initData) > 0 {
		if err := d.uploadTexture(desc, s, initData, full); err != nil {
			s.Release()
			return gfx.Texture{}, err
		}
		if layout != vk.ImageLayoutUndefined {
			d.recordInit(func(cb native.CommandBuffer) {
				cb.PipelineBarrier(&native.Barrier{
					SrcStage: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
					DstStage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
					Images: []native.ImageBarrier{{
						Image:     image,
						SrcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
						DstAccess: access,
						OldLayout: vk.ImageLayoutTransferDstOptimal,
						NewLayout: layout,
						Range:     full,
					}},
				})
			})
		}
	} else if layout != vk.ImageLayoutUndefined {
		d.recordInit(func(cb native.CommandBuffer) {
			cb.PipelineBarrier(&native.Barrier{
				SrcStage: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
				DstStage: vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
				Images: []native.ImageBarrier{{
					Image:     image,
					DstAccess: access,
					OldLayout: vk.ImageLayoutUndefined,
					NewLayout: layout,
					Range:     full,
				}},
			})
		})
	}

	views := []struct {
		flag     gfx.BindFlag
		typ      gfx.SubresourceType
		mipCount uint32
	}{
		{gfx.BindShaderResource, gfx.SRV, desc.MipLevels},
		{gfx.BindUnorderedAccess, gfx.UAV, 1},
		{gfx.BindRenderTarget, gfx.RTV, 1},
		{gfx.BindDepthStencil, gfx.DSV, 1},
	}
	for _, v := range views {
		if desc.BindFlags&v.flag == 0 {
			continue
		}
		if _, err := d.subresource(&tex, v.typ, 0, desc.ArraySize, 0, v.mipCount, true); err != nil {
			s.Release()
			return gfx.Texture{}, err
		}
	}

	track(s)
	return tex, nil
}

// createStagingTexture backs an upload or readback texture with a
// mapped buffer holding every subresource tightly packed.
func (d *Device) createStagingTexture(tex *gfx.Texture, s *resourceState, initData []gfx.SubresourceData) error {
	desc := &tex.Desc
	size := gfx.ComputeTextureMemorySize(desc)
	usage := vk.BufferUsageTransferSrcBit
	if desc.Usage == gfx.UsageReadback {
		usage = vk.BufferUsageTransferDstBit
	}
	h, err := d.drv.CreateBuffer(&native.BufferInfo{
		Size:   size,
		Usage:  vk.BufferUsageFlags(usage),
		Memory: memoryUsage(desc.Usage),
	})
	if err != nil {
		return errors.Wrap(err, "vk.CreateBuffer()")
	}
	s.buffer = h
	s.size = size
	tex.Mapped = d.drv.Mapped(h)
	_, _, _, rowBytes, _ := mipExtent(desc, 0)
	tex.MappedRowPitch = rowBytes
	if len(initData) > 0 {
		packSubresources(tex.Mapped, desc, initData)
	}
	return nil
}

// packSubresources copies subresource data into dst, slice major, with
// tightly packed rows. It returns the number of bytes written.
func packSubresources(dst []byte, desc *gfx.TextureDesc, initData []gfx.SubresourceData) uint64 {
	var offset uint64
	i := 0
	for layer := uint32(0); layer < desc.ArraySize; layer++ {
		for mip := uint32(0); mip < desc.MipLevels; mip++ {
			_, _, depth, rowBytes, rows := mipExtent(desc, mip)
			if i >= len(initData) {
				return offset
			}
			src := initData[i]
			i++
			rowPitch := uint64(src.RowPitch)
			if rowPitch == 0 {
				rowPitch = uint64(rowBytes)
			}
			slicePitch := uint64(src.SlicePitch)
			if slicePitch == 0 {
				slicePitch = rowPitch * uint64(rows)
			}
			for z := uint64(0); z < uint64(depth); z++ {
				for r := uint64(0); r < uint64(rows); r++ {
					from := z*slicePitch + r*rowPitch
					if from >= uint64(len(src.Data)) || offset >= uint64(len(dst)) {
						break
					}
					end := from + uint64(rowBytes)
					if end > uint64(len(src.Data)) {
						end = uint64(len(src.Data))
					}
					copy(dst[offset:], src.Data[from:end])
					offset += uint64(rowBytes)
				}
			}
		}
	}
	return offset
}

// subresourceCopies returns one copy region per slice and mip, in the
// order packSubresources lays them out.
func subresourceCopies(desc *gfx.TextureDesc, layers, mips uint32, aspect vk.ImageAspectFlags) []vk.BufferImageCopy {
	var regions []vk.BufferImageCopy
	var offset uint64
	for layer := uint32(0); layer < layers; layer++ {
		for mip := uint32(0); mip < desc.MipLevels; mip++ {
			w, h, depth, rowBytes, rows := mipExtent(desc, mip)
			if mip < mips {
				regions = append(regions, vk.BufferImageCopy{
					BufferOffset: vk.DeviceSize(offset),
					ImageSubresource: vk.ImageSubresourceLayers{
						AspectMask:     aspect,
						MipLevel:       mip,
						BaseArrayLayer: layer,
						LayerCount:     1,
					},
					ImageExtent: vk.Extent3D{Width: w, Height: h, Depth: depth},
				})
			}
			offset += uint64(rowBytes) * uint64(rows) * uint64(depth)
		}
	}
	return regions
}

func (d *Device) uploadTexture(desc *gfx.TextureDesc, s *resourceState, initData []gfx.SubresourceData, full vk.ImageSubresourceRange) error {
	cmd, err := d.copier.allocate(gfx.ComputeTextureMemorySize(desc))
	if err != nil {
		return err
	}
	packSubresources(cmd.mapped, desc, initData)

	layers := desc.ArraySize
	mips := desc.MipLevels
	if n := uint32(len(initData)); n < layers*mips {
		layers = (n + mips - 1) / mips
	}
	aspect := full.AspectMask
	if aspect&vk.ImageAspectFlags(vk.ImageAspectStencilBit) != 0 {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}

	cmd.cb.PipelineBarrier(&native.Barrier{
		SrcStage: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		DstStage: vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		Images: []native.ImageBarrier{{
			Image:     s.image,
			DstAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
			OldLayout: vk.ImageLayoutUndefined,
			NewLayout: vk.ImageLayoutTransferDstOptimal,
			Range:     full,
		}},
	})
	cmd.cb.CopyBufferToImage(cmd.upload, s.image, vk.ImageLayoutTransferDstOptimal,
		subresourceCopies(desc, layers, mips, aspect))
	return d.copier.submit(cmd)
}

func textureViewType(desc *gfx.TextureDesc, typ gfx.SubresourceType, sliceCount uint32) vk.ImageViewType {
	cube := desc.MiscFlags&gfx.MiscTextureCube != 0
	switch desc.Type {
	case gfx.Texture1D:
		if desc.ArraySize > 1 {
			return vk.ImageViewType1dArray
		}
		return vk.ImageViewType1d
	case gfx.Texture3D:
		if typ == gfx.RTV || typ == gfx.DSV {
			return vk.ImageViewType2dArray
		}
		return vk.ImageViewType3d
	}
	if cube && typ == gfx.SRV {
		if desc.ArraySize > 6 && sliceCount > 6 {
			return vk.ImageViewTypeCubeArray
		}
		return vk.ImageViewTypeCube
	}
	if desc.ArraySize > 1 {
		if (typ == gfx.RTV || typ == gfx.DSV) && sliceCount == 1 {
			return vk.ImageViewType2d
		}
		return vk.ImageViewType2dArray
	}
	return vk.ImageViewType2d
}

// CreateSubresource implements gfx.Device. Counts past the end of the
// resource are clamped to what remains.
func (d *Device) CreateSubresource(tex *gfx.Texture, typ gfx.SubresourceType, firstSlice, sliceCount, firstMip, mipCount uint32) (int, error) {
	return d.subresource(tex, typ, firstSlice, sliceCount, firstMip, mipCount, false)
}

func (d *Device) subresource(tex *gfx.Texture, typ gfx.SubresourceType, firstSlice, sliceCount, firstMip, mipCount uint32, fallback bool) (int, error) {
	s := resourceOf(&tex.GPUResource)
	if s == nil || s.typ != gfx.ResourceTexture {
		return -1, errors.Wrap(gfx.ErrReleased, "texture subresource")
	}
	if s.image == native.Null {
		return -1, errors.Wrap(gfx.ErrInvalidDesc, "staging textures have no views")
	}
	if firstSlice >= s.arraySize || firstMip >= s.mipLevels {
		return -1, errors.Wrapf(gfx.ErrInvalidDesc, "subresource slice %d mip %d out of range", firstSlice, firstMip)
	}
	if sliceCount == 0 || firstSlice+sliceCount > s.arraySize {
		sliceCount = s.arraySize - firstSlice
	}
	if mipCount == 0 || firstMip+mipCount > s.mipLevels {
		mipCount = s.mipLevels - firstMip
	}

	desc := &tex.Desc
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	switch {
	case typ == gfx.DSV:
		aspect = aspectMask(desc.Format)
	case isFormatDepthSupport(desc.Format):
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	if typ != gfx.SRV {
		mipCount = 1
	}
	viewType := textureViewType(desc, typ, sliceCount)
	if viewType == vk.ImageViewTypeCube {
		sliceCount = 6
	}

	h, err := d.drv.CreateImageView(&native.ImageViewInfo{
		Image:    s.image,
		ViewType: viewType,
		Format:   s.format,
		Range: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   firstMip,
			LevelCount:     mipCount,
			BaseArrayLayer: firstSlice,
			LayerCount:     sliceCount,
		},
	})
	if err != nil {
		return -1, errors.Wrap(err, "vk.CreateImageView()")
	}

	v := view{
		handle:     h,
		kind:       native.KindImageView,
		index:      -1,
		viewType:   viewType,
		format:     s.format,
		firstMip:   firstMip,
		mipCount:   mipCount,
		firstSlice: firstSlice,
		sliceCount: sliceCount,
	}
	switch typ {
	case gfx.SRV:
		v.bindless = BindlessSampledImage
		v.index, err = d.allocateBindless(v.bindless, native.DescriptorWrite{
			Images: []native.ImageDescriptor{{View: h, Layout: vk.ImageLayoutShaderReadOnlyOptimal}},
		}, fallback)
	case gfx.UAV:
		v.bindless = BindlessStorageImage
		v.index, err = d.allocateBindless(v.bindless, native.DescriptorWrite{
			Images: []native.ImageDescriptor{{View: h, Layout: vk.ImageLayoutGeneral}},
		}, fallback)
	}
	if err != nil {
		d.alloc.retire(native.KindImageView, h)
		return -1, err
	}
	return s.addSubresource(typ, v), nil
}
