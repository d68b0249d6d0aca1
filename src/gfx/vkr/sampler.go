// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx"
	"github.com/devblok/korugfx/src/gfx/vkr/native"
)

// CreateSampler implements gfx.Device.
func (d *Device) CreateSampler(desc *gfx.SamplerDesc) (gfx.Sampler, error) {
	modes := convertFilter(desc.Filter)
	if modes.reduction != 0 && !d.CheckCapability(gfx.CapSamplerMinMax) {
		return gfx.Sampler{}, errors.Wrap(gfx.ErrUnsupported, "min/max sampler reduction")
	}

	info := &native.SamplerInfo{
		MagFilter:     modes.mag,
		MinFilter:     modes.min,
		MipmapMode:    modes.mip,
		AddressModeU:  convertAddressMode(desc.AddressU),
		AddressModeV:  convertAddressMode(desc.AddressV),
		AddressModeW:  convertAddressMode(desc.AddressW),
		MipLodBias:    desc.MipLODBias,
		CompareEnable: modes.compare,
		CompareOp:     convertComparison(desc.ComparisonFunc),
		MinLod:        desc.MinLOD,
		MaxLod:        desc.MaxLOD,
		BorderColor:   convertBorderColor(desc.BorderColor),
		Reduction:     modes.reduction,
	}
	if modes.anisotropy {
		info.AnisotropyEnable = true
		info.MaxAnisotropy = float32(desc.MaxAnisotropy)
		if info.MaxAnisotropy < 1 {
			info.MaxAnisotropy = 1
		}
	}

	h, err := d.drv.CreateSampler(info)
	if err != nil {
		return gfx.Sampler{}, errors.Wrap(err, "vk.CreateSampler()")
	}
	s := &samplerState{sampler: h}
	s.dev = d
	s.index, err = d.allocateBindless(BindlessSampler, native.DescriptorWrite{
		Images: []native.ImageDescriptor{{Sampler: h}},
	}, true)
	if err != nil {
		d.drv.Destroy(native.KindSampler, h)
		return gfx.Sampler{}, err
	}

	track(s)
	return gfx.Sampler{DeviceChild: gfx.DeviceChild{Internal: s}, Desc: *desc}, nil
}
