// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"time"

	"github.com/devblok/korugfx/src/gfx/vkr/native"
	"github.com/sirupsen/logrus"
)

// Defaults used for zero Config fields.
const (
	DefaultBufferCount        = 2
	DefaultCommandListCount   = 32
	DefaultDescriptorPoolSize = 256
	DefaultBindlessCapacity   = 1000
)

// Config configures a Device.
type Config struct {
	// BufferCount is the number of frames in flight.
	BufferCount uint32

	// CommandListCount is the number of command lists one frame can
	// record.
	CommandListCount uint32

	// BindlessCapacity is the size of each bindless heap. Zero entries
	// use DefaultBindlessCapacity.
	BindlessCapacity [BindlessKindCount]uint32

	// DescriptorPoolSize is the number of descriptor sets the first
	// pool of a command list holds. Pools double when exhausted.
	DescriptorPoolSize uint32

	// FenceTimeout bounds frame fence waits. Zero waits forever.
	FenceTimeout time.Duration

	Debug      bool
	Validation bool

	// PipelineCache seeds the driver pipeline cache.
	PipelineCache []byte

	Logger *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.BufferCount == 0 {
		c.BufferCount = DefaultBufferCount
	}
	if c.CommandListCount == 0 {
		c.CommandListCount = DefaultCommandListCount
	}
	if c.DescriptorPoolSize == 0 {
		c.DescriptorPoolSize = DefaultDescriptorPoolSize
	}
	if c.DescriptorPoolSize > maxDescriptorPoolSets {
		c.DescriptorPoolSize = maxDescriptorPoolSets
	}
	for i := range c.BindlessCapacity {
		if c.BindlessCapacity[i] == 0 {
			c.BindlessCapacity[i] = DefaultBindlessCapacity
		}
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

func (c Config) fenceTimeout() time.Duration {
	if c.FenceTimeout <= 0 {
		return -1
	}
	return c.FenceTimeout
}

// Open opens the named driver and creates a Device on it. Surface is
// the presentation surface the driver has to support, nil when headless.
func Open(driver string, surface interface{}, cfg Config) (*Device, error) {
	cfg = cfg.withDefaults()
	drv, err := native.Open(driver, native.Config{
		Logger:        cfg.Logger,
		Debug:         cfg.Debug,
		Validation:    cfg.Validation,
		Surface:       surface,
		PipelineCache: cfg.PipelineCache,
	})
	if err != nil {
		return nil, err
	}
	d, err := New(drv, cfg)
	if err != nil {
		drv.Close()
		return nil, err
	}
	return d, nil
}
