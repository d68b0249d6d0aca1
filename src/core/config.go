// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblok/korugfx/src/gfx/vkr"
	"github.com/gobuffalo/envy"
	"github.com/sirupsen/logrus"
)

// Environment variables read by LoadConfiguration.
const (
	EnvDriver           = "KORU_DRIVER"
	EnvBufferCount      = "KORU_BUFFER_COUNT"
	EnvCommandListCount = "KORU_COMMANDLIST_COUNT"
	EnvDebug            = "KORU_DEBUG"
	EnvValidation       = "KORU_VALIDATION"
	EnvFramesPerSecond  = "KORU_FPS"
	EnvShaderArchive    = "KORU_SHADER_ARCHIVE"
	EnvPipelineCache    = "KORU_PIPELINE_CACHE"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time   TimeConfiguration
	Window WindowConfiguration
	Device DeviceConfiguration

	// ShaderArchive is the kar archive shaders are loaded from.
	ShaderArchive string

	// PipelineCache is the kar archive the pipeline cache persists to.
	// Empty disables persistence.
	PipelineCache string
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int

	// EventPollDelay is the event loop period in milliseconds.
	EventPollDelay int
}

// WindowConfiguration is used to configure the presentation window
type WindowConfiguration struct {
	Title  string
	Width  uint32
	Height uint32
	VSync  bool
}

// DeviceConfiguration is used to configure the graphics device
type DeviceConfiguration struct {
	// Driver is the native driver name, "vulkan" or "soft".
	Driver string

	// BufferCount is the number of frames in flight.
	BufferCount uint32

	// SwapchainSize is the requested number of back buffers.
	SwapchainSize uint32

	CommandListCount uint32
	FenceTimeout     time.Duration

	Debug      bool
	Validation bool
}

// DefaultConfiguration returns the configuration used when nothing is
// overridden.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 144,
			EventPollDelay:  50,
		},
		Window: WindowConfiguration{
			Title:  "Koru3D",
			Width:  800,
			Height: 600,
			VSync:  true,
		},
		Device: DeviceConfiguration{
			Driver:           "vulkan",
			BufferCount:      vkr.DefaultBufferCount,
			SwapchainSize:    3,
			CommandListCount: vkr.DefaultCommandListCount,
		},
		ShaderArchive: "shaders.kar",
	}
}

// LoadConfiguration returns the default configuration with overrides
// taken from the environment.
func LoadConfiguration() (Configuration, error) {
	cfg := DefaultConfiguration()

	cfg.Device.Driver = envString(EnvDriver, cfg.Device.Driver)
	cfg.ShaderArchive = envString(EnvShaderArchive, cfg.ShaderArchive)
	cfg.PipelineCache = envString(EnvPipelineCache, cfg.PipelineCache)

	var err error
	if cfg.Device.BufferCount, err = envUint32(EnvBufferCount, cfg.Device.BufferCount); err != nil {
		return cfg, err
	}
	if cfg.Device.CommandListCount, err = envUint32(EnvCommandListCount, cfg.Device.CommandListCount); err != nil {
		return cfg, err
	}
	if cfg.Device.Debug, err = envBool(EnvDebug, cfg.Device.Debug); err != nil {
		return cfg, err
	}
	if cfg.Device.Validation, err = envBool(EnvValidation, cfg.Device.Validation); err != nil {
		return cfg, err
	}
	fps, err := envUint32(EnvFramesPerSecond, uint32(cfg.Time.FramesPerSecond))
	if err != nil {
		return cfg, err
	}
	cfg.Time.FramesPerSecond = int(fps)
	return cfg, nil
}

// envString treats empty variables as unset.
func envString(key, def string) string {
	if v := envy.Get(key, ""); v != "" {
		return v
	}
	return def
}

func envUint32(key string, def uint32) (uint32, error) {
	v := envString(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return def, errors.Wrapf(err, "%s", key)
	}
	return uint32(n), nil
}

func envBool(key string, def bool) (bool, error) {
	v := envString(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, errors.Wrapf(err, "%s", key)
	}
	return b, nil
}

// Vkr returns the device configuration in the form vkr.Open takes.
func (c DeviceConfiguration) Vkr(logger *logrus.Logger, pipelineCache []byte) vkr.Config {
	return vkr.Config{
		BufferCount:      c.BufferCount,
		CommandListCount: c.CommandListCount,
		FenceTimeout:     c.FenceTimeout,
		Debug:            c.Debug,
		Validation:       c.Validation,
		PipelineCache:    pipelineCache,
		Logger:           logger,
	}
}
