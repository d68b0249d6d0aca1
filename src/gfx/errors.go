// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import "github.com/cockroachdb/errors"

// Initialization failures.
var (
	ErrNoDevice       = errors.New("no compatible graphics device")
	ErrMissingFeature = errors.New("required device feature is missing")
)

// Resource creation failures.
var (
	ErrInvalidDesc       = errors.New("invalid resource description")
	ErrUnsupported       = errors.New("unsupported by this device")
	ErrOutOfMemory       = errors.New("out of device memory")
	ErrBindlessExhausted = errors.New("bindless descriptor heap exhausted")
)

// Programmer contract violations, reported at the API boundary.
var (
	ErrInvalidWait        = errors.New("command list can only wait on an earlier command list")
	ErrInvalidBinding     = errors.New("resource does not match the shader binding")
	ErrInsideRenderPass   = errors.New("operation not allowed inside a render pass")
	ErrInvalidCommandList = errors.New("command list is not recording")
	ErrReleased           = errors.New("resource was released")
)

// ErrOutOfDate tells that a swap chain no longer matches its surface.
var ErrOutOfDate = errors.New("swap chain is out of date")
