// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package native

import "github.com/cockroachdb/errors"

// Driver level errors.
var (
	ErrOutOfPoolMemory = errors.New("descriptor pool exhausted")
	ErrOutOfDate       = errors.New("swapchain out of date")
	ErrTimeout         = errors.New("wait timed out")
	ErrDeviceLost      = errors.New("device lost")
	ErrUnsupported     = errors.New("not supported by driver")
	ErrInvalidHandle   = errors.New("invalid handle")
	ErrUnknownDriver   = errors.New("unknown driver")
)
