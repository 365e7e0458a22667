// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memorybank

import (
	"errors"
	"fmt"
)

// Errors that may succeed when the operation is retried. They implement
// onewire.BusError.
var (
	// ErrDeviceNotFound is returned when no device answers the select.
	ErrDeviceNotFound error = busError("memorybank: device not found")
	// ErrIntegrity is returned on a CRC mismatch or when read back data
	// differs from what was written.
	ErrIntegrity error = busError("memorybank: integrity check failed")
	// ErrCopyNotConfirmed is returned when the device status after a copy
	// scratchpad does not report completion. The memory content is unknown.
	ErrCopyNotConfirmed error = busError("memorybank: copy scratchpad not confirmed")
	// ErrLockConfirmationFailed is returned when a lock could not be read
	// back after it was written. The page may or may not be locked.
	ErrLockConfirmationFailed error = busError("memorybank: lock not confirmed")
	// ErrInvalidPasswordOrIntegrity is returned when a password protected
	// read fails its CRC, either because of the bus or because the password
	// is wrong.
	ErrInvalidPasswordOrIntegrity error = busError("memorybank: invalid password or CRC")
	// ErrInvalidLength is returned when a packet length is out of range.
	ErrInvalidLength error = busError("memorybank: invalid packet length")
)

// Errors that will fail again if retried.
var (
	ErrBoundsExceeded             = errors.New("memorybank: access exceeds bank end")
	ErrPasswordRejected           = errors.New("memorybank: password rejected by device")
	ErrNotSupported               = errors.New("memorybank: operation not supported by this bank")
	ErrWouldCorruptPasswordRegion = errors.New("memorybank: write would overwrite password registers")
	ErrReadOnly                   = errors.New("memorybank: bank is read only")
	ErrNotGeneralPurpose          = errors.New("memorybank: bank is not general purpose memory")
	ErrPowerUnavailable           = errors.New("memorybank: strong pull-up required but not available")
	ErrProgramUnavailable         = errors.New("memorybank: program pulse required but not available")
)

// PageError is returned by a multi page write that failed on Page. The pages
// before it were committed.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("memorybank: page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

func errShortBuffer(got, want int) error {
	return fmt.Errorf("memorybank: buffer of %d bytes, need %d", got, want)
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }
