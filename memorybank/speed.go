// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memorybank

import (
	"fmt"
	"sync"

	"github.com/GermanBionicSystems/onewire/owbus"
)

// SpeedCache tracks whether the bus is known to run at the speed of a device.
//
// It starts invalid. All the banks of a device share one.
type SpeedCache struct {
	dev *owbus.Dev

	mu    sync.Mutex
	valid bool
}

// NewSpeedCache returns an invalid cache for dev.
func NewSpeedCache(dev *owbus.Dev) *SpeedCache {
	return &SpeedCache{dev: dev}
}

// Dev returns the device the cache is for.
func (s *SpeedCache) Dev() *owbus.Dev {
	return s.dev
}

// Valid reports whether the speed was confirmed since the last Invalidate.
func (s *SpeedCache) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// Invalidate forces the next Check to renegotiate the speed.
func (s *SpeedCache) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

// Check renegotiates the speed when the cache is invalid or the port was
// switched to another speed, then marks it valid.
func (s *SpeedCache) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && s.dev.Port.Speed() == s.dev.Speed {
		return nil
	}
	if err := s.dev.DoSpeed(); err != nil {
		return err
	}
	s.valid = true
	return nil
}

// selectDev addresses the device, invalidating the cache on failure.
func (s *SpeedCache) selectDev() error {
	ok, err := s.dev.Select()
	if err != nil {
		s.Invalidate()
		return err
	}
	if !ok {
		s.Invalidate()
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, s.dev)
	}
	return nil
}

// fail invalidates the cache and returns err.
func (s *SpeedCache) fail(err error) error {
	s.Invalidate()
	return err
}
