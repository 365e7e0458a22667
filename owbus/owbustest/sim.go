// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owbustest provides a simulated 1-wire segment implementing
// owbus.Port, a few simulated memory devices and a recorder for exact byte
// framing tests.
package owbustest

import (
	"errors"
	"sync"

	"github.com/GermanBionicSystems/onewire/owbus"
	"periph.io/x/conn/v3/onewire"
)

// Device is a slave on a simulated segment.
type Device interface {
	// Addr returns the 64-bit ROM address of the device.
	Addr() onewire.Address
	// Reset is called on every bus reset; the device returns to waiting for
	// a function command.
	Reset()
	// Exchange receives the byte written by the master and returns what the
	// device drives during the same time slots, 0xFF when it stays silent.
	// power is true when the strong pull-up is active once the byte is done.
	Exchange(b byte, power bool) byte
}

// Programmer is implemented by devices that react to a program pulse.
type Programmer interface {
	ProgramPulse()
}

// Sim is a simulated 1-wire segment. It implements owbus.Port.
type Sim struct {
	sync.Mutex
	Devices   []Device
	NoPower   bool // the master has no strong pull-up
	NoProgram bool // the master cannot generate program pulses

	Resets      int // number of reset pulses issued
	PowerEvents int // number of times strong pull-up was enabled
	Pulses      int // number of program pulses issued

	speed    owbus.Speed
	state    int
	rom      []byte
	selected Device
	armPower bool
	armPulse bool
	power    bool
}

const (
	stIdle = iota
	stROM
	stMatch
	stFunction
)

// ErrNoPower is returned when power delivery is requested from a Sim with
// NoPower set.
var ErrNoPower = errors.New("owbustest: strong pull-up not available")

// ErrNoProgram is returned when a program pulse is requested from a Sim with
// NoProgram set.
var ErrNoProgram = errors.New("owbustest: program pulse not available")

func (s *Sim) String() string {
	return "sim"
}

// Reset implements owbus.Port.
func (s *Sim) Reset() (bool, error) {
	s.Lock()
	defer s.Unlock()
	s.Resets++
	s.state = stROM
	s.selected = nil
	s.rom = s.rom[:0]
	s.power = false
	s.armPower = false
	s.armPulse = false
	for _, d := range s.Devices {
		d.Reset()
	}
	return len(s.Devices) != 0, nil
}

// Block implements owbus.Port.
func (s *Sim) Block(buf []byte) error {
	s.Lock()
	defer s.Unlock()
	for i := range buf {
		buf[i] = s.exchange(buf[i])
	}
	return nil
}

// WriteByte implements owbus.Port.
func (s *Sim) WriteByte(b byte) error {
	s.Lock()
	defer s.Unlock()
	s.exchange(b)
	return nil
}

// ReadByte implements owbus.Port.
func (s *Sim) ReadByte() (byte, error) {
	s.Lock()
	defer s.Unlock()
	return s.exchange(0xff), nil
}

// StartPowerDelivery implements owbus.Port.
func (s *Sim) StartPowerDelivery(c owbus.Condition) error {
	s.Lock()
	defer s.Unlock()
	if s.NoPower {
		return ErrNoPower
	}
	s.PowerEvents++
	if c == owbus.Now {
		s.power = true
	} else {
		s.armPower = true
	}
	return nil
}

// StartProgramPulse implements owbus.Port.
func (s *Sim) StartProgramPulse(c owbus.Condition) error {
	s.Lock()
	defer s.Unlock()
	if s.NoProgram {
		return ErrNoProgram
	}
	if c == owbus.AfterNextByte {
		s.armPulse = true
		return nil
	}
	s.pulse()
	return nil
}

// SetPowerNormal implements owbus.Port.
func (s *Sim) SetPowerNormal() error {
	s.Lock()
	defer s.Unlock()
	s.power = false
	s.armPower = false
	return nil
}

// CanDeliverPower implements owbus.Port.
func (s *Sim) CanDeliverPower() bool {
	return !s.NoPower
}

// CanProgram implements owbus.Port.
func (s *Sim) CanProgram() bool {
	return !s.NoProgram
}

// Speed implements owbus.Port.
func (s *Sim) Speed() owbus.Speed {
	s.Lock()
	defer s.Unlock()
	return s.speed
}

// SetSpeed implements owbus.Port.
func (s *Sim) SetSpeed(sp owbus.Speed) error {
	s.Lock()
	defer s.Unlock()
	s.speed = sp
	return nil
}

func (s *Sim) pulse() {
	s.Pulses++
	if p, ok := s.selected.(Programmer); ok {
		p.ProgramPulse()
	}
}

// exchange runs one byte through the ROM layer and the selected device.
func (s *Sim) exchange(b byte) byte {
	if s.armPower {
		s.armPower = false
		s.power = true
	}
	out := byte(0xff)
	switch s.state {
	case stROM:
		switch b {
		case owbus.MatchROM, owbus.OverdriveMatchROM:
			s.state = stMatch
		case owbus.SkipROM, owbus.OverdriveSkipROM:
			if len(s.Devices) == 1 {
				s.selected = s.Devices[0]
				s.state = stFunction
			} else {
				s.state = stIdle
			}
		default:
			s.state = stIdle
		}
	case stMatch:
		s.rom = append(s.rom, b)
		if len(s.rom) == 8 {
			var a onewire.Address
			for i, v := range s.rom {
				a |= onewire.Address(v) << (8 * uint(i))
			}
			s.state = stIdle
			for _, d := range s.Devices {
				if d.Addr() == a {
					s.selected = d
					s.state = stFunction
				}
			}
		}
	case stFunction:
		out = s.selected.Exchange(b, s.power)
	}
	if s.armPulse {
		s.armPulse = false
		s.pulse()
	}
	return b & out
}

var _ owbus.Port = &Sim{}
