// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owbus defines the byte level 1-wire port that memory devices need.
//
// periph's onewire.Bus describes a whole transaction at once: reset, write,
// read and an optional strong pull-up after the last byte. Memory devices
// need more than that: strong pull-up or a program pulse in the middle of a
// transaction, a status byte clocked after the power is removed, and reads
// that continue where the previous one stopped. Port exposes those
// primitives; the bus masters in this module implement both Port and
// onewire.Bus.
package owbus

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/onewire"
)

// Speed is a 1-wire communication speed.
type Speed int

const (
	Regular   Speed = iota // 15.4kbps standard speed
	Flex                   // standard speed with relaxed timing
	Overdrive              // 125kbps
)

func (s Speed) String() string {
	switch s {
	case Regular:
		return "Regular"
	case Flex:
		return "Flex"
	case Overdrive:
		return "Overdrive"
	default:
		return fmt.Sprintf("Speed(%d)", int(s))
	}
}

// Condition selects when a power delivery or program pulse starts.
type Condition int

const (
	// Now starts it immediately.
	Now Condition = iota
	// AfterNextByte starts it right after the next byte (or the last byte of
	// the next Block) has been transferred, before the slave can sample the
	// bus low again.
	AfterNextByte
)

// Port is the 1-wire master as seen by memory devices.
//
// All operations block. Strong pull-up, once started, lasts until
// SetPowerNormal; the caller sleeps for the duration the device requires.
type Port interface {
	// Reset issues a reset pulse and reports whether any device answered
	// with a presence pulse.
	Reset() (bool, error)
	// Block exchanges buf on the bus in place. Bytes set to 0xFF are read
	// slots: after the call they hold what the slave sent. Other bytes are
	// written and read back wired-AND.
	Block(buf []byte) error
	// WriteByte writes a single byte.
	WriteByte(b byte) error
	// ReadByte reads a single byte.
	ReadByte() (byte, error)
	// StartPowerDelivery enables the strong pull-up.
	StartPowerDelivery(c Condition) error
	// StartProgramPulse applies the 12V EPROM programming pulse.
	StartProgramPulse(c Condition) error
	// SetPowerNormal returns the bus to its weak pull-up.
	SetPowerNormal() error
	// CanDeliverPower reports whether the port supports strong pull-up.
	CanDeliverPower() bool
	// CanProgram reports whether the port can generate program pulses.
	CanProgram() bool
	// Speed returns the current communication speed.
	Speed() Speed
	// SetSpeed changes the communication speed of the port. It does not talk
	// to the slaves.
	SetSpeed(s Speed) error
}

// ROM commands.
const (
	MatchROM          = 0x55
	SkipROM           = 0xcc
	OverdriveSkipROM  = 0x3c
	OverdriveMatchROM = 0x69
)

// ErrNoPresence is returned by DoSpeed when no slave answers the reset that
// follows a speed change.
var ErrNoPresence = busError("owbus: no presence pulse after speed change")

// Dev is a device on a Port.
type Dev struct {
	Port  Port
	Addr  onewire.Address
	Speed Speed // fastest speed the device supports
}

func (d *Dev) String() string {
	if s, ok := d.Port.(fmt.Stringer); ok {
		return fmt.Sprintf("%s(%#016x)", s, uint64(d.Addr))
	}
	return fmt.Sprintf("%#016x", uint64(d.Addr))
}

// Select resets the bus and addresses the device with Match ROM.
//
// It returns false if no device answered the reset.
func (d *Dev) Select() (bool, error) {
	present, err := d.Port.Reset()
	if err != nil || !present {
		return false, err
	}
	var buf [9]byte
	buf[0] = MatchROM
	AddrBytes(buf[1:], d.Addr)
	if err := d.Port.Block(buf[:]); err != nil {
		return false, err
	}
	return true, nil
}

// DoSpeed brings the port to the speed the device uses.
//
// Overdrive devices are put into overdrive with Overdrive Skip ROM, which
// switches every overdrive capable slave on the bus.
func (d *Dev) DoSpeed() error {
	if d.Speed != Overdrive {
		if d.Port.Speed() == d.Speed {
			return nil
		}
		return d.Port.SetSpeed(d.Speed)
	}
	if err := d.Port.SetSpeed(Regular); err != nil {
		return err
	}
	if _, err := d.Port.Reset(); err != nil {
		return err
	}
	if err := d.Port.WriteByte(OverdriveSkipROM); err != nil {
		return err
	}
	if err := d.Port.SetSpeed(Overdrive); err != nil {
		return err
	}
	present, err := d.Port.Reset()
	if err != nil {
		return err
	}
	if !present {
		return ErrNoPresence
	}
	return nil
}

// AddrBytes stores the 64-bit ROM address into b in bus order, family code
// first. b must be at least 8 bytes long.
func AddrBytes(b []byte, a onewire.Address) {
	_ = b[7]
	for i := 0; i < 8; i++ {
		b[i] = byte(a >> (8 * uint(i)))
	}
}

// IsBusError reports whether err is a transient error on the 1-wire bus, as
// defined by onewire.BusError. Such errors can be retried.
func IsBusError(err error) bool {
	var be onewire.BusError
	return errors.As(err, &be) && be.BusError()
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }
