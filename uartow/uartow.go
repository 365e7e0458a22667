// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package uartow

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/GermanBionicSystems/onewire/owbus"
	"github.com/tarm/serial"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
)

// Conn is an open serial port. *serial.Port implements it.
type Conn interface {
	io.ReadWriter
	Flush() error
	Close() error
}

// Opener opens the serial port at the given baud rate.
type Opener func(baud int) (Conn, error)

// Opts contains options to pass to Open.
type Opts struct {
	ReadTimeout time.Duration // serial read timeout
	// Pullup, when set, drives an external strong pull-up: High enables it.
	Pullup gpio.PinOut
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	ReadTimeout: time.Second,
}

// Baud rates of reset pulses and time slots.
const (
	ResetBaud = 9600
	SlotBaud  = 115200
)

// Open returns a master driving the UART at name, like "/dev/ttyUSB0".
func Open(name string, opts *Opts) (*Dev, error) {
	open := func(baud int) (Conn, error) {
		return serial.OpenPort(&serial.Config{
			Name:        name,
			Baud:        baud,
			ReadTimeout: opts.ReadTimeout,
			Size:        serial.DefaultSize,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
		})
	}
	return New(name, open, opts)
}

// New returns a master using open to reach the UART.
//
// The port is opened at SlotBaud right away.
func New(name string, open Opener, opts *Opts) (*Dev, error) {
	d := &Dev{name: name, open: open, pullup: opts.Pullup}
	if d.pullup != nil {
		if err := d.pullup.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("uartow: %s: %w", name, err)
		}
	}
	if err := d.reopen(SlotBaud); err != nil {
		return nil, err
	}
	return d, nil
}

// Dev is a 1-wire master on a UART. It implements onewire.Bus and
// owbus.Port.
//
// Tx holds the lock for the whole transaction. The owbus.Port methods do not
// lock: memory bank operations span several of them, so callers sharing the
// Dev between goroutines hold the lock around each bank operation.
type Dev struct {
	sync.Mutex
	name     string
	open     Opener
	conn     Conn
	pullup   gpio.PinOut
	speed    owbus.Speed
	armPower bool
}

func (d *Dev) String() string {
	return "uartow(" + d.name + ")"
}

// Halt implements conn.Resource.
//
// It removes the strong pull-up.
func (d *Dev) Halt() error {
	if d.pullup == nil {
		return nil
	}
	return d.pullup.Out(gpio.Low)
}

// Close closes the serial port.
func (d *Dev) Close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// Tx performs a bus transaction, sending and receiving bytes, and ending by
// pulling the bus high either weakly or strongly depending on the value of
// power.
func (d *Dev) Tx(w, r []byte, power onewire.Pullup) error {
	d.Lock()
	defer d.Unlock()
	present, err := d.reset()
	if err != nil {
		return err
	}
	if !present {
		return busError("uartow: no device present")
	}
	strong := power == onewire.StrongPullup
	if strong && d.pullup == nil {
		return errors.New("uartow: strong pull-up requested without pull-up pin")
	}
	for i, b := range w {
		d.armPower = strong && i == len(w)-1 && len(r) == 0
		if _, err := d.exchange(b); err != nil {
			return err
		}
	}
	for i := range r {
		d.armPower = strong && i == len(r)-1
		if r[i], err = d.exchange(0xff); err != nil {
			return err
		}
	}
	return nil
}

// Search performs a "search" cycle on the 1-wire bus and returns the addresses
// of all devices on the bus if alarmOnly is false and of all devices in alarm
// state if alarmOnly is true.
func (d *Dev) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.Search(d, alarmOnly)
}

// SearchTriplet reads a bit and its complement and writes the search
// direction, as the ds248x triplet command does.
//
// SearchTriplet should not be used directly, use Search instead.
func (d *Dev) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	var tr onewire.TripletResult
	slots, err := d.xfer([]byte{0xff, 0xff})
	if err != nil {
		return tr, err
	}
	tr.GotZero = slots[0] != 0xff
	tr.GotOne = slots[1] != 0xff
	switch {
	case tr.GotZero && !tr.GotOne:
		tr.Taken = 0
	case tr.GotOne && !tr.GotZero:
		tr.Taken = 1
	case tr.GotZero && tr.GotOne:
		tr.Taken = direction & 1
	default:
		tr.Taken = 1
	}
	w := byte(0x00)
	if tr.Taken != 0 {
		w = 0xff
	}
	_, err = d.xfer([]byte{w})
	return tr, err
}

// Reset implements owbus.Port.
func (d *Dev) Reset() (bool, error) {
	return d.reset()
}

// Block implements owbus.Port.
func (d *Dev) Block(buf []byte) error {
	arm := d.armPower
	for i, b := range buf {
		d.armPower = arm && i == len(buf)-1
		v, err := d.exchange(b)
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

// WriteByte implements owbus.Port.
func (d *Dev) WriteByte(b byte) error {
	_, err := d.exchange(b)
	return err
}

// ReadByte implements owbus.Port.
func (d *Dev) ReadByte() (byte, error) {
	return d.exchange(0xff)
}

// StartPowerDelivery implements owbus.Port.
func (d *Dev) StartPowerDelivery(c owbus.Condition) error {
	if d.pullup == nil {
		return errors.New("uartow: no pull-up pin")
	}
	if c == owbus.AfterNextByte {
		d.armPower = true
		return nil
	}
	return d.pullup.Out(gpio.High)
}

// StartProgramPulse implements owbus.Port.
func (d *Dev) StartProgramPulse(c owbus.Condition) error {
	return errors.New("uartow: program pulse not supported")
}

// SetPowerNormal implements owbus.Port.
func (d *Dev) SetPowerNormal() error {
	d.armPower = false
	if d.pullup == nil {
		return nil
	}
	return d.pullup.Out(gpio.Low)
}

// CanDeliverPower implements owbus.Port.
func (d *Dev) CanDeliverPower() bool {
	return d.pullup != nil
}

// CanProgram implements owbus.Port.
func (d *Dev) CanProgram() bool {
	return false
}

// Speed implements owbus.Port.
func (d *Dev) Speed() owbus.Speed {
	return d.speed
}

// SetSpeed implements owbus.Port.
//
// Overdrive time slots are too short for a UART at 115200 bauds.
func (d *Dev) SetSpeed(s owbus.Speed) error {
	if s == owbus.Overdrive {
		return errors.New("uartow: overdrive not supported")
	}
	d.speed = s
	return nil
}

//

// reset sends a reset pulse at ResetBaud. A device answering with a
// presence pulse corrupts the echoed character.
func (d *Dev) reset() (bool, error) {
	d.armPower = false
	if err := d.reopen(ResetBaud); err != nil {
		return false, err
	}
	echo, err := d.xfer([]byte{0xf0})
	if err != nil {
		return false, err
	}
	if err := d.reopen(SlotBaud); err != nil {
		return false, err
	}
	switch echo[0] {
	case 0xf0:
		return false, nil
	case 0x00:
		return false, shortedBusError("uartow: bus has a short")
	}
	return true, nil
}

// exchange sends b as 8 time slots, LSB first, and returns the byte read
// back.
func (d *Dev) exchange(b byte) (byte, error) {
	var w [8]byte
	for i := range w {
		if b&(1<<uint(i)) != 0 {
			w[i] = 0xff
		}
	}
	arm := d.armPower
	d.armPower = false
	r, err := d.xfer(w[:])
	if err != nil {
		return 0, err
	}
	var v byte
	for i, s := range r {
		if s == 0xff {
			v |= 1 << uint(i)
		}
	}
	if arm {
		if err := d.pullup.Out(gpio.High); err != nil {
			return 0, err
		}
	}
	return v, nil
}

// xfer writes w and reads as many characters back.
func (d *Dev) xfer(w []byte) ([]byte, error) {
	if d.conn == nil {
		return nil, errors.New("uartow: port closed")
	}
	if err := d.conn.Flush(); err != nil {
		return nil, err
	}
	if _, err := d.conn.Write(w); err != nil {
		return nil, err
	}
	r := make([]byte, len(w))
	if _, err := io.ReadFull(d.conn, r); err != nil {
		return nil, fmt.Errorf("uartow: %d characters expected: %w", len(w), err)
	}
	return r, nil
}

// reopen reopens the port at baud; tarm/serial can't change the rate of an
// open port.
func (d *Dev) reopen(baud int) error {
	if err := d.Close(); err != nil {
		return err
	}
	c, err := d.open(baud)
	if err != nil {
		return fmt.Errorf("uartow: %s at %d bauds: %w", d.name, baud, err)
	}
	d.conn = c
	return nil
}

// shortedBusError implements error and onewire.ShortedBusError.
type shortedBusError string

func (e shortedBusError) Error() string   { return string(e) }
func (e shortedBusError) IsShorted() bool { return true }
func (e shortedBusError) BusError() bool  { return true }

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

var _ conn.Resource = &Dev{}
var _ onewire.BusSearcher = &Dev{}
var _ owbus.Port = &Dev{}
