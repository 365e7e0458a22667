// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbustest

import (
	"fmt"
	"sync"

	"github.com/GermanBionicSystems/onewire/owbus"
)

// Op is the kind of a recorded port operation.
type Op int

const (
	OpReset Op = iota
	OpBlock
	OpWrite
	OpRead
	OpPower
	OpProgram
	OpNormal
	OpSpeed
)

func (o Op) String() string {
	switch o {
	case OpReset:
		return "reset"
	case OpBlock:
		return "block"
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpPower:
		return "power"
	case OpProgram:
		return "program"
	case OpNormal:
		return "normal"
	case OpSpeed:
		return "speed"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// IO registers one operation on the port.
//
// W holds what the master sent and R what came back. For OpPower and
// OpProgram, W holds the owbus.Condition; for OpSpeed, the owbus.Speed.
type IO struct {
	Op Op
	W  []byte
	R  []byte
}

// Record implements owbus.Port that records everything written to it.
//
// This can then be used to feed to Playback to do "replay" based unit tests.
type Record struct {
	sync.Mutex
	Port owbus.Port // Port can be nil if only writes are being recorded.
	Ops  []IO
}

func (r *Record) String() string {
	return "record"
}

// Reset implements owbus.Port.
func (r *Record) Reset() (bool, error) {
	r.Lock()
	defer r.Unlock()
	present := true
	var err error
	if r.Port != nil {
		present, err = r.Port.Reset()
	}
	var res byte
	if present {
		res = 1
	}
	r.Ops = append(r.Ops, IO{Op: OpReset, R: []byte{res}})
	return present, err
}

// Block implements owbus.Port.
func (r *Record) Block(buf []byte) error {
	r.Lock()
	defer r.Unlock()
	io := IO{Op: OpBlock, W: append([]byte(nil), buf...)}
	var err error
	if r.Port != nil {
		err = r.Port.Block(buf)
	}
	io.R = append([]byte(nil), buf...)
	r.Ops = append(r.Ops, io)
	return err
}

// WriteByte implements owbus.Port.
func (r *Record) WriteByte(b byte) error {
	r.Lock()
	defer r.Unlock()
	r.Ops = append(r.Ops, IO{Op: OpWrite, W: []byte{b}})
	if r.Port == nil {
		return nil
	}
	return r.Port.WriteByte(b)
}

// ReadByte implements owbus.Port.
func (r *Record) ReadByte() (byte, error) {
	r.Lock()
	defer r.Unlock()
	b := byte(0xff)
	var err error
	if r.Port != nil {
		b, err = r.Port.ReadByte()
	}
	r.Ops = append(r.Ops, IO{Op: OpRead, R: []byte{b}})
	return b, err
}

// StartPowerDelivery implements owbus.Port.
func (r *Record) StartPowerDelivery(c owbus.Condition) error {
	r.Lock()
	defer r.Unlock()
	r.Ops = append(r.Ops, IO{Op: OpPower, W: []byte{byte(c)}})
	if r.Port == nil {
		return nil
	}
	return r.Port.StartPowerDelivery(c)
}

// StartProgramPulse implements owbus.Port.
func (r *Record) StartProgramPulse(c owbus.Condition) error {
	r.Lock()
	defer r.Unlock()
	r.Ops = append(r.Ops, IO{Op: OpProgram, W: []byte{byte(c)}})
	if r.Port == nil {
		return nil
	}
	return r.Port.StartProgramPulse(c)
}

// SetPowerNormal implements owbus.Port.
func (r *Record) SetPowerNormal() error {
	r.Lock()
	defer r.Unlock()
	r.Ops = append(r.Ops, IO{Op: OpNormal})
	if r.Port == nil {
		return nil
	}
	return r.Port.SetPowerNormal()
}

// CanDeliverPower implements owbus.Port.
func (r *Record) CanDeliverPower() bool {
	return r.Port == nil || r.Port.CanDeliverPower()
}

// CanProgram implements owbus.Port.
func (r *Record) CanProgram() bool {
	return r.Port == nil || r.Port.CanProgram()
}

// Speed implements owbus.Port.
func (r *Record) Speed() owbus.Speed {
	if r.Port == nil {
		return owbus.Regular
	}
	return r.Port.Speed()
}

// SetSpeed implements owbus.Port.
func (r *Record) SetSpeed(s owbus.Speed) error {
	r.Lock()
	defer r.Unlock()
	r.Ops = append(r.Ops, IO{Op: OpSpeed, W: []byte{byte(s)}})
	if r.Port == nil {
		return nil
	}
	return r.Port.SetSpeed(s)
}

// Playback implements owbus.Port and plays back a recorded I/O flow.
//
// While "replay" type of unit tests are of limited value, they help
// reproduce known good traces.
type Playback struct {
	sync.Mutex
	Ops       []IO
	Count     int
	DontPanic bool
	speed     owbus.Speed
}

func (p *Playback) String() string {
	return "playback"
}

// Close implements io.Closer.
//
// It returns an error if not all the expected operations were consumed.
func (p *Playback) Close() error {
	p.Lock()
	defer p.Unlock()
	if len(p.Ops) != p.Count {
		return fmt.Errorf("owbustest: expected playback to be empty: I/O count %d; expected %d", p.Count, len(p.Ops))
	}
	return nil
}

// Reset implements owbus.Port.
func (p *Playback) Reset() (bool, error) {
	p.Lock()
	defer p.Unlock()
	io, err := p.next(OpReset, nil)
	if err != nil {
		return false, err
	}
	return len(io.R) == 1 && io.R[0] != 0, nil
}

// Block implements owbus.Port.
func (p *Playback) Block(buf []byte) error {
	p.Lock()
	defer p.Unlock()
	io, err := p.next(OpBlock, buf)
	if err != nil {
		return err
	}
	if len(io.R) != len(buf) {
		return p.fail(fmt.Errorf("owbustest: unexpected read buffer length (got %d, expected %d)", len(buf), len(io.R)))
	}
	copy(buf, io.R)
	return nil
}

// WriteByte implements owbus.Port.
func (p *Playback) WriteByte(b byte) error {
	p.Lock()
	defer p.Unlock()
	_, err := p.next(OpWrite, []byte{b})
	return err
}

// ReadByte implements owbus.Port.
func (p *Playback) ReadByte() (byte, error) {
	p.Lock()
	defer p.Unlock()
	io, err := p.next(OpRead, nil)
	if err != nil {
		return 0, err
	}
	if len(io.R) != 1 {
		return 0, p.fail(fmt.Errorf("owbustest: read op %d carries %d bytes", p.Count-1, len(io.R)))
	}
	return io.R[0], nil
}

// StartPowerDelivery implements owbus.Port.
func (p *Playback) StartPowerDelivery(c owbus.Condition) error {
	p.Lock()
	defer p.Unlock()
	_, err := p.next(OpPower, []byte{byte(c)})
	return err
}

// StartProgramPulse implements owbus.Port.
func (p *Playback) StartProgramPulse(c owbus.Condition) error {
	p.Lock()
	defer p.Unlock()
	_, err := p.next(OpProgram, []byte{byte(c)})
	return err
}

// SetPowerNormal implements owbus.Port.
func (p *Playback) SetPowerNormal() error {
	p.Lock()
	defer p.Unlock()
	_, err := p.next(OpNormal, nil)
	return err
}

// CanDeliverPower implements owbus.Port.
func (p *Playback) CanDeliverPower() bool {
	return true
}

// CanProgram implements owbus.Port.
func (p *Playback) CanProgram() bool {
	return true
}

// Speed implements owbus.Port.
func (p *Playback) Speed() owbus.Speed {
	p.Lock()
	defer p.Unlock()
	return p.speed
}

// SetSpeed implements owbus.Port.
func (p *Playback) SetSpeed(s owbus.Speed) error {
	p.Lock()
	defer p.Unlock()
	if _, err := p.next(OpSpeed, []byte{byte(s)}); err != nil {
		return err
	}
	p.speed = s
	return nil
}

func (p *Playback) next(op Op, w []byte) (IO, error) {
	if p.Count >= len(p.Ops) {
		return IO{}, p.fail(fmt.Errorf("owbustest: unexpected %s (count #%d) %#v", op, p.Count, w))
	}
	io := p.Ops[p.Count]
	if io.Op != op {
		return IO{}, p.fail(fmt.Errorf("owbustest: unexpected %s (count #%d), expected %s", op, p.Count, io.Op))
	}
	if op != OpReset && op != OpRead && string(io.W) != string(w) {
		return IO{}, p.fail(fmt.Errorf("owbustest: unexpected write (count #%d) %#v != %#v", p.Count, w, io.W))
	}
	p.Count++
	return io, nil
}

func (p *Playback) fail(err error) error {
	if !p.DontPanic {
		panic(err)
	}
	return err
}

var _ owbus.Port = &Record{}
var _ owbus.Port = &Playback{}
