// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbustest

import (
	"bytes"

	"github.com/GermanBionicSystems/onewire/crc"
	"periph.io/x/conn/v3/onewire"
)

// EPROMOpts describes a simulated add-only memory device.
type EPROMOpts struct {
	Addr             onewire.Address
	Size             int // data memory size
	PageLength       int
	StatusSize       int // status memory size
	StatusPageLength int
	CRC16            bool // CRC16 instead of CRC8 on every frame
	// LockStatusAddr is the status byte holding the data page lock bits: a
	// cleared bit n write protects page n. -1 disables page protection.
	LockStatusAddr int
}

// EPROM is a simulated one time programmable device.
//
// Programming only clears bits, so the stored value is the AND of every
// value ever programmed.
type EPROM struct {
	EPROMOpts
	Mem    []byte
	Status []byte

	cmd   byte
	in    []byte
	out   []byte
	mem   []byte // bank addressed by the current command
	page  int
	addr  int
	data  byte
	phase int
}

const (
	epCommand = iota
	epAddress
	epStream
	epPageCRC
	epProgramCRC
	epAwaitPulse
	epResult
	epData
	epSilent
)

// NewEPROM returns a blank simulated EPROM.
func NewEPROM(opts *EPROMOpts) *EPROM {
	return &EPROM{
		EPROMOpts: *opts,
		Mem:       bytes.Repeat([]byte{0xff}, opts.Size),
		Status:    bytes.Repeat([]byte{0xff}, opts.StatusSize),
	}
}

// Addr implements Device.
func (e *EPROM) Addr() onewire.Address {
	return e.EPROMOpts.Addr
}

// Reset implements Device.
func (e *EPROM) Reset() {
	e.phase = epCommand
	e.in = e.in[:0]
	e.out = nil
}

// ProgramPulse implements Programmer.
func (e *EPROM) ProgramPulse() {
	if e.phase != epAwaitPulse {
		return
	}
	if e.addr < len(e.mem) && !e.locked() {
		e.mem[e.addr] &= e.data
	}
	e.phase = epResult
}

// Exchange implements Device.
func (e *EPROM) Exchange(b byte, power bool) byte {
	switch e.phase {
	case epCommand:
		e.cmd = b
		e.in = append(e.in[:0], b)
		switch b {
		case 0xf0, 0xc3, 0x0f:
			e.mem = e.Mem
			e.page = e.PageLength
		case 0xaa, 0x55:
			e.mem = e.Status
			e.page = e.StatusPageLength
		default:
			e.phase = epSilent
			return 0xff
		}
		e.phase = epAddress
		return 0xff
	case epAddress:
		e.in = append(e.in, b)
		if e.cmd == 0x0f || e.cmd == 0x55 {
			if len(e.in) < 4 {
				return 0xff
			}
			e.addr = int(e.in[1]) | int(e.in[2])<<8
			e.data = b
			e.out = e.appendCRC(0, e.in)
			e.phase = epProgramCRC
			return 0xff
		}
		if len(e.in) < 3 {
			return 0xff
		}
		e.addr = int(e.in[1]) | int(e.in[2])<<8
		if e.cmd == 0xf0 {
			if e.CRC16 {
				e.out = nil
			} else {
				e.out = e.appendCRC(0, e.in)
			}
			e.phase = epStream
			return 0xff
		}
		e.out = e.appendCRC(0, e.in)
		e.phase = epPageCRC
		return 0xff
	case epStream:
		if len(e.out) != 0 {
			return e.send()
		}
		v := e.byteAt(e.addr)
		e.addr++
		return v
	case epPageCRC:
		if len(e.out) != 0 {
			return e.send()
		}
		end := (e.addr/e.page + 1) * e.page
		var r []byte
		for ; e.addr < end; e.addr++ {
			r = append(r, e.byteAt(e.addr))
		}
		e.out = append(r, e.appendCRC(0, r)...)
		return e.send()
	case epProgramCRC:
		v := e.send()
		if len(e.out) == 0 {
			e.phase = epAwaitPulse
		}
		return v
	case epResult:
		e.phase = epData
		return e.byteAt(e.addr)
	case epData:
		e.addr++
		e.data = b
		if e.CRC16 {
			c := ^crc.Update16(uint16(e.addr), b)
			e.out = []byte{byte(c), byte(c >> 8)}
		} else {
			e.out = []byte{crc.Update8(byte(e.addr), b)}
		}
		e.phase = epProgramCRC
		return 0xff
	}
	return 0xff
}

func (e *EPROM) send() byte {
	v := e.out[0]
	e.out = e.out[1:]
	return v
}

func (e *EPROM) byteAt(a int) byte {
	if a < 0 || a >= len(e.mem) {
		return 0xff
	}
	return e.mem[a]
}

// locked reports whether the current data memory target is write protected.
func (e *EPROM) locked() bool {
	if e.cmd != 0x0f || e.LockStatusAddr < 0 {
		return false
	}
	page := e.addr / e.PageLength
	return e.Status[e.LockStatusAddr]&(1<<uint(page)) == 0
}

// appendCRC returns the CRC bytes the device sends after b: a CRC8, or an
// inverted CRC16 low byte first.
func (e *EPROM) appendCRC(seed uint16, b []byte) []byte {
	if e.CRC16 {
		return crc.Append16(seed, append([]byte(nil), b...))[len(b):]
	}
	return []byte{crc.CRC8(byte(seed), b)}
}

var _ Device = &EPROM{}
var _ Programmer = &EPROM{}
