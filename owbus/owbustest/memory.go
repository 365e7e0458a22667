// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owbustest

import (
	"bytes"

	"github.com/GermanBionicSystems/onewire/crc"
	"periph.io/x/conn/v3/onewire"
)

// MemoryOpts describes a simulated scratchpad based memory device, the
// NVRAM, EEPROM and password protected EEPROM families.
type MemoryOpts struct {
	Addr             onewire.Address
	Size             int  // physical memory size in bytes
	PageLength       int  // page length for CRC protected reads
	ScratchpadLength int  // scratchpad length, a power of two
	CRC              bool // scratchpad writes and reads carry a CRC16
	CopyNeedsPower   bool // the copy only completes under strong pull-up
	FullRowOnly      bool // the copy fails unless the whole scratchpad is written

	CopyCmd         byte // 0x55, or 0x99 for copy with password
	ReadCRCCmd      byte // read memory with CRC, 0 when unsupported
	PasswordReadCmd byte // read memory with password, 0 when unsupported

	// PasswordAddr, when not zero, is the address of the 8 bytes read only
	// password register. The read/write password follows it and then the
	// password control byte; passwords are checked when the control byte is
	// 0xAA. Password registers read back as zeros.
	PasswordAddr int

	// LockAddr is the address of the first page protection byte and
	// LockPages the number of them. A protection byte of 0x55 write protects
	// its page and can no longer change.
	LockAddr  int
	LockPages int
}

// Memory is a simulated scratchpad based memory device.
//
// Mem holds the committed memory. Fault injection hooks let tests corrupt
// the scratchpad or force bits of the memory low.
type Memory struct {
	MemoryOpts
	Mem []byte

	// CorruptScratchpad, when set and returning true for the target address
	// of a write scratchpad, flips a bit in the first byte stored.
	CorruptScratchpad func(addr int) bool
	// StuckLow forces bits low when committing to the given addresses.
	StuckLow map[int]byte

	Copies int // successful copy scratchpad operations

	sp      []byte
	ta      int
	es      int
	valid   bool
	cmd     byte
	in      []byte
	out     []byte
	handler func(m *Memory, b byte, power bool) byte
}

// NewMemory returns a simulated device with all memory set to 0xFF.
func NewMemory(opts *MemoryOpts) *Memory {
	m := &Memory{MemoryOpts: *opts, Mem: bytes.Repeat([]byte{0xff}, opts.Size)}
	m.sp = bytes.Repeat([]byte{0xff}, opts.ScratchpadLength)
	return m
}

// Addr implements Device.
func (m *Memory) Addr() onewire.Address {
	return m.MemoryOpts.Addr
}

// Reset implements Device.
func (m *Memory) Reset() {
	m.handler = nil
	m.in = m.in[:0]
	m.out = nil
}

// Exchange implements Device.
func (m *Memory) Exchange(b byte, power bool) byte {
	if m.handler == nil {
		m.cmd = b
		m.in = append(m.in[:0], b)
		switch {
		case b == 0x0f:
			m.handler = (*Memory).writeScratchpad
		case b == 0xaa:
			m.handler = (*Memory).sendOut
			m.out = m.readScratchpad()
		case b == m.CopyCmd:
			m.handler = (*Memory).copyScratchpad
		case b == 0xf0:
			m.handler = (*Memory).readMemory
		case m.ReadCRCCmd != 0 && b == m.ReadCRCCmd:
			m.handler = (*Memory).readMemory
		case m.PasswordReadCmd != 0 && b == m.PasswordReadCmd:
			m.handler = (*Memory).readMemory
		default:
			m.handler = (*Memory).sendOut
		}
		return 0xff
	}
	return m.handler(m, b, power)
}

func (m *Memory) mask() int {
	return m.ScratchpadLength - 1
}

func (m *Memory) byteAt(addr int) byte {
	if addr < 0 || addr >= len(m.Mem) {
		return 0xff
	}
	if m.PasswordAddr != 0 && addr >= m.PasswordAddr && addr < m.PasswordAddr+16 {
		return 0
	}
	return m.Mem[addr]
}

// sendOut streams the prepared response, then releases the bus.
func (m *Memory) sendOut(b byte, power bool) byte {
	if len(m.out) == 0 {
		return 0xff
	}
	v := m.out[0]
	m.out = m.out[1:]
	return v
}

func (m *Memory) writeScratchpad(b byte, power bool) byte {
	if len(m.out) != 0 {
		return m.sendOut(b, power)
	}
	m.in = append(m.in, b)
	if len(m.in) < 3 {
		return 0xff
	}
	ta := int(m.in[1]) | int(m.in[2])<<8
	off := ta&m.mask() + len(m.in) - 4
	if len(m.in) == 3 {
		m.ta = ta
		m.valid = false
		return 0xff
	}
	if off >= m.ScratchpadLength {
		return 0xff
	}
	v := b
	if off == ta&m.mask() && m.CorruptScratchpad != nil && m.CorruptScratchpad(ta) {
		v ^= 0x01
	}
	m.sp[off] = v
	m.es = off
	m.valid = true
	if off == m.ScratchpadLength-1 && m.CRC {
		m.out = crc.Append16(0, append([]byte(nil), m.in...))[len(m.in):]
	}
	return 0xff
}

func (m *Memory) readScratchpad() []byte {
	off := m.ta & m.mask()
	r := []byte{0xaa, byte(m.ta), byte(m.ta >> 8), byte(m.es)}
	r = append(r, m.sp[off:]...)
	if m.CRC {
		r = crc.Append16(0, r)
	}
	return r[1:]
}

func (m *Memory) copyScratchpad(b byte, power bool) byte {
	if len(m.in) == 0 {
		return m.sendOut(b, power)
	}
	m.in = append(m.in, b)
	n := 4
	if m.CopyCmd == 0x99 {
		n += 8
	}
	if len(m.in) < n {
		return 0xff
	}
	ok := m.valid &&
		int(m.in[1])|int(m.in[2])<<8 == m.ta &&
		int(m.in[3])&m.mask() == m.es
	if m.CopyCmd == 0x99 && m.passwordsEnabled() && !bytes.Equal(m.in[4:12], m.password(8)) {
		ok = false
	}
	if m.CopyNeedsPower && !power {
		ok = false
	}
	if m.FullRowOnly && (m.ta&m.mask() != 0 || m.es != m.mask()) {
		ok = false
	}
	if ok && m.protected(m.ta) {
		ok = false
	}
	m.in = m.in[:0]
	if !ok {
		m.out = nil
		return 0xff
	}
	base := m.ta &^ m.mask()
	for i := m.ta & m.mask(); i <= m.es; i++ {
		a := base + i
		if a >= len(m.Mem) {
			break
		}
		if m.isLockByte(a) && m.Mem[a] == 0x55 {
			continue
		}
		m.Mem[a] = m.sp[i] &^ m.StuckLow[a]
	}
	m.Copies++
	m.valid = false
	m.out = bytes.Repeat([]byte{0xaa, 0x55}, 8)
	return 0xff
}

func (m *Memory) isLockByte(a int) bool {
	return m.LockPages != 0 && a >= m.LockAddr && a < m.LockAddr+m.LockPages
}

// protected reports whether the page holding addr is write protected.
func (m *Memory) protected(addr int) bool {
	if m.LockPages == 0 || m.PageLength == 0 {
		return false
	}
	page := addr / m.PageLength
	return page < m.LockPages && m.Mem[m.LockAddr+page] == 0x55
}

// readMemory handles plain reads, reads with CRC and reads with password.
func (m *Memory) readMemory(b byte, power bool) byte {
	if len(m.out) != 0 {
		return m.sendOut(b, power)
	}
	if m.out != nil {
		// Previous page sent; stream the next one.
		return m.nextPage(b, power)
	}
	m.in = append(m.in, b)
	need := 3
	if m.cmd == m.PasswordReadCmd && m.cmd != 0 {
		need += 8
	}
	if len(m.in) < need {
		return 0xff
	}
	m.ta = int(m.in[1]) | int(m.in[2])<<8
	switch {
	case m.cmd == 0xf0:
		m.out = []byte{}
		m.handler = (*Memory).streamMemory
	case m.cmd == m.PasswordReadCmd:
		if !m.passwordOK(m.in[3:11]) {
			m.handler = (*Memory).silent
			return 0xff
		}
		m.out = m.pageWithCRC(m.ta, append([]byte(nil), m.in...))
	default:
		m.out = m.pageWithCRC(m.ta, append([]byte(nil), m.in...))
	}
	return 0xff
}

// passwordOK reports whether pw opens read access.
func (m *Memory) passwordOK(pw []byte) bool {
	if !m.passwordsEnabled() {
		return true
	}
	return bytes.Equal(pw, m.password(0)) || bytes.Equal(pw, m.password(8))
}

func (m *Memory) passwordsEnabled() bool {
	return m.PasswordAddr != 0 && m.Mem[m.PasswordAddr+16] == 0xaa
}

func (m *Memory) password(off int) []byte {
	return m.Mem[m.PasswordAddr+off : m.PasswordAddr+off+8]
}

func (m *Memory) silent(b byte, power bool) byte {
	return 0xff
}

func (m *Memory) streamMemory(b byte, power bool) byte {
	v := m.byteAt(m.ta)
	m.ta++
	return v
}

func (m *Memory) nextPage(b byte, power bool) byte {
	m.ta = (m.ta/m.PageLength + 1) * m.PageLength
	m.out = m.pageWithCRC(m.ta, nil)
	return m.sendOut(b, power)
}

// pageWithCRC returns the bytes from addr to the end of its page followed by
// the inverted CRC16 of prefix and those bytes.
func (m *Memory) pageWithCRC(addr int, prefix []byte) []byte {
	end := (addr/m.PageLength + 1) * m.PageLength
	r := prefix
	for a := addr; a < end; a++ {
		r = append(r, m.byteAt(a))
	}
	return crc.Append16(0, r)[len(prefix):]
}

var _ Device = &Memory{}
