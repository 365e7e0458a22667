// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memorybank

import (
	"fmt"
	"sync"

	"github.com/GermanBionicSystems/onewire/crc"
)

// Memory commands shared by most devices.
const (
	ReadMemoryCmd    = 0xf0
	ReadMemoryCRCCmd = 0xa5
)

// NVConfig describes a non volatile bank written through a scratchpad.
type NVConfig struct {
	Info
	ReadCmd    byte // read memory
	ReadCRCCmd byte // read memory with a CRC16 per page, used when PageAutoCRC
	// RowLength is the unit of a scratchpad cycle. It defaults to PageLength
	// and cannot exceed the scratchpad length.
	RowLength int
	// FullRowCopy is set for devices that only commit whole rows. Partial rows
	// are completed with the current memory content before being written.
	FullRowCopy bool
}

// NV is a non volatile bank: NVRAM or EEPROM. It implements PagedBank.
type NV struct {
	cfg   NVConfig
	sp    *Scratchpad
	speed *SpeedCache
	pw    *PasswordConfig

	mu     sync.Mutex
	verify bool
}

// NewNV returns a bank written through sp.
func NewNV(sp *Scratchpad, cfg *NVConfig) (*NV, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := *cfg
	if c.PageAutoCRC && c.ReadCRCCmd == 0 {
		return nil, fmt.Errorf("memorybank: %s: page CRC without read command", c.Description)
	}
	if c.RowLength == 0 {
		c.RowLength = c.PageLength
	}
	if c.RowLength > sp.cfg.Length || c.PageLength%c.RowLength != 0 || c.StartPhysicalAddress%c.RowLength != 0 {
		return nil, fmt.Errorf("memorybank: %s: invalid row length %d", c.Description, c.RowLength)
	}
	return &NV{cfg: c, sp: sp, speed: sp.speed, verify: true}, nil
}

func (n *NV) String() string {
	return n.cfg.Description
}

// Scratchpad returns the scratchpad the bank is written through.
func (n *NV) Scratchpad() *Scratchpad {
	return n.sp
}

// Info implements Bank.
func (n *NV) Info() Info {
	return n.cfg.Info
}

// WriteVerification implements Bank.
func (n *NV) WriteVerification() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verify
}

// SetWriteVerification implements Bank.
func (n *NV) SetWriteVerification(v bool) {
	n.mu.Lock()
	n.verify = v
	n.mu.Unlock()
}

// Read implements Bank.
//
// Password protected banks read whole pages; a continued read must start on
// a page boundary.
func (n *NV) Read(start int, cont bool, p []byte) error {
	if start < 0 || start+len(p) > n.cfg.Size {
		return fmt.Errorf("%w: read of %d bytes at %d", ErrBoundsExceeded, len(p), start)
	}
	if len(p) == 0 {
		return nil
	}
	if !cont {
		if err := n.speed.Check(); err != nil {
			return err
		}
	}
	if n.pw != nil {
		return n.readPassword(start, cont, p)
	}
	port := n.speed.dev.Port
	if !cont {
		if err := n.speed.selectDev(); err != nil {
			return err
		}
		addr := n.cfg.StartPhysicalAddress + start
		if err := port.Block([]byte{n.cfg.ReadCmd, byte(addr), byte(addr >> 8)}); err != nil {
			return err
		}
	}
	for i := range p {
		p[i] = 0xff
	}
	return port.Block(p)
}

func (n *NV) readPassword(start int, cont bool, p []byte) error {
	pl := n.cfg.PageLength
	if cont && start%pl != 0 {
		return fmt.Errorf("%w: continued read at %d is not on a page boundary", ErrBoundsExceeded, start)
	}
	first := start / pl
	last := (start + len(p) - 1) / pl
	var seed uint16
	if !cont {
		var err error
		if seed, err = n.pwHeader(n.cfg.StartPhysicalAddress+first*pl, readPasswordHold); err != nil {
			return err
		}
	}
	raw := make([]byte, pl+n.cfg.ExtraInfoLength+2)
	end := start + len(p)
	for pg := first; pg <= last; pg++ {
		if err := n.pageFrame(raw, seed); err != nil {
			return err
		}
		seed = 0
		lo, hi := pg*pl, (pg+1)*pl
		if lo < start {
			lo = start
		}
		if hi > end {
			hi = end
		}
		copy(p[lo-start:hi-start], raw[lo-pg*pl:])
	}
	return nil
}

// pageFrame reads a page, its extra information and its CRC into raw.
func (n *NV) pageFrame(raw []byte, seed uint16) error {
	for i := range raw {
		raw[i] = 0xff
	}
	if err := n.speed.dev.Port.Block(raw); err != nil {
		return err
	}
	if crc.Check16(seed, raw) {
		return nil
	}
	if n.pw != nil {
		return n.speed.fail(fmt.Errorf("%w: %s", ErrInvalidPasswordOrIntegrity, n.cfg.Description))
	}
	return n.speed.fail(fmt.Errorf("%w: page CRC in %s", ErrIntegrity, n.cfg.Description))
}

// Write implements Bank.
//
// The data is written one row at a time: write scratchpad, read it back and
// compare, copy scratchpad. If a row fails, the returned *PageError names its
// page; the rows before it are committed. With write verification, the
// written range is read back once all rows are committed.
func (n *NV) Write(start int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if start < 0 || start+len(data) > n.cfg.Size {
		return fmt.Errorf("%w: write of %d bytes at %d", ErrBoundsExceeded, len(data), start)
	}
	if n.cfg.ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, n.cfg.Description)
	}
	if err := n.speed.Check(); err != nil {
		return err
	}
	buf := data
	if n.pw != nil {
		var err error
		if buf, err = n.padPage(start, data); err != nil {
			return err
		}
	}
	bufStart := start
	if n.cfg.FullRowCopy {
		var err error
		if bufStart, buf, err = n.fillRows(start, buf); err != nil {
			return err
		}
	}
	rl := n.cfg.RowLength
	for off := 0; off < len(buf); {
		abs := n.cfg.StartPhysicalAddress + bufStart + off
		k := rl - abs%rl
		if k > len(buf)-off {
			k = len(buf) - off
		}
		if err := n.cycle(abs, buf[off:off+k]); err != nil {
			return &PageError{Page: (bufStart + off) / n.cfg.PageLength, Err: err}
		}
		off += k
	}
	if !n.WriteVerification() {
		return nil
	}
	got := make([]byte, len(data))
	if err := n.Read(start, false, got); err != nil {
		return err
	}
	for i := range data {
		if got[i] != data[i] {
			a := n.cfg.StartPhysicalAddress + start + i
			err := fmt.Errorf("%w: read back %#02x at %#04x, wrote %#02x", ErrIntegrity, got[i], a, data[i])
			return &PageError{Page: (start + i) / n.cfg.PageLength, Err: n.speed.fail(err)}
		}
	}
	return nil
}

// cycle stages data for abs in the scratchpad, verifies and commits it.
func (n *NV) cycle(abs int, data []byte) error {
	if err := n.sp.WriteScratchpad(abs, data); err != nil {
		return err
	}
	got, extra, err := n.sp.ReadScratchpad()
	if err != nil {
		return err
	}
	if err := n.speed.checkStaged(abs, data, got, extra); err != nil {
		return err
	}
	return n.sp.CopyScratchpad(abs, len(data))
}

// fillRows extends data at start to whole rows with the memory content.
func (n *NV) fillRows(start int, data []byte) (int, []byte, error) {
	rl := n.cfg.RowLength
	end := start + len(data)
	s := start - start%rl
	e := end
	if r := e % rl; r != 0 {
		e += rl - r
	}
	if s == start && e == end {
		return start, data, nil
	}
	buf := make([]byte, e-s)
	if start > s {
		if err := n.Read(s, false, buf[:start-s]); err != nil {
			return 0, nil, err
		}
	}
	if e > end {
		if err := n.Read(end, false, buf[end-s:]); err != nil {
			return 0, nil, err
		}
	}
	copy(buf[start-s:], data)
	return s, buf, nil
}

// padPage extends data at start to the end of its last page with the memory
// content, unless that would rewrite a password register.
func (n *NV) padPage(start int, data []byte) ([]byte, error) {
	end := start + len(data)
	if err := n.checkPasswordTail(end); err != nil {
		return nil, err
	}
	pl := n.cfg.PageLength
	if end%pl == 0 {
		return data, nil
	}
	tail := make([]byte, pl-end%pl)
	if err := n.Read(end, false, tail); err != nil {
		return nil, err
	}
	return append(append([]byte(nil), data...), tail...), nil
}

// ReadPage implements PagedBank.
func (n *NV) ReadPage(page int, cont bool, p []byte) error {
	return n.ReadPageExtra(page, cont, p, nil)
}

// ReadPageExtra implements PagedBank.
func (n *NV) ReadPageExtra(page int, cont bool, p, extra []byte) error {
	if n.cfg.PageAutoCRC {
		return n.ReadPageCRCExtra(page, cont, p, extra)
	}
	if extra != nil {
		return fmt.Errorf("%w: %s has no extra information", ErrNotSupported, n.cfg.Description)
	}
	if page < 0 || page >= n.cfg.NumberOfPages() {
		return fmt.Errorf("%w: page %d", ErrBoundsExceeded, page)
	}
	if len(p) < n.cfg.PageLength {
		return errShortBuffer(len(p), n.cfg.PageLength)
	}
	return n.Read(page*n.cfg.PageLength, cont, p[:n.cfg.PageLength])
}

// ReadPageCRC implements PagedBank.
func (n *NV) ReadPageCRC(page int, cont bool, p []byte) error {
	return n.ReadPageCRCExtra(page, cont, p, nil)
}

// ReadPageCRCExtra implements PagedBank.
//
// The CRC of the first page covers the command and address bytes; the CRC
// of a continued page only covers the page. Strong pull-up is only applied
// after the password header, not on continued pages.
func (n *NV) ReadPageCRCExtra(page int, cont bool, p, extra []byte) error {
	if !n.cfg.PageAutoCRC {
		return fmt.Errorf("%w: %s has no page CRC", ErrNotSupported, n.cfg.Description)
	}
	if page < 0 || page >= n.cfg.NumberOfPages() {
		return fmt.Errorf("%w: page %d", ErrBoundsExceeded, page)
	}
	pl := n.cfg.PageLength
	if len(p) < pl {
		return errShortBuffer(len(p), pl)
	}
	addr := n.cfg.StartPhysicalAddress + page*pl
	var seed uint16
	if !cont {
		if err := n.speed.Check(); err != nil {
			return err
		}
		if n.pw != nil {
			var err error
			if seed, err = n.pwHeader(addr, pagePasswordHold); err != nil {
				return err
			}
		} else {
			if err := n.speed.selectDev(); err != nil {
				return err
			}
			hdr := []byte{n.cfg.ReadCRCCmd, byte(addr), byte(addr >> 8)}
			if err := n.speed.dev.Port.Block(hdr); err != nil {
				return err
			}
			seed = crc.CRC16(0, hdr)
		}
	}
	raw := make([]byte, pl+n.cfg.ExtraInfoLength+2)
	if err := n.pageFrame(raw, seed); err != nil {
		return err
	}
	copy(p, raw[:pl])
	copy(extra, raw[pl:pl+n.cfg.ExtraInfoLength])
	return nil
}

// ReadPagePacket implements PagedBank.
func (n *NV) ReadPagePacket(page int, cont bool, p []byte) (int, error) {
	return n.ReadPagePacketExtra(page, cont, p, nil)
}

// ReadPagePacketExtra implements PagedBank.
func (n *NV) ReadPagePacketExtra(page int, cont bool, p, extra []byte) (int, error) {
	raw := make([]byte, n.cfg.PageLength)
	if err := n.ReadPageExtra(page, cont, raw, extra); err != nil {
		return 0, err
	}
	return readPacket(n.speed, &n.cfg.Info, page, raw, p)
}

// WritePagePacket implements PagedBank.
func (n *NV) WritePagePacket(page int, data []byte) error {
	raw, err := writePacket(&n.cfg.Info, page, data)
	if err != nil {
		return err
	}
	return n.Write(page*n.cfg.PageLength, raw)
}

var _ PagedBank = &NV{}
