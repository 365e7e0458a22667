// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memorybank

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/GermanBionicSystems/onewire/crc"
	"github.com/GermanBionicSystems/onewire/owbus"
)

// EPROM commands.
const (
	ReadDataCRCCmd = 0xc3
	ReadStatusCmd  = 0xaa
	WriteMemoryCmd = 0x0f
	WriteStatusCmd = 0x55
)

// EPROMConfig describes a write once bank programmed byte by byte.
type EPROMConfig struct {
	Info
	// ReadCmd is the plain read memory command. Zero for banks that can only
	// be read page by page with ReadPageCRCCmd, like status memory.
	ReadCmd         byte
	ReadPageCRCCmd  byte
	WriteCmd        byte
	CRCBytes        int  // 1 for CRC8, 2 for CRC16
	CRCAfterAddress bool // the device sends a CRC after the page read command
	NormalReadCRC   bool // the device sends a CRC8 after the read command
}

// EPROM is a write once bank. Programming can only clear bits. It implements
// PagedBank; combine it with a LockScheme in an OTP to lock and redirect
// pages.
type EPROM struct {
	cfg   EPROMConfig
	speed *SpeedCache

	mu     sync.Mutex
	verify bool
}

// NewEPROM returns a write once bank of the device behind speed.
func NewEPROM(speed *SpeedCache, cfg *EPROMConfig) (*EPROM, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.CRCBytes != 1 && cfg.CRCBytes != 2 {
		return nil, fmt.Errorf("memorybank: %s: CRC must be 1 or 2 bytes, got %d", cfg.Description, cfg.CRCBytes)
	}
	if cfg.ReadCmd == 0 && !cfg.PageAutoCRC {
		return nil, fmt.Errorf("memorybank: %s: no way to read the bank", cfg.Description)
	}
	return &EPROM{cfg: *cfg, speed: speed, verify: true}, nil
}

func (e *EPROM) String() string {
	return e.cfg.Description
}

// Info implements Bank.
func (e *EPROM) Info() Info {
	return e.cfg.Info
}

// WriteVerification implements Bank.
func (e *EPROM) WriteVerification() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verify
}

// SetWriteVerification implements Bank.
//
// Without verification each byte is programmed in its own transaction and
// the value read back is ignored: the result is the AND of the previous and
// the new content.
func (e *EPROM) SetWriteVerification(v bool) {
	e.mu.Lock()
	e.verify = v
	e.mu.Unlock()
}

// Read implements Bank.
func (e *EPROM) Read(start int, cont bool, p []byte) error {
	if start < 0 || start+len(p) > e.cfg.Size {
		return fmt.Errorf("%w: read of %d bytes at %d", ErrBoundsExceeded, len(p), start)
	}
	if len(p) == 0 {
		return nil
	}
	if !cont {
		if err := e.speed.Check(); err != nil {
			return err
		}
	}
	if e.cfg.ReadCmd == 0 {
		return e.readPages(start, cont, p)
	}
	port := e.speed.dev.Port
	if !cont {
		if err := e.speed.selectDev(); err != nil {
			return err
		}
		addr := e.cfg.StartPhysicalAddress + start
		hdr := []byte{e.cfg.ReadCmd, byte(addr), byte(addr >> 8)}
		if e.cfg.NormalReadCRC {
			hdr = append(hdr, 0xff)
		}
		if err := port.Block(hdr); err != nil {
			return err
		}
		if e.cfg.NormalReadCRC && crc.CRC8(0, hdr) != 0 {
			return e.speed.fail(fmt.Errorf("%w: read memory CRC", ErrIntegrity))
		}
	}
	for i := range p {
		p[i] = 0xff
	}
	return port.Block(p)
}

// readPages reads through ReadPageCRC, for banks without read memory.
func (e *EPROM) readPages(start int, cont bool, p []byte) error {
	pl := e.cfg.PageLength
	first := start / pl
	last := (start + len(p) - 1) / pl
	raw := make([]byte, pl)
	end := start + len(p)
	for pg := first; pg <= last; pg++ {
		if err := e.ReadPageCRC(pg, cont || pg != first, raw); err != nil {
			return err
		}
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

// Write implements Bank.
//
// Each byte is sent with its address, the CRC echoed by the device is
// checked, then the program pulse is applied and the resulting byte read
// back. With write verification the following bytes continue the same
// transaction.
func (e *EPROM) Write(start int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	port := e.speed.dev.Port
	if !port.CanProgram() {
		return ErrProgramUnavailable
	}
	if e.cfg.ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, e.cfg.Description)
	}
	if start < 0 || start+len(data) > e.cfg.Size {
		return fmt.Errorf("%w: write of %d bytes at %d", ErrBoundsExceeded, len(data), start)
	}
	if err := e.speed.Check(); err != nil {
		return err
	}
	verify := e.WriteVerification()
	cont := false
	for i, b := range data {
		addr := e.cfg.StartPhysicalAddress + start + i
		got, err := e.programByte(addr, b, cont)
		if err != nil {
			return &PageError{Page: (start + i) / e.cfg.PageLength, Err: err}
		}
		if verify {
			if got != b {
				err := fmt.Errorf("%w: programmed %#02x at %#04x, read back %#02x", ErrIntegrity, b, addr, got)
				return &PageError{Page: (start + i) / e.cfg.PageLength, Err: e.speed.fail(err)}
			}
			cont = true
		}
	}
	return nil
}

// programByte programs b at addr and returns the byte read back.
//
// A continued write only sends the data byte; the device increments the
// address itself and seeds the CRC with it.
func (e *EPROM) programByte(addr int, b byte, cont bool) (byte, error) {
	port := e.speed.dev.Port
	if !cont {
		if err := e.speed.selectDev(); err != nil {
			return 0, err
		}
		buf := []byte{e.cfg.WriteCmd, byte(addr), byte(addr >> 8), b, 0xff, 0xff}[:4+e.cfg.CRCBytes]
		if err := port.Block(buf); err != nil {
			return 0, err
		}
		if !e.checkCRC(0, buf) {
			return 0, e.speed.fail(fmt.Errorf("%w: program echo CRC at %#04x", ErrIntegrity, addr))
		}
	} else {
		if err := port.WriteByte(b); err != nil {
			return 0, err
		}
		echo := make([]byte, 1, 1+e.cfg.CRCBytes)
		echo[0] = b
		for i := 0; i < e.cfg.CRCBytes; i++ {
			c, err := port.ReadByte()
			if err != nil {
				return 0, err
			}
			echo = append(echo, c)
		}
		if !e.checkCRC(uint16(addr), echo) {
			return 0, e.speed.fail(fmt.Errorf("%w: program echo CRC at %#04x", ErrIntegrity, addr))
		}
	}
	if err := port.StartProgramPulse(owbus.Now); err != nil {
		return 0, err
	}
	return port.ReadByte()
}

// checkCRC checks a frame ending with the device CRC.
func (e *EPROM) checkCRC(seed uint16, b []byte) bool {
	if e.cfg.CRCBytes == 2 {
		return crc.Check16(seed, b)
	}
	return crc.CRC8(byte(seed), b) == 0
}

// ReadPage implements PagedBank.
func (e *EPROM) ReadPage(page int, cont bool, p []byte) error {
	return e.ReadPageCRCExtra(page, cont, p, nil)
}

// ReadPageExtra implements PagedBank.
func (e *EPROM) ReadPageExtra(page int, cont bool, p, extra []byte) error {
	return e.ReadPageCRCExtra(page, cont, p, extra)
}

// ReadPageCRC implements PagedBank.
func (e *EPROM) ReadPageCRC(page int, cont bool, p []byte) error {
	return e.ReadPageCRCExtra(page, cont, p, nil)
}

// ReadPageCRCExtra implements PagedBank.
//
// The first frame holds the command, the address, the extra information and
// optionally a CRC of them. Each page is then followed by its own CRC.
func (e *EPROM) ReadPageCRCExtra(page int, cont bool, p, extra []byte) error {
	if !e.cfg.PageAutoCRC {
		return fmt.Errorf("%w: %s has no page CRC", ErrNotSupported, e.cfg.Description)
	}
	if page < 0 || page >= e.cfg.NumberOfPages() {
		return fmt.Errorf("%w: page %d", ErrBoundsExceeded, page)
	}
	pl := e.cfg.PageLength
	if len(p) < pl {
		return errShortBuffer(len(p), pl)
	}
	port := e.speed.dev.Port
	x := e.cfg.ExtraInfoLength
	var hdr []byte
	if !cont {
		if err := e.speed.Check(); err != nil {
			return err
		}
		if err := e.speed.selectDev(); err != nil {
			return err
		}
		addr := e.cfg.StartPhysicalAddress + page*pl
		n := 3 + x
		if e.cfg.CRCAfterAddress {
			n += e.cfg.CRCBytes
		}
		hdr = bytes.Repeat([]byte{0xff}, n)
		hdr[0] = e.cfg.ReadPageCRCCmd
		hdr[1] = byte(addr)
		hdr[2] = byte(addr >> 8)
	} else if x != 0 {
		hdr = bytes.Repeat([]byte{0xff}, x+e.cfg.CRCBytes)
	}
	var seed uint16
	if hdr != nil {
		if err := port.Block(hdr); err != nil {
			return err
		}
		if x != 0 || e.cfg.CRCAfterAddress {
			if !e.checkCRC(0, hdr) {
				return e.speed.fail(fmt.Errorf("%w: page header CRC", ErrIntegrity))
			}
			o := len(hdr) - x - e.cfg.CRCBytes
			copy(extra, hdr[o:o+x])
		} else {
			seed = e.runningCRC(hdr)
		}
	}
	raw := bytes.Repeat([]byte{0xff}, pl+e.cfg.CRCBytes)
	if err := port.Block(raw); err != nil {
		return err
	}
	if !e.checkCRC(seed, raw) {
		return e.speed.fail(fmt.Errorf("%w: page %d CRC in %s", ErrIntegrity, page, e.cfg.Description))
	}
	copy(p, raw[:pl])
	return nil
}

// runningCRC returns the CRC over b, used as seed of the next frame.
func (e *EPROM) runningCRC(b []byte) uint16 {
	if e.cfg.CRCBytes == 2 {
		return crc.CRC16(0, b)
	}
	return uint16(crc.CRC8(0, b))
}

// ReadPagePacket implements PagedBank.
func (e *EPROM) ReadPagePacket(page int, cont bool, p []byte) (int, error) {
	return e.ReadPagePacketExtra(page, cont, p, nil)
}

// ReadPagePacketExtra implements PagedBank.
func (e *EPROM) ReadPagePacketExtra(page int, cont bool, p, extra []byte) (int, error) {
	raw := make([]byte, e.cfg.PageLength)
	if err := e.ReadPageCRCExtra(page, cont, raw, extra); err != nil {
		return 0, err
	}
	return readPacket(e.speed, &e.cfg.Info, page, raw, p)
}

// WritePagePacket implements PagedBank.
func (e *EPROM) WritePagePacket(page int, data []byte) error {
	raw, err := writePacket(&e.cfg.Info, page, data)
	if err != nil {
		return err
	}
	return e.Write(page*e.cfg.PageLength, raw)
}

var _ PagedBank = &EPROM{}
