// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memorybank

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/onewire/crc"
	"github.com/GermanBionicSystems/onewire/owbus"
)

// CRCPolicy selects how scratchpad frames are protected.
type CRCPolicy int

const (
	// CRCNone has no CRC on scratchpad frames.
	CRCNone CRCPolicy = iota
	// CRCPageSeeded appends a CRC16 seeded with 0 to scratchpad reads and to
	// writes reaching the end of the scratchpad.
	CRCPageSeeded
	// CRCPassword is CRCPageSeeded where the copy command carries the
	// read/write password.
	CRCPassword
)

// CommitPolicy selects how a copy scratchpad completes.
type CommitPolicy int

const (
	// CommitPolledStatus reads the status byte right after the command.
	CommitPolledStatus CommitPolicy = iota
	// CommitFixedDelay holds strong pull-up for CopyDelay after the command,
	// then reads the status byte.
	CommitFixedDelay
)

// Scratchpad commands shared by most devices.
const (
	WriteScratchpadCmd = 0x0f
	ReadScratchpadCmd  = 0xaa
	CopyScratchpadCmd  = 0x55
)

// ScratchpadConfig describes the scratchpad of a device.
type ScratchpadConfig struct {
	Description     string
	Length          int // power of two
	ExtraInfoLength int // target address and ending offset, usually 3
	WriteCmd        byte
	ReadCmd         byte
	CopyCmd         byte
	CRC             CRCPolicy
	Commit          CommitPolicy
	CopyDelay       time.Duration // strong pull-up hold for CommitFixedDelay
	Passwords       *Passwords    // for CRCPassword
}

// Scratchpad is the scratchpad of a device. It implements Stager and
// PagedBank as a single page bank.
type Scratchpad struct {
	cfg   ScratchpadConfig
	info  Info
	speed *SpeedCache

	mu     sync.Mutex
	verify bool
}

// NewScratchpad returns the scratchpad of the device behind speed.
func NewScratchpad(speed *SpeedCache, cfg *ScratchpadConfig) (*Scratchpad, error) {
	l := cfg.Length
	if l <= 0 || l&(l-1) != 0 {
		return nil, fmt.Errorf("memorybank: scratchpad length %d is not a power of two", l)
	}
	if cfg.ExtraInfoLength < 2 {
		return nil, fmt.Errorf("memorybank: scratchpad extra info must hold the target address")
	}
	if cfg.CRC == CRCPassword && cfg.Passwords == nil {
		return nil, fmt.Errorf("memorybank: password scratchpad without password store")
	}
	s := &Scratchpad{
		cfg:   *cfg,
		speed: speed,
		info: Info{
			Description:          cfg.Description,
			Size:                 l,
			PageLength:           l,
			MaxPacketDataLength:  l - 3,
			ReadWrite:            true,
			PowerDelivery:        cfg.Commit == CommitFixedDelay,
			PageAutoCRC:          cfg.CRC != CRCNone,
			ExtraInfoLength:      cfg.ExtraInfoLength,
			ExtraInfoDescription: "Target address, offset",
		},
		verify: true,
	}
	if s.info.Description == "" {
		s.info.Description = "Scratchpad"
	}
	return s, nil
}

func (s *Scratchpad) String() string {
	return s.info.Description
}

// Speed returns the speed cache shared by the banks using the scratchpad.
func (s *Scratchpad) Speed() *SpeedCache {
	return s.speed
}

// Info implements Bank.
func (s *Scratchpad) Info() Info {
	return s.info
}

// WriteVerification implements Bank.
func (s *Scratchpad) WriteVerification() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verify
}

// SetWriteVerification implements Bank.
func (s *Scratchpad) SetWriteVerification(v bool) {
	s.mu.Lock()
	s.verify = v
	s.mu.Unlock()
}

// CheckSpeed implements Stager.
func (s *Scratchpad) CheckSpeed() error {
	return s.speed.Check()
}

// ForceVerify implements Stager.
func (s *Scratchpad) ForceVerify() {
	s.speed.Invalidate()
}

// WriteScratchpad implements Stager.
//
// When the scratchpad has a CRC and data reaches its end, the CRC the device
// returns is checked.
func (s *Scratchpad) WriteScratchpad(addr int, data []byte) error {
	off := addr & (s.cfg.Length - 1)
	if len(data) == 0 || off+len(data) > s.cfg.Length {
		return fmt.Errorf("%w: %d bytes at scratchpad offset %d", ErrBoundsExceeded, len(data), off)
	}
	if err := s.speed.selectDev(); err != nil {
		return err
	}
	buf := make([]byte, 3, 3+len(data)+2)
	buf[0] = s.cfg.WriteCmd
	buf[1] = byte(addr)
	buf[2] = byte(addr >> 8)
	buf = append(buf, data...)
	withCRC := s.cfg.CRC != CRCNone && off+len(data) == s.cfg.Length
	if withCRC {
		buf = append(buf, 0xff, 0xff)
	}
	if err := s.speed.dev.Port.Block(buf); err != nil {
		return err
	}
	if withCRC && !crc.Check16(0, buf) {
		return s.speed.fail(fmt.Errorf("%w: write scratchpad CRC", ErrIntegrity))
	}
	return nil
}

// ReadScratchpad implements Stager.
func (s *Scratchpad) ReadScratchpad() ([]byte, []byte, error) {
	if err := s.speed.selectDev(); err != nil {
		return nil, nil, err
	}
	e := s.cfg.ExtraInfoLength
	n := 1 + e + s.cfg.Length
	if s.cfg.CRC != CRCNone {
		n += 2
	}
	buf := bytes.Repeat([]byte{0xff}, n)
	buf[0] = s.cfg.ReadCmd
	if err := s.speed.dev.Port.Block(buf); err != nil {
		return nil, nil, err
	}
	extra := buf[1 : 1+e]
	off := (int(extra[0]) | int(extra[1])<<8) & (s.cfg.Length - 1)
	end := 1 + e + s.cfg.Length - off
	if s.cfg.CRC != CRCNone && !crc.Check16(0, buf[:end+2]) {
		return nil, nil, s.speed.fail(fmt.Errorf("%w: read scratchpad CRC", ErrIntegrity))
	}
	return buf[1+e : end], extra, nil
}

// CopyScratchpad implements Stager.
//
// A status nibble of 0xA or 0x5 confirms the copy. With CRCPassword, 0xF
// means the device refused the password.
func (s *Scratchpad) CopyScratchpad(addr, n int) error {
	l := s.cfg.Length
	if n <= 0 || addr&(l-1)+n > l {
		return fmt.Errorf("%w: copy of %d bytes at scratchpad offset %d", ErrBoundsExceeded, n, addr&(l-1))
	}
	port := s.speed.dev.Port
	if s.cfg.Commit == CommitFixedDelay && !port.CanDeliverPower() {
		return ErrPowerUnavailable
	}
	if err := s.speed.selectDev(); err != nil {
		return err
	}
	buf := []byte{s.cfg.CopyCmd, byte(addr), byte(addr >> 8), byte((addr + n - 1) & (l - 1))}
	if s.cfg.CRC == CRCPassword {
		buf = append(buf, s.cfg.Passwords.forWrite()...)
	}
	var status byte
	switch s.cfg.Commit {
	case CommitFixedDelay:
		last := len(buf) - 1
		if err := port.Block(buf[:last]); err != nil {
			return err
		}
		if err := port.StartPowerDelivery(owbus.AfterNextByte); err != nil {
			return err
		}
		if err := port.WriteByte(buf[last]); err != nil {
			return err
		}
		sleep(s.cfg.CopyDelay)
		if err := port.SetPowerNormal(); err != nil {
			return err
		}
		var err error
		if status, err = port.ReadByte(); err != nil {
			return err
		}
	default:
		buf = append(buf, 0xff)
		if err := port.Block(buf); err != nil {
			return err
		}
		status = buf[len(buf)-1]
	}
	switch status & 0x0f {
	case 0x0a, 0x05:
		return nil
	case 0x0f:
		if s.cfg.CRC == CRCPassword {
			return ErrPasswordRejected
		}
	}
	return s.speed.fail(fmt.Errorf("%w: status %#02x", ErrCopyNotConfirmed, status))
}

// Read implements Bank.
//
// Bytes before the target address offset of the last write read as 0xFF.
func (s *Scratchpad) Read(start int, cont bool, p []byte) error {
	if start < 0 || start+len(p) > s.cfg.Length {
		return fmt.Errorf("%w: read of %d bytes at %d", ErrBoundsExceeded, len(p), start)
	}
	if !cont {
		if err := s.speed.Check(); err != nil {
			return err
		}
	}
	data, _, err := s.ReadScratchpad()
	if err != nil {
		return err
	}
	full := bytes.Repeat([]byte{0xff}, s.cfg.Length)
	copy(full[s.cfg.Length-len(data):], data)
	copy(p, full[start:])
	return nil
}

// Write implements Bank.
func (s *Scratchpad) Write(start int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if start < 0 || start+len(data) > s.cfg.Length {
		return fmt.Errorf("%w: write of %d bytes at %d", ErrBoundsExceeded, len(data), start)
	}
	if err := s.speed.Check(); err != nil {
		return err
	}
	if err := s.WriteScratchpad(start, data); err != nil {
		return err
	}
	if !s.WriteVerification() {
		return nil
	}
	got, extra, err := s.ReadScratchpad()
	if err != nil {
		return err
	}
	return s.speed.checkStaged(start, data, got, extra)
}

// ReadPage implements PagedBank.
func (s *Scratchpad) ReadPage(page int, cont bool, p []byte) error {
	return s.ReadPageExtra(page, cont, p, nil)
}

// ReadPageExtra implements PagedBank.
func (s *Scratchpad) ReadPageExtra(page int, cont bool, p, extra []byte) error {
	if page != 0 {
		return fmt.Errorf("%w: page %d", ErrBoundsExceeded, page)
	}
	if !cont {
		if err := s.speed.Check(); err != nil {
			return err
		}
	}
	data, e, err := s.ReadScratchpad()
	if err != nil {
		return err
	}
	full := bytes.Repeat([]byte{0xff}, s.cfg.Length)
	copy(full[s.cfg.Length-len(data):], data)
	copy(p, full)
	copy(extra, e)
	return nil
}

// ReadPageCRC implements PagedBank.
func (s *Scratchpad) ReadPageCRC(page int, cont bool, p []byte) error {
	return s.ReadPageCRCExtra(page, cont, p, nil)
}

// ReadPageCRCExtra implements PagedBank.
func (s *Scratchpad) ReadPageCRCExtra(page int, cont bool, p, extra []byte) error {
	if s.cfg.CRC == CRCNone {
		return fmt.Errorf("%w: %s has no CRC", ErrNotSupported, s.info.Description)
	}
	return s.ReadPageExtra(page, cont, p, extra)
}

// ReadPagePacket implements PagedBank.
func (s *Scratchpad) ReadPagePacket(page int, cont bool, p []byte) (int, error) {
	return s.ReadPagePacketExtra(page, cont, p, nil)
}

// ReadPagePacketExtra implements PagedBank.
func (s *Scratchpad) ReadPagePacketExtra(page int, cont bool, p, extra []byte) (int, error) {
	raw := make([]byte, s.cfg.Length)
	if err := s.ReadPageExtra(page, cont, raw, extra); err != nil {
		return 0, err
	}
	return readPacket(s.speed, &s.info, page, raw, p)
}

// WritePagePacket implements PagedBank.
func (s *Scratchpad) WritePagePacket(page int, data []byte) error {
	raw, err := writePacket(&s.info, page, data)
	if err != nil {
		return err
	}
	return s.Write(0, raw)
}

// checkStaged compares what the scratchpad holds with what was written at
// addr.
func (s *SpeedCache) checkStaged(addr int, want, got, extra []byte) error {
	if len(got) < len(want) || !bytes.Equal(got[:len(want)], want) {
		return s.fail(fmt.Errorf("%w: scratchpad read back differs", ErrIntegrity))
	}
	if ta := int(extra[0]) | int(extra[1])<<8; ta != addr {
		return s.fail(fmt.Errorf("%w: scratchpad target address %#04x, expected %#04x", ErrIntegrity, ta, addr))
	}
	return nil
}

var sleep = time.Sleep

var _ Stager = &Scratchpad{}
var _ PagedBank = &Scratchpad{}
