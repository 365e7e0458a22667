// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memorybank

import (
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/onewire/crc"
	"github.com/GermanBionicSystems/onewire/owbus"
)

// PasswordLength is the length of a device password.
const PasswordLength = 8

// Passwords holds the passwords sent to a password protected device. They
// are the passwords the host knows, not necessarily the ones the device
// holds.
//
// The zero value has no password set; the device then receives zeros.
type Passwords struct {
	mu        sync.Mutex
	readOnly  []byte
	readWrite []byte
}

// SetReadOnly sets the read only password.
func (p *Passwords) SetReadOnly(pw []byte) error {
	if len(pw) != PasswordLength {
		return fmt.Errorf("memorybank: password must be %d bytes, got %d", PasswordLength, len(pw))
	}
	p.mu.Lock()
	p.readOnly = append([]byte(nil), pw...)
	p.mu.Unlock()
	return nil
}

// SetReadWrite sets the read/write password.
func (p *Passwords) SetReadWrite(pw []byte) error {
	if len(pw) != PasswordLength {
		return fmt.Errorf("memorybank: password must be %d bytes, got %d", PasswordLength, len(pw))
	}
	p.mu.Lock()
	p.readWrite = append([]byte(nil), pw...)
	p.mu.Unlock()
	return nil
}

// IsReadOnlySet reports whether the read only password was set.
func (p *Passwords) IsReadOnlySet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readOnly != nil
}

// IsReadWriteSet reports whether the read/write password was set.
func (p *Passwords) IsReadWriteSet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readWrite != nil
}

// forRead returns the password sent on reads: read/write when set, else
// read only.
func (p *Passwords) forRead() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.readWrite != nil:
		return append([]byte(nil), p.readWrite...)
	case p.readOnly != nil:
		return append([]byte(nil), p.readOnly...)
	}
	return make([]byte, PasswordLength)
}

// forWrite returns the password sent on copy scratchpad.
func (p *Passwords) forWrite() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readWrite != nil {
		return append([]byte(nil), p.readWrite...)
	}
	return make([]byte, PasswordLength)
}

// Region is a range of physical addresses holding password registers.
type Region struct {
	Addr int
	Len  int
}

func (r Region) overlaps(start, end int) bool {
	return start < r.Addr+r.Len && r.Addr < end
}

// PasswordConfig configures the password protected reads and writes of an NV
// bank.
type PasswordConfig struct {
	ReadCmd byte // read memory with password, 0x69
	// EnablePower keeps the bus under strong pull-up while the device checks
	// the password.
	EnablePower bool
	// Regions lists the password registers. A write that would pad them with
	// the current device content is refused.
	Regions   []Region
	Passwords *Passwords
}

// Strong pull-up hold while the device checks a password.
const (
	pagePasswordHold = 3 * time.Millisecond
	readPasswordHold = 10 * time.Millisecond
)

// NewPassword returns an NV bank whose reads carry a password.
//
// sp must be a scratchpad with the CRCPassword policy sharing cfg.Passwords.
func NewPassword(sp *Scratchpad, nv *NVConfig, cfg *PasswordConfig) (*NV, error) {
	if cfg.Passwords == nil {
		return nil, fmt.Errorf("memorybank: %s: no password store", nv.Description)
	}
	if cfg.EnablePower && !sp.speed.dev.Port.CanDeliverPower() {
		return nil, fmt.Errorf("%w: %s", ErrPowerUnavailable, nv.Description)
	}
	c := *nv
	c.PageAutoCRC = true
	c.ReadCRCCmd = cfg.ReadCmd
	n, err := NewNV(sp, &c)
	if err != nil {
		return nil, err
	}
	p := *cfg
	p.Regions = append([]Region(nil), cfg.Regions...)
	n.pw = &p
	return n, nil
}

// pwHeader selects the device and sends the password read command for addr.
// It returns the CRC16 seed of the data that follows.
func (n *NV) pwHeader(addr int, hold time.Duration) (uint16, error) {
	if err := n.speed.selectDev(); err != nil {
		return 0, err
	}
	buf := make([]byte, 3, 3+PasswordLength)
	buf[0] = n.pw.ReadCmd
	buf[1] = byte(addr)
	buf[2] = byte(addr >> 8)
	// The password bytes are part of the CRC16 the device returns.
	buf = append(buf, n.pw.Passwords.forRead()...)
	port := n.speed.dev.Port
	if !n.pw.EnablePower {
		if err := port.Block(buf); err != nil {
			return 0, err
		}
		return crc.CRC16(0, buf), nil
	}
	last := len(buf) - 1
	if err := port.Block(buf[:last]); err != nil {
		return 0, err
	}
	if err := port.StartPowerDelivery(owbus.AfterNextByte); err != nil {
		return 0, err
	}
	if err := port.WriteByte(buf[last]); err != nil {
		return 0, err
	}
	sleep(hold)
	if err := port.SetPowerNormal(); err != nil {
		return 0, err
	}
	return crc.CRC16(0, buf), nil
}

// checkPasswordTail refuses a write ending at end when padding it to the page
// end would rewrite a password register.
func (n *NV) checkPasswordTail(end int) error {
	pl := n.cfg.PageLength
	if end%pl == 0 {
		return nil
	}
	abs := n.cfg.StartPhysicalAddress + end
	pageEnd := n.cfg.StartPhysicalAddress + (end/pl+1)*pl
	for _, r := range n.pw.Regions {
		if r.overlaps(abs, pageEnd) {
			return fmt.Errorf("%w: %#04x..%#04x", ErrWouldCorruptPasswordRegion, abs, pageEnd)
		}
	}
	return nil
}
