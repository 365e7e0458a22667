// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds1977

import (
	"fmt"
	"time"

	"github.com/GermanBionicSystems/onewire/memorybank"
	"github.com/GermanBionicSystems/onewire/owbus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
)

// Family is the family code of the DS1977.
const Family = 0x37

// Commands specific to the DS1977.
const (
	copyWithPasswordCmd = 0x99
	readWithPasswordCmd = 0x69
)

// Register bank layout, relative to its start at 0x7FC0.
const (
	ReadOnlyPassword  = 0x00
	ReadWritePassword = 0x08
	PasswordControl   = 0x10

	passwordsEnabled = 0xaa
	registerBase     = 0x7fc0
)

// Opts contains options to pass to New.
type Opts struct {
	Speed owbus.Speed // Overdrive if every device on the bus supports it
	// EnablePower holds strong pull-up while the device checks a read
	// password. Parasite powered devices need it.
	EnablePower bool
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Speed:       owbus.Regular,
	EnablePower: true,
}

// New returns the DS1977 with the specified 64-bit address on p.
//
// The device is accessed without password until SetPasswords or
// SetDevicePasswords is called.
func New(p owbus.Port, addr onewire.Address, opts *Opts) (*Dev, error) {
	pws := &memorybank.Passwords{}
	speed := memorybank.NewSpeedCache(&owbus.Dev{Port: p, Addr: addr, Speed: opts.Speed})
	sp, err := memorybank.NewScratchpad(speed, &memorybank.ScratchpadConfig{
		Length:          64,
		ExtraInfoLength: 3,
		WriteCmd:        memorybank.WriteScratchpadCmd,
		ReadCmd:         memorybank.ReadScratchpadCmd,
		CopyCmd:         copyWithPasswordCmd,
		CRC:             memorybank.CRCPassword,
		Commit:          memorybank.CommitFixedDelay,
		CopyDelay:       10 * time.Millisecond,
		Passwords:       pws,
	})
	if err != nil {
		return nil, err
	}
	pc := &memorybank.PasswordConfig{
		ReadCmd:     readWithPasswordCmd,
		EnablePower: opts.EnablePower,
		Regions: []memorybank.Region{
			{Addr: registerBase + ReadOnlyPassword, Len: memorybank.PasswordLength},
			{Addr: registerBase + ReadWritePassword, Len: memorybank.PasswordLength},
		},
		Passwords: pws,
	}
	mem, err := memorybank.NewPassword(sp, &memorybank.NVConfig{
		Info: memorybank.Info{
			Description:         "Main Memory",
			Size:                registerBase,
			PageLength:          64,
			MaxPacketDataLength: 61,
			GeneralPurpose:      true,
			ReadWrite:           true,
			NonVolatile:         true,
			PowerDelivery:       true,
		},
		ReadCmd: memorybank.ReadMemoryCmd,
	}, pc)
	if err != nil {
		return nil, err
	}
	reg, err := memorybank.NewPassword(sp, &memorybank.NVConfig{
		Info: memorybank.Info{
			Description:          "Register control",
			Size:                 64,
			PageLength:           64,
			StartPhysicalAddress: registerBase,
			ReadWrite:            true,
			NonVolatile:          true,
			PowerDelivery:        true,
		},
		ReadCmd: memorybank.ReadMemoryCmd,
	}, pc)
	if err != nil {
		return nil, err
	}
	// Password registers read back as zeros.
	reg.SetWriteVerification(false)
	return &Dev{speed: speed, pws: pws, Scratchpad: sp, Memory: mem, Registers: reg}, nil
}

// Dev is a handle to a DS1977.
type Dev struct {
	speed      *memorybank.SpeedCache
	pws        *memorybank.Passwords
	Scratchpad *memorybank.Scratchpad
	Memory     *memorybank.NV
	Registers  *memorybank.NV
}

func (d *Dev) String() string {
	return "DS1977{" + d.speed.Dev().String() + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Banks returns the memory banks of the device, scratchpad first.
func (d *Dev) Banks() []memorybank.PagedBank {
	return []memorybank.PagedBank{d.Scratchpad, d.Memory, d.Registers}
}

// SetPasswords sets the passwords sent to the device. It doesn't change the
// passwords the device holds. A nil password is left unchanged.
func (d *Dev) SetPasswords(readOnly, readWrite []byte) error {
	if readOnly != nil {
		if err := d.pws.SetReadOnly(readOnly); err != nil {
			return err
		}
	}
	if readWrite != nil {
		if err := d.pws.SetReadWrite(readWrite); err != nil {
			return err
		}
	}
	return nil
}

// SetDevicePasswords writes both passwords and the password control register
// to the device, then uses them for the next accesses.
//
// The write is authorized with the current read/write password.
func (d *Dev) SetDevicePasswords(readOnly, readWrite []byte, enable bool) error {
	if len(readOnly) != memorybank.PasswordLength || len(readWrite) != memorybank.PasswordLength {
		return fmt.Errorf("ds1977: passwords must be %d bytes", memorybank.PasswordLength)
	}
	w := make([]byte, 0, PasswordControl+1)
	w = append(w, readOnly...)
	w = append(w, readWrite...)
	ctl := byte(0)
	if enable {
		ctl = passwordsEnabled
	}
	w = append(w, ctl)
	if err := d.Registers.Write(ReadOnlyPassword, w); err != nil {
		return err
	}
	return d.SetPasswords(readOnly, readWrite)
}

// PasswordsEnabled reads the password control register.
func (d *Dev) PasswordsEnabled() (bool, error) {
	var b [1]byte
	if err := d.Registers.Read(PasswordControl, false, b[:]); err != nil {
		return false, err
	}
	return b[0] == passwordsEnabled, nil
}

var _ conn.Resource = &Dev{}
