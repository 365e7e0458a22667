// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds2431

import (
	"time"

	"github.com/GermanBionicSystems/onewire/memorybank"
	"github.com/GermanBionicSystems/onewire/owbus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
)

// Family is the family code of the DS2431.
const Family = 0x2d

// Register bank layout, relative to its start at 0x80.
const (
	PageProtection = 0x00 // one byte per page
	CopyProtection = 0x04
	FactoryByte    = 0x05
	UserID         = 0x06 // two bytes
)

// Opts contains options to pass to New.
type Opts struct {
	Speed owbus.Speed // Overdrive if every device on the bus supports it
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Speed: owbus.Regular,
}

// New returns the DS2431 with the specified 64-bit address on p.
func New(p owbus.Port, addr onewire.Address, opts *Opts) (*Dev, error) {
	speed := memorybank.NewSpeedCache(&owbus.Dev{Port: p, Addr: addr, Speed: opts.Speed})
	sp, err := memorybank.NewScratchpad(speed, &memorybank.ScratchpadConfig{
		Length:          8,
		ExtraInfoLength: 3,
		WriteCmd:        memorybank.WriteScratchpadCmd,
		ReadCmd:         memorybank.ReadScratchpadCmd,
		CopyCmd:         memorybank.CopyScratchpadCmd,
		CRC:             memorybank.CRCPageSeeded,
		Commit:          memorybank.CommitFixedDelay,
		CopyDelay:       10 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	data, err := memorybank.NewNV(sp, &memorybank.NVConfig{
		Info: memorybank.Info{
			Description:         "Main Memory",
			Size:                128,
			PageLength:          32,
			MaxPacketDataLength: 29,
			GeneralPurpose:      true,
			ReadWrite:           true,
			NonVolatile:         true,
			PowerDelivery:       true,
		},
		ReadCmd:     memorybank.ReadMemoryCmd,
		RowLength:   8,
		FullRowCopy: true,
	})
	if err != nil {
		return nil, err
	}
	reg, err := memorybank.NewNV(sp, &memorybank.NVConfig{
		Info: memorybank.Info{
			Description:          "Register control",
			Size:                 8,
			PageLength:           8,
			StartPhysicalAddress: 0x80,
			ReadWrite:            true,
			NonVolatile:          true,
			PowerDelivery:        true,
		},
		ReadCmd:     memorybank.ReadMemoryCmd,
		FullRowCopy: true,
	})
	if err != nil {
		return nil, err
	}
	return &Dev{
		speed:      speed,
		Scratchpad: sp,
		Memory:     memorybank.NewOTP(data, memorybank.LockScheme{Lock: reg, LockOffset: PageProtection, LockFlags: true}),
		Registers:  reg,
	}, nil
}

// Dev is a handle to a DS2431.
type Dev struct {
	speed      *memorybank.SpeedCache
	Scratchpad *memorybank.Scratchpad
	// Memory is the EEPROM; its pages are locked in Registers.
	Memory    *memorybank.OTP
	Registers *memorybank.NV
}

func (d *Dev) String() string {
	return "DS2431{" + d.speed.Dev().String() + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Banks returns the memory banks of the device, scratchpad first.
func (d *Dev) Banks() []memorybank.PagedBank {
	return []memorybank.PagedBank{d.Scratchpad, d.Memory, d.Registers}
}

var _ conn.Resource = &Dev{}
