// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds1993

import (
	"github.com/GermanBionicSystems/onewire/memorybank"
	"github.com/GermanBionicSystems/onewire/owbus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
)

// Family is the family code of the DS1993.
const Family = 0x06

// New returns the DS1993 with the specified 64-bit address on p.
func New(p owbus.Port, addr onewire.Address) (*Dev, error) {
	speed := memorybank.NewSpeedCache(&owbus.Dev{Port: p, Addr: addr})
	sp, err := memorybank.NewScratchpad(speed, &memorybank.ScratchpadConfig{
		Length:          32,
		ExtraInfoLength: 3,
		WriteCmd:        memorybank.WriteScratchpadCmd,
		ReadCmd:         memorybank.ReadScratchpadCmd,
		CopyCmd:         memorybank.CopyScratchpadCmd,
	})
	if err != nil {
		return nil, err
	}
	mem, err := memorybank.NewNV(sp, &memorybank.NVConfig{
		Info: memorybank.Info{
			Description:         "Main Memory",
			Size:                512,
			PageLength:          32,
			MaxPacketDataLength: 29,
			GeneralPurpose:      true,
			ReadWrite:           true,
			NonVolatile:         true,
		},
		ReadCmd: memorybank.ReadMemoryCmd,
	})
	if err != nil {
		return nil, err
	}
	return &Dev{speed: speed, Scratchpad: sp, Memory: mem}, nil
}

// Dev is a handle to a DS1993.
type Dev struct {
	speed      *memorybank.SpeedCache
	Scratchpad *memorybank.Scratchpad
	Memory     *memorybank.NV
}

func (d *Dev) String() string {
	return "DS1993{" + d.speed.Dev().String() + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Banks returns the memory banks of the device, scratchpad first.
func (d *Dev) Banks() []memorybank.PagedBank {
	return []memorybank.PagedBank{d.Scratchpad, d.Memory}
}

var _ conn.Resource = &Dev{}
