// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds2502

import (
	"github.com/GermanBionicSystems/onewire/memorybank"
	"github.com/GermanBionicSystems/onewire/owbus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
)

// Family is the family code of the DS2502.
const Family = 0x09

// Status memory layout.
const (
	writeProtectOffset = 0 // bit n cleared protects page n
	redirectOffset     = 1 // one byte per page
)

// New returns the DS2502 with the specified 64-bit address on p.
func New(p owbus.Port, addr onewire.Address) (*Dev, error) {
	speed := memorybank.NewSpeedCache(&owbus.Dev{Port: p, Addr: addr})
	data, err := memorybank.NewEPROM(speed, &memorybank.EPROMConfig{
		Info: memorybank.Info{
			Description:         "Main Memory",
			Size:                128,
			PageLength:          32,
			MaxPacketDataLength: 29,
			GeneralPurpose:      true,
			WriteOnce:           true,
			NonVolatile:         true,
			ProgramPulse:        true,
			PageAutoCRC:         true,
		},
		ReadCmd:         memorybank.ReadMemoryCmd,
		ReadPageCRCCmd:  memorybank.ReadDataCRCCmd,
		WriteCmd:        memorybank.WriteMemoryCmd,
		CRCBytes:        1,
		CRCAfterAddress: true,
		NormalReadCRC:   true,
	})
	if err != nil {
		return nil, err
	}
	status, err := memorybank.NewEPROM(speed, &memorybank.EPROMConfig{
		Info: memorybank.Info{
			Description:  "Write protect pages, page redirection",
			Size:         8,
			PageLength:   8,
			WriteOnce:    true,
			NonVolatile:  true,
			ProgramPulse: true,
			PageAutoCRC:  true,
		},
		ReadPageCRCCmd:  memorybank.ReadStatusCmd,
		WriteCmd:        memorybank.WriteStatusCmd,
		CRCBytes:        1,
		CRCAfterAddress: true,
	})
	if err != nil {
		return nil, err
	}
	scheme := memorybank.LockScheme{
		Lock:           status,
		LockOffset:     writeProtectOffset,
		Redirect:       status,
		RedirectOffset: redirectOffset,
	}
	return &Dev{speed: speed, Memory: memorybank.NewOTP(data, scheme), Status: status}, nil
}

// Dev is a handle to a DS2502.
type Dev struct {
	speed  *memorybank.SpeedCache
	Memory *memorybank.OTP
	Status *memorybank.EPROM
}

func (d *Dev) String() string {
	return "DS2502{" + d.speed.Dev().String() + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Banks returns the memory banks of the device.
func (d *Dev) Banks() []memorybank.PagedBank {
	return []memorybank.PagedBank{d.Memory, d.Status}
}

var _ conn.Resource = &Dev{}
