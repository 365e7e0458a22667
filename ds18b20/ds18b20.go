// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/onewire/memorybank"
	"github.com/GermanBionicSystems/onewire/owbus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
)

// Family code of the specific device type
type Family byte

func (f Family) String() string {
	switch f {
	case DS18S20:
		return "DS18S20"
	case DS18B20:
		return "DS18B20"
	default:
		return "unknown"
	}
}

const DS18B20 Family = 0x28
const DS18S20 Family = 0x10

// Function commands, datasheet p.11.
const (
	writeScratchpadCmd = 0x4e
	readScratchpadCmd  = 0xbe
	copyScratchpadCmd  = 0x48
	recallCmd          = 0xb8
)

// Scratchpad layout.
const (
	thOffset     = 2
	configOffset = 4
	spadLength   = 8
)

// copyDelay is the strong pull-up hold while the scratchpad is copied to
// EEPROM.
const copyDelay = 10 * time.Millisecond

// New returns an object that communicates over 1-wire to the DS18B20 sensor
// with the specified 64-bit address.
//
// resolutionBits must be in the range 9..12. When the device is configured
// otherwise, the new resolution is written and saved to EEPROM.
func New(p owbus.Port, addr onewire.Address, resolutionBits int) (*Dev, error) {
	if resolutionBits < 9 || resolutionBits > 12 {
		return nil, errors.New("ds18b20: invalid resolutionBits")
	}
	d := &Dev{speed: memorybank.NewSpeedCache(&owbus.Dev{Port: p, Addr: addr})}
	d.Scratchpad = &Scratchpad{speed: d.speed, family: d.Family(), verify: true}

	// Start by reading the scratchpad memory, this will tell us whether we can
	// talk to the device correctly and also how it's configured.
	bits, err := d.Resolution()
	if err != nil {
		return nil, err
	}
	if bits != resolutionBits {
		if err := d.SetResolution(resolutionBits); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Dev is a handle to a Dallas Semi / Maxim DS18B20 temperature sensor on a
// 1-wire bus.
type Dev struct {
	speed *memorybank.SpeedCache
	// Scratchpad exposes the alarm thresholds and configuration register.
	Scratchpad *Scratchpad
}

func (d *Dev) Family() Family {
	return Family(d.speed.Dev().Addr & 0xFF)
}

func (d *Dev) String() string {
	return d.Family().String() + "{" + d.speed.Dev().String() + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Banks returns the memory banks of the device.
func (d *Dev) Banks() []memorybank.Bank {
	return []memorybank.Bank{d.Scratchpad}
}

// Resolution returns the configured conversion resolution in bits.
//
// The DS18S20 has a fixed 9 bits resolution.
func (d *Dev) Resolution() (int, error) {
	var spad [spadLength]byte
	if err := d.Scratchpad.Read(0, false, spad[:]); err != nil {
		return 0, err
	}
	if d.Family() == DS18S20 {
		return 9, nil
	}
	return int(spad[configOffset]>>5) + 9, nil
}

// SetResolution writes the resolution in the configuration register and
// saves it to EEPROM.
func (d *Dev) SetResolution(bits int) error {
	if bits < 9 || bits > 12 {
		return errors.New("ds18b20: invalid resolution")
	}
	if d.Family() == DS18S20 {
		if bits != 9 {
			return fmt.Errorf("ds18b20: %w: DS18S20 resolution", memorybank.ErrNotSupported)
		}
		return nil
	}
	return d.Scratchpad.Write(configOffset, []byte{byte((bits-9)<<5) | 0x1f})
}

// Scratchpad is the 8 bytes scratchpad of the thermometer as a memory bank.
//
// Bytes 0 and 1 hold the last temperature, 2 and 3 the TH and TL alarm
// thresholds and 4 the configuration register. Only TH, TL and the
// configuration can be written; a write is saved to EEPROM.
type Scratchpad struct {
	speed  *memorybank.SpeedCache
	family Family

	mu     sync.Mutex
	verify bool
}

func (s *Scratchpad) String() string {
	return "Temperature"
}

// Info implements memorybank.Bank.
func (s *Scratchpad) Info() memorybank.Info {
	return memorybank.Info{
		Description:   "Temperature",
		Size:          spadLength,
		PageLength:    spadLength,
		ReadWrite:     true,
		PowerDelivery: true,
	}
}

// WriteVerification implements memorybank.Bank.
func (s *Scratchpad) WriteVerification() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verify
}

// SetWriteVerification implements memorybank.Bank.
func (s *Scratchpad) SetWriteVerification(v bool) {
	s.mu.Lock()
	s.verify = v
	s.mu.Unlock()
}

// Read implements memorybank.Bank.
//
// The scratchpad is read whole and its CRC checked; cont is ignored.
func (s *Scratchpad) Read(start int, cont bool, p []byte) error {
	if start < 0 || start+len(p) > spadLength {
		return fmt.Errorf("ds18b20: %w: read %d bytes at %d", memorybank.ErrBoundsExceeded, len(p), start)
	}
	if len(p) == 0 {
		return nil
	}
	spad, err := s.read(false)
	if err != nil {
		return err
	}
	copy(p, spad[start:])
	return nil
}

// Write implements memorybank.Bank.
//
// The current thresholds and configuration are recalled from EEPROM and
// merged with data, written to the scratchpad and copied to EEPROM under
// strong pull-up.
func (s *Scratchpad) Write(start int, data []byte) error {
	end := start + len(data)
	if start < 0 || end > spadLength {
		return fmt.Errorf("ds18b20: %w: write %d bytes at %d", memorybank.ErrBoundsExceeded, len(data), start)
	}
	if len(data) == 0 {
		return nil
	}
	if start < thOffset || end > thOffset+s.writable() {
		return fmt.Errorf("ds18b20: %w: only TH, TL and configuration are writable", memorybank.ErrReadOnly)
	}
	dev := s.speed.Dev()
	if !dev.Port.CanDeliverPower() {
		return fmt.Errorf("ds18b20: %w", memorybank.ErrPowerUnavailable)
	}
	spad, err := s.read(true)
	if err != nil {
		return err
	}
	copy(spad[start:], data)
	w := spad[thOffset : thOffset+s.writable()]

	if err := s.selectDev(); err != nil {
		return err
	}
	buf := append([]byte{writeScratchpadCmd}, w...)
	if err := dev.Port.Block(buf); err != nil {
		return err
	}
	if s.WriteVerification() {
		got, err := s.read(false)
		if err != nil {
			return err
		}
		for i, b := range w {
			if got[thOffset+i] != b {
				s.speed.Invalidate()
				return fmt.Errorf("ds18b20: %w: scratchpad byte %d is %#x, wrote %#x", memorybank.ErrIntegrity, thOffset+i, got[thOffset+i], b)
			}
		}
	}
	return s.copyToEEPROM()
}

// writable is the number of writable bytes from TH.
func (s *Scratchpad) writable() int {
	if s.family == DS18S20 {
		return 2
	}
	return 3
}

func (s *Scratchpad) selectDev() error {
	if err := s.speed.Check(); err != nil {
		return err
	}
	present, err := s.speed.Dev().Select()
	if err != nil {
		return err
	}
	if !present {
		s.speed.Invalidate()
		return fmt.Errorf("ds18b20: %w", memorybank.ErrDeviceNotFound)
	}
	return nil
}

// read reads the scratchpad and checks its CRC, optionally recalling the
// EEPROM content first.
func (s *Scratchpad) read(recall bool) ([]byte, error) {
	if err := s.selectDev(); err != nil {
		return nil, err
	}
	port := s.speed.Dev().Port
	if recall {
		if err := port.WriteByte(recallCmd); err != nil {
			return nil, err
		}
		if err := s.selectDev(); err != nil {
			return nil, err
		}
	}
	buf := make([]byte, 1+spadLength+1)
	for i := range buf {
		buf[i] = 0xff
	}
	buf[0] = readScratchpadCmd
	if err := port.Block(buf); err != nil {
		return nil, err
	}
	spad := buf[1:]
	if !onewire.CheckCRC(spad) {
		s.speed.Invalidate()
		for _, b := range spad {
			if b != 0xff {
				return nil, fmt.Errorf("ds18b20: %w: incorrect scratchpad CRC", memorybank.ErrIntegrity)
			}
		}
		return nil, fmt.Errorf("ds18b20: %w: device did not respond", memorybank.ErrDeviceNotFound)
	}
	return spad[:spadLength], nil
}

// copyToEEPROM saves TH, TL and the configuration.
func (s *Scratchpad) copyToEEPROM() error {
	if err := s.selectDev(); err != nil {
		return err
	}
	port := s.speed.Dev().Port
	if err := port.StartPowerDelivery(owbus.AfterNextByte); err != nil {
		return err
	}
	if err := port.WriteByte(copyScratchpadCmd); err != nil {
		port.SetPowerNormal()
		return err
	}
	sleep(copyDelay)
	return port.SetPowerNormal()
}

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ memorybank.Bank = &Scratchpad{}
