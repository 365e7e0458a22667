// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package crc implements the Dallas/Maxim CRC8 and CRC16 used to protect
// 1-wire frames.
//
// Both are the reflected, table driven forms. CRC8 uses the polynomial
// x^8+x^5+x^4+1 and a frame that carries its own CRC8 byte checks to 0.
// CRC16 uses x^16+x^15+x^2+1; devices transmit it inverted, low byte first,
// so a frame that carries its own CRC16 checks to the residue 0xB001.
package crc

// Residue16 is the CRC16 of any byte sequence followed by its own inverted
// CRC16, low byte first.
const Residue16 = 0xB001

// CRC8 returns the Dow CRC8 of b, starting from seed.
//
// A seed of 0 gives the same result as onewire.CalcCRC.
func CRC8(seed byte, b []byte) byte {
	crc := seed
	for _, v := range b {
		crc = table8[crc^v]
	}
	return crc
}

// Update8 shifts a single byte into crc.
func Update8(crc, b byte) byte {
	return table8[crc^b]
}

// Check8 reports whether b, whose last byte is its CRC8, is intact.
func Check8(b []byte) bool {
	return CRC8(0, b) == 0
}

// CRC16 returns the Dow CRC16 of b, starting from seed.
//
// Seeding with a page number binds the checksum to that page; the universal
// data packet format relies on this.
func CRC16(seed uint16, b []byte) uint16 {
	crc := seed
	for _, v := range b {
		crc = crc>>8 ^ table16[byte(crc)^v]
	}
	return crc
}

// Update16 shifts a single byte into crc.
func Update16(crc uint16, b byte) uint16 {
	return crc>>8 ^ table16[byte(crc)^b]
}

// Append16 appends the inverted CRC16 of b, low byte first, as a device
// would transmit it.
func Append16(seed uint16, b []byte) []byte {
	crc := ^CRC16(seed, b)
	return append(b, byte(crc), byte(crc>>8))
}

// Check16 reports whether b, whose last two bytes are its inverted CRC16,
// is intact.
func Check16(seed uint16, b []byte) bool {
	return CRC16(seed, b) == Residue16
}

var (
	table8  = makeTable8()
	table16 = makeTable16()
)

func makeTable8() *[256]byte {
	var t [256]byte
	for i := range t {
		crc := byte(i)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8c
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return &t
}

func makeTable16() *[256]uint16 {
	var t [256]uint16
	for i := range t {
		crc := uint16(i)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xa001
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return &t
}
