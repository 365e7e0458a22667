// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memorybank

import (
	"fmt"

	"github.com/GermanBionicSystems/onewire/crc"
)

// Packet returns the UDP packet holding data as stored in a page: a length
// byte, data and the inverted CRC16 of both seeded with the absolute page
// number.
func Packet(absPage int, data []byte) []byte {
	b := make([]byte, 0, len(data)+3)
	b = append(b, byte(len(data)))
	b = append(b, data...)
	return crc.Append16(uint16(absPage), b)
}

// ParsePacket returns the data of the packet stored at the start of raw.
//
// max is the largest data length the page can hold.
func ParsePacket(absPage int, raw []byte, max int) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty page", ErrInvalidLength)
	}
	n := int(raw[0])
	if n > max || n+3 > len(raw) {
		return nil, fmt.Errorf("%w: %d bytes in page %d", ErrInvalidLength, n, absPage)
	}
	if !crc.Check16(uint16(absPage), raw[:n+3]) {
		return nil, fmt.Errorf("%w: packet CRC in page %d", ErrIntegrity, absPage)
	}
	return raw[1 : 1+n], nil
}

// readPacket parses the packet in raw into p, invalidating speed on failure.
func readPacket(speed *SpeedCache, info *Info, page int, raw, p []byte) (int, error) {
	abs := info.StartPhysicalAddress/info.PageLength + page
	d, err := ParsePacket(abs, raw, info.MaxPacketDataLength)
	if err != nil {
		return 0, speed.fail(err)
	}
	if len(p) < len(d) {
		return 0, errShortBuffer(len(p), len(d))
	}
	return copy(p, d), nil
}

// writePacket checks and encodes data for page.
func writePacket(info *Info, page int, data []byte) ([]byte, error) {
	if len(data) > info.MaxPacketDataLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidLength, len(data), info.MaxPacketDataLength)
	}
	if !info.GeneralPurpose {
		return nil, fmt.Errorf("%w: %s", ErrNotGeneralPurpose, info.Description)
	}
	if page < 0 || page >= info.NumberOfPages() {
		return nil, fmt.Errorf("%w: page %d", ErrBoundsExceeded, page)
	}
	return Packet(info.StartPhysicalAddress/info.PageLength+page, data), nil
}
