// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds2431 exposes the memory of the Maxim DS2431 1024-bit 1-Wire
// EEPROM.
//
// The 128 bytes of EEPROM are organized in 4 pages of 32 bytes and written 8
// bytes at a time through a CRC protected scratchpad, under strong pull-up.
// Writing LockedFlag in the page protection byte of a page in the register
// bank write protects it permanently.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2431.pdf
package ds2431
