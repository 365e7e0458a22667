// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds1977 exposes the memory of the Maxim DS1977 password protected
// 32KB EEPROM iButton.
//
// The memory is organized in pages of 64 bytes, written through a CRC
// protected scratchpad under strong pull-up. Once passwords are enabled,
// reads carry the read only or read/write password and copies carry the
// read/write password. The password registers are write only.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS1977.pdf
package ds1977
