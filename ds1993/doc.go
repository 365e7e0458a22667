// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds1993 exposes the memory of the Maxim DS1993 4Kb memory iButton.
//
// The 512 bytes of NVRAM are organized in 16 pages of 32 bytes, written
// through a 32 bytes scratchpad. The device has no CRC on reads; store data
// as packets to detect corruption.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS1992-DS1996.pdf
package ds1993
