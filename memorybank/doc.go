// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package memorybank implements the paged memory protocol shared by 1-wire
// memory devices.
//
// A device exposes one or more banks. Writes to rewritable memory are staged
// in the device scratchpad, read back and verified, then committed with a
// copy command. Reads can be protected by a CRC16 the device appends to each
// page. Write once memory (EPROM) is programmed byte by byte with a program
// pulse, and its page locks and redirections live in a separate status bank.
//
// Banks are described by configuration values (NVConfig, ScratchpadConfig,
// EPROMConfig, PasswordConfig): the per device packages in this module only
// fill in geometry and opcodes.
//
// # Errors
//
// Failures are reported with the sentinel errors of this package, wrapped
// with context. Those that may succeed on retry, like a CRC mismatch or a
// missing presence pulse, implement onewire.BusError. Any integrity or
// selection failure also invalidates the bank's SpeedCache so the next
// operation renegotiates the bus speed first.
//
// # Datasheets
//
// Book of iButton Standards, application note 937:
//
// https://www.analog.com/media/en/technical-documentation/tech-articles/book-of-ibutton-standards.pdf
package memorybank
