// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package uartow drives a 1-wire bus from a UART, as described in Maxim
// application note 214.
//
// The UART TX and RX lines are tied to the 1-wire data line through an open
// drain buffer. A reset pulse is a 0xF0 character at 9600 bauds; a time slot
// is a character at 115200 bauds: 0xFF writes a 1 or opens a read slot, 0x00
// writes a 0. The character received back is the wired-AND of master and
// slaves.
//
// A UART can't source the strong pull-up EEPROM devices need. Opts.Pullup
// names an optional GPIO driving an external pull-up transistor.
//
// # Datasheet
//
// https://www.analog.com/en/resources/technical-articles/using-a-uart-to-implement-a-1wire-bus-master.html
package uartow
