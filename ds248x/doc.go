// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds248x controls a Maxim DS2483 or DS2482-100 1-wire interface chip
// over I²C.
//
// Dev implements periph's onewire.Bus for whole transactions and owbus.Port
// for the byte level access memory devices need. The chip can hold strong
// pull-up after a byte but can't generate EPROM program pulses.
//
// # Datasheets
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2483.pdf
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2482-100.pdf
package ds248x
