// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds2502 exposes the memory of the Maxim DS2502 1Kb add-only memory.
//
// The 128 bytes of EPROM are organized in 4 pages of 32 bytes. Programming
// needs a master able to apply the 12V program pulse, and can only clear
// bits. The 8 bytes status memory holds the page write protection bits and
// the page redirection bytes.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS2502.pdf
package ds2502
