// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package onewire is a container for 1-wire memory device drivers.
//
// memorybank implements the paged memory protocol; owbus defines the byte
// level port it drives, implemented by the ds248x and uartow bus masters.
// The ds* packages assemble the banks of specific devices.
package onewire
