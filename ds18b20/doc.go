// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds18b20 exposes the scratchpad of the Maxim DS18B20 and DS18S20
// thermometers as a memory bank.
//
// The alarm thresholds TH and TL and, on the DS18B20, the configuration
// register are written to the scratchpad and saved to EEPROM.
//
// # Datasheet
//
// https://www.analog.com/media/en/technical-documentation/data-sheets/DS18B20.pdf
package ds18b20
