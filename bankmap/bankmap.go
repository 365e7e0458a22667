// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bankmap prints the state of the pages of a memory bank as a strip
// of colored blocks on a terminal using ANSI color codes.
//
// Useful to look at a device before deciding which page to write, lock or
// redirect.
package bankmap

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/GermanBionicSystems/onewire/memorybank"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
)

// State is the state of a page.
type State int

const (
	Blank      State = iota // all bytes are 0xFF
	Packet                  // holds a valid packet
	Data                    // holds something else
	Locked                  // write protected
	Redirected              // replaced by another page
)

func (s State) String() string {
	switch s {
	case Blank:
		return "Blank"
	case Packet:
		return "Packet"
	case Data:
		return "Data"
	case Locked:
		return "Locked"
	case Redirected:
		return "Redirected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Colors is the block color of each State.
var Colors = map[State]color.NRGBA{
	Blank:      {0x40, 0x40, 0x40, 0xff},
	Packet:     {0x00, 0xc0, 0x00, 0xff},
	Data:       {0x00, 0x60, 0xff, 0xff},
	Locked:     {0xe0, 0x00, 0x00, 0xff},
	Redirected: {0xff, 0xc0, 0x00, 0xff},
}

// Scan reads every page of b and returns their states.
//
// When b is a memorybank.OTPBank, redirection is checked first, then the
// lock. A page whose packet fails its CRC or length check holds Data; any
// other error stops the scan.
func Scan(b memorybank.PagedBank) ([]State, error) {
	info := b.Info()
	otp, _ := b.(memorybank.OTPBank)
	out := make([]State, info.NumberOfPages())
	raw := make([]byte, info.PageLength)
	for page := range out {
		if otp != nil {
			s, ok, err := otpState(otp, page)
			if err != nil {
				return nil, err
			}
			if ok {
				out[page] = s
				continue
			}
		}
		if info.GeneralPurpose {
			_, err := b.ReadPagePacket(page, false, raw)
			if err == nil {
				out[page] = Packet
				continue
			}
			if !errors.Is(err, memorybank.ErrIntegrity) && !errors.Is(err, memorybank.ErrInvalidLength) {
				return nil, err
			}
		}
		if err := b.ReadPage(page, false, raw); err != nil {
			return nil, err
		}
		out[page] = Blank
		if !bytes.Equal(raw, bytes.Repeat([]byte{0xff}, len(raw))) {
			out[page] = Data
		}
	}
	return out, nil
}

func otpState(o memorybank.OTPBank, page int) (State, bool, error) {
	if o.CanRedirectPage() {
		n, err := o.RedirectedPage(page)
		if err != nil {
			return 0, false, err
		}
		if n != 0 {
			return Redirected, true, nil
		}
	}
	if o.CanLockPage() {
		locked, err := o.IsPageLocked(page)
		if err != nil {
			return 0, false, err
		}
		if locked {
			return Locked, true, nil
		}
	}
	return 0, false, nil
}

// Opts represents the options available for the strip.
type Opts struct {
	// W defaults to the console.
	W       io.Writer
	Palette *ansi256.Palette

	_ struct{}
}

// Dev prints page strips to a terminal.
type Dev struct {
	w       io.Writer
	palette ansi256.Palette
	buf     bytes.Buffer
}

// New returns a Dev that prints to opts.W.
func New(opts *Opts) *Dev {
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	return &Dev{w: w, palette: *p}
}

func (d *Dev) String() string {
	return "BankMap"
}

// Halt implements conn.Resource.
//
// It resets the terminal colors.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Render prints one block per page, overwriting the current line.
func (d *Dev) Render(states []State) error {
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for _, s := range states {
		_, _ = io.WriteString(&d.buf, d.palette.Block(Colors[s]))
	}
	_, _ = d.buf.WriteString("\033[0m ")
	_, err := d.buf.WriteTo(d.w)
	return err
}
