// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package memorybank

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/GermanBionicSystems/onewire/crc"
	"github.com/GermanBionicSystems/onewire/owbus"
	"github.com/GermanBionicSystems/onewire/owbus/owbustest"
	"github.com/google/go-cmp/cmp"
)

func newPlaybackScratchpad(t *testing.T, ops []owbustest.IO, cfg *ScratchpadConfig) (*owbustest.Playback, *Scratchpad) {
	bus := &owbustest.Playback{Ops: ops, DontPanic: true}
	speed := NewSpeedCache(&owbus.Dev{Port: bus, Addr: nvramAddr})
	sp, err := NewScratchpad(speed, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return bus, sp
}

func TestScratchpad_CopyFixedDelay(t *testing.T) {
	var sleeps []time.Duration
	sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	defer func() { sleep = time.Sleep }()

	ops := append(selectOps(nvramAddr),
		owbustest.IO{Op: owbustest.OpBlock, W: []byte{0x55, 0x10, 0x00}, R: []byte{0x55, 0x10, 0x00}},
		owbustest.IO{Op: owbustest.OpPower, W: []byte{byte(owbus.AfterNextByte)}},
		owbustest.IO{Op: owbustest.OpWrite, W: []byte{0x07}},
		owbustest.IO{Op: owbustest.OpNormal},
		owbustest.IO{Op: owbustest.OpRead, R: []byte{0xaa}},
	)
	bus, sp := newPlaybackScratchpad(t, ops, &ScratchpadConfig{
		Length:          8,
		ExtraInfoLength: 3,
		CopyCmd:         CopyScratchpadCmd,
		CRC:             CRCPageSeeded,
		Commit:          CommitFixedDelay,
		CopyDelay:       10 * time.Millisecond,
	})
	if err := sp.CopyScratchpad(0x10, 8); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]time.Duration{10 * time.Millisecond}, sleeps); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestScratchpad_CopyStatus(t *testing.T) {
	pws := &Passwords{}
	data := []struct {
		name   string
		crc    CRCPolicy
		status byte
		err    error
	}{
		{"aa", CRCNone, 0xaa, nil},
		{"55", CRCNone, 0x55, nil},
		{"ff", CRCNone, 0xff, ErrCopyNotConfirmed},
		{"00", CRCNone, 0x00, ErrCopyNotConfirmed},
		{"password ok", CRCPassword, 0xaa, nil},
		{"password rejected", CRCPassword, 0xff, ErrPasswordRejected},
		{"password other", CRCPassword, 0x12, ErrCopyNotConfirmed},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			w := []byte{0x55, 0x23, 0x01, 0x1f}
			if line.crc == CRCPassword {
				w = append(w, make([]byte, PasswordLength)...)
			}
			w = append(w, 0xff)
			r := append(append([]byte(nil), w[:len(w)-1]...), line.status)
			ops := append(selectOps(nvramAddr), owbustest.IO{Op: owbustest.OpBlock, W: w, R: r})
			bus, sp := newPlaybackScratchpad(t, ops, &ScratchpadConfig{
				Length:          32,
				ExtraInfoLength: 3,
				CopyCmd:         CopyScratchpadCmd,
				CRC:             line.crc,
				Passwords:       pws,
			})
			sp.speed.valid = true
			err := sp.CopyScratchpad(0x123, 29)
			if !errors.Is(err, line.err) {
				t.Fatalf("expected %v, got %v", line.err, err)
			}
			if want := line.err != ErrCopyNotConfirmed; sp.speed.Valid() != want {
				t.Fatalf("speed cache valid = %t", sp.speed.Valid())
			}
			if err := bus.Close(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestScratchpad_WriteReadCRC(t *testing.T) {
	hdr := []byte{0x0f, 0x3c, 0x00, 1, 2, 3, 4}
	wcrc := crc.Append16(0, hdr)
	rd := crc.Append16(0, []byte{0xaa, 0x3c, 0x00, 0x07, 1, 2, 3, 4})
	ops := append(selectOps(nvramAddr),
		owbustest.IO{Op: owbustest.OpBlock, W: append(append([]byte(nil), hdr...), 0xff, 0xff), R: wcrc},
	)
	ops = append(ops, selectOps(nvramAddr)...)
	ops = append(ops, owbustest.IO{Op: owbustest.OpBlock, W: append([]byte{0xaa}, bytes.Repeat([]byte{0xff}, 13)...), R: append(rd, 0xff, 0xff, 0xff, 0xff)})
	bus, sp := newPlaybackScratchpad(t, ops, &ScratchpadConfig{
		Length:          8,
		ExtraInfoLength: 3,
		WriteCmd:        WriteScratchpadCmd,
		ReadCmd:         ReadScratchpadCmd,
		CRC:             CRCPageSeeded,
	})
	if err := sp.WriteScratchpad(0x3c, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	data, extra, err := sp.ReadScratchpad()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, data); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x3c, 0x00, 0x07}, extra); diff != "" {
		t.Fatalf("extra (-want +got):\n%s", diff)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestScratchpad_WriteCRCMismatch(t *testing.T) {
	hdr := []byte{0x0f, 0x04, 0x00, 1, 2, 3, 4}
	bad := crc.Append16(0, hdr)
	bad[len(bad)-1] ^= 0x80
	ops := append(selectOps(nvramAddr),
		owbustest.IO{Op: owbustest.OpBlock, W: append(append([]byte(nil), hdr...), 0xff, 0xff), R: bad},
	)
	bus, sp := newPlaybackScratchpad(t, ops, &ScratchpadConfig{
		Length:          8,
		ExtraInfoLength: 3,
		WriteCmd:        WriteScratchpadCmd,
		CRC:             CRCPageSeeded,
	})
	sp.speed.valid = true
	err := sp.WriteScratchpad(4, []byte{1, 2, 3, 4})
	if !errors.Is(err, ErrIntegrity) || !owbus.IsBusError(err) {
		t.Fatal(err)
	}
	if sp.speed.Valid() {
		t.Fatal("speed cache must be invalidated")
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestScratchpad_Bank(t *testing.T) {
	_, mem, nv := newNVRAM(t, true)
	sp := nv.Scratchpad()
	if err := sp.Write(4, []byte("abcd")); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 8)
	if err := sp.Read(2, false, p); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0xff, 0xff, 'a', 'b', 'c', 'd', 0xff, 0xff}, p); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	extra := make([]byte, 3)
	page := make([]byte, 32)
	if err := sp.ReadPageCRCExtra(0, false, page, extra); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x04, 0x00, 0x07}, extra); diff != "" {
		t.Fatalf("extra (-want +got):\n%s", diff)
	}
	if mem.Copies != 0 {
		t.Fatal("the scratchpad bank must not commit")
	}
	if err := sp.Write(30, []byte{1, 2, 3}); !errors.Is(err, ErrBoundsExceeded) {
		t.Fatal(err)
	}
	if err := sp.ReadPage(1, false, page); !errors.Is(err, ErrBoundsExceeded) {
		t.Fatal(err)
	}
}

func TestNewScratchpad_invalid(t *testing.T) {
	speed := NewSpeedCache(&owbus.Dev{Port: &owbustest.Sim{}})
	data := []ScratchpadConfig{
		{Length: 24, ExtraInfoLength: 3},
		{Length: 32, ExtraInfoLength: 1},
		{Length: 32, ExtraInfoLength: 3, CRC: CRCPassword},
	}
	for i, c := range data {
		if _, err := NewScratchpad(speed, &c); err == nil {
			t.Fatalf("#%d: expected error", i)
		}
	}
}
