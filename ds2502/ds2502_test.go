// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds2502

import (
	"errors"
	"testing"

	"github.com/GermanBionicSystems/onewire/memorybank"
	"github.com/GermanBionicSystems/onewire/owbus"
	"github.com/GermanBionicSystems/onewire/owbus/owbustest"
	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/onewire"
)

const addr onewire.Address = 0x3b00000157ab9e09

func newSim(t *testing.T) (*owbustest.Sim, *owbustest.EPROM, *Dev) {
	dev := owbustest.NewEPROM(&owbustest.EPROMOpts{
		Addr:             addr,
		Size:             128,
		PageLength:       32,
		StatusSize:       8,
		StatusPageLength: 8,
		LockStatusAddr:   0,
	})
	sim := &owbustest.Sim{Devices: []owbustest.Device{dev}}
	d, err := New(sim, addr)
	if err != nil {
		t.Fatal(err)
	}
	return sim, dev, d
}

func TestNew(t *testing.T) {
	_, _, d := newSim(t)
	if s := d.String(); s != "DS2502{sim(0x3b00000157ab9e09)}" {
		t.Fatal(s)
	}
	if len(d.Banks()) != 2 {
		t.Fatal("expected 2 banks")
	}
	if !d.Memory.CanLockPage() || !d.Memory.CanRedirectPage() || d.Memory.CanLockRedirectPage() {
		t.Fatal("unexpected lock scheme")
	}
}

func TestMemory(t *testing.T) {
	sim, dev, d := newSim(t)
	if err := d.Memory.WritePagePacket(1, []byte("add only")); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 29)
	n, err := d.Memory.ReadPagePacket(1, false, p)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte("add only"), p[:n]); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if sim.Pulses == 0 {
		t.Fatal("expected program pulses")
	}
	page := make([]byte, 32)
	if err := d.Memory.ReadPageCRC(1, false, page); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(dev.Mem[32:64], page); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestMemory_LockRedirect(t *testing.T) {
	_, dev, d := newSim(t)
	if err := d.Memory.LockPage(3); err != nil {
		t.Fatal(err)
	}
	if dev.Status[0] != 0xf7 {
		t.Fatalf("got %#x", dev.Status[0])
	}
	if locked, err := d.Memory.IsPageLocked(3); err != nil || !locked {
		t.Fatalf("%t %v", locked, err)
	}
	var pe *memorybank.PageError
	if err := d.Memory.Write(96, []byte{0}); !errors.As(err, &pe) || pe.Page != 3 {
		t.Fatalf("expected failure on page 3, got %v", err)
	}

	if err := d.Memory.RedirectPage(0, 2); err != nil {
		t.Fatal(err)
	}
	if got, err := d.Memory.RedirectedPage(0); err != nil || got != 2 {
		t.Fatalf("%d %v", got, err)
	}
	if got, err := d.Memory.RedirectedPage(1); err != nil || got != 0 {
		t.Fatalf("%d %v", got, err)
	}
}

func TestMemory_NoProgram(t *testing.T) {
	sim, _, d := newSim(t)
	sim.NoProgram = true
	if err := d.Memory.Write(0, []byte{0}); !errors.Is(err, memorybank.ErrProgramUnavailable) {
		t.Fatalf("expected program error, got %v", err)
	}
	err := d.Memory.LockPage(1)
	if !errors.Is(err, memorybank.ErrProgramUnavailable) || owbus.IsBusError(err) {
		t.Fatalf("expected non retryable program error, got %v", err)
	}
}
