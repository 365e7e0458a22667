// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds1993

import (
	"errors"
	"testing"

	"github.com/GermanBionicSystems/onewire/memorybank"
	"github.com/GermanBionicSystems/onewire/owbus/owbustest"
	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/onewire"
)

const addr onewire.Address = 0x8f00000012345606

func newSim(t *testing.T) (*owbustest.Memory, *Dev) {
	mem := owbustest.NewMemory(&owbustest.MemoryOpts{
		Addr:             addr,
		Size:             512,
		PageLength:       32,
		ScratchpadLength: 32,
		CopyCmd:          memorybank.CopyScratchpadCmd,
	})
	d, err := New(&owbustest.Sim{Devices: []owbustest.Device{mem}}, addr)
	if err != nil {
		t.Fatal(err)
	}
	return mem, d
}

func TestNew(t *testing.T) {
	_, d := newSim(t)
	if s := d.String(); s != "DS1993{sim(0x8f00000012345606)}" {
		t.Fatal(s)
	}
	var got []string
	for _, b := range d.Banks() {
		i := b.Info()
		got = append(got, i.Description)
	}
	if diff := cmp.Diff([]string{"Scratchpad", "Main Memory"}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if n := d.Memory.Info(); n.NumberOfPages() != 16 {
		t.Fatalf("got %d pages", n.NumberOfPages())
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
}

func TestMemory(t *testing.T) {
	mem, d := newSim(t)
	w := []byte("The quick brown fox jumps over the lazy dog")
	if err := d.Memory.Write(500-len(w), w); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(w, mem.Mem[500-len(w):500]); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	r := make([]byte, len(w))
	if err := d.Memory.Read(500-len(w), false, r); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(w, r); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if err := d.Memory.Write(510, []byte{1, 2, 3}); !errors.Is(err, memorybank.ErrBoundsExceeded) {
		t.Fatalf("expected bounds error, got %v", err)
	}
}

func TestMemory_Packet(t *testing.T) {
	_, d := newSim(t)
	if err := d.Memory.WritePagePacket(15, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 29)
	n, err := d.Memory.ReadPagePacket(15, false, p)
	if err != nil {
		t.Fatal(err)
	}
	if s := string(p[:n]); s != "hello" {
		t.Fatal(s)
	}
	// No CRC on plain reads.
	if err := d.Memory.ReadPageCRC(0, false, make([]byte, 32)); !errors.Is(err, memorybank.ErrNotSupported) {
		t.Fatalf("expected not supported, got %v", err)
	}
}
