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
	"periph.io/x/conn/v3/onewire"
)

const pwAddr onewire.Address = 0x37000000003e9a37

var (
	roPassword = []byte("readonly")
	rwPassword = []byte("readwrit")
	pwRegions  = []Region{{Addr: 0x7fc0, Len: 8}, {Addr: 0x7fc8, Len: 8}}
)

func newPasswordBanks(t *testing.T, port owbus.Port, pws *Passwords) (data, reg *NV) {
	speed := NewSpeedCache(&owbus.Dev{Port: port, Addr: pwAddr})
	sp, err := NewScratchpad(speed, &ScratchpadConfig{
		Length:          64,
		ExtraInfoLength: 3,
		WriteCmd:        WriteScratchpadCmd,
		ReadCmd:         ReadScratchpadCmd,
		CopyCmd:         0x99,
		CRC:             CRCPassword,
		Commit:          CommitFixedDelay,
		CopyDelay:       10 * time.Millisecond,
		Passwords:       pws,
	})
	if err != nil {
		t.Fatal(err)
	}
	pc := &PasswordConfig{ReadCmd: 0x69, EnablePower: true, Regions: pwRegions, Passwords: pws}
	if data, err = NewPassword(sp, &NVConfig{
		Info:    Info{Description: "Main Memory", Size: 32704, PageLength: 64, MaxPacketDataLength: 61, GeneralPurpose: true, ReadWrite: true, NonVolatile: true},
		ReadCmd: ReadMemoryCmd,
	}, pc); err != nil {
		t.Fatal(err)
	}
	if reg, err = NewPassword(sp, &NVConfig{
		Info:    Info{Description: "Register control", Size: 64, PageLength: 64, StartPhysicalAddress: 0x7fc0, ReadWrite: true, NonVolatile: true},
		ReadCmd: ReadMemoryCmd,
	}, pc); err != nil {
		t.Fatal(err)
	}
	return data, reg
}

func newPasswordSim(t *testing.T) (*owbustest.Memory, *Passwords, *NV, *NV) {
	mem := owbustest.NewMemory(&owbustest.MemoryOpts{
		Addr:             pwAddr,
		Size:             0x8000,
		PageLength:       64,
		ScratchpadLength: 64,
		CRC:              true,
		CopyNeedsPower:   true,
		CopyCmd:          0x99,
		PasswordReadCmd:  0x69,
		PasswordAddr:     0x7fc0,
	})
	pws := &Passwords{}
	data, reg := newPasswordBanks(t, &owbustest.Sim{Devices: []owbustest.Device{mem}}, pws)
	return mem, pws, data, reg
}

func enablePasswords(mem *owbustest.Memory) {
	copy(mem.Mem[0x7fc0:], roPassword)
	copy(mem.Mem[0x7fc8:], rwPassword)
	mem.Mem[0x7fd0] = 0xaa
}

func TestPassword_Disabled(t *testing.T) {
	var sleeps []time.Duration
	sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	defer func() { sleep = time.Sleep }()

	mem, _, data, _ := newPasswordSim(t)
	w := pattern(100, 11)
	if err := data.Write(0, w); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(w, mem.Mem[:100]); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	// Tail read, two copies, read back.
	ms := 10 * time.Millisecond
	if diff := cmp.Diff([]time.Duration{ms, ms, ms, ms}, sleeps); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	sleeps = nil
	p := make([]byte, 64)
	if err := data.ReadPageCRC(1, false, p); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(mem.Mem[64:128], p); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{3 * time.Millisecond}, sleeps); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestPassword_Enabled(t *testing.T) {
	sleep = func(time.Duration) {}
	defer func() { sleep = time.Sleep }()

	mem, pws, data, _ := newPasswordSim(t)
	copy(mem.Mem, pattern(128, 2))
	enablePasswords(mem)
	p := make([]byte, 64)

	err := data.ReadPage(0, false, p)
	if !errors.Is(err, ErrInvalidPasswordOrIntegrity) || !owbus.IsBusError(err) {
		t.Fatalf("expected password failure, got %v", err)
	}

	if err := pws.SetReadOnly(roPassword); err != nil {
		t.Fatal(err)
	}
	if err := data.ReadPage(0, false, p); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(mem.Mem[:64], p); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	w := pattern(64, 0x80)
	err = data.Write(64, w)
	var pe *PageError
	if !errors.As(err, &pe) || pe.Page != 1 || !errors.Is(err, ErrPasswordRejected) {
		t.Fatalf("expected rejected password on page 1, got %v", err)
	}

	if err := pws.SetReadWrite(rwPassword); err != nil {
		t.Fatal(err)
	}
	if err := data.Write(64, w); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(w, mem.Mem[64:128]); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if !pws.IsReadOnlySet() || !pws.IsReadWriteSet() {
		t.Fatal("passwords must be reported as set")
	}
	if err := pws.SetReadOnly([]byte("short")); err == nil {
		t.Fatal("expected error")
	}
}

func TestPassword_ContinuedRead(t *testing.T) {
	sleep = func(time.Duration) {}
	defer func() { sleep = time.Sleep }()

	mem, _, data, _ := newPasswordSim(t)
	copy(mem.Mem, pattern(256, 4))
	a := make([]byte, 90)
	b := make([]byte, 64)
	if err := data.Read(10, false, a); err != nil {
		t.Fatal(err)
	}
	if err := data.Read(128, true, b); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(mem.Mem[10:100], a); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(mem.Mem[128:192], b); diff != "" {
		t.Fatalf("continued (-want +got):\n%s", diff)
	}
}

func TestPassword_ContinuedReadMidPage(t *testing.T) {
	sleep = func(time.Duration) {}
	defer func() { sleep = time.Sleep }()

	mem, _, data, _ := newPasswordSim(t)
	copy(mem.Mem, pattern(256, 4))
	p := make([]byte, 10)
	if err := data.Read(0, false, p); err != nil {
		t.Fatal(err)
	}
	if err := data.Read(10, true, p); !errors.Is(err, ErrBoundsExceeded) {
		t.Fatalf("expected bounds error, got %v", err)
	}
	if err := data.Read(64, true, p); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(mem.Mem[64:74], p); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestPassword_ContinuedPageCRC(t *testing.T) {
	sleep = func(time.Duration) {}
	defer func() { sleep = time.Sleep }()

	mem, _, _, _ := newPasswordSim(t)
	copy(mem.Mem, pattern(256, 6))
	sim := &owbustest.Sim{Devices: []owbustest.Device{mem}}
	data, _ := newPasswordBanks(t, sim, &Passwords{})
	p := make([]byte, 64)
	if err := data.ReadPageCRC(1, false, p); err != nil {
		t.Fatal(err)
	}
	if sim.PowerEvents != 1 {
		t.Fatalf("expected strong pull-up after the header, got %d", sim.PowerEvents)
	}
	if err := data.ReadPageCRC(2, true, p); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(mem.Mem[128:192], p); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if sim.PowerEvents != 1 {
		t.Fatalf("continued page must not use strong pull-up, got %d", sim.PowerEvents)
	}
}

func TestPassword_TailGuard(t *testing.T) {
	sleep = func(time.Duration) {}
	defer func() { sleep = time.Sleep }()

	mem, _, _, reg := newPasswordSim(t)
	before := append([]byte(nil), mem.Mem[0x7fc0:]...)
	if err := reg.Write(0, roPassword); !errors.Is(err, ErrWouldCorruptPasswordRegion) {
		t.Fatalf("expected password region error, got %v", err)
	}
	if !bytes.Equal(before, mem.Mem[0x7fc0:]) {
		t.Fatal("registers must be untouched")
	}

	// Both passwords and the control byte in one write leaves no register in
	// the padded tail. Password registers read back as zeros.
	reg.SetWriteVerification(false)
	w := append(append(append([]byte(nil), roPassword...), rwPassword...), 0xaa)
	if err := reg.Write(0, w); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(w, mem.Mem[0x7fc0:0x7fd1]); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestPassword_ReadFraming(t *testing.T) {
	defer func() { sleep = time.Sleep }()
	for _, power := range []bool{false, true} {
		var sleeps []time.Duration
		sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

		hdr := append([]byte{0x69, 0x40, 0x00}, roPassword...)
		page := pattern(64, 7)
		frame := crc.Append16(crc.CRC16(0, hdr), append([]byte(nil), page...))
		ops := selectOps(pwAddr)
		if power {
			ops = append(ops,
				owbustest.IO{Op: owbustest.OpBlock, W: hdr[:10], R: hdr[:10]},
				owbustest.IO{Op: owbustest.OpPower, W: []byte{byte(owbus.AfterNextByte)}},
				owbustest.IO{Op: owbustest.OpWrite, W: hdr[10:]},
				owbustest.IO{Op: owbustest.OpNormal},
			)
		} else {
			ops = append(ops, owbustest.IO{Op: owbustest.OpBlock, W: hdr, R: hdr})
		}
		ops = append(ops, owbustest.IO{Op: owbustest.OpBlock, W: bytes.Repeat([]byte{0xff}, 66), R: frame})
		bus := &owbustest.Playback{Ops: ops, DontPanic: true}
		pws := &Passwords{}
		if err := pws.SetReadOnly(roPassword); err != nil {
			t.Fatal(err)
		}
		data, _ := newPasswordBanks(t, bus, pws)
		data.pw.EnablePower = power

		p := make([]byte, 64)
		if err := data.ReadPageCRC(1, false, p); err != nil {
			t.Fatalf("power=%t: %v", power, err)
		}
		if diff := cmp.Diff(page, p); diff != "" {
			t.Fatalf("power=%t (-want +got):\n%s", power, diff)
		}
		if want := power; (len(sleeps) == 1) != want {
			t.Fatalf("power=%t: sleeps %v", power, sleeps)
		}
		if err := bus.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNewPassword_invalid(t *testing.T) {
	sim := &owbustest.Sim{NoPower: true}
	speed := NewSpeedCache(&owbus.Dev{Port: sim, Addr: pwAddr})
	pws := &Passwords{}
	sp, err := NewScratchpad(speed, &ScratchpadConfig{Length: 64, ExtraInfoLength: 3, CRC: CRCPassword, Passwords: pws})
	if err != nil {
		t.Fatal(err)
	}
	nc := &NVConfig{Info: Info{Size: 64, PageLength: 64}}
	if _, err := NewPassword(sp, nc, &PasswordConfig{ReadCmd: 0x69}); err == nil {
		t.Fatal("expected error without password store")
	}
	_, err = NewPassword(sp, nc, &PasswordConfig{ReadCmd: 0x69, EnablePower: true, Passwords: pws})
	if !errors.Is(err, ErrPowerUnavailable) {
		t.Fatal(err)
	}
}
