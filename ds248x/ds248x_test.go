// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds248x

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/GermanBionicSystems/onewire/owbus"
	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/onewire"
)

// Playback values to initialize a DS2483 with DefaultOpts.
var pbInit = []i2ctest.IO{
	{Addr: 0x18, W: []byte{cmdReset}},
	{Addr: 0x18, W: []byte{cmdSetReadPtr, regStatus}, R: []byte{0x18}},
	{Addr: 0x18, W: []byte{cmdWriteConfig, 0xe1}, R: []byte{0x01}},
	{Addr: 0x18, W: []byte{cmdSetReadPtr, regPCR}},
	{Addr: 0x18, W: []byte{cmdAdjPort, 0x06, 0x26, 0x46, 0x66, 0x86}},
}

// Playback values for a 1-wire reset with the given status.
func pbReset(status byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: 0x18, W: []byte{cmd1WReset}},
		{Addr: 0x18, R: []byte{status}},
	}
}

func pbWrite(b byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: 0x18, W: []byte{cmd1WWrite, b}},
		{Addr: 0x18, R: []byte{0x00}},
	}
}

func pbRead(b byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: 0x18, W: []byte{cmd1WRead}},
		{Addr: 0x18, R: []byte{0x00}},
		{Addr: 0x18, W: []byte{cmdSetReadPtr, regRDR}, R: []byte{b}},
	}
}

func concat(ops ...[]i2ctest.IO) []i2ctest.IO {
	var out []i2ctest.IO
	for _, o := range ops {
		out = append(out, o...)
	}
	return out
}

func newDev(t *testing.T, ops []i2ctest.IO) (*i2ctest.Playback, *Dev) {
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = time.Sleep })
	bus := &i2ctest.Playback{Ops: ops, DontPanic: true}
	d, err := New(bus, 0x18, &DefaultOpts)
	if err != nil {
		t.Fatal(err)
	}
	return bus, d
}

func TestNew(t *testing.T) {
	bus, d := newDev(t, pbInit)
	if s := d.String(); !strings.HasPrefix(s, "DS2483{") {
		t.Fatal(s)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := New(bus, 0x30, &DefaultOpts); err == nil {
		t.Fatal("expected error for invalid address")
	}
}

func TestNew_badStatus(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x18, W: []byte{cmdReset}},
		{Addr: 0x18, W: []byte{cmdSetReadPtr, regStatus}, R: []byte{0x00}},
	}, DontPanic: true}
	if _, err := New(bus, 0x18, &DefaultOpts); err == nil {
		t.Fatal("expected error")
	}
}

func TestDev_Port(t *testing.T) {
	ops := concat(pbInit,
		pbReset(0x02),
		// Copy scratchpad framing: command under weak pull-up, last byte
		// followed by strong pull-up.
		pbWrite(0x55),
		[]i2ctest.IO{{Addr: 0x18, W: []byte{cmdWriteConfig, 0xa5}}},
		pbWrite(0x07),
		[]i2ctest.IO{{Addr: 0x18, W: []byte{cmdWriteConfig, 0xe1}}},
		pbRead(0xaa),
		pbWrite(0xcc),
		pbRead(0x42),
		[]i2ctest.IO{{Addr: 0x18, W: []byte{cmdWriteConfig, 0x69}}},
	)
	bus, d := newDev(t, ops)
	present, err := d.Reset()
	if err != nil || !present {
		t.Fatalf("%t %v", present, err)
	}
	if err := d.WriteByte(0x55); err != nil {
		t.Fatal(err)
	}
	if err := d.StartPowerDelivery(owbus.AfterNextByte); err != nil {
		t.Fatal(err)
	}
	if err := d.WriteByte(0x07); err != nil {
		t.Fatal(err)
	}
	if err := d.SetPowerNormal(); err != nil {
		t.Fatal(err)
	}
	if b, err := d.ReadByte(); err != nil || b != 0xaa {
		t.Fatalf("%#x %v", b, err)
	}
	buf := []byte{0xcc, 0xff}
	if err := d.Block(buf); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0xcc, 0x42}, buf); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if err := d.SetSpeed(owbus.Overdrive); err != nil {
		t.Fatal(err)
	}
	if d.Speed() != owbus.Overdrive {
		t.Fatal(d.Speed())
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_PortUnsupported(t *testing.T) {
	_, d := newDev(t, pbInit)
	if !d.CanDeliverPower() || d.CanProgram() {
		t.Fatal("unexpected capabilities")
	}
	if err := d.StartPowerDelivery(owbus.Now); err == nil {
		t.Fatal("expected error")
	}
	if err := d.StartProgramPulse(owbus.Now); err == nil {
		t.Fatal("expected error")
	}
}

func TestDev_BlockPower(t *testing.T) {
	// Strong pull-up requested before a Block starts after its last byte.
	ops := concat(pbInit,
		pbWrite(0x48),
		[]i2ctest.IO{{Addr: 0x18, W: []byte{cmdWriteConfig, 0xa5}}},
		pbWrite(0x11),
	)
	bus, d := newDev(t, ops)
	if err := d.StartPowerDelivery(owbus.AfterNextByte); err != nil {
		t.Fatal(err)
	}
	if err := d.Block([]byte{0x48, 0x11}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_Tx(t *testing.T) {
	ops := concat(pbInit,
		pbReset(0x02),
		pbWrite(0xcc),
		[]i2ctest.IO{{Addr: 0x18, W: []byte{cmdWriteConfig, 0xa5}}},
		pbWrite(0x44),
		pbReset(0x02),
		pbWrite(0x33),
		pbRead(0x28),
		pbRead(0x01),
	)
	bus, d := newDev(t, ops)
	if err := d.Tx([]byte{0xcc, 0x44}, nil, onewire.StrongPullup); err != nil {
		t.Fatal(err)
	}
	r := make([]byte, 2)
	if err := d.Tx([]byte{0x33}, r, onewire.WeakPullup); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x28, 0x01}, r); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_TxErrors(t *testing.T) {
	ops := concat(pbInit, pbReset(0x00), pbReset(0x04))
	bus, d := newDev(t, ops)

	err := d.Tx([]byte{0xcc}, nil, onewire.WeakPullup)
	var be onewire.BusError
	if !errors.As(err, &be) || !be.BusError() {
		t.Fatalf("expected bus error, got %v", err)
	}
	err = d.Tx([]byte{0xcc}, nil, onewire.WeakPullup)
	var se onewire.ShortedBusError
	if !errors.As(err, &se) || !se.IsShorted() {
		t.Fatalf("expected shorted bus, got %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_SearchTriplet(t *testing.T) {
	ops := concat(pbInit, []i2ctest.IO{
		{Addr: 0x18, W: []byte{cmd1WTriplet, 0x80}},
		{Addr: 0x18, R: []byte{0xc0}},
	})
	bus, d := newDev(t, ops)
	tr, err := d.SearchTriplet(1)
	if err != nil {
		t.Fatal(err)
	}
	want := onewire.TripletResult{GotZero: true, GotOne: false, Taken: 1}
	if tr != want {
		t.Fatalf("got %+v", tr)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDev_PersistentError(t *testing.T) {
	_, d := newDev(t, pbInit)
	// The playback is exhausted: the I²C error sticks.
	err := d.WriteByte(0x55)
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err2 := d.ReadByte(); err2 != err {
		t.Fatalf("expected persistent error %v, got %v", err, err2)
	}
	if _, err2 := d.Reset(); err2 != err {
		t.Fatalf("expected persistent error %v, got %v", err, err2)
	}
}

func TestDev_Channel(t *testing.T) {
	_, d := newDev(t, pbInit)
	if err := d.ChannelSelect(3); err != nil {
		t.Fatal(err)
	}
	if ch, err := d.SelectedChannel(); err != nil || ch != 0 {
		t.Fatalf("%d %v", ch, err)
	}
}
