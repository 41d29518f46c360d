package pdi

import (
	"bytes"
	"errors"
	"testing"
)

// checkBusyOrdering fails if a PDI STATUS poll follows an NVM STATUS poll
// within one wait.
func checkBusyOrdering(t *testing.T, ops []byte) {
	t.Helper()
	seenLD := false
	for _, op := range ops {
		switch op {
		case 0x20:
			seenLD = true
		case 0x80:
			if seenLD {
				t.Fatalf("bus-enable poll after busy poll started: % X", ops)
			}
		}
	}
}

func TestWaitWhileBusyOrdering(t *testing.T) {
	s, sim := newSimSession(t, testConfig())
	sim.NVMEnableDelay = 3
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	sim.ClearTrace()

	if err := s.WaitWhileBusy(); err != nil {
		t.Fatalf("WaitWhileBusy failed: %v", err)
	}
	want := []byte{0x80, 0x80, 0x80, 0x80, 0x6B, 0x20}
	if !bytes.Equal(sim.Ops(), want) {
		t.Errorf("ops % X, want % X", sim.Ops(), want)
	}

	sim.BusyPolls = 4
	if err := s.EraseChip(); err != nil {
		t.Fatal(err)
	}
	sim.ClearTrace()

	if err := s.WaitWhileBusy(); err != nil {
		t.Fatalf("WaitWhileBusy failed: %v", err)
	}
	want = []byte{0x80, 0x6B, 0x20, 0x20, 0x20, 0x20, 0x20}
	if !bytes.Equal(sim.Ops(), want) {
		t.Errorf("ops % X, want % X", sim.Ops(), want)
	}
	checkBusyOrdering(t, sim.Ops())

	// The pointer is aimed at NVM STATUS.
	if !bytes.Contains(sim.Sent(), []byte{0x6B, 0xCF, 0x01, 0x00, 0x01}) {
		t.Errorf("pointer not loaded with NVM STATUS: % X", sim.Sent())
	}
}

func TestWaitWhileBusyTimeout(t *testing.T) {
	c := testConfig()
	c.Target.BusyPollLimit = 10
	s, sim := startSimSession(t, c)
	sim.BusyPolls = 100

	if err := s.EraseChip(); err != nil {
		t.Fatal(err)
	}
	err := s.WaitWhileBusy()
	if !errors.Is(err, ErrBusyTimeout) {
		t.Fatalf("expected ErrBusyTimeout, got %v", err)
	}
	if StatusOf(err) != StatusUnknownError {
		t.Errorf("StatusOf = %s", StatusOf(err))
	}
}

func TestWaitWhileBusyBusNeverEnabled(t *testing.T) {
	c := testConfig()
	c.Target.BusyPollLimit = 10
	s, sim := newSimSession(t, c)
	sim.NVMEnableDelay = 1000
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	sim.ClearTrace()

	if err := s.WaitWhileBusy(); !errors.Is(err, ErrBusyTimeout) {
		t.Fatalf("expected ErrBusyTimeout, got %v", err)
	}
	if n := countOps(sim.Ops(), 0x80); n != 10 {
		t.Errorf("bus polled %d times, want 10", n)
	}
	if countOps(sim.Ops(), 0x20) != 0 {
		t.Error("busy poll started before the bus came up")
	}
}

func TestReadMemory(t *testing.T) {
	s, sim := startSimSession(t, testConfig())
	tgt := s.Target()
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
	sim.Load(tgt.FlashBase+0x100, data)

	got, err := s.ReadMemory(tgt.FlashBase+0x100, len(data))
	if err != nil {
		t.Fatalf("ReadMemory failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("got % X, want % X", got, data)
	}
	// STS NVM CMD = READ_NVM
	if !bytes.Contains(sim.Sent(), []byte{0x4C, 0xCA, 0x01, 0x00, 0x01, 0x43}) {
		t.Errorf("READ_NVM not selected: % X", sim.Sent())
	}

	sim.ClearTrace()
	got, err = s.ReadMemory(tgt.FlashBase, 0)
	if err != nil || len(got) != 0 {
		t.Errorf("zero-length read: % X, %v", got, err)
	}
	if len(sim.Sent()) != 0 {
		t.Errorf("zero-length read sent % X", sim.Sent())
	}
}

func TestEraseChip(t *testing.T) {
	s, sim := startSimSession(t, testConfig())
	tgt := s.Target()
	sim.Load(tgt.FlashBase, []byte{1, 2, 3})
	sim.Load(tgt.EEPROMBase, []byte{4, 5, 6})
	if err := s.WriteLockBits(0xFC); err != nil {
		t.Fatal(err)
	}

	if err := s.EraseChip(); err != nil {
		t.Fatalf("EraseChip failed: %v", err)
	}
	if got := sim.Flash()[:3]; !bytes.Equal(got, []byte{0xFF, 0xFF, 0xFF}) {
		t.Errorf("flash not erased: % X", got)
	}
	if got := sim.EEPROM()[:3]; !bytes.Equal(got, []byte{0xFF, 0xFF, 0xFF}) {
		t.Errorf("EEPROM not erased: % X", got)
	}
	if sim.LockBits() != 0xFF {
		t.Errorf("lock bits = 0x%02X, want 0xFF", sim.LockBits())
	}
	actions := sim.Actions()
	if last := actions[len(actions)-1]; last.Cmd != CmdChipErase {
		t.Errorf("last action = %+v", last)
	}
}

func TestNoCommandWhileBusy(t *testing.T) {
	s, sim := startSimSession(t, testConfig())
	sim.BusyPolls = 3

	data := bytes.Repeat([]byte{0x5A}, 1100)
	if err := s.EraseChip(); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFlash(0, bytes.NewReader(data), len(data), true, SectionApp); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteEEPROM(0, bytes.NewReader(data), 40, true); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFuse(2, 0xBF); err != nil {
		t.Fatal(err)
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	if sim.CommandWhileBusy() {
		t.Error("an NVM operation was started while the controller was busy")
	}
}
