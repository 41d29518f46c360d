package pdi

import (
	"errors"
	"testing"
	"time"
)

// --- Mocks ---

type mockPin struct {
	mode  string
	level Level
	// feed, when set, supplies the levels returned by Read.
	feed []Level
	// loop, when set, makes Read return the level of another pin.
	loop *mockPin
	// failOut, when set, is returned by Out.
	failOut error
}

func (m *mockPin) Out(l Level) error {
	if m.failOut != nil {
		return m.failOut
	}
	m.mode = "output"
	m.level = l
	return nil
}

func (m *mockPin) In(pull Pull) error {
	m.mode = "input"
	return nil
}

func (m *mockPin) Read() Level {
	if m.loop != nil {
		return m.loop.level
	}
	if len(m.feed) > 0 {
		l := m.feed[0]
		m.feed = m.feed[1:]
		return l
	}
	return High
}

func newSoftPlatform(t *testing.T) (*SoftPlatform, *mockPin, *mockPin, *mockPin) {
	t.Helper()
	clk, txd, rxd := &mockPin{}, &mockPin{}, &mockPin{}
	p := NewSoftPlatform(clk, txd, rxd)
	p.wait = func(time.Duration) {}
	if err := p.Init(2000000); err != nil {
		t.Fatal(err)
	}
	return p, clk, txd, rxd
}

func frameLevels(f uint16) []Level {
	levels := make([]Level, frameBits)
	for i := range levels {
		levels[i] = f>>i&1 != 0
	}
	return levels
}

// --- Tests ---

func TestFrameFormat(t *testing.T) {
	tests := []struct {
		b    byte
		want uint16
	}{
		// start 0, data, parity, two stop bits
		{0x00, 0x0C00},
		{0x01, 0x0E02},
		{0x03, 0x0C06},
		{0xFF, 0x0DFE},
	}
	for _, tt := range tests {
		if got := frame(tt.b); got != tt.want {
			t.Errorf("frame(0x%02X) = 0x%03X, want 0x%03X", tt.b, got, tt.want)
		}
	}
}

func TestSoftPlatformInitRejectsZeroBaud(t *testing.T) {
	p := NewSoftPlatform(&mockPin{}, &mockPin{}, &mockPin{})
	if err := p.Init(0); err == nil {
		t.Error("expected error for zero baud rate")
	}
}

func TestSoftPlatformLoopback(t *testing.T) {
	p, clk, txd, rxd := newSoftPlatform(t)
	rxd.loop = txd

	if err := p.ConfigureOutput(PinClock, High); err != nil {
		t.Fatal(err)
	}
	if err := p.ConfigureOutput(PinDataOut, High); err != nil {
		t.Fatal(err)
	}
	p.EnableClock()
	p.EnableTx()
	p.EnableRx()

	for _, want := range []byte{0xA5, 0x00, 0xFF, 0x12} {
		p.ResetTxComplete()
		p.WriteData(want)

		polls := 0
		for !p.RxComplete() {
			if polls++; polls > 4*frameBits {
				t.Fatalf("0x%02X: no frame after %d polls", want, polls)
			}
		}
		if p.RxError() {
			t.Errorf("0x%02X: unexpected receive error", want)
		}
		if got := p.ReadData(); got != want {
			t.Errorf("received 0x%02X, want 0x%02X", got, want)
		}
		for polls = 0; !p.TxComplete(); polls++ {
			if polls > 4 {
				t.Fatalf("0x%02X: transmit never completed", want)
			}
		}
	}
	if clk.mode != "output" {
		t.Error("clock pin not driven")
	}
}

func TestSoftPlatformParityError(t *testing.T) {
	p, _, _, rxd := newSoftPlatform(t)

	bad := frame(0x01) ^ 1<<9
	rxd.feed = append([]Level{High, High}, frameLevels(bad)...)

	p.EnableClock()
	p.EnableRx()
	for polls := 0; !p.RxComplete(); polls++ {
		if polls > 4*frameBits {
			t.Fatal("no frame received")
		}
	}
	if !p.RxError() {
		t.Error("parity error not reported")
	}
	if got := p.ReadData(); got != 0x01 {
		t.Errorf("data = 0x%02X, want 0x01", got)
	}
	if p.RxError() {
		t.Error("ReadData should clear the error")
	}
}

func TestSoftPlatformClockStopsWhenDisabled(t *testing.T) {
	p, _, _, _ := newSoftPlatform(t)
	if err := p.ConfigureOutput(PinClock, High); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if p.Read(PinClock) != High {
			t.Fatal("clock toggled while disabled")
		}
	}
	p.EnableClock()
	if p.Read(PinClock) != Low {
		t.Error("clock did not advance")
	}
}

func TestSoftPlatformClockPinFailureHaltsClock(t *testing.T) {
	p, clk, _, _ := newSoftPlatform(t)
	if err := p.ConfigureOutput(PinClock, High); err != nil {
		t.Fatal(err)
	}
	p.EnableClock()

	errPin := errors.New("gpio write failed")
	clk.failOut = errPin
	for i := 0; i < 3; i++ {
		if p.Read(PinClock) != High {
			t.Fatal("clock advanced although the pin could not be driven")
		}
	}
	if err := p.Err(); !errors.Is(err, errPin) || !errors.Is(err, ErrPkg) {
		t.Errorf("Err() = %v", err)
	}

	clk.failOut = nil
	if err := p.Init(2000000); err != nil {
		t.Fatal(err)
	}
	if p.Err() != nil {
		t.Error("Init should clear the pin error")
	}
	p.EnableClock()
	if p.Read(PinClock) != Low {
		t.Error("clock did not advance after Init")
	}
}

func TestSoftPlatformDataPinFailureStallsLink(t *testing.T) {
	p, _, txd, _ := newSoftPlatform(t)
	s, err := NewSession(p, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	s.link.sleep = func(time.Duration) {}

	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	errPin := errors.New("gpio write failed")
	txd.failOut = errPin
	if _, err := s.ReadFuse(0); !errors.Is(err, ErrLinkStalled) {
		t.Fatalf("expected ErrLinkStalled, got %v", err)
	}
	if err := p.Err(); !errors.Is(err, errPin) {
		t.Errorf("Err() = %v, want %v", err, errPin)
	}
}

func TestSoftPlatformDrivesSession(t *testing.T) {
	p, _, _, _ := newSoftPlatform(t)
	s, err := NewSession(p, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	s.link.sleep = func(time.Duration) {}

	// Nothing answers on the data line, so the first read times out.
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := s.ReadFuse(0); !errors.Is(err, ErrSerialTimeout) {
		t.Errorf("expected ErrSerialTimeout, got %v", err)
	}
}
