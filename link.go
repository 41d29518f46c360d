package pdi

import (
	"errors"
	"fmt"
	"time"
)

// Direction is the state of the half-duplex link.
type Direction uint8

const (
	DirIdle Direction = iota
	DirTransmitting
	DirReceiving
)

func (d Direction) String() string {
	switch d {
	case DirIdle:
		return "idle"
	case DirTransmitting:
		return "transmitting"
	case DirReceiving:
		return "receiving"
	default:
		return "unknown"
	}
}

// Link exchanges bytes with the target over the half-duplex PDI data line.
// It is the only code that switches the UART between transmit and receive.
// Link is not safe for concurrent use; Session serializes access to it.
type Link struct {
	p      Platform
	timing Timing
	dir    Direction
	// unsent is set while a written byte may still be in the shifter.
	unsent bool
	sleep  func(time.Duration)
}

// NewLink creates a link over p. Zero fields of t take their defaults.
func NewLink(p Platform, t Timing) *Link {
	t.applyDefaults()
	return &Link{
		p:      p,
		timing: t,
		sleep:  time.Sleep,
	}
}

// Direction returns the current direction of the link.
func (l *Link) Direction() Direction { return l.dir }

// Init tri-states all lines and leaves the UART disabled.
func (l *Link) Init() error {
	l.dir = DirIdle
	for _, pin := range [...]PinID{PinClock, PinDataOut, PinDataIn} {
		if err := l.p.ConfigureInput(pin); err != nil {
			return fmt.Errorf("failed to tri-state %s: %w", pin, err)
		}
	}
	if err := l.p.Init(l.timing.BaudRate); err != nil {
		return fmt.Errorf("failed to initialize UART: %w", err)
	}
	return nil
}

// Begin wakes the target's PDI interface and leaves the link transmitting.
func (l *Link) Begin() error {
	if err := l.p.ConfigureOutput(PinClock, High); err != nil {
		return fmt.Errorf("failed to drive %s: %w", PinClock, err)
	}
	if err := l.p.ConfigureOutput(PinDataOut, Low); err != nil {
		return fmt.Errorf("failed to drive %s: %w", PinDataOut, err)
	}
	l.sleep(l.timing.WakeLowDelay)

	if err := l.p.Write(PinDataOut, High); err != nil {
		return fmt.Errorf("failed to drive %s: %w", PinDataOut, err)
	}
	l.sleep(l.timing.WakeHighDelay)

	l.dir = DirTransmitting
	l.p.EnableClock()
	l.p.EnableTx()

	for i := 0; i < l.timing.WakeClockCycles; i++ {
		if err := l.waitClockCycle(); err != nil {
			return err
		}
	}
	return nil
}

// End waits for pending transmissions, disables the UART and tri-states all
// lines. Calling End on an idle link only repeats the tri-stating.
func (l *Link) End() error {
	var errs []error
	if l.dir != DirIdle {
		// Switching to receive drains the transmitter.
		if err := l.ensureReceive(); err != nil {
			errs = append(errs, err)
		}
	}

	l.p.DisableRx()
	l.p.DisableTx()
	l.p.DisableClock()
	l.dir = DirIdle
	l.unsent = false

	for _, pin := range [...]PinID{PinClock, PinDataOut, PinDataIn} {
		if err := l.p.ConfigureInput(pin); err != nil {
			errs = append(errs, fmt.Errorf("failed to tri-state %s: %w", pin, err))
		}
	}
	return errors.Join(errs...)
}

// Send queues b for transmission. It returns once the UART has accepted the
// byte, not once it is on the wire.
func (l *Link) Send(b byte) error {
	if err := l.ensureTransmit(); err != nil {
		return err
	}
	if err := l.waitFlag(l.p.TxBufferEmpty, "transmit buffer empty"); err != nil {
		return err
	}
	l.p.ResetTxComplete()
	l.p.WriteData(b)
	l.unsent = true
	return nil
}

// Send2 sends v least significant byte first.
func (l *Link) Send2(v uint16) error {
	return l.sendLE(uint32(v), 2)
}

// Send4 sends v least significant byte first.
func (l *Link) Send4(v uint32) error {
	return l.sendLE(v, 4)
}

func (l *Link) sendLE(v uint32, n int) error {
	for i := 0; i < n; i++ {
		if err := l.Send(byte(v >> (8 * i))); err != nil {
			return err
		}
	}
	return nil
}

// Recv waits for one frame from the target. The wait is measured in clock
// cycles (Timing.RecvTimeoutCycles), not wall time.
func (l *Link) Recv() (byte, error) {
	if err := l.ensureReceive(); err != nil {
		return 0, err
	}
	for i := 0; i < l.timing.RecvTimeoutCycles; i++ {
		if l.p.RxComplete() {
			if l.p.RxError() {
				// Pop the bad frame so it does not shadow the next one.
				l.p.ReadData()
				return 0, fmt.Errorf("%w: %w", ErrPkg, ErrSerial)
			}
			return l.p.ReadData(), nil
		}
		if err := l.waitClockCycle(); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: %w", ErrPkg, ErrSerialTimeout)
}

func (l *Link) ensureTransmit() error {
	if l.dir == DirTransmitting {
		return nil
	}
	// The target releases the line on a clock edge; switch on one too.
	if err := l.waitClockCycle(); err != nil {
		return err
	}
	if err := l.p.ConfigureOutput(PinDataOut, High); err != nil {
		return fmt.Errorf("failed to drive %s: %w", PinDataOut, err)
	}
	l.p.ResetTxComplete()
	l.p.DisableRx()
	l.p.EnableTx()
	l.dir = DirTransmitting
	return nil
}

func (l *Link) ensureReceive() error {
	if l.dir == DirReceiving {
		return nil
	}
	if l.dir == DirTransmitting && l.unsent {
		if err := l.waitFlag(l.p.TxComplete, "transmit complete"); err != nil {
			return err
		}
	}
	l.unsent = false
	l.p.ResetTxComplete()
	l.p.DisableTx()
	if err := l.p.ConfigureInput(PinDataOut); err != nil {
		return fmt.Errorf("failed to release %s: %w", PinDataOut, err)
	}
	l.p.EnableRx()
	l.dir = DirReceiving
	return nil
}

// waitClockCycle waits for the clock to go low, then high, then low again.
func (l *Link) waitClockCycle() error {
	for _, level := range [...]Level{Low, High, Low} {
		if err := l.waitClock(level); err != nil {
			return err
		}
	}
	return nil
}

func (l *Link) waitClock(level Level) error {
	for n := 0; l.p.Read(PinClock) != level; n++ {
		if l.timing.SpinLimit >= 0 && n >= l.timing.SpinLimit {
			return fmt.Errorf("%w: %w: clock stuck %s", ErrPkg, ErrLinkStalled, !level)
		}
	}
	return nil
}

func (l *Link) waitFlag(flag func() bool, name string) error {
	for n := 0; !flag(); n++ {
		if l.timing.SpinLimit >= 0 && n >= l.timing.SpinLimit {
			return fmt.Errorf("%w: %w: waiting for %s", ErrPkg, ErrLinkStalled, name)
		}
	}
	return nil
}
