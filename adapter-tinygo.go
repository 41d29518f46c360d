//go:build tinygo

package pdi

import (
	"machine"
)

// tinygoPin wraps a machine.Pin to satisfy the Pin interface.
type tinygoPin struct {
	pin machine.Pin
}

func (p *tinygoPin) Out(l Level) error {
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(bool(l))
	return nil
}

func (p *tinygoPin) In(pull Pull) error {
	var mPull machine.PinMode
	switch pull {
	case PullUp:
		mPull = machine.PinInputPullup
	case PullDown:
		mPull = machine.PinInputPulldown
	default:
		mPull = machine.PinInput
	}
	p.pin.Configure(machine.PinConfig{Mode: mPull})
	return nil
}

func (p *tinygoPin) Read() Level {
	return Level(p.pin.Get())
}

// NewTinyGo creates a PDI session on TinyGo systems, bit-banging the PDI
// clock and data lines on the given pins.
// Timing.BaudRate defaults to 250kHz here if not provided.
func NewTinyGo(c SessionConfig, clkPin, txdPin, rxdPin machine.Pin) (*Session, error) {
	if c.Timing.BaudRate == 0 {
		c.Timing.BaudRate = 250000
	}
	p := NewSoftPlatform(&tinygoPin{pin: clkPin}, &tinygoPin{pin: txdPin}, &tinygoPin{pin: rxdPin})
	return NewSession(p, c)
}
