//go:build !tinygo

package pdi

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// realPin wraps a gpio.PinIO to satisfy the Pin interface.
type realPin struct {
	gpio.PinIO
}

func (p *realPin) Out(l Level) error {
	if l == High {
		return p.PinIO.Out(gpio.High)
	}
	return p.PinIO.Out(gpio.Low)
}

func (p *realPin) In(pull Pull) error {
	var pPull gpio.Pull
	switch pull {
	case PullFloat:
		pPull = gpio.Float
	case PullDown:
		pPull = gpio.PullDown
	case PullUp:
		pPull = gpio.PullUp
	default:
		pPull = gpio.PullNoChange
	}
	return p.PinIO.In(pPull, gpio.NoEdge)
}

func (p *realPin) Read() Level {
	if p.PinIO.Read() == gpio.High {
		return High
	}
	return Low
}

// Config holds the configuration for the Linux/periph.io driver.
type Config struct {
	SessionConfig
	// ClockPin is the GPIO pin number (BCM numbering) wired to PDI_CLK, which
	// is the target's RESET pin.
	// Defaults to 23 if not provided.
	ClockPin int
	// DataOutPin is the GPIO pin number driving PDI_DATA through a series
	// resistor.
	// Defaults to 24 if not provided.
	DataOutPin int
	// DataInPin is the GPIO pin number sampling PDI_DATA.
	// Defaults to 25 if not provided.
	DataInPin int
	// ClockRate is the PDI clock generated by bit-banging. It overrides
	// Timing.BaudRate.
	// Defaults to 100kHz if not provided.
	ClockRate physic.Frequency
}

// New creates a PDI session on Linux GPIOs using periph.io.
// The target is not touched until Begin is called.
func New(c Config) (*Session, error) {
	// 1. Initialize periph.io host
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}

	// 2. Defaults
	if c.ClockPin == 0 {
		c.ClockPin = 23
	}
	if c.DataOutPin == 0 {
		c.DataOutPin = 24
	}
	if c.DataInPin == 0 {
		c.DataInPin = 25
	}
	if c.ClockRate == 0 {
		c.ClockRate = 100 * physic.KiloHertz
	}
	c.Timing.BaudRate = uint32(c.ClockRate / physic.Hertz)

	// 3. Open the pins
	var pins [3]Pin
	for i, n := range [...]int{c.ClockPin, c.DataOutPin, c.DataInPin} {
		name := fmt.Sprintf("GPIO%d", n)
		gp := gpioreg.ByName(name)
		if gp == nil {
			return nil, fmt.Errorf("failed to open %s pin %s", PinID(i), name)
		}
		pins[i] = &realPin{PinIO: gp}
	}

	// 4. Call internal constructor
	return NewSession(NewSoftPlatform(pins[PinClock], pins[PinDataOut], pins[PinDataIn]), c.SessionConfig)
}
