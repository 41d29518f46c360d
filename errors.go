package pdi

import (
	"errors"
	"fmt"
)

var (
	ErrPkg = errors.New("pdi")

	// ErrSerial is returned when a received frame had a framing, parity or
	// overrun error.
	ErrSerial = errors.New("serial frame error")
	// ErrSerialTimeout is returned when no frame arrived within the receive
	// window.
	ErrSerialTimeout = errors.New("timeout waiting for target response")
	// ErrInvalidLength is returned for transfers larger than the device allows.
	ErrInvalidLength = errors.New("invalid length")
	// ErrInvalidSection is returned when an operation needs the app or boot
	// section and got another one.
	ErrInvalidSection = errors.New("invalid flash section")
	ErrUnknown        = errors.New("unknown error")

	// ErrBusyTimeout is returned when the NVM controller stays busy (or its
	// bus stays disabled) for longer than Target.BusyPollLimit polls.
	ErrBusyTimeout = errors.New("timeout waiting for NVM controller")
	// ErrResetTimeout is returned when the target does not leave reset within
	// Target.ResetPollLimit polls.
	ErrResetTimeout = errors.New("timeout waiting for target to leave reset")
	// ErrLinkStalled is returned when the clock line or a UART flag does not
	// change within Timing.SpinLimit polls.
	ErrLinkStalled = errors.New("link stalled")
	// ErrSessionInactive is returned by NVM operations called outside a
	// programming session.
	ErrSessionInactive = errors.New("session not active")
	// ErrSourceExhausted is returned when a byte source ends before the
	// requested number of bytes has been pulled.
	ErrSourceExhausted = errors.New("byte source exhausted")
)

// Status is the coarse result code of a driver operation.
type Status uint8

const (
	StatusOK Status = iota
	StatusSerialError
	StatusSerialTimeout
	StatusInvalidLength
	StatusInvalidSection
	StatusUnknownError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSerialError:
		return "serial error"
	case StatusSerialTimeout:
		return "serial timeout"
	case StatusInvalidLength:
		return "invalid length"
	case StatusInvalidSection:
		return "invalid section"
	default:
		return "unknown error"
	}
}

// StatusOf maps err onto the status taxonomy. Errors outside the taxonomy
// (stalls, poll limits, platform errors) map to StatusUnknownError.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrSerial):
		return StatusSerialError
	case errors.Is(err, ErrSerialTimeout):
		return StatusSerialTimeout
	case errors.Is(err, ErrInvalidLength):
		return StatusInvalidLength
	case errors.Is(err, ErrInvalidSection):
		return StatusInvalidSection
	default:
		return StatusUnknownError
	}
}

// VerifyError reports the first byte that read back differently from what
// was written.
type VerifyError struct {
	Addr uint32
	Want byte
	Got  byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify failed at 0x%06X: expected 0x%02X, got 0x%02X", e.Addr, e.Want, e.Got)
}
