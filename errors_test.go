package pdi

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{fmt.Errorf("%w: %w", ErrPkg, ErrSerial), StatusSerialError},
		{fmt.Errorf("page at app+0x0: %w", fmt.Errorf("%w: %w", ErrPkg, ErrSerialTimeout)), StatusSerialTimeout},
		{ErrInvalidLength, StatusInvalidLength},
		{ErrInvalidSection, StatusInvalidSection},
		{ErrBusyTimeout, StatusUnknownError},
		{errors.New("gpio busy"), StatusUnknownError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestVerifyErrorMessage(t *testing.T) {
	err := &VerifyError{Addr: 0x800012, Want: 0x04, Got: 0x03}
	want := "verify failed at 0x800012: expected 0x04, got 0x03"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestGuardTimeCode(t *testing.T) {
	tests := []struct {
		g    GuardTime
		code byte
		ok   bool
	}{
		{GuardTime128, 0, true},
		{GuardTime32, 2, true},
		{GuardTime2, 6, true},
		{3, 0, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		code, ok := tt.g.Code()
		if code != tt.code || ok != tt.ok {
			t.Errorf("GuardTime(%d).Code() = %d, %v; want %d, %v", tt.g, code, ok, tt.code, tt.ok)
		}
	}
}

func TestRealAddress(t *testing.T) {
	tgt := DefaultTarget()
	if got := tgt.RealAddress(0x10, SectionApp); got != 0x800010 {
		t.Errorf("app: 0x%X", got)
	}
	if got := tgt.RealAddress(0x10, SectionBoot); got != 0x800000+384*512+0x10 {
		t.Errorf("boot: 0x%X", got)
	}
	if got := tgt.RealAddress(0x10, SectionUnspecified); got != 0x800010 {
		t.Errorf("unspecified: 0x%X", got)
	}
}
