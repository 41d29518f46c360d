package pdi

import (
	"fmt"
	"time"
)

// Target describes the memory layout of the device being programmed.
type Target struct {
	// Name is informational only.
	Name string
	// FlashPageSize is the flash page size in bytes.
	// Defaults to 512 if not provided.
	FlashPageSize uint16
	// FlashAppPages is the number of pages in the application section.
	// Defaults to 384 if not provided.
	FlashAppPages uint32
	// FlashBootPages is the number of pages in the boot section.
	// Defaults to 16 if not provided.
	FlashBootPages uint32
	// FlashBase is the PDI data-space address of the first flash byte.
	// Defaults to 0x00800000 if not provided.
	FlashBase uint32
	// EEPROMPageSize is the EEPROM page size in bytes.
	// Defaults to 32 if not provided.
	EEPROMPageSize uint16
	// EEPROMPages is the number of EEPROM pages.
	// Defaults to 64 if not provided.
	EEPROMPages uint32
	// EEPROMBase defaults to 0x008C0000 if not provided.
	EEPROMBase uint32
	// FuseBase is the address of fuse byte 0.
	// Defaults to 0x008F0020 if not provided.
	FuseBase uint32
	// LockBitsOffset is the offset of the lock bits from FuseBase.
	// Defaults to 7 if not provided.
	LockBitsOffset uint32
	// RAMBase is the address of the data memory as seen over PDI.
	// Defaults to 0x01000000 if not provided.
	RAMBase uint32
	// NVMRegsOffset is the offset of the NVM controller from RAMBase.
	// Defaults to 0x01C0 if not provided.
	NVMRegsOffset uint32
	// GuardTime is written to the PDI CTRL register during bring-up.
	// Defaults to GuardTime32 if not provided.
	GuardTime GuardTime
	// BusyPollLimit bounds each stage of the NVM busy wait.
	// Negative means unbounded. Defaults to 100000 if not provided.
	BusyPollLimit int
	// ResetPollLimit bounds the reset release poll at session end.
	// Negative means unbounded. Defaults to 1000 if not provided.
	ResetPollLimit int
}

// DefaultTarget returns the layout of a 192K ATxmega A3 device.
func DefaultTarget() Target {
	t := Target{Name: "atxmega192a3"}
	t.applyDefaults()
	return t
}

func (t *Target) applyDefaults() {
	if t.FlashPageSize == 0 {
		t.FlashPageSize = 512
	}
	if t.FlashAppPages == 0 {
		t.FlashAppPages = 384
	}
	if t.FlashBootPages == 0 {
		t.FlashBootPages = 16
	}
	if t.FlashBase == 0 {
		t.FlashBase = 0x00800000
	}
	if t.EEPROMPageSize == 0 {
		t.EEPROMPageSize = 32
	}
	if t.EEPROMPages == 0 {
		t.EEPROMPages = 64
	}
	if t.EEPROMBase == 0 {
		t.EEPROMBase = 0x008C0000
	}
	if t.FuseBase == 0 {
		t.FuseBase = 0x008F0020
	}
	if t.LockBitsOffset == 0 {
		t.LockBitsOffset = 7
	}
	if t.RAMBase == 0 {
		t.RAMBase = 0x01000000
	}
	if t.NVMRegsOffset == 0 {
		t.NVMRegsOffset = 0x01C0
	}
	if t.GuardTime == 0 {
		t.GuardTime = GuardTime32
	}
	if t.BusyPollLimit == 0 {
		t.BusyPollLimit = 100000
	}
	if t.ResetPollLimit == 0 {
		t.ResetPollLimit = 1000
	}
}

func (t *Target) validate() error {
	if _, ok := t.GuardTime.Code(); !ok {
		return fmt.Errorf("%w: guard time must be a power of two between 2 and 128, got %d", ErrPkg, t.GuardTime)
	}
	if t.FlashPageSize == 0 || t.EEPROMPageSize == 0 {
		return fmt.Errorf("%w: page sizes must be non-zero", ErrPkg)
	}
	return nil
}

// AppBase is the address of the first application section byte.
func (t Target) AppBase() uint32 { return t.FlashBase }

// BootBase is the address of the first boot section byte.
func (t Target) BootBase() uint32 {
	return t.FlashBase + t.FlashAppPages*uint32(t.FlashPageSize)
}

// FlashSize is the combined size of the app and boot sections.
func (t Target) FlashSize() uint32 {
	return (t.FlashAppPages + t.FlashBootPages) * uint32(t.FlashPageSize)
}

// EEPROMSize is the EEPROM size in bytes.
func (t Target) EEPROMSize() uint32 { return t.EEPROMPages * uint32(t.EEPROMPageSize) }

// NVMBase is the address of the NVM controller's register block.
func (t Target) NVMBase() uint32 { return t.RAMBase + t.NVMRegsOffset }

// LockBitsAddr is the address the lock bits are written to.
func (t Target) LockBitsAddr() uint32 { return t.FuseBase + t.LockBitsOffset }

// RealAddress translates an offset relative to section into a PDI address.
func (t Target) RealAddress(offset uint32, section Section) uint32 {
	switch section {
	case SectionApp:
		return t.AppBase() + offset
	case SectionBoot:
		return t.BootBase() + offset
	default:
		return t.FlashBase + offset
	}
}

// Timing holds the link timing constants.
type Timing struct {
	// BaudRate is the PDI clock rate in Hz.
	// Defaults to 2000000 if not provided.
	BaudRate uint32
	// WakeLowDelay is how long PDI_DATA is held low after the clock is
	// enabled during bring-up. Defaults to 100µs if not provided.
	WakeLowDelay time.Duration
	// WakeHighDelay is how long PDI_DATA is held high before the UART takes
	// over. Defaults to 20µs if not provided.
	WakeHighDelay time.Duration
	// WakeClockCycles is the number of idle clock cycles sent after wake-up.
	// The target needs at least 16. Defaults to 18 if not provided.
	WakeClockCycles int
	// RecvTimeoutCycles is the number of clock cycles Recv waits for a frame.
	// Defaults to 1024 if not provided.
	RecvTimeoutCycles int
	// SpinLimit bounds every wait on a clock level or UART flag.
	// Negative means unbounded. Defaults to 1000000 if not provided.
	SpinLimit int
}

// DefaultTiming returns the timing used by the reference programmer.
func DefaultTiming() Timing {
	var t Timing
	t.applyDefaults()
	return t
}

func (t *Timing) applyDefaults() {
	if t.BaudRate == 0 {
		t.BaudRate = 2000000
	}
	if t.WakeLowDelay == 0 {
		t.WakeLowDelay = 100 * time.Microsecond
	}
	if t.WakeHighDelay == 0 {
		t.WakeHighDelay = 20 * time.Microsecond
	}
	if t.WakeClockCycles == 0 {
		t.WakeClockCycles = 18
	}
	if t.RecvTimeoutCycles == 0 {
		t.RecvTimeoutCycles = 1024
	}
	if t.SpinLimit == 0 {
		t.SpinLimit = 1000000
	}
}

// SessionConfig holds the configuration of a programming session.
type SessionConfig struct {
	Target Target
	Timing Timing
	// Logger overrides the global logger for this session.
	Logger Logger
}
