// Package profile loads device profiles: the memory layout and link timing
// of a target, kept in YAML so new parts need no code changes.
package profile

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/michcald/pdi"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid profile")

// Profile describes one target device.
type Profile struct {
	Name   string       `yaml:"name"`
	Flash  FlashConfig  `yaml:"flash"`
	EEPROM EEPROMConfig `yaml:"eeprom"`
	Fuses  FuseConfig   `yaml:"fuses"`
	RAM    RAMConfig    `yaml:"ram"`
	Link   LinkConfig   `yaml:"link"`
	Poll   PollConfig   `yaml:"poll"`
}

type FlashConfig struct {
	Base      uint32 `yaml:"base"`
	PageSize  uint16 `yaml:"page_size"`
	AppPages  uint32 `yaml:"app_pages"`
	BootPages uint32 `yaml:"boot_pages"`
}

type EEPROMConfig struct {
	Base     uint32 `yaml:"base"`
	PageSize uint16 `yaml:"page_size"`
	Pages    uint32 `yaml:"pages"`
}

type FuseConfig struct {
	Base           uint32 `yaml:"base"`
	LockBitsOffset uint32 `yaml:"lock_bits_offset"`
}

type RAMConfig struct {
	Base          uint32 `yaml:"base"`
	NVMRegsOffset uint32 `yaml:"nvm_regs_offset"`
}

// LinkConfig holds the PDI link parameters.
type LinkConfig struct {
	BaudRate          uint32        `yaml:"baud_rate"`
	GuardTime         int           `yaml:"guard_time"` // in bits
	WakeLowDelay      time.Duration `yaml:"wake_low_delay"`
	WakeHighDelay     time.Duration `yaml:"wake_high_delay"`
	WakeClockCycles   int           `yaml:"wake_clock_cycles"`
	RecvTimeoutCycles int           `yaml:"recv_timeout_cycles"`
}

// PollConfig bounds the busy waits. Negative values mean unbounded.
type PollConfig struct {
	Busy  int `yaml:"busy"`
	Reset int `yaml:"reset"`
	Spin  int `yaml:"spin"`
}

// Default returns the profile of the ATxmega192A3.
func Default() Profile {
	t := pdi.DefaultTarget()
	tm := pdi.DefaultTiming()
	return Profile{
		Name: t.Name,
		Flash: FlashConfig{
			Base:      t.FlashBase,
			PageSize:  t.FlashPageSize,
			AppPages:  t.FlashAppPages,
			BootPages: t.FlashBootPages,
		},
		EEPROM: EEPROMConfig{
			Base:     t.EEPROMBase,
			PageSize: t.EEPROMPageSize,
			Pages:    t.EEPROMPages,
		},
		Fuses: FuseConfig{
			Base:           t.FuseBase,
			LockBitsOffset: t.LockBitsOffset,
		},
		RAM: RAMConfig{
			Base:          t.RAMBase,
			NVMRegsOffset: t.NVMRegsOffset,
		},
		Link: LinkConfig{
			BaudRate:          tm.BaudRate,
			GuardTime:         int(t.GuardTime),
			WakeLowDelay:      tm.WakeLowDelay,
			WakeHighDelay:     tm.WakeHighDelay,
			WakeClockCycles:   tm.WakeClockCycles,
			RecvTimeoutCycles: tm.RecvTimeoutCycles,
		},
		Poll: PollConfig{
			Busy:  t.BusyPollLimit,
			Reset: t.ResetPollLimit,
			Spin:  tm.SpinLimit,
		},
	}
}

// Parse decodes a YAML profile. Fields the document leaves out keep the
// values of Default.
func Parse(data []byte) (Profile, error) {
	p := Default()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Load reads and parses the profile at path.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	p, err := Parse(data)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Validate checks the profile for values the driver cannot work with.
func (p Profile) Validate() error {
	if p.Flash.PageSize == 0 {
		return fmt.Errorf("%w: flash.page_size must be non-zero", ErrInvalid)
	}
	if p.Flash.AppPages == 0 {
		return fmt.Errorf("%w: flash.app_pages must be non-zero", ErrInvalid)
	}
	if p.EEPROM.PageSize == 0 {
		return fmt.Errorf("%w: eeprom.page_size must be non-zero", ErrInvalid)
	}
	if p.Link.GuardTime < 0 || p.Link.GuardTime > 128 {
		return fmt.Errorf("%w: link.guard_time %d out of range", ErrInvalid, p.Link.GuardTime)
	}
	if _, ok := pdi.GuardTime(p.Link.GuardTime).Code(); !ok {
		return fmt.Errorf("%w: link.guard_time must be a power of two between 2 and 128, got %d", ErrInvalid, p.Link.GuardTime)
	}
	if p.Link.BaudRate == 0 {
		return fmt.Errorf("%w: link.baud_rate must be non-zero", ErrInvalid)
	}
	return nil
}

// Target returns the memory layout described by p.
func (p Profile) Target() pdi.Target {
	return pdi.Target{
		Name:           p.Name,
		FlashPageSize:  p.Flash.PageSize,
		FlashAppPages:  p.Flash.AppPages,
		FlashBootPages: p.Flash.BootPages,
		FlashBase:      p.Flash.Base,
		EEPROMPageSize: p.EEPROM.PageSize,
		EEPROMPages:    p.EEPROM.Pages,
		EEPROMBase:     p.EEPROM.Base,
		FuseBase:       p.Fuses.Base,
		LockBitsOffset: p.Fuses.LockBitsOffset,
		RAMBase:        p.RAM.Base,
		NVMRegsOffset:  p.RAM.NVMRegsOffset,
		GuardTime:      pdi.GuardTime(p.Link.GuardTime),
		BusyPollLimit:  p.Poll.Busy,
		ResetPollLimit: p.Poll.Reset,
	}
}

// Timing returns the link timing described by p.
func (p Profile) Timing() pdi.Timing {
	return pdi.Timing{
		BaudRate:          p.Link.BaudRate,
		WakeLowDelay:      p.Link.WakeLowDelay,
		WakeHighDelay:     p.Link.WakeHighDelay,
		WakeClockCycles:   p.Link.WakeClockCycles,
		RecvTimeoutCycles: p.Link.RecvTimeoutCycles,
		SpinLimit:         p.Poll.Spin,
	}
}

// SessionConfig returns a session configuration for p using l for logging.
func (p Profile) SessionConfig(l pdi.Logger) pdi.SessionConfig {
	return pdi.SessionConfig{
		Target: p.Target(),
		Timing: p.Timing(),
		Logger: l,
	}
}
