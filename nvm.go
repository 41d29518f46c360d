package pdi

import (
	"fmt"
)

// controller drives the target's NVM controller through its memory-mapped
// registers. It is only valid while the session holds the NVM key.
type controller struct {
	enc    *Encoder
	target *Target
}

func (c *controller) regAddr(r NVMReg) uint32 {
	return c.target.NVMBase() + uint32(r)
}

func (c *controller) writeCommand(cmd NVMCommand) error {
	return c.enc.StoreDirect(c.regAddr(NVMRegCmd), byte(cmd))
}

// execute triggers the command held in CMD for commands that need CMDEX.
func (c *controller) execute() error {
	return c.enc.StoreDirect(c.regAddr(NVMRegCtrlA), byte(NVMCtrlACmdEx))
}

func (c *controller) execCommand(cmd NVMCommand) error {
	if err := c.writeCommand(cmd); err != nil {
		return err
	}
	return c.execute()
}

// waitWhileBusy first waits for the PDI bus to the NVM to come up, then for the
// NVM controller to go idle. Each stage gives up after Target.BusyPollLimit
// polls.
func (c *controller) waitWhileBusy() error {
	if err := c.waitBusEnabled(); err != nil {
		return err
	}
	return c.waitIdle()
}

func (c *controller) waitBusEnabled() error {
	for n := 0; ; n++ {
		if c.exhausted(n) {
			return fmt.Errorf("%w: %w: NVM bus not enabled", ErrPkg, ErrBusyTimeout)
		}
		v, err := c.enc.LoadCS(CSStatus)
		if err != nil {
			return err
		}
		if CSStatusFlags(v).NVMEnabled() {
			return nil
		}
	}
}

func (c *controller) waitIdle() error {
	if err := c.enc.StorePointerAddr(PtrDirect, c.regAddr(NVMRegStatus)); err != nil {
		return err
	}
	for n := 0; ; n++ {
		if c.exhausted(n) {
			return fmt.Errorf("%w: %w: NVM controller busy", ErrPkg, ErrBusyTimeout)
		}
		v, err := c.enc.LoadPointer(PtrIndirect)
		if err != nil {
			return err
		}
		if !NVMStatus(v).Busy() {
			return nil
		}
	}
}

func (c *controller) exhausted(polls int) bool {
	return c.target.BusyPollLimit >= 0 && polls >= c.target.BusyPollLimit
}

// readMemory reads n bytes of any NVM space (flash, EEPROM, fuses, signature
// rows) starting at addr.
func (c *controller) readMemory(addr uint32, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if n < 0 || n > MaxBulkLen {
		return nil, fmt.Errorf("%w: %w: read of %d bytes", ErrPkg, ErrInvalidLength, n)
	}
	if err := c.waitWhileBusy(); err != nil {
		return nil, err
	}
	if err := c.writeCommand(CmdReadNVM); err != nil {
		return nil, err
	}
	if err := c.enc.StorePointerAddr(PtrDirect, addr); err != nil {
		return nil, err
	}
	return c.enc.BulkLoad(PtrIndirectInc, n)
}

func (c *controller) eraseChip() error {
	if err := c.waitWhileBusy(); err != nil {
		return err
	}
	return c.execCommand(CmdChipErase)
}

// EraseChip erases flash, EEPROM and lock bits.
func (s *Session) EraseChip() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	s.logger().Info("Erasing chip...")
	return s.nvm.eraseChip()
}

// ReadMemory reads n bytes from any NVM space starting at the absolute PDI
// address addr.
func (s *Session) ReadMemory(addr uint32, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return nil, err
	}
	return s.nvm.readMemory(addr, n)
}

// WaitWhileBusy blocks until the NVM controller is idle.
func (s *Session) WaitWhileBusy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.nvm.waitWhileBusy()
}
