package pdi

import (
	"fmt"
	"io"
)

func (s *Session) eepromAddr(offset uint32) uint32 {
	return s.target.EEPROMBase + offset
}

// Call with lock held.
func (s *Session) writeEEPROMPage(offset uint32, src io.ByteReader, n int, preErase bool) error {
	if n < 0 || n > int(s.target.EEPROMPageSize) {
		return fmt.Errorf("%w: %w: %d bytes exceed EEPROM page size %d", ErrPkg, ErrInvalidLength, n, s.target.EEPROMPageSize)
	}

	// 1. Clear the page buffer
	if err := s.eraseEEPROMBuffer(); err != nil {
		return err
	}

	// 2. Load it
	if err := s.nvm.waitWhileBusy(); err != nil {
		return err
	}
	if err := s.nvm.writeCommand(CmdLoadEEPROMPageBuffer); err != nil {
		return err
	}
	if err := s.enc.StorePointerAddr(PtrDirect, s.eepromAddr(offset)); err != nil {
		return err
	}
	if err := s.enc.BulkStore(PtrIndirectInc, n, src); err != nil {
		return err
	}

	// 3. Commit. Only the loaded bytes of the page are touched.
	cmd := CmdWriteEEPROMPage
	if preErase {
		cmd = CmdEraseWriteEEPROMPage
	}
	return s.trigger(cmd, s.eepromAddr(offset))
}

// Call with lock held.
func (s *Session) eraseEEPROMBuffer() error {
	if err := s.nvm.waitWhileBusy(); err != nil {
		return err
	}
	return s.nvm.execCommand(CmdEraseEEPROMPageBuffer)
}

// EraseEEPROMBuffer clears the target's EEPROM page buffer.
func (s *Session) EraseEEPROMBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.eraseEEPROMBuffer()
}

// WriteEEPROMPage writes up to one EEPROM page from src. The bytes must not
// cross a page boundary.
func (s *Session) WriteEEPROMPage(offset uint32, src io.ByteReader, n int, preErase bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.writeEEPROMPage(offset, src, n, preErase)
}

// WriteEEPROM writes n bytes pulled from src starting at offset, one EEPROM
// page at a time.
func (s *Session) WriteEEPROM(offset uint32, src io.ByteReader, n int, preErase bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%w: %w: %d", ErrPkg, ErrInvalidLength, n)
	}
	page := int(s.target.EEPROMPageSize)
	for n > 0 {
		// Stay inside the page that offset falls in.
		chunk := min(n, page-int(offset%uint32(page)))
		if err := s.writeEEPROMPage(offset, src, chunk, preErase); err != nil {
			return fmt.Errorf("EEPROM page at 0x%X: %w", offset, err)
		}
		offset += uint32(chunk)
		n -= chunk
	}
	return nil
}

// ReadEEPROM reads n bytes of EEPROM starting at offset.
func (s *Session) ReadEEPROM(offset uint32, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return nil, err
	}
	return s.nvm.readMemory(s.eepromAddr(offset), n)
}

// EraseEEPROM sets the whole EEPROM to 0xFF.
func (s *Session) EraseEEPROM() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	if err := s.nvm.waitWhileBusy(); err != nil {
		return err
	}
	return s.nvm.execCommand(CmdEraseEEPROM)
}
