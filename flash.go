package pdi

import (
	"bytes"
	"fmt"
	"io"
)

// Opcode families indexed by section.
var (
	pageEraseCmds = [...]NVMCommand{
		SectionUnspecified: CmdEraseFlashPage,
		SectionApp:         CmdEraseAppSectionPage,
		SectionBoot:        CmdEraseBootSectionPage,
	}
	pageWriteCmds = [...]NVMCommand{
		SectionUnspecified: CmdWriteFlashPage,
		SectionApp:         CmdWriteAppSectionPage,
		SectionBoot:        CmdWriteBootSectionPage,
	}
	pageEraseWriteCmds = [...]NVMCommand{
		SectionUnspecified: CmdEraseWriteFlashPage,
		SectionApp:         CmdEraseWriteAppSectionPage,
		SectionBoot:        CmdEraseWriteBootSectionPage,
	}
)

func sectionIndex(section Section) (int, error) {
	if section > SectionBoot {
		return 0, fmt.Errorf("%w: %w: %d", ErrPkg, ErrInvalidSection, section)
	}
	return int(section), nil
}

func pageEraseCommand(section Section) (NVMCommand, error) {
	i, err := sectionIndex(section)
	if err != nil {
		return CmdNOP, err
	}
	return pageEraseCmds[i], nil
}

func pageWriteCommand(section Section, preErase bool) (NVMCommand, error) {
	i, err := sectionIndex(section)
	if err != nil {
		return CmdNOP, err
	}
	if preErase {
		return pageEraseWriteCmds[i], nil
	}
	return pageWriteCmds[i], nil
}

// Call with lock held.
func (s *Session) eraseSection(offset uint32, section Section) error {
	var cmd NVMCommand
	switch section {
	case SectionApp:
		cmd = CmdEraseAppSection
	case SectionBoot:
		cmd = CmdEraseBootSection
	default:
		// There is no whole-flash erase short of a chip erase.
		return fmt.Errorf("%w: %w: cannot erase %s section", ErrPkg, ErrInvalidSection, section)
	}
	return s.trigger(cmd, s.target.RealAddress(offset, section))
}

// trigger issues a write-triggered NVM command: the dummy store to addr starts
// the operation on that address.
// Call with lock held.
func (s *Session) trigger(cmd NVMCommand, addr uint32) error {
	if err := s.nvm.waitWhileBusy(); err != nil {
		return err
	}
	if err := s.nvm.writeCommand(cmd); err != nil {
		return err
	}
	return s.enc.StoreDirect(addr, 0)
}

// Call with lock held.
func (s *Session) eraseBuffer() error {
	if err := s.nvm.waitWhileBusy(); err != nil {
		return err
	}
	return s.nvm.execCommand(CmdEraseFlashPageBuffer)
}

// Call with lock held.
func (s *Session) writeBuffer(offset uint32, src io.ByteReader, n int, section Section) error {
	if n < 0 || n > int(s.target.FlashPageSize) {
		return fmt.Errorf("%w: %w: %d bytes exceed page size %d", ErrPkg, ErrInvalidLength, n, s.target.FlashPageSize)
	}
	if err := s.nvm.waitWhileBusy(); err != nil {
		return err
	}
	if err := s.nvm.writeCommand(CmdLoadFlashPageBuffer); err != nil {
		return err
	}
	if err := s.enc.StorePointerAddr(PtrDirect, s.target.RealAddress(offset, section)); err != nil {
		return err
	}
	return s.enc.BulkStore(PtrIndirectInc, n, src)
}

// Call with lock held.
func (s *Session) erasePage(offset uint32, section Section) error {
	cmd, err := pageEraseCommand(section)
	if err != nil {
		return err
	}
	return s.trigger(cmd, s.target.RealAddress(offset, section))
}

// Call with lock held.
func (s *Session) writePageFromBuffer(offset uint32, preErase bool, section Section) error {
	cmd, err := pageWriteCommand(section, preErase)
	if err != nil {
		return err
	}
	return s.trigger(cmd, s.target.RealAddress(offset, section))
}

// Call with lock held.
func (s *Session) writePage(offset uint32, src io.ByteReader, n int, preErase bool, section Section) error {
	if err := s.eraseBuffer(); err != nil {
		return err
	}
	if err := s.writeBuffer(offset, src, n, section); err != nil {
		return err
	}
	return s.writePageFromBuffer(offset, preErase, section)
}

// Call with lock held.
func (s *Session) writeFlash(offset uint32, src io.ByteReader, n int, preErase bool, section Section) error {
	if n < 0 {
		return fmt.Errorf("%w: %w: %d", ErrPkg, ErrInvalidLength, n)
	}
	page := int(s.target.FlashPageSize)
	for n > 0 {
		chunk := min(n, page)
		if err := s.writePage(offset, src, chunk, preErase, section); err != nil {
			return fmt.Errorf("page at %s+0x%X: %w", section, offset, err)
		}
		s.logger().Debug(fmt.Sprintf("Wrote %d bytes to %s page at 0x%X", chunk, section, offset))
		offset += uint32(chunk)
		n -= chunk
	}
	return nil
}

// EraseFlashSection erases the whole app or boot section. offset selects an
// address inside the section and is normally 0.
func (s *Session) EraseFlashSection(offset uint32, section Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.eraseSection(offset, section)
}

// EraseFlashBuffer clears the target's flash page buffer.
func (s *Session) EraseFlashBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.eraseBuffer()
}

// WriteFlashBuffer loads n bytes from src into the page buffer. n must not
// exceed one page.
func (s *Session) WriteFlashBuffer(offset uint32, src io.ByteReader, n int, section Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.writeBuffer(offset, src, n, section)
}

// EraseFlashPage erases the page containing offset.
func (s *Session) EraseFlashPage(offset uint32, section Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.erasePage(offset, section)
}

// WriteFlashPageFromBuffer commits the page buffer to the page containing
// offset, optionally erasing the page first.
func (s *Session) WriteFlashPageFromBuffer(offset uint32, preErase bool, section Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.writePageFromBuffer(offset, preErase, section)
}

// WriteFlashPage programs up to one page from src.
func (s *Session) WriteFlashPage(offset uint32, src io.ByteReader, n int, preErase bool, section Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.writePage(offset, src, n, preErase, section)
}

// WriteFlash programs n bytes pulled from src in page-sized chunks starting at
// offset. offset should be page aligned: a page write commits the page the
// trigger address falls in. Pages written before a failure stay written.
func (s *Session) WriteFlash(offset uint32, src io.ByteReader, n int, preErase bool, section Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	return s.writeFlash(offset, src, n, preErase, section)
}

// ReadFlash reads n bytes of flash starting at offset within section.
func (s *Session) ReadFlash(offset uint32, n int, section Section) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return nil, err
	}
	return s.nvm.readMemory(s.target.RealAddress(offset, section), n)
}

// VerifyFlash reads back len(want) bytes and returns a *VerifyError for the
// first mismatch.
func (s *Session) VerifyFlash(offset uint32, want []byte, section Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	addr := s.target.RealAddress(offset, section)
	for done := 0; done < len(want); {
		chunk := min(len(want)-done, MaxBulkLen)
		got, err := s.nvm.readMemory(addr+uint32(done), chunk)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, want[done:done+chunk]) {
			for i := range got {
				if got[i] != want[done+i] {
					return &VerifyError{Addr: addr + uint32(done+i), Want: want[done+i], Got: got[i]}
				}
			}
		}
		done += chunk
	}
	return nil
}

// WriteFuse programs fuse byte addr.
func (s *Session) WriteFuse(addr uint8, data byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	s.logger().Debug(fmt.Sprintf("Writing fuse %d = 0x%02X", addr, data))
	if err := s.nvm.waitWhileBusy(); err != nil {
		return err
	}
	if err := s.nvm.writeCommand(CmdWriteFuse); err != nil {
		return err
	}
	return s.enc.StoreDirect(s.target.FuseBase+uint32(addr), data)
}

// ReadFuse reads fuse byte addr.
func (s *Session) ReadFuse(addr uint8) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return 0, err
	}
	b, err := s.nvm.readMemory(s.target.FuseBase+uint32(addr), 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteLockBits programs the lock bits. Lock bits can only be cleared again
// by a chip erase.
func (s *Session) WriteLockBits(data byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkActive(); err != nil {
		return err
	}
	if err := s.nvm.waitWhileBusy(); err != nil {
		return err
	}
	if err := s.nvm.writeCommand(CmdWriteLockBits); err != nil {
		return err
	}
	return s.enc.StoreDirect(s.target.LockBitsAddr(), data)
}
