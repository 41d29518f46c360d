package pdi

import (
	"errors"
	"fmt"
	"io"
)

// PDI instruction opcodes. The low bits carry size and pointer mode fields.
const (
	opLDS    = 0x00
	opLD     = 0x20
	opSTS    = 0x40
	opST     = 0x60
	opLDCS   = 0x80
	opREPEAT = 0xA0
	opSTCS   = 0xC0
	opKEY    = 0xE0
)

// Encoded operand sizes (size in bytes minus one, 3 for four bytes).
const (
	size1 = 0x00
	size2 = 0x01
	size4 = 0x03
)

// nvmKey unlocks the NVM controller when sent after the KEY opcode.
var nvmKey = [8]byte{0xFF, 0x88, 0xD8, 0xCD, 0x45, 0xAB, 0x89, 0x12}

// MaxBulkLen is the largest transfer a single REPEAT can cover.
const MaxBulkLen = 0x10000

// Encoder turns PDI instructions into byte sequences on a Link.
type Encoder struct {
	link *Link
}

// NewEncoder creates an encoder on top of l.
func NewEncoder(l *Link) *Encoder {
	return &Encoder{link: l}
}

// LoadDirect reads one byte from a 4-byte data-space address (LDS).
func (e *Encoder) LoadDirect(addr uint32) (byte, error) {
	if err := e.link.Send(opLDS | size4<<2 | size1); err != nil {
		return 0, err
	}
	if err := e.link.Send4(addr); err != nil {
		return 0, err
	}
	return e.link.Recv()
}

// StoreDirect writes one byte to a 4-byte data-space address (STS).
func (e *Encoder) StoreDirect(addr uint32, data byte) error {
	if err := e.link.Send(opSTS | size4<<2 | size1); err != nil {
		return err
	}
	if err := e.link.Send4(addr); err != nil {
		return err
	}
	return e.link.Send(data)
}

// LoadPointer reads one byte through the pointer register (LD).
func (e *Encoder) LoadPointer(mode PtrMode) (byte, error) {
	if err := e.link.Send(opLD | mode.bits() | size1); err != nil {
		return 0, err
	}
	return e.link.Recv()
}

// StorePointer writes one byte through the pointer register (ST).
func (e *Encoder) StorePointer(mode PtrMode, data byte) error {
	if err := e.link.Send(opST | mode.bits() | size1); err != nil {
		return err
	}
	return e.link.Send(data)
}

// StorePointerAddr stores a 4-byte value with ST. With PtrDirect this loads
// the pointer register itself.
func (e *Encoder) StorePointerAddr(mode PtrMode, addr uint32) error {
	if err := e.link.Send(opST | mode.bits() | size4); err != nil {
		return err
	}
	return e.link.Send4(addr)
}

// LoadCS reads a control/status register (LDCS).
func (e *Encoder) LoadCS(reg CSReg) (byte, error) {
	if err := e.link.Send(opLDCS | byte(reg)&0x0F); err != nil {
		return 0, err
	}
	return e.link.Recv()
}

// StoreCS writes a control/status register (STCS).
func (e *Encoder) StoreCS(reg CSReg, data byte) error {
	if err := e.link.Send(opSTCS | byte(reg)&0x0F); err != nil {
		return err
	}
	return e.link.Send(data)
}

// Repeat1 makes the next instruction execute count+1 times.
func (e *Encoder) Repeat1(count uint8) error {
	if err := e.link.Send(opREPEAT | size1); err != nil {
		return err
	}
	return e.link.Send(count)
}

// Repeat2 is Repeat1 with a 2-byte count.
func (e *Encoder) Repeat2(count uint16) error {
	if err := e.link.Send(opREPEAT | size2); err != nil {
		return err
	}
	return e.link.Send2(count)
}

// SendKey sends the KEY instruction followed by the NVM key.
func (e *Encoder) SendKey() error {
	if err := e.link.Send(opKEY); err != nil {
		return err
	}
	for _, b := range nvmKey {
		if err := e.link.Send(b); err != nil {
			return err
		}
	}
	return nil
}

// BulkLoad reads n bytes through the pointer register. Transfers of more than
// one byte use a single REPEAT; zero bytes produce no traffic.
func (e *Encoder) BulkLoad(mode PtrMode, n int) ([]byte, error) {
	switch {
	case n == 0:
		return nil, nil
	case n < 0 || n > MaxBulkLen:
		return nil, fmt.Errorf("%w: %w: bulk load of %d bytes", ErrPkg, ErrInvalidLength, n)
	case n == 1:
		b, err := e.LoadPointer(mode)
		if err != nil {
			return nil, err
		}
		return []byte{b}, nil
	}

	if err := e.Repeat2(uint16(n - 1)); err != nil {
		return nil, err
	}
	if err := e.link.Send(opLD | mode.bits() | size1); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	for i := range buf {
		b, err := e.link.Recv()
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

// BulkStore writes n bytes pulled from src through the pointer register.
// Exactly one byte is pulled per byte sent, so src can be a stream that is
// still arriving. Zero bytes produce no traffic.
func (e *Encoder) BulkStore(mode PtrMode, n int, src io.ByteReader) error {
	switch {
	case n == 0:
		return nil
	case n < 0 || n > MaxBulkLen:
		return fmt.Errorf("%w: %w: bulk store of %d bytes", ErrPkg, ErrInvalidLength, n)
	case n > 1:
		if err := e.Repeat2(uint16(n - 1)); err != nil {
			return err
		}
	}

	if err := e.link.Send(opST | mode.bits() | size1); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		b, err := src.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrSourceExhausted
			}
			return fmt.Errorf("%w: byte %d of %d: %w", ErrPkg, i, n, err)
		}
		if err := e.link.Send(b); err != nil {
			return err
		}
	}
	return nil
}
