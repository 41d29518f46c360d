package pdi

import (
	"bytes"
	"encoding/binary"
)

// Simulator is an in-memory XMEGA target behind a simulated UART. It
// implements Platform, decodes the PDI instruction stream and models the NVM
// controller closely enough to program flash, EEPROM, fuses and lock bits.
// A Simulator is not safe for concurrent use.
type Simulator struct {
	// BusyPolls is the number of NVM STATUS reads that report busy after
	// each NVM operation.
	BusyPolls int
	// NVMEnableDelay is the number of PDI STATUS reads after the key that
	// still report the NVM bus disabled.
	NVMEnableDelay int
	// ResetReleaseDelay is the number of RESET reads that still report the
	// target in reset after it was released.
	ResetReleaseDelay int
	// Silent drops every response, as a disconnected target would.
	Silent bool
	// StopClock freezes the clock line.
	StopClock bool

	target Target

	// pins
	output [3]bool
	level  [3]Level

	// uart
	baud                uint32
	clockOn, txOn, rxOn bool
	txc                 bool
	rx                  []simFrame
	rxErrors            int
	overlap             bool

	// instruction decoder
	op       byte
	want     int
	operand  []byte
	reps     uint32
	repeat   uint32
	ptr      uint32
	ctrl     byte
	inReset  bool
	resetLag int
	unlocked bool
	nvmenLag int

	// nvm
	cmd      NVMCommand
	nvmRegs  [0x40]byte
	busy     int
	flash    []byte
	pageBuf  []byte
	pageLoad bool
	eeprom   []byte
	eeBuf    []byte
	eeLoaded []bool
	fuses    []byte
	ram      map[uint32]byte

	ops       []byte
	sent      []byte
	events    []string
	actions   []SimAction
	whileBusy bool
}

// SimAction is an NVM operation carried out by the simulator.
type SimAction struct {
	Cmd NVMCommand
	// Addr is the triggering address, 0 for commands started with CMDEX.
	Addr uint32
}

type simFrame struct {
	b   byte
	err bool
}

// NewSimulator creates a blank target with the layout of t: flash, EEPROM,
// fuses and lock bits erased to 0xFF.
func NewSimulator(t Target) *Simulator {
	t.applyDefaults()
	s := &Simulator{
		target:   t,
		flash:    make([]byte, t.FlashSize()),
		pageBuf:  make([]byte, t.FlashPageSize),
		eeprom:   make([]byte, t.EEPROMSize()),
		eeBuf:    make([]byte, t.EEPROMPageSize),
		eeLoaded: make([]bool, t.EEPROMPageSize),
		fuses:    make([]byte, max(8, t.LockBitsOffset+1)),
		ram:      make(map[uint32]byte),
	}
	fill(s.flash, 0xFF)
	fill(s.pageBuf, 0xFF)
	fill(s.eeprom, 0xFF)
	fill(s.fuses, 0xFF)
	return s
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// --- Pins ---

func (s *Simulator) ConfigureOutput(pin PinID, initial Level) error {
	s.output[pin] = true
	s.level[pin] = initial
	s.event("out:" + pin.String())
	return nil
}

func (s *Simulator) ConfigureInput(pin PinID) error {
	s.output[pin] = false
	s.event("in:" + pin.String())
	return nil
}

func (s *Simulator) Write(pin PinID, l Level) error {
	s.level[pin] = l
	return nil
}

// Read of the clock pin advances the generated clock by half a period while
// the clock output is enabled.
func (s *Simulator) Read(pin PinID) Level {
	switch pin {
	case PinClock:
		if s.clockOn && !s.StopClock {
			s.level[PinClock] = !s.level[PinClock]
			s.event("clk:" + s.level[PinClock].String())
		}
		return s.level[PinClock]
	case PinDataIn:
		return High
	default:
		return s.level[pin]
	}
}

// --- Serial ---

func (s *Simulator) Init(baud uint32) error {
	s.baud = baud
	s.clockOn, s.txOn, s.rxOn = false, false, false
	return nil
}

func (s *Simulator) EnableClock()  { s.clockOn = true; s.event("clk+") }
func (s *Simulator) DisableClock() { s.clockOn = false; s.event("clk-") }

func (s *Simulator) EnableTx() {
	s.txOn = true
	s.overlap = s.overlap || s.rxOn
	s.event("tx+")
}

func (s *Simulator) DisableTx() { s.txOn = false; s.event("tx-") }

func (s *Simulator) EnableRx() {
	s.rxOn = true
	s.overlap = s.overlap || s.txOn
	s.event("rx+")
}

// DisableRx flushes unread frames like the hardware receiver does.
func (s *Simulator) DisableRx() {
	s.rxOn = false
	s.rx = s.rx[:0]
	s.event("rx-")
}

func (s *Simulator) RxComplete() bool    { return s.rxOn && len(s.rx) > 0 }
func (s *Simulator) TxComplete() bool    { return s.txc }
func (s *Simulator) TxBufferEmpty() bool { return true }
func (s *Simulator) RxError() bool       { return s.rxOn && len(s.rx) > 0 && s.rx[0].err }
func (s *Simulator) ResetTxComplete()    { s.txc = false }

func (s *Simulator) WriteData(b byte) {
	if !s.txOn {
		s.event("dropped")
		return
	}
	s.sent = append(s.sent, b)
	s.txc = true
	s.feed(b)
}

func (s *Simulator) ReadData() byte {
	if len(s.rx) == 0 {
		return 0
	}
	f := s.rx[0]
	s.rx = s.rx[1:]
	return f.b
}

// --- Knobs and observation ---

// InjectRxErrors flags the next n response frames with a receive error.
func (s *Simulator) InjectRxErrors(n int) { s.rxErrors = n }

// Sent returns every byte the target received.
func (s *Simulator) Sent() []byte { return bytes.Clone(s.sent) }

// Ops returns the decoded instruction opcodes in order.
func (s *Simulator) Ops() []byte { return bytes.Clone(s.ops) }

// Events returns the pin and UART control trace.
func (s *Simulator) Events() []string { return append([]string(nil), s.events...) }

// Actions returns the NVM operations carried out, in order.
func (s *Simulator) Actions() []SimAction { return append([]SimAction(nil), s.actions...) }

// Overlapped reports whether transmitter and receiver were ever enabled at
// the same time.
func (s *Simulator) Overlapped() bool { return s.overlap }

// CommandWhileBusy reports whether an NVM operation was started while the
// controller was still busy.
func (s *Simulator) CommandWhileBusy() bool { return s.whileBusy }

// ClearTrace forgets recorded bytes, opcodes, events and actions.
func (s *Simulator) ClearTrace() {
	s.sent, s.ops, s.events, s.actions = nil, nil, nil, nil
}

// InReset reports whether the target is held in reset.
func (s *Simulator) InReset() bool { return s.inReset }

// Unlocked reports whether the NVM key has been accepted.
func (s *Simulator) Unlocked() bool { return s.unlocked }

// Control returns the PDI CTRL register.
func (s *Simulator) Control() byte { return s.ctrl }

// IsOutput reports whether pin is driven.
func (s *Simulator) IsOutput(pin PinID) bool { return s.output[pin] }

// Flash returns a copy of the whole flash.
func (s *Simulator) Flash() []byte { return bytes.Clone(s.flash) }

// EEPROM returns a copy of the whole EEPROM.
func (s *Simulator) EEPROM() []byte { return bytes.Clone(s.eeprom) }

// Fuse returns fuse byte i.
func (s *Simulator) Fuse(i int) byte { return s.fuses[i] }

// LockBits returns the lock bits.
func (s *Simulator) LockBits() byte { return s.fuses[s.target.LockBitsOffset] }

// Load writes data straight into the backing store at the PDI address addr,
// bypassing the NVM controller.
func (s *Simulator) Load(addr uint32, data []byte) {
	for i, b := range data {
		s.poke(addr+uint32(i), b)
	}
}

func (s *Simulator) event(e string) {
	s.events = append(s.events, e)
}

func (s *Simulator) respond(b byte) {
	if s.Silent {
		return
	}
	f := simFrame{b: b}
	if s.rxErrors > 0 {
		f.err = true
		s.rxErrors--
	}
	s.rx = append(s.rx, f)
}

// --- Instruction decoder ---

func (s *Simulator) feed(b byte) {
	if s.want == 0 {
		s.decode(b)
		return
	}
	s.operand = append(s.operand, b)
	if len(s.operand) == s.want {
		s.complete()
	}
}

func addrSize(op byte) int { return int(op>>2&0x03) + 1 }
func dataSize(op byte) int { return int(op&0x03) + 1 }

func (s *Simulator) decode(op byte) {
	s.ops = append(s.ops, op)
	s.op = op
	s.operand = s.operand[:0]

	switch op & 0xE0 {
	case opLDS:
		s.want = addrSize(op)
	case opSTS:
		s.want = addrSize(op) + dataSize(op)
	case opLD:
		reps := s.takeRepeat()
		for ; reps > 0; reps-- {
			s.load(op)
		}
	case opST:
		s.want = dataSize(op)
		s.reps = s.takeRepeat()
	case opLDCS:
		s.respond(s.readCS(CSReg(op & 0x0F)))
	case opREPEAT:
		s.want = dataSize(op)
	case opSTCS:
		s.want = 1
	case opKEY:
		s.want = len(nvmKey)
	}
}

func (s *Simulator) takeRepeat() uint32 {
	n := s.repeat + 1
	s.repeat = 0
	return n
}

func le(b []byte) uint32 {
	var buf [4]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint32(buf[:])
}

func (s *Simulator) complete() {
	op := s.op
	s.want = 0
	switch op & 0xE0 {
	case opLDS:
		addr := le(s.operand)
		for i := 0; i < dataSize(op); i++ {
			s.respond(s.read(addr + uint32(i)))
		}
	case opSTS:
		n := addrSize(op)
		addr := le(s.operand[:n])
		for i, b := range s.operand[n:] {
			s.write(addr+uint32(i), b)
		}
	case opST:
		s.store(op, s.operand)
		s.reps--
		if s.reps > 0 {
			s.operand = s.operand[:0]
			s.want = dataSize(op)
		}
	case opREPEAT:
		s.repeat = le(s.operand)
	case opSTCS:
		s.writeCS(CSReg(op&0x0F), s.operand[0])
	case opKEY:
		if bytes.Equal(s.operand, nvmKey[:]) {
			s.unlocked = true
			s.nvmenLag = s.NVMEnableDelay
		}
	}
}

func (s *Simulator) load(op byte) {
	n := dataSize(op)
	switch PtrMode(op >> 2 & 0x03) {
	case PtrIndirect:
		for i := 0; i < n; i++ {
			s.respond(s.read(s.ptr + uint32(i)))
		}
	case PtrIndirectInc:
		for i := 0; i < n; i++ {
			s.respond(s.read(s.ptr))
			s.ptr++
		}
	default:
		for i := 0; i < n; i++ {
			s.respond(byte(s.ptr >> (8 * i)))
		}
	}
}

func (s *Simulator) store(op byte, data []byte) {
	switch PtrMode(op >> 2 & 0x03) {
	case PtrIndirect:
		for i, b := range data {
			s.write(s.ptr+uint32(i), b)
		}
	case PtrIndirectInc:
		for _, b := range data {
			s.write(s.ptr, b)
			s.ptr++
		}
	default:
		s.ptr = le(data)
	}
}

func (s *Simulator) readCS(reg CSReg) byte {
	switch reg {
	case CSStatus:
		if !s.unlocked {
			return 0
		}
		if s.nvmenLag > 0 {
			s.nvmenLag--
			return 0
		}
		return byte(csStatusNVMEN)
	case CSReset:
		if s.inReset {
			return 0x01
		}
		if s.resetLag > 0 {
			s.resetLag--
			return 0x01
		}
		return 0
	case CSControl:
		return s.ctrl
	default:
		return 0
	}
}

func (s *Simulator) writeCS(reg CSReg, v byte) {
	switch reg {
	case CSReset:
		if v == resetSignature {
			s.inReset = true
		} else if s.inReset {
			s.inReset = false
			s.resetLag = s.ResetReleaseDelay
		}
	case CSControl:
		s.ctrl = v & 0x07
	}
}

// --- Memory map ---

type region uint8

const (
	regionRAM region = iota
	regionNVMRegs
	regionFlash
	regionEEPROM
	regionFuses
)

func (s *Simulator) locate(addr uint32) (region, uint32) {
	t := &s.target
	switch {
	case addr >= t.NVMBase() && addr < t.NVMBase()+uint32(len(s.nvmRegs)):
		return regionNVMRegs, addr - t.NVMBase()
	case addr >= t.FlashBase && addr < t.FlashBase+t.FlashSize():
		return regionFlash, addr - t.FlashBase
	case addr >= t.EEPROMBase && addr < t.EEPROMBase+t.EEPROMSize():
		return regionEEPROM, addr - t.EEPROMBase
	case addr >= t.FuseBase && addr < t.FuseBase+uint32(len(s.fuses)):
		return regionFuses, addr - t.FuseBase
	default:
		return regionRAM, addr
	}
}

func (s *Simulator) read(addr uint32) byte {
	r, off := s.locate(addr)
	switch r {
	case regionNVMRegs:
		return s.readNVMReg(NVMReg(off))
	case regionRAM:
		return s.ram[off]
	}
	// NVM spaces are only mapped while READ_NVM is selected.
	if s.cmd != CmdReadNVM {
		return 0
	}
	switch r {
	case regionFlash:
		return s.flash[off]
	case regionEEPROM:
		return s.eeprom[off]
	default:
		return s.fuses[off]
	}
}

func (s *Simulator) poke(addr uint32, v byte) {
	r, off := s.locate(addr)
	switch r {
	case regionFlash:
		s.flash[off] = v
	case regionEEPROM:
		s.eeprom[off] = v
	case regionFuses:
		s.fuses[off] = v
	case regionRAM:
		s.ram[off] = v
	}
}

func (s *Simulator) write(addr uint32, v byte) {
	r, off := s.locate(addr)
	switch r {
	case regionNVMRegs:
		s.writeNVMReg(NVMReg(off), v)
	case regionFlash:
		s.writeFlash(off, v)
	case regionEEPROM:
		s.writeEEPROM(off, v)
	case regionFuses:
		s.writeFuse(off, v)
	default:
		s.ram[off] = v
	}
}

func (s *Simulator) readNVMReg(r NVMReg) byte {
	switch r {
	case NVMRegStatus:
		var st NVMStatus
		if s.busy > 0 {
			s.busy--
			st |= nvmStatusBusy | nvmStatusFBusy
		}
		if s.pageLoad {
			st |= nvmStatusFLoad
		}
		for _, loaded := range s.eeLoaded {
			if loaded {
				st |= nvmStatusEELoad
				break
			}
		}
		return byte(st)
	case NVMRegCmd:
		return byte(s.cmd)
	default:
		return s.nvmRegs[r]
	}
}

func (s *Simulator) writeNVMReg(r NVMReg, v byte) {
	switch r {
	case NVMRegCmd:
		s.cmd = NVMCommand(v)
	case NVMRegCtrlA:
		if NVMCtrlA(v)&NVMCtrlACmdEx != 0 {
			s.execute()
		}
	default:
		s.nvmRegs[r] = v
	}
}

// start records an NVM operation and makes the controller busy.
func (s *Simulator) start(cmd NVMCommand, addr uint32) {
	if s.busy > 0 {
		s.whileBusy = true
	}
	s.actions = append(s.actions, SimAction{Cmd: cmd, Addr: addr})
	s.busy = s.BusyPolls
}

func (s *Simulator) execute() {
	switch s.cmd {
	case CmdChipErase:
		fill(s.flash, 0xFF)
		fill(s.eeprom, 0xFF)
		s.fuses[s.target.LockBitsOffset] = 0xFF
	case CmdEraseFlashPageBuffer:
		fill(s.pageBuf, 0xFF)
		s.pageLoad = false
	case CmdEraseEEPROMPageBuffer:
		s.clearEEPROMBuffer()
	case CmdEraseEEPROM:
		fill(s.eeprom, 0xFF)
	default:
		return
	}
	s.start(s.cmd, 0)
}

func (s *Simulator) flashPage(off uint32) []byte {
	size := uint32(s.target.FlashPageSize)
	base := off - off%size
	return s.flash[base : base+size]
}

func (s *Simulator) inSection(off uint32, section Section) bool {
	boot := s.target.BootBase() - s.target.FlashBase
	if section == SectionBoot {
		return off >= boot
	}
	return off < boot
}

func (s *Simulator) writeFlash(off uint32, v byte) {
	boot := s.target.BootBase() - s.target.FlashBase
	switch s.cmd {
	case CmdLoadFlashPageBuffer:
		s.pageBuf[off%uint32(s.target.FlashPageSize)] = v
		s.pageLoad = true
		return
	case CmdEraseAppSection:
		fill(s.flash[:boot], 0xFF)
	case CmdEraseBootSection:
		fill(s.flash[boot:], 0xFF)
	case CmdEraseFlashPage:
		fill(s.flashPage(off), 0xFF)
	case CmdEraseAppSectionPage, CmdEraseBootSectionPage:
		if s.inSection(off, sectionOf(s.cmd)) {
			fill(s.flashPage(off), 0xFF)
		}
	case CmdWriteFlashPage, CmdWriteAppSectionPage, CmdWriteBootSectionPage:
		if s.inSection(off, sectionOf(s.cmd)) || s.cmd == CmdWriteFlashPage {
			page := s.flashPage(off)
			for i := range page {
				page[i] &= s.pageBuf[i]
			}
		}
		fill(s.pageBuf, 0xFF)
		s.pageLoad = false
	case CmdEraseWriteFlashPage, CmdEraseWriteAppSectionPage, CmdEraseWriteBootSectionPage:
		if s.inSection(off, sectionOf(s.cmd)) || s.cmd == CmdEraseWriteFlashPage {
			copy(s.flashPage(off), s.pageBuf)
		}
		fill(s.pageBuf, 0xFF)
		s.pageLoad = false
	default:
		return
	}
	s.start(s.cmd, s.target.FlashBase+off)
}

func sectionOf(cmd NVMCommand) Section {
	switch cmd {
	case CmdEraseBootSectionPage, CmdWriteBootSectionPage, CmdEraseWriteBootSectionPage:
		return SectionBoot
	default:
		return SectionApp
	}
}

func (s *Simulator) clearEEPROMBuffer() {
	fill(s.eeBuf, 0xFF)
	for i := range s.eeLoaded {
		s.eeLoaded[i] = false
	}
}

func (s *Simulator) writeEEPROM(off uint32, v byte) {
	size := uint32(s.target.EEPROMPageSize)
	page := s.eeprom[off-off%size : off-off%size+size]
	switch s.cmd {
	case CmdLoadEEPROMPageBuffer:
		s.eeBuf[off%size] = v
		s.eeLoaded[off%size] = true
		return
	case CmdEraseEEPROMPage:
		for i, loaded := range s.eeLoaded {
			if loaded {
				page[i] = 0xFF
			}
		}
	case CmdWriteEEPROMPage:
		for i, loaded := range s.eeLoaded {
			if loaded {
				page[i] &= s.eeBuf[i]
			}
		}
	case CmdEraseWriteEEPROMPage:
		for i, loaded := range s.eeLoaded {
			if loaded {
				page[i] = s.eeBuf[i]
			}
		}
	default:
		return
	}
	s.clearEEPROMBuffer()
	s.start(s.cmd, s.target.EEPROMBase+off)
}

func (s *Simulator) writeFuse(off uint32, v byte) {
	switch {
	case s.cmd == CmdWriteFuse && off != s.target.LockBitsOffset:
		s.fuses[off] = v
	case s.cmd == CmdWriteLockBits && off == s.target.LockBitsOffset:
		// Lock bits only ever get more restrictive.
		s.fuses[off] &= v
	default:
		return
	}
	s.start(s.cmd, s.target.FuseBase+off)
}
