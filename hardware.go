package pdi

import (
	"fmt"
	"time"
)

// PDI frame: start bit, 8 data bits LSB first, even parity, 2 stop bits.
const frameBits = 12

func frame(b byte) uint16 {
	f := uint16(b) << 1
	if parity(b) {
		f |= 1 << 9
	}
	return f | 0x3<<10
}

// parity reports an odd number of set bits in b, which even parity must
// complement with a set parity bit.
func parity(b byte) bool {
	b ^= b >> 4
	b ^= b >> 2
	b ^= b >> 1
	return b&1 != 0
}

// SoftPlatform implements Platform by bit-banging a synchronous USART over
// three GPIO pins. There are no interrupts or goroutines: the clock advances
// by half a period every time the clock line or a UART flag is polled, which
// is exactly what the link does while it waits.
//
// A pin that fails to drive during a transfer halts the clock, so the link
// stops seeing progress and reports ErrLinkStalled. Err returns the failure.
type SoftPlatform struct {
	pins [3]Pin
	half time.Duration
	wait func(time.Duration)

	clockOn, txOn, rxOn bool
	clk                 Level

	// transmitter
	txData  byte
	txFull  bool
	shift   uint16
	shiftN  int
	lastBit bool
	txc     bool

	// receiver
	rxShift uint16
	rxN     int
	rxData  byte
	rxReady bool
	rxErr   bool

	err error
}

// NewSoftPlatform creates a platform on the given clock, data-out and data-in
// pins. Data-out and data-in are joined to PDI_DATA outside the programmer.
func NewSoftPlatform(clk, txd, rxd Pin) *SoftPlatform {
	return &SoftPlatform{
		pins: [3]Pin{PinClock: clk, PinDataOut: txd, PinDataIn: rxd},
		wait: spinWait,
	}
}

func spinWait(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}

func (p *SoftPlatform) ConfigureOutput(pin PinID, initial Level) error {
	if pin == PinClock {
		p.clk = initial
	}
	return p.pins[pin].Out(initial)
}

func (p *SoftPlatform) ConfigureInput(pin PinID) error {
	return p.pins[pin].In(PullFloat)
}

func (p *SoftPlatform) Write(pin PinID, l Level) error {
	if pin == PinClock {
		p.clk = l
	}
	return p.pins[pin].Out(l)
}

func (p *SoftPlatform) Read(pin PinID) Level {
	if pin == PinClock {
		p.tick()
		return p.clk
	}
	return p.pins[pin].Read()
}

func (p *SoftPlatform) Init(baud uint32) error {
	if baud == 0 {
		return fmt.Errorf("%w: baud rate must be non-zero", ErrPkg)
	}
	p.half = time.Second / time.Duration(2*baud)
	p.clockOn, p.txOn, p.rxOn = false, false, false
	p.err = nil
	return nil
}

// Err returns the first pin error seen while clocking since the last Init.
func (p *SoftPlatform) Err() error {
	return p.err
}

func (p *SoftPlatform) fail(pin PinID, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: pin %d: %w", ErrPkg, pin, err)
	}
}

func (p *SoftPlatform) EnableClock()  { p.clockOn = true }
func (p *SoftPlatform) DisableClock() { p.clockOn = false }
func (p *SoftPlatform) EnableTx()     { p.txOn = true }

func (p *SoftPlatform) DisableTx() {
	p.txOn = false
	p.txFull = false
	p.shiftN = 0
	p.lastBit = false
}

func (p *SoftPlatform) EnableRx() { p.rxOn = true }

func (p *SoftPlatform) DisableRx() {
	p.rxOn = false
	p.rxN = 0
	p.rxReady = false
	p.rxErr = false
}

func (p *SoftPlatform) TxBufferEmpty() bool {
	if p.txFull {
		p.tick()
	}
	return !p.txFull
}

func (p *SoftPlatform) TxComplete() bool {
	if !p.txc {
		p.tick()
	}
	return p.txc
}

func (p *SoftPlatform) RxComplete() bool {
	if !p.rxReady {
		p.tick()
	}
	return p.rxReady
}

func (p *SoftPlatform) RxError() bool    { return p.rxReady && p.rxErr }
func (p *SoftPlatform) ResetTxComplete() { p.txc = false }

func (p *SoftPlatform) WriteData(b byte) {
	p.txData = b
	p.txFull = true
}

func (p *SoftPlatform) ReadData() byte {
	p.rxReady = false
	p.rxErr = false
	return p.rxData
}

// tick advances the clock by half a period. Data changes on the falling edge
// and is sampled on the rising edge.
func (p *SoftPlatform) tick() {
	if !p.clockOn || p.err != nil {
		return
	}
	p.wait(p.half)
	if err := p.pins[PinClock].Out(!p.clk); err != nil {
		p.fail(PinClock, err)
		return
	}
	p.clk = !p.clk
	if p.clk == Low {
		p.shiftOut()
		return
	}
	p.sampleIn()
	if p.lastBit {
		p.lastBit = false
		p.txc = !p.txFull
	}
}

func (p *SoftPlatform) shiftOut() {
	if !p.txOn {
		return
	}
	if p.shiftN == 0 {
		if !p.txFull {
			return
		}
		p.shift = frame(p.txData)
		p.shiftN = frameBits
		p.txFull = false
	}
	if err := p.pins[PinDataOut].Out(p.shift&1 != 0); err != nil {
		p.fail(PinDataOut, err)
		return
	}
	p.shift >>= 1
	p.shiftN--
	p.lastBit = p.shiftN == 0
}

func (p *SoftPlatform) sampleIn() {
	if !p.rxOn {
		return
	}
	bit := p.pins[PinDataIn].Read()
	if p.rxN == 0 {
		if bit == Low {
			p.rxShift = 0
			p.rxN = 1
		}
		return
	}
	if bit == High {
		p.rxShift |= 1 << p.rxN
	}
	p.rxN++
	if p.rxN < frameBits {
		return
	}

	p.rxN = 0
	data := byte(p.rxShift >> 1)
	parityBit := p.rxShift>>9&1 != 0
	stops := p.rxShift >> 10 & 0x3
	// An unread frame is overwritten, which the hardware reports as overrun.
	p.rxErr = p.rxReady || parityBit != parity(data) || stops != 0x3
	p.rxData = data
	p.rxReady = true
}
