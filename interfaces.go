package pdi

// Level represents the logical level of a pin (Low or High).
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Pull represents the internal pull-up/down resistor state.
type Pull uint8

const (
	PullNoChange Pull = iota
	PullFloat
	PullDown
	PullUp
)

// PinID names one of the three PDI signal lines.
type PinID uint8

const (
	// PinClock carries the PDI clock (XCK of the synchronous USART).
	PinClock PinID = iota
	// PinDataOut is the programmer's transmit line towards PDI_DATA.
	PinDataOut
	// PinDataIn is the programmer's receive line from PDI_DATA.
	PinDataIn
)

func (p PinID) String() string {
	switch p {
	case PinClock:
		return "CLK"
	case PinDataOut:
		return "TXD"
	case PinDataIn:
		return "RXD"
	default:
		return "unknown"
	}
}

// Pin represents a generic GPIO pin.
type Pin interface {
	// Out sets the pin as output with the given level.
	Out(l Level) error
	// In sets the pin as input with the given pull mode.
	In(pull Pull) error
	// Read returns the current level of the pin.
	Read() Level
}

// Pins controls direction and level of the PDI signal lines.
type Pins interface {
	// ConfigureOutput drives pin with the initial level.
	ConfigureOutput(pin PinID, initial Level) error
	// ConfigureInput tri-states pin.
	ConfigureInput(pin PinID) error
	// Write sets the level of an output pin.
	Write(pin PinID, l Level) error
	// Read samples the current level of pin.
	Read(pin PinID) Level
}

// Serial is the byte-level synchronous UART that shifts PDI frames.
// Flag queries are side-effect free from the caller's point of view and may
// be polled in tight loops.
type Serial interface {
	// Init configures the frame format and clock rate. Transmitter, receiver
	// and clock output are left disabled.
	Init(baud uint32) error

	EnableClock()
	DisableClock()
	EnableTx()
	DisableTx()
	EnableRx()
	DisableRx()

	// RxComplete reports an unread received frame.
	RxComplete() bool
	// TxComplete reports that the last frame has been shifted out and no
	// new data is pending.
	TxComplete() bool
	// TxBufferEmpty reports that the transmit buffer accepts a new byte.
	TxBufferEmpty() bool
	// RxError reports a framing, parity or overrun error on the unread frame.
	RxError() bool
	// ResetTxComplete clears the transmit complete flag.
	ResetTxComplete()

	// WriteData loads b into the transmit buffer.
	WriteData(b byte)
	// ReadData pops the unread frame, clearing RxComplete and RxError.
	ReadData() byte
}

// Platform is everything the driver needs from the host microcontroller.
type Platform interface {
	Pins
	Serial
}
