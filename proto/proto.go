// Package proto implements the byte-oriented protocol between a host and the
// PDI programmer.
//
// Every byte the programmer receives is acknowledged with Ack before the host
// sends the next one. A request is an opcode followed by its operands; the
// programmer answers each request with a single Response code once it has
// been carried out.
package proto

import (
	"errors"
	"fmt"
)

// Request is a request opcode.
type Request byte

const (
	RequestNOP           Request = 0x00
	RequestWriteAppFlash Request = 0x02
	RequestWriteFuse     Request = 0x03
	RequestEraseChip     Request = 0x04
	RequestEnd           Request = 0xFF
)

func (r Request) String() string {
	switch r {
	case RequestNOP:
		return "NOP"
	case RequestWriteAppFlash:
		return "WriteAppFlash"
	case RequestWriteFuse:
		return "WriteFuse"
	case RequestEraseChip:
		return "EraseChip"
	case RequestEnd:
		return "End"
	default:
		return fmt.Sprintf("Request(0x%02X)", byte(r))
	}
}

// Response is a response code.
type Response byte

const (
	ResponseOK             Response = 0x00
	ResponseInvalidRequest Response = 0x01
	ResponseInternalError  Response = 0xFE
	ResponseUnknownError   Response = 0xFF
)

func (r Response) String() string {
	switch r {
	case ResponseOK:
		return "ok"
	case ResponseInvalidRequest:
		return "invalid request"
	case ResponseInternalError:
		return "internal error"
	default:
		return "unknown error"
	}
}

// Ack acknowledges every received byte.
const Ack byte = 0xFF

// MaxChunk is the largest data block a single WriteAppFlash request carries.
const MaxChunk = 0xFFFF

var (
	ErrPkg = errors.New("proto")
	// ErrNoAck is returned when the programmer does not acknowledge a byte.
	ErrNoAck = errors.New("no acknowledge from programmer")
)

// ResponseError is returned by Client when the programmer answers with
// anything but ResponseOK.
type ResponseError struct {
	Request Request
	Code    Response
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Request, e.Code, byte(e.Code))
}
