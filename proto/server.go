package proto

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/michcald/pdi"
)

// Programmer is the part of *pdi.Session the server drives.
type Programmer interface {
	Begin() error
	End() error
	Active() bool
	EraseChip() error
	WriteFlash(offset uint32, src io.ByteReader, n int, preErase bool, section pdi.Section) error
	WriteFuse(addr uint8, data byte) error
}

var _ Programmer = (*pdi.Session)(nil)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger used for request failures.
// Defaults to the pdi global logger if not provided.
func WithLogger(l pdi.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// Server answers host requests arriving on rw by driving a Programmer. The
// programming session is started lazily by the first request that needs the
// target and ended by RequestEnd.
type Server struct {
	rw   io.ReadWriter
	prog Programmer
	log  pdi.Logger
	buf  [4]byte
}

// NewServer creates a server for prog on rw.
func NewServer(rw io.ReadWriter, prog Programmer, opts ...ServerOption) *Server {
	s := &Server{
		rw:   rw,
		prog: prog,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) logger() pdi.Logger {
	if s.log != nil {
		return s.log
	}
	return pdi.GetLogger()
}

// Serve handles requests until rw reports io.EOF, which ends an active
// session and returns nil, or until ctx is done. ctx is checked between
// requests; a blocked read is not interrupted.
func (s *Server) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b, err := s.recv()
		if errors.Is(err, io.EOF) {
			s.logger().Info("Host closed the connection.")
			s.endSession()
			return nil
		}
		if err != nil {
			return err
		}

		resp, err := s.Handle(Request(b))
		if err != nil {
			return err
		}
		if err := s.send(byte(resp)); err != nil {
			return err
		}
	}
}

// Handle reads the operands of req from the host, carries it out and returns
// the response code to send. The returned error is only set when the
// connection to the host failed; programmer failures become
// ResponseInternalError.
func (s *Server) Handle(req Request) (Response, error) {
	switch req {
	case RequestNOP:
		return ResponseOK, nil

	case RequestEraseChip:
		err := s.ensureActive()
		if err == nil {
			err = s.prog.EraseChip()
		}
		return s.response(req, err), nil

	case RequestWriteAppFlash:
		return s.writeAppFlash()

	case RequestWriteFuse:
		addr, err := s.recv()
		if err != nil {
			return ResponseUnknownError, err
		}
		data, err := s.recv()
		if err != nil {
			return ResponseUnknownError, err
		}
		err = s.ensureActive()
		if err == nil {
			err = s.prog.WriteFuse(addr, data)
		}
		return s.response(req, err), nil

	case RequestEnd:
		s.endSession()
		return ResponseOK, nil

	default:
		s.logger().Warn(fmt.Sprintf("Invalid request 0x%02X", byte(req)))
		return ResponseInvalidRequest, nil
	}
}

func (s *Server) writeAppFlash() (Response, error) {
	addr, err := s.recvN(4)
	if err != nil {
		return ResponseUnknownError, err
	}
	n, err := s.recvN(2)
	if err != nil {
		return ResponseUnknownError, err
	}

	src := &ackReader{s: s, left: int(n)}
	err = s.ensureActive()
	if err == nil {
		// The host erases the chip first, so pages are written without a
		// pre-erase.
		err = s.prog.WriteFlash(addr, src, int(n), false, pdi.SectionApp)
	}
	if src.err != nil {
		return ResponseUnknownError, src.err
	}
	// Keep the stream in sync when the write stopped early.
	if derr := src.drain(); derr != nil {
		return ResponseUnknownError, derr
	}
	return s.response(RequestWriteAppFlash, err), nil
}

// ensureActive begins a session if none is active. A failed bring-up is
// ended right away so the target is not left in reset.
func (s *Server) ensureActive() error {
	if s.prog.Active() {
		return nil
	}
	err := s.prog.Begin()
	if err == nil {
		return nil
	}
	if endErr := s.prog.End(); endErr != nil {
		s.logger().Warn("Failed to end session after failed begin: " + endErr.Error())
	}
	return err
}

func (s *Server) endSession() {
	if !s.prog.Active() {
		return
	}
	if err := s.prog.End(); err != nil {
		s.logger().Warn("Failed to end session: " + err.Error())
	}
}

func (s *Server) response(req Request, err error) Response {
	if err == nil {
		return ResponseOK
	}
	s.logger().Error(fmt.Sprintf("%s failed (%s): %v", req, pdi.StatusOf(err), err))
	return ResponseInternalError
}

// recv reads one byte from the host and acknowledges it.
func (s *Server) recv() (byte, error) {
	if _, err := io.ReadFull(s.rw, s.buf[:1]); err != nil {
		return 0, err
	}
	if err := s.send(Ack); err != nil {
		return 0, err
	}
	return s.buf[0], nil
}

// recvN reads an n-byte little-endian value, acknowledging each byte.
func (s *Server) recvN(n int) (uint32, error) {
	var b [4]byte
	for i := 0; i < n; i++ {
		v, err := s.recv()
		if err != nil {
			return 0, fmt.Errorf("%w: operand truncated: %w", ErrPkg, err)
		}
		b[i] = v
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func (s *Server) send(b byte) error {
	s.buf[3] = b
	if _, err := s.rw.Write(s.buf[3:4]); err != nil {
		return fmt.Errorf("%w: write to host: %w", ErrPkg, err)
	}
	return nil
}

// ackReader streams request data to the programmer one acknowledged byte at
// a time and never reads past the announced length.
type ackReader struct {
	s    *Server
	left int
	err  error
}

func (r *ackReader) ReadByte() (byte, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.left == 0 {
		return 0, io.EOF
	}
	b, err := r.s.recv()
	if err != nil {
		r.err = fmt.Errorf("%w: data truncated: %w", ErrPkg, err)
		return 0, r.err
	}
	r.left--
	return b, nil
}

func (r *ackReader) drain() error {
	for r.left > 0 {
		if _, err := r.ReadByte(); err != nil {
			return err
		}
	}
	return nil
}
