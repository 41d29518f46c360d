package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithChunkSize sets the largest block sent in one WriteAppFlash request.
// Defaults to 1024 if not provided; values above MaxChunk are clamped.
func WithChunkSize(n int) ClientOption {
	return func(c *Client) {
		c.chunk = n
	}
}

// WithPageSize sets the target's flash page size. A request that starts off
// a page boundary is cut at the next boundary, so every page write on the
// programmer stays inside one page.
// Defaults to 512 if not provided.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		c.page = n
	}
}

// WithProgress sets a callback invoked after every acknowledged data chunk
// with the number of bytes written so far and the total.
func WithProgress(fn func(done, total int)) ClientOption {
	return func(c *Client) {
		c.progress = fn
	}
}

// Client sends requests to a programmer over rw.
type Client struct {
	rw       io.ReadWriter
	chunk    int
	page     int
	progress func(done, total int)
	buf      [1]byte
}

// NewClient creates a client talking to the programmer on rw.
func NewClient(rw io.ReadWriter, opts ...ClientOption) *Client {
	c := &Client{rw: rw}
	for _, opt := range opts {
		opt(c)
	}
	if c.chunk <= 0 {
		c.chunk = 1024
	}
	if c.chunk > MaxChunk {
		c.chunk = MaxChunk
	}
	if c.page <= 0 {
		c.page = 512
	}
	return c
}

// Nop checks that the programmer answers.
func (c *Client) Nop() error {
	return c.do(RequestNOP)
}

// EraseChip erases flash, EEPROM and lock bits of the target.
func (c *Client) EraseChip() error {
	return c.do(RequestEraseChip)
}

// WriteFuse programs fuse byte addr.
func (c *Client) WriteFuse(addr uint8, data byte) error {
	return c.do(RequestWriteFuse, addr, data)
}

// End releases the target.
func (c *Client) End() error {
	return c.do(RequestEnd)
}

// Close ends the programming session. The underlying connection is left
// open.
func (c *Client) Close() error {
	return c.End()
}

// WriteAppFlash writes data to the application section starting at addr,
// split into requests of at most the configured chunk size. addr need not be
// page aligned. The target pages must be erased beforehand.
func (c *Client) WriteAppFlash(addr uint32, data []byte) error {
	for done := 0; done < len(data); {
		n := c.requestLen(addr+uint32(done), len(data)-done)

		var hdr [6]byte
		binary.LittleEndian.PutUint32(hdr[:4], addr+uint32(done))
		binary.LittleEndian.PutUint16(hdr[4:], uint16(n))

		if err := c.send(byte(RequestWriteAppFlash)); err != nil {
			return err
		}
		if err := c.sendAll(hdr[:]); err != nil {
			return err
		}
		if err := c.sendAll(data[done : done+n]); err != nil {
			return err
		}
		if err := c.response(RequestWriteAppFlash); err != nil {
			return fmt.Errorf("chunk at 0x%X: %w", addr+uint32(done), err)
		}

		done += n
		if c.progress != nil {
			c.progress(done, len(data))
		}
	}
	return nil
}

// requestLen is the size of the next request at addr. The programmer writes
// each request in page-sized steps from its start address, so a request
// starting mid-page must end at that page's boundary.
func (c *Client) requestLen(addr uint32, left int) int {
	n := min(c.chunk, left)
	if off := int(addr % uint32(c.page)); off != 0 {
		n = min(n, c.page-off)
	}
	return n
}

func (c *Client) do(req Request, operands ...byte) error {
	if err := c.send(byte(req)); err != nil {
		return err
	}
	if err := c.sendAll(operands); err != nil {
		return err
	}
	return c.response(req)
}

// send writes b and waits for its acknowledge.
func (c *Client) send(b byte) error {
	c.buf[0] = b
	if _, err := c.rw.Write(c.buf[:]); err != nil {
		return fmt.Errorf("%w: write: %w", ErrPkg, err)
	}
	ack, err := c.recv()
	if err != nil {
		return err
	}
	if ack != Ack {
		return fmt.Errorf("%w: %w: got 0x%02X after 0x%02X", ErrPkg, ErrNoAck, ack, b)
	}
	return nil
}

func (c *Client) sendAll(p []byte) error {
	for _, b := range p {
		if err := c.send(b); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) recv() (byte, error) {
	if _, err := io.ReadFull(c.rw, c.buf[:]); err != nil {
		return 0, fmt.Errorf("%w: read: %w", ErrPkg, err)
	}
	return c.buf[0], nil
}

func (c *Client) response(req Request) error {
	b, err := c.recv()
	if err != nil {
		return err
	}
	if code := Response(b); code != ResponseOK {
		return &ResponseError{Request: req, Code: code}
	}
	return nil
}
