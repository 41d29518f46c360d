// Package firmware loads program images for the target's flash.
package firmware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
)

var ErrEmpty = errors.New("firmware image is empty")

// Segment is a contiguous block of image data.
type Segment struct {
	// Addr is the byte offset into flash.
	Addr uint32
	Data []byte
}

// End is the first address past the segment.
func (s Segment) End() uint32 { return s.Addr + uint32(len(s.Data)) }

// Image is a firmware image as a list of segments sorted by address.
type Image []Segment

// Size is the number of data bytes in the image.
func (img Image) Size() int {
	n := 0
	for _, s := range img {
		n += len(s.Data)
	}
	return n
}

// Span is the first address past the highest segment.
func (img Image) Span() uint32 {
	var end uint32
	for _, s := range img {
		end = max(end, s.End())
	}
	return end
}

// Load reads the image at path. Files ending in .hex or .ihex are parsed as
// Intel HEX, anything else is taken as a raw binary placed at address 0.
func Load(path string) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		img, err := ParseHex(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return img, nil
	default:
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return ParseBinary(data)
	}
}

// ParseHex decodes an Intel HEX stream.
func ParseHex(r io.Reader) (Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, err
	}

	var img Image
	for _, s := range mem.GetDataSegments() {
		img = append(img, Segment{Addr: s.Address, Data: bytes.Clone(s.Data)})
	}
	if img.Size() == 0 {
		return nil, ErrEmpty
	}
	return img, nil
}

// ParseBinary wraps a raw image in a single segment at address 0.
func ParseBinary(data []byte) (Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return Image{{Addr: 0, Data: data}}, nil
}
