package firmware

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadHex(t *testing.T) {
	img, err := Load(filepath.Join("testdata", "blink.hex"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(img) != 2 {
		t.Fatalf("%d segments, want 2", len(img))
	}
	if img[0].Addr != 0 || len(img[0].Data) != 16 {
		t.Errorf("segment 0 = 0x%X+%d", img[0].Addr, len(img[0].Data))
	}
	if img[1].Addr != 0x100 || !bytes.Equal(img[1].Data, []byte{1, 2, 3, 4}) {
		t.Errorf("segment 1 = 0x%X % X", img[1].Addr, img[1].Data)
	}
	if img.Size() != 20 {
		t.Errorf("Size = %d, want 20", img.Size())
	}
	if img.Span() != 0x104 {
		t.Errorf("Span = 0x%X, want 0x104", img.Span())
	}
}

func TestParseHexErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"bad checksum", ":0400000001020304F3\n:00000001FF\n", nil},
		{"no data", ":00000001FF\n", ErrEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHex(strings.NewReader(tt.in))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseHexSingleRecord(t *testing.T) {
	img, err := ParseHex(strings.NewReader(":0400000001020304F2\n:00000001FF\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(img) != 1 || !bytes.Equal(img[0].Data, []byte{1, 2, 3, 4}) {
		t.Errorf("image = %+v", img)
	}
}

func TestLoadBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.bin")
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	img, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(img) != 1 || img[0].Addr != 0 || !bytes.Equal(img[0].Data, data) {
		t.Errorf("image = %+v", img)
	}
}

func TestLoadEmptyBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}
