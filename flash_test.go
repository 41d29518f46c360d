package pdi

import (
	"bytes"
	"errors"
	"slices"
	"testing"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func TestPageCommandMatrix(t *testing.T) {
	tests := []struct {
		section  Section
		preErase bool
		want     NVMCommand
	}{
		{SectionUnspecified, false, CmdWriteFlashPage},
		{SectionUnspecified, true, CmdEraseWriteFlashPage},
		{SectionApp, false, CmdWriteAppSectionPage},
		{SectionApp, true, CmdEraseWriteAppSectionPage},
		{SectionBoot, false, CmdWriteBootSectionPage},
		{SectionBoot, true, CmdEraseWriteBootSectionPage},
	}
	for _, tt := range tests {
		got, err := pageWriteCommand(tt.section, tt.preErase)
		if err != nil {
			t.Fatalf("%s/%v: %v", tt.section, tt.preErase, err)
		}
		if got != tt.want {
			t.Errorf("%s/%v: got 0x%02X, want 0x%02X", tt.section, tt.preErase, got, tt.want)
		}
	}

	if _, err := pageWriteCommand(Section(7), true); !errors.Is(err, ErrInvalidSection) {
		t.Errorf("expected ErrInvalidSection, got %v", err)
	}
}

func TestWriteBufferRoundTrip(t *testing.T) {
	s, _ := startSimSession(t, testConfig())
	page := int(s.Target().FlashPageSize)

	for i, n := range []int{0, 1, 2, 31, 256, page - 1, page} {
		offset := uint32(i * page)
		data := pattern(n, byte(i))

		if err := s.EraseFlashBuffer(); err != nil {
			t.Fatal(err)
		}
		if err := s.WriteFlashBuffer(offset, bytes.NewReader(data), n, SectionApp); err != nil {
			t.Fatalf("n=%d: WriteFlashBuffer failed: %v", n, err)
		}
		if err := s.WriteFlashPageFromBuffer(offset, true, SectionApp); err != nil {
			t.Fatalf("n=%d: WriteFlashPageFromBuffer failed: %v", n, err)
		}
		got, err := s.ReadFlash(offset, n, SectionApp)
		if err != nil {
			t.Fatalf("n=%d: ReadFlash failed: %v", n, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("n=%d: read back % X, want % X", n, got, data)
		}
	}
}

func TestWriteFlashChunking(t *testing.T) {
	s, sim := startSimSession(t, testConfig())
	tgt := s.Target()
	page := int(tgt.FlashPageSize)
	data := pattern(2*page+100, 3)
	src := &countingReader{r: bytes.NewReader(data)}

	if err := s.WriteFlash(0x400, src, len(data), true, SectionApp); err != nil {
		t.Fatalf("WriteFlash failed: %v", err)
	}
	if src.pulls != len(data) {
		t.Errorf("source pulled %d times, want %d", src.pulls, len(data))
	}

	var writes []uint32
	for _, a := range sim.Actions() {
		if a.Cmd == CmdEraseWriteAppSectionPage {
			writes = append(writes, a.Addr)
		}
	}
	want := []uint32{tgt.AppBase() + 0x400, tgt.AppBase() + 0x600, tgt.AppBase() + 0x800}
	if len(writes) != len(want) {
		t.Fatalf("%d page writes, want %d", len(writes), len(want))
	}
	for i := range want {
		if writes[i] != want[i] {
			t.Errorf("page write %d at 0x%X, want 0x%X", i, writes[i], want[i])
		}
	}

	if got := sim.Flash()[0x400 : 0x400+len(data)]; !bytes.Equal(got, data) {
		t.Error("flash content does not match written data")
	}
	if err := s.VerifyFlash(0x400, data, SectionApp); err != nil {
		t.Errorf("VerifyFlash failed: %v", err)
	}
}

func TestWriteFlashBootSection(t *testing.T) {
	s, sim := startSimSession(t, testConfig())
	tgt := s.Target()
	data := pattern(300, 9)

	if err := s.WriteFlash(0, bytes.NewReader(data), len(data), true, SectionBoot); err != nil {
		t.Fatalf("WriteFlash failed: %v", err)
	}
	boot := tgt.BootBase() - tgt.FlashBase
	if got := sim.Flash()[boot : boot+uint32(len(data))]; !bytes.Equal(got, data) {
		t.Error("boot section does not hold written data")
	}
	for _, a := range sim.Actions() {
		if a.Cmd == CmdEraseWriteAppSectionPage {
			t.Errorf("app section command used for boot write: %+v", a)
		}
	}
}

func TestWriteWithoutPreEraseClearsBitsOnly(t *testing.T) {
	s, sim := startSimSession(t, testConfig())
	sim.Load(s.Target().FlashBase, []byte{0x0F, 0xFF})

	if err := s.WriteFlashPage(0, bytes.NewReader([]byte{0xF0, 0x3C}), 2, false, SectionUnspecified); err != nil {
		t.Fatal(err)
	}
	if got := sim.Flash()[:2]; !bytes.Equal(got, []byte{0x00, 0x3C}) {
		t.Errorf("got % X, want 00 3C", got)
	}
}

func TestWriteFlashStopsAtFirstFailure(t *testing.T) {
	s, sim := startSimSession(t, testConfig())
	page := int(s.Target().FlashPageSize)
	data := pattern(page+10, 1)

	// The source runs dry in the second page.
	err := s.WriteFlash(0, bytes.NewReader(data), 2*page, true, SectionApp)
	if !errors.Is(err, ErrSourceExhausted) {
		t.Fatalf("expected ErrSourceExhausted, got %v", err)
	}
	if got := sim.Flash()[:page]; !bytes.Equal(got, data[:page]) {
		t.Error("first page should stay committed")
	}
	for _, b := range sim.Flash()[page : 2*page] {
		if b != 0xFF {
			t.Fatal("second page should not be written")
		}
	}
}

func TestEraseSectionUnspecified(t *testing.T) {
	s, sim := startSimSession(t, testConfig())

	err := s.EraseFlashSection(0, SectionUnspecified)
	if !errors.Is(err, ErrInvalidSection) {
		t.Fatalf("expected ErrInvalidSection, got %v", err)
	}
	if StatusOf(err) != StatusInvalidSection {
		t.Errorf("StatusOf = %s", StatusOf(err))
	}
	if len(sim.Sent()) != 0 {
		t.Errorf("rejected erase sent % X", sim.Sent())
	}
}

func TestEraseSection(t *testing.T) {
	s, sim := startSimSession(t, testConfig())
	tgt := s.Target()
	sim.Load(tgt.AppBase(), []byte{1, 2})
	sim.Load(tgt.BootBase(), []byte{3, 4})

	if err := s.EraseFlashSection(0, SectionApp); err != nil {
		t.Fatalf("EraseFlashSection failed: %v", err)
	}
	flash := sim.Flash()
	boot := tgt.BootBase() - tgt.FlashBase
	if !bytes.Equal(flash[:2], []byte{0xFF, 0xFF}) {
		t.Errorf("app section not erased: % X", flash[:2])
	}
	if !bytes.Equal(flash[boot:boot+2], []byte{3, 4}) {
		t.Errorf("boot section touched: % X", flash[boot:boot+2])
	}

	if err := s.EraseFlashSection(0, SectionBoot); err != nil {
		t.Fatal(err)
	}
	if got := sim.Flash()[boot : boot+2]; !bytes.Equal(got, []byte{0xFF, 0xFF}) {
		t.Errorf("boot section not erased: % X", got)
	}
}

func TestErasePage(t *testing.T) {
	s, sim := startSimSession(t, testConfig())
	page := uint32(s.Target().FlashPageSize)
	sim.Load(s.Target().AppBase(), bytes.Repeat([]byte{0}, int(2*page)))

	if err := s.EraseFlashPage(page, SectionApp); err != nil {
		t.Fatal(err)
	}
	flash := sim.Flash()
	if flash[0] != 0x00 || flash[page-1] != 0x00 {
		t.Error("first page should be untouched")
	}
	if flash[page] != 0xFF || flash[2*page-1] != 0xFF {
		t.Error("second page not erased")
	}
}

func TestWriteBufferTooLong(t *testing.T) {
	s, sim := startSimSession(t, testConfig())
	n := int(s.Target().FlashPageSize) + 1

	err := s.WriteFlashBuffer(0, bytes.NewReader(make([]byte, n)), n, SectionApp)
	if !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
	if len(sim.Sent()) != 0 {
		t.Errorf("rejected load sent % X", sim.Sent())
	}
}

func TestVerifyFlashMismatch(t *testing.T) {
	s, sim := startSimSession(t, testConfig())
	sim.Load(s.Target().AppBase()+0x10, []byte{1, 2, 3})

	err := s.VerifyFlash(0x10, []byte{1, 2, 4}, SectionApp)
	var verr *VerifyError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *VerifyError, got %v", err)
	}
	if verr.Addr != s.Target().AppBase()+0x12 || verr.Want != 4 || verr.Got != 3 {
		t.Errorf("unexpected mismatch: %+v", verr)
	}
}

func TestWriteFuse(t *testing.T) {
	s, sim := startSimSession(t, testConfig())

	if err := s.WriteFuse(2, 0xBF); err != nil {
		t.Fatalf("WriteFuse failed: %v", err)
	}
	// STS NVM CMD = WRITE_FUSE, then STS fuse 2
	if !bytes.Contains(sim.Sent(), []byte{0x4C, 0xCA, 0x01, 0x00, 0x01, 0x4C}) {
		t.Errorf("WRITE_FUSE not selected: % X", sim.Sent())
	}
	if !bytes.Contains(sim.Sent(), []byte{0x4C, 0x22, 0x00, 0x8F, 0x00, 0xBF}) {
		t.Errorf("fuse byte not stored: % X", sim.Sent())
	}
	if sim.Fuse(2) != 0xBF {
		t.Errorf("fuse 2 = 0x%02X", sim.Fuse(2))
	}

	got, err := s.ReadFuse(2)
	if err != nil {
		t.Fatalf("ReadFuse failed: %v", err)
	}
	if got != 0xBF {
		t.Errorf("ReadFuse = 0x%02X, want 0xBF", got)
	}
}

func TestWriteLockBits(t *testing.T) {
	s, sim := startSimSession(t, testConfig())

	if err := s.WriteLockBits(0xFC); err != nil {
		t.Fatal(err)
	}
	if sim.LockBits() != 0xFC {
		t.Errorf("lock bits = 0x%02X", sim.LockBits())
	}
	// Programmed lock bits stay programmed.
	if err := s.WriteLockBits(0xFF); err != nil {
		t.Fatal(err)
	}
	if sim.LockBits() != 0xFC {
		t.Errorf("lock bits = 0x%02X after rewrite", sim.LockBits())
	}
}

func TestWriteFlashLogsPages(t *testing.T) {
	log := &recordLogger{}
	c := testConfig()
	c.Logger = log
	s, _ := startSimSession(t, c)
	page := int(s.Target().FlashPageSize)
	data := pattern(page+1, 2)

	log.msgs = nil
	if err := s.WriteFlash(0, bytes.NewReader(data), len(data), true, SectionApp); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"debug: Wrote 512 bytes to app page at 0x0",
		"debug: Wrote 1 bytes to app page at 0x200",
	}
	if !slices.Equal(log.msgs, want) {
		t.Errorf("log = %q, want %q", log.msgs, want)
	}
}
