package wire_test

import (
	"testing"

	"github.com/relaymesh/broker/wire"
)

func TestVint30RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 63, 64, 16383, 16384, 4194303, 4194304, wire.MaxVint30}
	for _, v := range values {
		var b wire.Builder
		b.Vint30(v)
		s := wire.NewScanner(b.Bytes())
		got, err := s.Vint30()
		if err != nil {
			t.Fatalf("Vint30(%d): decode error: %v", v, err)
		}
		if uint32(got) != v {
			t.Errorf("Vint30(%d): got %d", v, got)
		}
		if s.Len() != 0 {
			t.Errorf("Vint30(%d): %d bytes left over", v, s.Len())
		}
	}
}

func TestBuilderScannerRoundTrip(t *testing.T) {
	var b wire.Builder
	b.Bool(true)
	b.Uint16(0xBEEF)
	b.Uint32(0xCAFEBABE)
	b.Uint64(0x0102030405060708)
	b.VPutString("posts.find")
	b.VPut([]byte{1, 2, 3})

	s := wire.NewScanner(b.Bytes())
	if ok, err := s.Bool(); err != nil || !ok {
		t.Fatalf("Bool: got (%v, %v), want (true, nil)", ok, err)
	}
	if v, err := s.Uint16(); err != nil || v != 0xBEEF {
		t.Fatalf("Uint16: got (%x, %v)", v, err)
	}
	if v, err := s.Uint32(); err != nil || v != 0xCAFEBABE {
		t.Fatalf("Uint32: got (%x, %v)", v, err)
	}
	if v, err := s.Uint64(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("Uint64: got (%x, %v)", v, err)
	}
	if v, err := wire.VGet[string](s); err != nil || v != "posts.find" {
		t.Fatalf("VGet[string]: got (%q, %v)", v, err)
	}
	if v, err := wire.VGet[[]byte](s); err != nil || string(v) != "\x01\x02\x03" {
		t.Fatalf("VGet[[]byte]: got (%v, %v)", v, err)
	}
	if s.Len() != 0 {
		t.Errorf("%d bytes left over", s.Len())
	}
}

func TestScannerShortInput(t *testing.T) {
	s := wire.NewScanner([]byte{0x01})
	if _, err := s.Uint32(); err == nil {
		t.Error("Uint32: expected error on short input")
	}
}
