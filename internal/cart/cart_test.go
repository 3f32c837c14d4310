package cart

import (
	"errors"
	"testing"

	"github.com/fmnoll/dmgcore/internal/coreerr"
)

func romOfSize(n int, typeByte byte) []byte {
	rom := make([]byte, n)
	if n > 0x147 {
		rom[0x147] = typeByte
	}
	return rom
}

func TestDetectKind_None(t *testing.T) {
	k, err := DetectKind(romOfSize(0x8000, 0x00))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k != None {
		t.Fatalf("kind got %v want None", k)
	}
}

func TestDetectKind_MBC1Range(t *testing.T) {
	for _, tb := range []byte{0x01, 0x02, 0x03} {
		k, err := DetectKind(romOfSize(0x8000, tb))
		if err != nil {
			t.Fatalf("type %#02x: unexpected error: %v", tb, err)
		}
		if k != MBC1 {
			t.Fatalf("type %#02x: kind got %v want MBC1", tb, k)
		}
	}
}

func TestDetectKind_MBC3Range(t *testing.T) {
	for _, tb := range []byte{0x0F, 0x10, 0x11, 0x12, 0x13} {
		k, err := DetectKind(romOfSize(0x8000, tb))
		if err != nil {
			t.Fatalf("type %#02x: unexpected error: %v", tb, err)
		}
		if k != MBC3 {
			t.Fatalf("type %#02x: kind got %v want MBC3", tb, k)
		}
	}
}

func TestDetectKind_Unsupported(t *testing.T) {
	k, err := DetectKind(romOfSize(0x8000, 0x05)) // MBC2, not implemented
	if !errors.Is(err, coreerr.ErrUnsupportedCartridge) {
		t.Fatalf("expected ErrUnsupportedCartridge, got %v", err)
	}
	if k != None {
		t.Fatalf("fallback kind got %v want None", k)
	}
}
