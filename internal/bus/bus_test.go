package bus

import "testing"

func romOfSize(n int, typeByte byte) []byte {
	rom := make([]byte, n)
	if n > 0x147 {
		rom[0x147] = typeByte
	}
	return rom
}

func TestNew_ROMOnly_FlatReadWrite(t *testing.T) {
	rom := romOfSize(0x8000, 0x00)
	rom[0x0100] = 0x42
	b, err := New(rom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := b.Read(0x0100); got != 0x42 {
		t.Fatalf("ROM read got %02x, want 42", got)
	}

	b.Write(0xC000, 0x99)
	if got := b.Read(0xC000); got != 0x99 {
		t.Fatalf("WRAM read got %02x, want 99", got)
	}

	b.Write(0xFF80, 0xAB)
	if got := b.Read(0xFF80); got != 0xAB {
		t.Fatalf("HRAM read got %02x, want AB", got)
	}
}

func TestNew_ROMWritesNeverMutateImage(t *testing.T) {
	rom := romOfSize(0x8000, 0x00)
	b, err := New(rom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Write(0x0100, 0xFF)
	if got := b.Read(0x0100); got != 0x00 {
		t.Fatalf("write below 0x8000 mutated ROM: got %02x, want 00", got)
	}
}

func TestNew_PostBootIODefaults(t *testing.T) {
	b, err := New(romOfSize(0x8000, 0x00))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cases := map[uint16]byte{
		0xFF00: 0xCF,
		0xFF05: 0x00,
		0xFF07: 0x00,
		0xFF40: 0x91,
		0xFF47: 0xFC,
		0xFF50: 0x01,
	}
	for addr, want := range cases {
		if got := b.Read(addr); got != want {
			t.Fatalf("%#04x: got %02x, want %02x", addr, got, want)
		}
	}
}

func TestMBC1_BankZeroTranslatesToBankOne(t *testing.T) {
	const bankSize = 0x4000
	rom := romOfSize(bankSize*4, 0x01) // MBC1, 4 banks
	rom[bankSize*1] = 0xAA             // bank 1
	rom[bankSize*2] = 0xBB             // bank 2
	b, err := New(rom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := b.Read(0x4000); got != 0xAA {
		t.Fatalf("default bank1 read got %02x, want AA", got)
	}

	b.Write(0x2000, 0x02)
	if got := b.Read(0x4000); got != 0xBB {
		t.Fatalf("after selecting bank 2, got %02x, want BB", got)
	}

	b.Write(0x2000, 0x00)
	if got := b.Read(0x4000); got != 0xAA {
		t.Fatalf("selecting bank 0 got %02x, want AA from bank 1", got)
	}
}

// TestMBC1_Bank0x20IsUnreachable covers spec §8 scenario S6: selecting
// bank 0x20 via the low-5-bits register must resolve to bank 0x21, since
// the MBC1 hardware quirk makes 0x00/0x20/0x40/0x60 unreachable through
// that register.
func TestMBC1_Bank0x20IsUnreachable(t *testing.T) {
	const bankSize = 0x4000
	rom := romOfSize(bankSize*0x22, 0x01)
	rom[bankSize*0x20] = 0x20
	rom[bankSize*0x21] = 0x21
	b, err := New(rom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b.Write(0x2000, 0x20)
	if got := b.Read(0x4000); got != 0x21 {
		t.Fatalf("selecting bank 0x20 got %02x, want value from bank 0x21", got)
	}
}

func TestMBC1_UpperBitsInMode0AffectBankSelect(t *testing.T) {
	const bankSize = 0x4000
	banks := 0x80
	rom := romOfSize(bankSize*banks, 0x01)
	target := 0x41 // low5=1, hi2=2 -> bank 0x41 in mode 0
	rom[bankSize*target] = 0x77
	b, err := New(rom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b.Write(0x2000, 0x01) // low 5 bits = 1
	b.Write(0x4000, 0x02) // upper 2 bits = 2, mode 0 -> combined into ROM bank
	if got := b.Read(0x4000); got != 0x77 {
		t.Fatalf("combined bank select got %02x, want 77", got)
	}
}

// MBC3 shares MBC1's bank-select protocol: only the low five bits of a
// 0x2000-0x3FFF write reach the bank number, so 0x50 selects bank 0x10.
func TestMBC3_BankSelectUsesLowFiveBits(t *testing.T) {
	const bankSize = 0x4000
	rom := romOfSize(bankSize*0x80, 0x0F)
	rom[bankSize*0x10] = 0x5A
	b, err := New(rom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b.Write(0x2000, 0x50)
	if got := b.Read(0x4000); got != 0x5A {
		t.Fatalf("MBC3 bank select got %02x, want 5A", got)
	}
}

func TestOAMDMA_CopiesFullBlock(t *testing.T) {
	b, err := New(romOfSize(0x8000, 0x00))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := uint16(0); i < 0xA0; i++ {
		b.Write(0xC100+i, byte(i))
	}
	b.Write(0xFF46, 0xC1)
	for i := uint16(0); i < 0xA0; i++ {
		if got := b.Read(0xFE00 + i); got != byte(i) {
			t.Fatalf("OAM[%d] got %02x, want %02x", i, got, byte(i))
		}
	}
}

func TestRequestInterrupt_ORsIFBit(t *testing.T) {
	b, err := New(romOfSize(0x8000, 0x00))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.RequestInterrupt(0) // VBlank
	b.RequestInterrupt(2) // Timer
	if got := b.Read(0xFF0F); got != 0x05 {
		t.Fatalf("IF got %02x, want 05", got)
	}
}

func TestButtons_OnOffRoundTrip(t *testing.T) {
	b, err := New(romOfSize(0x8000, 0x00))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.ButtonOn(A | Start)
	if got := b.Buttons(); got != A|Start {
		t.Fatalf("Buttons got %02x, want %02x", got, byte(A|Start))
	}
	b.ButtonOff(A)
	if got := b.Buttons(); got != Start {
		t.Fatalf("Buttons after release got %02x, want %02x", got, byte(Start))
	}
}

func TestNew_UnsupportedCartridgeFallsBackToNone(t *testing.T) {
	b, err := New(romOfSize(0x8000, 0x05)) // MBC2, not implemented
	if err == nil {
		t.Fatal("expected error for unsupported cartridge type")
	}
	if b.Kind() != 0 {
		t.Fatalf("expected fallback Kind None, got %v", b.Kind())
	}
	b.Write(0xC000, 0x11)
	if got := b.Read(0xC000); got != 0x11 {
		t.Fatalf("bus unusable after fallback: got %02x", got)
	}
}
