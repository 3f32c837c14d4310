package machine

import (
	"testing"

	"github.com/fmnoll/dmgcore/internal/bus"
)

func romOfSize(n int, typeByte byte) []byte {
	rom := make([]byte, n)
	if n > 0x147 {
		rom[0x147] = typeByte
	}
	return rom
}

func TestLoadROM_ResetsToPostBootPC(t *testing.T) {
	m := New(Config{})
	if err := m.LoadROM(romOfSize(0x8000, 0x00)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.cpu.PC != 0x0100 {
		t.Fatalf("PC got %04x, want 0100", m.cpu.PC)
	}
	if got := m.bus.Read(0xFF40); got != 0x91 {
		t.Fatalf("LCDC got %02x, want 91", got)
	}
}

func TestStep_AdvancesPPUAndTimerByCPUCycles(t *testing.T) {
	m := New(Config{})
	if err := m.LoadROM(romOfSize(0x8000, 0x00)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// NOP is already what an all-zero ROM decodes to at 0x0100.
	for i := 0; i < 100; i++ {
		if _, err := m.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	// 100 NOPs = 100 cycles: DIV has ticked once (every 64 cycles), and the
	// PPU has left OAM search (20) and pixel transfer (63) for HBlank.
	if got := m.bus.Read(0xFF04); got != 0x01 {
		t.Fatalf("DIV got %02x, want 01 after 100 cycles", got)
	}
	if got := m.bus.Read(0xFF41) & 0x03; got != 0x02 {
		t.Fatalf("STAT mode got %d, want 2 (HBlank state) after 100 cycles", got)
	}
	if got := m.bus.Read(0xFF44); got != 0 {
		t.Fatalf("LY got %d, want 0 before the first 114-cycle line ends", got)
	}
}

// TestStep_MBC1BankQuirk covers spec §8 scenario S6 end-to-end through
// the Machine rather than the Bus directly.
func TestStep_MBC1BankQuirk(t *testing.T) {
	const bankSize = 0x4000
	rom := romOfSize(bankSize*0x22, 0x01)
	rom[bankSize*0x21] = 0xAB
	m := New(Config{})
	if err := m.LoadROM(rom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.bus.Write(0x2000, 0x20)
	if got := m.bus.Read(0x4000); got != 0xAB {
		t.Fatalf("bank 0x20 select got %02x, want value from bank 0x21 (AB)", got)
	}
}

func TestButtons_RoundTripThroughMachine(t *testing.T) {
	m := New(Config{})
	if err := m.LoadROM(romOfSize(0x8000, 0x00)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.ButtonOn(bus.A)
	if got := m.bus.Buttons(); got != bus.A {
		t.Fatalf("Buttons got %02x, want %02x", got, bus.A)
	}
	m.ButtonOff(bus.A)
	if got := m.bus.Buttons(); got != 0 {
		t.Fatalf("Buttons after release got %02x, want 0", got)
	}
}
