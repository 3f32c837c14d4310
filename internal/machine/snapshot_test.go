package machine

import "testing"

func TestSnapshot_RoundTripRestoresRegistersAndMemory(t *testing.T) {
	m := New(Config{})
	if err := m.LoadROM(romOfSize(0x8000, 0x00)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := m.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	m.bus.Write(0xC000, 0x42)
	pcBefore := m.cpu.PC

	blob, err := m.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	m.bus.Write(0xC000, 0x99)
	for i := 0; i < 5; i++ {
		if _, err := m.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	if err := m.Restore(blob); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := m.bus.Read(0xC000); got != 0x42 {
		t.Fatalf("WRAM after restore got %02x, want 42", got)
	}
	if m.cpu.PC != pcBefore {
		t.Fatalf("PC after restore got %04x, want %04x", m.cpu.PC, pcBefore)
	}
}
