package machine

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// snapshot is the gob-encoded shape Snapshot produces: one opaque blob per
// unit, composed the way the teacher's Bus.SaveState composed a Bus blob
// with a PPU blob and a cartridge blob appended after it.
type snapshot struct {
	Bus   []byte
	CPU   []byte
	PPU   []byte
	Timer []byte
}

// Snapshot captures the full machine state as an opaque blob, a checkpoint
// helper for test harnesses. It is not part of the emulated hardware
// surface; neither the blargg harness nor cmd/corerun calls it.
func (m *Machine) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		Bus:   m.bus.SaveState(),
		CPU:   m.cpu.SaveState(),
		PPU:   m.ppu.SaveState(),
		Timer: m.timer.SaveState(),
	})
	if err != nil {
		return nil, fmt.Errorf("machine: snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore loads a blob produced by Snapshot. The Machine must already be
// loaded with the same ROM Snapshot was taken against; Restore only
// replaces mutable state, not the cartridge image or detected MBC kind.
func (m *Machine) Restore(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("machine: restore: %w", err)
	}
	if err := m.bus.LoadState(s.Bus); err != nil {
		return fmt.Errorf("machine: restore bus: %w", err)
	}
	if err := m.cpu.LoadState(s.CPU); err != nil {
		return fmt.Errorf("machine: restore cpu: %w", err)
	}
	if err := m.ppu.LoadState(s.PPU); err != nil {
		return fmt.Errorf("machine: restore ppu: %w", err)
	}
	if err := m.timer.LoadState(s.Timer); err != nil {
		return fmt.Errorf("machine: restore timer: %w", err)
	}
	return nil
}
