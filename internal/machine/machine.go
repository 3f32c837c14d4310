// Package machine wires the Bus, CPU, PPU, and Timer together and drives
// them with the System tick loop from spec §4.5: cpu.Step returns a
// machine-cycle count, and that count is what both the PPU and the Timer
// advance by on the same iteration.
package machine

import (
	"errors"
	"fmt"
	"os"

	"github.com/fmnoll/dmgcore/internal/bus"
	"github.com/fmnoll/dmgcore/internal/cart"
	"github.com/fmnoll/dmgcore/internal/coreerr"
	"github.com/fmnoll/dmgcore/internal/cpu"
	"github.com/fmnoll/dmgcore/internal/ppu"
	"github.com/fmnoll/dmgcore/internal/timer"
)

// Machine owns one instance of each of the four hardware units and the
// single-threaded cooperative loop that advances them together.
type Machine struct {
	cfg Config

	bus   *bus.Bus
	cpu   *cpu.CPU
	ppu   *ppu.PPU
	timer *timer.Timer
}

// New builds an unloaded Machine; call LoadROM or LoadROMFromFile before
// stepping it.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// LoadROM builds the Bus/CPU/PPU/Timer quartet from a cartridge image and
// resets the CPU to the documented DMG post-boot state (spec §3) — this
// core has no boot-ROM sequence, per spec.md's Non-goals.
func (m *Machine) LoadROM(rom []byte) error {
	b, err := bus.New(rom)
	if err != nil && !errors.Is(err, coreerr.ErrUnsupportedCartridge) {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dmgcore: %v, falling back to no MBC\n", err)
	}

	if hdr, herr := cart.ParseHeader(rom); herr == nil {
		if !cart.HeaderChecksumOK(rom) {
			fmt.Fprintf(os.Stderr, "dmgcore: header checksum mismatch for %q\n", hdr.Title)
		}
		if !hdr.LogoValid {
			fmt.Fprintf(os.Stderr, "dmgcore: Nintendo logo mismatch for %q (no boot ROM enforces this here)\n", hdr.Title)
		}
	}

	m.bus = b
	m.cpu = cpu.New(b)
	m.cpu.ResetNoBoot()
	m.cpu.SetPC(0x0100)
	m.ppu = ppu.New(b)
	m.timer = timer.New(b, m.cfg.TraceTimer)

	return err
}

// LoadROMFromFile reads a cartridge image from disk and loads it.
func (m *Machine) LoadROMFromFile(path string) error {
	rom, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("machine: read ROM: %w", err)
	}
	return m.LoadROM(rom)
}

// Bus exposes the Bus for harnesses that need to tap serial output or
// poke buttons/registers directly (spec §6's "test harness tap").
func (m *Machine) Bus() *bus.Bus { return m.bus }

// Framebuffer returns the PPU's last published frame.
func (m *Machine) Framebuffer() []byte { return m.ppu.Framebuffer() }

// ButtonOn/ButtonOff forward to the Bus's atomic button mask (spec §5 —
// safe to call from a different goroutine than the one driving Step).
func (m *Machine) ButtonOn(mask byte)  { m.bus.ButtonOn(mask) }
func (m *Machine) ButtonOff(mask byte) { m.bus.ButtonOff(mask) }

// Step advances the whole machine by exactly one System tick (spec §4.5):
// cpu.Step(), then ppu.Step(cycles), then timer.Step(cycles), all driven
// by the cycle count the CPU returns.
func (m *Machine) Step() (int, error) {
	pc := m.cpu.PC
	cycles, err := m.cpu.Step()
	if m.cfg.Trace {
		fmt.Printf("[CPU] PC=%04X cyc=%d\n", pc, cycles)
	}
	if err != nil {
		return cycles, err
	}
	m.ppu.Step(cycles)
	m.timer.Step(cycles)
	return cycles, nil
}

// StepCycles runs Step repeatedly until at least n cycles have elapsed,
// returning early on error. This is the convenience a headless harness
// uses to advance by whole frames (spec §4.5's 17,556-cycle frame
// bookkeeping threshold, which is not itself observable by the core).
func (m *Machine) StepCycles(n int) error {
	for total := 0; total < n; {
		c, err := m.Step()
		if err != nil {
			return err
		}
		total += c
	}
	return nil
}
