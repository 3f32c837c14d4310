// Package timer implements the DIV/TIMA/TMA/TAC divider unit (spec §4.4):
// a free-running DIV register and a TIMA prescaler whose rate is selected
// by TAC, both driven off cycle accumulators rather than edge-detection
// on an internal counter.
package timer

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Memory is the subset of bus.Bus the timer needs. Defined here, not in
// bus, so this package never imports bus and the two can be wired
// together by machine without a cycle.
type Memory interface {
	ReadIO(reg byte) byte
	WriteIO(reg byte, v byte)
	RequestInterrupt(bit uint8)
}

const (
	regDIV  = 0x04
	regTIMA = 0x05
	regTMA  = 0x06
	regTAC  = 0x07

	ifTimerBit = 2
)

// periods maps TAC&0x3 to the M-cycle period between TIMA increments:
// freq selectors {12,18,16,14} give period = 1<<(20-freq), i.e.
// {256,4,16,64} cycles for the four real-hardware rates
// (4096/262144/65536/16384 Hz).
var periods = [4]int{256, 4, 16, 64}

// Timer holds the two cycle accumulators from spec §3; DIV/TIMA/TMA/TAC
// themselves live in the bus I/O page.
type Timer struct {
	mem Memory

	divClock   int
	timerClock int

	trace bool
}

// New builds a Timer bound to mem. trace, when set, logs each DIV/TIMA
// update the way the teacher's debugTimer gate logged edge transitions.
func New(mem Memory, trace bool) *Timer {
	return &Timer{mem: mem, trace: trace}
}

// Step advances the timer by the given number of M-cycles, per spec §4.4.
func (t *Timer) Step(cycles int) {
	t.divClock += cycles
	if t.divClock >= 64 {
		inc := t.divClock >> 6
		t.divClock &= 0x3F
		div := t.mem.ReadIO(regDIV)
		t.mem.WriteIO(regDIV, div+byte(inc))
		if t.trace {
			fmt.Printf("[TMR] DIV += %d -> %02x\n", inc, div+byte(inc))
		}
	}

	tac := t.mem.ReadIO(regTAC)
	if tac&0x04 == 0 {
		return
	}

	period := periods[tac&0x03]
	t.timerClock += cycles
	for t.timerClock >= period {
		t.timerClock -= period
		t.incrementTIMA()
	}
}

func (t *Timer) incrementTIMA() {
	tima := t.mem.ReadIO(regTIMA)
	if tima == 0xFF {
		tma := t.mem.ReadIO(regTMA)
		t.mem.WriteIO(regTIMA, tma)
		t.mem.RequestInterrupt(ifTimerBit)
		if t.trace {
			fmt.Printf("[TMR] TIMA overflow, reload %02x, IF.TIMA set\n", tma)
		}
		return
	}
	t.mem.WriteIO(regTIMA, tima+1)
}

// timerState is the gob-encoded shape of SaveState.
type timerState struct {
	DivClock   int
	TimerClock int
}

// SaveState snapshots the cycle accumulators, used by the machine
// package's test-only checkpoint helper. DIV/TIMA/TMA/TAC themselves
// live on the Bus and round-trip via bus.Bus.SaveState.
func (t *Timer) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(timerState{DivClock: t.divClock, TimerClock: t.timerClock})
	return buf.Bytes()
}

// LoadState restores a snapshot produced by SaveState.
func (t *Timer) LoadState(data []byte) error {
	var s timerState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	t.divClock, t.timerClock = s.DivClock, s.TimerClock
	return nil
}
