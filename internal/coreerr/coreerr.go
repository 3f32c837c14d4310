// Package coreerr holds the small set of named errors the core can return.
//
// Per the design split in spec.md §7: UnsupportedCartridge and UnknownOpcode
// are runtime conditions a caller can reasonably check for with errors.Is,
// while a HostInvariantViolation is a bug in the core itself and is raised
// with panic rather than returned.
package coreerr

import "errors"

// ErrUnsupportedCartridge is returned by cart.DetectKind when header byte
// 0x147 names an MBC kind this core doesn't implement. The caller falls
// back to MBC kind None and logs; see machine.Machine.LoadROM.
var ErrUnsupportedCartridge = errors.New("dmgcore: unsupported cartridge type")

// ErrUnknownOpcode is returned by cpu.Step when it fetches one of the
// documented illegal opcodes (0xD3, 0xDB, 0xDD, 0xE3, 0xE4, 0xEB, 0xEC,
// 0xED, 0xF4, 0xFC, 0xFD). Real hardware locks up; this core terminates
// the step instead.
var ErrUnknownOpcode = errors.New("dmgcore: unknown opcode")

// HostInvariantViolation panics to flag a condition the spec calls a bug
// in the core, never a runtime error: a write reaching ROM, or a PPU
// state machine transition the spec says cannot happen.
func HostInvariantViolation(msg string) {
	panic("dmgcore: host invariant violation: " + msg)
}
