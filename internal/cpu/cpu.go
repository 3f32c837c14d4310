// Package cpu implements the SM83 decode/execute loop: register state,
// the full opcode and CB-prefixed tables, the two-state IME latch,
// HALT/HALT-bug, and interrupt dispatch (spec §3, §4.2).
//
// Cycle counts returned by Step are machine cycles (M-cycles), not
// T-states: NOP costs 1, not 4. This is what lets the PPU and Timer use
// the cycle budgets from spec §4.3/§4.4 directly.
package cpu

import (
	"bytes"
	"encoding/gob"

	"github.com/fmnoll/dmgcore/internal/coreerr"
)

// Memory is the subset of bus.Bus the CPU needs: raw address read/write
// (which also reaches the I/O page and IE/IF) and the joypad state.
// Defined here, not in bus, so cpu never imports bus.
type Memory interface {
	Read(addr uint16) byte
	Write(addr uint16, v byte)
	Buttons() byte
}

const (
	flagZ byte = 1 << 7
	flagN byte = 1 << 6
	flagH byte = 1 << 5
	flagC byte = 1 << 4
)

// ime is the two-state interrupt-master-enable latch from spec §3: EI
// sets Pending, which is promoted to Enabled one step later (spec §4.2
// step 4), giving EI its documented one-instruction delay.
type ime struct {
	Pending bool
	Enabled bool
}

// CPU holds SM83 register state and the Bus it executes against.
type CPU struct {
	A, F byte
	B, C byte
	D, E byte
	H, L byte

	SP uint16
	PC uint16

	ime ime

	halted       bool
	haltBugArmed bool

	mem Memory
}

// New creates a CPU with all-zero registers, PC at 0 and SP at 0xFFFE.
// Callers that skip the boot ROM should call ResetNoBoot.
func New(mem Memory) *CPU {
	return &CPU{mem: mem, SP: 0xFFFE}
}

// SetPC lets a harness place the CPU directly at a cartridge's entry
// point, bypassing the (unimplemented) boot ROM sequence.
func (c *CPU) SetPC(pc uint16) { c.PC = pc }

// ResetNoBoot sets the documented DMG post-boot register values (spec §3)
// except PC, which it leaves unchanged; callers place PC with SetPC.
func (c *CPU) ResetNoBoot() {
	c.A, c.F = 0x01, 0xB0
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP = 0xFFFE
	c.ime = ime{}
	c.halted = false
	c.haltBugArmed = false
}

func (c *CPU) setZNHC(z, n, h, cy bool) {
	var f byte
	if z {
		f |= flagZ
	}
	if n {
		f |= flagN
	}
	if h {
		f |= flagH
	}
	if cy {
		f |= flagC
	}
	c.F = f
}

func (c *CPU) add8(a, b byte) (res byte, z, n, h, cy bool) {
	r := uint16(a) + uint16(b)
	res = byte(r)
	z = res == 0
	h = ((a & 0x0F) + (b & 0x0F)) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) adc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := uint16(a) + uint16(b) + uint16(ci)
	res = byte(r)
	z = res == 0
	h = ((a & 0x0F) + (b & 0x0F) + ci) > 0x0F
	cy = r > 0xFF
	return
}

func (c *CPU) sub8(a, b byte) (res byte, z, n, h, cy bool) {
	r := int16(a) - int16(b)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < (b & 0x0F)
	cy = int16(a) < int16(b)
	return
}

func (c *CPU) sbc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := int16(a) - int16(b) - int16(ci)
	res = byte(r)
	z = res == 0
	n = true
	h = (a & 0x0F) < ((b & 0x0F) + ci)
	cy = int16(a) < int16(b)+int16(ci)
	return
}

func (c *CPU) and8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a & b
	return res, res == 0, false, true, false
}

func (c *CPU) xor8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a ^ b
	return res, res == 0, false, false, false
}

func (c *CPU) or8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a | b
	return res, res == 0, false, false, false
}

func (c *CPU) cp8(a, b byte) (z, n, h, cy bool) {
	_, z, n, h, cy = c.sub8(a, b)
	return
}

func (c *CPU) read8(addr uint16) byte     { return c.mem.Read(addr) }
func (c *CPU) write8(addr uint16, v byte) { c.mem.Write(addr, v) }

func (c *CPU) fetch8() byte {
	b := c.read8(c.PC)
	c.PC++
	return b
}

func (c *CPU) fetch16() uint16 {
	lo := uint16(c.fetch8())
	hi := uint16(c.fetch8())
	return lo | (hi << 8)
}

func (c *CPU) read16(addr uint16) uint16 {
	lo := uint16(c.read8(addr))
	hi := uint16(c.read8(addr + 1))
	return lo | (hi << 8)
}

func (c *CPU) write16(addr uint16, v uint16) {
	c.write8(addr, byte(v))
	c.write8(addr+1, byte(v>>8))
}

func (c *CPU) getAF() uint16  { return uint16(c.A)<<8 | uint16(c.F&0xF0) }
func (c *CPU) setAF(v uint16) { c.A = byte(v >> 8); c.F = byte(v) & 0xF0 }
func (c *CPU) getBC() uint16  { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) setBC(v uint16) { c.B = byte(v >> 8); c.C = byte(v) }
func (c *CPU) getDE() uint16  { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) setDE(v uint16) { c.D = byte(v >> 8); c.E = byte(v) }
func (c *CPU) getHL() uint16  { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) setHL(v uint16) { c.H = byte(v >> 8); c.L = byte(v) }

func (c *CPU) push16(v uint16) {
	c.SP -= 2
	c.write16(c.SP, v)
}

func (c *CPU) pop16() uint16 {
	v := c.read16(c.SP)
	c.SP += 2
	return v
}

// get8/set8 implement the register-of-three-bits encoding from spec
// §4.2: 0..5 -> B,C,D,E,H,L; 6 -> (HL); 7 -> A.
func (c *CPU) get8(idx byte) byte {
	switch idx {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 6:
		return c.read8(c.getHL())
	default:
		return c.A
	}
}

func (c *CPU) set8(idx byte, v byte) {
	switch idx {
	case 0:
		c.B = v
	case 1:
		c.C = v
	case 2:
		c.D = v
	case 3:
		c.E = v
	case 4:
		c.H = v
	case 5:
		c.L = v
	case 6:
		c.write8(c.getHL(), v)
	default:
		c.A = v
	}
}

// updateJoypad implements spec §4.2 step 1 literally, including its
// unusual (not real-hardware) select-bit polarity.
func (c *CPU) updateJoypad() {
	joyp := c.mem.Read(0xFF00)
	buttons := c.mem.Buttons()
	switch {
	case joyp&0x20 != 0: // upper nibble (d-pad) of the inverted mask
		c.mem.Write(0xFF00, (joyp&0xF0)|(^(buttons>>4))&0x0F)
	case joyp&0x10 != 0: // lower nibble (action buttons) of the inverted mask
		c.mem.Write(0xFF00, (joyp&0xF0)|(^buttons)&0x0F)
	case joyp == 0x03:
		c.mem.Write(0xFF00, 0xFF)
	}
}

// serviceInterrupt implements spec §4.2 step 2. It returns the extra
// cycle cost paid (2) when an interrupt was dispatched, else 0.
func (c *CPU) serviceInterrupt() int {
	ie := c.mem.Read(0xFFFF)
	ifr := c.mem.Read(0xFF0F) & 0x1F
	irq := ie & ifr
	if irq != 0 {
		c.halted = false
	}
	if !c.ime.Enabled || irq == 0 {
		return 0
	}

	var bit uint
	for bit = 0; bit < 5; bit++ {
		if irq&(1<<bit) != 0 {
			break
		}
	}
	c.ime.Enabled = false
	c.mem.Write(0xFF0F, ifr&^(1<<bit))
	c.push16(c.PC)
	c.PC = 0x40 + uint16(bit)*8
	return 2
}

// Step executes one iteration of the outer loop described in spec §4.2
// and returns the M-cycles it consumed.
func (c *CPU) Step() (int, error) {
	c.updateJoypad()

	cycles := c.serviceInterrupt()

	if c.halted {
		return cycles + 1, nil
	}

	if c.ime.Pending {
		c.ime.Enabled = true
		c.ime.Pending = false
	}

	op := c.fetch8()
	if c.haltBugArmed {
		c.PC--
		c.haltBugArmed = false
	}

	if op == 0xCB {
		cb := c.fetch8()
		cyc, err := c.executeCB(cb)
		return cycles + cyc, err
	}

	cyc, err := c.execute(op)
	return cycles + cyc, err
}

// execute dispatches one non-CB opcode. Returned cycle counts are
// M-cycles (spec §4.2 step 8); the CALL/JR/RET cases fold in their
// taken/not-taken difference directly.
func (c *CPU) execute(op byte) (int, error) {
	switch op {
	case 0x00: // NOP
		return 1, nil
	case 0x10: // STOP
		c.fetch8() // STOP is followed by a padding byte on real hardware
		return 1, nil

	// LD r,d8
	case 0x06, 0x0E, 0x16, 0x1E, 0x26, 0x2E, 0x36, 0x3E:
		d := (op >> 3) & 7
		v := c.fetch8()
		c.set8(d, v)
		if d == 6 {
			return 3, nil
		}
		return 2, nil

	case 0x76: // HALT
		ie := c.mem.Read(0xFFFF)
		ifr := c.mem.Read(0xFF0F) & 0x1F
		if !c.ime.Enabled && (ie&ifr) != 0 {
			c.haltBugArmed = true
		} else {
			c.halted = true
		}
		return 1, nil

	// LD r,r' / LD (HL),r / LD r,(HL)
	case 0x40, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47,
		0x48, 0x49, 0x4A, 0x4B, 0x4C, 0x4D, 0x4E, 0x4F,
		0x50, 0x51, 0x52, 0x53, 0x54, 0x55, 0x56, 0x57,
		0x58, 0x59, 0x5A, 0x5B, 0x5C, 0x5D, 0x5E, 0x5F,
		0x60, 0x61, 0x62, 0x63, 0x64, 0x65, 0x66, 0x67,
		0x68, 0x69, 0x6A, 0x6B, 0x6C, 0x6D, 0x6E, 0x6F,
		0x70, 0x71, 0x72, 0x73, 0x74, 0x75, 0x77,
		0x78, 0x79, 0x7A, 0x7B, 0x7C, 0x7D, 0x7E, 0x7F:
		d := (op >> 3) & 7
		s := op & 7
		c.set8(d, c.get8(s))
		if d == 6 || s == 6 {
			return 2, nil
		}
		return 1, nil

	// 16-bit loads
	case 0x01:
		c.setBC(c.fetch16())
		return 3, nil
	case 0x11:
		c.setDE(c.fetch16())
		return 3, nil
	case 0x21:
		c.setHL(c.fetch16())
		return 3, nil
	case 0x31:
		c.SP = c.fetch16()
		return 3, nil
	case 0x08: // LD (a16),SP
		addr := c.fetch16()
		c.write16(addr, c.SP)
		return 5, nil

	case 0x02:
		c.write8(c.getBC(), c.A)
		return 2, nil
	case 0x12:
		c.write8(c.getDE(), c.A)
		return 2, nil
	case 0x0A:
		c.A = c.read8(c.getBC())
		return 2, nil
	case 0x1A:
		c.A = c.read8(c.getDE())
		return 2, nil
	case 0x22: // LD (HL+),A
		c.write8(c.getHL(), c.A)
		c.setHL(c.getHL() + 1)
		return 2, nil
	case 0x2A: // LD A,(HL+)
		c.A = c.read8(c.getHL())
		c.setHL(c.getHL() + 1)
		return 2, nil
	case 0x32: // LD (HL-),A
		c.write8(c.getHL(), c.A)
		c.setHL(c.getHL() - 1)
		return 2, nil
	case 0x3A: // LD A,(HL-)
		c.A = c.read8(c.getHL())
		c.setHL(c.getHL() - 1)
		return 2, nil

	case 0xE0: // LDH (a8),A
		c.write8(0xFF00+uint16(c.fetch8()), c.A)
		return 3, nil
	case 0xF0: // LDH A,(a8)
		c.A = c.read8(0xFF00 + uint16(c.fetch8()))
		return 3, nil
	case 0xE2: // LD (C),A
		c.write8(0xFF00+uint16(c.C), c.A)
		return 2, nil
	case 0xF2: // LD A,(C)
		c.A = c.read8(0xFF00 + uint16(c.C))
		return 2, nil
	case 0xEA: // LD (a16),A
		c.write8(c.fetch16(), c.A)
		return 4, nil
	case 0xFA: // LD A,(a16)
		c.A = c.read8(c.fetch16())
		return 4, nil

	case 0x07: // RLCA
		cf := (c.A >> 7) & 1
		c.A = (c.A << 1) | cf
		c.setZNHC(false, false, false, cf == 1)
		return 1, nil
	case 0x0F: // RRCA
		cf := c.A & 1
		c.A = (c.A >> 1) | (cf << 7)
		c.setZNHC(false, false, false, cf == 1)
		return 1, nil
	case 0x17: // RLA
		cf := (c.A >> 7) & 1
		cin := byte(0)
		if c.F&flagC != 0 {
			cin = 1
		}
		c.A = (c.A << 1) | cin
		c.setZNHC(false, false, false, cf == 1)
		return 1, nil
	case 0x1F: // RRA
		cf := c.A & 1
		cin := byte(0)
		if c.F&flagC != 0 {
			cin = 1
		}
		c.A = (c.A >> 1) | (cin << 7)
		c.setZNHC(false, false, false, cf == 1)
		return 1, nil

	case 0x27: // DAA
		a := c.A
		cf := c.F&flagC != 0
		if c.F&flagN == 0 {
			if cf || a > 0x99 {
				a += 0x60
				cf = true
			}
			if c.F&flagH != 0 || (a&0x0F) > 9 {
				a += 0x06
			}
		} else {
			if cf {
				a -= 0x60
			}
			if c.F&flagH != 0 {
				a -= 0x06
			}
		}
		c.A = a
		c.setZNHC(c.A == 0, c.F&flagN != 0, false, cf)
		return 1, nil
	case 0x2F: // CPL
		c.A = ^c.A
		c.F = (c.F & (flagZ | flagC)) | flagN | flagH
		return 1, nil
	case 0x37: // SCF
		c.F = (c.F & flagZ) | flagC
		return 1, nil
	case 0x3F: // CCF
		cf := c.F&flagC == 0
		c.F = (c.F & flagZ)
		if cf {
			c.F |= flagC
		}
		return 1, nil

	// INC/DEC r, (HL)
	case 0x04, 0x0C, 0x14, 0x1C, 0x24, 0x2C, 0x34, 0x3C:
		d := (op >> 3) & 7
		v := c.get8(d)
		r := v + 1
		c.set8(d, r)
		c.setZNHC(r == 0, false, v&0x0F == 0x0F, c.F&flagC != 0)
		if d == 6 {
			return 3, nil
		}
		return 1, nil
	case 0x05, 0x0D, 0x15, 0x1D, 0x25, 0x2D, 0x35, 0x3D:
		d := (op >> 3) & 7
		v := c.get8(d)
		r := v - 1
		c.set8(d, r)
		c.setZNHC(r == 0, true, v&0x0F == 0, c.F&flagC != 0)
		if d == 6 {
			return 3, nil
		}
		return 1, nil

	// ALU A, r / (HL) / d8 — add/adc/sub/sbc/and/xor/or/cp
	case 0x80, 0x81, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87:
		return c.aluReg(op, c.add8)
	case 0x88, 0x89, 0x8A, 0x8B, 0x8C, 0x8D, 0x8E, 0x8F:
		return c.aluRegCarry(op, c.adc8)
	case 0x90, 0x91, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97:
		return c.aluReg(op, c.sub8)
	case 0x98, 0x99, 0x9A, 0x9B, 0x9C, 0x9D, 0x9E, 0x9F:
		return c.aluRegCarry(op, c.sbc8)
	case 0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7:
		return c.aluReg(op, c.and8)
	case 0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF:
		return c.aluReg(op, c.xor8)
	case 0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7:
		return c.aluReg(op, c.or8)
	case 0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBE, 0xBF:
		s := op & 7
		z, n, h, cy := c.cp8(c.A, c.get8(s))
		c.setZNHC(z, n, h, cy)
		if s == 6 {
			return 2, nil
		}
		return 1, nil

	case 0xC6:
		r, z, n, h, cy := c.add8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 2, nil
	case 0xCE:
		r, z, n, h, cy := c.adc8(c.A, c.fetch8(), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 2, nil
	case 0xD6:
		r, z, n, h, cy := c.sub8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 2, nil
	case 0xDE:
		r, z, n, h, cy := c.sbc8(c.A, c.fetch8(), c.F&flagC != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 2, nil
	case 0xE6:
		r, z, n, h, cy := c.and8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 2, nil
	case 0xEE:
		r, z, n, h, cy := c.xor8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 2, nil
	case 0xF6:
		r, z, n, h, cy := c.or8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 2, nil
	case 0xFE:
		z, n, h, cy := c.cp8(c.A, c.fetch8())
		c.setZNHC(z, n, h, cy)
		return 2, nil

	case 0xC3: // JP a16
		c.PC = c.fetch16()
		return 4, nil
	case 0xE9: // JP (HL)
		c.PC = c.getHL()
		return 1, nil
	case 0x18: // JR r8
		off := int8(c.fetch8())
		c.PC = uint16(int32(c.PC) + int32(off))
		return 3, nil

	case 0x20, 0x28, 0x30, 0x38: // JR cc,r8
		off := int8(c.fetch8())
		if c.condTaken(op) {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 3, nil
		}
		return 2, nil

	case 0xCD: // CALL a16
		addr := c.fetch16()
		c.push16(c.PC)
		c.PC = addr
		return 6, nil
	case 0xC9: // RET
		c.PC = c.pop16()
		return 4, nil
	case 0xD9: // RETI
		c.PC = c.pop16()
		c.ime.Enabled = true
		c.ime.Pending = false
		return 4, nil

	case 0xC7, 0xCF, 0xD7, 0xDF, 0xE7, 0xEF, 0xF7, 0xFF: // RST n
		c.push16(c.PC)
		c.PC = uint16(op &^ 0xC7)
		return 4, nil

	case 0xC4, 0xCC, 0xD4, 0xDC: // CALL cc,a16
		addr := c.fetch16()
		if c.condTaken(op) {
			c.push16(c.PC)
			c.PC = addr
			return 6, nil
		}
		return 3, nil

	case 0xC0, 0xC8, 0xD0, 0xD8: // RET cc
		if c.condTaken(op) {
			c.PC = c.pop16()
			return 5, nil
		}
		return 2, nil

	case 0xC2, 0xCA, 0xD2, 0xDA: // JP cc,a16
		addr := c.fetch16()
		if c.condTaken(op) {
			c.PC = addr
			return 4, nil
		}
		return 3, nil

	case 0x03:
		c.setBC(c.getBC() + 1)
		return 2, nil
	case 0x13:
		c.setDE(c.getDE() + 1)
		return 2, nil
	case 0x23:
		c.setHL(c.getHL() + 1)
		return 2, nil
	case 0x33:
		c.SP++
		return 2, nil
	case 0x0B:
		c.setBC(c.getBC() - 1)
		return 2, nil
	case 0x1B:
		c.setDE(c.getDE() - 1)
		return 2, nil
	case 0x2B:
		c.setHL(c.getHL() - 1)
		return 2, nil
	case 0x3B:
		c.SP--
		return 2, nil

	case 0x09, 0x19, 0x29, 0x39: // ADD HL,rr
		hl := c.getHL()
		var rr uint16
		switch op {
		case 0x09:
			rr = c.getBC()
		case 0x19:
			rr = c.getDE()
		case 0x29:
			rr = hl
		case 0x39:
			rr = c.SP
		}
		r := uint32(hl) + uint32(rr)
		h := ((hl & 0x0FFF) + (rr & 0x0FFF)) > 0x0FFF
		c.setHL(uint16(r))
		c.setZNHC(c.F&flagZ != 0, false, h, r > 0xFFFF)
		return 2, nil

	case 0xF8: // LD HL,SP+e8
		off := int8(c.fetch8())
		res := uint16(int32(int16(c.SP)) + int32(off))
		low := byte(c.SP & 0xFF)
		_, _, _, h, cy := c.add8(low, byte(off))
		c.setHL(res)
		c.setZNHC(false, false, h, cy)
		return 3, nil
	case 0xF9: // LD SP,HL
		c.SP = c.getHL()
		return 2, nil
	case 0xE8: // ADD SP,e8
		off := int8(c.fetch8())
		low := byte(c.SP & 0xFF)
		_, _, _, h, cy := c.add8(low, byte(off))
		c.SP = uint16(int32(int16(c.SP)) + int32(off))
		c.setZNHC(false, false, h, cy)
		return 4, nil

	case 0xF3: // DI
		c.ime.Enabled = false
		c.ime.Pending = false
		return 1, nil
	case 0xFB: // EI
		c.ime.Pending = true
		return 1, nil

	case 0xF5:
		c.push16(c.getAF())
		return 4, nil
	case 0xC5:
		c.push16(c.getBC())
		return 4, nil
	case 0xD5:
		c.push16(c.getDE())
		return 4, nil
	case 0xE5:
		c.push16(c.getHL())
		return 4, nil
	case 0xF1:
		c.setAF(c.pop16())
		return 3, nil
	case 0xC1:
		c.setBC(c.pop16())
		return 3, nil
	case 0xD1:
		c.setDE(c.pop16())
		return 3, nil
	case 0xE1:
		c.setHL(c.pop16())
		return 3, nil

	case 0xD3, 0xDB, 0xDD, 0xE3, 0xE4, 0xEB, 0xEC, 0xED, 0xF4, 0xFC, 0xFD:
		return 0, coreerr.ErrUnknownOpcode

	default:
		return 0, coreerr.ErrUnknownOpcode
	}
}

type binop func(a, b byte) (res byte, z, n, h, cy bool)

func (c *CPU) aluReg(op byte, f binop) (int, error) {
	s := op & 7
	r, z, n, h, cy := f(c.A, c.get8(s))
	c.A = r
	c.setZNHC(z, n, h, cy)
	if s == 6 {
		return 2, nil
	}
	return 1, nil
}

type carryBinop func(a, b byte, carryIn bool) (res byte, z, n, h, cy bool)

func (c *CPU) aluRegCarry(op byte, f carryBinop) (int, error) {
	s := op & 7
	r, z, n, h, cy := f(c.A, c.get8(s), c.F&flagC != 0)
	c.A = r
	c.setZNHC(z, n, h, cy)
	if s == 6 {
		return 2, nil
	}
	return 1, nil
}

// condTaken resolves the NZ/Z/NC/C condition selected by bits 3-4 of a
// conditional opcode.
func (c *CPU) condTaken(op byte) bool {
	switch (op >> 3) & 3 {
	case 0:
		return c.F&flagZ == 0
	case 1:
		return c.F&flagZ != 0
	case 2:
		return c.F&flagC == 0
	default:
		return c.F&flagC != 0
	}
}

// executeCB dispatches a CB-prefixed opcode: rotate/shift/swap, BIT,
// RES, SET over the register-of-three-bits encoding.
func (c *CPU) executeCB(cb byte) (int, error) {
	reg := cb & 7
	group := (cb >> 6) & 3
	y := (cb >> 3) & 7

	baseCycles := 2
	if reg == 6 {
		baseCycles = 4
	}

	switch group {
	case 0:
		v := c.get8(reg)
		var cf byte
		switch y {
		case 0: // RLC
			cf = (v >> 7) & 1
			v = (v << 1) | cf
		case 1: // RRC
			cf = v & 1
			v = (v >> 1) | (cf << 7)
		case 2: // RL
			cf = (v >> 7) & 1
			cin := byte(0)
			if c.F&flagC != 0 {
				cin = 1
			}
			v = (v << 1) | cin
		case 3: // RR
			cf = v & 1
			cin := byte(0)
			if c.F&flagC != 0 {
				cin = 1
			}
			v = (v >> 1) | (cin << 7)
		case 4: // SLA
			cf = (v >> 7) & 1
			v <<= 1
		case 5: // SRA
			cf = v & 1
			v = (v >> 1) | (v & 0x80)
		case 6: // SWAP
			v = (v << 4) | (v >> 4)
		case 7: // SRL
			cf = v & 1
			v >>= 1
		}
		c.set8(reg, v)
		if y == 6 {
			c.setZNHC(v == 0, false, false, false)
		} else {
			c.setZNHC(v == 0, false, false, cf == 1)
		}
		return baseCycles, nil

	case 1: // BIT y,r
		v := c.get8(reg)
		bit := (v >> y) & 1
		c.F = (c.F & flagC) | flagH
		if bit == 0 {
			c.F |= flagZ
		}
		if reg == 6 {
			return 3, nil
		}
		return 2, nil

	case 2: // RES y,r
		v := c.get8(reg)
		c.set8(reg, v&^(1<<y))
		return baseCycles, nil

	default: // SET y,r
		v := c.get8(reg)
		c.set8(reg, v|(1<<y))
		return baseCycles, nil
	}
}

// cpuState is the gob-encoded shape of SaveState.
type cpuState struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME                    ime
	Halted, HaltBugArmed   bool
}

// SaveState snapshots register state, used by the machine package's
// test-only checkpoint helper.
func (c *CPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(cpuState{
		A: c.A, F: c.F, B: c.B, C: c.C, D: c.D, E: c.E, H: c.H, L: c.L,
		SP: c.SP, PC: c.PC,
		IME: c.ime, Halted: c.halted, HaltBugArmed: c.haltBugArmed,
	})
	return buf.Bytes()
}

// LoadState restores a snapshot produced by SaveState.
func (c *CPU) LoadState(data []byte) error {
	var s cpuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L = s.A, s.F, s.B, s.C, s.D, s.E, s.H, s.L
	c.SP, c.PC = s.SP, s.PC
	c.ime = s.IME
	c.halted, c.haltBugArmed = s.Halted, s.HaltBugArmed
	return nil
}
