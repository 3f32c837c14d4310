// Package ppu implements the scanline state machine and BG/window/sprite
// compositor (spec §4.3): OAM search, pixel transfer, HBlank, VBlank,
// driven by the CPU-returned machine-cycle count each System tick.
//
// Rendering is direct per-pixel sampling, not a FIFO/fetcher pipeline:
// the whole line is known up front (SCX/SCY/WX/WY/LCDC don't change
// mid-scanline in this core), so there is nothing a pixel FIFO buys here.
package ppu

import (
	"bytes"
	"encoding/gob"
)

const (
	Width  = 160
	Height = 144

	cyclesOAM     = 20
	cyclesPixel   = 63
	cyclesPerLine = 114
	totalLines    = 154
	vblankStart   = 144
)

type mode int

const (
	modeOAM mode = iota
	modePixelTransfer
	modeHBlank
	modeVBlank
)

// Memory is the subset of bus.Bus the PPU needs: the I/O register page,
// VRAM/OAM reads, and interrupt requests. Defined here so ppu never
// imports bus.
type Memory interface {
	Read(addr uint16) byte
	ReadIO(reg byte) byte
	WriteIO(reg byte, v byte)
	RequestInterrupt(bit uint8)
}

const (
	regLCDC = 0x40
	regSTAT = 0x41
	regSCY  = 0x42
	regSCX  = 0x43
	regLY   = 0x44
	regLYC  = 0x45
	regBGP  = 0x47
	regOBP0 = 0x48
	regOBP1 = 0x49
	regWY   = 0x4A
	regWX   = 0x4B

	ifLCDCBit = 1
)

var palette = [4]byte{0xFF, 0xAA, 0x85, 0x00}

type sprite struct {
	y, x, tile, attr byte
	oamIndex         int
}

// PPU owns the scanline state machine, the sprite buffer for the line
// being composed, and the two framebuffers (spec §3).
type PPU struct {
	mem Memory

	state      mode
	stateTicks int

	sprites []sprite

	back  [Width * Height]byte
	front [Width * Height]byte
}

// New builds a PPU bound to mem, starting in OAM search on line 0.
func New(mem Memory) *PPU {
	return &PPU{mem: mem, sprites: make([]sprite, 0, 10)}
}

// Framebuffer returns the last published frame (8-bit grayscale indices
// from the built-in palette), safe to read between Step calls.
func (p *PPU) Framebuffer() []byte { return p.front[:] }

// Step advances the PPU state machine by cycles (spec §4.3).
func (p *PPU) Step(cycles int) {
	lcdc := p.mem.ReadIO(regLCDC)
	if lcdc&0x80 == 0 {
		p.state = modeOAM
		p.stateTicks = 0
		stat := p.mem.ReadIO(regSTAT)
		p.mem.WriteIO(regSTAT, stat&^0x03)
		p.mem.WriteIO(regLY, 0)
		return
	}

	p.updateLYCCoincidence()

	p.stateTicks += cycles
	for {
		switch p.state {
		case modeOAM:
			if p.stateTicks < cyclesOAM {
				return
			}
			p.stateTicks -= cyclesOAM
			p.selectSprites()
			p.enterMode(modePixelTransfer)
		case modePixelTransfer:
			if p.stateTicks < cyclesPixel {
				return
			}
			p.stateTicks -= cyclesPixel
			p.renderLine()
			p.enterMode(modeHBlank)
		case modeHBlank:
			if p.stateTicks < cyclesPerLine-cyclesOAM-cyclesPixel {
				return
			}
			p.stateTicks -= cyclesPerLine - cyclesOAM - cyclesPixel
			p.advanceLine()
			if p.currentLY() < vblankStart {
				p.enterMode(modeOAM)
			} else {
				p.enterMode(modeVBlank)
				p.publishFrame()
			}
		case modeVBlank:
			if p.stateTicks < cyclesPerLine {
				return
			}
			p.stateTicks -= cyclesPerLine
			p.advanceLine()
			if p.currentLY() == 0 {
				p.enterMode(modeOAM)
			}
			// Otherwise stays in VBlank for the next of the ten lines.
		}
	}
}

func (p *PPU) currentLY() byte { return p.mem.ReadIO(regLY) }

func (p *PPU) advanceLine() {
	ly := p.currentLY() + 1
	if ly >= totalLines {
		ly = 0
	}
	p.mem.WriteIO(regLY, ly)
}

// enterMode updates STAT's mode bits and raises IF.LCDC for the
// HBlank/VBlank/OAM STAT-interrupt sources (bits 3/4/5), matching classic
// STAT semantics (spec §4.3, §9 open-question resolution).
func (p *PPU) enterMode(m mode) {
	p.state = m
	stat := p.mem.ReadIO(regSTAT)
	stat = (stat &^ 0x03) | byte(m)
	p.mem.WriteIO(regSTAT, stat)

	var srcBit byte
	switch m {
	case modeHBlank:
		srcBit = 0x08
	case modeVBlank:
		srcBit = 0x10
	case modeOAM:
		srcBit = 0x20
	default:
		return
	}
	if stat&srcBit != 0 {
		p.mem.RequestInterrupt(ifLCDCBit)
	}
}

func (p *PPU) updateLYCCoincidence() {
	stat := p.mem.ReadIO(regSTAT)
	was := stat&0x04 != 0
	is := p.currentLY() == p.mem.ReadIO(regLYC)
	if is {
		stat |= 0x04
	} else {
		stat &^= 0x04
	}
	p.mem.WriteIO(regSTAT, stat)
	if !was && is && stat&0x40 != 0 {
		p.mem.RequestInterrupt(ifLCDCBit)
	}
}

// selectSprites scans OAM for up to 10 sprites visible on the line about
// to be rendered, per spec §4.3.
func (p *PPU) selectSprites() {
	p.sprites = p.sprites[:0]
	ly := int(p.currentLY())
	lcdc := p.mem.ReadIO(regLCDC)
	h := 8
	if lcdc&0x04 != 0 {
		h = 16
	}

	for i := 0; i < 40; i++ {
		base := uint16(0xFE00 + i*4)
		y := p.mem.Read(base)
		x := p.mem.Read(base + 1)
		tile := p.mem.Read(base + 2)
		attr := p.mem.Read(base + 3)

		if !(x > 0 && y < 160 && x < 168) {
			continue
		}
		top := int(y) - 16
		if !(ly >= top && ly < top+h) {
			continue
		}

		if h == 16 {
			tile &= 0xFE
		}
		p.sprites = append(p.sprites, sprite{y: y, x: x, tile: tile, attr: attr, oamIndex: i})
		if len(p.sprites) == 10 {
			break
		}
	}

	// x ascending, stable tie-break on OAM index (spec §4.3).
	for i := 1; i < len(p.sprites); i++ {
		for j := i; j > 0 && less(p.sprites[j], p.sprites[j-1]); j-- {
			p.sprites[j], p.sprites[j-1] = p.sprites[j-1], p.sprites[j]
		}
	}
}

func less(a, b sprite) bool {
	if a.x != b.x {
		return a.x < b.x
	}
	return a.oamIndex < b.oamIndex
}

// renderLine composites BG/window/sprites for the current LY into the
// backbuffer (spec §4.3).
func (p *PPU) renderLine() {
	lcdc := p.mem.ReadIO(regLCDC)
	ly := p.currentLY()
	scy := p.mem.ReadIO(regSCY)
	scx := p.mem.ReadIO(regSCX)
	wy := p.mem.ReadIO(regWY)
	wx := p.mem.ReadIO(regWX)
	bgp := p.mem.ReadIO(regBGP)

	bgEnabled := lcdc&0x01 != 0
	winEnabled := lcdc&0x20 != 0 && bgEnabled

	h := 8
	if lcdc&0x04 != 0 {
		h = 16
	}

	for x := 0; x < Width; x++ {
		var bgRaw byte
		switch {
		case winEnabled && int(wx) <= x+7 && ly >= wy:
			mapBase := bgMapBase(lcdc, 6)
			bgRaw = p.sampleBG(mapBase, lcdc, byte(x+7-int(wx)), ly-wy)
		case bgEnabled:
			mapBase := bgMapBase(lcdc, 3)
			px := byte((x + int(scx)) & 0xFF)
			py := byte((int(ly) + int(scy)) & 0xFF)
			bgRaw = p.sampleBG(mapBase, lcdc, px, py)
		default:
			bgRaw = 0
		}

		ci := palIndex(bgp, bgRaw)

		if sp, spRaw, ok := p.spriteAt(x, h, ly); ok {
			if sp.attr&0x80 == 0 || bgRaw == 0 {
				obp := p.mem.ReadIO(regOBP0)
				if sp.attr&0x10 != 0 {
					obp = p.mem.ReadIO(regOBP1)
				}
				ci = palIndex(obp, spRaw)
			}
		}

		p.back[int(ly)*Width+x] = ci
	}
}

func bgMapBase(lcdc byte, bit uint) uint16 {
	if lcdc&(1<<bit) != 0 {
		return 0x9C00
	}
	return 0x9800
}

// sampleBG returns the raw 2-bit color index (before palette mapping) at
// tile-map coordinate (mapX, mapY), honoring LCDC bit 4's addressing mode.
func (p *PPU) sampleBG(mapBase uint16, lcdc byte, mapX, mapY byte) byte {
	col := uint16(mapX) / 8
	row := uint16(mapY) / 8
	fineX := mapX % 8
	fineY := mapY % 8

	tileAddr := mapBase + row*32 + col
	tileNum := p.mem.Read(tileAddr)

	var base uint16
	if lcdc&0x10 != 0 {
		base = 0x8000 + uint16(tileNum)*16
	} else {
		base = 0x9000 + uint16(int8(tileNum))*16
	}
	lo := p.mem.Read(base + uint16(fineY)*2)
	hi := p.mem.Read(base + uint16(fineY)*2 + 1)

	bit := 7 - fineX
	return ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
}

// spriteAt walks the selected sprites (already in x-then-OAM priority
// order) and returns the first one that both covers screen column x and
// samples to a non-transparent pixel at (x, ly) — spec §4.3: a covering
// sprite whose sampled pixel is 0 is transparent and must fall through to
// the next covering sprite, not just leave the BG showing through the
// first geometric match.
func (p *PPU) spriteAt(x int, h int, ly byte) (sprite, byte, bool) {
	for _, sp := range p.sprites {
		left := int(sp.x) - 8
		if x < left || x >= left+8 {
			continue
		}
		if raw := p.sampleSprite(sp, x, ly, h); raw != 0 {
			return sp, raw, true
		}
	}
	return sprite{}, 0, false
}

func (p *PPU) sampleSprite(sp sprite, x int, ly byte, h int) byte {
	row := int(ly) - (int(sp.y) - 16)
	if sp.attr&0x40 != 0 {
		row = h - 1 - row
	}
	col := x - (int(sp.x) - 8)
	if sp.attr&0x20 != 0 {
		col = 7 - col
	}

	base := 0x8000 + uint16(sp.tile)*16 + uint16(row)*2
	lo := p.mem.Read(base)
	hi := p.mem.Read(base + 1)
	bit := 7 - byte(col)
	return ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
}

func palIndex(palette byte, ci byte) byte {
	return (palette >> (ci * 2)) & 0x03
}

// publishFrame copies the backbuffer into the front framebuffer, mapping
// 2-bit indices through the built-in grayscale palette (spec §4.3).
func (p *PPU) publishFrame() {
	for i, ci := range p.back {
		p.front[i] = palette[ci&0x03]
	}
}

// ppuState is the gob-encoded shape of SaveState. p.sprites is left out:
// it's the current line's OAM-search result, rebuilt every time Step
// enters modeOAM, so it carries no state that outlives a scanline.
type ppuState struct {
	State      mode
	StateTicks int
	Back       [Width * Height]byte
	Front      [Width * Height]byte
}

// SaveState snapshots scanline-machine state, used by the machine
// package's test-only checkpoint helper.
func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(ppuState{
		State: p.state, StateTicks: p.stateTicks,
		Back: p.back, Front: p.front,
	})
	return buf.Bytes()
}

// LoadState restores a snapshot produced by SaveState.
func (p *PPU) LoadState(data []byte) error {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	p.state, p.stateTicks = s.State, s.StateTicks
	p.back, p.front = s.Back, s.Front
	p.sprites = nil
	return nil
}
