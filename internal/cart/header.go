// Package cart parses the cartridge header and classifies the memory bank
// controller a cartridge image requires. Bank switching itself lives in
// internal/bus, which is the sole owner of the 64 KiB CPU address space
// (see spec §3); this package only inspects the read-only image.
package cart

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

const headerEnd = 0x014F

// nintendoLogo is the 48-byte bitmap every licensed cartridge carries at
// 0x0104-0x0133; the original boot ROM refused to run anything where this
// didn't match byte for byte. This core has no boot ROM (spec's
// Non-goals), so a mismatch is advisory only - see Header.LogoValid.
var nintendoLogo = [48]byte{
	0xCE, 0xED, 0x66, 0x66, 0xCC, 0x0D, 0x00, 0x0B, 0x03, 0x73, 0x00, 0x83, 0x00, 0x0C, 0x00, 0x0D,
	0x00, 0x08, 0x11, 0x1F, 0x88, 0x89, 0x00, 0x0E, 0xDC, 0xCC, 0x6E, 0xE6, 0xDD, 0xDD, 0xD9, 0x99,
	0xBB, 0xBB, 0x67, 0x63, 0x6E, 0x0E, 0xEC, 0xCC, 0xDD, 0xDC, 0x99, 0x9F, 0xBB, 0xB9, 0x33, 0x3E,
}

// romSizeEntry and ramSizeEntry back a lookup table instead of a switch:
// the size codes aren't contiguous (0x00-0x08 then 0x52-0x54 for ROM), so
// a table reads closer to how Pan Docs itself lists them.
type romSizeEntry struct {
	bytes int
	banks int
}

var romSizes = map[byte]romSizeEntry{
	0x00: {32 * 1024, 2},
	0x01: {64 * 1024, 4},
	0x02: {128 * 1024, 8},
	0x03: {256 * 1024, 16},
	0x04: {512 * 1024, 32},
	0x05: {1 * 1024 * 1024, 64},
	0x06: {2 * 1024 * 1024, 128},
	0x07: {4 * 1024 * 1024, 256},
	0x08: {8 * 1024 * 1024, 512},
	0x52: {1152 * 1024, 72},
	0x53: {1280 * 1024, 80},
	0x54: {1536 * 1024, 96},
}

var ramSizes = map[byte]int{
	0x00: 0,
	0x02: 8 * 1024,
	0x03: 32 * 1024,
	0x04: 128 * 1024,
	0x05: 64 * 1024,
}

// cartTypeGroup names the families of CartType byte this core recognizes
// (whether or not it implements them); anything outside these ranges
// reports "unknown".
var cartTypeGroups = []struct {
	lo, hi byte
	name   string
}{
	{0x00, 0x00, "ROM ONLY"},
	{0x01, 0x03, "MBC1"},
	{0x05, 0x06, "MBC2 (unimplemented)"},
	{0x0F, 0x13, "MBC3"},
	{0x19, 0x1E, "MBC5 (unimplemented)"},
}

// Header is the decoded cartridge header, 0x0100-0x014F.
type Header struct {
	Title          string // trimmed ASCII, 0x0134-0x0143
	CGBFlag        byte   // 0x0143
	NewLicensee    string // 0x0144-0x0145, valid when OldLicensee == 0x33
	SGBFlag        byte   // 0x0146
	CartType       byte   // 0x0147 - see DetectKind for the subset this core implements
	ROMSizeCode    byte   // 0x0148
	RAMSizeCode    byte   // 0x0149
	Destination    byte   // 0x014A
	OldLicensee    byte   // 0x014B
	ROMVersion     byte   // 0x014C
	HeaderChecksum byte   // 0x014D
	GlobalChecksum uint16 // 0x014E-0x014F

	ROMSizeBytes int
	ROMBanks     int
	RAMSizeBytes int
	CartTypeStr  string
	LogoValid    bool // whether 0x0104-0x0133 matches the Nintendo logo bitmap
}

// ParseHeader decodes the header block of a cartridge image. It requires
// the image to be at least large enough to contain the full header.
func ParseHeader(rom []byte) (*Header, error) {
	if len(rom) < headerEnd+1 {
		return nil, fmt.Errorf("cart: ROM is %d bytes, too small to contain a header", len(rom))
	}

	h := &Header{
		Title:          strings.TrimRight(string(rom[0x0134:0x0144]), "\x00"),
		CGBFlag:        rom[0x0143],
		NewLicensee:    string(rom[0x0144:0x0146]),
		SGBFlag:        rom[0x0146],
		CartType:       rom[0x0147],
		ROMSizeCode:    rom[0x0148],
		RAMSizeCode:    rom[0x0149],
		Destination:    rom[0x014A],
		OldLicensee:    rom[0x014B],
		ROMVersion:     rom[0x014C],
		HeaderChecksum: rom[0x014D],
		GlobalChecksum: binary.BigEndian.Uint16(rom[0x014E:0x0150]),
		LogoValid:      bytes.Equal(rom[0x0104:0x0104+len(nintendoLogo)], nintendoLogo[:]),
	}

	if e, ok := romSizes[h.ROMSizeCode]; ok {
		h.ROMSizeBytes, h.ROMBanks = e.bytes, e.banks
	}
	h.RAMSizeBytes = ramSizes[h.RAMSizeCode]
	h.CartTypeStr = cartTypeString(h.CartType)

	return h, nil
}

// HeaderChecksumOK recomputes the header checksum (Pan Docs algorithm)
// and reports whether it matches the stored byte at 0x014D. A mismatch is
// logged but is not itself fatal; see machine.Machine.LoadROM.
func HeaderChecksumOK(rom []byte) bool {
	if len(rom) < 0x014E {
		return false
	}
	var sum byte
	for _, b := range rom[0x0134:0x014D] {
		sum = sum - b - 1
	}
	return sum == rom[0x014D]
}

func cartTypeString(code byte) string {
	for _, g := range cartTypeGroups {
		if code >= g.lo && code <= g.hi {
			return g.name
		}
	}
	return "unknown"
}
