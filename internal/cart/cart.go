package cart

import (
	"fmt"

	"github.com/fmnoll/dmgcore/internal/coreerr"
)

// Kind identifies the memory bank controller a cartridge image declares.
// Bank switching state and behavior live on the Bus (spec §3/§4.1); Kind
// is all the Bus needs to pick a banking protocol.
type Kind int

const (
	None Kind = iota
	MBC1
	MBC3
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case MBC1:
		return "MBC1"
	case MBC3:
		return "MBC3"
	default:
		return "unknown"
	}
}

// DetectKind classifies header byte 0x147 per spec §3: 0x00 -> None,
// 0x01-0x03 -> MBC1, 0x0F-0x13 -> MBC3. Any other value is reported via
// coreerr.ErrUnsupportedCartridge and the cartridge falls back to Kind
// None, matching spec §7's UnsupportedCartridge handling.
func DetectKind(rom []byte) (Kind, error) {
	if len(rom) < 0x148 {
		return None, fmt.Errorf("%w: ROM too small to contain a type byte", coreerr.ErrUnsupportedCartridge)
	}
	code := rom[0x147]
	switch {
	case code == 0x00:
		return None, nil
	case code >= 0x01 && code <= 0x03:
		return MBC1, nil
	case code >= 0x0F && code <= 0x13:
		return MBC3, nil
	default:
		return None, fmt.Errorf("%w: header byte 0x147=%#02x", coreerr.ErrUnsupportedCartridge, code)
	}
}
