package shadowmem

import "strconv"

// Granule is the number of heap bytes covered by one shadow byte.
const Granule = 8

// GranuleShift is log2(Granule), used for the address-to-index transform.
const GranuleShift = 3

// ShadowByte is the state of one 8-byte granule of tracked heap memory.
//
// The storage representation is a single byte, but all classification goes
// through the methods below so the checker's logic stays exhaustive and no
// magic numbers leak into call sites.
type ShadowByte byte

const (
	// Addressable marks a granule whose 8 bytes are all accessible.
	Addressable ShadowByte = 0x00

	// RedzonePoison marks a granule that belongs to a redzone: the guard
	// region placed immediately before and after every user allocation.
	RedzonePoison ShadowByte = 0xFA

	// FreedPoison marks a granule that belongs to a freed, quarantined
	// allocation. An access hitting this value is a use-after-free, not an
	// out-of-bounds access, regardless of distance.
	FreedPoison ShadowByte = 0xFD

	// Untracked marks a granule that has never been owned by any chunk.
	// It is the initial fill of the shadow table and the value a granule
	// reverts to when its chunk is evicted from quarantine. Untracked
	// memory is unaddressable by convention.
	Untracked ShadowByte = 0xFE
)

// IsPartial reports whether the shadow byte encodes a partially addressable
// granule (only the first 1..7 bytes accessible).
func (s ShadowByte) IsPartial() bool {
	return s >= 1 && s < Granule
}

// IsPoison reports whether the granule is entirely inaccessible.
func (s ShadowByte) IsPoison() bool {
	return s >= Granule
}

// AddressableBytes returns how many leading bytes of the granule may be
// accessed: 8 for a fully addressable granule, 1..7 for a partial tail,
// 0 for any poison value.
func (s ShadowByte) AddressableBytes() uintptr {
	switch {
	case s == Addressable:
		return Granule
	case s.IsPartial():
		return uintptr(s)
	default:
		return 0
	}
}

// String returns a debug representation, e.g. "addressable", "partial(3)",
// "redzone", "freed", "untracked".
func (s ShadowByte) String() string {
	switch {
	case s == Addressable:
		return "addressable"
	case s.IsPartial():
		return "partial(" + strconv.Itoa(int(s)) + ")"
	case s == RedzonePoison:
		return "redzone"
	case s == FreedPoison:
		return "freed"
	case s == Untracked:
		return "untracked"
	default:
		return "invalid(0x" + strconv.FormatUint(uint64(s), 16) + ")"
	}
}

// GranuleBase rounds addr down to the start of its granule.
func GranuleBase(addr uintptr) uintptr {
	return addr &^ (Granule - 1)
}

// GranuleRound rounds n up to the next granule boundary.
func GranuleRound(n uintptr) uintptr {
	return (n + Granule - 1) &^ (Granule - 1)
}
