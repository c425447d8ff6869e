package shadowmem

import "fmt"

// ShadowMemory maps every granule of the tracked heap range to one
// ShadowByte.
//
// The table covers exactly [base, base+size). Addresses outside the range
// report Untracked, which the checker treats as a wild access. All granules
// start Untracked; the allocator carves addressable regions and redzones out
// of the table as chunks come and go.
type ShadowMemory struct {
	base  uintptr
	limit uintptr
	table []ShadowByte
}

// New creates a shadow table covering [base, base+size).
//
// base must be granule-aligned; size is rounded up to a whole number of
// granules. The table is one byte per granule, so memory overhead is size/8.
func New(base, size uintptr) *ShadowMemory {
	if base != GranuleBase(base) {
		panic(fmt.Sprintf("shadowmem: base 0x%x not granule-aligned", base))
	}
	size = GranuleRound(size)
	sm := &ShadowMemory{
		base:  base,
		limit: base + size,
		table: make([]ShadowByte, size>>GranuleShift),
	}
	for i := range sm.table {
		sm.table[i] = Untracked
	}
	return sm
}

// Base returns the first tracked heap address.
func (sm *ShadowMemory) Base() uintptr { return sm.base }

// Limit returns the first address past the tracked range.
func (sm *ShadowMemory) Limit() uintptr { return sm.limit }

// Contains reports whether addr falls inside the tracked range.
func (sm *ShadowMemory) Contains(addr uintptr) bool {
	return addr >= sm.base && addr < sm.limit
}

// index converts a tracked heap address to its shadow table index.
// This is the constant-time scale-and-offset transform; there is no lookup
// structure on this path.
func (sm *ShadowMemory) index(addr uintptr) uintptr {
	return (addr - sm.base) >> GranuleShift
}

// Load returns the shadow state of the granule containing addr.
// Addresses outside the tracked range report Untracked.
func (sm *ShadowMemory) Load(addr uintptr) ShadowByte {
	if !sm.Contains(addr) {
		return Untracked
	}
	return sm.table[sm.index(addr)]
}

// Poison marks the n bytes starting at addr with the given poison value.
//
// Both addr and n must be granule-aligned: poison ranges (redzones, freed
// chunks, untracked reverts) always cover whole granules by construction.
// A misaligned range is a bug in the allocator, not in user code, so it is
// fatal.
func (sm *ShadowMemory) Poison(addr, n uintptr, value ShadowByte) {
	if !value.IsPoison() && value != Untracked {
		panic(fmt.Sprintf("shadowmem: Poison with non-poison value %v", value))
	}
	sm.checkRange(addr, n)
	if addr != GranuleBase(addr) || n != GranuleRound(n) {
		panic(fmt.Sprintf("shadowmem: Poison range [0x%x,0x%x) not granule-aligned", addr, addr+n))
	}
	lo := sm.index(addr)
	hi := lo + n>>GranuleShift
	for i := lo; i < hi; i++ {
		sm.table[i] = value
	}
}

// Unpoison marks exactly n bytes starting at addr as addressable.
//
// addr must be granule-aligned. Whole granules are set to Addressable; a
// final partial granule (n not a multiple of 8) is encoded with its exact
// addressable byte count, so the checker can reject accesses to the granule's
// poisoned tail. A partial count anywhere but the final granule cannot be
// expressed by the encoding; requesting one is fatal.
func (sm *ShadowMemory) Unpoison(addr, n uintptr) {
	if addr != GranuleBase(addr) {
		panic(fmt.Sprintf("shadowmem: Unpoison base 0x%x not granule-aligned", addr))
	}
	if n == 0 {
		return
	}
	sm.checkRange(addr, GranuleRound(n))
	i := sm.index(addr)
	for ; n >= Granule; n -= Granule {
		sm.table[i] = Addressable
		i++
	}
	if n > 0 {
		sm.table[i] = ShadowByte(n) // partial tail: first n bytes addressable
	}
}

// checkRange verifies that [addr, addr+n) lies inside the tracked range.
func (sm *ShadowMemory) checkRange(addr, n uintptr) {
	if addr < sm.base || addr+n > sm.limit || addr+n < addr {
		panic(fmt.Sprintf("shadowmem: range [0x%x,0x%x) outside tracked heap [0x%x,0x%x)",
			addr, addr+n, sm.base, sm.limit))
	}
}
