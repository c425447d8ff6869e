// Package arena provides the raw memory source underneath the redzone
// allocator.
//
// The detector tracks a virtual heap: one contiguous range of addresses
// backed by a single []byte block, starting at a fixed base. Working over an
// owned block rather than real process pointers keeps the shadow transform a
// pure scale-and-offset computation and lets tests run any number of
// independent heaps side by side.
package arena

import (
	"errors"
	"fmt"
	"sort"
)

// ErrOutOfMemory is returned by Reserve when no free block can satisfy the
// request. It is the only recoverable failure in the detector: everything
// else terminates through the reporter.
var ErrOutOfMemory = errors.New("heapguard: out of memory")

// BlockAlign is the alignment of every address handed out by Reserve.
// 16 bytes covers all natural alignments and keeps granule math trivial.
const BlockAlign = 16

// Source is the raw memory contract consumed by the redzone allocator.
// The default implementation is Arena; embedding hosts may substitute their
// own region provided the shadow table can address it.
type Source interface {
	// Reserve obtains n bytes and returns their base address, or
	// ErrOutOfMemory if the source is exhausted.
	Reserve(n uintptr) (uintptr, error)

	// Release returns a block previously obtained from Reserve.
	Release(addr, n uintptr)
}

// span is one free block, [addr, addr+size).
type span struct {
	addr uintptr
	size uintptr
}

// Arena is a first-fit free-list allocator over one contiguous block.
//
// Free spans are kept sorted by address and coalesced on release, so memory
// evicted from quarantine becomes genuinely reusable by later reservations.
// Throughput and fragmentation are non-goals; the arena only has to be
// correct and deterministic.
type Arena struct {
	base uintptr
	data []byte
	free []span
}

var _ Source = (*Arena)(nil)

// New creates an arena of the given size whose addresses start at base.
//
// base must be BlockAlign-aligned and non-zero (address zero must never be
// a valid heap pointer); size is rounded up to BlockAlign.
func New(base, size uintptr) *Arena {
	if base == 0 || base%BlockAlign != 0 {
		panic(fmt.Sprintf("arena: bad base address 0x%x", base))
	}
	size = alignUp(size, BlockAlign)
	return &Arena{
		base: base,
		data: make([]byte, size),
		free: []span{{addr: base, size: size}},
	}
}

// Base returns the lowest address of the arena.
func (a *Arena) Base() uintptr { return a.base }

// Size returns the total arena capacity in bytes.
func (a *Arena) Size() uintptr { return uintptr(len(a.data)) }

// Limit returns the first address past the arena.
func (a *Arena) Limit() uintptr { return a.base + a.Size() }

// Reserve obtains n bytes from the first free span large enough to hold
// them. The returned address is BlockAlign-aligned.
func (a *Arena) Reserve(n uintptr) (uintptr, error) {
	if n == 0 {
		n = BlockAlign
	}
	n = alignUp(n, BlockAlign)
	for i := range a.free {
		s := &a.free[i]
		if s.size < n {
			continue
		}
		addr := s.addr
		s.addr += n
		s.size -= n
		if s.size == 0 {
			a.free = append(a.free[:i], a.free[i+1:]...)
		}
		return addr, nil
	}
	return 0, fmt.Errorf("%w: need %d bytes", ErrOutOfMemory, n)
}

// Release returns [addr, addr+n) to the free list, coalescing with adjacent
// free spans. Releasing a range the arena does not own is a core bug.
func (a *Arena) Release(addr, n uintptr) {
	if n == 0 {
		n = BlockAlign
	}
	n = alignUp(n, BlockAlign)
	if addr < a.base || addr+n > a.Limit() || addr%BlockAlign != 0 {
		panic(fmt.Sprintf("arena: release of unowned range [0x%x,0x%x)", addr, addr+n))
	}

	i := sort.Search(len(a.free), func(i int) bool {
		return a.free[i].addr >= addr
	})

	// Guard against double release and overlap with live free spans.
	if i < len(a.free) && addr+n > a.free[i].addr {
		panic(fmt.Sprintf("arena: double release at 0x%x", addr))
	}
	if i > 0 && a.free[i-1].addr+a.free[i-1].size > addr {
		panic(fmt.Sprintf("arena: double release at 0x%x", addr))
	}

	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = span{addr: addr, size: n}

	// Coalesce with successor, then predecessor.
	if i+1 < len(a.free) && a.free[i].addr+a.free[i].size == a.free[i+1].addr {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].addr+a.free[i-1].size == a.free[i].addr {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// Bytes returns the backing storage for [addr, addr+n) so callers can
// actually read and write tracked memory. The view is unchecked: bounds
// enforcement against redzones is the access checker's job, not the
// arena's.
func (a *Arena) Bytes(addr, n uintptr) []byte {
	if addr < a.base || addr+n > a.Limit() {
		panic(fmt.Sprintf("arena: Bytes range [0x%x,0x%x) outside arena", addr, addr+n))
	}
	off := addr - a.base
	return a.data[off : off+n : off+n]
}

// FreeBytes reports the total bytes currently on the free list.
func (a *Arena) FreeBytes() uintptr {
	var total uintptr
	for _, s := range a.free {
		total += s.size
	}
	return total
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
