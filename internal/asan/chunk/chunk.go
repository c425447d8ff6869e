// Package chunk defines the metadata record for one heap allocation and the
// registry that maps addresses to records.
//
// The registry is the authoritative owner of chunk state. Shadow memory is a
// derived cache: distance and direction for a violation are always computed
// here, never reconstructed from shadow bytes. Records are owned by value
// inside the registry; shadow memory holds no back-references.
package chunk

// State is the lifecycle state of a chunk.
type State uint8

const (
	// Allocated means the user region is live and addressable.
	Allocated State = iota

	// Quarantined means the chunk has been freed: its whole raw block is
	// poisoned and held back from the raw source so that stale accesses
	// surface as use-after-free instead of silently landing in reused
	// memory.
	Quarantined
)

// String returns the state name for diagnostics.
func (s State) String() string {
	switch s {
	case Allocated:
		return "allocated"
	case Quarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// Chunk describes one allocation: the raw block reserved from the memory
// source, split into left redzone + user region + right redzone.
//
// Identity is UserBase, the pointer handed to the caller. Call-site program
// counters are captured for diagnostics only; they never influence checking.
type Chunk struct {
	// UserBase is the address returned to the caller.
	UserBase uintptr

	// UserSize is the byte count the caller requested. May be zero.
	UserSize uintptr

	// RawBase is the start of the block reserved from the raw source.
	// RawBase <= UserBase; the gap is the left redzone.
	RawBase uintptr

	// TotalSize is the full reserved block: left redzone + user region +
	// right redzone, granule-aligned.
	TotalSize uintptr

	// State is Allocated or Quarantined.
	State State

	// AllocPCs and FreePCs are call-site program counters captured at
	// allocation and deallocation time, resolved lazily when a report is
	// formatted.
	AllocPCs []uintptr
	FreePCs  []uintptr
}

// UserEnd returns the first address past the user region.
func (c *Chunk) UserEnd() uintptr { return c.UserBase + c.UserSize }

// RawEnd returns the first address past the reserved block.
func (c *Chunk) RawEnd() uintptr { return c.RawBase + c.TotalSize }

// LeftRedzone returns the size of the guard region before the user region.
func (c *Chunk) LeftRedzone() uintptr { return c.UserBase - c.RawBase }

// RightRedzone returns the size of the guard region after the user region.
func (c *Chunk) RightRedzone() uintptr { return c.RawEnd() - c.UserEnd() }

// Contains reports whether addr falls anywhere inside the reserved block,
// redzones included.
func (c *Chunk) Contains(addr uintptr) bool {
	return addr >= c.RawBase && addr < c.RawEnd()
}
