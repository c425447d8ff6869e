// Package allocator implements the redzone allocator: the layer that turns a
// raw memory source into guarded heap allocations.
//
// Every user request is padded into a raw block of the form
//
//	[ left redzone | user region | right redzone ]
//
// The redzones are poisoned in shadow memory, the user region is unpoisoned
// to its exact byte count, and a chunk record is registered so the reporter
// can later translate a bad address into "N byte(s) before/after" a specific
// allocation.
//
// Freed chunks are not returned to the raw source immediately. They move to
// a byte-bounded FIFO quarantine with their whole block poisoned as freed
// memory, so stale pointers surface as use-after-free rather than landing in
// recycled storage. When the quarantine exceeds its cap, the oldest chunks
// are released back to the source and their shadow granules revert to
// untracked.
package allocator

import (
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/kolkov/heapguard/internal/asan/arena"
	"github.com/kolkov/heapguard/internal/asan/chunk"
	"github.com/kolkov/heapguard/internal/asan/shadowmem"
)

// ErrInvalidFree is returned by Deallocate for a pointer that is not the
// base of a live allocation: never allocated, an interior pointer, or an
// already-freed chunk (double free). The runtime treats it as fatal and
// routes it through the reporter.
var ErrInvalidFree = errors.New("heapguard: invalid free")

// ErrBadAlignment is returned by Allocate for an alignment that is not a
// power of two or exceeds MaxAlign.
var ErrBadAlignment = errors.New("heapguard: bad alignment")

// MaxAlign is the largest supported allocation alignment.
const MaxAlign = 4096

// maxCallers bounds the call-site program counters captured per chunk.
const maxCallers = 16

// Config carries the allocator tunables.
type Config struct {
	// RedzoneMin is the minimum guard size on each side of an allocation.
	// Values below 16 are raised to 16; the result is rounded to a granule
	// multiple so redzone edges stay granule-aligned.
	RedzoneMin uintptr

	// QuarantineBytes bounds the total raw bytes of freed chunks held
	// back from the source. Zero releases freed chunks immediately.
	QuarantineBytes uintptr

	// Logger receives debug-level allocation traces. Nil means no-op.
	Logger *zap.Logger
}

// Stats are the allocator's monotonic counters and live gauges. A copy is
// returned by Stats(); readers synchronize through the runtime lock.
type Stats struct {
	Allocs           uint64
	Frees            uint64
	FailedAllocs     uint64
	Evictions        uint64
	LiveChunks       uint64
	LiveBytes        uint64 // user bytes in Allocated chunks
	QuarantineChunks uint64
	QuarantineBytes  uint64 // raw bytes held in quarantine
}

// Allocator owns the redzone placement policy and the quarantine. It mutates
// shadow memory and the chunk registry; the caller (the runtime) serializes
// those mutations under its write lock.
type Allocator struct {
	source   arena.Source
	shadow   *shadowmem.ShadowMemory
	registry *chunk.Registry
	log      *zap.Logger

	redzoneMin    uintptr
	quarantineCap uintptr
	quarantine    []*chunk.Chunk // FIFO, oldest first
	stats         Stats
}

// New creates an allocator over the given source, shadow table and registry.
func New(src arena.Source, shadow *shadowmem.ShadowMemory, reg *chunk.Registry, cfg Config) *Allocator {
	rz := cfg.RedzoneMin
	if rz < 16 {
		rz = 16
	}
	rz = shadowmem.GranuleRound(rz)
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Allocator{
		source:        src,
		shadow:        shadow,
		registry:      reg,
		log:           log,
		redzoneMin:    rz,
		quarantineCap: cfg.QuarantineBytes,
	}
}

// Allocate reserves a guarded block for size bytes with the requested
// alignment (0 means natural, 8 bytes) and returns its chunk record.
//
// Layout decisions:
//
//   - the left redzone is at least redzoneMin bytes and grows as needed so
//     the user base satisfies the alignment
//   - the right redzone pads the user region to a granule boundary plus at
//     least redzoneMin bytes, so it is never empty even for granule-aligned
//     sizes
//   - size 0 is legal: the result is a distinct pointer whose every access
//     is out of bounds
//
// The only recoverable failure is arena.ErrOutOfMemory from the source.
func (a *Allocator) Allocate(size, align uintptr) (*chunk.Chunk, error) {
	if align == 0 {
		align = shadowmem.Granule
	}
	if align&(align-1) != 0 || align > MaxAlign {
		return nil, fmt.Errorf("%w: %d", ErrBadAlignment, align)
	}
	if align < shadowmem.Granule {
		// The user base must be granule-aligned for the shadow encoding;
		// any smaller alignment is implied.
		align = shadowmem.Granule
	}

	// Over-reserve by the alignment so the user base can always be shifted
	// onto an alignment boundary inside the block.
	total := a.redzoneMin + shadowmem.GranuleRound(size) + a.redzoneMin + align
	raw, err := a.source.Reserve(total)
	if err != nil {
		a.stats.FailedAllocs++
		return nil, err
	}

	userBase := alignUp(raw+a.redzoneMin, align)
	userEnd := userBase + size
	rawEnd := raw + total

	// Shadow: poison the redzones, unpoison exactly the user region.
	a.shadow.Poison(raw, userBase-raw, shadowmem.RedzonePoison)
	a.shadow.Unpoison(userBase, size)
	rightStart := shadowmem.GranuleRound(userEnd)
	a.shadow.Poison(rightStart, rawEnd-rightStart, shadowmem.RedzonePoison)

	c := &chunk.Chunk{
		UserBase:  userBase,
		UserSize:  size,
		RawBase:   raw,
		TotalSize: total,
		State:     chunk.Allocated,
		AllocPCs:  captureCallers(),
	}
	a.registry.Insert(c)

	a.stats.Allocs++
	a.stats.LiveChunks++
	a.stats.LiveBytes += uint64(size)

	a.log.Debug("allocated chunk",
		zap.Uintptr("user_base", userBase),
		zap.Uint64("user_size", uint64(size)),
		zap.Uint64("left_redzone", uint64(c.LeftRedzone())),
		zap.Uint64("right_redzone", uint64(c.RightRedzone())))

	return c, nil
}

// Deallocate frees the allocation whose user base is addr.
//
// The chunk's entire raw block, user region included, is poisoned with the
// freed value and the chunk moves to the quarantine. Eviction runs
// synchronously: while the quarantine exceeds its byte cap, the oldest
// chunks are unregistered, their shadow reverts to untracked, and their raw
// blocks go back to the source. With a zero cap this collapses to immediate
// release.
//
// Returns ErrInvalidFree (wrapped with detail) for an unknown pointer or a
// double free; the registry is unchanged in that case.
func (a *Allocator) Deallocate(addr uintptr) (*chunk.Chunk, error) {
	c := a.registry.Lookup(addr)
	if c == nil {
		return nil, fmt.Errorf("%w: 0x%x is not an allocated address", ErrInvalidFree, addr)
	}
	if c.State == chunk.Quarantined {
		return c, fmt.Errorf("%w: double free of 0x%x", ErrInvalidFree, addr)
	}

	a.shadow.Poison(c.RawBase, c.TotalSize, shadowmem.FreedPoison)
	c.State = chunk.Quarantined
	c.FreePCs = captureCallers()

	a.stats.Frees++
	a.stats.LiveChunks--
	a.stats.LiveBytes -= uint64(c.UserSize)
	a.stats.QuarantineChunks++
	a.stats.QuarantineBytes += uint64(c.TotalSize)
	a.quarantine = append(a.quarantine, c)

	a.log.Debug("quarantined chunk",
		zap.Uintptr("user_base", c.UserBase),
		zap.Uint64("user_size", uint64(c.UserSize)))

	a.evict()
	return c, nil
}

// evict releases quarantined chunks oldest-first until the quarantine fits
// its byte cap again.
func (a *Allocator) evict() {
	for uintptr(a.stats.QuarantineBytes) > a.quarantineCap && len(a.quarantine) > 0 {
		c := a.quarantine[0]
		a.quarantine[0] = nil
		a.quarantine = a.quarantine[1:]

		a.shadow.Poison(c.RawBase, c.TotalSize, shadowmem.Untracked)
		a.registry.Remove(c.UserBase)
		a.source.Release(c.RawBase, c.TotalSize)

		a.stats.QuarantineChunks--
		a.stats.QuarantineBytes -= uint64(c.TotalSize)
		a.stats.Evictions++

		a.log.Debug("evicted chunk from quarantine",
			zap.Uintptr("user_base", c.UserBase))
	}
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats { return a.stats }

// captureCallers records the allocation/deallocation call site for
// diagnostics. Resolution to frames happens lazily in the reporter, off the
// allocation path.
func captureCallers() []uintptr {
	pcs := make([]uintptr, maxCallers)
	// Skip runtime.Callers, captureCallers and the Allocate/Deallocate
	// frame itself.
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}

func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
