package detector

import (
	"github.com/kolkov/heapguard/internal/asan/chunk"
	"github.com/kolkov/heapguard/internal/asan/shadowmem"
)

// AccessKind distinguishes reads from writes in violation reports.
type AccessKind int

const (
	// AccessRead indicates a load from tracked memory.
	AccessRead AccessKind = iota
	// AccessWrite indicates a store to tracked memory.
	AccessWrite
)

// String returns the report spelling of the access kind.
func (a AccessKind) String() string {
	switch a {
	case AccessRead:
		return "READ"
	case AccessWrite:
		return "WRITE"
	default:
		return "ACCESS"
	}
}

// ViolationKind classifies a detected violation.
type ViolationKind int

const (
	// OutOfBounds is an access into a redzone or past a partial tail:
	// before or after a live allocation's user region.
	OutOfBounds ViolationKind = iota

	// UseAfterFree is an access into a freed, quarantined allocation.
	// It takes precedence over distance: even a zero-distance hit inside
	// a freed region is use-after-free, not out-of-bounds.
	UseAfterFree

	// WildAccess is an access to memory no allocation has ever owned.
	// No distance can be reported.
	WildAccess

	// InvalidFree is a deallocation of a pointer that is not the base of
	// a live allocation (unknown address or double free).
	InvalidFree

	// BadAccessSize is a contract violation by the checker's own caller,
	// e.g. a zero-length access. This is a bug in the instrumentation,
	// not in the checked program, and is equally fatal.
	BadAccessSize
)

// String returns the report heading for the violation kind.
func (k ViolationKind) String() string {
	switch k {
	case OutOfBounds:
		return "heap-buffer-overflow"
	case UseAfterFree:
		return "heap-use-after-free"
	case WildAccess:
		return "invalid-access"
	case InvalidFree:
		return "invalid-free"
	case BadAccessSize:
		return "invalid-access-size"
	default:
		return "unknown-violation"
	}
}

// Direction locates the bad address relative to a chunk's user region.
type Direction int

const (
	// DirectionNone means no before/after relation applies (wild access,
	// use-after-free, free errors).
	DirectionNone Direction = iota
	// DirectionBefore means the bad address precedes the user region.
	DirectionBefore
	// DirectionAfter means the bad address is at or past the user
	// region's end.
	DirectionAfter
)

// String returns "before" or "after" for report text, empty otherwise.
func (d Direction) String() string {
	switch d {
	case DirectionBefore:
		return "before"
	case DirectionAfter:
		return "after"
	default:
		return ""
	}
}

// Violation describes one detected invalid memory operation. It carries
// everything the reporter needs to format a deterministic diagnostic.
type Violation struct {
	Kind   ViolationKind
	Access AccessKind

	// Addr and Size describe the attempted access as the caller issued it.
	Addr uintptr
	Size uintptr

	// BadAddr is the first inaccessible byte of the access. Distance and
	// direction are computed from it, which makes an in-bounds access that
	// runs past the end report "0 byte(s) after" exactly like the original
	// sanitizer.
	BadAddr uintptr

	// Shadow is the shadow value at BadAddr, for diagnostics.
	Shadow shadowmem.ShadowByte

	// Direction and Distance relate BadAddr to Chunk's user region.
	// Valid only for OutOfBounds.
	Direction Direction
	Distance  uintptr

	// Chunk is the allocation the violation is attributed to: the owner of
	// the redzone hit for OutOfBounds, the quarantined chunk for
	// UseAfterFree, the double-freed chunk for InvalidFree. Nil when no
	// allocation is involved.
	Chunk *chunk.Chunk
}

// Checker decides addressable vs. poisoned for every instrumented access.
//
// It only reads shadow memory and the registry; all mutation happens in the
// allocator. The runtime calls Check under its read lock.
type Checker struct {
	shadow   *shadowmem.ShadowMemory
	registry *chunk.Registry
}

// NewChecker creates a checker over the given shadow table and registry.
func NewChecker(shadow *shadowmem.ShadowMemory, reg *chunk.Registry) *Checker {
	return &Checker{shadow: shadow, registry: reg}
}

// Check validates an access of size bytes starting at addr. It returns nil
// when every byte is addressable, or a populated Violation otherwise. This
// is the hot path: the common single-granule access costs one shadow load
// and one comparison.
func (c *Checker) Check(addr, size uintptr, access AccessKind) *Violation {
	if size == 0 || addr+size < addr {
		return &Violation{Kind: BadAccessSize, Access: access, Addr: addr, Size: size, BadAddr: addr}
	}

	bad, sb, ok := c.firstInaccessible(addr, size)
	if !ok {
		return nil
	}
	return c.classify(addr, size, bad, sb, access)
}

// firstInaccessible walks the granules covered by [addr, addr+size) and
// returns the first byte the shadow encoding forbids, along with the shadow
// value that forbade it.
//
// For each granule the addressable prefix is sb.AddressableBytes() long:
// a fully addressable granule passes outright, a poisoned granule fails at
// the first covered byte, and a partial tail fails at its encoded cutoff
// when the access reaches past it.
func (c *Checker) firstInaccessible(addr, size uintptr) (uintptr, shadowmem.ShadowByte, bool) {
	end := addr + size
	for g := shadowmem.GranuleBase(addr); g < end; g += shadowmem.Granule {
		sb := c.shadow.Load(g)

		lo := g
		if addr > lo {
			lo = addr
		}
		hi := g + shadowmem.Granule
		if end < hi {
			hi = end
		}

		cutoff := g + sb.AddressableBytes()
		if hi <= cutoff {
			continue
		}
		bad := lo
		if cutoff > lo {
			bad = cutoff
		}
		return bad, sb, true
	}
	return 0, 0, false
}

// classify turns a bad address into a Violation, consulting the registry for
// the owning chunk.
func (c *Checker) classify(addr, size, bad uintptr, sb shadowmem.ShadowByte, access AccessKind) *Violation {
	v := &Violation{
		Access:  access,
		Addr:    addr,
		Size:    size,
		BadAddr: bad,
		Shadow:  sb,
	}

	// Freed poison wins over any distance computation: the access landed in
	// a quarantined chunk.
	if sb == shadowmem.FreedPoison {
		v.Kind = UseAfterFree
		v.Chunk = c.registry.FindByAddress(bad)
		return v
	}

	owner := c.registry.FindByAddress(bad)
	if owner == nil {
		v.Kind = WildAccess
		return v
	}

	v.Kind = OutOfBounds
	v.Chunk = owner
	switch {
	case bad < owner.UserBase:
		v.Direction = DirectionBefore
		v.Distance = owner.UserBase - bad
	case bad >= owner.UserEnd():
		v.Direction = DirectionAfter
		v.Distance = bad - owner.UserEnd()
	}
	return v
}
