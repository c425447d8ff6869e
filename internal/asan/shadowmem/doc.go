// Package shadowmem implements the byte-granular shadow memory table for
// heap out-of-bounds detection.
//
// Shadow memory is the foundation of the detector. Every 8-byte granule of
// tracked heap address space maps to exactly one shadow byte that records how
// much of the granule is addressable:
//
//	0x00       all 8 bytes addressable
//	0x01..0x07 only the first N bytes addressable (partial tail of a region)
//	0xFA       redzone poison (guard bytes around an allocation)
//	0xFD       freed poison (quarantined allocation)
//	0xFE       untracked (never owned by any allocation)
//
// This is the classic AddressSanitizer encoding. The access checker reads one
// shadow byte per covered granule and compares it against the bytes the
// access actually touches; any poison value, or a partial-tail count smaller
// than required, is a violation.
//
// # Addressing
//
// The mapping from a heap address to its shadow byte is a fixed
// scale-and-offset transform:
//
//	index = (addr - heapBase) >> 3
//
// There is no search structure. The table is a single flat []byte allocated
// up front, so a shadow lookup is one subtraction, one shift and one indexed
// load. This matters because Load sits on the hot path of every checked
// memory access.
//
// # Thread Safety
//
// ShadowMemory performs no internal locking. Poison and Unpoison are called
// only by the allocator under the runtime's write lock; Load is called by the
// checker under the runtime's read lock. See the runtime package for the
// locking discipline.
package shadowmem
