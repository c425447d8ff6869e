// Package asan provides a Pure-Go heap out-of-bounds detector without CGO
// dependency.
//
// The package wraps dynamic allocation with guard regions ("redzones") and a
// byte-granularity side table ("shadow memory"), so that invalid reads and
// writes adjacent to a heap allocation are caught deterministically and
// reported with the exact offending offset and direction. The design follows
// AddressSanitizer's heap runtime: left and right redzones around every
// allocation, one shadow byte per 8-byte granule, and a freed-memory
// quarantine for use-after-free detection.
//
// # Quick Start
//
//	package main
//
//	import "github.com/kolkov/heapguard/asan"
//
//	func main() {
//		if err := asan.Init(); err != nil {
//			panic(err)
//		}
//		defer asan.Fini()
//
//		p, err := asan.Alloc(10)
//		if err != nil {
//			panic(err)
//		}
//
//		asan.Write(p+3, 1) // check before the store
//		asan.Bytes(p+3, 1)[0] = 42
//
//		asan.Write(p+10, 1) // one past the end: terminates with
//		                    // "... is located 0 byte(s) after 10-byte region ..."
//	}
//
// # The Instrumentation Contract
//
// Before any load or store of size bytes at addr, the caller must invoke
// [Read] or [Write]. The detector assumes this is exhaustive: an access that
// bypasses the call is undetectable. Inserting these calls is the job of an
// external instrumentation pass; this package only implements the check
// primitive and the allocation runtime behind it.
//
// # Failure Semantics
//
// Allocation is the only operation with a recoverable failure: [Alloc]
// returns an error when the tracked heap is exhausted. Everything else is
// terminal. A poisoned access, an invalid or double free, or a zero-length
// check formats a diagnostic and invokes the termination callback, which by
// default aborts the process. The diagnostic always contains
//
//	is located <N> byte(s) before|after
//
// with the exact byte distance; external tooling parses this phrasing.
//
// # Configuration
//
// The default runtime reads HEAPGUARD_* environment variables at Init:
//
//	HEAPGUARD_HEAP_SIZE         tracked heap capacity (default 64 MiB)
//	HEAPGUARD_REDZONE_MIN       minimum guard bytes per side (default 16)
//	HEAPGUARD_QUARANTINE_BYTES  freed-memory quarantine cap (default 1 MiB)
//	HEAPGUARD_VERBOSE           debug-level allocation logging
//
// Multiple independent runtimes (for tests or embedded use) are available
// through the internal runtime type; this package exposes only the default
// process-wide instance.
package asan
