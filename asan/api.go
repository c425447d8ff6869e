package asan

import (
	"github.com/kolkov/heapguard/internal/asan/allocator"
	internal "github.com/kolkov/heapguard/internal/asan/api"
)

// Stats is a snapshot of the runtime's allocation counters.
type Stats = allocator.Stats

// Init initializes the default detector runtime from HEAPGUARD_*
// environment variables.
//
// It must be called before any other detector operation. Init is safe to
// call multiple times; subsequent calls are no-ops.
//
//	func main() {
//		if err := asan.Init(); err != nil {
//			panic(err)
//		}
//		defer asan.Fini()
//		// ... rest of program
//	}
func Init() error {
	return internal.Init()
}

// Fini logs the end-of-run summary and disables the detector. After Fini,
// Read and Write become no-ops and Alloc fails.
func Fini() {
	internal.Fini()
}

// Enabled reports whether the default runtime is active.
func Enabled() bool {
	return internal.Enabled()
}

// Alloc reserves size bytes of guarded heap memory and returns the user
// address. The allocation is surrounded by poisoned redzones; accessing one
// byte outside [addr, addr+size) terminates the process with a diagnostic.
//
// The only failure is an exhausted heap, returned as an error.
func Alloc(size uintptr) (uintptr, error) {
	return internal.Alloc(size)
}

// AllocAligned is Alloc with an explicit power-of-two alignment for the
// returned address. Alignment 0 means natural (8-byte) alignment.
func AllocAligned(size, align uintptr) (uintptr, error) {
	return internal.AllocAligned(size, align)
}

// Free deallocates an allocation previously returned by Alloc.
//
// The freed block is poisoned and quarantined, so stale accesses are
// reported as use-after-free until the quarantine evicts it. Freeing an
// address that is not a live allocation base (never allocated, interior,
// or already freed) is fatal.
func Free(addr uintptr) {
	internal.Free(addr)
}

// Read checks a load of size bytes at addr.
//
// This is the access-check primitive: instrumentation inserts it before
// every load of tracked memory. If any covered byte is poisoned the process
// terminates with a diagnostic naming the exact distance and direction from
// the nearest allocation.
//
//	asan.Read(p, 8)
//	v := binary.LittleEndian.Uint64(asan.Bytes(p, 8))
func Read(addr, size uintptr) {
	internal.Read(addr, size)
}

// Write checks a store of size bytes at addr.
//
// Instrumentation inserts it before every store of tracked memory; see
// Read for the contract.
//
//	asan.Write(p, 1)
//	asan.Bytes(p, 1)[0] = 42
func Write(addr, size uintptr) {
	internal.Write(addr, size)
}

// Bytes returns the backing storage for [addr, addr+n) of the tracked heap.
//
// The view is deliberately unchecked: it is the loophole through which the
// checked program actually moves data, after the corresponding Read or
// Write check has passed.
func Bytes(addr, n uintptr) []byte {
	return internal.Bytes(addr, n)
}

// GetStats returns a snapshot of the default runtime's counters, or the zero
// value when the detector is not initialized.
func GetStats() Stats {
	return internal.Stats()
}
