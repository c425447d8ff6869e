package api

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kolkov/heapguard/internal/asan/allocator"
	"github.com/kolkov/heapguard/internal/asan/config"
)

// ErrNotInitialized is returned by allocation entry points called before
// Init (or after Fini).
var ErrNotInitialized = errors.New("heapguard: runtime not initialized")

// Package-level default runtime, serving the instrumentation contract: one
// detector per process, initialized once before any checked allocation or
// access. The public asan package wraps these functions.
var (
	mu      sync.Mutex
	def     *Runtime
	enabled atomic.Bool
)

// Init creates the default runtime from HEAPGUARD_* environment variables.
// It is idempotent: subsequent calls are no-ops.
func Init(ros ...RuntimeOption) error {
	mu.Lock()
	defer mu.Unlock()
	if def != nil {
		return nil
	}

	opts, err := config.FromEnv()
	if err != nil {
		return err
	}
	rt, err := NewRuntime(opts, ros...)
	if err != nil {
		return err
	}
	def = rt
	enabled.Store(true)
	return nil
}

// Fini prints the default runtime's summary and disables the hooks.
// Subsequent Read/Write calls become no-ops, matching the contract that an
// uninitialized detector checks nothing.
func Fini() {
	mu.Lock()
	defer mu.Unlock()
	if def == nil {
		return
	}
	def.Fini()
	enabled.Store(false)
	def = nil
}

// Enabled reports whether the default runtime is active.
func Enabled() bool { return enabled.Load() }

// Default returns the default runtime, or nil before Init / after Fini.
func Default() *Runtime {
	mu.Lock()
	defer mu.Unlock()
	return def
}

// Alloc reserves size bytes from the default runtime.
func Alloc(size uintptr) (uintptr, error) {
	rt := Default()
	if rt == nil {
		return 0, ErrNotInitialized
	}
	return rt.Alloc(size)
}

// AllocAligned reserves size bytes at the given alignment from the default
// runtime.
func AllocAligned(size, align uintptr) (uintptr, error) {
	rt := Default()
	if rt == nil {
		return 0, ErrNotInitialized
	}
	return rt.AllocAligned(size, align)
}

// Free deallocates addr in the default runtime. Fatal on invalid free.
func Free(addr uintptr) {
	if rt := Default(); rt != nil {
		rt.Free(addr)
	}
}

// Read checks a load against the default runtime. No-op when disabled;
// instrumentation may run before Init or after Fini.
func Read(addr, size uintptr) {
	if !enabled.Load() {
		return
	}
	if rt := Default(); rt != nil {
		rt.Read(addr, size)
	}
}

// Write checks a store against the default runtime. No-op when disabled.
func Write(addr, size uintptr) {
	if !enabled.Load() {
		return
	}
	if rt := Default(); rt != nil {
		rt.Write(addr, size)
	}
}

// Bytes returns backing storage for tracked memory in the default runtime.
func Bytes(addr, n uintptr) []byte {
	rt := Default()
	if rt == nil {
		return nil
	}
	return rt.Bytes(addr, n)
}

// Stats snapshots the default runtime's counters.
func Stats() allocator.Stats {
	rt := Default()
	if rt == nil {
		return allocator.Stats{}
	}
	return rt.Stats()
}
