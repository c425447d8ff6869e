// Package api wires the detector components into a runtime and exposes the
// entry points called by instrumented code.
//
// A Runtime owns one tracked heap: arena, shadow table, chunk registry,
// redzone allocator, checker and reporter. State is explicitly owned rather
// than ambient, so tests and embedders can run any number of independent
// runtimes. A package-level default instance (see api.go) serves the common
// case of one process-wide detector.
//
// # Locking
//
// One RWMutex per runtime. Alloc and Free mutate shadow memory, the
// registry and the arena, and take the write lock. Read and Write checks
// only read shadow bytes and the registry, and take the read lock, so
// concurrent checks never serialize against each other and only briefly
// against mutation. Violations are reported after the lock is released;
// reporting terminates the process, so the lock state no longer matters.
package api

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/kolkov/heapguard/internal/asan/allocator"
	"github.com/kolkov/heapguard/internal/asan/arena"
	"github.com/kolkov/heapguard/internal/asan/chunk"
	"github.com/kolkov/heapguard/internal/asan/config"
	"github.com/kolkov/heapguard/internal/asan/detector"
	"github.com/kolkov/heapguard/internal/asan/shadowmem"
)

// Runtime is one independent detector instance over one tracked heap.
type Runtime struct {
	mu   sync.RWMutex
	opts config.Options

	arena    *arena.Arena
	shadow   *shadowmem.ShadowMemory
	registry *chunk.Registry
	alloc    *allocator.Allocator
	checker  *detector.Checker
	reporter *detector.Reporter
	log      *zap.Logger
}

// RuntimeOption customizes a Runtime at construction.
type RuntimeOption func(*runtimeConfig)

type runtimeConfig struct {
	logger    *zap.Logger
	out       io.Writer
	terminate detector.TerminateFunc
}

// WithLogger sets the runtime logger. Defaults to a no-op logger, or a
// development logger when the Verbose option is set.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(rc *runtimeConfig) { rc.logger = l }
}

// WithOutput redirects the diagnostic text. Defaults to stderr.
func WithOutput(w io.Writer) RuntimeOption {
	return func(rc *runtimeConfig) { rc.out = w }
}

// WithTerminate replaces the termination callback invoked after a fatal
// violation. The default aborts the process. Tests substitute a panic.
func WithTerminate(f detector.TerminateFunc) RuntimeOption {
	return func(rc *runtimeConfig) { rc.terminate = f }
}

// NewRuntime builds a runtime from the given options.
func NewRuntime(opts config.Options, ros ...RuntimeOption) (*Runtime, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	var rc runtimeConfig
	for _, o := range ros {
		o(&rc)
	}
	if rc.logger == nil {
		if opts.Verbose {
			rc.logger, err = zap.NewDevelopment()
			if err != nil {
				return nil, fmt.Errorf("api: building logger: %w", err)
			}
		} else {
			rc.logger = zap.NewNop()
		}
	}

	base := uintptr(opts.HeapBase)
	size := uintptr(opts.HeapSize)

	heap := arena.New(base, size)
	shadow := shadowmem.New(base, size)
	registry := chunk.NewRegistry()

	rt := &Runtime{
		opts:     opts,
		arena:    heap,
		shadow:   shadow,
		registry: registry,
		alloc: allocator.New(heap, shadow, registry, allocator.Config{
			RedzoneMin:      uintptr(opts.RedzoneMin),
			QuarantineBytes: uintptr(opts.QuarantineBytes),
			Logger:          rc.logger,
		}),
		checker:  detector.NewChecker(shadow, registry),
		reporter: detector.NewReporter(rc.out, rc.terminate, rc.logger),
		log:      rc.logger,
	}

	rt.log.Debug("runtime initialized",
		zap.Int64("heap_size", opts.HeapSize),
		zap.Int64("quarantine_bytes", opts.QuarantineBytes))
	return rt, nil
}

// Alloc reserves size bytes with natural (8-byte) alignment and returns the
// user address. The only recoverable failure is an exhausted heap.
func (rt *Runtime) Alloc(size uintptr) (uintptr, error) {
	return rt.AllocAligned(size, 0)
}

// AllocAligned reserves size bytes at the given power-of-two alignment.
func (rt *Runtime) AllocAligned(size, align uintptr) (uintptr, error) {
	rt.mu.Lock()
	c, err := rt.alloc.Allocate(size, align)
	rt.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return c.UserBase, nil
}

// Free deallocates the allocation whose base is addr. An unknown address or
// a double free is fatal: it is reported and the process terminates.
func (rt *Runtime) Free(addr uintptr) {
	rt.mu.Lock()
	c, err := rt.alloc.Deallocate(addr)
	rt.mu.Unlock()
	if err == nil {
		return
	}

	v := &detector.Violation{
		Kind:    detector.InvalidFree,
		Addr:    addr,
		BadAddr: addr,
	}
	// Deallocate hands back the chunk on a double free so the report can
	// show the original allocation and first free sites.
	if c != nil && c.State == chunk.Quarantined {
		v.Chunk = c
	}
	rt.reporter.Report(v)
}

// Read checks a load of size bytes at addr. On violation the process
// terminates through the reporter.
func (rt *Runtime) Read(addr, size uintptr) {
	rt.check(addr, size, detector.AccessRead)
}

// Write checks a store of size bytes at addr. On violation the process
// terminates through the reporter.
func (rt *Runtime) Write(addr, size uintptr) {
	rt.check(addr, size, detector.AccessWrite)
}

func (rt *Runtime) check(addr, size uintptr, kind detector.AccessKind) {
	rt.mu.RLock()
	v := rt.checker.Check(addr, size, kind)
	rt.mu.RUnlock()
	if v != nil {
		rt.reporter.Report(v)
	}
}

// Bytes returns the backing storage for [addr, addr+n) so callers can move
// data in and out of the tracked heap. The view itself is unchecked; callers
// are expected to have issued the corresponding Read/Write check, exactly as
// instrumented code does before a real load or store.
func (rt *Runtime) Bytes(addr, n uintptr) []byte {
	return rt.arena.Bytes(addr, n)
}

// Stats returns a snapshot of the allocator counters.
func (rt *Runtime) Stats() allocator.Stats {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.alloc.Stats()
}

// Options returns the normalized options the runtime was built with.
func (rt *Runtime) Options() config.Options { return rt.opts }

// Fini logs the end-of-run summary. The runtime remains usable; Fini exists
// so hosts can surface the counters at shutdown.
func (rt *Runtime) Fini() {
	st := rt.Stats()
	rt.log.Info("heapguard summary",
		zap.Uint64("allocations", st.Allocs),
		zap.Uint64("frees", st.Frees),
		zap.Uint64("failed_allocations", st.FailedAllocs),
		zap.Uint64("live_chunks", st.LiveChunks),
		zap.Uint64("live_bytes", st.LiveBytes),
		zap.Uint64("quarantine_chunks", st.QuarantineChunks),
		zap.Uint64("quarantine_bytes", st.QuarantineBytes),
		zap.Uint64("quarantine_evictions", st.Evictions))
}
