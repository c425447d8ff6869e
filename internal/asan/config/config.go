// Package config loads detector options from the environment.
//
// Options follow the ASAN_OPTIONS tradition of env-tunable sanitizer knobs,
// but each knob is its own HEAPGUARD_* variable:
//
//	HEAPGUARD_HEAP_SIZE=67108864
//	HEAPGUARD_REDZONE_MIN=32
//	HEAPGUARD_QUARANTINE_BYTES=1048576
//	HEAPGUARD_VERBOSE=true
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variable names before they are
// mapped onto Options fields.
const envPrefix = "HEAPGUARD_"

// Defaults.
const (
	// DefaultHeapSize is the tracked heap capacity: 64 MiB.
	DefaultHeapSize = 64 << 20

	// DefaultHeapBase is the virtual address where the tracked heap
	// starts. Non-zero so that address 0 is never a valid pointer.
	DefaultHeapBase = 0x10000

	// DefaultRedzoneMin is the minimum guard size on each side of an
	// allocation.
	DefaultRedzoneMin = 16

	// DefaultQuarantineBytes bounds the total raw bytes held in the
	// free quarantine before the oldest chunks are released for reuse.
	DefaultQuarantineBytes = 1 << 20
)

// Options are the runtime tunables. Zero values are replaced by defaults in
// Normalize, so a partially populated struct is always usable.
type Options struct {
	// HeapSize is the capacity of the tracked heap in bytes.
	HeapSize int64 `koanf:"heap_size"`

	// HeapBase is the virtual base address of the tracked heap.
	HeapBase int64 `koanf:"heap_base"`

	// RedzoneMin is the minimum redzone size in bytes on each side of an
	// allocation. Rounded up to a granule multiple.
	RedzoneMin int `koanf:"redzone_min"`

	// QuarantineBytes bounds the total bytes of freed chunks held back
	// from reuse. Zero disables quarantine: freed chunks are released
	// immediately (use-after-free detection degrades accordingly).
	QuarantineBytes int64 `koanf:"quarantine_bytes"`

	// Verbose enables debug-level allocation logging.
	Verbose bool `koanf:"verbose"`
}

// Default returns the options used when the environment sets nothing.
func Default() Options {
	return Options{
		HeapSize:        DefaultHeapSize,
		HeapBase:        DefaultHeapBase,
		RedzoneMin:      DefaultRedzoneMin,
		QuarantineBytes: DefaultQuarantineBytes,
	}
}

// FromEnv loads options from HEAPGUARD_* environment variables, falling
// back to defaults for anything unset.
func FromEnv() (Options, error) {
	k := koanf.New(".")

	// HEAPGUARD_QUARANTINE_BYTES -> quarantine_bytes
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return Options{}, fmt.Errorf("config: loading environment: %w", err)
	}

	opts := Default()
	if err := k.Unmarshal("", &opts); err != nil {
		return Options{}, fmt.Errorf("config: unmarshaling options: %w", err)
	}
	return opts.Normalize()
}

// Normalize fills zero values with defaults and rejects nonsensical
// settings.
func (o Options) Normalize() (Options, error) {
	if o.HeapSize == 0 {
		o.HeapSize = DefaultHeapSize
	}
	if o.HeapBase == 0 {
		o.HeapBase = DefaultHeapBase
	}
	if o.RedzoneMin == 0 {
		o.RedzoneMin = DefaultRedzoneMin
	}
	if o.HeapSize < 0 {
		return o, fmt.Errorf("config: heap_size must be positive, got %d", o.HeapSize)
	}
	if o.HeapBase < 0 || o.HeapBase%16 != 0 {
		return o, fmt.Errorf("config: heap_base must be positive and 16-byte aligned, got %d", o.HeapBase)
	}
	if o.RedzoneMin < 0 {
		return o, fmt.Errorf("config: redzone_min must be positive, got %d", o.RedzoneMin)
	}
	if o.QuarantineBytes < 0 {
		return o, fmt.Errorf("config: quarantine_bytes must not be negative, got %d", o.QuarantineBytes)
	}
	return o, nil
}
