package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// The default-instance tests share package-global state, so they reset it
// around every test.
func resetDefault(t *testing.T) {
	t.Helper()
	Fini()
	t.Cleanup(Fini)
}

func TestInitIsIdempotent(t *testing.T) {
	resetDefault(t)
	t.Setenv("HEAPGUARD_HEAP_SIZE", "1048576")

	require.NoError(t, Init())
	rt := Default()
	require.NotNil(t, rt)
	require.True(t, Enabled())

	require.NoError(t, Init())
	require.Same(t, rt, Default(), "second Init is a no-op")
}

func TestHooksAreNoOpsWhenDisabled(t *testing.T) {
	resetDefault(t)

	// Before Init, checks silently pass and allocation fails cleanly.
	Read(0x1234, 8)
	Write(0x1234, 8)
	Free(0x1234)

	_, err := Alloc(16)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.False(t, Enabled())
	require.Zero(t, Stats().Allocs)
	require.Nil(t, Bytes(0x1234, 1))
}

func TestDefaultInstanceAllocFlow(t *testing.T) {
	resetDefault(t)
	t.Setenv("HEAPGUARD_HEAP_SIZE", "1048576")
	require.NoError(t, Init())

	base, err := Alloc(32)
	require.NoError(t, err)

	Write(base, 32)
	copy(Bytes(base, 5), "hello")
	Read(base, 5)
	require.Equal(t, "hello", string(Bytes(base, 5)))

	Free(base)
	require.Equal(t, uint64(1), Stats().Frees)
}

func TestAllocAlignedDefault(t *testing.T) {
	resetDefault(t)
	t.Setenv("HEAPGUARD_HEAP_SIZE", "1048576")
	require.NoError(t, Init())

	base, err := AllocAligned(100, 256)
	require.NoError(t, err)
	require.Equal(t, uintptr(0), base%256)
}

func TestFiniDisablesHooks(t *testing.T) {
	resetDefault(t)
	t.Setenv("HEAPGUARD_HEAP_SIZE", "1048576")
	require.NoError(t, Init())

	base, err := Alloc(8)
	require.NoError(t, err)
	Write(base, 8)

	Fini()
	require.False(t, Enabled())

	// A stale pointer after Fini is ignored, not reported.
	Write(base, 8)
	Free(base)
}
