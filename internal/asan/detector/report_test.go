package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kolkov/heapguard/internal/asan/allocator"
)

// TestFormatAfterContainsContractSubstring verifies the log-scraper
// compatibility contract for right overflows.
func TestFormatAfterContainsContractSubstring(t *testing.T) {
	f := newFixture(t)
	c, err := f.alloc.Allocate(10, 0)
	require.NoError(t, err)

	v := f.checker.Check(c.UserBase+15, 1, AccessWrite)
	require.NotNil(t, v)

	text := Format(v)
	require.Contains(t, text, "is located 5 byte(s) after")
	require.Contains(t, text, "heap-buffer-overflow")
	require.Contains(t, text, "WRITE of size 1")
	require.Contains(t, text, "10-byte region")
	require.Contains(t, text, "allocated at:")
	require.Contains(t, text, "==heapguard== ABORTING")
}

// TestFormatBeforeContainsContractSubstring verifies the contract for left
// underflows.
func TestFormatBeforeContainsContractSubstring(t *testing.T) {
	f := newFixture(t)
	c, err := f.alloc.Allocate(10, 0)
	require.NoError(t, err)

	v := f.checker.Check(c.UserBase-1, 1, AccessRead)
	require.NotNil(t, v)

	text := Format(v)
	require.Contains(t, text, "is located 1 byte(s) before")
	require.Contains(t, text, "READ of size 1")
}

func TestFormatUseAfterFree(t *testing.T) {
	f := newFixture(t)
	c, err := f.alloc.Allocate(32, 0)
	require.NoError(t, err)
	_, err = f.alloc.Deallocate(c.UserBase)
	require.NoError(t, err)

	v := f.checker.Check(c.UserBase+3, 4, AccessRead)
	require.NotNil(t, v)

	text := Format(v)
	require.Contains(t, text, "heap-use-after-free")
	require.Contains(t, text, "is located 3 byte(s) inside of 32-byte region")
	require.Contains(t, text, "freed at:")
	require.Contains(t, text, "previously allocated at:")
	require.NotContains(t, text, "byte(s) after")
}

func TestFormatWildAccess(t *testing.T) {
	v := &Violation{Kind: WildAccess, Access: AccessWrite, Addr: 0x42, Size: 8, BadAddr: 0x42}

	text := Format(v)
	require.Contains(t, text, "invalid-access")
	require.Contains(t, text, "not tracked by any allocation")
	require.NotContains(t, text, "is located")
}

func TestFormatInvalidFree(t *testing.T) {
	// Unknown address: no chunk attached.
	v := &Violation{Kind: InvalidFree, Addr: 0x9999, BadAddr: 0x9999}
	text := Format(v)
	require.Contains(t, text, "invalid-free")
	require.Contains(t, text, "not allocated")

	// Double free: the quarantined chunk is attached.
	f := newFixture(t)
	c, err := f.alloc.Allocate(16, 0)
	require.NoError(t, err)
	_, err = f.alloc.Deallocate(c.UserBase)
	require.NoError(t, err)
	_, err = f.alloc.Deallocate(c.UserBase)
	require.ErrorIs(t, err, allocator.ErrInvalidFree)

	v = &Violation{Kind: InvalidFree, Addr: c.UserBase, BadAddr: c.UserBase, Chunk: c}
	text = Format(v)
	require.Contains(t, text, "attempting double-free")
	require.Contains(t, text, "first freed at:")
}

// TestReporterInvokesTerminationCallback verifies that Report formats,
// writes, and hands the diagnostic to the callback.
func TestReporterInvokesTerminationCallback(t *testing.T) {
	f := newFixture(t)
	c, err := f.alloc.Allocate(10, 0)
	require.NoError(t, err)

	var out strings.Builder
	var got string
	r := NewReporter(&out, func(d string) {
		got = d
		panic("terminated") // stand-in for process abort
	}, nil)

	v := f.checker.Check(c.UserBase+10, 1, AccessWrite)
	require.NotNil(t, v)

	require.PanicsWithValue(t, "terminated", func() { r.Report(v) })
	require.Contains(t, got, "is located 0 byte(s) after")
	require.Equal(t, got, out.String(), "callback and writer see the same diagnostic")
}
