package allocator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kolkov/heapguard/internal/asan/arena"
	"github.com/kolkov/heapguard/internal/asan/chunk"
	"github.com/kolkov/heapguard/internal/asan/shadowmem"
)

const (
	testBase = uintptr(0x10000)
	testSize = uintptr(1 << 20)
)

type fixture struct {
	arena    *arena.Arena
	shadow   *shadowmem.ShadowMemory
	registry *chunk.Registry
	alloc    *Allocator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	a := arena.New(testBase, testSize)
	sm := shadowmem.New(testBase, testSize)
	reg := chunk.NewRegistry()
	return &fixture{
		arena:    a,
		shadow:   sm,
		registry: reg,
		alloc:    New(a, sm, reg, cfg),
	}
}

func TestAllocateLayout(t *testing.T) {
	f := newFixture(t, Config{})

	c, err := f.alloc.Allocate(10, 0)
	require.NoError(t, err)

	require.GreaterOrEqual(t, c.LeftRedzone(), uintptr(16))
	require.GreaterOrEqual(t, c.RightRedzone(), uintptr(16))
	require.Equal(t, uintptr(0), c.UserBase%shadowmem.Granule, "user base granule-aligned")
	require.Equal(t, chunk.Allocated, c.State)
	require.NotEmpty(t, c.AllocPCs, "allocation call site captured")
	require.Same(t, c, f.registry.Lookup(c.UserBase))
}

func TestAllocateShadowEncoding(t *testing.T) {
	f := newFixture(t, Config{})

	c, err := f.alloc.Allocate(10, 0)
	require.NoError(t, err)

	// Left redzone granules are poisoned.
	for addr := c.RawBase; addr < c.UserBase; addr += shadowmem.Granule {
		require.Equal(t, shadowmem.RedzonePoison, f.shadow.Load(addr), "left redzone 0x%x", addr)
	}

	// First granule of the user region is fully addressable, the second is
	// a 2-byte partial tail (10 = 8 + 2).
	require.Equal(t, shadowmem.Addressable, f.shadow.Load(c.UserBase))
	tail := f.shadow.Load(c.UserBase + 8)
	require.Equal(t, uintptr(2), tail.AddressableBytes())

	// Right redzone granules are poisoned up to the block end.
	for addr := c.UserBase + 16; addr < c.RawEnd(); addr += shadowmem.Granule {
		require.Equal(t, shadowmem.RedzonePoison, f.shadow.Load(addr), "right redzone 0x%x", addr)
	}
}

func TestAllocateGranuleAlignedSizeHasNonEmptyRightRedzone(t *testing.T) {
	f := newFixture(t, Config{})

	c, err := f.alloc.Allocate(64, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, c.RightRedzone(), uintptr(16))

	// No partial tail: the last user granule is fully addressable and the
	// next granule is redzone.
	require.Equal(t, shadowmem.Addressable, f.shadow.Load(c.UserEnd()-1))
	require.Equal(t, shadowmem.RedzonePoison, f.shadow.Load(c.UserEnd()))
}

func TestAllocateAlignment(t *testing.T) {
	f := newFixture(t, Config{})

	for _, align := range []uintptr{0, 1, 8, 16, 64, 256, 4096} {
		c, err := f.alloc.Allocate(24, align)
		require.NoError(t, err, "align %d", align)
		want := align
		if want < shadowmem.Granule {
			want = shadowmem.Granule
		}
		require.Equal(t, uintptr(0), c.UserBase%want, "align %d", align)
		require.GreaterOrEqual(t, c.LeftRedzone(), uintptr(16))
	}
}

func TestAllocateBadAlignment(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.alloc.Allocate(8, 24)
	require.ErrorIs(t, err, ErrBadAlignment)

	_, err = f.alloc.Allocate(8, 8192)
	require.ErrorIs(t, err, ErrBadAlignment)
}

func TestAllocateZeroSize(t *testing.T) {
	f := newFixture(t, Config{})

	c, err := f.alloc.Allocate(0, 0)
	require.NoError(t, err)
	require.Equal(t, uintptr(0), c.UserSize)

	// The user base itself is redzone: any access is out of bounds.
	require.Equal(t, shadowmem.RedzonePoison, f.shadow.Load(c.UserBase))

	// Still a valid free target.
	_, err = f.alloc.Deallocate(c.UserBase)
	require.NoError(t, err)
}

func TestAllocateOutOfMemory(t *testing.T) {
	f := newFixture(t, Config{})

	// One chunk larger than the arena.
	_, err := f.alloc.Allocate(testSize, 0)
	require.ErrorIs(t, err, arena.ErrOutOfMemory)
	require.Equal(t, uint64(1), f.alloc.Stats().FailedAllocs)

	// Recoverable: normal allocation still works afterwards.
	_, err = f.alloc.Allocate(64, 0)
	require.NoError(t, err)
}

func TestDeallocatePoisonsWholeBlock(t *testing.T) {
	f := newFixture(t, Config{QuarantineBytes: 1 << 16})

	c, err := f.alloc.Allocate(32, 0)
	require.NoError(t, err)

	_, err = f.alloc.Deallocate(c.UserBase)
	require.NoError(t, err)

	require.Equal(t, chunk.Quarantined, c.State)
	require.NotEmpty(t, c.FreePCs)
	for addr := c.RawBase; addr < c.RawEnd(); addr += shadowmem.Granule {
		require.Equal(t, shadowmem.FreedPoison, f.shadow.Load(addr), "freed block 0x%x", addr)
	}

	// Quarantined chunk stays registered so stale accesses can be
	// attributed to it.
	require.Same(t, c, f.registry.FindByAddress(c.UserBase))
}

func TestDeallocateInvalidFree(t *testing.T) {
	f := newFixture(t, Config{QuarantineBytes: 1 << 16})

	c, err := f.alloc.Allocate(32, 0)
	require.NoError(t, err)

	// Interior pointer.
	_, err = f.alloc.Deallocate(c.UserBase + 1)
	require.ErrorIs(t, err, ErrInvalidFree)

	// Never-allocated address.
	_, err = f.alloc.Deallocate(testBase + testSize - 16)
	require.ErrorIs(t, err, ErrInvalidFree)

	// Double free.
	_, err = f.alloc.Deallocate(c.UserBase)
	require.NoError(t, err)
	_, err = f.alloc.Deallocate(c.UserBase)
	require.ErrorIs(t, err, ErrInvalidFree)
}

func TestQuarantineEvictsOldestFirst(t *testing.T) {
	// Cap sized so two freed chunks fit but a third forces eviction.
	f := newFixture(t, Config{QuarantineBytes: 300})

	var chunks []*chunk.Chunk
	for i := 0; i < 3; i++ {
		c, err := f.alloc.Allocate(100, 0)
		require.NoError(t, err)
		chunks = append(chunks, c)
	}

	_, err := f.alloc.Deallocate(chunks[0].UserBase)
	require.NoError(t, err)
	_, err = f.alloc.Deallocate(chunks[1].UserBase)
	require.NoError(t, err)

	st := f.alloc.Stats()
	require.Equal(t, uint64(0), st.Evictions)

	_, err = f.alloc.Deallocate(chunks[2].UserBase)
	require.NoError(t, err)

	st = f.alloc.Stats()
	require.GreaterOrEqual(t, st.Evictions, uint64(1))

	// The oldest chunk was evicted: unregistered, shadow untracked.
	require.Nil(t, f.registry.FindByAddress(chunks[0].UserBase))
	require.Equal(t, shadowmem.Untracked, f.shadow.Load(chunks[0].UserBase))

	// The newest freed chunk is still quarantined.
	require.Same(t, chunks[2], f.registry.FindByAddress(chunks[2].UserBase))
	require.Equal(t, shadowmem.FreedPoison, f.shadow.Load(chunks[2].UserBase))
}

func TestEvictedMemoryIsReusable(t *testing.T) {
	// Arena just big enough for one chunk at a time, quarantine disabled:
	// freed memory must be immediately reusable.
	small := arena.New(testBase, 256)
	sm := shadowmem.New(testBase, 256)
	reg := chunk.NewRegistry()
	al := New(small, sm, reg, Config{})

	c1, err := al.Allocate(100, 0)
	require.NoError(t, err)

	_, err = al.Allocate(100, 0)
	require.ErrorIs(t, err, arena.ErrOutOfMemory)

	_, err = al.Deallocate(c1.UserBase)
	require.NoError(t, err)

	c2, err := al.Allocate(100, 0)
	require.NoError(t, err)
	require.Equal(t, c1.UserBase, c2.UserBase, "released block reused")

	// The reused region is addressable again under the new chunk.
	require.Equal(t, shadowmem.Addressable, sm.Load(c2.UserBase))
}

func TestStatsAccounting(t *testing.T) {
	f := newFixture(t, Config{QuarantineBytes: 1 << 16})

	c1, _ := f.alloc.Allocate(10, 0)
	c2, _ := f.alloc.Allocate(20, 0)
	_ = c2

	st := f.alloc.Stats()
	require.Equal(t, uint64(2), st.Allocs)
	require.Equal(t, uint64(2), st.LiveChunks)
	require.Equal(t, uint64(30), st.LiveBytes)

	_, err := f.alloc.Deallocate(c1.UserBase)
	require.NoError(t, err)

	st = f.alloc.Stats()
	require.Equal(t, uint64(1), st.Frees)
	require.Equal(t, uint64(1), st.LiveChunks)
	require.Equal(t, uint64(20), st.LiveBytes)
	require.Equal(t, uint64(1), st.QuarantineChunks)
	require.Equal(t, uint64(c1.TotalSize), st.QuarantineBytes)
}
