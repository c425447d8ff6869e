package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/heapguard/internal/asan/allocator"
)

type staticStats struct {
	st allocator.Stats
}

func (s staticStats) Stats() allocator.Stats { return s.st }

func TestCollectorRegistersAndScrapes(t *testing.T) {
	src := staticStats{st: allocator.Stats{
		Allocs:           7,
		Frees:            3,
		LiveChunks:       4,
		LiveBytes:        512,
		QuarantineChunks: 2,
		QuarantineBytes:  256,
	}}

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(src)))

	expected := `
# HELP heapguard_allocations_total Total guarded allocations served.
# TYPE heapguard_allocations_total counter
heapguard_allocations_total 7
# HELP heapguard_frees_total Total deallocations accepted.
# TYPE heapguard_frees_total counter
heapguard_frees_total 3
# HELP heapguard_live_bytes User bytes in currently allocated chunks.
# TYPE heapguard_live_bytes gauge
heapguard_live_bytes 512
# HELP heapguard_live_chunks Currently allocated chunks.
# TYPE heapguard_live_chunks gauge
heapguard_live_chunks 4
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"heapguard_allocations_total",
		"heapguard_frees_total",
		"heapguard_live_bytes",
		"heapguard_live_chunks",
	)
	require.NoError(t, err)
}

func TestCollectorDescribesAllMetrics(t *testing.T) {
	c := NewCollector(staticStats{})

	ch := make(chan *prometheus.Desc, 16)
	c.Describe(ch)
	close(ch)

	var n int
	for range ch {
		n++
	}
	require.Equal(t, 8, n)
}
