package scanner

import (
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionSingleBlock(t *testing.T) {
	ranges := slices.Collect(Partition(100, 100, DefaultMaxSpan))
	assert.Equal(t, []BlockRange{{From: 100, To: 100}}, ranges)
}

func TestPartitionThreeRanges(t *testing.T) {
	ranges := slices.Collect(Partition(0, 25000, DefaultMaxSpan))
	assert.Equal(t, []BlockRange{
		{From: 0, To: 9999},
		{From: 10000, To: 19999},
		{From: 20000, To: 25000},
	}, ranges)
}

func TestPartitionStartAfterLatest(t *testing.T) {
	assert.Empty(t, slices.Collect(Partition(10, 9, DefaultMaxSpan)))
	assert.Equal(t, 0, CountRanges(10, 9, DefaultMaxSpan))
}

func TestPartitionExactMultiple(t *testing.T) {
	ranges := slices.Collect(Partition(10300040, 10320039, DefaultMaxSpan))
	require.Len(t, ranges, 2)
	assert.Equal(t, BlockRange{From: 10310040, To: 10320039}, ranges[1])
	assert.Equal(t, uint64(10000), ranges[1].Blocks())
}

func TestPartitionZeroSpan(t *testing.T) {
	ranges := slices.Collect(Partition(5, 7, 0))
	assert.Equal(t, []BlockRange{{5, 5}, {6, 6}, {7, 7}}, ranges)
}

func TestPartitionNearMaxUint64(t *testing.T) {
	ranges := slices.Collect(Partition(math.MaxUint64-15, math.MaxUint64, 9))
	assert.Equal(t, []BlockRange{
		{From: math.MaxUint64 - 15, To: math.MaxUint64 - 6},
		{From: math.MaxUint64 - 5, To: math.MaxUint64},
	}, ranges)

	whole := slices.Collect(Partition(0, math.MaxUint64, math.MaxUint64))
	assert.Equal(t, []BlockRange{{From: 0, To: math.MaxUint64}}, whole)
}

func TestPartitionStopsWhenConsumerBreaks(t *testing.T) {
	var seen []BlockRange
	for r := range Partition(0, 1_000_000, 99) {
		seen = append(seen, r)
		if len(seen) == 2 {
			break
		}
	}
	assert.Len(t, seen, 2)
}

// Every generated partition must tile [start, latest] exactly.
func TestPartitionCoverageProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		start := uint64(rng.Intn(50_000))
		latest := start + uint64(rng.Intn(100_000))
		maxSpan := uint64(rng.Intn(20_000))

		ranges := slices.Collect(Partition(start, latest, maxSpan))
		require.NotEmpty(t, ranges)
		assert.Equal(t, CountRanges(start, latest, maxSpan), len(ranges))

		assert.Equal(t, start, ranges[0].From)
		assert.Equal(t, latest, ranges[len(ranges)-1].To)
		for j, r := range ranges {
			require.LessOrEqual(t, r.From, r.To)
			require.LessOrEqual(t, r.Blocks(), maxSpan+1)
			if j > 0 {
				require.Equal(t, ranges[j-1].To+1, r.From, "ranges must be contiguous")
			}
		}
	}
}
