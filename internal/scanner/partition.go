package scanner

import (
	"fmt"
	"iter"
)

// DefaultMaxSpan keeps each eth_getLogs query at 10000 blocks, the limit
// most public providers enforce.
const DefaultMaxSpan uint64 = 9999

// BlockRange is an inclusive block interval.
type BlockRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Blocks returns the number of blocks covered.
func (r BlockRange) Blocks() uint64 {
	return r.To - r.From + 1
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

// Partition splits [start, latest] into contiguous ranges of at most
// maxSpan+1 blocks, in ascending order. It yields nothing when start is past
// latest.
func Partition(start, latest, maxSpan uint64) iter.Seq[BlockRange] {
	return func(yield func(BlockRange) bool) {
		if start > latest {
			return
		}
		from := start
		for {
			to := latest
			if latest-from > maxSpan {
				to = from + maxSpan
			}
			if !yield(BlockRange{From: from, To: to}) {
				return
			}
			if to == latest {
				return
			}
			from = to + 1
		}
	}
}

// CountRanges returns how many ranges Partition yields without iterating.
func CountRanges(start, latest, maxSpan uint64) int {
	if start > latest {
		return 0
	}
	span := latest - start
	if maxSpan == ^uint64(0) {
		return 1
	}
	return int(span/(maxSpan+1)) + 1
}
