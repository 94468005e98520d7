package scanner

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
)

// TieBreak decides the order of records that share a block number.
type TieBreak string

const (
	// TieBreakLogIndex orders same-block records by transaction index and
	// then log index, which is their on-chain order.
	TieBreakLogIndex TieBreak = "log_index"
	// TieBreakFetchOrder keeps same-block records in the order they were
	// fetched: by range, then by event type.
	TieBreakFetchOrder TieBreak = "fetch_order"
)

// ParseTieBreak validates a configured tie-break name. Empty means
// TieBreakLogIndex.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case "", TieBreakLogIndex:
		return TieBreakLogIndex, nil
	case TieBreakFetchOrder:
		return TieBreakFetchOrder, nil
	default:
		return "", fmt.Errorf("unsupported tie break: %s", s)
	}
}

type recordKey struct {
	blockHash common.Hash
	txHash    common.Hash
	logIndex  uint
}

// Dedupe drops records that repeat an earlier (block hash, tx hash, log
// index) triple.
func Dedupe(records []*models.LogRecord) []*models.LogRecord {
	seen := make(map[recordKey]struct{}, len(records))
	out := make([]*models.LogRecord, 0, len(records))
	for _, r := range records {
		key := recordKey{blockHash: r.BlockHash, txHash: r.TxHash, logIndex: r.LogIndex}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Order returns a copy of records sorted by ascending block number. The sort
// is stable.
func Order(records []*models.LogRecord, tieBreak TieBreak) []*models.LogRecord {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b *models.LogRecord) int {
		if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 || tieBreak == TieBreakFetchOrder {
			return c
		}
		if c := cmp.Compare(a.TxIndex, b.TxIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.LogIndex, b.LogIndex)
	})
	return out
}
