package scanner

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
)

// Result is a completed scan. Records are sorted by block number.
type Result struct {
	ID          string              `json:"id"`
	Contract    common.Address      `json:"contract"`
	FromBlock   uint64              `json:"from_block"`
	ToBlock     uint64              `json:"to_block"`
	Ranges      int                 `json:"ranges"`
	Requests    int                 `json:"requests"`
	Events      []string            `json:"event_types"`
	Records     []*models.LogRecord `json:"events"`
	Outcome     string              `json:"outcome"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
}

// NoEvents reports whether the scan finished without finding anything.
func (r *Result) NoEvents() bool {
	return r.Outcome == models.OutcomeNoEvents
}

func (r *Result) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Run returns the history entry for the scan.
func (r *Result) Run() *models.ScanRun {
	return &models.ScanRun{
		ID:          r.ID,
		Contract:    r.Contract.Hex(),
		FromBlock:   r.FromBlock,
		ToBlock:     r.ToBlock,
		Ranges:      r.Ranges,
		Requests:    r.Requests,
		EventsFound: len(r.Records),
		Outcome:     r.Outcome,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}
