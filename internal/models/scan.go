package models

import "time"

// Scan outcomes.
const (
	OutcomeEvents   = "events"
	OutcomeNoEvents = "no_events"
	OutcomeFailed   = "failed"
)

// ScanRun is the history entry written for every scan, successful or not.
// It is informational only: scans never resume from it.
type ScanRun struct {
	ID          string    `json:"id" db:"id"`
	Contract    string    `json:"contract" db:"contract"`
	FromBlock   uint64    `json:"from_block" db:"from_block"`
	ToBlock     uint64    `json:"to_block" db:"to_block"`
	Ranges      int       `json:"ranges" db:"ranges"`
	Requests    int       `json:"requests" db:"requests"`
	EventsFound int       `json:"events_found" db:"events_found"`
	Outcome     string    `json:"outcome" db:"outcome"`
	Error       string    `json:"error,omitempty" db:"error"`
	StartedAt   time.Time `json:"started_at" db:"started_at"`
	CompletedAt time.Time `json:"completed_at" db:"completed_at"`
}

// Duration is the wall time the run took.
func (r *ScanRun) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
