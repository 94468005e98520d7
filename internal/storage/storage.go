package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/vault-event-scanner/internal/models"
)

// Storage defines the interface for event and scan history persistence
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Event operations. Saving is idempotent on (block hash, tx hash, log index).
	SaveEvents(ctx context.Context, events []*models.Event) (int, error)
	GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error)
	GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error)

	// Scan history
	SaveScanRun(ctx context.Context, run *models.ScanRun) error
	GetScanRun(ctx context.Context, id string) (*models.ScanRun, error)
	GetScanRuns(ctx context.Context, limit int) ([]*models.ScanRun, error)

	// Statistics and monitoring
	GetStats(ctx context.Context) (*StorageStats, error)
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalEvents  int64            `json:"total_events"`
	TotalScans   int64            `json:"total_scans"`
	EventsByType map[string]int64 `json:"events_by_type"`
	LatestBlock  uint64           `json:"latest_event_block"`
	LastScanAt   *time.Time       `json:"last_scan_at,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
