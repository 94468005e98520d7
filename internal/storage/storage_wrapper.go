package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/vault-event-scanner/internal/metrics"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metrics *metrics.PrometheusMetrics
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, m *metrics.PrometheusMetrics) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage: storage,
		metrics: m,
	}
}

// SaveEvents saves events and records metrics
func (s *StorageWithMetrics) SaveEvents(ctx context.Context, events []*models.Event) (int, error) {
	start := time.Now()
	inserted, err := s.Storage.SaveEvents(ctx, events)
	s.record("insert", "events", err, start)
	return inserted, err
}

// GetEvents queries events and records metrics
func (s *StorageWithMetrics) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	start := time.Now()
	events, err := s.Storage.GetEvents(ctx, filter)
	s.record("select", "events", err, start)
	return events, err
}

// SaveScanRun saves a scan run and records metrics
func (s *StorageWithMetrics) SaveScanRun(ctx context.Context, run *models.ScanRun) error {
	start := time.Now()
	err := s.Storage.SaveScanRun(ctx, run)
	s.record("insert", "scan_runs", err, start)
	return err
}

// GetScanRuns lists scan runs and records metrics
func (s *StorageWithMetrics) GetScanRuns(ctx context.Context, limit int) ([]*models.ScanRun, error) {
	start := time.Now()
	runs, err := s.Storage.GetScanRuns(ctx, limit)
	s.record("select", "scan_runs", err, start)
	return runs, err
}

func (s *StorageWithMetrics) record(operation, table string, err error, start time.Time) {
	if s.metrics == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDatabaseOperation(operation, table, status, time.Since(start))
}
