package sink

import (
	"context"

	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/smartdevs17/vault-event-scanner/internal/scanner"
	"github.com/smartdevs17/vault-event-scanner/internal/storage"
)

// StorageSink persists the scan run and its events.
type StorageSink struct {
	store  storage.Storage
	events models.EventSet
}

func NewStorageSink(store storage.Storage, events models.EventSet) *StorageSink {
	return &StorageSink{store: store, events: events}
}

func (s *StorageSink) Name() string { return "storage" }

// Deliver writes the events before the run so a run row always has its
// events behind it.
func (s *StorageSink) Deliver(ctx context.Context, result *scanner.Result) error {
	if len(result.Records) > 0 {
		batch := make([]*models.Event, len(result.Records))
		for i, r := range result.Records {
			batch[i] = models.NewEventFromRecord(result.ID, r, s.events)
		}
		if _, err := s.store.SaveEvents(ctx, batch); err != nil {
			return err
		}
	}
	return s.store.SaveScanRun(ctx, result.Run())
}
