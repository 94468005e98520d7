// Package scanner collects contract events over a block range: it splits
// the range into provider-sized windows, queries each event type per window
// under a rate limit and returns one block-ordered log.
package scanner

import (
	"context"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/smartdevs17/vault-event-scanner/internal/ratelimit"
	"github.com/smartdevs17/vault-event-scanner/internal/retry"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
	"golang.org/x/sync/errgroup"
)

// Config tunes a Scanner.
type Config struct {
	MaxSpan     uint64
	Concurrency int
	TieBreak    TieBreak
	Retry       retry.Policy
}

// Scanner runs block range scans against one log source.
type Scanner struct {
	source  LogSource
	fetcher *Fetcher
	events  models.EventSet
	config  Config
	metrics Recorder
	logger  *logrus.Entry
}

// New builds a scanner. metrics may be nil.
func New(source LogSource, limiter ratelimit.Limiter, events models.EventSet, cfg Config, metrics Recorder) (*Scanner, error) {
	if events.Len() == 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "No events to scan for")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.TieBreak == "" {
		cfg.TieBreak = TieBreakLogIndex
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}

	decoder, err := NewDecoder(events)
	if err != nil {
		return nil, err
	}

	logger := utils.ComponentLogger("scanner")
	return &Scanner{
		source:  source,
		fetcher: NewFetcher(source, limiter, events, decoder, cfg.Retry, metrics, logger),
		events:  events,
		config:  cfg,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Events returns the event set the scanner queries.
func (s *Scanner) Events() models.EventSet {
	return s.events
}

// Scan covers [startBlock, latest block] for contract.
func (s *Scanner) Scan(ctx context.Context, contract common.Address, startBlock uint64) (*Result, error) {
	var latest uint64
	err := s.config.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		latest, err = s.source.LatestBlockNumber(ctx)
		return err
	}, nil)
	if err != nil {
		s.metrics.RecordScan(models.OutcomeFailed, 0)
		return nil, &FetchError{Op: OpLatestBlock, Err: err}
	}
	s.metrics.UpdateLatestChainBlock(latest)

	return s.ScanRange(ctx, contract, startBlock, latest)
}

// ScanRange covers [start, latest] for contract. On error no result is
// returned.
func (s *Scanner) ScanRange(ctx context.Context, contract common.Address, start, latest uint64) (*Result, error) {
	startedAt := time.Now()
	ranges := CountRanges(start, latest, s.config.MaxSpan)

	logger := s.logger.WithFields(logrus.Fields{
		"contract":    contract.Hex(),
		"from":        start,
		"to":          latest,
		"ranges":      ranges,
		"concurrency": s.config.Concurrency,
	})
	logger.Info("Starting scan")

	var (
		records []*models.LogRecord
		err     error
	)
	if s.config.Concurrency > 1 && ranges > 1 {
		records, err = s.fetchParallel(ctx, contract, start, latest)
	} else {
		records, err = s.fetchSequential(ctx, contract, start, latest)
	}
	if err != nil {
		s.metrics.RecordScan(models.OutcomeFailed, time.Since(startedAt))
		logger.WithError(err).Error("Scan failed")
		return nil, err
	}

	records = Order(Dedupe(records), s.config.TieBreak)

	result := &Result{
		ID:          uuid.NewString(),
		Contract:    contract,
		FromBlock:   start,
		ToBlock:     latest,
		Ranges:      ranges,
		Requests:    ranges * s.events.Len(),
		Events:      s.events.Names(),
		Records:     records,
		Outcome:     models.OutcomeEvents,
		StartedAt:   startedAt.UTC(),
		CompletedAt: time.Now().UTC(),
	}
	if len(records) == 0 {
		result.Outcome = models.OutcomeNoEvents
	}

	s.metrics.RecordScan(result.Outcome, result.Duration())
	if ranges > 0 {
		s.metrics.UpdateLastScannedBlock(latest)
	}
	logger.WithFields(logrus.Fields{
		"scan_id":  result.ID,
		"events":   len(records),
		"outcome":  result.Outcome,
		"duration": result.Duration().String(),
	}).Info("Scan completed")

	return result, nil
}

func (s *Scanner) fetchSequential(ctx context.Context, contract common.Address, start, latest uint64) ([]*models.LogRecord, error) {
	var acc []*models.LogRecord
	for r := range Partition(start, latest, s.config.MaxSpan) {
		records, err := s.fetcher.FetchRange(ctx, contract, r)
		if err != nil {
			return nil, err
		}
		acc = append(acc, records...)
		s.metrics.RecordRangeScanned()
	}
	return acc, nil
}

// fetchParallel fetches ranges concurrently through the shared limiter and
// reassembles them in range order, so the result matches fetchSequential.
func (s *Scanner) fetchParallel(ctx context.Context, contract common.Address, start, latest uint64) ([]*models.LogRecord, error) {
	ranges := slices.Collect(Partition(start, latest, s.config.MaxSpan))
	perRange := make([][]*models.LogRecord, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i, r := range ranges {
		g.Go(func() error {
			records, err := s.fetcher.FetchRange(gctx, contract, r)
			if err != nil {
				return err
			}
			perRange[i] = records
			s.metrics.RecordRangeScanned()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return slices.Concat(perRange...), nil
}
