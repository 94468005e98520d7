package scanner

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/smartdevs17/vault-event-scanner/internal/ratelimit"
	"github.com/smartdevs17/vault-event-scanner/internal/retry"
)

// LogSource is the node capability the scanner needs.
type LogSource interface {
	GetLogs(ctx context.Context, contract common.Address, topic common.Hash, from, to uint64) ([]types.Log, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// Fetcher issues the per-range queries. Within a range, event types are
// queried one at a time in event set order and every attempt goes through
// the limiter.
type Fetcher struct {
	source  LogSource
	limiter ratelimit.Limiter
	events  models.EventSet
	decoder *Decoder
	retry   retry.Policy
	metrics Recorder
	logger  *logrus.Entry
}

// NewFetcher wires a fetcher. metrics may be nil.
func NewFetcher(source LogSource, limiter ratelimit.Limiter, events models.EventSet, decoder *Decoder, policy retry.Policy, metrics Recorder, logger *logrus.Entry) *Fetcher {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Fetcher{
		source:  source,
		limiter: limiter,
		events:  events,
		decoder: decoder,
		retry:   policy,
		metrics: metrics,
		logger:  logger,
	}
}

// FetchRange returns every tracked event in r, in fetch order. Any failure
// aborts the range.
func (f *Fetcher) FetchRange(ctx context.Context, contract common.Address, r BlockRange) ([]*models.LogRecord, error) {
	var records []*models.LogRecord

	for _, spec := range f.events.Specs() {
		logs, err := f.getLogs(ctx, contract, spec, r)
		if err != nil {
			return nil, &FetchError{Op: OpGetLogs, Event: spec.Name, Range: r, Err: err}
		}

		for _, log := range logs {
			record, err := f.decoder.Decode(spec, log)
			if err != nil {
				return nil, &FetchError{Op: OpDecode, Event: spec.Name, Range: r, Err: err}
			}
			records = append(records, record)
		}

		f.metrics.RecordLogsFetched(spec.Name, len(logs))
		f.logger.WithFields(logrus.Fields{
			"event": spec.Name,
			"from":  r.From,
			"to":    r.To,
			"logs":  len(logs),
		}).Debug("Fetched logs")
	}

	return records, nil
}

func (f *Fetcher) getLogs(ctx context.Context, contract common.Address, spec models.EventSpec, r BlockRange) ([]types.Log, error) {
	var logs []types.Log

	err := f.retry.Do(ctx, func(ctx context.Context) error {
		release, err := f.acquire(ctx)
		if err != nil {
			return retry.Terminal(err)
		}
		defer release()

		logs, err = f.source.GetLogs(ctx, contract, spec.Topic, r.From, r.To)
		return err
	}, func(err error, attempt int, next time.Duration) {
		f.metrics.RecordFetchRetry(spec.Name)
		f.logger.WithFields(logrus.Fields{
			"event":   spec.Name,
			"from":    r.From,
			"to":      r.To,
			"attempt": attempt,
			"backoff": next.String(),
			"error":   err.Error(),
		}).Warn("Retrying log fetch")
	})

	return logs, err
}

func (f *Fetcher) acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	release, err := f.limiter.Acquire(ctx)
	f.metrics.RecordRateLimitWait(time.Since(start))
	return release, err
}
