package sink

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/vault-event-scanner/internal/metrics"
	"github.com/smartdevs17/vault-event-scanner/internal/scanner"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

// Sink receives completed scans.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, result *scanner.Result) error
}

// Closer is implemented by sinks holding connections.
type Closer interface {
	Close() error
}

// Multi fans a result out to every sink. Delivery is best effort: a failing
// sink is logged and counted but never stops the others.
type Multi struct {
	sinks   []Sink
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry
}

// NewMulti creates a fan-out over sinks. m may be nil.
func NewMulti(m *metrics.PrometheusMetrics, sinks ...Sink) *Multi {
	return &Multi{
		sinks:   sinks,
		metrics: m,
		logger:  utils.ComponentLogger("sink"),
	}
}

// Add registers another sink.
func (m *Multi) Add(s Sink) {
	m.sinks = append(m.sinks, s)
}

// Len returns the number of registered sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Deliver hands result to every sink in registration order and returns the
// number of sinks that failed.
func (m *Multi) Deliver(ctx context.Context, result *scanner.Result) int {
	failed := 0
	for _, s := range m.sinks {
		start := time.Now()
		err := s.Deliver(ctx, result)

		status := "success"
		logger := m.logger.WithFields(logrus.Fields{
			"sink":    s.Name(),
			"scan_id": result.ID,
			"events":  len(result.Records),
		})
		if err != nil {
			status = "error"
			failed++
			logger.WithError(err).Error("Failed to deliver scan result")
		} else {
			logger.Debug("Delivered scan result")
		}

		if m.metrics != nil {
			m.metrics.RecordSinkDelivery(s.Name(), status, time.Since(start))
		}
	}
	return failed
}

// Close closes every sink that holds a connection.
func (m *Multi) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
