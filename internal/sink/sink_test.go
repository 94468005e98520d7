package sink

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartdevs17/vault-event-scanner/internal/config"
	"github.com/smartdevs17/vault-event-scanner/internal/metrics"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/smartdevs17/vault-event-scanner/internal/retry"
	"github.com/smartdevs17/vault-event-scanner/internal/scanner"
	"github.com/smartdevs17/vault-event-scanner/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vault = common.HexToAddress("0x52908400098527886E0F7030069857D2E4169EE7")
	user  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func testResult() *scanner.Result {
	started := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return &scanner.Result{
		ID:        "scan-1",
		Contract:  vault,
		FromBlock: 400,
		ToBlock:   600,
		Ranges:    1,
		Requests:  3,
		Events:    models.VaultEvents().Names(),
		Records: []*models.LogRecord{
			{
				EventName:   models.EventRewardsAdded,
				Payload:     &models.RewardsAdded{Amount: big.NewInt(7), Duration: big.NewInt(86400), NewPeriodFinish: big.NewInt(1704196800)},
				BlockNumber: 400,
				BlockHash:   common.HexToHash("0x400"),
				TxHash:      common.HexToHash("0x4001"),
				Address:     vault,
			},
			{
				EventName:   models.EventWithdrawn,
				Payload:     &models.Withdrawn{User: user, Amount: big.NewInt(500), Shares: big.NewInt(5)},
				BlockNumber: 500,
				BlockHash:   common.HexToHash("0x500"),
				TxHash:      common.HexToHash("0x5001"),
				LogIndex:    1,
				Address:     vault,
			},
		},
		Outcome:     models.OutcomeEvents,
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
	}
}

type fakeSink struct {
	name  string
	err   error
	calls int
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(ctx context.Context, result *scanner.Result) error {
	f.calls++
	return f.err
}

func TestMultiIsBestEffort(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheusMetrics(reg)

	broken := &fakeSink{name: "broken", err: errors.New("unreachable")}
	healthy := &fakeSink{name: "healthy"}
	multi := NewMulti(m, broken, healthy)

	failed := multi.Deliver(context.Background(), testResult())
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, healthy.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkDeliveriesTotal.WithLabelValues("broken", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkDeliveriesTotal.WithLabelValues("healthy", "success")))
}

func TestStorageSink(t *testing.T) {
	store, err := storage.Open(&config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "events.db"),
	})
	require.NoError(t, err)
	defer store.Close()

	s := NewStorageSink(store, models.VaultEvents())
	ctx := context.Background()
	require.NoError(t, s.Deliver(ctx, testResult()))

	run, err := store.GetScanRun(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.EventsFound)
	assert.Equal(t, models.OutcomeEvents, run.Outcome)

	stored, err := store.GetEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, models.EventRewardsAdded, stored[0].EventName)
	assert.Equal(t, "86400", stored[0].Data["duration"])
}

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
}

func TestWebhookSinkDelivers(t *testing.T) {
	var raw map[string]interface{}
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&raw)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSink(config.WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
	})
	require.NoError(t, s.Deliver(context.Background(), testResult()))

	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "Bearer token", header.Get("Authorization"))
	assert.NotEmpty(t, header.Get("X-Request-ID"))

	assert.Equal(t, "scan_completed", raw["type"])
	data := raw["data"].(map[string]interface{})
	assert.Equal(t, "scan-1", data["id"])
	assert.Len(t, data["events"], 2)
}

func TestWebhookSinkRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSink(config.WebhookConfig{URL: srv.URL}).WithRetry(fastRetry(3))
	require.NoError(t, s.Deliver(context.Background(), testResult()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookSinkStopsOnClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewWebhookSink(config.WebhookConfig{URL: srv.URL}).WithRetry(fastRetry(3))
	err := s.Deliver(context.Background(), testResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 400")
	assert.Equal(t, int32(1), calls.Load())
}

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	flushes  int
	closed   bool
	failOn   string
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subject == p.failOn {
		return errors.New("nats: connection closed")
	}
	p.messages = append(p.messages, published{subject, data})
	return nil
}

func (p *fakePublisher) FlushTimeout(time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return nil
}

func (p *fakePublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func TestNATSSinkPublishesRecordsThenSummary(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATSSink(pub, "vault.events.")

	require.NoError(t, s.Deliver(context.Background(), testResult()))

	require.Len(t, pub.messages, 3)
	assert.Equal(t, "vault.events.RewardsAdded", pub.messages[0].subject)
	assert.Equal(t, "vault.events.Withdrawn", pub.messages[1].subject)
	assert.Equal(t, "vault.events.scan", pub.messages[2].subject)
	assert.Equal(t, 1, pub.flushes)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.messages[1].data, &record))
	assert.Equal(t, models.EventWithdrawn, record["event_name"])

	var summary ScanSummary
	require.NoError(t, json.Unmarshal(pub.messages[2].data, &summary))
	assert.Equal(t, "scan-1", summary.ID)
	assert.Equal(t, 2, summary.EventsFound)
	assert.Equal(t, vault.Hex(), summary.Contract)

	require.NoError(t, NewMulti(nil, s).Close())
	assert.True(t, pub.closed)
}

func TestNATSSinkPublishFailure(t *testing.T) {
	pub := &fakePublisher{failOn: "vault.events.Withdrawn"}
	s := NewNATSSink(pub, "")

	err := s.Deliver(context.Background(), testResult())
	require.Error(t, err)
	assert.Len(t, pub.messages, 1)
	assert.Zero(t, pub.flushes)
}
