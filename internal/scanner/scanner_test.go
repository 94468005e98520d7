package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/smartdevs17/vault-event-scanner/internal/ratelimit"
	"github.com/smartdevs17/vault-event-scanner/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanSingleBlockRange(t *testing.T) {
	src := newFakeSource(100, depositedLog(logPos{block: 100}, 1, 1))
	s := newTestScanner(src, 0, Config{Retry: noRetry()}, nil)

	result, err := s.ScanRange(context.Background(), testContract, 100, 100)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeEvents, result.Outcome)
	assert.Equal(t, 1, result.Ranges)
	require.Len(t, result.Records, 1)
	assert.Equal(t, models.EventDeposited, result.Records[0].EventName)
	assert.NotEmpty(t, result.ID)

	calls := src.recordedCalls()
	require.Len(t, calls, 3)
	for i, name := range []string{models.EventDeposited, models.EventWithdrawn, models.EventRewardsAdded} {
		assert.Equal(t, topicOf(name), calls[i].topic)
		assert.Equal(t, uint64(100), calls[i].from)
		assert.Equal(t, uint64(100), calls[i].to)
	}
}

func TestScanThreeRangesCallOrder(t *testing.T) {
	src := newFakeSource(25000)
	s := newTestScanner(src, 0, Config{Retry: noRetry()}, nil)

	result, err := s.ScanRange(context.Background(), testContract, 0, 25000)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Ranges)
	assert.Equal(t, 9, result.Requests)

	calls := src.recordedCalls()
	require.Len(t, calls, 9)
	expected := []BlockRange{{0, 9999}, {10000, 19999}, {20000, 25000}}
	events := models.VaultEvents().Specs()
	for i, call := range calls {
		assert.Equal(t, expected[i/3], BlockRange{From: call.from, To: call.to})
		assert.Equal(t, events[i%3].Topic, call.topic)
	}
}

func TestScanNoEvents(t *testing.T) {
	src := newFakeSource(500)
	rec := &countingRecorder{}
	s := newTestScanner(src, 0, Config{Retry: noRetry()}, rec)

	result, err := s.Scan(context.Background(), testContract, 0)
	require.NoError(t, err)
	assert.True(t, result.NoEvents())
	assert.Equal(t, models.OutcomeNoEvents, result.Outcome)
	assert.Empty(t, result.Records)

	_, recorded := rec.outcomes.Load(models.OutcomeNoEvents)
	assert.True(t, recorded)
}

func TestScanStartPastLatestIsNoEvents(t *testing.T) {
	src := newFakeSource(99)
	s := newTestScanner(src, 0, Config{Retry: noRetry()}, nil)

	result, err := s.Scan(context.Background(), testContract, 100)
	require.NoError(t, err)
	assert.True(t, result.NoEvents())
	assert.Equal(t, 0, result.Ranges)
	assert.Empty(t, src.recordedCalls())
}

func TestScanOrdersAcrossEventTypes(t *testing.T) {
	src := newFakeSource(600,
		depositedLog(logPos{block: 500, txIndex: 1, logIndex: 4}, 1, 1),
		withdrawnLog(logPos{block: 500, txIndex: 0, logIndex: 2}, 1, 1),
		rewardsLog(logPos{block: 400}, 1, 1, 1),
	)

	fetchOrder := newTestScanner(src, 0, Config{Retry: noRetry(), TieBreak: TieBreakFetchOrder}, nil)
	result, err := fetchOrder.ScanRange(context.Background(), testContract, 0, 600)
	require.NoError(t, err)
	assert.Equal(t, []string{models.EventRewardsAdded, models.EventDeposited, models.EventWithdrawn}, names(result.Records))

	byLogIndex := newTestScanner(src, 0, Config{Retry: noRetry()}, nil)
	result, err = byLogIndex.ScanRange(context.Background(), testContract, 0, 600)
	require.NoError(t, err)
	assert.Equal(t, []string{models.EventRewardsAdded, models.EventWithdrawn, models.EventDeposited}, names(result.Records))
}

func TestScanOrderingSpansRanges(t *testing.T) {
	src := newFakeSource(30000,
		rewardsLog(logPos{block: 25000}, 1, 1, 1),
		depositedLog(logPos{block: 20001}, 1, 1),
		withdrawnLog(logPos{block: 5}, 1, 1),
		depositedLog(logPos{block: 15000}, 1, 1),
	)
	s := newTestScanner(src, 0, Config{Retry: noRetry()}, nil)

	result, err := s.ScanRange(context.Background(), testContract, 0, 30000)
	require.NoError(t, err)
	require.Len(t, result.Records, 4)
	for i := 1; i < len(result.Records); i++ {
		assert.LessOrEqual(t, result.Records[i-1].BlockNumber, result.Records[i].BlockNumber)
	}
}

func TestScanFailureInSecondRangeAborts(t *testing.T) {
	boom := errors.New("node exploded")
	src := newFakeSource(25000, depositedLog(logPos{block: 10}, 1, 1))
	src.fail = func(call sourceCall, attempt int) error {
		if call.from == 10000 && call.topic == topicOf(models.EventWithdrawn) {
			return boom
		}
		return nil
	}
	s := newTestScanner(src, 0, Config{Retry: noRetry()}, nil)

	result, err := s.ScanRange(context.Background(), testContract, 0, 25000)
	assert.Nil(t, result)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, OpGetLogs, fetchErr.Op)
	assert.Equal(t, models.EventWithdrawn, fetchErr.Event)
	assert.Equal(t, BlockRange{From: 10000, To: 19999}, fetchErr.Range)
	assert.ErrorIs(t, err, boom)

	// nothing is requested after the failure
	assert.Len(t, src.recordedCalls(), 5)
}

func TestScanDecodeFailureIsFatal(t *testing.T) {
	bad := depositedLog(logPos{block: 10}, 1, 1)
	bad.Data = []byte{0x01}
	src := newFakeSource(100, bad)
	s := newTestScanner(src, 0, Config{Retry: noRetry()}, nil)

	result, err := s.ScanRange(context.Background(), testContract, 0, 100)
	assert.Nil(t, result)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, OpDecode, fetchErr.Op)
}

func TestScanLatestBlockFailure(t *testing.T) {
	src := newFakeSource(0)
	src.latestErr = errors.New("invalid params")
	s := newTestScanner(src, 0, Config{Retry: retry.DefaultPolicy()}, nil)

	result, err := s.Scan(context.Background(), testContract, 0)
	assert.Nil(t, result)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, OpLatestBlock, fetchErr.Op)
}

func TestScanRespectsRequestDelay(t *testing.T) {
	const delay = 15 * time.Millisecond
	src := newFakeSource(15000)
	s := newTestScanner(src, delay, Config{Retry: noRetry()}, nil)

	_, err := s.ScanRange(context.Background(), testContract, 0, 15000)
	require.NoError(t, err)

	calls := src.recordedCalls()
	require.Len(t, calls, 6)
	assert.GreaterOrEqual(t, calls[5].at.Sub(calls[0].at), 5*delay)
}

func TestScanRetriesTransientFailures(t *testing.T) {
	src := newFakeSource(100, rewardsLog(logPos{block: 50}, 1, 1, 1))
	src.fail = func(call sourceCall, attempt int) error {
		if call.topic == topicOf(models.EventRewardsAdded) && attempt < 3 {
			return retry.Transient(errors.New("429 too many requests"))
		}
		return nil
	}
	rec := &countingRecorder{}
	policy := retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	s := newTestScanner(src, 0, Config{Retry: policy}, rec)

	result, err := s.ScanRange(context.Background(), testContract, 0, 100)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, int32(2), rec.retries.Load())
	assert.Len(t, src.recordedCalls(), 5)
}

func TestScanParallelMatchesSequential(t *testing.T) {
	logs := newFakeSource(59999,
		depositedLog(logPos{block: 59000, logIndex: 1}, 1, 1),
		withdrawnLog(logPos{block: 59000, logIndex: 0}, 1, 1),
		rewardsLog(logPos{block: 31000}, 1, 1, 1),
		depositedLog(logPos{block: 12}, 1, 1),
		withdrawnLog(logPos{block: 45000}, 1, 1),
	).logs

	sequential := newTestScanner(newFakeSource(59999, logs...), 0, Config{Retry: noRetry()}, nil)
	want, err := sequential.ScanRange(context.Background(), testContract, 0, 59999)
	require.NoError(t, err)

	src := newFakeSource(59999, logs...)
	src.latency = time.Millisecond
	rec := &countingRecorder{}
	parallel := newTestScanner(src, time.Millisecond, Config{Retry: noRetry(), Concurrency: 4}, rec)
	got, err := parallel.ScanRange(context.Background(), testContract, 0, 59999)
	require.NoError(t, err)

	assert.Equal(t, names(want.Records), names(got.Records))
	for i := range want.Records {
		assert.Equal(t, want.Records[i].BlockNumber, got.Records[i].BlockNumber)
		assert.Equal(t, want.Records[i].LogIndex, got.Records[i].LogIndex)
	}
	assert.Equal(t, int32(6), rec.ranges.Load())
	// the fixed-delay limiter admits one request at a time
	assert.Equal(t, int32(1), src.maxInFlight)
}

func TestScanParallelFailureReturnsNoResult(t *testing.T) {
	src := newFakeSource(60000)
	src.fail = func(call sourceCall, attempt int) error {
		if call.from == 30000 {
			return errors.New("invalid params")
		}
		return nil
	}
	s, err := New(src, ratelimit.NewTokenBucket(0), models.VaultEvents(),
		Config{MaxSpan: DefaultMaxSpan, Concurrency: 3, Retry: noRetry()}, nil)
	require.NoError(t, err)

	result, err := s.ScanRange(context.Background(), testContract, 0, 60000)
	assert.Nil(t, result)
	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestScanCancelled(t *testing.T) {
	src := newFakeSource(100000)
	s := newTestScanner(src, 50*time.Millisecond, Config{Retry: noRetry()}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	result, err := s.ScanRange(ctx, testContract, 0, 100000)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScanDedupesRepeatedLogs(t *testing.T) {
	log := depositedLog(logPos{block: 7}, 1, 1)
	src := newFakeSource(10, log, log)
	s := newTestScanner(src, 0, Config{Retry: noRetry()}, nil)

	result, err := s.ScanRange(context.Background(), testContract, 0, 10)
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
}

func TestNewRejectsEmptyEventSet(t *testing.T) {
	_, err := New(newFakeSource(0), ratelimit.NewFixedDelay(0), models.EventSet{}, Config{}, nil)
	assert.Error(t, err)
}

func TestResultRun(t *testing.T) {
	src := newFakeSource(10, depositedLog(logPos{block: 7}, 1, 1))
	s := newTestScanner(src, 0, Config{Retry: noRetry()}, nil)

	result, err := s.ScanRange(context.Background(), testContract, 0, 10)
	require.NoError(t, err)

	run := result.Run()
	assert.Equal(t, result.ID, run.ID)
	assert.Equal(t, 1, run.EventsFound)
	assert.Equal(t, common.HexToAddress("0xaa").Hex(), run.Contract)
	assert.Equal(t, models.OutcomeEvents, run.Outcome)
}
