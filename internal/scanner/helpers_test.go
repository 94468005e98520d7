package scanner

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/smartdevs17/vault-event-scanner/internal/ratelimit"
	"github.com/smartdevs17/vault-event-scanner/internal/retry"
)

var (
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testUser     = common.HexToAddress("0x1234567890123456789012345678901234567890")
	vaultABI     = mustParseABI()
)

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(models.VaultEventsABI))
	if err != nil {
		panic(err)
	}
	return parsed
}

func topicOf(name string) common.Hash {
	spec, ok := models.VaultEvents().Lookup(name)
	if !ok {
		panic("unknown event " + name)
	}
	return spec.Topic
}

func packData(name string, values ...interface{}) []byte {
	data, err := vaultABI.Events[name].Inputs.NonIndexed().Pack(values...)
	if err != nil {
		panic(err)
	}
	return data
}

// logPos places a log on chain; hashes are derived from it so every
// position is unique.
type logPos struct {
	block    uint64
	txIndex  uint
	logIndex uint
}

func (p logPos) apply(l types.Log) types.Log {
	l.Address = testContract
	l.BlockNumber = p.block
	l.BlockHash = common.BigToHash(new(big.Int).SetUint64(p.block))
	l.TxIndex = p.txIndex
	l.TxHash = common.BigToHash(big.NewInt(int64(p.block*1000 + uint64(p.txIndex))))
	l.Index = p.logIndex
	return l
}

func depositedLog(pos logPos, amount, shares int64) types.Log {
	return pos.apply(types.Log{
		Topics: []common.Hash{topicOf(models.EventDeposited), common.BytesToHash(testUser.Bytes())},
		Data:   packData(models.EventDeposited, big.NewInt(amount), big.NewInt(shares)),
	})
}

func withdrawnLog(pos logPos, amount, shares int64) types.Log {
	return pos.apply(types.Log{
		Topics: []common.Hash{topicOf(models.EventWithdrawn), common.BytesToHash(testUser.Bytes())},
		Data:   packData(models.EventWithdrawn, big.NewInt(amount), big.NewInt(shares)),
	})
}

func rewardsLog(pos logPos, amount, duration, finish int64) types.Log {
	return pos.apply(types.Log{
		Topics: []common.Hash{topicOf(models.EventRewardsAdded)},
		Data:   packData(models.EventRewardsAdded, big.NewInt(amount), big.NewInt(duration), big.NewInt(finish)),
	})
}

type sourceCall struct {
	topic common.Hash
	from  uint64
	to    uint64
	at    time.Time
}

// fakeSource serves logs from memory and records every call.
type fakeSource struct {
	mu        sync.Mutex
	latest    uint64
	latestErr error
	logs      []types.Log
	calls     []sourceCall
	fail      func(call sourceCall, attempt int) error
	attempts  map[sourceCall]int
	latency   time.Duration

	inFlight    int32
	maxInFlight int32
}

func newFakeSource(latest uint64, logs ...types.Log) *fakeSource {
	return &fakeSource{latest: latest, logs: logs, attempts: make(map[sourceCall]int)}
}

func (s *fakeSource) GetLogs(ctx context.Context, contract common.Address, topic common.Hash, from, to uint64) ([]types.Log, error) {
	cur := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&s.maxInFlight)
		if cur <= prev || atomic.CompareAndSwapInt32(&s.maxInFlight, prev, cur) {
			break
		}
	}

	if s.latency > 0 {
		time.Sleep(s.latency)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceCall{topic: topic, from: from, to: to}
	call := key
	call.at = time.Now()
	s.calls = append(s.calls, call)
	s.attempts[key]++

	if s.fail != nil {
		if err := s.fail(key, s.attempts[key]); err != nil {
			return nil, err
		}
	}

	var out []types.Log
	for _, l := range s.logs {
		if l.Address == contract && l.Topics[0] == topic && l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if s.latestErr != nil {
		return 0, s.latestErr
	}
	return s.latest, nil
}

func (s *fakeSource) recordedCalls() []sourceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sourceCall, len(s.calls))
	copy(out, s.calls)
	return out
}

type countingRecorder struct {
	nopRecorder
	retries  atomic.Int32
	ranges   atomic.Int32
	outcomes sync.Map
}

func (r *countingRecorder) RecordFetchRetry(string) { r.retries.Add(1) }
func (r *countingRecorder) RecordRangeScanned() { r.ranges.Add(1) }
func (r *countingRecorder) RecordScan(outcome string, _ time.Duration) {
	r.outcomes.Store(outcome, true)
}

func noRetry() retry.Policy {
	return retry.Policy{}
}

func newTestScanner(src LogSource, delay time.Duration, cfg Config, rec Recorder) *Scanner {
	if cfg.MaxSpan == 0 {
		cfg.MaxSpan = DefaultMaxSpan
	}
	s, err := New(src, ratelimit.NewFixedDelay(delay), models.VaultEvents(), cfg, rec)
	if err != nil {
		panic(err)
	}
	return s
}
