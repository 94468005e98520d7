package main

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartdevs17/vault-event-scanner/internal/config"
	"github.com/smartdevs17/vault-event-scanner/internal/metrics"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vault = common.HexToAddress("0x52908400098527886E0F7030069857D2E4169EE7")
	user  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

// rpcNode serves eth_blockNumber and eth_getLogs from a fixed log set.
type rpcNode struct {
	mu     sync.Mutex
	head   uint64
	logs   []types.Log
	broken bool
}

func (n *rpcNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch {
	case req.Method == "net_version":
		resp["result"] = "11155111"
	case n.broken:
		resp["error"] = map[string]any{"code": -32602, "message": "invalid params"}
	case req.Method == "eth_blockNumber":
		resp["result"] = hexutil.Uint64(n.head)
	case req.Method == "eth_getLogs":
		var filter struct {
			Topics [][]common.Hash `json:"topics"`
		}
		_ = json.Unmarshal(req.Params[0], &filter)
		matched := []types.Log{}
		for _, l := range n.logs {
			if len(filter.Topics) > 0 && len(filter.Topics[0]) > 0 && l.Topics[0] == filter.Topics[0][0] {
				matched = append(matched, l)
			}
		}
		resp["result"] = matched
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func depositedLog(t *testing.T, block uint64) types.Log {
	t.Helper()
	spec, ok := models.VaultEvents().Lookup(models.EventDeposited)
	require.True(t, ok)

	uint256, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	data, err := abi.Arguments{{Type: uint256}, {Type: uint256}}.Pack(big.NewInt(1000), big.NewInt(10))
	require.NoError(t, err)

	return types.Log{
		Address:     vault,
		Topics:      []common.Hash{spec.Topic, common.BytesToHash(user.Bytes())},
		Data:        data,
		BlockNumber: block,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block)),
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block * 3)),
	}
}

func testConfig(t *testing.T, nodeURL string) *config.Config {
	t.Helper()
	return &config.Config{
		RPC: config.RPCConfig{
			NodeURL:        nodeURL,
			RequestTimeout: 5 * time.Second,
			RetryAttempts:  1,
			RetryDelay:     10 * time.Millisecond,
		},
		Scanner: config.ScannerConfig{
			ContractAddress: vault.Hex(),
			StartBlock:      100,
			MaxSpan:         99,
			Limiter:         "fixed",
			Concurrency:     1,
			TieBreak:        "log_index",
			Retry:           config.RetryConfig{MaxAttempts: 0},
		},
		Storage: config.StorageConfig{
			Enabled:          true,
			Type:             "sqlite",
			ConnectionString: filepath.Join(t.TempDir(), "events.db"),
		},
		Logging: config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*Application, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	app, err := NewApplication(cfg, metrics.NewManagerWithRegistry(reg, reg))
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app, reg
}

func TestRunScanStoresResult(t *testing.T) {
	node := &rpcNode{head: 350, logs: []types.Log{depositedLog(t, 120), depositedLog(t, 310)}}
	srv := httptest.NewServer(node)
	defer srv.Close()

	app, _ := newTestApp(t, testConfig(t, srv.URL))
	ctx := context.Background()

	result, err := app.RunScan(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), result.FromBlock)
	assert.Equal(t, uint64(350), result.ToBlock)
	assert.Equal(t, 3, result.Ranges)
	assert.Equal(t, 9, result.Requests)
	require.Len(t, result.Records, 2)
	assert.Equal(t, uint64(120), result.Records[0].BlockNumber)
	assert.Equal(t, uint64(310), result.Records[1].BlockNumber)

	run, err := app.Storage().GetScanRun(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEvents, run.Outcome)
	assert.Equal(t, 2, run.EventsFound)

	stored, err := app.Storage().GetEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRunScanRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(&rpcNode{head: 350, broken: true})
	defer srv.Close()

	app, reg := newTestApp(t, testConfig(t, srv.URL))
	ctx := context.Background()

	_, err := app.RunScan(ctx)
	require.Error(t, err)

	runs, err := app.Storage().GetScanRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.OutcomeFailed, runs[0].Outcome)
	assert.Contains(t, runs[0].Error, "fetch latest block")

	count, err := testutil.GatherAndCount(reg, "vault_scanner_scans_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewApplicationRejectsUnknownEvent(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Scanner.Events = []string{"Slashed"}

	reg := prometheus.NewRegistry()
	_, err := NewApplication(cfg, metrics.NewManagerWithRegistry(reg, reg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Slashed")
}
