package connection

import (
	"context"
	"errors"
	"math/big"
	"net"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/vault-event-scanner/internal/metrics"
	"github.com/smartdevs17/vault-event-scanner/internal/retry"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

// Client answers the scanner's node queries through a Manager. Every call
// is bounded by the configured request timeout.
type Client struct {
	manager Manager
	timeout time.Duration
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry
}

// NewClient creates a node client. m may be nil.
func NewClient(manager Manager, timeout time.Duration, m *metrics.PrometheusMetrics) *Client {
	return &Client{
		manager: manager,
		timeout: timeout,
		metrics: m,
		logger:  utils.ComponentLogger("rpc_client"),
	}
}

// GetLogs returns the logs of contract carrying topic in [from, to].
func (c *Client) GetLogs(ctx context.Context, contract common.Address, topic common.Hash, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{topic}},
	}

	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		client, err := c.manager.GetClientWithContext(ctx)
		if err != nil {
			return err
		}
		logs, err = client.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"from_block": from,
			"to_block":   to,
			"topic":      topic.Hex(),
		}).WithError(err).Debug("Failed to get logs")
		return nil, utils.WrapError(utils.ErrCodeBlockchain, "Failed to get logs", err)
	}

	return logs, nil
}

// LatestBlockNumber returns the node's head block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		client, err := c.manager.GetClientWithContext(ctx)
		if err != nil {
			return err
		}
		number, err = client.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, utils.WrapError(utils.ErrCodeBlockchain, "Failed to get latest block number", err)
	}
	return number, nil
}

// NetworkID returns the node's network ID.
func (c *Client) NetworkID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.call(ctx, "net_version", func(ctx context.Context) error {
		client, err := c.manager.GetClientWithContext(ctx)
		if err != nil {
			return err
		}
		id, err = client.NetworkID(ctx)
		return err
	})
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeBlockchain, "Failed to get network ID", err)
	}
	return id, nil
}

func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)

	if c.metrics != nil {
		c.metrics.RecordRPCRequest(c.manager.CurrentURL(), method, requestStatus(err), time.Since(start))
	}
	if err != nil && isConnectionFailure(err) {
		c.manager.MarkUnhealthy(err)
	}
	return err
}

func requestStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case retry.IsTransient(err):
		return "transient_error"
	default:
		return "error"
	}
}

// isConnectionFailure reports errors that suggest the node itself is gone,
// as opposed to a rejected request.
func isConnectionFailure(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
