package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/vault-event-scanner/internal/config"
	"github.com/smartdevs17/vault-event-scanner/internal/metrics"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

const healthCheckInterval = time.Minute

// Manager defines the connection manager interface
type Manager interface {
	GetClientWithContext(ctx context.Context) (*ethclient.Client, error)
	HealthCheckWithContext(ctx context.Context) error
	MarkUnhealthy(reason error)
	CurrentURL() string
	IsConnected() bool
	Close() error
	Stats() ConnectionStats
}

// ConnectionManager dials the primary node and fails over to backup nodes.
type ConnectionManager struct {
	config          *config.RPCConfig
	primaryURL      string
	backupURLs      []string
	currentIndex    int
	client          *ethclient.Client
	mu              sync.RWMutex
	logger          *logrus.Entry
	stats           ConnectionStats
	lastHealthCheck time.Time
	isHealthy       bool
	metrics         *metrics.PrometheusMetrics
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Reconnects      uint64    `json:"reconnects"`
	CurrentURL      string    `json:"current_url"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
	NetworkID       uint64    `json:"network_id"`
	LatestBlock     uint64    `json:"latest_block"`
}

// NewConnectionManager creates a new connection manager. m may be nil.
func NewConnectionManager(cfg *config.RPCConfig, m *metrics.PrometheusMetrics) *ConnectionManager {
	return &ConnectionManager{
		config:     cfg,
		primaryURL: cfg.NodeURL,
		backupURLs: cfg.BackupNodes,
		logger:     utils.ComponentLogger("connection"),
		metrics:    m,
		stats: ConnectionStats{
			CurrentURL: cfg.NodeURL,
		},
	}
}

// GetClientWithContext returns the current client, connecting or
// reconnecting as needed.
func (cm *ConnectionManager) GetClientWithContext(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.RLock()
	client := cm.client
	healthy := cm.isHealthy
	lastCheck := cm.lastHealthCheck
	cm.mu.RUnlock()

	if client == nil {
		return cm.connect(ctx)
	}
	if !healthy {
		return cm.reconnect(ctx)
	}

	if time.Since(lastCheck) > healthCheckInterval {
		if err := cm.quickHealthCheck(ctx, client); err != nil {
			cm.logger.WithError(err).Warn("Client health check failed, reconnecting")
			return cm.reconnect(ctx)
		}
		cm.mu.Lock()
		cm.lastHealthCheck = time.Now()
		cm.mu.Unlock()
	}

	cm.mu.Lock()
	cm.stats.TotalRequests++
	cm.mu.Unlock()
	return client, nil
}

// connect establishes a new connection
func (cm *ConnectionManager) connect(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	// another caller may have connected while we waited for the lock
	if cm.client != nil && cm.isHealthy {
		return cm.client, nil
	}

	urls := cm.getAllURLs()
	attempts := cm.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		for _, url := range urls {
			logger := cm.logger.WithFields(logrus.Fields{"url": url, "attempt": attempt + 1})
			logger.Debug("Attempting connection")

			client, err := cm.dialWithTimeout(ctx, url)
			if err != nil {
				logger.WithError(err).Warn("Connection failed")
				cm.stats.FailedRequests++
				cm.recordConnectionError(url, "dial_failed")
				lastErr = err
				continue
			}

			if err := cm.quickHealthCheck(ctx, client); err != nil {
				client.Close()
				logger.WithError(err).Warn("Health check failed after connection")
				cm.stats.FailedRequests++
				cm.recordConnectionError(url, "health_check_failed")
				lastErr = err
				continue
			}

			cm.client = client
			cm.currentIndex = cm.indexOf(url)
			cm.stats.CurrentURL = url
			cm.stats.LastConnectedAt = time.Now()
			cm.stats.IsHealthy = true
			cm.isHealthy = true
			cm.lastHealthCheck = time.Now()

			logger.Info("Connected to node")
			return client, nil
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cm.config.RetryDelay):
			}
		}
	}

	return nil, utils.WrapError(utils.ErrCodeConnection, "Failed to connect to any node", lastErr)
}

// reconnect drops the current client and connects again, starting with the
// node after the one that failed.
func (cm *ConnectionManager) reconnect(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}
	if total := 1 + len(cm.backupURLs); total > 1 {
		cm.currentIndex = (cm.currentIndex + 1) % total
	}
	cm.isHealthy = false
	cm.stats.IsHealthy = false
	cm.stats.Reconnects++
	cm.mu.Unlock()

	return cm.connect(ctx)
}

// MarkUnhealthy forces the next GetClientWithContext call to reconnect.
func (cm *ConnectionManager) MarkUnhealthy(reason error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client == nil || !cm.isHealthy {
		return
	}
	cm.isHealthy = false
	cm.stats.IsHealthy = false
	cm.logger.WithError(reason).WithField("url", cm.stats.CurrentURL).Warn("Marking node connection unhealthy")
}

// dialWithTimeout creates a connection with timeout
func (cm *ConnectionManager) dialWithTimeout(ctx context.Context, url string) (*ethclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.config.RequestTimeout)
	defer cancel()

	return ethclient.DialContext(dialCtx, url)
}

// quickHealthCheck asks the node for its chain ID and, when configured,
// checks it.
func (cm *ConnectionManager) quickHealthCheck(ctx context.Context, client *ethclient.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	networkID, err := client.NetworkID(checkCtx)
	if err != nil {
		return err
	}
	if expected := cm.config.NetworkID; expected != 0 && networkID.Int64() != expected {
		return utils.NewAppError(utils.ErrCodeConnection, "Network ID mismatch",
			fmt.Sprintf("expected %d, got %d", expected, networkID.Int64()))
	}
	return nil
}

// HealthCheckWithContext verifies the node answers and records its state
func (cm *ConnectionManager) HealthCheckWithContext(ctx context.Context) error {
	client, err := cm.GetClientWithContext(ctx)
	if err != nil {
		return err
	}

	networkID, err := client.NetworkID(ctx)
	if err != nil {
		cm.MarkUnhealthy(err)
		return utils.WrapError(utils.ErrCodeConnection, "Failed to get network ID", err)
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		cm.MarkUnhealthy(err)
		return utils.WrapError(utils.ErrCodeConnection, "Failed to get latest block", err)
	}

	cm.mu.Lock()
	cm.stats.NetworkID = networkID.Uint64()
	cm.stats.LatestBlock = blockNumber
	cm.stats.LastHealthCheck = time.Now()
	cm.stats.IsHealthy = true
	cm.lastHealthCheck = time.Now()
	cm.isHealthy = true
	url := cm.stats.CurrentURL
	cm.mu.Unlock()

	cm.logger.WithFields(logrus.Fields{
		"network_id":   networkID.Uint64(),
		"latest_block": blockNumber,
		"url":          url,
	}).Info("Health check passed")

	return nil
}

// CurrentURL returns the node URL in use.
func (cm *ConnectionManager) CurrentURL() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats.CurrentURL
}

// IsConnected returns whether the manager is connected
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.client != nil && cm.isHealthy
}

// Close closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}

	cm.isHealthy = false
	cm.stats.IsHealthy = false
	cm.logger.Debug("Connection manager closed")
	return nil
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}

func (cm *ConnectionManager) recordConnectionError(endpoint, errorType string) {
	if cm.metrics != nil {
		cm.metrics.RecordConnectionError(endpoint, errorType)
	}
}

// getAllURLs returns all available URLs starting from current index
func (cm *ConnectionManager) getAllURLs() []string {
	urls := []string{cm.primaryURL}
	urls = append(urls, cm.backupURLs...)

	if cm.currentIndex > 0 && cm.currentIndex < len(urls) {
		rotated := make([]string, len(urls))
		copy(rotated, urls[cm.currentIndex:])
		copy(rotated[len(urls)-cm.currentIndex:], urls[:cm.currentIndex])
		return rotated
	}

	return urls
}

func (cm *ConnectionManager) indexOf(url string) int {
	if url == cm.primaryURL {
		return 0
	}
	for i, backup := range cm.backupURLs {
		if backup == url {
			return i + 1
		}
	}
	return 0
}
