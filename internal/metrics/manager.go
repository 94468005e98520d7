package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Manager handles all application metrics
type Manager struct {
	prometheus *PrometheusMetrics
	gatherer   prometheus.Gatherer
	logger     *logrus.Entry
	startTime  time.Time
}

// NewManager creates a metrics manager backed by the default registry.
func NewManager() *Manager {
	return NewManagerWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewManagerWithRegistry creates a metrics manager on a caller-owned
// registry; tests use a fresh prometheus.NewRegistry() each.
func NewManagerWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(reg),
		gatherer:   gatherer,
		logger:     logrus.WithField("component", "metrics"),
		startTime:  time.Now(),
	}
}

// GetPrometheusMetrics returns the Prometheus metrics instance
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// UpdateSystemMetrics updates system-level metrics like memory and goroutines
func (m *Manager) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.prometheus.UpdateMemoryUsage(memStats.Alloc)
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)
}

// StartSystemMetrics refreshes system metrics every interval until stop is
// closed.
func (m *Manager) StartSystemMetrics(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.UpdateSystemMetrics()
		for {
			select {
			case <-ticker.C:
				m.UpdateSystemMetrics()
			case <-stop:
				m.logger.Debug("System metrics loop stopped")
				return
			}
		}
	}()
}
