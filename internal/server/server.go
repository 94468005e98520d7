package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/vault-event-scanner/internal/config"
	"github.com/smartdevs17/vault-event-scanner/internal/connection"
	"github.com/smartdevs17/vault-event-scanner/internal/metrics"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/smartdevs17/vault-event-scanner/internal/scanner"
	"github.com/smartdevs17/vault-event-scanner/internal/storage"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
	defaultScanLimit  = 20
)

var (
	// ErrScanInProgress is returned while another scan triggered over HTTP runs.
	ErrScanInProgress = utils.NewAppError(utils.ErrCodeConflict, "A scan is already in progress")
	// ErrStorageDisabled is returned by endpoints that read history when no
	// storage is configured.
	ErrStorageDisabled = utils.NewAppError(utils.ErrCodeUnavailable, "Storage is disabled")
)

// ScanRunner runs a single scan with the configured contract and start block.
type ScanRunner interface {
	RunScan(ctx context.Context) (*scanner.Result, error)
}

// NodeStatus reports on the node connection.
type NodeStatus interface {
	IsConnected() bool
	Stats() connection.ConnectionStats
}

// Dependencies are the components the API serves. Storage and Node may be nil.
type Dependencies struct {
	Storage storage.Storage
	Scanner ScanRunner
	Node    NodeStatus
	Metrics *metrics.Manager
	Version string
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	scanner        ScanRunner
	node           NodeStatus
	metricsManager *metrics.Manager
	version        string
	logger         *logrus.Entry
	scanning       atomic.Bool
	stop           chan struct{}
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg *config.ServerConfig, deps Dependencies) *HTTPServer {
	s := &HTTPServer{
		config:         cfg,
		storage:        deps.Storage,
		scanner:        deps.Scanner,
		node:           deps.Node,
		metricsManager: deps.Metrics,
		version:        deps.Version,
		logger:         utils.ComponentLogger("http_server"),
		stop:           make(chan struct{}),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Handler returns the routed handler with its middleware.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	}
	api.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)

	api.HandleFunc("/events", s.listEventsHandler).Methods(http.MethodGet)

	api.HandleFunc("/scans", s.listScansHandler).Methods(http.MethodGet)
	api.HandleFunc("/scans", s.runScanHandler).Methods(http.MethodPost)
	api.HandleFunc("/scans/{id}", s.getScanHandler).Methods(http.MethodGet)

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
	}
}

// Start starts listening in the background. It fails if the address cannot be
// bound.
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		s.updateComponentHealth(context.Background())
		s.metricsManager.StartSystemMetrics(30*time.Second, s.stop)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return utils.WrapError(utils.ErrCodeInternal, "Failed to start HTTP server", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop shuts the server down, waiting for in-flight requests up to ctx.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return s.server.Shutdown(ctx)
}

// healthHandler reports node and storage health. It answers 503 when
// storage is configured but unreachable.
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	components := s.updateComponentHealth(r.Context())

	status, code := "healthy", http.StatusOK
	if healthy, ok := components["storage"]; ok && !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	} else if healthy, ok := components["node"]; ok && !healthy {
		status = "degraded"
	}

	resp := map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"version":    s.version,
		"components": components,
		"scanning":   s.scanning.Load(),
	}
	if s.node != nil {
		resp["node"] = s.node.Stats()
	}
	s.writeJSON(w, code, resp)
}

func (s *HTTPServer) updateComponentHealth(ctx context.Context) map[string]bool {
	components := make(map[string]bool)
	if s.node != nil {
		components["node"] = s.node.IsConnected()
	}
	if s.storage != nil {
		components["storage"] = s.storage.Ping() == nil
	}

	if s.metricsManager != nil {
		pm := s.metricsManager.GetPrometheusMetrics()
		for name, healthy := range components {
			pm.UpdateComponentHealth(name, healthy)
		}
	}
	return components
}

// statsHandler returns stored event and scan totals
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, ErrStorageDisabled)
		return
	}

	stats, err := s.storage.GetStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"storage":   stats,
	}
	if s.node != nil {
		resp["node"] = s.node.Stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// listEventsHandler lists stored events in chain order. Query parameters:
// contract, event (repeatable or comma separated), from_block, to_block,
// scan_id, limit, offset.
func (s *HTTPServer) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, ErrStorageDisabled)
		return
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	events, err := s.storage.GetEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	countFilter := filter
	countFilter.Limit, countFilter.Offset = 0, 0
	total, err := s.storage.GetEventCount(r.Context(), countFilter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if events == nil {
		events = []*models.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"total":  total,
	})
}

func parseEventFilter(r *http.Request) (models.EventFilter, error) {
	q := r.URL.Query()
	filter := models.EventFilter{Limit: defaultEventLimit}

	if v := q.Get("contract"); v != "" {
		if !common.IsHexAddress(v) {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid contract address", v)
		}
		addr := common.HexToAddress(v)
		filter.ContractAddress = &addr
	}

	for _, v := range q["event"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				filter.EventNames = append(filter.EventNames, name)
			}
		}
	}

	if v := q.Get("from_block"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid from_block", v)
		}
		filter.FromBlock = &n
	}
	if v := q.Get("to_block"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return filter, utils.NewAppError(utils.ErrCodeValidation, "Invalid to_block", v)
		}
		filter.ToBlock = &n
	}
	if filter.FromBlock != nil && filter.ToBlock != nil && *filter.FromBlock > *filter.ToBlock {
		return filter, utils.NewAppError(utils.ErrCodeValidation, "from_block is after to_block")
	}

	if v := q.Get("scan_id"); v != "" {
		filter.ScanID = &v
	}

	limit, err := intParam(q.Get("limit"), defaultEventLimit)
	if err != nil {
		return filter, err
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	filter.Limit = limit

	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		return filter, err
	}
	return filter, nil
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, utils.NewAppError(utils.ErrCodeValidation, "Invalid numeric parameter", v)
	}
	return n, nil
}

// listScansHandler lists recorded scans, newest first
func (s *HTTPServer) listScansHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, ErrStorageDisabled)
		return
	}

	limit, err := intParam(r.URL.Query().Get("limit"), defaultScanLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	runs, err := s.storage.GetScanRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.ScanRun{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"scans": runs,
		"total": len(runs),
	})
}

// getScanHandler gets a recorded scan by ID
func (s *HTTPServer) getScanHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, ErrStorageDisabled)
		return
	}

	run, err := s.storage.GetScanRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// runScanHandler runs a scan and returns its result. Only one scan runs at a
// time; concurrent requests get 409.
func (s *HTTPServer) runScanHandler(w http.ResponseWriter, r *http.Request) {
	if !s.scanning.CompareAndSwap(false, true) {
		s.writeError(w, ErrScanInProgress)
		return
	}
	defer s.scanning.Store(false)

	result, err := s.scanner.RunScan(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError maps err to a status code by its error code.
func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	code := utils.ErrorCode(err)
	status := statusFor(code)

	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"status": status,
			"code":   code,
		}).WithError(err).Error("HTTP error")
	}

	s.writeJSON(w, status, map[string]interface{}{
		"error":     err.Error(),
		"code":      code,
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func statusFor(code string) int {
	switch code {
	case utils.ErrCodeValidation:
		return http.StatusBadRequest
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	case utils.ErrCodeConflict:
		return http.StatusConflict
	case utils.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case utils.ErrCodeBlockchain, utils.ErrCodeConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
