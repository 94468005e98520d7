package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/vault-event-scanner/internal/config"
	"github.com/smartdevs17/vault-event-scanner/internal/connection"
	"github.com/smartdevs17/vault-event-scanner/internal/metrics"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/smartdevs17/vault-event-scanner/internal/ratelimit"
	"github.com/smartdevs17/vault-event-scanner/internal/retry"
	"github.com/smartdevs17/vault-event-scanner/internal/scanner"
	"github.com/smartdevs17/vault-event-scanner/internal/server"
	"github.com/smartdevs17/vault-event-scanner/internal/sink"
	"github.com/smartdevs17/vault-event-scanner/internal/storage"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

const failedRunSaveTimeout = 5 * time.Second

// Application wires the scanner to its node connection, history store and
// result sinks.
type Application struct {
	config     *config.Config
	logger     *logrus.Logger
	metrics    *metrics.Manager
	connection *connection.ConnectionManager
	client     *connection.Client
	scanner    *scanner.Scanner
	storage    storage.Storage
	sinks      *sink.Multi
	contract   common.Address
}

// NewApplication creates a new application instance. The caller owns mm so
// tests can use a private registry.
func NewApplication(cfg *config.Config, mm *metrics.Manager) (*Application, error) {
	app := &Application{
		config:   cfg,
		metrics:  mm,
		contract: common.HexToAddress(cfg.Scanner.ContractAddress),
	}

	if err := app.initializeLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	if app.config.App.Debug {
		logCfg.Level = "debug"
	}

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Debug("Logger initialized")

	return nil
}

func (app *Application) initializeComponents() error {
	pm := app.metrics.GetPrometheusMetrics()

	app.connection = connection.NewConnectionManager(&app.config.RPC, pm)
	app.client = connection.NewClient(app.connection, app.config.RPC.RequestTimeout, pm)

	if err := app.initializeScanner(); err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}

	if app.config.Storage.Enabled {
		if err := app.initializeStorage(); err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
	}

	if err := app.initializeSinks(); err != nil {
		return fmt.Errorf("failed to initialize sinks: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"contract": app.contract.Hex(),
		"events":   app.scanner.Events().Names(),
		"storage":  app.storage != nil,
		"sinks":    app.sinks.Len(),
	}).Debug("Application components initialized")
	return nil
}

func (app *Application) initializeScanner() error {
	scanCfg := app.config.Scanner

	events, err := models.VaultEvents().Select(scanCfg.Events...)
	if err != nil {
		return utils.WrapError(utils.ErrCodeConfiguration, "Invalid event selection", err)
	}

	limiter, err := ratelimit.New(scanCfg.Limiter, scanCfg.RequestDelay)
	if err != nil {
		return utils.WrapError(utils.ErrCodeConfiguration, "Invalid rate limiter", err)
	}

	tieBreak, err := scanner.ParseTieBreak(scanCfg.TieBreak)
	if err != nil {
		return err
	}

	app.scanner, err = scanner.New(app.client, limiter, events, scanner.Config{
		MaxSpan:     scanCfg.MaxSpan,
		Concurrency: scanCfg.Concurrency,
		TieBreak:    tieBreak,
		Retry: retry.Policy{
			MaxAttempts:     scanCfg.Retry.MaxAttempts,
			InitialInterval: scanCfg.Retry.InitialInterval,
			MaxInterval:     scanCfg.Retry.MaxInterval,
			MaxElapsedTime:  scanCfg.Retry.MaxElapsedTime,
		},
	}, app.metrics.GetPrometheusMetrics())
	return err
}

func (app *Application) initializeStorage() error {
	store, err := storage.Open(&app.config.Storage)
	if err != nil {
		return err
	}
	app.storage = storage.NewStorageWithMetrics(store, app.metrics.GetPrometheusMetrics())

	app.logger.WithFields(logrus.Fields{
		"type": app.config.Storage.Type,
	}).Debug("Storage initialized")
	return nil
}

func (app *Application) initializeSinks() error {
	app.sinks = sink.NewMulti(app.metrics.GetPrometheusMetrics())

	if app.storage != nil {
		app.sinks.Add(sink.NewStorageSink(app.storage, app.scanner.Events()))
	}

	if app.config.Sinks.Webhook.Enabled {
		app.sinks.Add(sink.NewWebhookSink(app.config.Sinks.Webhook))
	}

	if app.config.Sinks.NATS.Enabled {
		natsSink, err := sink.ConnectNATS(app.config.Sinks.NATS)
		if err != nil {
			return err
		}
		app.sinks.Add(natsSink)
	}

	return nil
}

// RunScan scans from the configured start block to the chain head and hands
// the result to every sink. A failed scan is recorded in history when
// storage is enabled.
func (app *Application) RunScan(ctx context.Context) (*scanner.Result, error) {
	if timeout := app.config.Scanner.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	startedAt := time.Now().UTC()
	result, err := app.scanner.Scan(ctx, app.contract, app.config.Scanner.StartBlock)
	if err != nil {
		app.recordFailedRun(startedAt, err)
		return nil, err
	}

	if failed := app.sinks.Deliver(ctx, result); failed > 0 {
		app.logger.WithFields(logrus.Fields{
			"scan_id": result.ID,
			"failed":  failed,
		}).Warn("Some sinks did not receive the scan")
	}

	return result, nil
}

func (app *Application) recordFailedRun(startedAt time.Time, scanErr error) {
	if app.storage == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), failedRunSaveTimeout)
	defer cancel()

	run := &models.ScanRun{
		ID:          uuid.NewString(),
		Contract:    app.contract.Hex(),
		FromBlock:   app.config.Scanner.StartBlock,
		Outcome:     models.OutcomeFailed,
		Error:       scanErr.Error(),
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
	}
	if err := app.storage.SaveScanRun(ctx, run); err != nil {
		app.logger.WithError(err).Error("Failed to record failed scan")
	}
}

// NewServer builds the HTTP API over the application's components.
func (app *Application) NewServer(version string) *server.HTTPServer {
	return server.NewHTTPServer(&app.config.Server, server.Dependencies{
		Storage: app.storage,
		Scanner: app,
		Node:    app.connection,
		Metrics: app.metrics,
		Version: version,
	})
}

// Storage returns the history store, or nil when storage is disabled.
func (app *Application) Storage() storage.Storage {
	return app.storage
}

// Close releases sinks, storage and the node connection.
func (app *Application) Close() {
	if app.sinks != nil {
		if err := app.sinks.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close sinks")
		}
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}
	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}
}
