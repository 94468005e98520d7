package sink

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/vault-event-scanner/internal/config"
	"github.com/smartdevs17/vault-event-scanner/internal/scanner"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

const natsFlushTimeout = 5 * time.Second

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// ScanSummary is published once per scan after its events.
type ScanSummary struct {
	ID          string    `json:"id"`
	Contract    string    `json:"contract"`
	FromBlock   uint64    `json:"from_block"`
	ToBlock     uint64    `json:"to_block"`
	Ranges      int       `json:"ranges"`
	Requests    int       `json:"requests"`
	EventsFound int       `json:"events_found"`
	Outcome     string    `json:"outcome"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// NATSSink publishes every record to <prefix>.<EventName> and a summary to
// <prefix>.scan.
type NATSSink struct {
	conn   Publisher
	prefix string
	logger *logrus.Entry
}

// ConnectNATS dials the configured server and returns a sink over it.
func ConnectNATS(cfg config.NATSConfig) (*NATSSink, error) {
	logger := utils.ComponentLogger("nats_sink")

	opts := []nats.Option{
		nats.Name("vault-event-scanner"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("Reconnected to NATS")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Debug("NATS connection closed")
		}),
	}

	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeConnection, "Failed to connect to NATS", err)
	}
	logger.WithField("url", conn.ConnectedUrl()).Info("Connected to NATS")

	return NewNATSSink(conn, cfg.SubjectPrefix), nil
}

// NewNATSSink creates a sink over an existing connection.
func NewNATSSink(conn Publisher, prefix string) *NATSSink {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = "vault.events"
	}
	return &NATSSink{
		conn:   conn,
		prefix: prefix,
		logger: utils.ComponentLogger("nats_sink"),
	}
}

func (n *NATSSink) Name() string { return "nats" }

// Subject returns the subject records of eventName are published on.
func (n *NATSSink) Subject(eventName string) string {
	return n.prefix + "." + eventName
}

// Deliver publishes the records in scan order, then the summary, and waits
// for the server to acknowledge them.
func (n *NATSSink) Deliver(ctx context.Context, result *scanner.Result) error {
	for _, r := range result.Records {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := json.Marshal(r)
		if err != nil {
			return utils.WrapError(utils.ErrCodeDelivery, "Failed to marshal event", err)
		}
		if err := n.conn.Publish(n.Subject(r.EventName), data); err != nil {
			return utils.WrapError(utils.ErrCodeDelivery, "Failed to publish event", err)
		}
	}

	summary, err := json.Marshal(&ScanSummary{
		ID:          result.ID,
		Contract:    result.Contract.Hex(),
		FromBlock:   result.FromBlock,
		ToBlock:     result.ToBlock,
		Ranges:      result.Ranges,
		Requests:    result.Requests,
		EventsFound: len(result.Records),
		Outcome:     result.Outcome,
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
	})
	if err != nil {
		return utils.WrapError(utils.ErrCodeDelivery, "Failed to marshal scan summary", err)
	}
	if err := n.conn.Publish(n.prefix+".scan", summary); err != nil {
		return utils.WrapError(utils.ErrCodeDelivery, "Failed to publish scan summary", err)
	}

	timeout := natsFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := n.conn.FlushTimeout(timeout); err != nil {
		return utils.WrapError(utils.ErrCodeDelivery, "Failed to flush NATS connection", err)
	}

	n.logger.WithFields(logrus.Fields{
		"scan_id": result.ID,
		"events":  len(result.Records),
	}).Debug("Published scan to NATS")
	return nil
}

// Close closes the NATS connection.
func (n *NATSSink) Close() error {
	n.conn.Close()
	return nil
}
