package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/vault-event-scanner/internal/config"
	"github.com/smartdevs17/vault-event-scanner/internal/retry"
	"github.com/smartdevs17/vault-event-scanner/internal/scanner"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

const (
	webhookSource  = "vault-event-scanner"
	webhookVersion = "1.0"
)

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Data      *scanner.Result `json:"data"`
}

// WebhookSink POSTs each completed scan as JSON.
type WebhookSink struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	retry      retry.Policy
	logger     *logrus.Entry
}

// NewWebhookSink creates a webhook sink
func NewWebhookSink(cfg config.WebhookConfig) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.MaxRetries

	return &WebhookSink{
		url:     cfg.URL,
		headers: cfg.Headers,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		retry:  policy,
		logger: utils.ComponentLogger("webhook_sink"),
	}
}

// WithRetry replaces the retry policy.
func (w *WebhookSink) WithRetry(p retry.Policy) *WebhookSink {
	w.retry = p
	return w
}

func (w *WebhookSink) Name() string { return "webhook" }

// Deliver sends result, retrying on network errors and 5xx/429 responses.
func (w *WebhookSink) Deliver(ctx context.Context, result *scanner.Result) error {
	body, err := json.Marshal(&WebhookPayload{
		Type:      "scan_completed",
		Source:    webhookSource,
		Version:   webhookVersion,
		Timestamp: time.Now().UTC(),
		Data:      result,
	})
	if err != nil {
		return utils.WrapError(utils.ErrCodeDelivery, "Failed to marshal webhook payload", err)
	}

	return w.retry.Do(ctx, func(ctx context.Context) error {
		return w.send(ctx, body)
	}, func(err error, attempt int, next time.Duration) {
		w.logger.WithFields(logrus.Fields{
			"url":     w.url,
			"attempt": attempt,
			"backoff": next,
		}).WithError(err).Warn("Webhook attempt failed, retrying")
	})
}

// send sends a single webhook request
func (w *WebhookSink) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return retry.Terminal(utils.WrapError(utils.ErrCodeDelivery, "Failed to create webhook request", err))
	}
	w.setRequestHeaders(req)

	start := time.Now()
	resp, err := w.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.Transient(utils.WrapError(utils.ErrCodeDelivery, "Failed to send webhook", err))
	}
	defer resp.Body.Close()

	// Read response body (limited to prevent memory issues)
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	w.logger.WithFields(logrus.Fields{
		"url":           w.url,
		"status_code":   resp.StatusCode,
		"response_time": time.Since(start),
	}).Debug("Webhook response")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	appErr := utils.NewAppError(utils.ErrCodeDelivery,
		"Webhook returned non-success status",
		fmt.Sprintf("status: %d, body: %s", resp.StatusCode, snippet))
	if retry.ClassifyHTTPStatus(resp.StatusCode).IsTransient() {
		return retry.Transient(appErr)
	}
	return retry.Terminal(appErr)
}

// setRequestHeaders sets HTTP request headers
func (w *WebhookSink) setRequestHeaders(req *http.Request) {
	for key, value := range w.headers {
		req.Header.Set(key, value)
	}

	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "Vault-Event-Scanner/1.0")
	}
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Request-ID", uuid.NewString())
}
