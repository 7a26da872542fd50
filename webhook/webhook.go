// Package webhook notifies an HTTP endpoint when a run ends.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/use-agent/harvest/models"
)

// Event types.
const (
	RunCompleted   = "run.completed"
	RunAborted     = "run.aborted"
	RunInterrupted = "run.interrupted"
)

// SignatureHeader carries "sha256=<hex>" of the body when a secret is set.
const SignatureHeader = "X-Harvest-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string          `json:"type"`
	RunID     string          `json:"run_id"`
	Timestamp int64           `json:"timestamp"`
	Data      *models.Summary `json:"data"`
}

// Notifier posts events with retries.
type Notifier struct {
	url    string
	secret string
	client *resty.Client
	logger *slog.Logger
}

// New builds a Notifier. Failed deliveries are retried three times with
// backoff starting at one second.
func New(url, secret string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New()
	client.SetHeader("User-Agent", "Harvest-Webhook/1.0")
	client.SetTimeout(10 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(time.Second)
	client.SetRetryMaxWaitTime(30 * time.Second)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		return err != nil || res.StatusCode() >= 500 || res.StatusCode() == 429
	})
	return &Notifier{url: url, secret: secret, client: client, logger: logger}
}

// EventType maps a finished run to its event type.
func EventType(sum *models.Summary, runErr error) string {
	switch {
	case sum != nil && sum.Aborted:
		return RunAborted
	case runErr != nil:
		return RunInterrupted
	}
	return RunCompleted
}

// Deliver sends one event synchronously. The request body is signed with
// HMAC-SHA256 when a secret is configured.
func (n *Notifier) Deliver(ctx context.Context, eventType string, sum *models.Summary) error {
	ev := Event{Type: eventType, Timestamp: time.Now().Unix(), Data: sum}
	if sum != nil {
		ev.RunID = sum.RunID
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if n.secret != "" {
		req.SetHeader(SignatureHeader, "sha256="+Sign(n.secret, body))
	}

	res, err := req.Post(n.url)
	if err != nil {
		n.logger.Warn("webhook delivery failed", "url", n.url, "event", eventType, "error", err)
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	if res.IsError() {
		n.logger.Warn("webhook delivery failed", "url", n.url, "event", eventType,
			"status", res.StatusCode(), "attempts", res.Request.Attempt)
		return fmt.Errorf("webhook: endpoint returned status %d", res.StatusCode())
	}
	n.logger.Info("webhook delivered", "url", n.url, "event", eventType,
		"run_id", ev.RunID, "attempts", res.Request.Attempt)
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
