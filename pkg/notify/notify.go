// Package notify delivers operator notifications. Delivery is fire-and-forget:
// failures are logged and never reach the trading loop.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpc"
)

const defaultTimeout = 5 * time.Second

// Notifier sends a message with optional structured metadata.
type Notifier interface {
	Notify(ctx context.Context, msg string, meta map[string]any)
}

// Nop drops every message.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string, map[string]any) {}

// Log writes messages to the service log.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(ctx context.Context, msg string, meta map[string]any) {
	if len(meta) == 0 {
		logx.WithContext(ctx).Infof("notify: %s", msg)
		return
	}
	logx.WithContext(ctx).Infow("notify: "+msg, logx.Field("meta", meta))
}

// Multi fans a message out to several notifiers in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg string, meta map[string]any) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, msg, meta)
		}
	}
}

type webhookPayload struct {
	Content string         `json:"content"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Webhook posts messages as JSON to a chat webhook (Discord/Slack compatible
// "content" field).
type Webhook struct {
	url     string
	timeout time.Duration
	svc     httpc.Service
}

// NewWebhook builds a webhook notifier. A zero timeout means 5s.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{
		url:     strings.TrimSpace(url),
		timeout: timeout,
		svc:     httpc.NewServiceWithClient("notify-webhook", &http.Client{Timeout: timeout}),
	}
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, msg string, meta map[string]any) {
	if err := w.send(ctx, msg, meta); err != nil {
		logx.WithContext(ctx).Errorf("notify: webhook delivery failed: %v", err)
	}
}

func (w *Webhook) send(ctx context.Context, msg string, meta map[string]any) error {
	if w.url == "" {
		return fmt.Errorf("webhook url is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	body, err := json.Marshal(webhookPayload{Content: msg, Meta: meta})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.svc.DoRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook http status %d", resp.StatusCode)
	}
	return nil
}

// Config selects notification sinks.
type Config struct {
	Log        bool          `json:",default=true"`
	WebhookURL string        `json:",optional,env=NOTIFY_WEBHOOK_URL"`
	Timeout    time.Duration `json:",default=5s"`
}

// New builds the notifier described by cfg.
func New(cfg Config) Notifier {
	var m Multi
	if cfg.Log {
		m = append(m, Log{})
	}
	if cfg.WebhookURL != "" {
		m = append(m, NewWebhook(cfg.WebhookURL, cfg.Timeout))
	}
	switch len(m) {
	case 0:
		return Nop{}
	case 1:
		return m[0]
	default:
		return m
	}
}
