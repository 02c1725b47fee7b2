package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Webhook POSTs JSON envelopes to a URL with retry and exponential backoff.
// When a secret is set, X-Signature-256 carries the hex HMAC-SHA256 of the
// body.
type Webhook struct {
	url        string
	secret     []byte
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay; later ones double. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookSecret signs every body.
func WithWebhookSecret(secret string) WebhookOption {
	return func(w *Webhook) { w.secret = []byte(secret) }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook notifier targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (w *Webhook) Notify(ctx context.Context, p Payload) error {
	if len(p) == 0 {
		return nil
	}
	return w.post(ctx, "variations", p)
}

func (w *Webhook) Alert(ctx context.Context, a Alert) error {
	return w.post(ctx, "alert", a)
}

// Sign returns the X-Signature-256 value for body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *Webhook) post(ctx context.Context, typ string, data any) error {
	body, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	b := retry.WithMaxRetries(uint64(w.maxRetries), retry.NewExponential(w.backoff))
	attempt := 0
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if len(w.secret) > 0 {
			req.Header.Set("X-Signature-256", Sign(w.secret, body))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("webhook: request failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		w.logger.Warn("webhook: bad status", "attempt", attempt, "status", resp.StatusCode)
		return retry.RetryableError(fmt.Errorf("webhook: status %d", resp.StatusCode))
	})
	if err != nil {
		return fmt.Errorf("webhook: all retries exhausted: %w", err)
	}
	return nil
}
