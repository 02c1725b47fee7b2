// Package source finds variation documents on the publisher's listing page
// and downloads them.
//
// The publisher's certificate chain is broken, so TLS verification is off
// by default. Downloads retry transport failures on a fixed backoff; an HTTP
// status outside 2xx is final.
package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

var (
	// ErrDownloadFailed is returned when every attempt hit a transport error.
	ErrDownloadFailed = errors.New("source: download failed")
	// ErrHTTPStatus is returned for a response outside 2xx.
	ErrHTTPStatus = errors.New("source: unexpected http status")
	// ErrLayoutChanged is returned when the listing page lacks the link
	// container. The publisher changed the site; retrying will not help.
	ErrLayoutChanged = errors.New("source: listing layout changed")
	// ErrTooLarge is returned when a body exceeds Config.MaxBytes. A
	// truncated document is useless, so it is not retried.
	ErrTooLarge = errors.New("source: response too large")
)

// StatusError carries the status of a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source: http %d for %s", e.Code, e.URL)
}

func (e *StatusError) Unwrap() error { return ErrHTTPStatus }

// Config configures the fetcher.
type Config struct {
	Timeout  time.Duration `yaml:"timeout"`   // per attempt. Default: 30s.
	MaxBytes int64         `yaml:"max_bytes"` // Default: 20MB.
	// Attempts is the total number of tries on transport errors. Default: 5.
	Attempts int `yaml:"attempts"`
	// Backoff is the fixed wait between attempts. Default: 3s.
	Backoff   time.Duration `yaml:"backoff"`
	UserAgent string        `yaml:"user_agent"`
	// VerifyTLS enables certificate verification.
	VerifyTLS bool `yaml:"verify_tls"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 20 * 1024 * 1024
	}
	if c.Attempts <= 0 {
		c.Attempts = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 3 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "variazioni/1.0"
	}
}

// Fetcher performs GET requests with bounded retry.
type Fetcher struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

// NewFetcher creates a Fetcher. A nil logger uses slog.Default().
func NewFetcher(cfg Config, logger *slog.Logger) *Fetcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS} //nolint:gosec // publisher chain is broken
	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		config: cfg,
		logger: logger,
	}
}

// Fetch downloads url. Transport errors are retried up to Attempts times
// with a fixed Backoff; a non-2xx response returns a *StatusError at once.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	backoff := retry.WithMaxRetries(uint64(f.config.Attempts-1), retry.NewConstant(f.config.Backoff))

	attempt := 0
	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		b, err := f.get(ctx, url)
		var se *StatusError
		switch {
		case err == nil:
			body = b
			return nil
		case errors.As(err, &se), errors.Is(err, ErrTooLarge), ctx.Err() != nil:
			return err
		default:
			f.logger.Warn("source: fetch attempt failed", "url", url, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) || errors.Is(err, ErrTooLarge) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrDownloadFailed, url, attempt, err)
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, url, f.config.MaxBytes)
	}
	return body, nil
}
