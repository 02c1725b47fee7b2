// Package config loads the service configuration from an optional YAML
// file, a .env file and VARIAZIONI_* environment variables, in that order of
// increasing precedence. Zero values are filled with defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/variazioni/dbopen"
	"github.com/hazyhaar/variazioni/ocr"
	"github.com/hazyhaar/variazioni/scheduler"
	"github.com/hazyhaar/variazioni/source"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VARIAZIONI_"

// Config is the top-level configuration.
type Config struct {
	LogLevel   string `yaml:"log_level"`   // debug | info | warn | error
	DBPath     string `yaml:"db_path"`     // Default: db/variazioni.db
	ScratchDir string `yaml:"scratch_dir"` // Default: tmp
	Listen     string `yaml:"listen"`      // Default: :8080

	// DBBusyTimeout is how long SQLite waits on a locked database. Default: 10s.
	DBBusyTimeout time.Duration `yaml:"db_busy_timeout"`
	// DBSynchronous is the SQLite synchronous mode: OFF, NORMAL, FULL or EXTRA.
	// Default: NORMAL.
	DBSynchronous string `yaml:"db_synchronous"`

	Fetch    source.Config        `yaml:"fetch"`
	Listing  source.ListingConfig `yaml:"listing"`
	OCR      OCRConfig            `yaml:"ocr"`
	Schedule scheduler.Config     `yaml:"schedule"`
	Webhook  WebhookConfig        `yaml:"webhook"`
}

// OCRConfig locates the recognition server and tunes cell preparation.
type OCRConfig struct {
	ocr.Config `yaml:",inline"`

	// Endpoint of the model server. Empty disables the OCR fallback.
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// WebhookConfig is the notification sink. An empty URL logs changes only.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
}

func (c *Config) defaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DBPath == "" {
		c.DBPath = "db/variazioni.db"
	}
	if c.ScratchDir == "" {
		c.ScratchDir = "tmp"
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DBBusyTimeout <= 0 {
		c.DBBusyTimeout = 10 * time.Second
	}
	if c.DBSynchronous == "" {
		c.DBSynchronous = "NORMAL"
	}
	if c.OCR.ScratchDir == "" {
		c.OCR.ScratchDir = c.ScratchDir
	}
	if c.OCR.Timeout <= 0 {
		c.OCR.Timeout = 60 * time.Second
	}
}

// Load reads path (skipped when empty), then .env, then the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToUpper(c.DBSynchronous) {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("config: db_synchronous %q: want OFF, NORMAL, FULL or EXTRA", c.DBSynchronous)
	}
	return nil
}

// DBOptions returns the connection settings for store.Open.
func (c *Config) DBOptions() []dbopen.Option {
	return []dbopen.Option{
		dbopen.WithBusyTimeout(int(c.DBBusyTimeout.Milliseconds())),
		dbopen.WithSynchronous(strings.ToUpper(c.DBSynchronous)),
	}
}

// applyEnv overrides fields from VARIAZIONI_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("DB_PATH", &c.DBPath)
	str("DB_SYNCHRONOUS", &c.DBSynchronous)
	str("SCRATCH_DIR", &c.ScratchDir)
	str("LISTEN", &c.Listen)
	str("LISTING_URL", &c.Listing.URL)
	str("OCR_ENDPOINT", &c.OCR.Endpoint)
	str("WEBHOOK_URL", &c.Webhook.URL)
	str("WEBHOOK_SECRET", &c.Webhook.Secret)
	str("TIMEZONE", &c.Schedule.Timezone)
	str("POLL", &c.Schedule.Poll)
	str("REMINDER", &c.Schedule.Reminder)

	if v, ok := lookup(EnvPrefix + "VERIFY_TLS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sVERIFY_TLS: %w", EnvPrefix, err)
		}
		c.Fetch.VerifyTLS = b
	}
	if v, ok := lookup(EnvPrefix + "FETCH_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sFETCH_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Fetch.Attempts = n
	}
	if v, ok := lookup(EnvPrefix + "OCR_MIN_CONFIDENCE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %sOCR_MIN_CONFIDENCE: %w", EnvPrefix, err)
		}
		c.OCR.MinConfidence = f
	}
	return nil
}

// Level maps LogLevel to a slog level; unknown names mean info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
