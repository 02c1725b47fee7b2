package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/variazioni/dbopen"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "variazioni.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "db/variazioni.db" || cfg.Listen != ":8080" || cfg.ScratchDir != "tmp" {
		t.Errorf("defaults: %+v", cfg)
	}
	if cfg.OCR.ScratchDir != "tmp" {
		t.Errorf("ocr scratch dir = %q, want tmp", cfg.OCR.ScratchDir)
	}
	if cfg.Fetch.VerifyTLS {
		t.Error("TLS verification is off by default")
	}
}

func TestLoadFile(t *testing.T) {
	// WHAT: Nested sections decode, durations included.
	// WHY: Every tunable must be reachable from the file.
	path := writeFile(t, `
log_level: debug
db_path: /var/lib/variazioni/db.sqlite
scratch_dir: /tmp/vz
fetch:
  attempts: 3
  backoff: 500ms
  verify_tls: true
listing:
  exclude: [parte2]
ocr:
  endpoint: http://ocr:9000/recognize
  min_confidence: 0.9
  inset: 4
schedule:
  poll: "*/5 * * * *"
  pauses:
    - {name: easter, from: "04-01", to: "04-07"}
webhook:
  url: https://hooks.example/variazioni
  retries: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("level = %v", cfg.Level())
	}
	if cfg.Fetch.Attempts != 3 || cfg.Fetch.Backoff != 500*time.Millisecond || !cfg.Fetch.VerifyTLS {
		t.Errorf("fetch: %+v", cfg.Fetch)
	}
	if len(cfg.Listing.Exclude) != 1 || cfg.Listing.Exclude[0] != "parte2" {
		t.Errorf("listing exclude: %v", cfg.Listing.Exclude)
	}
	if cfg.OCR.Endpoint != "http://ocr:9000/recognize" || cfg.OCR.MinConfidence != 0.9 || cfg.OCR.Inset != 4 {
		t.Errorf("ocr: %+v", cfg.OCR)
	}
	if cfg.OCR.ScratchDir != "/tmp/vz" {
		t.Errorf("ocr scratch dir follows scratch_dir, got %q", cfg.OCR.ScratchDir)
	}
	if cfg.Schedule.Poll != "*/5 * * * *" || len(cfg.Schedule.Pauses) != 1 {
		t.Errorf("schedule: %+v", cfg.Schedule)
	}
	if cfg.Webhook.Retries != 5 {
		t.Errorf("webhook: %+v", cfg.Webhook)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "db_path: from-file.db\nlisten: \":9000\"\n")
	t.Setenv("VARIAZIONI_DB_PATH", "from-env.db")
	t.Setenv("VARIAZIONI_VERIFY_TLS", "true")
	t.Setenv("VARIAZIONI_WEBHOOK_SECRET", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "from-env.db" {
		t.Errorf("db path = %q", cfg.DBPath)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if !cfg.Fetch.VerifyTLS || cfg.Webhook.Secret != "s3cret" {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestDBOptions(t *testing.T) {
	// WHAT: The SQLite tunables reach the connection pragmas.
	// WHY: A deployment on slow storage needs a longer busy timeout or a
	// stricter sync mode without a rebuild.
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBBusyTimeout != 10*time.Second || cfg.DBSynchronous != "NORMAL" {
		t.Errorf("db defaults: busy=%v sync=%q", cfg.DBBusyTimeout, cfg.DBSynchronous)
	}

	t.Setenv("VARIAZIONI_DB_SYNCHRONOUS", "full")
	cfg, err = Load(writeFile(t, "db_busy_timeout: 2500ms\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	db, err := dbopen.Open(filepath.Join(t.TempDir(), "pragmas.db"), cfg.DBOptions()...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	var busy, sync int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if err := db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatalf("synchronous: %v", err)
	}
	if busy != 2500 {
		t.Errorf("busy_timeout = %d, want 2500", busy)
	}
	// FULL is 2.
	if sync != 2 {
		t.Errorf("synchronous = %d, want 2", sync)
	}
}

func TestLoadInvalidSynchronous(t *testing.T) {
	if _, err := Load(writeFile(t, "db_synchronous: sometimes\n")); err == nil {
		t.Error("unknown synchronous mode should fail")
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	cases := map[string]string{
		"VARIAZIONI_VERIFY_TLS":         "maybe",
		"VARIAZIONI_FETCH_ATTEMPTS":     "many",
		"VARIAZIONI_OCR_MIN_CONFIDENCE": "high",
	}
	for key, val := range cases {
		var cfg Config
		lookup := func(k string) (string, bool) {
			if k == key {
				return val, true
			}
			return "", false
		}
		if err := cfg.applyEnv(lookup); err == nil {
			t.Errorf("%s=%s should fail", key, val)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := Load(writeFile(t, "fetch: [not, a, map]")); err == nil {
		t.Error("malformed yaml should fail")
	}
}

func TestLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError,
		"info": slog.LevelInfo, "loud": slog.LevelInfo,
	}
	for name, want := range cases {
		c := Config{LogLevel: name}
		if got := c.Level(); got != want {
			t.Errorf("Level(%q) = %v, want %v", name, got, want)
		}
	}
}
