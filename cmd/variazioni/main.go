// Command variazioni polls the school's published schedule variations,
// stores them and notifies subscribers of every change.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/variazioni/api"
	"github.com/hazyhaar/variazioni/config"
	"github.com/hazyhaar/variazioni/layout"
	"github.com/hazyhaar/variazioni/notify"
	"github.com/hazyhaar/variazioni/ocr"
	"github.com/hazyhaar/variazioni/pdfdoc"
	"github.com/hazyhaar/variazioni/pipeline"
	"github.com/hazyhaar/variazioni/scheduler"
	"github.com/hazyhaar/variazioni/source"
	"github.com/hazyhaar/variazioni/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "variazioni",
		Short:         "Schedule variation tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	cmd.AddCommand(serveCmd(&configPath), runCmd(&configPath), parseCmd(&configPath), statsCmd(&configPath))
	return cmd
}

// app is the wired service.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	engine   *ocr.Engine
	registry *prometheus.Registry
	pipeline *pipeline.Pipeline
}

func setup(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	st, err := store.Open(cfg.DBPath, cfg.DBOptions()...)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(reg)

	parsers := layout.TextParsers(pdfdoc.Rotator{},
		layout.WithRotationLogger(logger),
		layout.WithRotationHook(metrics.RotationHook))
	var engine *ocr.Engine
	if cfg.OCR.Endpoint != "" {
		endpoint, timeout := cfg.OCR.Endpoint, cfg.OCR.Timeout
		engine = ocr.NewEngine(func() (ocr.Recognizer, error) {
			return ocr.NewHTTPRecognizer(endpoint, timeout, logger), nil
		}, logger)
		parsers = append(parsers, ocr.NewParser(engine, cfg.OCR.Config,
			ocr.WithLogger(logger),
			ocr.WithLowConfidenceHook(metrics.LowConfidenceHook)))
	} else {
		logger.Warn("ocr: no endpoint configured, scanned documents will be skipped")
	}
	chain := layout.NewChain(logger, parsers...)

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.Webhook.URL != "" {
		opts := []notify.WebhookOption{notify.WithWebhookLogger(logger)}
		if cfg.Webhook.Secret != "" {
			opts = append(opts, notify.WithWebhookSecret(cfg.Webhook.Secret))
		}
		if cfg.Webhook.Retries > 0 {
			opts = append(opts, notify.WithWebhookRetries(cfg.Webhook.Retries))
		}
		if cfg.Webhook.Backoff > 0 {
			opts = append(opts, notify.WithWebhookBackoff(cfg.Webhook.Backoff))
		}
		notifier = notify.Multi{notifier, notify.NewWebhook(cfg.Webhook.URL, opts...)}
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		loc, err = time.LoadLocation("Europe/Rome")
		if err != nil {
			loc = time.UTC
		}
	}

	fetcher := source.NewFetcher(cfg.Fetch, logger)
	p := pipeline.New(
		source.NewDiscoverer(fetcher, cfg.Listing, logger),
		fetcher, chain, st, notifier,
		pipeline.Config{ScratchDir: cfg.ScratchDir, Location: loc},
		pipeline.WithLogger(logger), pipeline.WithMetrics(metrics))

	return &app{cfg: cfg, logger: logger, store: st, engine: engine, registry: reg, pipeline: p}, nil
}

func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("close store", "error", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll on schedule and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			sched, err := scheduler.New(a.cfg.Schedule,
				func(ctx context.Context) error {
					_, err := a.pipeline.Run(ctx, "schedule")
					return err
				},
				func(ctx context.Context) error {
					_, err := a.pipeline.CheckTomorrow(ctx)
					return err
				},
				a.logger)
			if err != nil {
				return err
			}
			schedDone := make(chan error, 1)
			go func() { schedDone <- sched.Run(ctx) }()

			apiSrv := api.New(ctx, a.store, a.pipeline, a.registry, a.logger)
			mcpSrv := mcp.NewServer(api.Implementation, nil)
			apiSrv.RegisterMCP(mcpSrv)
			mux := http.NewServeMux()
			mux.Handle("/mcp", api.MCPHandler(mcpSrv))
			mux.Handle("/", apiSrv.Handler())

			srv := &http.Server{
				Addr:              a.cfg.Listen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			srvErr := make(chan error, 1)
			go func() {
				a.logger.Info("server starting", "addr", a.cfg.Listen)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					srvErr <- err
				}
			}()

			var runErr error
			schedStopped := false
			select {
			case <-ctx.Done():
			case runErr = <-srvErr:
			case runErr = <-schedDone:
				schedStopped = true
			}
			cancel()
			a.logger.Info("shutting down")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("shutdown", "error", err)
			}
			if !schedStopped {
				if err := <-schedDone; err != nil && runErr == nil {
					runErr = err
				}
			}
			a.logger.Info("server stopped")
			return runErr
		},
	}
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a single polling cycle and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := signalContext()
			defer cancel()

			report, err := a.pipeline.Run(ctx, "cli")
			if report != nil {
				if werr := printJSON(cmd, report); werr != nil {
					return werr
				}
			}
			return err
		},
	}
}

func parseCmd(configPath *string) *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a local document and print the records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if dump {
				q, err := pdfdoc.Inspect(doc)
				if err != nil {
					return err
				}
				text, err := pdfdoc.Text(doc)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"quality": q, "needs_ocr": q.NeedsOCR(), "text": text})
			}

			a, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := signalContext()
			defer cancel()

			match, err := a.pipeline.ParseDocument(ctx, doc)
			if err != nil {
				return err
			}
			return printJSON(cmd, match)
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "Print the text layer and quality score instead of parsing")
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the analytics aggregations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath, cfg.DBOptions()...)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			out := map[string]any{}
			var errs []error
			collect := func(name string, v any, err error) {
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
					return
				}
				out[name] = v
			}
			classes, err := st.ClassesLeaderboard(ctx)
			collect("classes", classes, err)
			profs, err := st.ProfessorsLeaderboard(ctx)
			collect("professors", profs, err)
			yearly, err := st.YearlyStats(ctx)
			collect("yearly", yearly, err)
			hourly, err := st.HourlyStats(ctx)
			collect("hourly", hourly, err)
			weekday, err := st.WeekdayStats(ctx)
			collect("weekday", weekday, err)
			summary, err := st.Summary(ctx)
			collect("summary", summary, err)
			count, err := st.ClassesCount(ctx)
			collect("classes_count", count, err)
			if err := errors.Join(errs...); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
