// Package api exposes stored variations, analytics and the run log over
// HTTP, plus a manual run trigger and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/variazioni/pipeline"
	"github.com/hazyhaar/variazioni/store"
	"github.com/hazyhaar/variazioni/variation"
)

// Store is the read side served by the API.
type Store interface {
	GetVariationsByDate(ctx context.Context, dates []variation.Date) ([]variation.Variation, error)
	VariationsOf(ctx context.Context, className string, from variation.Date) ([]variation.Variation, error)
	ClassesLeaderboard(ctx context.Context) ([]store.Ranked, error)
	ProfessorsLeaderboard(ctx context.Context) ([]store.Ranked, error)
	VariationsPerClassAge(ctx context.Context, age int) ([]store.Ranked, error)
	YearlyStats(ctx context.Context) ([]store.Bucket, error)
	MonthlyStats(ctx context.Context, month time.Month) ([]store.Bucket, error)
	HourlyStats(ctx context.Context) ([]store.Bucket, error)
	WeekdayStats(ctx context.Context) ([]store.WeekdayAverage, error)
	Summary(ctx context.Context) ([]store.AgeTotal, error)
	ClassesCount(ctx context.Context) ([]store.AgeTotal, error)
	FindTeacher(ctx context.Context, query string, limit int) ([]string, error)
	RecentRuns(ctx context.Context, limit int) ([]*store.Run, error)
	RunDocuments(ctx context.Context, runID string) ([]*store.DocumentLog, error)
}

// Runner starts polling cycles.
type Runner interface {
	Run(ctx context.Context, trigger string) (*pipeline.Report, error)
	Busy() bool
}

// Server holds the handler dependencies.
type Server struct {
	store    Store
	runner   Runner
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	// base outlives requests; manual runs are bound to it.
	base context.Context
}

// New builds a Server. A nil runner disables POST /runs; a nil gatherer
// serves the default registry.
func New(base context.Context, s Store, runner Runner, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{store: s, runner: runner, gatherer: gatherer, logger: logger, base: base}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders(DefaultHeaders()))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Get("/variations", s.variations)
	r.Get("/teachers", s.teachers)

	r.Route("/stats", func(r chi.Router) {
		r.Get("/classes", list(s.store.ClassesLeaderboard))
		r.Get("/classes/{age}", s.classesOfAge)
		r.Get("/professors", list(s.store.ProfessorsLeaderboard))
		r.Get("/yearly", list(s.store.YearlyStats))
		r.Get("/monthly/{month}", s.monthly)
		r.Get("/hourly", list(s.store.HourlyStats))
		r.Get("/weekday", list(s.store.WeekdayStats))
		r.Get("/summary", list(s.store.Summary))
		r.Get("/classes-count", list(s.store.ClassesCount))
	})

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.runs)
		r.Post("/", s.trigger)
		r.Get("/{id}/documents", s.runDocuments)
	})
	return r
}

// list adapts a parameterless store query.
func list[T any](fn func(context.Context) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(out))
	}
}

func (s *Server) variations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if class := q.Get("class"); class != "" {
		var from variation.Date
		if f := q.Get("from"); f != "" {
			d, err := variation.ParseDate(f)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			from = d
		}
		vs, err := s.store.VariationsOf(r.Context(), class, from)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(vs))
		return
	}

	raw := q["date"]
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("date or class is required"))
		return
	}
	dates := make([]variation.Date, 0, len(raw))
	for _, v := range raw {
		d, err := variation.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		dates = append(dates, d)
	}
	vs, err := s.store.GetVariationsByDate(r.Context(), dates)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(vs))
}

func (s *Server) teachers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, errors.New("q is required"))
		return
	}
	names, err := s.store.FindTeacher(r.Context(), q, queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(names))
}

func (s *Server) classesOfAge(w http.ResponseWriter, r *http.Request) {
	age, err := strconv.Atoi(chi.URLParam(r, "age"))
	if err != nil || age < 1 || age > 9 {
		writeError(w, http.StatusBadRequest, errors.New("age must be 1-9"))
		return
	}
	out, err := s.store.VariationsPerClassAge(r.Context(), age)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (s *Server) monthly(w http.ResponseWriter, r *http.Request) {
	m, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || m < 1 || m > 12 {
		writeError(w, http.StatusBadRequest, errors.New("month must be 1-12"))
		return
	}
	out, err := s.store.MonthlyStats(r.Context(), time.Month(m))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (s *Server) runs(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.RecentRuns(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (s *Server) runDocuments(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.RunDocuments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

// errRunsDisabled is returned when the server has no Runner.
var errRunsDisabled = errors.New("runs are disabled")

// startRun launches a manual cycle bound to the server's base context.
func (s *Server) startRun() error {
	if s.runner == nil {
		return errRunsDisabled
	}
	if s.runner.Busy() {
		return pipeline.ErrRunInProgress
	}
	go func() {
		if _, err := s.runner.Run(s.base, "manual"); err != nil {
			s.logger.Warn("api: manual run failed", "error", err)
		}
	}()
	return nil
}

// trigger starts a cycle in the background and answers 202, or 409 while
// another cycle is running.
func (s *Server) trigger(w http.ResponseWriter, _ *http.Request) {
	switch err := s.startRun(); {
	case errors.Is(err, errRunsDisabled):
		writeError(w, http.StatusNotImplemented, err)
	case err != nil:
		writeError(w, http.StatusConflict, err)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
