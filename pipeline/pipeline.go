// Package pipeline runs one polling cycle: discover the published documents,
// download and parse each one in turn, classify the result against the
// stored state, persist the differences and hand them to the notifier.
//
// At most one cycle runs at a time. A document that cannot be downloaded,
// dated or parsed is logged and skipped; it will be tried again on the next
// cycle. Only a changed listing layout aborts the cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/variazioni/classify"
	"github.com/hazyhaar/variazioni/layout"
	"github.com/hazyhaar/variazioni/notify"
	"github.com/hazyhaar/variazioni/scratch"
	"github.com/hazyhaar/variazioni/source"
	"github.com/hazyhaar/variazioni/store"
	"github.com/hazyhaar/variazioni/variation"
)

// ErrRunInProgress is returned when a cycle is started while another is
// still running. The second cycle is skipped, never interleaved.
var ErrRunInProgress = errors.New("pipeline: run already in progress")

// Discoverer lists document links.
type Discoverer interface {
	Links(ctx context.Context) ([]string, error)
}

// Fetcher downloads a document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Parser turns a document into undated records.
type Parser interface {
	Parse(ctx context.Context, doc []byte) (layout.Match, error)
}

// Store is the persistence the pipeline needs.
type Store interface {
	classify.Lookup
	SaveVariations(ctx context.Context, b variation.Batch) error
	StartRun(ctx context.Context, trigger string) (*store.Run, error)
	FinishRun(ctx context.Context, r *store.Run) error
	LogDocument(ctx context.Context, e *store.DocumentLog) error
}

// Config tunes a Pipeline.
type Config struct {
	// ScratchDir holds downloaded documents during a run. Default: "tmp".
	ScratchDir string `yaml:"scratch_dir"`
	// Location is the school's timezone, used to read "today". Default: Europe/Rome.
	Location *time.Location `yaml:"-"`
}

func (c *Config) defaults() {
	if c.ScratchDir == "" {
		c.ScratchDir = "tmp"
	}
	if c.Location == nil {
		loc, err := time.LoadLocation("Europe/Rome")
		if err != nil {
			loc = time.UTC
		}
		c.Location = loc
	}
}

// Pipeline wires the cycle's collaborators.
type Pipeline struct {
	discoverer Discoverer
	fetcher    Fetcher
	parser     Parser
	classifier *classify.Engine
	store      Store
	notifier   notify.Notifier
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
	cfg        Config

	running sync.Mutex
	busy    atomic.Bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithMetrics sets the collectors. Default: unregistered collectors.
func WithMetrics(m *Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option { return func(p *Pipeline) { p.now = fn } }

// New creates a Pipeline. parser is normally a layout.Chain ending with the
// OCR parser.
func New(d Discoverer, f Fetcher, parser Parser, s Store, n notify.Notifier, cfg Config, opts ...Option) *Pipeline {
	cfg.defaults()
	p := &Pipeline{
		discoverer: d,
		fetcher:    f,
		parser:     parser,
		classifier: classify.NewEngine(s),
		store:      s,
		notifier:   n,
		logger:     slog.Default(),
		now:        time.Now,
		cfg:        cfg,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p
}

// Report summarizes a completed cycle.
type Report struct {
	RunID     string          `json:"run_id"`
	Documents int             `json:"documents"`
	Parsed    int             `json:"parsed"`
	Failed    int             `json:"failed"`
	Counts    classify.Counts `json:"counts"`
	Payload   notify.Payload  `json:"payload"`
	Duration  time.Duration   `json:"duration"`
}

// Busy reports whether a cycle is running.
func (p *Pipeline) Busy() bool { return p.busy.Load() }

// Run executes one cycle. trigger is recorded in the run log ("schedule",
// "manual", ...). It returns ErrRunInProgress without doing anything when
// another cycle is active.
func (p *Pipeline) Run(ctx context.Context, trigger string) (*Report, error) {
	if !p.running.TryLock() {
		p.metrics.Runs.WithLabelValues("skipped").Inc()
		return nil, ErrRunInProgress
	}
	defer p.running.Unlock()
	p.busy.Store(true)
	defer p.busy.Store(false)

	start := p.now()
	run, err := p.store.StartRun(ctx, trigger)
	if err != nil {
		return nil, err
	}
	log := p.logger.With("run_id", run.ID)
	log.Info("pipeline: run started", "trigger", trigger)

	report, runErr := p.cycle(ctx, log, run)
	report.RunID = run.ID
	report.Duration = p.now().Sub(start)

	run.Documents, run.Failed = report.Documents, report.Failed
	run.New, run.Edited, run.Removed = report.Counts.New, report.Counts.Edited, report.Counts.Removed
	run.Status = store.RunOK
	if runErr != nil {
		run.Status, run.Error = store.RunFailed, runErr.Error()
	}
	// The run row is finished even when ctx was cancelled.
	if err := p.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("pipeline: finish run", "error", err)
	}
	p.metrics.Runs.WithLabelValues(run.Status).Inc()
	p.metrics.RunDuration.Observe(report.Duration.Seconds())

	if runErr != nil {
		log.Error("pipeline: run failed", "error", runErr, "class", source.Classify(runErr))
		return report, runErr
	}
	log.Info("pipeline: run complete", "documents", report.Documents, "failed", report.Failed,
		"new", report.Counts.New, "edited", report.Counts.Edited, "removed", report.Counts.Removed,
		"duration", report.Duration)
	return report, nil
}

func (p *Pipeline) cycle(ctx context.Context, log *slog.Logger, run *store.Run) (*Report, error) {
	report := &Report{}

	dir, err := scratch.Acquire(p.cfg.ScratchDir, "downloads")
	if err != nil {
		return report, err
	}
	defer func() {
		if err := dir.Release(); err != nil {
			log.Warn("pipeline: scratch release failed", "error", err)
		}
	}()

	links, err := p.discoverer.Links(ctx)
	if err != nil {
		if errors.Is(err, source.ErrLayoutChanged) {
			if aerr := p.notifier.Alert(ctx, notify.Alert{Kind: notify.AlertLayoutChanged, Message: err.Error()}); aerr != nil {
				log.Error("pipeline: alert failed", "error", aerr)
			}
		}
		return report, fmt.Errorf("discover: %w", err)
	}
	report.Documents = len(links)

	fresh := variation.Batch{}
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		vs, err := p.document(ctx, log, run.ID, dir, link)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			continue
		}
		report.Parsed++
		fresh.AddAll(vs)
	}

	classified, err := p.classifier.Run(ctx, fresh)
	if err != nil {
		return report, err
	}
	report.Counts = classify.Count(classified)
	if report.Counts.Total() == 0 {
		log.Info("pipeline: no changes")
		return report, nil
	}

	if err := p.store.SaveVariations(ctx, classified); err != nil {
		return report, err
	}
	p.metrics.observeCounts(report.Counts)

	report.Payload = notify.BuildPayload(classified)
	if err := p.notifier.Notify(ctx, report.Payload); err != nil {
		// Saved state is already correct; a lost notification is not retried.
		log.Error("pipeline: notify failed", "error", err, "classes", report.Payload.Classes())
	}
	return report, nil
}

// document downloads, dates and parses one link. Every outcome is logged
// to the store.
func (p *Pipeline) document(ctx context.Context, log *slog.Logger, runID string, dir *scratch.Dir, link string) ([]variation.Variation, error) {
	start := p.now()
	entry := &store.DocumentLog{RunID: runID, URL: link}
	defer func() {
		entry.DurationMs = p.now().Sub(start).Milliseconds()
		if err := p.store.LogDocument(context.WithoutCancel(ctx), entry); err != nil {
			log.Warn("pipeline: document log failed", "url", link, "error", err)
		}
		parser := entry.Parser
		if parser == "" {
			parser = "none"
		}
		p.metrics.Documents.WithLabelValues(parser, entry.Status).Inc()
	}()
	fail := func(stage string, err error) error {
		entry.Status = "failed"
		entry.ErrorClass = string(source.Classify(err))
		entry.ErrorMessage = err.Error()
		log.Warn("pipeline: document skipped", "url", link, "stage", stage, "error", err, "class", entry.ErrorClass)
		return err
	}

	date, err := source.DocumentDate(link, p.now().In(p.cfg.Location))
	if err != nil {
		return nil, fail("date", err)
	}
	entry.Date = date.String()

	body, err := p.fetcher.Fetch(ctx, link)
	if err != nil {
		return nil, fail("fetch", err)
	}
	if _, err := dir.WriteFile(path.Base(link), body); err != nil {
		return nil, fail("scratch", err)
	}

	match, err := p.parser.Parse(ctx, body)
	if err != nil {
		return nil, fail("parse", err)
	}

	vs := make([]variation.Variation, len(match.Variations))
	for i, v := range match.Variations {
		v.Date = date
		vs[i] = v
		entry.OCR = entry.OCR || v.OCR
	}
	entry.Status, entry.Parser, entry.Variations = "ok", match.Parser, len(vs)
	log.Debug("pipeline: document parsed", "url", link, "date", date, "parser", match.Parser, "variations", len(vs))
	return vs, nil
}

// ParseDocument runs the parser chain on a local document.
func (p *Pipeline) ParseDocument(ctx context.Context, doc []byte) (layout.Match, error) {
	return p.parser.Parse(ctx, doc)
}

// CheckTomorrow alerts operators when, the evening before a school day, no
// variation is stored for tomorrow although documents are listed. Usually
// this means tomorrow's document failed to parse. It reports whether an
// alert was sent.
func (p *Pipeline) CheckTomorrow(ctx context.Context) (bool, error) {
	now := p.now().In(p.cfg.Location)
	tomorrow := variation.DateOf(now).AddDays(1)
	if tomorrow.Weekday() == time.Sunday {
		return false, nil
	}
	stored, err := p.store.GetVariationsByDate(ctx, []variation.Date{tomorrow})
	if err != nil {
		return false, err
	}
	if len(stored) > 0 {
		return false, nil
	}
	links, err := p.discoverer.Links(ctx)
	if err != nil {
		return false, fmt.Errorf("discover: %w", err)
	}
	if len(links) == 0 {
		return false, nil
	}
	alert := notify.Alert{
		Kind:    notify.AlertMissingTomorrow,
		Message: "no variations detected for tomorrow; check the listing page manually",
		Date:    tomorrow,
	}
	if err := p.notifier.Alert(ctx, alert); err != nil {
		return false, err
	}
	return true, nil
}
