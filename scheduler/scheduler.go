// Package scheduler triggers polling cycles on a cron cadence in the
// school's timezone. Cycles are skipped during the night and during school
// breaks, when no variation is ever published.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled action.
type Job func(ctx context.Context) error

// Pause is a yearly break, inclusive at both ends. From and To are "MM-DD";
// a From later than To wraps over the new year.
type Pause struct {
	Name string `yaml:"name"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Config configures the scheduler.
type Config struct {
	// Poll is the polling cron spec. Default: every 15 minutes.
	Poll string `yaml:"poll"`
	// Reminder is the evening check for tomorrow's variations. Default: 20:00.
	Reminder string `yaml:"reminder"`
	// Timezone used for cron specs and quiet hours. Default: Europe/Rome.
	Timezone string `yaml:"timezone"`
	// Polls are skipped when QuietFrom < hour < QuietTo. Default: 0 and 6.
	QuietFrom int `yaml:"quiet_from"`
	QuietTo   int `yaml:"quiet_to"`
	// Pauses default to the Christmas and summer breaks.
	Pauses []Pause `yaml:"pauses"`
	// RunTimeout bounds a single job. Default: 10 minutes.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

func (c *Config) defaults() {
	if c.Poll == "" {
		c.Poll = "*/15 * * * *"
	}
	if c.Reminder == "" {
		c.Reminder = "0 20 * * *"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Rome"
	}
	if c.QuietTo == 0 {
		c.QuietTo = 6
	}
	if c.Pauses == nil {
		c.Pauses = []Pause{
			{Name: "christmas", From: "12-24", To: "01-06"},
			{Name: "summer", From: "06-06", To: "09-15"},
		}
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 10 * time.Minute
	}
}

type monthDay struct {
	month time.Month
	day   int
}

func (m monthDay) before(o monthDay) bool {
	return m.month < o.month || (m.month == o.month && m.day < o.day)
}

func parseMonthDay(s string) (monthDay, error) {
	t, err := time.Parse("01-02", s)
	if err != nil {
		return monthDay{}, fmt.Errorf("scheduler: invalid month-day %q: %w", s, err)
	}
	return monthDay{month: t.Month(), day: t.Day()}, nil
}

type pause struct {
	name     string
	from, to monthDay
}

func (p pause) contains(t time.Time) bool {
	d := monthDay{month: t.Month(), day: t.Day()}
	if p.to.before(p.from) {
		return !d.before(p.from) || !p.to.before(d)
	}
	return !d.before(p.from) && !p.to.before(d)
}

// Scheduler runs the poll and reminder jobs.
type Scheduler struct {
	cfg    Config
	loc    *time.Location
	pauses []pause
	poll   Job
	remind Job
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

// New validates cfg and registers both jobs. Nothing runs until Run.
func New(cfg Config, poll, remind Job, logger *slog.Logger) (*Scheduler, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: timezone: %w", err)
	}
	s := &Scheduler{cfg: cfg, loc: loc, poll: poll, remind: remind, logger: logger, now: time.Now}
	for _, p := range cfg.Pauses {
		from, err := parseMonthDay(p.From)
		if err != nil {
			return nil, err
		}
		to, err := parseMonthDay(p.To)
		if err != nil {
			return nil, err
		}
		s.pauses = append(s.pauses, pause{name: p.Name, from: from, to: to})
	}

	cl := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s, nil
}

// Quiet reports whether t falls in the nightly quiet hours.
func (s *Scheduler) Quiet(t time.Time) bool {
	h := t.In(s.loc).Hour()
	return s.cfg.QuietFrom < h && h < s.cfg.QuietTo
}

// Paused returns the name of the break containing t, or "".
func (s *Scheduler) Paused(t time.Time) string {
	t = t.In(s.loc)
	for _, p := range s.pauses {
		if p.contains(t) {
			return p.name
		}
	}
	return ""
}

// Run starts the cron and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Poll, func() { s.fire(ctx, "poll", s.poll, true) }); err != nil {
		return fmt.Errorf("scheduler: poll spec %q: %w", s.cfg.Poll, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.Reminder, func() { s.fire(ctx, "reminder", s.remind, false) }); err != nil {
		return fmt.Errorf("scheduler: reminder spec %q: %w", s.cfg.Reminder, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler: started", "poll", s.cfg.Poll, "reminder", s.cfg.Reminder,
		"timezone", s.cfg.Timezone, "jobs", len(s.cron.Entries()))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler: stopped")
	return nil
}

// fire runs job unless the current time is inside a break or, for polls,
// inside the quiet hours.
func (s *Scheduler) fire(ctx context.Context, name string, job Job, quietSensitive bool) {
	if job == nil || ctx.Err() != nil {
		return
	}
	now := s.now()
	if p := s.Paused(now); p != "" {
		s.logger.Debug("scheduler: skipped", "job", name, "pause", p)
		return
	}
	if quietSensitive && s.Quiet(now) {
		s.logger.Debug("scheduler: skipped", "job", name, "reason", "quiet hours")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()
	if err := job(ctx); err != nil {
		s.logger.Warn("scheduler: job failed", "job", name, "error", err)
	}
}
