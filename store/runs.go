package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/variazioni/dbopen"
)

// Run statuses.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunFailed  = "failed"
)

// Run is one polling cycle.
type Run struct {
	ID         string `json:"id"`
	Trigger    string `json:"trigger"`
	Status     string `json:"status"`
	Documents  int    `json:"documents"`
	Failed     int    `json:"failed"`
	New        int    `json:"new"`
	Edited     int    `json:"edited"`
	Removed    int    `json:"removed"`
	Error      string `json:"error,omitempty"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt *int64 `json:"finished_at,omitempty"`
}

// DocumentLog records the outcome of one document within a run.
type DocumentLog struct {
	ID           string `json:"id"`
	RunID        string `json:"run_id"`
	URL          string `json:"url"`
	Date         string `json:"date,omitempty"`
	Parser       string `json:"parser,omitempty"`
	Variations   int    `json:"variations"`
	OCR          bool   `json:"ocr"`
	Status       string `json:"status"`
	ErrorClass   string `json:"error_class,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	LoggedAt     int64  `json:"logged_at"`
}

// StartRun inserts a running row and returns it.
func (s *Store) StartRun(ctx context.Context, trigger string) (*Run, error) {
	r := &Run{ID: s.newID(), Trigger: trigger, Status: RunRunning, StartedAt: s.now().UnixMilli()}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO runs (id, triggered_by, status, started_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.Trigger, r.Status, r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("store: start run: %w", err)
	}
	return r, nil
}

// FinishRun stores the final counters and status of r.
func (s *Store) FinishRun(ctx context.Context, r *Run) error {
	now := s.now().UnixMilli()
	r.FinishedAt = &now
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE runs SET status = ?, documents = ?, failed = ?, new_count = ?,
		edited_count = ?, removed_count = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		r.Status, r.Documents, r.Failed, r.New, r.Edited, r.Removed, r.Error, now, r.ID)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	return nil
}

// LogDocument records a document outcome.
func (s *Store) LogDocument(ctx context.Context, e *DocumentLog) error {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.LoggedAt == 0 {
		e.LoggedAt = s.now().UnixMilli()
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO document_log (id, run_id, url, date, parser, variations, ocr,
		status, error_class, error_message, duration_ms, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.URL, e.Date, e.Parser, e.Variations, e.OCR,
		e.Status, e.ErrorClass, e.ErrorMessage, e.DurationMs, e.LoggedAt)
	if err != nil {
		return fmt.Errorf("store: log document: %w", err)
	}
	return nil
}

// RecentRuns returns runs newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, triggered_by, status, documents, failed, new_count, edited_count,
		removed_count, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		var r Run
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Status, &r.Documents, &r.Failed,
			&r.New, &r.Edited, &r.Removed, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = &finished.Int64
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// RunDocuments returns the document log of a run in processing order.
func (s *Store) RunDocuments(ctx context.Context, runID string) ([]*DocumentLog, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, run_id, url, date, parser, variations, ocr, status,
		error_class, error_message, duration_ms, logged_at
		FROM document_log WHERE run_id = ? ORDER BY logged_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: run documents: %w", err)
	}
	defer rows.Close()

	var out []*DocumentLog
	for rows.Next() {
		var e DocumentLog
		if err := rows.Scan(&e.ID, &e.RunID, &e.URL, &e.Date, &e.Parser, &e.Variations, &e.OCR,
			&e.Status, &e.ErrorClass, &e.ErrorMessage, &e.DurationMs, &e.LoggedAt); err != nil {
			return nil, fmt.Errorf("scan document log: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
