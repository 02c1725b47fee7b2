package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// attempts bounds BUSY retries; waits grow 100, 100, 200 ms (Fibonacci).
const attempts = 3

// IsBusy reports whether err indicates an SQLite BUSY condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func busyBackoff() retry.Backoff {
	return retry.WithMaxRetries(attempts-1, retry.NewFibonacci(100*time.Millisecond))
}

// onBusy retries fn while it fails with a BUSY error.
func onBusy(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, busyBackoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if IsBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// RunTx executes fn inside a transaction, retrying the whole transaction on
// SQLITE_BUSY. fn's error rolls back and is returned unchanged.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return onBusy(ctx, func(ctx context.Context) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

// Exec executes a statement with retry on SQLITE_BUSY.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := onBusy(ctx, func(ctx context.Context) error {
		r, err := db.ExecContext(ctx, query, args...)
		res = r
		return err
	})
	return res, err
}
