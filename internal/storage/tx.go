package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Querier is satisfied by both *sql.DB and *sql.Conn, letting every
// repository method run unchanged whether called directly or from inside
// WithTx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn against a connection holding a BEGIN IMMEDIATE lock,
// committing on success and rolling back on error or panic. BEGIN
// IMMEDIATE acquires SQLite's write lock up front rather than on first
// write, which is the closest equivalent this driver has to Postgres's
// SELECT ... FOR UPDATE: it gives fn's read-then-write sequence (e.g.
// "load order, check status, update status") the same atomicity the
// row-lock contract requires.
//
// database/sql's own BeginTx always issues a plain BEGIN, so the lock is
// taken manually with a raw statement on a borrowed connection instead.
//
// Busy-lock contention is retried a handful of times with linear backoff
// since the pool is capped at one connection and a second caller's
// BEGIN IMMEDIATE can transiently collide with one already in flight.
func (s *Storage) WithTx(ctx context.Context, fn func(q Querier) error) error {
	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusyErr(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(10*(attempt+1)) * time.Millisecond):
		}
	}
	return fmt.Errorf("transaction busy after %d attempts: %w", maxAttempts, lastErr)
}

func (s *Storage) runTx(ctx context.Context, fn func(q Querier) error) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			conn.ExecContext(ctx, "ROLLBACK")
			panic(p)
		}
		if err != nil {
			conn.ExecContext(ctx, "ROLLBACK")
			return
		}
		if _, commitErr := conn.ExecContext(ctx, "COMMIT"); commitErr != nil {
			err = fmt.Errorf("commit: %w", commitErr)
		}
	}()

	err = fn(conn)
	return err
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "database is locked", "SQLITE_BUSY", "database table is locked")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	if len(sub) == 0 {
		return 0
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
