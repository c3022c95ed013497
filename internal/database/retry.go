package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
	"github.com/google/uuid"
)

const retryColumns = `id, link, payload, reason, last_error, attempts, next_attempt_at, created_at, updated_at`

// UpsertRetryEntry inserts a retry entry for a link, or bumps the attempt
// count and replaces the payload when one already exists. It returns the
// stored entry.
func (db *DB) UpsertRetryEntry(ctx context.Context, link, payload, reason, lastErr string, next func(attempts int) time.Time) (*model.RetryEntry, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var id string
	var attempts int
	err = tx.QueryRowContext(ctx,
		"SELECT id, attempts FROM retry_queue WHERE link = ?", link,
	).Scan(&id, &attempts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		attempts = 1
		_, err = tx.ExecContext(ctx,
			`INSERT INTO retry_queue (`+retryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, link, payload, reason, lastErr, attempts,
			formatTime(next(attempts)), formatTime(now), formatTime(now),
		)
	case err != nil:
		return nil, err
	default:
		attempts++
		_, err = tx.ExecContext(ctx,
			`UPDATE retry_queue SET payload = ?, reason = ?, last_error = ?, attempts = ?,
			next_attempt_at = ?, updated_at = ? WHERE id = ?`,
			payload, reason, lastErr, attempts, formatTime(next(attempts)), formatTime(now), id,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", link, err)
	}

	entry, err := scanRetryEntry(tx.QueryRowContext(ctx,
		"SELECT "+retryColumns+" FROM retry_queue WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue: %w", err)
	}
	return entry, nil
}

// RescheduleRetryEntry records a failed attempt on an existing entry.
func (db *DB) RescheduleRetryEntry(ctx context.Context, id string, attempts int, lastErr string, next time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE retry_queue SET attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?`,
		attempts, lastErr, formatTime(next), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRetryEntry returns the entry for a link.
func (db *DB) GetRetryEntry(ctx context.Context, link string) (*model.RetryEntry, error) {
	entry, err := scanRetryEntry(db.conn.QueryRowContext(ctx,
		"SELECT "+retryColumns+" FROM retry_queue WHERE link = ?", link))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return entry, err
}

// DueRetryEntries returns up to limit entries eligible at now, oldest due first.
func (db *DB) DueRetryEntries(ctx context.Context, now time.Time, limit int) ([]model.RetryEntry, error) {
	return db.queryRetryEntries(ctx,
		"SELECT "+retryColumns+" FROM retry_queue WHERE next_attempt_at <= ? ORDER BY next_attempt_at, created_at LIMIT ?",
		formatTime(now), limit)
}

// ListRetryEntries returns every queued entry ordered by due time.
func (db *DB) ListRetryEntries(ctx context.Context) ([]model.RetryEntry, error) {
	return db.queryRetryEntries(ctx,
		"SELECT "+retryColumns+" FROM retry_queue ORDER BY next_attempt_at, created_at")
}

// DeleteRetryEntry removes the entry for a link. Deleting a missing link is not an error.
func (db *DB) DeleteRetryEntry(ctx context.Context, link string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM retry_queue WHERE link = ?", link)
	return err
}

// CountRetryEntries returns the total and currently due queue sizes.
func (db *DB) CountRetryEntries(ctx context.Context, now time.Time) (total, due int, err error) {
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN next_attempt_at <= ? THEN 1 ELSE 0 END), 0)
		FROM retry_queue`, formatTime(now),
	).Scan(&total, &due)
	return total, due, err
}

func (db *DB) queryRetryEntries(ctx context.Context, query string, args ...any) ([]model.RetryEntry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RetryEntry
	for rows.Next() {
		e, err := scanRetryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRetryEntry(row rowScanner) (*model.RetryEntry, error) {
	var e model.RetryEntry
	var next, created, updated string
	if err := row.Scan(&e.ID, &e.Link, &e.Payload, &e.Reason, &e.LastError, &e.Attempts,
		&next, &created, &updated); err != nil {
		return nil, err
	}
	e.NextAttemptAt = parseTime(next)
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	return &e, nil
}
