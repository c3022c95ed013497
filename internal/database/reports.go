package database

import (
	"context"
	"fmt"
	"time"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
	"github.com/google/uuid"
)

// InsertRunReport stores the counters of a finished run.
func (db *DB) InsertRunReport(ctx context.Context, s *model.RunStats) error {
	id := s.RunID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO run_reports
		(id, started_at, finished_at, fetched, accepted, stored, queued, skipped, failed, retry_recovered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, formatTime(s.StartedAt), formatTime(s.FinishedAt),
		s.Fetched, s.Accepted, s.Stored, s.Queued, s.Skipped(), s.Failed, s.RetryRecovered,
	)
	if err != nil {
		return fmt.Errorf("inserting run report: %w", err)
	}
	return nil
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	now := time.Now()

	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM curated_records").Scan(&s.TotalRecords); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM curated_records WHERE created_at >= ?",
		formatTime(now.Add(-24*time.Hour)),
	).Scan(&s.RecordsLastDay); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&s.Embeddings); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM image_hashes").Scan(&s.ImageHashes); err != nil {
		return nil, err
	}
	total, due, err := db.CountRetryEntries(ctx, now)
	if err != nil {
		return nil, err
	}
	s.RetryQueued, s.RetryDue = total, due

	var last string
	if err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(MAX(finished_at), '') FROM run_reports",
	).Scan(&s.Runs, &last); err != nil {
		return nil, err
	}
	s.LastRunAt = parseTime(last)
	return &s, nil
}
