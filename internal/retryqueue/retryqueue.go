// Package retryqueue defers records whose image could not be resolved to
// later runs.
package retryqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
)

const (
	// BackoffFloor is the shortest delay before a retry.
	BackoffFloor = 15 * time.Minute
	// BackoffCeiling is the longest delay before a retry.
	BackoffCeiling = 6 * time.Hour
	// MaxBackoffAttempt stops backoff growth.
	MaxBackoffAttempt = 6
	// BatchSize is how many due entries a drain takes.
	BatchSize = 12

	table = "retry_queue"
)

// ErrDisabled is returned by every operation once the backing table is
// found missing.
var ErrDisabled = errors.New("retry queue disabled")

// Backoff returns the delay after the nth failed attempt (1-based).
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > MaxBackoffAttempt {
		n = MaxBackoffAttempt
	}
	d := BackoffFloor << (n - 1)
	if d < BackoffFloor {
		d = BackoffFloor
	}
	if d > BackoffCeiling {
		d = BackoffCeiling
	}
	return d
}

// Store is the persistence the queue needs.
type Store interface {
	TableExists(ctx context.Context, name string) (bool, error)
	UpsertRetryEntry(ctx context.Context, link, payload, reason, lastErr string, next func(attempts int) time.Time) (*model.RetryEntry, error)
	RescheduleRetryEntry(ctx context.Context, id string, attempts int, lastErr string, next time.Time) error
	DueRetryEntries(ctx context.Context, now time.Time, limit int) ([]model.RetryEntry, error)
	ListRetryEntries(ctx context.Context) ([]model.RetryEntry, error)
	DeleteRetryEntry(ctx context.Context, link string) error
}

// Queue is a durable retry queue keyed by source link.
type Queue struct {
	store Store
	log   *logger.Logger
	now   func() time.Time

	once     sync.Once
	mu       sync.Mutex
	disabled bool
}

// New creates a queue over store.
func New(store Store, log *logger.Logger) *Queue {
	return &Queue{store: store, log: log.Named("retryqueue"), now: time.Now}
}

// Enabled reports whether the backing table is available.
func (q *Queue) Enabled(ctx context.Context) bool {
	q.once.Do(func() {
		ok, err := q.store.TableExists(ctx, table)
		if err != nil || !ok {
			q.disable(err)
		}
	})
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.disabled
}

func (q *Queue) disable(cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disabled {
		return
	}
	q.disabled = true
	if cause != nil {
		q.log.Warn("retry queue unavailable, deferred records will be dropped", "error", cause)
	} else {
		q.log.Warn("retry queue table missing, deferred records will be dropped")
	}
}

// check turns a missing-table failure into ErrDisabled.
func (q *Queue) check(err error) error {
	if err != nil && strings.Contains(err.Error(), "no such table") {
		q.disable(err)
		return ErrDisabled
	}
	return err
}

// Enqueue stores rec for a later attempt. A link already queued has its
// attempt count incremented and its payload replaced.
func (q *Queue) Enqueue(ctx context.Context, rec *model.CuratedRecord, reason string) (*model.RetryEntry, error) {
	if !q.Enabled(ctx) {
		return nil, ErrDisabled
	}
	payload, err := rec.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", rec.Item.Link, err)
	}
	now := q.now()
	entry, err := q.store.UpsertRetryEntry(ctx, rec.Item.Link, payload, reason, rec.LastError,
		func(attempts int) time.Time { return now.Add(Backoff(attempts)) })
	if err != nil {
		return nil, q.check(err)
	}
	q.log.Debug("queued for retry", "link", rec.Item.Link, "attempts", entry.Attempts, "next", entry.NextAttemptAt)
	return entry, nil
}

// Due returns up to limit entries eligible now. A non-positive limit uses
// BatchSize.
func (q *Queue) Due(ctx context.Context, limit int) ([]model.RetryEntry, error) {
	if !q.Enabled(ctx) {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = BatchSize
	}
	entries, err := q.store.DueRetryEntries(ctx, q.now(), limit)
	return entries, q.check(err)
}

// Reschedule records another failed attempt for entry.
func (q *Queue) Reschedule(ctx context.Context, entry model.RetryEntry, cause error) (time.Time, error) {
	if !q.Enabled(ctx) {
		return time.Time{}, ErrDisabled
	}
	attempts := entry.Attempts + 1
	next := q.now().Add(Backoff(attempts))
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := q.store.RescheduleRetryEntry(ctx, entry.ID, attempts, msg, next); err != nil {
		return time.Time{}, q.check(err)
	}
	return next, nil
}

// Remove deletes the entry for link.
func (q *Queue) Remove(ctx context.Context, link string) error {
	if !q.Enabled(ctx) {
		return ErrDisabled
	}
	return q.check(q.store.DeleteRetryEntry(ctx, link))
}

// List returns all queued entries.
func (q *Queue) List(ctx context.Context) ([]model.RetryEntry, error) {
	if !q.Enabled(ctx) {
		return nil, ErrDisabled
	}
	entries, err := q.store.ListRetryEntries(ctx)
	return entries, q.check(err)
}

// Decode restores the record carried by an entry.
func Decode(entry model.RetryEntry) (*model.CuratedRecord, error) {
	rec, err := model.UnmarshalRecord(entry.Payload)
	if err != nil {
		return nil, fmt.Errorf("decoding retry payload for %s: %w", entry.Link, err)
	}
	rec.QueueID = entry.ID
	rec.Attempts = entry.Attempts
	return rec, nil
}
