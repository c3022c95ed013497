package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RegisterImageHash records that an image fingerprint belongs to a record.
// An already registered hash keeps its original owner.
func (db *DB) RegisterImageHash(ctx context.Context, hash, recordID, link, imageURL string) error {
	if hash == "" {
		return nil
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO image_hashes (hash, record_id, source_link, image_url, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		hash, recordID, link, imageURL, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("registering image hash: %w", err)
	}
	return nil
}

// ImageHashOwner returns the source link that owns an image fingerprint.
// It returns ErrNotFound when the hash is unregistered.
func (db *DB) ImageHashOwner(ctx context.Context, hash string) (string, error) {
	var link string
	err := db.conn.QueryRowContext(ctx,
		"SELECT source_link FROM image_hashes WHERE hash = ?", hash,
	).Scan(&link)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return link, nil
}
