package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ContentTypeRecord is the embeddings content type for curated records.
const ContentTypeRecord = "curated_record"

// SaveEmbedding stores (or replaces) the embedding vector for a content id.
func (db *DB) SaveEmbedding(ctx context.Context, contentID, contentType, model string, vec []float64) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encoding embedding: %w", err)
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO embeddings (content_id, content_type, model, dims, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id, content_type) DO UPDATE SET
			model = excluded.model,
			dims = excluded.dims,
			vector = excluded.vector,
			created_at = excluded.created_at`,
		contentID, contentType, model, len(vec), string(data), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("saving embedding %s: %w", contentID, err)
	}
	return nil
}

// RecentEmbeddings returns record embeddings created since the given time,
// joined with the owning record's link and title.
func (db *DB) RecentEmbeddings(ctx context.Context, since time.Time) ([]StoredEmbedding, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT e.content_id, r.source_link, r.title_en, e.vector
		FROM embeddings e JOIN curated_records r ON r.id = e.content_id
		WHERE e.content_type = ? AND e.created_at >= ?`,
		ContentTypeRecord, formatTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredEmbedding
	for rows.Next() {
		var e StoredEmbedding
		var raw string
		if err := rows.Scan(&e.ContentID, &e.Link, &e.Title, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &e.Vector); err != nil {
			// A corrupt row must not hide the rest of the window.
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEmbeddings returns the number of stored embeddings of a content type.
func (db *DB) CountEmbeddings(ctx context.Context, contentType string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM embeddings WHERE content_type = ?", contentType,
	).Scan(&n)
	return n, err
}
