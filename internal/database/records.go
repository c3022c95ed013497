package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InsertRecord writes a record and its image metadata in one transaction.
// It returns the new record ID; a duplicate source link is an error.
func (db *DB) InsertRecord(ctx context.Context, r *Record) (string, error) {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO curated_records
		(id, source_link, source_name, source_category, source_language, published_at,
		 original_title, category, quality_score, detected_language,
		 title_en, summary_en, content_en, html_en,
		 title_es, summary_es, content_es, html_es, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.SourceLink, r.SourceName, r.SourceCategory, r.SourceLanguage, formatTime(r.PublishedAt),
		r.OriginalTitle, r.Category, r.QualityScore, r.DetectedLanguage,
		r.TitleEn, r.SummaryEn, r.ContentEn, r.HTMLEn,
		r.TitleEs, r.SummaryEs, r.ContentEs, r.HTMLEs, formatTime(created),
	)
	if err != nil {
		return "", fmt.Errorf("insert record %s: %w", r.SourceLink, err)
	}

	if img := r.Image; img != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO record_images
			(record_id, url, method, layer, confidence, width, height, bytes, mime, phash, sha256, alt_en, alt_es)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, img.URL, img.Method, img.Layer, img.Confidence, img.Width, img.Height,
			img.Bytes, img.MIME, img.PHash, img.SHA256, img.AltEn, img.AltEs,
		)
		if err != nil {
			return "", fmt.Errorf("insert image for %s: %w", r.SourceLink, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit record %s: %w", r.SourceLink, err)
	}
	return id, nil
}

// GetRecordByLink returns the record stored for a source link.
func (db *DB) GetRecordByLink(ctx context.Context, link string) (*Record, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT r.id, r.source_link, r.source_name, r.source_category, r.source_language, r.published_at,
		r.original_title, r.category, r.quality_score, r.detected_language,
		r.title_en, r.summary_en, r.content_en, r.html_en,
		r.title_es, r.summary_es, r.content_es, r.html_es, r.created_at,
		i.url, i.method, i.layer, i.confidence, i.width, i.height, i.bytes, i.mime, i.phash, i.sha256, i.alt_en, i.alt_es
		FROM curated_records r LEFT JOIN record_images i ON i.record_id = r.id
		WHERE r.source_link = ?`, link,
	)

	var r Record
	var published, created string
	var (
		url, method, mime, phash, sha, altEn, altEs sql.NullString
		layer, width, height, size                   sql.NullInt64
		confidence                                   sql.NullFloat64
	)
	err := row.Scan(&r.ID, &r.SourceLink, &r.SourceName, &r.SourceCategory, &r.SourceLanguage, &published,
		&r.OriginalTitle, &r.Category, &r.QualityScore, &r.DetectedLanguage,
		&r.TitleEn, &r.SummaryEn, &r.ContentEn, &r.HTMLEn,
		&r.TitleEs, &r.SummaryEs, &r.ContentEs, &r.HTMLEs, &created,
		&url, &method, &layer, &confidence, &width, &height, &size, &mime, &phash, &sha, &altEn, &altEs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.PublishedAt = parseTime(published)
	r.CreatedAt = parseTime(created)
	if url.Valid {
		r.Image = &RecordImage{
			URL:        url.String,
			Method:     method.String,
			Layer:      int(layer.Int64),
			Confidence: confidence.Float64,
			Width:      int(width.Int64),
			Height:     int(height.Int64),
			Bytes:      int(size.Int64),
			MIME:       mime.String,
			PHash:      phash.String,
			SHA256:     sha.String,
			AltEn:      altEn.String,
			AltEs:      altEs.String,
		}
	}
	return &r, nil
}

// RecordExists reports whether a record with the source link is stored.
func (db *DB) RecordExists(ctx context.Context, link string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM curated_records WHERE source_link = ?", link,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExistingLinks returns the subset of links that already have records.
func (db *DB) ExistingLinks(ctx context.Context, links []string) (map[string]bool, error) {
	out := make(map[string]bool)
	const chunk = 200
	for start := 0; start < len(links); start += chunk {
		end := start + chunk
		if end > len(links) {
			end = len(links)
		}
		batch := links[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]any, len(batch))
		for i, l := range batch {
			args[i] = l
		}

		rows, err := db.conn.QueryContext(ctx,
			"SELECT source_link FROM curated_records WHERE source_link IN ("+placeholders+")", args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var link string
			if err := rows.Scan(&link); err != nil {
				rows.Close()
				return nil, err
			}
			out[link] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// RecentTitles returns the original and English titles of records created
// since the given time, for lexical duplicate detection.
func (db *DB) RecentTitles(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT original_title, title_en FROM curated_records
		WHERE created_at >= ? ORDER BY created_at DESC`, formatTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var original, en string
		if err := rows.Scan(&original, &en); err != nil {
			return nil, err
		}
		titles = append(titles, original)
		if en != "" && en != original {
			titles = append(titles, en)
		}
	}
	return titles, rows.Err()
}

// CountRecords returns the number of stored records.
func (db *DB) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM curated_records").Scan(&n)
	return n, err
}
