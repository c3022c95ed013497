package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "curated records and embeddings",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS curated_records (
    id TEXT PRIMARY KEY,
    source_link TEXT UNIQUE NOT NULL,
    source_name TEXT NOT NULL DEFAULT '',
    source_category TEXT NOT NULL DEFAULT '',
    source_language TEXT NOT NULL DEFAULT '',
    published_at TEXT NOT NULL DEFAULT '',
    original_title TEXT NOT NULL,
    category TEXT NOT NULL,
    quality_score REAL NOT NULL DEFAULT 0,
    detected_language TEXT NOT NULL,
    title_en TEXT NOT NULL,
    summary_en TEXT NOT NULL,
    content_en TEXT NOT NULL,
    html_en TEXT NOT NULL DEFAULT '',
    title_es TEXT NOT NULL,
    summary_es TEXT NOT NULL,
    content_es TEXT NOT NULL,
    html_es TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
    content_id TEXT NOT NULL,
    content_type TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    dims INTEGER NOT NULL,
    vector TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (content_id, content_type)
);

CREATE INDEX IF NOT EXISTS idx_curated_records_created ON curated_records(created_at);
CREATE INDEX IF NOT EXISTS idx_embeddings_type_created ON embeddings(content_type, created_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "image metadata and fingerprints",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS record_images (
    record_id TEXT PRIMARY KEY REFERENCES curated_records(id),
    url TEXT NOT NULL,
    method TEXT NOT NULL,
    layer INTEGER NOT NULL,
    confidence REAL NOT NULL,
    width INTEGER NOT NULL DEFAULT 0,
    height INTEGER NOT NULL DEFAULT 0,
    bytes INTEGER NOT NULL DEFAULT 0,
    mime TEXT NOT NULL DEFAULT '',
    phash TEXT NOT NULL DEFAULT '',
    sha256 TEXT NOT NULL DEFAULT '',
    alt_en TEXT NOT NULL DEFAULT '',
    alt_es TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS image_hashes (
    hash TEXT PRIMARY KEY,
    record_id TEXT NOT NULL,
    source_link TEXT NOT NULL,
    image_url TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`)
			return err
		},
	},
	{
		Version:     3,
		Description: "image retry queue and run reports",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS retry_queue (
    id TEXT PRIMARY KEY,
    link TEXT UNIQUE NOT NULL,
    payload TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    last_error TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 1,
    next_attempt_at TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_retry_queue_due ON retry_queue(next_attempt_at);

CREATE TABLE IF NOT EXISTS run_reports (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    fetched INTEGER NOT NULL DEFAULT 0,
    accepted INTEGER NOT NULL DEFAULT 0,
    stored INTEGER NOT NULL DEFAULT 0,
    queued INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    retry_recovered INTEGER NOT NULL DEFAULT 0
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
