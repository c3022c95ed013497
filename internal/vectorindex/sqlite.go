package vectorindex

import (
	"context"
	"time"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/database"
)

// Window is how far back the SQLite index looks for neighbours.
const Window = 30 * 24 * time.Hour

// EmbeddingSource lists stored record embeddings.
type EmbeddingSource interface {
	RecentEmbeddings(ctx context.Context, since time.Time) ([]database.StoredEmbedding, error)
}

// SQLite scans the embeddings side table and ranks rows by cosine
// similarity. Embeddings are written by the persistence stage, so Upsert has
// nothing to do.
type SQLite struct {
	src EmbeddingSource
	now func() time.Time
}

// NewSQLite creates an index over src.
func NewSQLite(src EmbeddingSource) *SQLite {
	return &SQLite{src: src, now: time.Now}
}

// Search implements Index.
func (s *SQLite) Search(ctx context.Context, vec []float64, threshold float64, limit int) ([]Match, error) {
	rows, err := s.src.RecentEmbeddings(ctx, s.now().Add(-Window))
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, r := range rows {
		score := Cosine(vec, r.Vector)
		if score >= threshold {
			matches = append(matches, Match{ID: r.ContentID, Link: r.Link, Title: r.Title, Score: score})
		}
	}
	return sortAndCap(matches, limit), nil
}

// Upsert implements Index.
func (s *SQLite) Upsert(context.Context, Point) error { return nil }
