// Package vectorindex answers nearest-neighbour queries over record embeddings.
package vectorindex

import (
	"context"
	"errors"
	"math"
	"sort"
)

// ErrUnsupported is returned when the backend does not implement similarity
// search, such as a Qdrant server without the Search RPC.
var ErrUnsupported = errors.New("vector search not supported")

// Match is one stored record similar to a query vector.
type Match struct {
	ID    string
	Link  string
	Title string
	Score float64
}

// Point is a record embedding to index.
type Point struct {
	ID     string
	Link   string
	Title  string
	Vector []float64
}

// Index is a nearest-neighbour store keyed by record ID.
type Index interface {
	// Search returns up to limit matches with cosine similarity >= threshold,
	// best first.
	Search(ctx context.Context, vec []float64, threshold float64, limit int) ([]Match, error)
	Upsert(ctx context.Context, p Point) error
}

// Cosine returns the cosine similarity of a and b, or 0 when the vectors
// differ in length or either has zero norm.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sortAndCap(matches []Match, limit int) []Match {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
