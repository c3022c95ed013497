package dedup

import (
	"context"
	"time"
)

// Window is the trailing history loaded into the index at run start.
const Window = 21 * 24 * time.Hour

// TitleSource lists titles of recently persisted records.
type TitleSource interface {
	RecentTitles(ctx context.Context, since time.Time) ([]string, error)
}

// Index is the run-scoped set of known titles. It is filled once from
// history and grows as the run persists records; it never shrinks. It is
// not safe for concurrent use.
type Index struct {
	titles  []string
	exact   map[string]int
	history int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{exact: make(map[string]int)}
}

// LoadIndex builds an index from titles persisted within Window of now.
func LoadIndex(ctx context.Context, src TitleSource, now time.Time) (*Index, error) {
	titles, err := src.RecentTitles(ctx, now.Add(-Window))
	if err != nil {
		return nil, err
	}
	idx := NewIndex()
	for _, t := range titles {
		idx.Add(t)
	}
	idx.history = len(idx.titles)
	return idx, nil
}

// Add records a title. Titles that normalize to nothing are ignored.
func (i *Index) Add(title string) {
	n := NormalizeTitle(title)
	if n == "" {
		return
	}
	if _, ok := i.exact[n]; ok {
		return
	}
	i.exact[n] = len(i.titles)
	i.titles = append(i.titles, n)
}

// Contains reports whether title is a near-duplicate of a known title and
// returns the normalized form it matched.
func (i *Index) Contains(title string) (string, bool) {
	n := NormalizeTitle(title)
	if n == "" {
		return "", false
	}
	if _, ok := i.exact[n]; ok {
		return n, true
	}
	for _, known := range i.titles {
		if IsNearDuplicate(n, known) {
			return known, true
		}
	}
	return "", false
}

// Len is the number of distinct normalized titles held.
func (i *Index) Len() int { return len(i.titles) }

// AddedThisRun is the number of titles added after the history load.
func (i *Index) AddedThisRun() int { return len(i.titles) - i.history }
