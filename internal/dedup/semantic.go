package dedup

import (
	"context"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/vectorindex"
)

const (
	// CoarseThreshold flags a close neighbour for the logs only.
	CoarseThreshold = 0.90
	// StrictThreshold is the similarity at which a record is rejected.
	StrictThreshold = 0.93
	// SearchLimit caps neighbours fetched per check.
	SearchLimit = 5
)

// Verdict is the outcome of a semantic duplicate check.
type Verdict int

const (
	VerdictUnique Verdict = iota
	VerdictDuplicate
	VerdictUnknown
)

func (v Verdict) String() string {
	switch v {
	case VerdictUnique:
		return "unique"
	case VerdictDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// SemanticResult is the verdict plus the closest neighbour, if any.
type SemanticResult struct {
	Verdict Verdict
	Nearest *vectorindex.Match
}

// Semantic checks record embeddings against a vector index. Index failures
// never block a record: they yield VerdictUnknown.
type Semantic struct {
	index vectorindex.Index
	log   *logger.Logger
}

// NewSemantic creates a checker over index. A nil index always answers unknown.
func NewSemantic(index vectorindex.Index, log *logger.Logger) *Semantic {
	return &Semantic{index: index, log: log.Named("dedup")}
}

// Check queries the index for vec.
func (s *Semantic) Check(ctx context.Context, vec []float64) SemanticResult {
	if s.index == nil || len(vec) == 0 {
		return SemanticResult{Verdict: VerdictUnknown}
	}

	matches, err := s.index.Search(ctx, vec, CoarseThreshold, SearchLimit)
	if err != nil {
		s.log.Warn("semantic check unavailable", "error", err)
		return SemanticResult{Verdict: VerdictUnknown}
	}
	if len(matches) == 0 {
		return SemanticResult{Verdict: VerdictUnique}
	}

	best := matches[0]
	if best.Score >= StrictThreshold {
		return SemanticResult{Verdict: VerdictDuplicate, Nearest: &best}
	}
	s.log.Info("close semantic neighbour below reject threshold",
		"score", best.Score, "neighbour", best.Link)
	return SemanticResult{Verdict: VerdictUnique, Nearest: &best}
}
