package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/vectorindex"
)

func TestNormalizeTitle(t *testing.T) {
	cases := map[string]string{
		"GPT-5 Launch Announced (Update)":            "gpt 5 launch announced",
		"The AI Podcast, Ep. 12: Scaling Laws":       "ai podcast scaling laws",
		"Building Agents [Sponsored] Part 2":          "building agents",
		"Inteligencia Artificial: qué es y cómo usarla": "inteligencia artificial usarla",
		"Weekly digest #14 — models & tools":         "weekly digest models tools",
		"   ":                                        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTitle(in), in)
	}
}

func TestTokensMinLength(t *testing.T) {
	toks := Tokens("ai gpt 5 launch")
	assert.Equal(t, map[string]struct{}{"gpt": {}, "launch": {}}, toks)
}

func TestJaccard(t *testing.T) {
	a := Tokens("openai releases new reasoning model")
	b := Tokens("openai releases reasoning model")
	assert.InDelta(t, 0.8, Jaccard(a, b), 1e-9)
	assert.Equal(t, 0.0, Jaccard(Tokens(""), Tokens("")))
	assert.Equal(t, 1.0, Jaccard(a, a))
}

func TestIsNearDuplicateReflexiveAndSymmetric(t *testing.T) {
	titles := []string{
		"GPT-5 Launch Announced",
		"GPT-5 Launch Announced (Update)",
		"Google unveils Gemini 3 with longer context window",
		"Gemini 3 with longer context window",
		"Meta open-sources a new speech model",
		"Anthropic raises funding round",
		"Nvidia earnings beat expectations",
		"El nuevo modelo de Mistral llega a Europa",
		// These normalize to nothing.
		"(Update)",
		"The",
		"¿Qué es?",
		"[Video] #12",
	}
	for _, a := range titles {
		na := NormalizeTitle(a)
		assert.True(t, IsNearDuplicate(na, na), "reflexive: %q", a)
		for _, b := range titles {
			nb := NormalizeTitle(b)
			assert.Equal(t, IsNearDuplicate(na, nb), IsNearDuplicate(nb, na), "symmetric: %q vs %q", a, b)
		}
	}
}

func TestEmptyNormalizedTitles(t *testing.T) {
	for _, title := range []string{"(Update)", "The", "¿Qué es?", "[Video] #12"} {
		assert.Empty(t, NormalizeTitle(title), title)
	}
	assert.True(t, IsNearDuplicate("", ""))
	assert.False(t, IsNearDuplicate("", NormalizeTitle("GPT-5 Launch Announced")))

	idx := NewIndex()
	idx.Add("The")
	assert.Equal(t, 0, idx.Len())
	_, dup := idx.Contains("(Update)")
	assert.False(t, dup)
}

func TestIsNearDuplicateBranches(t *testing.T) {
	// Equality after normalization.
	assert.True(t, IsNearDuplicate(NormalizeTitle("GPT-5 Launch Announced"), NormalizeTitle("GPT-5 Launch Announced (Update)")))

	// Containment of a long enough title.
	long := NormalizeTitle("Gemini 3 with longer context window")
	assert.GreaterOrEqual(t, len(long), MinSubstringLen)
	assert.True(t, IsNearDuplicate(long, NormalizeTitle("Google unveils Gemini 3 with longer context window")))

	// Short titles never match by containment.
	assert.False(t, IsNearDuplicate("gpt", "gpt launch announced today"))

	// Jaccard branch.
	assert.True(t, IsNearDuplicate("openai releases reasoning model today", "openai releases reasoning model tomorrow today"))

	// Distinct stories.
	assert.False(t, IsNearDuplicate(NormalizeTitle("Anthropic raises funding round"), NormalizeTitle("Nvidia earnings beat expectations")))

	// Empty input never matches.
	assert.False(t, IsNearDuplicate("", ""))
}

type staticTitles struct {
	titles []string
	since  time.Time
	err    error
}

func (s *staticTitles) RecentTitles(_ context.Context, since time.Time) ([]string, error) {
	s.since = since
	return s.titles, s.err
}

func TestIndexLoadAndGrow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &staticTitles{titles: []string{"GPT-5 Launch Announced", "GPT-5 launch announced!"}}

	idx, err := LoadIndex(context.Background(), src, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-21*24*time.Hour), src.since)
	assert.Equal(t, 1, idx.Len())

	_, dup := idx.Contains("GPT-5 Launch Announced (Update)")
	assert.True(t, dup)

	_, dup = idx.Contains("Mistral ships a coding model")
	assert.False(t, dup)

	idx.Add("Mistral ships a coding model")
	matched, dup := idx.Contains("Mistral Ships A Coding Model")
	assert.True(t, dup)
	assert.Equal(t, "mistral ships coding model", matched)
	assert.Equal(t, 1, idx.AddedThisRun())
	assert.Equal(t, 2, idx.Len())
}

func TestLoadIndexError(t *testing.T) {
	_, err := LoadIndex(context.Background(), &staticTitles{err: errors.New("db down")}, time.Now())
	assert.Error(t, err)
}

type fakeIndex struct {
	matches []vectorindex.Match
	err     error
	gotTh   float64
}

func (f *fakeIndex) Search(_ context.Context, _ []float64, threshold float64, _ int) ([]vectorindex.Match, error) {
	f.gotTh = threshold
	return f.matches, f.err
}

func (f *fakeIndex) Upsert(context.Context, vectorindex.Point) error { return nil }

func TestSemanticCheck(t *testing.T) {
	ctx := context.Background()
	vec := []float64{1, 0}

	idx := &fakeIndex{matches: []vectorindex.Match{{ID: "r1", Link: "https://a.com", Score: 0.95}}}
	res := NewSemantic(idx, logger.Nop()).Check(ctx, vec)
	assert.Equal(t, VerdictDuplicate, res.Verdict)
	assert.Equal(t, CoarseThreshold, idx.gotTh)
	require.NotNil(t, res.Nearest)
	assert.Equal(t, "https://a.com", res.Nearest.Link)

	// Between the coarse and strict thresholds the record is kept.
	idx = &fakeIndex{matches: []vectorindex.Match{{ID: "r1", Score: 0.91}}}
	assert.Equal(t, VerdictUnique, NewSemantic(idx, logger.Nop()).Check(ctx, vec).Verdict)

	idx = &fakeIndex{}
	assert.Equal(t, VerdictUnique, NewSemantic(idx, logger.Nop()).Check(ctx, vec).Verdict)
}

func TestSemanticUnknownOnIndexError(t *testing.T) {
	idx := &fakeIndex{err: vectorindex.ErrUnsupported}
	res := NewSemantic(idx, logger.Nop()).Check(context.Background(), []float64{1})
	assert.Equal(t, VerdictUnknown, res.Verdict)

	assert.Equal(t, VerdictUnknown, NewSemantic(nil, logger.Nop()).Check(context.Background(), []float64{1}).Verdict)
	assert.Equal(t, "unknown", VerdictUnknown.String())
}
