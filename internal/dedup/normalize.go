// Package dedup detects near-duplicate titles and semantically repeated records.
package dedup

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// JaccardThreshold is the token-set similarity at which two titles are
	// the same story.
	JaccardThreshold = 0.78
	// MinSubstringLen is the shortest normalized title that may match by
	// containment.
	MinSubstringLen = 18
	// MinTokenLen is the shortest token kept for Jaccard comparison.
	MinTokenLen = 3
)

var (
	asidePattern    = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]|\{[^}]*\}`)
	sequencePattern = regexp.MustCompile(`\b(?:ep|episode|episodio|part|parte|pt|vol|volume|chapter|cap|capitulo|season|temporada|no|num)\b\.?\s*#?\d+\b`)
	hashNumPattern  = regexp.MustCompile(`#\d+\b`)
	nonWordPattern  = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

var stopwords = map[string]bool{
	// en
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "at": true, "by": true,
	"from": true, "as": true, "is": true, "are": true, "was": true, "be": true, "its": true,
	"it": true, "this": true, "that": true, "how": true, "what": true, "why": true, "new": true,
	"now": true, "just": true, "into": true, "about": true, "after": true, "over": true,
	"update": true, "updated": true, "breaking": true,
	// es
	"el": true, "la": true, "los": true, "las": true, "un": true, "una": true, "unos": true,
	"unas": true, "y": true, "o": true, "de": true, "del": true, "al": true, "en": true,
	"con": true, "por": true, "para": true, "que": true, "se": true, "su": true, "sus": true,
	"es": true, "como": true, "mas": true, "nuevo": true, "nueva": true, "ya": true,
	"sobre": true, "tras": true, "actualizacion": true, "ultima": true, "hora": true,
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeTitle lowercases a title, folds diacritics and strips sequence
// markers, bracketed asides, punctuation and stopwords.
func NormalizeTitle(title string) string {
	s := foldDiacritics(strings.ToLower(title))
	s = asidePattern.ReplaceAllString(s, " ")
	s = sequencePattern.ReplaceAllString(s, " ")
	s = hashNumPattern.ReplaceAllString(s, " ")
	s = nonWordPattern.ReplaceAllString(s, " ")

	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if !stopwords[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// Tokens splits a normalized title into the set of tokens at least
// MinTokenLen runes long.
func Tokens(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(normalized) {
		if len([]rune(w)) >= MinTokenLen {
			set[w] = struct{}{}
		}
	}
	return set
}

// Jaccard is |a ∩ b| / |a ∪ b|; two empty sets score 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// IsNearDuplicate compares two normalized titles.
func IsNearDuplicate(a, b string) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	if len(a) >= MinSubstringLen && strings.Contains(b, a) {
		return true
	}
	if len(b) >= MinSubstringLen && strings.Contains(a, b) {
		return true
	}
	return Jaccard(Tokens(a), Tokens(b)) >= JaccardThreshold
}
