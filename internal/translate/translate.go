// Package translate is the translation oracle used by the bilingual stage.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/llm"
)

// ErrMismatch is returned when the oracle answers with a different number
// of texts than it was given.
var ErrMismatch = errors.New("translation count mismatch")

// Translator translates a batch of texts between two language codes.
// Output order matches input order.
type Translator interface {
	Translate(ctx context.Context, texts []string, from, to string) ([]string, error)
}

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
}

// LLMTranslator translates through an LLM provider with a JSON array contract.
type LLMTranslator struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMTranslator creates a translator backed by p.
func NewLLMTranslator(p llm.Provider) *LLMTranslator {
	return &LLMTranslator{provider: p, maxTokens: 4000}
}

// Translate sends all texts in a single call. Empty input strings are
// passed through untouched.
func (t *LLMTranslator) Translate(ctx context.Context, texts []string, from, to string) ([]string, error) {
	if len(texts) == 0 || from == to {
		return append([]string(nil), texts...), nil
	}

	prompt := buildPrompt(texts, languageName(from), languageName(to))
	resp, err := t.provider.Generate(ctx, prompt, t.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("translating %s->%s: %w", from, to, err)
	}

	var wrapped struct {
		Translations []string `json:"translations"`
	}
	if err := llm.DecodeJSON(resp, &wrapped); err != nil || wrapped.Translations == nil {
		var bare []string
		if err := llm.DecodeJSON(resp, &bare); err != nil {
			return nil, fmt.Errorf("parsing translation: %w", err)
		}
		wrapped.Translations = bare
	}

	out := wrapped.Translations
	if len(out) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrMismatch, len(texts), len(out))
	}
	for i, s := range out {
		if strings.TrimSpace(s) == "" && strings.TrimSpace(texts[i]) != "" {
			return nil, fmt.Errorf("empty translation for item %d", i)
		}
	}
	return out, nil
}

func buildPrompt(texts []string, from, to string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Translate each of the following %d texts from %s to %s.\n", len(texts), from, to)
	sb.WriteString("Keep markdown formatting, proper nouns, product names and numbers unchanged.\n")
	sb.WriteString(`Respond with JSON only: {"translations": ["...", "..."]} with exactly one entry per input, in order.`)
	sb.WriteString("\n\n")
	for i, s := range texts {
		fmt.Fprintf(&sb, "[%d]\n%s\n\n", i+1, s)
	}
	return sb.String()
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}
