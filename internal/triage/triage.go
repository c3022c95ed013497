// Package triage classifies candidate items for topical relevance and quality.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/llm"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
)

const (
	// ClassifyConcurrency bounds the number of in-flight classifier calls.
	ClassifyConcurrency = 5
	// MinQualityScore is the lowest quality score an item may have and be kept.
	MinQualityScore = 0.6
	// SnippetLimit is the maximum number of characters of body sent to the classifier.
	SnippetLimit = 1500
	// MaxAttempts bounds in-process retries of transient classifier failures.
	MaxAttempts = 3
)

// ErrMalformed marks a classifier answer that does not honour the JSON contract.
var ErrMalformed = errors.New("malformed classification")

const classifyPrompt = `You are the editor of a bilingual (English/Spanish) news site about artificial intelligence.

Classify the article below.

RELEVANT means the article is substantially about artificial intelligence: models, research, tools,
products, companies, policy, ethics or practical tutorials. Generic technology, gadget or finance news
with a passing AI mention is NOT relevant.

quality_score rates editorial value from 0.0 to 1.0: 1.0 is original, substantive reporting;
0.5 is a thin rewrite or press release; 0.0 is spam, clickbait or an advertisement.

Title: %s
Source: %s
Content:
%s

Respond with ONLY this JSON and nothing else:
{
    "relevant": true or false,
    "quality_score": number between 0 and 1,
    "category": "news" | "research" | "tools" | "business" | "ethics" | "tutorial" | "other",
    "summary": "Two sentences summarising the article in its own language",
    "image_alt": "Short description of a fitting image for the article"
}`

// Result holds the results of a classification run.
type Result struct {
	Processed int
	Accepted  int
	Rejected  int
	Errors    int
}

// Classifier scores items through an LLM provider.
type Classifier struct {
	provider llm.Provider
	log      *logger.Logger
	sleep    func(context.Context, time.Duration) error
}

// NewClassifier creates a classifier backed by provider.
func NewClassifier(provider llm.Provider, log *logger.Logger) *Classifier {
	return &Classifier{provider: provider, log: log.Named("triage"), sleep: sleepCtx}
}

type verdict struct {
	cls model.Classification
	err error
}

// Classify classifies items concurrently and returns the accepted records in
// input order. Items with malformed or failed classifications are dropped.
func (c *Classifier) Classify(ctx context.Context, items []model.RawItem) ([]*model.CuratedRecord, *Result) {
	r := &Result{}
	if len(items) == 0 {
		return nil, r
	}

	verdicts := make([]verdict, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ClassifyConcurrency)
	for i := range items {
		g.Go(func() error {
			cls, err := c.ClassifyItem(gctx, items[i])
			verdicts[i] = verdict{cls: cls, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var accepted []*model.CuratedRecord
	for i, v := range verdicts {
		item := items[i]
		if v.err != nil {
			r.Errors++
			c.log.Warn("classification failed", "link", item.Link, "error", v.err)
			continue
		}
		r.Processed++
		if !Accept(v.cls) {
			r.Rejected++
			c.log.Debug("rejected", "title", item.Title, "relevant", v.cls.Relevant, "quality", v.cls.QualityScore)
			continue
		}
		r.Accepted++
		accepted = append(accepted, &model.CuratedRecord{Item: item, Classification: v.cls})
	}

	c.log.Info("classification complete",
		"processed", r.Processed, "accepted", r.Accepted, "rejected", r.Rejected, "errors", r.Errors)
	return accepted, r
}

// Accept applies the keep rule: relevant and at least MinQualityScore.
func Accept(cls model.Classification) bool {
	return cls.Relevant && cls.QualityScore >= MinQualityScore
}

// ClassifyItem classifies one item, retrying transient provider failures
// with exponential backoff. Malformed answers are not retried.
func (c *Classifier) ClassifyItem(ctx context.Context, item model.RawItem) (model.Classification, error) {
	prompt := BuildPrompt(item)

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		resp, err := c.provider.Generate(ctx, prompt, 400)
		if err == nil {
			return ParseClassification(resp)
		}
		lastErr = err
		if !llm.IsTransient(err) || attempt == MaxAttempts {
			break
		}
		delay := time.Duration(1<<(attempt-1)) * time.Second
		c.log.Debug("transient classifier error, retrying", "link", item.Link, "attempt", attempt, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return model.Classification{}, err
		}
	}
	return model.Classification{}, fmt.Errorf("classifier: %w", lastErr)
}

// BuildPrompt renders the classifier prompt with a bounded snippet.
func BuildPrompt(item model.RawItem) string {
	snippet := strings.TrimSpace(item.Content)
	if snippet == "" {
		snippet = item.Title
	}
	snippet = Truncate(snippet, SnippetLimit)

	source := item.Source.Name
	if source == "" {
		source = "Unknown"
	}
	return fmt.Sprintf(classifyPrompt, item.Title, source, snippet)
}

// Truncate cuts s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

type rawClassification struct {
	Relevant     *bool    `json:"relevant"`
	QualityScore *float64 `json:"quality_score"`
	Category     string   `json:"category"`
	Summary      string   `json:"summary"`
	ImageAlt     string   `json:"image_alt"`
}

// ParseClassification decodes a classifier answer under the strict contract.
func ParseClassification(text string) (model.Classification, error) {
	var raw rawClassification
	if err := llm.DecodeJSON(text, &raw); err != nil {
		return model.Classification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Relevant == nil {
		return model.Classification{}, fmt.Errorf("%w: missing relevant", ErrMalformed)
	}
	if raw.QualityScore == nil {
		return model.Classification{}, fmt.Errorf("%w: missing quality_score", ErrMalformed)
	}
	if q := *raw.QualityScore; q < 0 || q > 1 {
		return model.Classification{}, fmt.Errorf("%w: quality_score %v out of range", ErrMalformed, q)
	}

	cat := model.CategoryOther
	if s := strings.ToLower(strings.TrimSpace(raw.Category)); s != "" {
		parsed, ok := model.ParseCategory(s)
		if !ok {
			return model.Classification{}, fmt.Errorf("%w: unknown category %q", ErrMalformed, raw.Category)
		}
		cat = parsed
	}

	return model.Classification{
		Relevant:     *raw.Relevant,
		QualityScore: *raw.QualityScore,
		Category:     cat,
		Summary:      strings.TrimSpace(raw.Summary),
		ImageAlt:     strings.TrimSpace(raw.ImageAlt),
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
