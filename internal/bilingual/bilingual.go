// Package bilingual produces the English and Spanish copies of a record.
package bilingual

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"github.com/yuin/goldmark"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/llm"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/translate"
)

const (
	// MinDetectRunes is the shortest body handed to the language detector.
	MinDetectRunes = 200
	// rewriteInputLimit bounds the body sent to the rewrite oracle.
	rewriteInputLimit = 6000
	summaryFallbackRunes = 300
)

var md = goldmark.New()

// DetectLanguage returns "en" or "es" for body. Short bodies and
// undetectable text fall back to the feed hint, then to English.
func DetectLanguage(body, hint string) string {
	fallback := model.LangEnglish
	if hint == model.LangSpanish || hint == model.LangEnglish {
		fallback = hint
	}
	if utf8.RuneCountInString(strings.TrimSpace(body)) < MinDetectRunes {
		return fallback
	}
	switch whatlanggo.Detect(body).Lang {
	case whatlanggo.Spa:
		return model.LangSpanish
	case whatlanggo.Eng:
		return model.LangEnglish
	}
	return fallback
}

// Pipeline runs language detection, rewrite and translation.
type Pipeline struct {
	rewriter   llm.Provider
	translator translate.Translator
	log        *logger.Logger
}

// New creates a pipeline. A nil rewriter keeps the source prose as is.
func New(rewriter llm.Provider, translator translate.Translator, log *logger.Logger) *Pipeline {
	return &Pipeline{rewriter: rewriter, translator: translator, log: log.Named("bilingual")}
}

// Process builds both language copies for rec. Oracle failures degrade to
// the untouched source text and never fail the record.
func (p *Pipeline) Process(ctx context.Context, rec *model.CuratedRecord) *model.Bilingual {
	body := strings.TrimSpace(rec.ScrapedContent)
	if body == "" {
		body = strings.TrimSpace(rec.Item.Content)
	}
	lang := DetectLanguage(body, rec.Item.Source.Language)
	sibling := model.Sibling(lang)

	source := model.Copy{
		Title:   strings.TrimSpace(rec.Item.Title),
		Summary: rec.Classification.Summary,
		Content: body,
	}
	if source.Summary == "" {
		source.Summary = truncateRunes(body, summaryFallbackRunes)
	}
	if source.Content == "" {
		source.Content = source.Summary
	}

	if rewritten, err := p.rewrite(ctx, source, lang); err != nil {
		p.log.Warn("rewrite failed, keeping original text", "link", rec.Item.Link, "error", err)
	} else {
		source = rewritten
	}

	target := source
	out, err := p.translate(ctx, []string{source.Title, source.Summary, source.Content}, lang, sibling)
	if err != nil {
		p.log.Warn("translation failed, publishing source text in both languages",
			"link", rec.Item.Link, "to", sibling, "error", err)
	} else {
		target = model.Copy{Title: out[0], Summary: out[1], Content: out[2]}
	}

	alt := strings.TrimSpace(rec.Classification.ImageAlt)
	if alt == "" {
		alt = source.Title
	}
	siblingAlt := alt
	if out, err := p.translate(ctx, []string{alt}, lang, sibling); err == nil && strings.TrimSpace(out[0]) != "" {
		siblingAlt = strings.TrimSpace(out[0])
	}

	b := &model.Bilingual{SourceLanguage: lang}
	*b.In(lang) = source
	*b.In(sibling) = target
	if lang == model.LangSpanish {
		b.AltEs, b.AltEn = alt, siblingAlt
	} else {
		b.AltEn, b.AltEs = alt, siblingAlt
	}
	b.En.HTML = RenderHTML(b.En.Content)
	b.Es.HTML = RenderHTML(b.Es.Content)
	return b
}

func (p *Pipeline) translate(ctx context.Context, texts []string, from, to string) ([]string, error) {
	if p.translator == nil {
		return nil, fmt.Errorf("no translator configured")
	}
	out, err := p.translator.Translate(ctx, texts, from, to)
	if err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("%w: got %d of %d", translate.ErrMismatch, len(out), len(texts))
	}
	return out, nil
}

// RenderHTML converts markdown content to HTML. Raw HTML in the input is
// not passed through.
func RenderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return ""
	}
	return buf.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:n])
	if i := strings.LastIndexAny(cut, ".!?"); i > n/2 {
		return cut[:i+1]
	}
	return strings.TrimSpace(cut) + "..."
}
