package bilingual

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/llm"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
)

// ErrEmptyRewrite is returned when the oracle drops a required field.
var ErrEmptyRewrite = errors.New("rewrite returned empty fields")

const rewritePrompt = `You are a senior editor at an independent news site about artificial intelligence.
Rewrite the article below in %s for a technically literate general audience.

Voice: clear, precise and neutral. Short paragraphs. Explain jargon the first time it appears.
Keep every fact, number and name from the original. Do not invent facts or quotes.
Write the content as Markdown paragraphs; use ## subheadings only for long pieces.

Never include:
- raw URLs or links
- boilerplate such as "read more", "continue reading", "leer más", "click here" or newsletter prompts
- references to images, photos or figures that are not shown

Title: %s
Summary: %s
Content:
%s

Respond with ONLY this JSON and nothing else:
{
    "title": "Rewritten headline, at most 110 characters",
    "summary": "Two or three sentence summary",
    "content": "Rewritten article body in Markdown"
}`

type rewriteResult struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

func (p *Pipeline) rewrite(ctx context.Context, src model.Copy, lang string) (model.Copy, error) {
	if p.rewriter == nil {
		return src, nil
	}
	langName := "English"
	if lang == model.LangSpanish {
		langName = "Spanish"
	}
	prompt := fmt.Sprintf(rewritePrompt, langName, src.Title, src.Summary, truncateRunes(src.Content, rewriteInputLimit))

	resp, err := p.rewriter.Generate(ctx, prompt, 2000)
	if err != nil {
		return src, fmt.Errorf("rewrite: %w", err)
	}
	var r rewriteResult
	if err := llm.DecodeJSON(resp, &r); err != nil {
		return src, fmt.Errorf("rewrite: %w", err)
	}

	out := model.Copy{
		Title:   Sanitize(r.Title),
		Summary: Sanitize(r.Summary),
		Content: Sanitize(r.Content),
	}
	if out.Title == "" || out.Content == "" {
		return src, ErrEmptyRewrite
	}
	if out.Summary == "" {
		out.Summary = src.Summary
	}
	return out, nil
}

var (
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	markdownLink  = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	rawURL        = regexp.MustCompile(`(?i)\(?\b(https?://|www\.)[^\s)]+\)?`)
	boilerplate   = regexp.MustCompile(`(?im)^.*\b(read more|continue reading|read the full (story|article)|click here|subscribe to our newsletter|leer m[aá]s|seguir leyendo|haz clic aqu[ií]|suscr[ií]bete)\b.*$`)
	missingImage  = regexp.MustCompile(`(?i)[\[(]?\s*\b(image|photo|picture|imagen|foto)\s+(not available|unavailable|missing|no disponible)\b\s*[\])]?`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
	innerSpaces   = regexp.MustCompile(`[ \t]{2,}`)
)

// Sanitize strips links, boilerplate and missing-image placeholders from
// oracle prose.
func Sanitize(s string) string {
	s = markdownImage.ReplaceAllString(s, "")
	s = markdownLink.ReplaceAllString(s, "$1")
	s = rawURL.ReplaceAllString(s, "")
	s = boilerplate.ReplaceAllString(s, "")
	s = missingImage.ReplaceAllString(s, "")
	s = innerSpaces.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
