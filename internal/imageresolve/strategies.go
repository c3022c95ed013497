package imageresolve

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoPage is returned by static layers when the page could not be fetched.
var ErrNoPage = errors.New("page unavailable")

// Candidate is an unvalidated image URL proposed by a layer.
type Candidate struct {
	URL        string
	Method     string
	Confidence float64
}

// Strategy is one layer of the cascade.
type Strategy struct {
	Name  string
	Layer int
	Find  func(ctx context.Context, in *Input) ([]Candidate, error)
}

var metaTags = []struct {
	selector   string
	attr       string
	method     string
	confidence float64
}{
	{`meta[property="og:image:secure_url"]`, "content", "meta:og:image:secure_url", 0.95},
	{`meta[property="og:image"], meta[name="og:image"]`, "content", "meta:og:image", 0.93},
	{`meta[name="twitter:image"], meta[property="twitter:image"]`, "content", "meta:twitter:image", 0.9},
	{`meta[name="twitter:image:src"]`, "content", "meta:twitter:image:src", 0.88},
	{`link[rel="image_src"]`, "href", "meta:image_src", 0.8},
	{`meta[itemprop="image"]`, "content", "meta:itemprop", 0.75},
	{`meta[name="thumbnail"]`, "content", "meta:thumbnail", 0.7},
}

// metaCandidates reads page-level image hints, most specific first.
func metaCandidates(doc *goquery.Document) []Candidate {
	var out []Candidate
	for _, m := range metaTags {
		doc.Find(m.selector).Each(func(_ int, s *goquery.Selection) {
			if v := strings.TrimSpace(s.AttrOr(m.attr, "")); v != "" {
				out = append(out, Candidate{URL: v, Method: m.method, Confidence: m.confidence})
			}
		})
	}
	return out
}

// findMeta also proposes the feed's media hints, which survive a failed
// page fetch.
func findMeta(_ context.Context, in *Input) ([]Candidate, error) {
	var out []Candidate
	if in.Doc != nil {
		out = metaCandidates(in.Doc)
	}
	for _, h := range in.Hints {
		out = append(out, Candidate{URL: h, Method: "feed:media", Confidence: 0.8})
	}
	if len(out) == 0 && in.Doc == nil {
		return nil, in.pageError()
	}
	return out, nil
}

const jsonLDConfidence = 0.85

// jsonLDCandidates searches structured data blocks for image references.
func jsonLDCandidates(doc *goquery.Document) []Candidate {
	var out []Candidate
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &v); err != nil {
			return
		}
		for _, u := range jsonLDImages(v, 0) {
			out = append(out, Candidate{URL: u, Method: "jsonld", Confidence: jsonLDConfidence})
		}
	})
	return out
}

var jsonLDImageKeys = []string{"image", "thumbnailUrl", "primaryImageOfPage", "contentUrl"}

func jsonLDImages(v any, depth int) []string {
	if depth > 8 {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case string:
		if looksLikeURL(t) {
			out = append(out, t)
		}
	case []any:
		for _, e := range t {
			out = append(out, jsonLDImages(e, depth+1)...)
		}
	case map[string]any:
		for _, key := range jsonLDImageKeys {
			if iv, ok := t[key]; ok {
				out = append(out, imageValue(iv, depth+1)...)
			}
		}
		// Nested entities such as @graph or mainEntity.
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if isImageKey(k) {
				continue
			}
			switch t[k].(type) {
			case map[string]any, []any:
				out = append(out, jsonLDImages(t[k], depth+1)...)
			}
		}
	}
	return out
}

func imageValue(v any, depth int) []string {
	switch t := v.(type) {
	case string:
		if looksLikeURL(t) {
			return []string{t}
		}
	case map[string]any:
		for _, k := range []string{"url", "contentUrl", "@id"} {
			if s, ok := t[k].(string); ok && looksLikeURL(s) {
				return []string{s}
			}
		}
	case []any:
		var out []string
		for _, e := range t {
			out = append(out, imageValue(e, depth+1)...)
		}
		return out
	}
	return nil
}

func isImageKey(k string) bool {
	for _, ik := range jsonLDImageKeys {
		if k == ik {
			return true
		}
	}
	return false
}

func looksLikeURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/")
}

func findJSONLD(_ context.Context, in *Input) ([]Candidate, error) {
	if in.Doc == nil {
		return nil, in.pageError()
	}
	return jsonLDCandidates(in.Doc), nil
}

// genericSelectors covers common CMS and news layouts, in priority order.
var genericSelectors = []string{
	"img.wp-post-image",
	".featured-image img",
	".post-thumbnail img",
	".entry-thumbnail img",
	"figure.featured img",
	".article-hero img",
	".hero-image img",
	".hero img",
	".lead-image img",
	".article-featured-image img",
	".story-image img",
	".c-entry-hero img",
	".entry-header img",
	"article header figure img",
	"article header img",
	"[itemprop=\"image\"] img",
	"img[itemprop=\"image\"]",
	".article-image img",
	".post-image img",
	".news-image img",
	".cover-image img",
	".banner img",
	"article figure img",
	"main figure img",
	".entry-content figure img",
	".post-content figure img",
	"article picture img",
	"[class*=\"featured\"]",
	"[class*=\"hero\"]",
}

const (
	selectorConfidence        = 0.75
	profileSelectorConfidence = 0.8
)

func selectorCandidates(doc *goquery.Document, profile *Profile) []Candidate {
	var out []Candidate
	if profile != nil {
		for _, sel := range profile.Selectors {
			doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if u := elementImage(s); u != "" {
					out = append(out, Candidate{URL: u, Method: "selector:" + profile.Name, Confidence: profileSelectorConfidence})
					return false
				}
				return true
			})
		}
	}
	for _, sel := range genericSelectors {
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if u := elementImage(s); u != "" {
				out = append(out, Candidate{URL: u, Method: "selector", Confidence: selectorConfidence})
				return false
			}
			return true
		})
	}
	return out
}

func findSelectors(_ context.Context, in *Input) ([]Candidate, error) {
	if in.Doc == nil {
		return nil, in.pageError()
	}
	return selectorCandidates(in.Doc, in.Profile), nil
}

var bgURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// elementImage extracts an image URL from an <img>, a <picture>/<source>, a
// wrapper containing one, or an inline background-image style.
func elementImage(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "img":
		return imgSource(s)
	case "source":
		return largestFromSrcset(s.AttrOr("srcset", s.AttrOr("data-srcset", "")))
	}
	if img := s.Find("img").First(); img.Length() > 0 {
		if u := imgSource(img); u != "" {
			return u
		}
	}
	if src := s.Find("source").First(); src.Length() > 0 {
		if u := largestFromSrcset(src.AttrOr("srcset", "")); u != "" {
			return u
		}
	}
	if m := bgURLPattern.FindStringSubmatch(s.AttrOr("style", "")); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// imgSource prefers lazy-load attributes and the largest srcset entry over
// a placeholder src.
func imgSource(img *goquery.Selection) string {
	for _, attr := range []string{"data-srcset", "srcset"} {
		if u := largestFromSrcset(img.AttrOr(attr, "")); u != "" {
			return u
		}
	}
	for _, attr := range []string{"data-src", "data-lazy-src", "data-original", "data-url", "src"} {
		v := strings.TrimSpace(img.AttrOr(attr, ""))
		if v == "" {
			continue
		}
		if strings.HasPrefix(v, "data:") && attr == "src" && len(v) < 2048 {
			// Lazy-load placeholder.
			continue
		}
		return v
	}
	return ""
}

func largestFromSrcset(srcset string) string {
	best, bestW := "", -1.0
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		w := 0.0
		if len(fields) > 1 {
			d := fields[1]
			if n, err := strconv.ParseFloat(strings.TrimRight(d, "wx"), 64); err == nil {
				w = n
				if strings.HasSuffix(d, "x") {
					w *= 1000
				}
			}
		}
		if w > bestW {
			best, bestW = fields[0], w
		}
	}
	return best
}

const maxContentCandidates = 5

var (
	positiveHint = regexp.MustCompile(`(?i)hero|featured|lead|cover|main|wp-post-image|article|story|size-full|size-large`)
	negativeHint = regexp.MustCompile(`(?i)avatar|author|logo|icon|badge|emoji|sponsor|promo|advert|\bads?\b|share|social|related|thumb-small|gravatar`)
)

// contentCandidates scores in-body images by declared size and class/id
// hints and returns the best of the first few eligible ones.
func contentCandidates(doc *goquery.Document) []Candidate {
	type scored struct {
		url   string
		score float64
		order int
	}
	var pool []scored

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	root.Find("img").EachWithBreak(func(i int, img *goquery.Selection) bool {
		if img.Closest("nav, footer, aside, header nav, .sidebar, .related, .comments").Length() > 0 {
			return true
		}
		hints := img.AttrOr("class", "") + " " + img.AttrOr("id", "") + " " + img.AttrOr("alt", "") + " " +
			img.Parent().AttrOr("class", "")
		if negativeHint.MatchString(hints) {
			return true
		}
		u := imgSource(img)
		if u == "" {
			return true
		}

		w, _ := strconv.Atoi(strings.TrimSuffix(img.AttrOr("width", ""), "px"))
		h, _ := strconv.Atoi(strings.TrimSuffix(img.AttrOr("height", ""), "px"))
		if (w > 0 && w < GenericProfile.MinWidth) || (h > 0 && h < GenericProfile.MinHeight) {
			return true
		}

		score := 0.5
		switch {
		case w >= 1000:
			score += 0.12
		case w >= 600:
			score += 0.08
		case w >= 300:
			score += 0.04
		}
		if w > 0 && h > 0 {
			ratio := float64(w) / float64(h)
			if ratio >= 1.2 && ratio <= 2.2 {
				score += 0.03
			}
		}
		if positiveHint.MatchString(hints) {
			score += 0.05
		}
		if score > 0.7 {
			score = 0.7
		}
		pool = append(pool, scored{url: u, score: score, order: len(pool)})
		return len(pool) < maxContentCandidates
	})

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].score > pool[j].score })
	out := make([]Candidate, len(pool))
	for i, s := range pool {
		out[i] = Candidate{URL: s.url, Method: "content", Confidence: s.score}
	}
	return out
}

func findContent(_ context.Context, in *Input) ([]Candidate, error) {
	if in.Doc == nil {
		return nil, in.pageError()
	}
	return contentCandidates(in.Doc), nil
}

// resolveURL makes ref absolute against base.
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		if !u.IsAbs() {
			return ""
		}
		return u.String()
	}
	return base.ResolveReference(u).String()
}
