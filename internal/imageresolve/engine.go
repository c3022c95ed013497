// Package imageresolve finds a representative image for an article page
// through an ordered cascade of extraction layers.
package imageresolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/fetch"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
)

const (
	// MaxAttempts bounds whole-cascade attempts for transient failures.
	MaxAttempts = 3
	// attemptDelay is multiplied by the attempt number between attempts.
	attemptDelay = 2 * time.Second
)

var (
	// ErrNoImage means every layer ran and no candidate validated.
	ErrNoImage = errors.New("no usable image")
	// ErrTransient means resolution failed for a reason that may clear later.
	ErrTransient = errors.New("transient image resolution failure")
)

// Input is the per-attempt state shared by the layers.
type Input struct {
	Link      string
	Page      *fetch.Page
	Doc       *goquery.Document
	Base      *url.URL
	Profile   *Profile
	UserAgent string
	Hints     []string
	PageErr   error
}

func (in *Input) pageError() error {
	if in.PageErr != nil {
		return in.PageErr
	}
	return ErrNoPage
}

// Options configures an Engine.
type Options struct {
	// Renderer drives layers 5 and 6. Nil disables them.
	Renderer Renderer
	// Registry rejects images already used by another article. May be nil.
	Registry *HashRegistry
	// StockImages maps a category to a generic image URL.
	StockImages map[string]string
}

// Engine runs the extraction cascade.
type Engine struct {
	fetcher    *fetch.Fetcher
	validator  *Validator
	renderer   Renderer
	stock      map[string]string
	strategies []Strategy
	log        *logger.Logger
	sleep      func(context.Context, time.Duration) error
}

// NewEngine creates an engine with the default layer order.
func NewEngine(fetcher *fetch.Fetcher, opts Options, log *logger.Logger) *Engine {
	e := &Engine{
		fetcher:   fetcher,
		validator: NewValidator(fetcher, opts.Registry),
		renderer:  opts.Renderer,
		stock:     opts.StockImages,
		log:       log.Named("images"),
		sleep:     sleepCtx,
	}
	e.strategies = []Strategy{
		{Name: "meta", Layer: 1, Find: findMeta},
		{Name: "jsonld", Layer: 2, Find: findJSONLD},
		{Name: "selectors", Layer: 3, Find: findSelectors},
		{Name: "content", Layer: 4, Find: findContent},
		{Name: "render", Layer: 5, Find: e.findRendered},
		{Name: "screenshot", Layer: 6, Find: e.findScreenshot},
	}
	return e
}

// Resolve returns the first validated image for link. hints are media URLs
// carried by the feed item. Transient failures retry the whole cascade with
// a different user agent; the returned error wraps ErrTransient when any
// failure was transient and ErrNoImage otherwise.
func (e *Engine) Resolve(ctx context.Context, link string, hints []string) (*model.ResolvedImage, error) {
	var (
		lastErr   error
		transient bool
	)
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * attemptDelay
			e.log.Debug("retrying image resolution", "link", link, "attempt", attempt+1, "delay", delay)
			if err := e.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTransient, err)
			}
		}

		img, isTransient, err := e.attempt(ctx, link, hints, fetch.UserAgent(attempt))
		if err == nil {
			return img, nil
		}
		lastErr = err
		if !isTransient {
			break
		}
		transient = true
	}

	if transient {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransient, link, lastErr)
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrNoImage, link, lastErr)
}

// attempt runs every layer once. It reports whether any failure on the way
// was transient.
func (e *Engine) attempt(ctx context.Context, link string, hints []string, ua string) (*model.ResolvedImage, bool, error) {
	in := &Input{Link: link, Profile: ProfileFor(link), UserAgent: ua, Hints: hints}
	in.Base, _ = url.Parse(link)

	transient := false
	page, err := e.fetcher.Fetch(ctx, link, ua)
	if err != nil {
		in.PageErr = err
		transient = fetch.IsTransient(err)
		e.log.Debug("page fetch failed", "link", link, "error", err)
	} else {
		in.Page = page
		in.Base = page.BaseURL()
		in.Profile = ProfileFor(page.FinalURL)
		in.Doc, err = goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err != nil {
			in.PageErr = err
		}
	}

	var lastErr error = ErrNoImage
	for _, s := range e.strategies {
		if err := ctx.Err(); err != nil {
			return nil, true, err
		}
		cands, err := s.Find(ctx, in)
		if err != nil {
			if isTransientErr(err) {
				transient = true
			}
			if in.PageErr == nil || s.Layer > 4 {
				e.log.Debug("layer failed", "link", link, "layer", s.Name, "error", err)
			}
			lastErr = err
			continue
		}

		img, t, err := e.pick(ctx, in, s, cands)
		if img != nil {
			e.log.Debug("image resolved", "link", link, "layer", s.Name, "method", img.Method, "url", truncateURL(img.URL))
			return img, false, nil
		}
		if t {
			transient = true
		}
		if err != nil {
			lastErr = err
		}
	}
	return nil, transient, lastErr
}

// pick validates candidates in order and returns the first that passes.
func (e *Engine) pick(ctx context.Context, in *Input, s Strategy, cands []Candidate) (*model.ResolvedImage, bool, error) {
	seen := make(map[string]bool)
	var (
		lastErr   error
		transient bool
	)
	for _, c := range cands {
		original := resolveURL(in.Base, c.URL)
		if original == "" || seen[original] {
			continue
		}
		seen[original] = true

		urls := []string{original}
		if up := in.Profile.Upgrade(original); up != original {
			urls = []string{up, original}
		}
		for _, u := range urls {
			val, err := e.validator.Validate(ctx, u, in.Link, validateOpts{profile: in.Profile, userAgent: in.UserAgent})
			if err != nil {
				lastErr = err
				if fetch.IsTransient(err) {
					transient = true
				}
				continue
			}
			return &model.ResolvedImage{
				URL:        u,
				Method:     c.Method,
				Layer:      s.Layer,
				Confidence: c.Confidence,
				Validation: val,
			}, false, nil
		}
	}
	return nil, transient, lastErr
}

// StockImage returns the configured generic image for category, validated
// as shared art so it may appear on many articles.
func (e *Engine) StockImage(ctx context.Context, category, link string) (*model.ResolvedImage, error) {
	u := e.stock[category]
	if u == "" {
		u = e.stock[string(model.CategoryOther)]
	}
	if u == "" {
		return nil, fmt.Errorf("%w: no stock image for %q", ErrNoImage, category)
	}
	val, err := e.validator.Validate(ctx, u, link, validateOpts{userAgent: fetch.UserAgent(0), shared: true})
	if err != nil {
		return nil, fmt.Errorf("stock image %s: %w", u, err)
	}
	return &model.ResolvedImage{URL: u, Method: "stock:" + category, Layer: 7, Confidence: 0.1, Validation: val}, nil
}

func isTransientErr(err error) bool {
	return errors.Is(err, ErrTransient) || fetch.IsTransient(err)
}

func truncateURL(u string) string {
	if len(u) > 120 {
		return u[:120] + "..."
	}
	return u
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
