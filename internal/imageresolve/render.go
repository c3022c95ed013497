package imageresolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrRenderDisabled is returned by a renderer that was not enabled.
var ErrRenderDisabled = errors.New("browser rendering disabled")

const (
	renderConfidence     = 0.6
	screenshotConfidence = 0.3
)

// Renderer drives a headless browser for pages that build their markup
// with scripts.
type Renderer interface {
	// Render returns the DOM after scripts have run.
	Render(ctx context.Context, url, userAgent string) (string, error)
	// Screenshot returns a PNG of the page header, or the viewport.
	Screenshot(ctx context.Context, url, userAgent string) ([]byte, error)
}

// findRendered re-runs the static heuristics against the rendered DOM.
func (e *Engine) findRendered(ctx context.Context, in *Input) ([]Candidate, error) {
	if e.renderer == nil {
		return nil, ErrRenderDisabled
	}
	html, err := e.renderer.Render(ctx, in.Link, in.UserAgent)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing rendered page: %w", err)
	}

	var found []Candidate
	found = append(found, metaCandidates(doc)...)
	found = append(found, jsonLDCandidates(doc)...)
	found = append(found, selectorCandidates(doc, in.Profile)...)
	found = append(found, contentCandidates(doc)...)

	out := make([]Candidate, len(found))
	for i, c := range found {
		out[i] = Candidate{URL: c.URL, Method: "render:" + c.Method, Confidence: renderConfidence}
	}
	return out, nil
}

func (e *Engine) findScreenshot(ctx context.Context, in *Input) ([]Candidate, error) {
	if e.renderer == nil {
		return nil, ErrRenderDisabled
	}
	png, err := e.renderer.Screenshot(ctx, in.Link, in.UserAgent)
	if err != nil {
		return nil, err
	}
	return []Candidate{{URL: DataURI(png), Method: "screenshot", Confidence: screenshotConfidence}}, nil
}

// headerSelectors locate the lead region captured by a screenshot.
var headerSelectors = []string{"article header", "header.entry-header", ".article-hero", ".hero", "article figure", "main"}

// ChromeRenderer renders pages in one headless Chrome instance, started on
// first use and reused until Close.
type ChromeRenderer struct {
	execPath string
	timeout  time.Duration

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromeRenderer creates a renderer. An empty execPath lets chromedp
// find the browser.
func NewChromeRenderer(execPath string, timeout time.Duration) *ChromeRenderer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ChromeRenderer{execPath: execPath, timeout: timeout}
}

// browser starts Chrome on first use. The first Run on browserCtx launches
// the process; tabs derived from it share that process.
func (r *ChromeRenderer) browser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserCtx != nil {
		return r.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=true"),
		chromedp.WindowSize(1366, 900),
	)
	if r.execPath != "" {
		opts = append(opts, chromedp.ExecPath(r.execPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: start browser: %v", ErrTransient, err)
	}
	r.allocCancel, r.browserCtx, r.browserCancel = allocCancel, browserCtx, browserCancel
	return browserCtx, nil
}

// tab opens a new tab in the shared browser, bound to the caller's deadline.
func (r *ChromeRenderer) tab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	parent, err := r.browser()
	if err != nil {
		return nil, nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(parent)
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, r.timeout)
	stop := context.AfterFunc(ctx, timeoutCancel)
	return tabCtx, func() {
		stop()
		timeoutCancel()
		tabCancel()
	}, nil
}

// Render implements Renderer.
func (r *ChromeRenderer) Render(ctx context.Context, url, userAgent string) (string, error) {
	tabCtx, cancel, err := r.tab(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	var html string
	err = chromedp.Run(tabCtx,
		emulation.SetUserAgentOverride(userAgent),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500*time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("%w: render %s: %v", ErrTransient, url, err)
	}
	return html, nil
}

// Screenshot implements Renderer. It captures the first header-like region
// and falls back to the viewport.
func (r *ChromeRenderer) Screenshot(ctx context.Context, url, userAgent string) ([]byte, error) {
	tabCtx, cancel, err := r.tab(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	err = chromedp.Run(tabCtx,
		emulation.SetUserAgentOverride(userAgent),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrTransient, url, err)
	}

	for _, sel := range headerSelectors {
		var buf []byte
		subCtx, subCancel := context.WithTimeout(tabCtx, 3*time.Second)
		err := chromedp.Run(subCtx, chromedp.Screenshot(sel, &buf, chromedp.NodeVisible, chromedp.ByQuery))
		subCancel()
		if err == nil && len(buf) > 0 {
			return buf, nil
		}
	}

	var buf []byte
	err = chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: screenshot %s: %v", ErrTransient, url, err)
	}
	return buf, nil
}

// Close shuts the browser down. The renderer may be reused afterwards.
func (r *ChromeRenderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserCancel != nil {
		r.browserCancel()
	}
	if r.allocCancel != nil {
		r.allocCancel()
	}
	r.browserCtx, r.browserCancel, r.allocCancel = nil, nil, nil
}
