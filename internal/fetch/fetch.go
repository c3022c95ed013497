// Package fetch retrieves article pages and binary assets over HTTP.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	// MaxPageBytes caps the size of an HTML document read into memory.
	MaxPageBytes = 5 << 20
	// MinTextLength is the shortest extracted body treated as real content.
	MinTextLength = 100
)

// ErrTooLarge is returned when a response exceeds its read limit.
var ErrTooLarge = errors.New("response too large")

// HTTPError is a response with a non-success status.
type HTTPError struct {
	Code int
	URL  string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// IsTransient reports whether a fetch failure may succeed on retry:
// timeouts, connection failures, 429 and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Code == http.StatusTooManyRequests || he.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Page is a fetched HTML document.
type Page struct {
	URL      string
	FinalURL string
	HTML     string
	Text     string
	Title    string
}

// BaseURL is the URL relative references in the page resolve against.
func (p *Page) BaseURL() *url.URL {
	u, err := url.Parse(p.FinalURL)
	if err != nil || p.FinalURL == "" {
		u, _ = url.Parse(p.URL)
	}
	return u
}

// Fetcher performs GET requests with a redirect cap and timeout.
type Fetcher struct {
	client *http.Client
}

// New creates a fetcher. A zero timeout defaults to 15 seconds.
func New(timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// NewWithClient creates a fetcher using client.
func NewWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch downloads an HTML page and extracts its readable text.
func (f *Fetcher) Fetch(ctx context.Context, pageURL, userAgent string) (*Page, error) {
	body, finalURL, _, err := f.get(ctx, pageURL, userAgent, "text/html,application/xhtml+xml", MaxPageBytes)
	if err != nil {
		return nil, err
	}

	page := &Page{URL: pageURL, FinalURL: finalURL, HTML: string(body)}
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	base := page.BaseURL()
	if article, err := readability.FromReader(bytes.NewReader(body), base); err == nil {
		text := strings.TrimSpace(article.TextContent)
		if len(text) > MinTextLength {
			page.Text = text
		}
	}
	return page, nil
}

// Download fetches a binary resource, reading at most limit bytes.
// It returns the body and the declared content type.
func (f *Fetcher) Download(ctx context.Context, rawURL, userAgent string, limit int64) ([]byte, string, error) {
	body, _, ctype, err := f.get(ctx, rawURL, userAgent, "image/avif,image/webp,image/*,*/*;q=0.8", limit)
	return body, ctype, err
}

func (f *Fetcher) get(ctx context.Context, rawURL, userAgent, accept string, limit int64) ([]byte, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, "", "", err
	}
	if userAgent == "" {
		userAgent = UserAgent(0)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,es;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", "", &HTTPError{Code: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", "", fmt.Errorf("reading %s: %w", rawURL, err)
	}
	if int64(len(body)) > limit {
		return nil, "", "", fmt.Errorf("%s: %w", rawURL, ErrTooLarge)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return body, finalURL, resp.Header.Get("Content-Type"), nil
}
