package collect

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
)

const maxPerFeed = 30

// FeedParser parses RSS/Atom feeds.
type FeedParser struct {
	parser *gofeed.Parser
}

// NewFeedParser creates a new FeedParser.
func NewFeedParser() *FeedParser {
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: 20 * time.Second}
	p.UserAgent = "curator/1.0 (+feed reader)"
	return &FeedParser{parser: p}
}

// Parse fetches one feed and returns up to maxPerFeed items published after cutoff.
func (fp *FeedParser) Parse(ctx context.Context, feedURL string, src model.Source, cutoff time.Time) ([]model.RawItem, error) {
	feed, err := fp.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	var items []model.RawItem
	for _, it := range feed.Items {
		if len(items) >= maxPerFeed {
			break
		}
		item := parseItem(it, src)
		if item == nil {
			continue
		}
		if !item.Published.IsZero() && item.Published.Before(cutoff) {
			continue
		}
		items = append(items, *item)
	}
	return items, nil
}

func parseItem(item *gofeed.Item, src model.Source) *model.RawItem {
	link := strings.TrimSpace(item.Link)
	if link == "" && strings.HasPrefix(item.GUID, "http") {
		link = item.GUID
	}
	if link == "" {
		return nil
	}

	title := strings.TrimSpace(CleanHTML(item.Title))
	if title == "" {
		return nil
	}

	var published time.Time
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.UTC()
	}

	var content string
	if item.Content != "" {
		content = CleanHTML(item.Content)
	} else if item.Description != "" {
		content = CleanHTML(item.Description)
	}

	return &model.RawItem{
		Title:     title,
		Link:      link,
		Published: published,
		Content:   content,
		Media:     mediaHints(item),
		Source:    src,
	}
}

// mediaHints collects image URLs advertised by the feed itself.
func mediaHints(item *gofeed.Item) []string {
	var hints []string
	seen := make(map[string]bool)
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] || !strings.HasPrefix(u, "http") {
			return
		}
		seen[u] = true
		hints = append(hints, u)
	}

	if item.Image != nil {
		add(item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			add(enc.URL)
		}
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, key := range []string{"content", "thumbnail"} {
			for _, e := range media[key] {
				if medium := e.Attrs["medium"]; medium != "" && medium != "image" {
					continue
				}
				add(e.Attrs["url"])
			}
		}
		for _, group := range media["group"] {
			for _, e := range group.Children["content"] {
				add(e.Attrs["url"])
			}
		}
	}
	return hints
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
