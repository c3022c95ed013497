// Package collect fetches and normalizes candidate items from RSS/Atom feeds
// and NewsAPI.
package collect

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/config"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
)

const (
	// FetchConcurrency bounds the number of feeds fetched at once.
	FetchConcurrency = 4
	// MaxBatch caps the number of items a single run considers.
	MaxBatch = 100
)

// Result holds the results of a collection run.
type Result struct {
	Items       []model.RawItem
	TotalFound  int
	Duplicates  int
	FailedFeeds int
	Sources     map[string]int
}

// Collector orchestrates item collection from the configured feeds.
type Collector struct {
	feeds    []config.Feed
	parser   *FeedParser
	news     *NewsAPIClient
	newsCfg  config.NewsAPIConfig
	daysBack int
	log      *logger.Logger
}

// NewCollector creates a collector for every feed in cfg. When the NewsAPI
// integration is enabled, it is fetched alongside the feeds.
func NewCollector(cfg *config.Config, daysBack int, log *logger.Logger) *Collector {
	c := &Collector{
		feeds:    append([]config.Feed(nil), cfg.Sources.Feeds...),
		parser:   NewFeedParser(),
		newsCfg:  cfg.Sources.APIs.NewsAPI,
		daysBack: daysBack,
		log:      log.Named("collect"),
	}

	needNews := c.newsCfg.Enabled
	for _, f := range c.feeds {
		if f.Kind == "newsapi" {
			needNews = true
		}
	}
	if needNews {
		c.news = NewNewsAPIClient(c.newsCfg.APIKeyEnv)
	}
	if c.newsCfg.Enabled {
		c.feeds = append(c.feeds, config.Feed{
			URL:      newsAPIBaseURL,
			Name:     "NewsAPI",
			Language: c.newsCfg.Language,
			Kind:     "newsapi",
		})
	}
	return c
}

// Collect fetches all feeds with bounded concurrency, merges the results,
// removes repeated links (first occurrence wins), orders by recency and caps
// the batch. A failing feed is logged and skipped.
func (c *Collector) Collect(ctx context.Context) *Result {
	r := &Result{Sources: make(map[string]int)}
	perFeed := make([][]model.RawItem, len(c.feeds))
	failed := make([]bool, len(c.feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(FetchConcurrency)
	for i, f := range c.feeds {
		g.Go(func() error {
			items, err := c.fetchFeed(gctx, f)
			if err != nil {
				c.log.Warn("feed failed", "url", f.URL, "kind", f.Kind, "error", err)
				failed[i] = true
				return nil
			}
			perFeed[i] = items
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	var merged []model.RawItem
	for i, items := range perFeed {
		if failed[i] {
			r.FailedFeeds++
		}
		r.TotalFound += len(items)
		for _, item := range items {
			if _, ok := seen[item.Link]; ok {
				r.Duplicates++
				continue
			}
			seen[item.Link] = struct{}{}
			merged = append(merged, item)
		}
	}

	SortByRecency(merged)
	if len(merged) > MaxBatch {
		merged = merged[:MaxBatch]
	}
	for _, item := range merged {
		r.Sources[item.Source.Name]++
	}
	r.Items = merged

	c.log.Info("collection complete",
		"feeds", len(c.feeds), "failed", r.FailedFeeds,
		"found", r.TotalFound, "duplicates", r.Duplicates, "kept", len(r.Items))
	return r
}

func (c *Collector) fetchFeed(ctx context.Context, f config.Feed) ([]model.RawItem, error) {
	cutoff := time.Now().AddDate(0, 0, -c.daysBack)
	if f.Kind == "newsapi" {
		query := c.newsCfg.Query
		lang := f.Language
		if lang == "" {
			lang = c.newsCfg.Language
		}
		return c.news.Search(ctx, f.URL, query, lang, cutoff, maxPerFeed)
	}

	name := f.Name
	if name == "" {
		name = extractSourceName(f.URL)
	}
	src := model.Source{Name: name, Category: f.Category, Language: f.Language}
	items, err := c.parser.Parse(ctx, f.URL, src, cutoff)
	if err != nil {
		return nil, err
	}
	c.log.Debug("parsed feed", "source", name, "items", len(items))
	return items, nil
}

// SortByRecency orders items newest first; undated items go last in their
// original order.
func SortByRecency(items []model.RawItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Published, items[j].Published
		if a.IsZero() || b.IsZero() {
			return !a.IsZero() && b.IsZero()
		}
		return a.After(b)
	})
}
