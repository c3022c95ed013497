package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/config"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
)

type rssItem struct {
	title, link, desc string
	published        time.Time
	extra            string
}

func rssFeed(items ...rssItem) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/"><channel><title>T</title>`)
	for _, it := range items {
		sb.WriteString("<item>")
		fmt.Fprintf(&sb, "<title>%s</title><link>%s</link>", it.title, it.link)
		if it.desc != "" {
			fmt.Fprintf(&sb, "<description><![CDATA[%s]]></description>", it.desc)
		}
		if !it.published.IsZero() {
			fmt.Fprintf(&sb, "<pubDate>%s</pubDate>", it.published.Format(time.RFC1123Z))
		}
		sb.WriteString(it.extra)
		sb.WriteString("</item>")
	}
	sb.WriteString("</channel></rss>")
	return sb.String()
}

func newCollector(t *testing.T, feeds ...config.Feed) *Collector {
	t.Helper()
	cfg := &config.Config{Sources: config.Sources{Feeds: feeds}}
	return NewCollector(cfg, 7, logger.Nop())
}

func TestCollectMergesSortsAndDedupes(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(
			rssItem{title: "Older", link: "https://ex.com/1", published: now.Add(-3 * time.Hour)},
			rssItem{title: "Shared", link: "https://ex.com/shared", published: now.Add(-1 * time.Hour)},
		))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(
			rssItem{title: "Newest", link: "https://ex.com/2", published: now},
			rssItem{title: "Shared again", link: "https://ex.com/shared", published: now.Add(-1 * time.Hour)},
			rssItem{title: "Undated", link: "https://ex.com/3"},
		))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newCollector(t,
		config.Feed{URL: srv.URL + "/a", Name: "A", Kind: "rss"},
		config.Feed{URL: srv.URL + "/b", Name: "B", Kind: "rss", Language: "es"},
	)
	r := c.Collect(context.Background())

	require.Len(t, r.Items, 4)
	assert.Equal(t, 5, r.TotalFound)
	assert.Equal(t, 1, r.Duplicates)

	var titles []string
	for _, it := range r.Items {
		titles = append(titles, it.Title)
	}
	assert.Equal(t, []string{"Newest", "Shared", "Older", "Undated"}, titles)
	// First occurrence of a link wins.
	assert.Equal(t, "A", r.Items[1].Source.Name)
	assert.Equal(t, "es", r.Items[0].Source.Language)
}

func TestCollectFeedFailureIsolated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(rssItem{title: "Fine", link: "https://ex.com/fine", published: time.Now()}))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/garbage", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not a feed")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newCollector(t,
		config.Feed{URL: srv.URL + "/broken", Kind: "rss"},
		config.Feed{URL: srv.URL + "/ok", Kind: "rss"},
		config.Feed{URL: srv.URL + "/garbage", Kind: "rss"},
	)
	r := c.Collect(context.Background())
	require.Len(t, r.Items, 1)
	assert.Equal(t, "Fine", r.Items[0].Title)
	assert.Equal(t, 2, r.FailedFeeds)
}

func TestCollectCapsPerFeedAndBatch(t *testing.T) {
	now := time.Now()
	mux := http.NewServeMux()
	for f := 0; f < 4; f++ {
		f := f
		mux.HandleFunc(fmt.Sprintf("/f%d", f), func(w http.ResponseWriter, r *http.Request) {
			var items []rssItem
			for i := 0; i < 40; i++ {
				items = append(items, rssItem{
					title:     fmt.Sprintf("Feed %d item %d", f, i),
					link:      fmt.Sprintf("https://ex.com/%d/%d", f, i),
					published: now.Add(-time.Duration(i) * time.Minute),
				})
			}
			fmt.Fprint(w, rssFeed(items...))
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var feeds []config.Feed
	for f := 0; f < 4; f++ {
		feeds = append(feeds, config.Feed{URL: fmt.Sprintf("%s/f%d", srv.URL, f), Kind: "rss"})
	}
	r := newCollector(t, feeds...).Collect(context.Background())

	assert.Equal(t, 4*maxPerFeed, r.TotalFound)
	assert.Len(t, r.Items, MaxBatch)
}

func TestCollectSkipsOldItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(
			rssItem{title: "Ancient", link: "https://ex.com/old", published: time.Now().AddDate(0, 0, -30)},
			rssItem{title: "Recent", link: "https://ex.com/new", published: time.Now()},
		))
	}))
	defer srv.Close()

	r := newCollector(t, config.Feed{URL: srv.URL, Kind: "rss"}).Collect(context.Background())
	require.Len(t, r.Items, 1)
	assert.Equal(t, "Recent", r.Items[0].Title)
}

func TestParseItemMediaAndCleaning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(rssItem{
			title:     "Model &amp; tools",
			link:      "https://ex.com/m",
			desc:      `<p>Hello <b>world</b></p><p>Second&nbsp;para</p>`,
			published: time.Now(),
			extra: `<enclosure url="https://cdn.ex.com/enc.jpg" type="image/jpeg" length="1"/>` +
				`<media:content url="https://cdn.ex.com/media.jpg" medium="image"/>` +
				`<media:thumbnail url="https://cdn.ex.com/thumb.jpg"/>`,
		}))
	}))
	defer srv.Close()

	r := newCollector(t, config.Feed{URL: srv.URL, Kind: "rss"}).Collect(context.Background())
	require.Len(t, r.Items, 1)
	it := r.Items[0]
	assert.Equal(t, "Model & tools", it.Title)
	assert.Equal(t, "Hello world Second para", it.Content)
	assert.ElementsMatch(t, []string{
		"https://cdn.ex.com/enc.jpg",
		"https://cdn.ex.com/media.jpg",
		"https://cdn.ex.com/thumb.jpg",
	}, it.Media)
}

func TestCollectNewsAPI(t *testing.T) {
	t.Setenv("TEST_NEWSAPI_KEY", "secret")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "llm", r.URL.Query().Get("q"))
		fmt.Fprintf(w, `{"status":"ok","articles":[
			{"url":"https://news.ex.com/a","title":"Agents ship","publishedAt":%q,
			 "urlToImage":"https://news.ex.com/a.jpg","description":"<b>desc</b>","source":{"name":"Wire"}},
			{"url":"https://removed.com","title":"[Removed]"}
		]}`, time.Now().UTC().Format(time.RFC3339))
	}))
	defer srv.Close()

	cfg := &config.Config{Sources: config.Sources{
		Feeds: []config.Feed{{URL: srv.URL, Kind: "newsapi"}},
		APIs: config.APIsConfig{NewsAPI: config.NewsAPIConfig{
			APIKeyEnv: "TEST_NEWSAPI_KEY", Query: "llm", Language: "en",
		}},
	}}
	r := NewCollector(cfg, 7, logger.Nop()).Collect(context.Background())
	require.Len(t, r.Items, 1)
	assert.Equal(t, "Wire", r.Items[0].Source.Name)
	assert.Equal(t, "desc", r.Items[0].Content)
	assert.Equal(t, []string{"https://news.ex.com/a.jpg"}, r.Items[0].Media)
}

func TestCollectNewsAPIMissingKey(t *testing.T) {
	cfg := &config.Config{Sources: config.Sources{
		Feeds: []config.Feed{{URL: "http://127.0.0.1:0", Kind: "newsapi"}},
		APIs:  config.APIsConfig{NewsAPI: config.NewsAPIConfig{APIKeyEnv: "UNSET_NEWSAPI_KEY_FOR_TEST"}},
	}}
	r := NewCollector(cfg, 7, logger.Nop()).Collect(context.Background())
	assert.Empty(t, r.Items)
	assert.Equal(t, 1, r.FailedFeeds)
}

func TestSortByRecencyUndatedLast(t *testing.T) {
	now := time.Now()
	items := []model.RawItem{
		{Title: "u1"},
		{Title: "old", Published: now.Add(-time.Hour)},
		{Title: "u2"},
		{Title: "new", Published: now},
	}
	SortByRecency(items)
	assert.Equal(t, "new", items[0].Title)
	assert.Equal(t, "old", items[1].Title)
	assert.Equal(t, "u1", items[2].Title)
	assert.Equal(t, "u2", items[3].Title)
}

func TestExtractSourceName(t *testing.T) {
	assert.Equal(t, "Technologyreview", extractSourceName("https://www.technologyreview.com/feed"))
	assert.Equal(t, "Google", extractSourceName("https://blog.google/rss"))
	assert.Equal(t, "Huggingface", extractSourceName("https://huggingface.co/blog/feed.xml"))
}
