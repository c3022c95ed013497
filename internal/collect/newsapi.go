package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// ErrNewsAPIKey is returned when the NewsAPI key variable is unset.
var ErrNewsAPIKey = errors.New("NewsAPI key not configured")

// NewsAPIClient fetches articles from NewsAPI.
type NewsAPIClient struct {
	apiKey string
	client *http.Client
}

// NewNewsAPIClient creates a new NewsAPI client.
func NewNewsAPIClient(apiKeyEnv string) *NewsAPIClient {
	return &NewsAPIClient{
		apiKey: os.Getenv(apiKeyEnv),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search queries the endpoint for articles published after cutoff.
func (c *NewsAPIClient) Search(ctx context.Context, endpoint, query, language string, cutoff time.Time, pageSize int) ([]model.RawItem, error) {
	if c == nil || c.apiKey == "" {
		return nil, ErrNewsAPIKey
	}
	if endpoint == "" {
		endpoint = newsAPIBaseURL
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if language == "" {
		language = "en"
	}

	params := url.Values{
		"q":        {query},
		"from":     {cutoff.Format("2006-01-02")},
		"language": {language},
		"pageSize": {fmt.Sprintf("%d", pageSize)},
		"sortBy":   {"publishedAt"},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("NewsAPI request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NewsAPI error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NewsAPI HTTP error: %d", resp.StatusCode)
	}

	var result struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			URLToImage  string `json:"urlToImage"`
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Content     string `json:"content"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("NewsAPI decode: %w", err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("NewsAPI status %q: %s", result.Status, result.Message)
	}

	var items []model.RawItem
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		var published time.Time
		if a.PublishedAt != "" {
			if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
				published = t.UTC()
			}
		}

		content := a.Content
		if content == "" {
			content = a.Description
		}

		source := "NewsAPI"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		var media []string
		if strings.HasPrefix(a.URLToImage, "http") {
			media = []string{a.URLToImage}
		}

		items = append(items, model.RawItem{
			Title:     strings.TrimSpace(a.Title),
			Link:      a.URL,
			Published: published,
			Content:   CleanHTML(content),
			Media:     media,
			Source:    model.Source{Name: source, Category: "news", Language: language},
		})
	}
	return items, nil
}
