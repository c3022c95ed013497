package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONPlain(t *testing.T) {
	var v map[string]any
	require.NoError(t, DecodeJSON(`{"key": "value", "num": 42}`, &v))
	assert.Equal(t, "value", v["key"])
	assert.Equal(t, float64(42), v["num"])
}

func TestDecodeJSONFences(t *testing.T) {
	for _, text := range []string{
		"```json\n{\"key\": \"value\"}\n```",
		"```\n{\"key\": \"value\"}\n```",
		"  \n  {\"key\": \"value\"}  \n  ",
	} {
		var v map[string]any
		require.NoError(t, DecodeJSON(text, &v), text)
		assert.Equal(t, "value", v["key"])
	}
}

func TestDecodeJSONInvalid(t *testing.T) {
	var v map[string]any
	assert.Error(t, DecodeJSON("not json at all", &v))
	assert.ErrorIs(t, DecodeJSON("", &v), ErrEmptyResponse)
}

func TestDecodeJSONSurroundingProse(t *testing.T) {
	var v struct {
		Title string `json:"title"`
	}
	require.NoError(t, DecodeJSON(`Sure! Here it is: {"title": "Hola"} Hope that helps.`, &v))
	assert.Equal(t, "Hola", v.Title)
}

func TestDecodeJSONArray(t *testing.T) {
	var v []string
	require.NoError(t, DecodeJSON("```json\n[\"a\", \"b\"]\n```", &v))
	assert.Equal(t, []string{"a", "b"}, v)
}

func TestDecodeJSONEmpty(t *testing.T) {
	var v map[string]any
	assert.ErrorIs(t, DecodeJSON("   ", &v), ErrEmptyResponse)
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &APIError{Status: 429}, true},
		{"server error", fmt.Errorf("wrapped: %w", &APIError{Status: 503}), true},
		{"bad request", &APIError{Status: 400}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", fmt.Errorf("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestOpenAIProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])

		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`)
	}))
	defer srv.Close()

	p := &OpenAIProvider{Model: "gpt-test", APIKey: "test-key", BaseURL: srv.URL, client: srv.Client()}
	out, err := p.Generate(context.Background(), "hi", 10)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
}

func TestOpenAIProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := &OpenAIProvider{Model: "m", APIKey: "k", BaseURL: srv.URL, client: srv.Client()}
	_, err := p.Generate(context.Background(), "hi", 10)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	e := &OpenAIEmbedder{Model: "m", APIKey: "k", BaseURL: srv.URL, client: srv.Client()}
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		fmt.Fprint(w, `{"embeddings":[[0.5,0.5]]}`)
	}))
	defer srv.Close()

	vecs, err := NewOllamaEmbedder("nomic", srv.URL).Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.5, 0.5}}, vecs)
}

type countingProvider struct{ calls atomic.Int32 }

func (c *countingProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	c.calls.Add(1)
	return "{}", nil
}

func (c *countingProvider) IsConfigured() bool { return true }

func TestLimitedProviderDelegates(t *testing.T) {
	inner := &countingProvider{}
	p := NewLimitedProvider(inner, 1000)
	for i := 0; i < 3; i++ {
		_, err := p.Generate(context.Background(), "x", 1)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), inner.calls.Load())
	assert.True(t, p.IsConfigured())
}

func TestLimitedProviderHonoursContext(t *testing.T) {
	p := NewLimitedProvider(&countingProvider{}, 0.001)
	// Drain the single burst token.
	_, err := p.Generate(context.Background(), "x", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Generate(ctx, "x", 1)
	assert.Error(t, err)
}

func TestNewLimitedProviderDisabled(t *testing.T) {
	inner := &countingProvider{}
	assert.Same(t, Provider(inner), NewLimitedProvider(inner, 0))
}
