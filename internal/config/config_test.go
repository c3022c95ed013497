package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	require.NoError(t, err)

	require.NotEmpty(t, cfg.Sources.Feeds)
	for _, f := range cfg.Sources.Feeds {
		assert.Equal(t, "rss", f.Kind, "feed %s", f.URL)
	}
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sqlite", cfg.Vector.Backend)
	assert.False(t, cfg.Images.StockFallback)
	assert.NotEmpty(t, cfg.Images.StockImages["news"])
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
llm:
  provider: ollama
  model: llama3
vector:
  backend: qdrant
`)
	cfg, err := parse(data)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "qdrant", cfg.Vector.Backend)
	// Defaults survive for unspecified fields
	assert.Equal(t, "http://localhost:11434", cfg.LLM.OllamaURL)
	assert.Equal(t, "curated_records", cfg.Vector.Collection)
	assert.Equal(t, 2.0, cfg.LLM.RequestsPerSecond)
}

func TestParseFeedKinds(t *testing.T) {
	data := []byte(`
sources:
  feeds:
    - url: https://example.com/feed
    - url: https://newsapi.org
      kind: newsapi
`)
	cfg, err := parse(data)
	require.NoError(t, err)
	require.Len(t, cfg.Sources.Feeds, 2)
	assert.Equal(t, "rss", cfg.Sources.Feeds[0].Kind)
	assert.Equal(t, "newsapi", cfg.Sources.Feeds[1].Kind)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, DefaultConfigYAML, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Sources.Feeds)
}

func TestResolveConfigPathMissingExplicit(t *testing.T) {
	_, err := ResolveConfigPath(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	assert.NotEmpty(t, cfg.GetDataDir())

	cfg.Output.DataDir = "/custom/path"
	assert.Equal(t, "/custom/path", cfg.GetDataDir())
}
