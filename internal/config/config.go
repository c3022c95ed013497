package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources Sources `yaml:"sources"`
	LLM     LLM     `yaml:"llm"`
	Images  Images  `yaml:"images"`
	Vector  Vector  `yaml:"vector"`
	Output  Output  `yaml:"output"`
	Logging Logging `yaml:"logging"`
}

type Sources struct {
	Feeds []Feed     `yaml:"feeds"`
	APIs  APIsConfig `yaml:"apis"`
}

// Feed is one feed descriptor. Kind is "rss" (default) or "newsapi".
type Feed struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Language string `yaml:"language"`
	Kind     string `yaml:"kind"`
}

type APIsConfig struct {
	NewsAPI NewsAPIConfig `yaml:"newsapi"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Query     string `yaml:"query"`
	Language  string `yaml:"language"`
}

type LLM struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	OllamaURL         string  `yaml:"ollama_url"`
	EmbeddingModel    string  `yaml:"embedding_model"`
	OpenAIModel       string  `yaml:"openai_model"`
	OpenAIEmbedModel  string  `yaml:"openai_embedding_model"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type Images struct {
	RenderEnabled bool              `yaml:"render_enabled"`
	ChromePath    string            `yaml:"chrome_path"`
	StockFallback bool              `yaml:"stock_fallback"`
	StockImages   map[string]string `yaml:"stock_images"`
}

type Vector struct {
	Backend    string `yaml:"backend"`
	QdrantAddr string `yaml:"qdrant_addr"`
	Collection string `yaml:"collection"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for curator.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "curator")
}

// DataDir returns the XDG data directory for curator.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "curator")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/curator/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'curator init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{
			APIs: APIsConfig{
				NewsAPI: NewsAPIConfig{
					APIKeyEnv: "NEWSAPI_KEY",
					Query:     "artificial intelligence",
					Language:  "en",
				},
			},
		},
		LLM: LLM{
			Provider:          "openai",
			Model:             "qwen2.5:7b",
			OllamaURL:         "http://localhost:11434",
			EmbeddingModel:    "nomic-embed-text",
			OpenAIModel:       "gpt-4o-mini",
			OpenAIEmbedModel:  "text-embedding-3-small",
			APIKeyEnv:         "OPENAI_API_KEY",
			RequestsPerSecond: 2,
		},
		Images: Images{
			RenderEnabled: true,
		},
		Vector: Vector{
			Backend:    "sqlite",
			QdrantAddr: "localhost:6334",
			Collection: "curated_records",
		},
		Logging: Logging{Mode: "development", Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	for i := range cfg.Sources.Feeds {
		if cfg.Sources.Feeds[i].Kind == "" {
			cfg.Sources.Feeds[i].Kind = "rss"
		}
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
