package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/bilingual"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/collect"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/config"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/database"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/dedup"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/fetch"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/imageresolve"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/llm"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/persist"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/retryqueue"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/translate"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/triage"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/vectorindex"
)

// DefaultDaysBack is how far back feed items are considered.
const DefaultDaysBack = 3

// Build wires a pipeline from configuration. The returned close function
// releases the browser and any remote index connection. Missing oracle
// credentials are an error.
func Build(cfg *config.Config, db *database.DB, daysBack int, log *logger.Logger) (*Pipeline, func(), error) {
	provider, err := llm.CreateProvider(cfg.LLM, log)
	if err != nil {
		return nil, nil, fmt.Errorf("language model: %w", err)
	}
	rawEmbedder := llm.CreateEmbedder(cfg.LLM, provider)
	embedModel := cfg.LLM.OpenAIEmbedModel
	if _, ok := rawEmbedder.(*llm.OllamaEmbedder); ok {
		embedModel = cfg.LLM.EmbeddingModel
	}
	embedder := llm.NewLimitedEmbedder(rawEmbedder, cfg.LLM.RequestsPerSecond)
	provider = llm.NewLimitedProvider(provider, cfg.LLM.RequestsPerSecond)

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var index vectorindex.Index
	switch strings.ToLower(cfg.Vector.Backend) {
	case "qdrant":
		q, err := vectorindex.NewQdrant(cfg.Vector.QdrantAddr, cfg.Vector.Collection)
		if err != nil {
			return nil, nil, fmt.Errorf("vector index: %w", err)
		}
		closers = append(closers, func() { q.Close() })
		index = q
	default:
		index = vectorindex.NewSQLite(db)
	}

	fetcher := fetch.New(15 * time.Second)
	imgOpts := imageresolve.Options{
		Registry:    imageresolve.NewHashRegistry(db),
		StockImages: cfg.Images.StockImages,
	}
	if cfg.Images.RenderEnabled {
		r := imageresolve.NewChromeRenderer(cfg.Images.ChromePath, 30*time.Second)
		closers = append(closers, r.Close)
		imgOpts.Renderer = r
	}
	engine := imageresolve.NewEngine(fetcher, imgOpts, log)

	var stock StockSource
	if cfg.Images.StockFallback {
		stock = engine
	}

	if daysBack <= 0 {
		daysBack = DefaultDaysBack
	}
	p := New(Deps{
		DB:         db,
		Collector:  collect.NewCollector(cfg, daysBack, log),
		Classifier: triage.NewClassifier(provider, log),
		Pages:      fetcher,
		Images:     engine,
		Stock:      stock,
		Bilingual:  bilingual.New(provider, translate.NewLLMTranslator(provider), log),
		Persister:  persist.NewWriter(db, embedder, dedup.NewSemantic(index, log), index, embedModel, log),
		Queue:      retryqueue.New(db, log),
		Log:        log,
	})
	return p, closeAll, nil
}
