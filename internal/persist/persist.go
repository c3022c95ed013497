// Package persist writes finished records with their embedding and image
// fingerprint.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/database"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/dedup"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/llm"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/vectorindex"
)

// EmbeddingContentLimit bounds the body prefix in the embedding text.
const EmbeddingContentLimit = 1200

// ErrSemanticDuplicate is returned for a record too similar to a stored one.
var ErrSemanticDuplicate = errors.New("semantic duplicate")

// Store is the datastore surface the writer needs.
type Store interface {
	InsertRecord(ctx context.Context, r *database.Record) (string, error)
	SaveEmbedding(ctx context.Context, contentID, contentType, model string, vec []float64) error
	RegisterImageHash(ctx context.Context, hash, recordID, link, imageURL string) error
}

// Writer commits records.
type Writer struct {
	store      Store
	embedder   llm.Embedder
	semantic   *dedup.Semantic
	index      vectorindex.Index
	embedModel string
	log        *logger.Logger
}

// NewWriter creates a writer. embedder, semantic and index may be nil; the
// record is then stored without the corresponding step.
func NewWriter(store Store, embedder llm.Embedder, semantic *dedup.Semantic, index vectorindex.Index, embedModel string, log *logger.Logger) *Writer {
	return &Writer{
		store:      store,
		embedder:   embedder,
		semantic:   semantic,
		index:      index,
		embedModel: embedModel,
		log:        log.Named("persist"),
	}
}

// EmbeddingText is the fixed template embedded for each record.
func EmbeddingText(c model.Copy) string {
	content := c.Content
	if utf8.RuneCountInString(content) > EmbeddingContentLimit {
		content = string([]rune(content)[:EmbeddingContentLimit])
	}
	return strings.TrimSpace(c.Title + "\n\n" + c.Summary + "\n\n" + content)
}

// Persist stores rec. It returns the new record ID and the outcome:
// OutcomeSkip for a semantic duplicate, OutcomeRetryable when the insert
// fails. Failures after the insert are logged and do not change the outcome.
func (w *Writer) Persist(ctx context.Context, rec *model.CuratedRecord) (string, model.Outcome, error) {
	if rec.Translation == nil {
		return "", model.OutcomeSkip, fmt.Errorf("record %s has no copy", rec.Item.Link)
	}

	vec := rec.Embedding
	if len(vec) == 0 && w.embedder != nil {
		v, err := w.embed(ctx, EmbeddingText(rec.Translation.En))
		if err != nil {
			w.log.Warn("embedding failed, storing without vector", "link", rec.Item.Link, "error", err)
		} else {
			vec = v
			rec.Embedding = v
		}
	}

	if w.semantic != nil && len(vec) > 0 {
		res := w.semantic.Check(ctx, vec)
		if res.Verdict == dedup.VerdictDuplicate {
			return "", model.OutcomeSkip, fmt.Errorf("%w of %s (%.3f)", ErrSemanticDuplicate, res.Nearest.Link, res.Nearest.Score)
		}
	}

	row := toRow(rec)
	id, err := w.store.InsertRecord(ctx, row)
	if err != nil {
		return "", model.OutcomeRetryable, err
	}

	if len(vec) > 0 {
		if err := w.store.SaveEmbedding(ctx, id, database.ContentTypeRecord, w.embedModel, vec); err != nil {
			w.log.Warn("saving embedding failed", "link", rec.Item.Link, "error", err)
		} else if w.index != nil {
			p := vectorindex.Point{ID: id, Link: rec.Item.Link, Title: row.TitleEn, Vector: vec}
			if err := w.index.Upsert(ctx, p); err != nil {
				w.log.Warn("vector index upsert failed", "link", rec.Item.Link, "error", err)
			}
		}
	}

	if img := rec.Image; img != nil {
		for _, h := range []string{img.Validation.PHash, img.Validation.SHA256} {
			if err := w.store.RegisterImageHash(ctx, h, id, rec.Item.Link, img.URL); err != nil {
				w.log.Warn("registering image hash failed", "link", rec.Item.Link, "error", err)
			}
		}
	}

	w.log.Debug("stored", "id", id, "link", rec.Item.Link)
	return id, model.OutcomeSuccess, nil
}

func (w *Writer) embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := w.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder returned %d vectors", len(vecs))
	}
	return vecs[0], nil
}

func toRow(rec *model.CuratedRecord) *database.Record {
	b := rec.Translation
	row := &database.Record{
		SourceLink:       rec.Item.Link,
		SourceName:       rec.Item.Source.Name,
		SourceCategory:   rec.Item.Source.Category,
		SourceLanguage:   rec.Item.Source.Language,
		PublishedAt:      rec.Item.Published,
		OriginalTitle:    rec.Item.Title,
		Category:         string(rec.Classification.Category),
		QualityScore:     rec.Classification.QualityScore,
		DetectedLanguage: b.SourceLanguage,
		TitleEn:          b.En.Title,
		SummaryEn:        b.En.Summary,
		ContentEn:        b.En.Content,
		HTMLEn:           b.En.HTML,
		TitleEs:          b.Es.Title,
		SummaryEs:        b.Es.Summary,
		ContentEs:        b.Es.Content,
		HTMLEs:           b.Es.HTML,
	}
	if img := rec.Image; img != nil {
		row.Image = &database.RecordImage{
			URL:        img.URL,
			Method:     img.Method,
			Layer:      img.Layer,
			Confidence: img.Confidence,
			Width:      img.Validation.Width,
			Height:     img.Validation.Height,
			Bytes:      img.Validation.Bytes,
			MIME:       img.Validation.MIME,
			PHash:      img.Validation.PHash,
			SHA256:     img.Validation.SHA256,
			AltEn:      b.AltEn,
			AltEs:      b.AltEs,
		}
	}
	return row
}
