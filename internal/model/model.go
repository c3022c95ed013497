// Package model holds the records threaded through the curation pipeline.
package model

import (
	"encoding/json"
	"time"
)

// Language codes for the two published locales.
const (
	LangEnglish = "en"
	LangSpanish = "es"
)

// Sibling returns the other published language.
func Sibling(lang string) string {
	if lang == LangSpanish {
		return LangEnglish
	}
	return LangSpanish
}

// Source describes the feed an item came from.
type Source struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Language string `json:"language,omitempty"`
}

// RawItem is a normalized feed entry. Link is the unique key.
type RawItem struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Published time.Time `json:"published"`
	Content   string    `json:"content,omitempty"`
	Media     []string  `json:"media,omitempty"`
	Source    Source    `json:"source"`
}

// Category is the topical bucket assigned by the classifier.
type Category string

const (
	CategoryNews     Category = "news"
	CategoryResearch Category = "research"
	CategoryTools    Category = "tools"
	CategoryBusiness Category = "business"
	CategoryEthics   Category = "ethics"
	CategoryTutorial Category = "tutorial"
	CategoryOther    Category = "other"
)

// Categories lists every accepted category value.
var Categories = []Category{
	CategoryNews, CategoryResearch, CategoryTools, CategoryBusiness,
	CategoryEthics, CategoryTutorial, CategoryOther,
}

// ParseCategory reports whether s names a known category.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Classification is the classifier verdict for one item.
type Classification struct {
	Relevant     bool     `json:"relevant"`
	QualityScore float64  `json:"quality_score"`
	Category     Category `json:"category"`
	Summary      string   `json:"summary"`
	ImageAlt     string   `json:"image_alt,omitempty"`
}

// Validation is the outcome of probing a candidate image.
type Validation struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
	MIME      string `json:"mime"`
	PHash     string `json:"phash"`
	SHA256    string `json:"sha256"`
	Duplicate bool   `json:"duplicate"`
}

// ResolvedImage is a validated image chosen for an article.
type ResolvedImage struct {
	URL        string     `json:"url"`
	Method     string     `json:"method"`
	Layer      int        `json:"layer"`
	Confidence float64    `json:"confidence"`
	Validation Validation `json:"validation"`
}

// Copy is one language version of the article text.
type Copy struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
	HTML    string `json:"html,omitempty"`
}

// Bilingual holds both published language versions.
type Bilingual struct {
	SourceLanguage string `json:"source_language"`
	En             Copy   `json:"en"`
	Es             Copy   `json:"es"`
	AltEn          string `json:"alt_en"`
	AltEs          string `json:"alt_es"`
}

// In returns the copy for lang.
func (b *Bilingual) In(lang string) *Copy {
	if lang == LangSpanish {
		return &b.Es
	}
	return &b.En
}

// CuratedRecord is the working unit of the pipeline. Stages mutate it in place.
type CuratedRecord struct {
	Item           RawItem        `json:"item"`
	Classification Classification `json:"classification"`
	ScrapedContent string         `json:"scraped_content,omitempty"`
	Embedding      []float64      `json:"embedding,omitempty"`
	Image          *ResolvedImage `json:"image,omitempty"`
	Translation    *Bilingual     `json:"translation,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	QueueID        string         `json:"queue_id,omitempty"`
	Attempts       int            `json:"attempts,omitempty"`
}

// Marshal serializes the record for the retry queue payload.
func (r *CuratedRecord) Marshal() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalRecord decodes a retry queue payload.
func UnmarshalRecord(payload string) (*CuratedRecord, error) {
	var r CuratedRecord
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RetryEntry is a deferred image-resolution attempt.
type RetryEntry struct {
	ID            string
	Link          string
	Payload       string
	Reason        string
	LastError     string
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Outcome is the tri-state result of a per-record stage.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeSkip
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeSkip:
		return "skip"
	}
	return "unknown"
}

// RunStats aggregates the counters reported at the end of a run.
type RunStats struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Fetched    int
	Existing   int
	Classified int
	Accepted   int
	Rejected   int

	Stored             int
	Queued             int
	SkippedDuplicate   int
	SkippedSemantic    int
	SkippedUnavailable int
	Failed             int

	RetryDue         int
	RetryRecovered   int
	RetryRescheduled int
	RetryRedundant   int
}

// Skipped is the total of records dropped as duplicates or unusable.
func (s *RunStats) Skipped() int {
	return s.SkippedDuplicate + s.SkippedSemantic + s.SkippedUnavailable + s.RetryRedundant
}
