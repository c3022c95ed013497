package database

import "time"

// Record is a persisted bilingual article.
type Record struct {
	ID               string
	SourceLink       string
	SourceName       string
	SourceCategory   string
	SourceLanguage   string
	PublishedAt      time.Time
	OriginalTitle    string
	Category         string
	QualityScore     float64
	DetectedLanguage string
	TitleEn          string
	SummaryEn        string
	ContentEn        string
	HTMLEn           string
	TitleEs          string
	SummaryEs        string
	ContentEs        string
	HTMLEs           string
	CreatedAt        time.Time
	Image            *RecordImage
}

// RecordImage is the image metadata stored alongside a record.
type RecordImage struct {
	URL        string
	Method     string
	Layer      int
	Confidence float64
	Width      int
	Height     int
	Bytes      int
	MIME       string
	PHash      string
	SHA256     string
	AltEn      string
	AltEs      string
}

// StoredEmbedding is an embedding row joined with its record.
type StoredEmbedding struct {
	ContentID string
	Link      string
	Title     string
	Vector    []float64
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalRecords   int
	RecordsLastDay int
	Embeddings     int
	ImageHashes    int
	RetryQueued    int
	RetryDue       int
	Runs           int
	LastRunAt      time.Time
}
