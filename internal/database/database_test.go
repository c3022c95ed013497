package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "failed to open test db")
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(link, title string) *Record {
	return &Record{
		SourceLink:       link,
		SourceName:       "Example",
		PublishedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		OriginalTitle:    title,
		Category:         "news",
		QualityScore:     0.8,
		DetectedLanguage: "en",
		TitleEn:          title,
		SummaryEn:        "summary",
		ContentEn:        "content",
		TitleEs:          title + " (es)",
		SummaryEs:        "resumen",
		ContentEs:        "contenido",
	}
}

func TestInsertRecord(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	rec := testRecord("https://example.com/a", "Model ships")
	rec.Image = &RecordImage{
		URL: "https://cdn.example.com/a.jpg", Method: "meta:og:image", Layer: 1, Confidence: 0.9,
		Width: 1200, Height: 630, Bytes: 54321, MIME: "image/jpeg", PHash: "abcd", SHA256: "ff",
		AltEn: "alt", AltEs: "texto",
	}
	id, err := db.InsertRecord(ctx, rec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := db.GetRecordByLink(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Model ships (es)", got.TitleEs)
	assert.True(t, got.PublishedAt.Equal(rec.PublishedAt))
	require.NotNil(t, got.Image)
	assert.Equal(t, 1200, got.Image.Width)
	assert.Equal(t, "image/jpeg", got.Image.MIME)
	assert.Equal(t, "texto", got.Image.AltEs)
}

func TestInsertRecordWithoutImage(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.InsertRecord(ctx, testRecord("https://example.com/noimg", "No image"))
	require.NoError(t, err)

	got, err := db.GetRecordByLink(ctx, "https://example.com/noimg")
	require.NoError(t, err)
	assert.Nil(t, got.Image)
}

func TestInsertDuplicateRecordFails(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.InsertRecord(ctx, testRecord("https://example.com/dup", "First"))
	require.NoError(t, err)
	_, err = db.InsertRecord(ctx, testRecord("https://example.com/dup", "Second"))
	assert.Error(t, err)

	n, err := db.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetRecordByLinkNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetRecordByLink(context.Background(), "https://missing.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExistingLinks(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.InsertRecord(ctx, testRecord("https://a.com", "A"))
	require.NoError(t, err)
	_, err = db.InsertRecord(ctx, testRecord("https://b.com", "B"))
	require.NoError(t, err)

	got, err := db.ExistingLinks(ctx, []string{"https://a.com", "https://c.com", "https://b.com"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"https://a.com": true, "https://b.com": true}, got)

	ok, err := db.RecordExists(ctx, "https://c.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecentTitlesWindow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	old := testRecord("https://old.com", "Old story")
	old.CreatedAt = time.Now().Add(-30 * 24 * time.Hour)
	_, err := db.InsertRecord(ctx, old)
	require.NoError(t, err)

	fresh := testRecord("https://new.com", "Nueva historia")
	fresh.TitleEn = "New story"
	_, err = db.InsertRecord(ctx, fresh)
	require.NoError(t, err)

	titles, err := db.RecentTitles(ctx, time.Now().Add(-21*24*time.Hour))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Nueva historia", "New story"}, titles)
}

func TestEmbeddingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.InsertRecord(ctx, testRecord("https://a.com", "A"))
	require.NoError(t, err)
	require.NoError(t, db.SaveEmbedding(ctx, id, ContentTypeRecord, "test", []float64{0.1, 0.2, 0.3}))
	// Saving again replaces the vector.
	require.NoError(t, db.SaveEmbedding(ctx, id, ContentTypeRecord, "test", []float64{1, 0, 0}))

	embs, err := db.RecentEmbeddings(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, embs, 1)
	assert.Equal(t, id, embs[0].ContentID)
	assert.Equal(t, "https://a.com", embs[0].Link)
	assert.Equal(t, []float64{1, 0, 0}, embs[0].Vector)

	n, err := db.CountEmbeddings(ctx, ContentTypeRecord)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestImageHashOwnership(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.ImageHashOwner(ctx, "h1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.RegisterImageHash(ctx, "h1", "r1", "https://a.com", "https://img/1.jpg"))
	require.NoError(t, db.RegisterImageHash(ctx, "h1", "r2", "https://b.com", "https://img/1.jpg"))

	owner, err := db.ImageHashOwner(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "https://a.com", owner)
}

func TestUpsertRetryEntry(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	next := func(n int) time.Time { return time.Now().Add(time.Duration(n) * time.Minute) }

	first, err := db.UpsertRetryEntry(ctx, "https://a.com", `{"v":1}`, "no image", "timeout", next)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempts)

	second, err := db.UpsertRetryEntry(ctx, "https://a.com", `{"v":2}`, "no image", "timeout again", next)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempts)
	assert.Equal(t, `{"v":2}`, second.Payload)
	assert.True(t, second.NextAttemptAt.After(first.NextAttemptAt))

	all, err := db.ListRetryEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDueRetryEntries(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Now()
	past := func(int) time.Time { return now.Add(-time.Minute) }
	future := func(int) time.Time { return now.Add(time.Hour) }

	for _, link := range []string{"https://a.com", "https://b.com", "https://c.com"} {
		_, err := db.UpsertRetryEntry(ctx, link, "{}", "r", "", past)
		require.NoError(t, err)
	}
	_, err := db.UpsertRetryEntry(ctx, "https://later.com", "{}", "r", "", future)
	require.NoError(t, err)

	due, err := db.DueRetryEntries(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	due, err = db.DueRetryEntries(ctx, now, 12)
	require.NoError(t, err)
	assert.Len(t, due, 3)

	total, dueCount, err := db.CountRetryEntries(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, 3, dueCount)

	require.NoError(t, db.DeleteRetryEntry(ctx, "https://a.com"))
	_, err = db.GetRetryEntry(ctx, "https://a.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRescheduleRetryEntry(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	e, err := db.UpsertRetryEntry(ctx, "https://a.com", "{}", "r", "", func(int) time.Time { return time.Now() })
	require.NoError(t, err)

	later := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	require.NoError(t, db.RescheduleRetryEntry(ctx, e.ID, 2, "still failing", later))

	got, err := db.GetRetryEntry(ctx, "https://a.com")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "still failing", got.LastError)
	assert.True(t, got.NextAttemptAt.Equal(later.UTC()))

	assert.ErrorIs(t, db.RescheduleRetryEntry(ctx, "missing", 1, "", later), ErrNotFound)
}

func TestRunReportsAndStats(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.InsertRecord(ctx, testRecord("https://a.com", "A"))
	require.NoError(t, err)

	finished := time.Now().Truncate(time.Second)
	require.NoError(t, db.InsertRunReport(ctx, &model.RunStats{
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
		Fetched:    10,
		Stored:     1,
	}))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRecords)
	assert.Equal(t, 1, stats.RecordsLastDay)
	assert.Equal(t, 1, stats.Runs)
	assert.True(t, stats.LastRunAt.Equal(finished.UTC()))
}

func TestTableExists(t *testing.T) {
	db := openTestDB(t)
	ok, err := db.TableExists(context.Background(), "retry_queue")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.TableExists(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
