// Package pipeline runs one curation pass: fetch, classify, dedupe, resolve
// images, write both language copies and persist, with deferred records
// drained from the retry queue at both ends.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/collect"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/database"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/dedup"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/fetch"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/imageresolve"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/logger"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/model"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/persist"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/retryqueue"
	"github.com/AlfonsoCifuentes/ainews-platform-sub003/internal/triage"
)

// Retry queue reasons.
const (
	ReasonImageTransient = "image:transient"
	ReasonImageMissing   = "image:none"
	ReasonPersist        = "persist"
)

// Collector gathers candidate items.
type Collector interface {
	Collect(ctx context.Context) *collect.Result
}

// Classifier keeps relevant, good-quality items.
type Classifier interface {
	Classify(ctx context.Context, items []model.RawItem) ([]*model.CuratedRecord, *triage.Result)
}

// PageFetcher downloads an article page for its body text.
type PageFetcher interface {
	Fetch(ctx context.Context, url, userAgent string) (*fetch.Page, error)
}

// ImageResolver finds an image for an article link.
type ImageResolver interface {
	Resolve(ctx context.Context, link string, hints []string) (*model.ResolvedImage, error)
}

// StockSource supplies generic category art.
type StockSource interface {
	StockImage(ctx context.Context, category, link string) (*model.ResolvedImage, error)
}

// Writer builds the language copies.
type Writer interface {
	Process(ctx context.Context, rec *model.CuratedRecord) *model.Bilingual
}

// Persister stores finished records.
type Persister interface {
	Persist(ctx context.Context, rec *model.CuratedRecord) (string, model.Outcome, error)
}

// Deps are the stages a pipeline runs. Stock may be nil.
type Deps struct {
	DB         *database.DB
	Collector  Collector
	Classifier Classifier
	Pages      PageFetcher
	Images     ImageResolver
	Stock      StockSource
	Bilingual  Writer
	Persister  Persister
	Queue      *retryqueue.Queue
	Log        *logger.Logger
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the step summaries of a dry run.
type Result struct {
	Steps []StepResult
}

// Pipeline orchestrates a run. The lexical index is rebuilt at the start of
// every run.
type Pipeline struct {
	Deps
	log    *logger.Logger
	now    func() time.Time
	titles *dedup.Index
	// drained holds links retried this run; each entry gets one attempt per run.
	drained map[string]bool
}

// New creates a pipeline from its stages.
func New(d Deps) *Pipeline {
	return &Pipeline{Deps: d, log: d.Log.Named("pipeline"), now: time.Now}
}

// Run executes one pass. It fails only when the datastore is unusable;
// per-record failures are counted in the returned stats.
func (p *Pipeline) Run(ctx context.Context) (*model.RunStats, error) {
	stats := &model.RunStats{RunID: uuid.NewString(), StartedAt: p.now()}

	if err := p.DB.Ping(ctx); err != nil {
		return nil, fmt.Errorf("datastore unreachable: %w", err)
	}

	p.log.Info("step 1/7: loading dedup index")
	p.loadDedupIndex(ctx)
	p.drained = make(map[string]bool)

	p.log.Info("step 2/7: draining retry queue")
	p.drainRetryQueue(ctx, stats)

	p.log.Info("step 3/7: fetching feeds")
	collected := p.Collector.Collect(ctx)
	stats.Fetched = len(collected.Items)

	p.log.Info("step 4/7: filtering known items")
	fresh := p.filterExisting(ctx, collected.Items, stats)

	p.log.Info("step 5/7: classifying", "items", len(fresh))
	accepted, cr := p.Classifier.Classify(ctx, fresh)
	stats.Classified = cr.Processed
	stats.Accepted = cr.Accepted
	stats.Rejected = cr.Rejected
	stats.Failed += cr.Errors

	p.log.Info("step 6/7: processing accepted records", "records", len(accepted))
	for _, rec := range accepted {
		if ctx.Err() != nil {
			p.log.Warn("run cancelled, leaving remaining records for the next run")
			break
		}
		p.processRecord(ctx, rec, stats)
	}

	p.log.Info("step 7/7: draining retry queue")
	p.drainRetryQueue(ctx, stats)

	stats.FinishedAt = p.now()
	p.report(ctx, stats)
	return stats, nil
}

func (p *Pipeline) loadDedupIndex(ctx context.Context) {
	idx, err := dedup.LoadIndex(ctx, p.DB, p.now())
	if err != nil {
		p.log.Warn("loading recent titles failed, lexical dedup starts empty", "error", err)
		idx = dedup.NewIndex()
	}
	p.titles = idx
	p.log.Debug("dedup index loaded", "titles", idx.Len())
}

// filterExisting drops items already stored, already queued, or whose title
// nearly matches a recent record. It runs before the classifier so known
// items cost no oracle call.
func (p *Pipeline) filterExisting(ctx context.Context, items []model.RawItem, stats *model.RunStats) []model.RawItem {
	links := make([]string, len(items))
	for i, it := range items {
		links[i] = it.Link
	}
	known, err := p.DB.ExistingLinks(ctx, links)
	if err != nil {
		p.log.Warn("existing link lookup failed", "error", err)
		known = map[string]bool{}
	}
	if entries, err := p.Queue.List(ctx); err == nil {
		for _, e := range entries {
			known[e.Link] = true
		}
	}

	var out []model.RawItem
	for _, it := range items {
		if known[it.Link] {
			stats.Existing++
			continue
		}
		if match, dup := p.titles.Contains(it.Title); dup {
			stats.SkippedDuplicate++
			p.log.Debug("near-duplicate title", "title", it.Title, "match", match)
			continue
		}
		out = append(out, it)
	}
	return out
}

// processRecord takes one accepted record to a terminal outcome.
func (p *Pipeline) processRecord(ctx context.Context, rec *model.CuratedRecord, stats *model.RunStats) {
	link := rec.Item.Link
	// Earlier records in this run may have claimed the story.
	if match, dup := p.titles.Contains(rec.Item.Title); dup {
		stats.SkippedDuplicate++
		p.log.Info("skipping near-duplicate", "title", rec.Item.Title, "match", match)
		return
	}

	p.scrape(ctx, rec)

	outcome, reason, err := p.complete(ctx, rec)
	switch outcome {
	case model.OutcomeSuccess:
		stats.Stored++
		p.remember(rec)
		if err := p.Queue.Remove(ctx, link); err != nil && !errors.Is(err, retryqueue.ErrDisabled) {
			p.log.Warn("removing stale retry entry failed", "link", link, "error", err)
		}
	case model.OutcomeSkip:
		p.countSkip(err, stats)
		p.log.Info("skipped", "link", link, "reason", err)
	case model.OutcomeRetryable:
		p.enqueue(ctx, rec, reason, err, stats)
	}
}

// complete resolves the image, writes the copies and persists rec.
func (p *Pipeline) complete(ctx context.Context, rec *model.CuratedRecord) (model.Outcome, string, error) {
	if rec.Image == nil {
		img, err := p.Images.Resolve(ctx, rec.Item.Link, rec.Item.Media)
		if err != nil && p.Stock != nil {
			stock, serr := p.Stock.StockImage(ctx, string(rec.Classification.Category), rec.Item.Link)
			if serr == nil {
				p.log.Info("using stock image", "link", rec.Item.Link, "cause", err)
				img, err = stock, nil
			}
		}
		if err != nil {
			rec.LastError = err.Error()
			reason := ReasonImageMissing
			if errors.Is(err, imageresolve.ErrTransient) {
				reason = ReasonImageTransient
			}
			return model.OutcomeRetryable, reason, err
		}
		rec.Image = img
	}

	if rec.Translation == nil {
		rec.Translation = p.Bilingual.Process(ctx, rec)
	}

	_, outcome, err := p.Persister.Persist(ctx, rec)
	if outcome == model.OutcomeRetryable {
		rec.LastError = err.Error()
	}
	return outcome, ReasonPersist, err
}

// scrape fills the body from the article page when the feed text is
// shorter. A failed fetch keeps the feed text.
func (p *Pipeline) scrape(ctx context.Context, rec *model.CuratedRecord) {
	if rec.ScrapedContent != "" || p.Pages == nil {
		return
	}
	rec.ScrapedContent = rec.Item.Content
	page, err := p.Pages.Fetch(ctx, rec.Item.Link, fetch.UserAgent(0))
	if err != nil {
		p.log.Debug("scrape failed, using feed text", "link", rec.Item.Link, "error", err)
		return
	}
	if len(page.Text) > len(rec.ScrapedContent) {
		rec.ScrapedContent = page.Text
	}
}

func (p *Pipeline) enqueue(ctx context.Context, rec *model.CuratedRecord, reason string, cause error, stats *model.RunStats) {
	entry, err := p.Queue.Enqueue(ctx, rec, reason)
	if err != nil {
		stats.Failed++
		p.log.Warn("record dropped, retry queue unavailable", "link", rec.Item.Link, "cause", cause, "error", err)
		return
	}
	stats.Queued++
	// A queued record still owns its story for the rest of the run.
	p.remember(rec)
	p.log.Info("queued for retry", "link", rec.Item.Link, "reason", reason,
		"attempts", entry.Attempts, "next", entry.NextAttemptAt.Format(time.RFC3339), "cause", cause)
}

// drainRetryQueue retries due entries not yet tried this run. Every entry
// ends removed or rescheduled; one that fails to reschedule stays due for
// the next run.
func (p *Pipeline) drainRetryQueue(ctx context.Context, stats *model.RunStats) {
	entries, err := p.Queue.Due(ctx, retryqueue.BatchSize)
	if errors.Is(err, retryqueue.ErrDisabled) {
		return
	}
	if err != nil {
		p.log.Warn("reading retry queue failed", "error", err)
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if p.drained[e.Link] {
			continue
		}
		p.drained[e.Link] = true
		stats.RetryDue++
		rec, err := retryqueue.Decode(e)
		if err != nil {
			p.log.Warn("dropping unreadable retry entry", "link", e.Link, "error", err)
			stats.Failed++
			p.removeEntry(ctx, e.Link)
			continue
		}

		if exists, err := p.DB.RecordExists(ctx, e.Link); err == nil && exists {
			stats.RetryRedundant++
			p.removeEntry(ctx, e.Link)
			continue
		}
		if match, dup := p.titles.Contains(rec.Item.Title); dup {
			stats.RetryRedundant++
			p.log.Info("retry entry superseded by near-duplicate", "link", e.Link, "match", match)
			p.removeEntry(ctx, e.Link)
			continue
		}

		outcome, _, err := p.complete(ctx, rec)
		switch outcome {
		case model.OutcomeSuccess:
			stats.RetryRecovered++
			p.remember(rec)
			p.removeEntry(ctx, e.Link)
			p.log.Info("recovered from retry queue", "link", e.Link, "attempts", e.Attempts)
		case model.OutcomeSkip:
			stats.RetryRedundant++
			p.removeEntry(ctx, e.Link)
			p.log.Info("retry entry skipped", "link", e.Link, "reason", err)
		case model.OutcomeRetryable:
			next, rerr := p.Queue.Reschedule(ctx, e, err)
			if rerr != nil {
				stats.Failed++
				p.log.Warn("rescheduling failed", "link", e.Link, "error", rerr)
				continue
			}
			stats.RetryRescheduled++
			p.log.Info("retry rescheduled", "link", e.Link, "attempts", e.Attempts+1, "next", next.Format(time.RFC3339), "cause", err)
		}
	}
}

func (p *Pipeline) removeEntry(ctx context.Context, link string) {
	if err := p.Queue.Remove(ctx, link); err != nil && !errors.Is(err, retryqueue.ErrDisabled) {
		p.log.Warn("removing retry entry failed", "link", link, "error", err)
	}
}

func (p *Pipeline) remember(rec *model.CuratedRecord) {
	p.titles.Add(rec.Item.Title)
	if b := rec.Translation; b != nil && b.En.Title != rec.Item.Title {
		p.titles.Add(b.En.Title)
	}
}

func (p *Pipeline) countSkip(err error, stats *model.RunStats) {
	if errors.Is(err, persist.ErrSemanticDuplicate) {
		stats.SkippedSemantic++
		return
	}
	stats.SkippedUnavailable++
}

func (p *Pipeline) report(ctx context.Context, s *model.RunStats) {
	p.log.Info("run complete",
		"run_id", s.RunID,
		"duration", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond),
		"fetched", s.Fetched,
		"existing", s.Existing,
		"classified", s.Classified,
		"accepted", s.Accepted,
		"rejected", s.Rejected,
		"stored", s.Stored,
		"queued", s.Queued,
		"skipped_duplicate", s.SkippedDuplicate,
		"skipped_semantic", s.SkippedSemantic,
		"skipped_unavailable", s.SkippedUnavailable,
		"failed", s.Failed,
		"retry_due", s.RetryDue,
		"retry_recovered", s.RetryRecovered,
		"retry_rescheduled", s.RetryRescheduled,
		"retry_redundant", s.RetryRedundant,
	)
	if err := p.DB.InsertRunReport(ctx, s); err != nil {
		p.log.Warn("storing run report failed", "error", err)
	}
}

// DryRun reports what a run would touch without writing anything. Feeds are
// fetched; no oracle is called.
func (p *Pipeline) DryRun(ctx context.Context) *Result {
	r := &Result{}

	total, due, err := p.DB.CountRetryEntries(ctx, p.now())
	r.Steps = append(r.Steps, StepResult{
		Name:    "Retry",
		Summary: fmt.Sprintf("[dry-run] %d of %d queued records are due", due, total),
		Err:     err,
	})

	collected := p.Collector.Collect(ctx)
	r.Steps = append(r.Steps, StepResult{
		Name: "Fetch",
		Summary: fmt.Sprintf("[dry-run] %d items from %d sources (%d duplicates, %d failed feeds)",
			len(collected.Items), len(collected.Sources), collected.Duplicates, collected.FailedFeeds),
	})

	links := make([]string, len(collected.Items))
	for i, it := range collected.Items {
		links[i] = it.Link
	}
	known, err := p.DB.ExistingLinks(ctx, links)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Filter",
		Summary: fmt.Sprintf("[dry-run] %d items already stored, %d would be classified", len(known), len(links)-len(known)),
		Err:     err,
	})
	return r
}
