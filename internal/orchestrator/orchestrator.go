// Package orchestrator drives one crawl of one target: enumerate the
// listing, drop what is already checkpointed, fetch and extract the rest
// under a concurrency bound, and persist every success as it completes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
	"github.com/JakeFAU/gamesdb-crawler/internal/logging"
	"github.com/JakeFAU/gamesdb-crawler/internal/metrics"
	"github.com/JakeFAU/gamesdb-crawler/internal/pool"
	"github.com/JakeFAU/gamesdb-crawler/internal/walker"
)

// DefaultConcurrency is used when Target.Concurrency is not positive.
const DefaultConcurrency = 4

// Target is the per-target configuration of a run.
type Target struct {
	Name        string
	StartURL    string
	PageParam   string
	MaxPages    int
	Concurrency int
	// ReuseListing loads the last complete listing snapshot instead of walking.
	ReuseListing bool
	// EmitFailedRows writes a placeholder row with an error column for items
	// that failed. They are still retried by the next run.
	EmitFailedRows bool
	// ArchivePrefix is prepended to raw page paths when Deps.Archive is set.
	ArchivePrefix string
}

// Deps are the collaborators of a run. Listings, Archive and IDs are optional.
type Deps struct {
	Fetcher     crawler.PageFetcher
	Pages       crawler.PageExtractor
	Details     crawler.DetailExtractor
	Checkpoints crawler.CheckpointStore
	Sink        crawler.RecordSink
	Listings    crawler.ListingCache
	Archive     crawler.BlobStore
	IDs         crawler.IDGenerator
	Logger      *zap.Logger
	Now         func() time.Time
}

// Orchestrator runs crawls for one target.
type Orchestrator struct {
	target  Target
	deps    Deps
	columns []string
	logger  *zap.Logger
}

// New validates the target and its dependencies.
func New(target Target, deps Deps) (*Orchestrator, error) {
	if err := crawler.ValidateTarget(target.Name); err != nil {
		return nil, err
	}
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Pages == nil || deps.Details == nil:
		return nil, errors.New("page and detail extractors are required")
	case deps.Checkpoints == nil:
		return nil, errors.New("checkpoint store is required")
	case deps.Sink == nil:
		return nil, errors.New("record sink is required")
	}
	if target.Concurrency <= 0 {
		target.Concurrency = DefaultConcurrency
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		target:  target,
		deps:    deps,
		columns: deps.Details.Columns(),
		logger:  deps.Logger,
	}, nil
}

// Run executes one crawl. The returned Summary is meaningful even when err
// is non-nil. Errors wrapping crawler.ErrPersistence mean completed work
// could not be saved and the run halted; a context error means the run was
// interrupted and everything persisted so far is consistent.
func (o *Orchestrator) Run(ctx context.Context) (crawler.Summary, error) {
	runID := o.newRunID()
	ctx = crawler.WithRunID(ctx, runID)
	logger := logging.ForRun(o.logger, o.target.Name, runID)
	summary := crawler.Summary{
		RunID:   runID,
		Target:  o.target.Name,
		Started: o.deps.Now(),
	}
	finish := func(err error) (crawler.Summary, error) {
		summary.Finished = o.deps.Now()
		if err != nil && ctx.Err() != nil && !errors.Is(err, crawler.ErrPersistence) {
			summary.Interrupted = true
		}
		o.logSummary(logger, summary, err)
		return summary, err
	}

	state, err := o.deps.Checkpoints.Load(ctx, o.target.Name)
	if err != nil {
		return finish(persistenceError("load checkpoints", err))
	}
	logger.Info("crawl starting", zap.Int("already_completed", state.Len()), zap.String("start_url", o.target.StartURL))

	items, err := o.enumerate(ctx, logger, &summary)
	if err != nil {
		return finish(err)
	}

	work := o.filter(items, state, &summary)
	logger.Info("work list ready",
		zap.Int("enumerated", summary.Enumerated),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("skipped", summary.Skipped),
		zap.Int("pending", len(work)),
	)

	// Completed work is persisted even while shutting down.
	persistCtx := context.WithoutCancel(ctx)
	err = pool.Run(ctx, work, o.target.Concurrency, o.process, func(out crawler.Outcome) error {
		return o.persist(persistCtx, logger, out, &summary)
	})
	return finish(err)
}

func (o *Orchestrator) enumerate(ctx context.Context, logger *zap.Logger, summary *crawler.Summary) ([]crawler.WorkItem, error) {
	if o.target.ReuseListing && o.deps.Listings != nil {
		items, err := o.deps.Listings.LoadListing(ctx, o.target.Name)
		switch {
		case err == nil && len(items) > 0:
			logger.Info("reusing listing snapshot", zap.Int("items", len(items)))
			summary.ListingReused = true
			summary.EnumerationComplete = true
			return items, nil
		case err != nil && !errors.Is(err, crawler.ErrNotFound):
			logger.Warn("listing snapshot unreadable; walking listing", zap.Error(err))
		default:
			logger.Info("no listing snapshot; walking listing")
		}
	}

	w, err := walker.New(walker.Config{
		Target:    o.target.Name,
		StartURL:  o.target.StartURL,
		PageParam: o.target.PageParam,
		MaxPages:  o.target.MaxPages,
	}, o.deps.Fetcher, o.deps.Pages, logger)
	if err != nil {
		return nil, err
	}
	items, cov, err := w.Collect(ctx)
	summary.PagesCovered = cov.Pages
	summary.EnumerationComplete = cov.Complete
	if err != nil {
		return nil, err
	}
	if !cov.Complete {
		fields := []zap.Field{zap.Int("pages_covered", cov.Pages), zap.Int("items", cov.Items)}
		if cov.Err != nil {
			fields = append(fields, zap.Error(cov.Err))
		}
		logger.Warn("listing enumeration is partial; continuing with collected items", fields...)
		return items, nil
	}
	if o.deps.Listings != nil {
		if err := o.deps.Listings.SaveListing(context.WithoutCancel(ctx), o.target.Name, items); err != nil {
			logger.Warn("saving listing snapshot failed", zap.Error(err))
		}
	}
	return items, nil
}

// filter drops repeated ids and ids already completed, keeping listing order.
func (o *Orchestrator) filter(items []crawler.WorkItem, state crawler.CrawlState, summary *crawler.Summary) []crawler.WorkItem {
	summary.Enumerated = len(items)
	seen := make(map[string]struct{}, len(items))
	work := make([]crawler.WorkItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = item.URL
		}
		if _, dup := seen[item.ID]; dup {
			summary.Duplicates++
			continue
		}
		seen[item.ID] = struct{}{}
		if state.Has(item.ID) {
			summary.Skipped++
			metrics.ObserveItem(o.target.Name, "skipped")
			continue
		}
		work = append(work, item)
	}
	return work
}

// process fetches and extracts one item. It never returns an error; failures
// travel in the Outcome.
func (o *Orchestrator) process(ctx context.Context, item crawler.WorkItem) (out crawler.Outcome) {
	out.Item = item
	defer func() {
		if r := recover(); r != nil {
			out = crawler.Outcome{Item: item, Err: fmt.Errorf("%w: panic: %v", crawler.ErrExtract, r)}
		}
	}()

	payload, err := o.deps.Fetcher.Fetch(ctx, item.URL)
	if err != nil {
		out.Err = err
		return out
	}
	if o.deps.Archive != nil {
		o.archive(ctx, item, payload)
	}
	detail, err := o.deps.Details.ExtractDetail(item, payload)
	if err != nil {
		if !errors.Is(err, crawler.ErrExtract) {
			err = fmt.Errorf("%w: %w", crawler.ErrExtract, err)
		}
		out.Err = err
		return out
	}
	out.Record = Merge(item, detail, o.columns)
	return out
}

func (o *Orchestrator) archive(ctx context.Context, item crawler.WorkItem, payload crawler.Payload) {
	key := path.Join(o.target.ArchivePrefix, o.target.Name, url.PathEscape(item.ID)+".html")
	if _, err := o.deps.Archive.PutObject(ctx, key, "text/html; charset=utf-8", payload.Body); err != nil {
		o.logger.Warn("archiving raw page failed", zap.String("item_id", item.ID), zap.Error(err))
	}
}

// persist runs on the pool's observer goroutine, so summary needs no lock.
func (o *Orchestrator) persist(ctx context.Context, logger *zap.Logger, out crawler.Outcome, summary *crawler.Summary) error {
	id := out.Item.ID
	if !out.OK() && errors.Is(out.Err, context.Canceled) {
		// Cut off by shutdown; the next run picks it up.
		logger.Debug("item interrupted", zap.String("item_id", id))
		return nil
	}
	summary.Attempted++

	if out.OK() {
		// Sink before checkpoint: an id is never marked completed without
		// its record, and sinks skip a record they already hold.
		if err := o.deps.Sink.Write(ctx, out.Record); err != nil {
			return persistenceError("write record "+id, err)
		}
		if err := o.deps.Checkpoints.RecordCompleted(ctx, o.target.Name, id, out.Record); err != nil {
			return persistenceError("record checkpoint "+id, err)
		}
		summary.Succeeded++
		metrics.ObserveItem(o.target.Name, "success")
		logger.Debug("item completed", zap.String("item_id", id))
		return nil
	}

	summary.Failed++
	summary.FailedIDs = append(summary.FailedIDs, id)
	metrics.ObserveItem(o.target.Name, "failure")
	logger.Warn("item failed", zap.String("item_id", id), zap.String("url", out.Item.URL), zap.Error(out.Err))
	if !o.target.EmitFailedRows {
		return nil
	}
	row := Merge(out.Item, nil, o.columns)
	row[crawler.FieldError] = out.Err.Error()
	if err := o.deps.Sink.Write(ctx, row); err != nil {
		return persistenceError("write placeholder "+id, err)
	}
	return nil
}

func (o *Orchestrator) newRunID() string {
	if o.deps.IDs != nil {
		if id, err := o.deps.IDs.NewID(); err == nil {
			return id
		}
	}
	return fmt.Sprintf("run-%d", o.deps.Now().UnixNano())
}

func (o *Orchestrator) logSummary(logger *zap.Logger, s crawler.Summary, err error) {
	fields := []zap.Field{
		zap.Int("enumerated", s.Enumerated),
		zap.Int("attempted", s.Attempted),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Int("duplicates", s.Duplicates),
		zap.Int("pages_covered", s.PagesCovered),
		zap.Bool("enumeration_complete", s.EnumerationComplete),
		zap.Duration("elapsed", s.Finished.Sub(s.Started)),
	}
	if len(s.FailedIDs) > 0 {
		fields = append(fields, zap.Strings("failed_ids", s.FailedIDs))
	}
	switch {
	case err != nil && s.Interrupted:
		logger.Warn("crawl interrupted", append(fields, zap.Error(err))...)
	case err != nil:
		logger.Error("crawl halted", append(fields, zap.Error(err))...)
	default:
		logger.Info("crawl finished", fields...)
	}
}

// Merge builds the output record for item. Listing metadata is the base,
// non-empty detail fields override it, every column is present and the id
// and url always come from the item.
func Merge(item crawler.WorkItem, detail crawler.Record, columns []string) crawler.Record {
	out := make(crawler.Record, len(columns)+len(item.Meta)+2)
	for _, col := range columns {
		out[col] = ""
	}
	for k, v := range item.Meta {
		out[k] = v
	}
	for k, v := range detail {
		if v != "" {
			out[k] = v
		} else if _, ok := out[k]; !ok {
			out[k] = ""
		}
	}
	out[crawler.FieldID] = item.ID
	out[crawler.FieldURL] = item.URL
	return out
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, crawler.ErrPersistence, err)
}
