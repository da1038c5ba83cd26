package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/gamesdb-crawler/internal/checkpoint/file"
	checkpointMemory "github.com/JakeFAU/gamesdb-crawler/internal/checkpoint/memory"
	checkpointPostgres "github.com/JakeFAU/gamesdb-crawler/internal/checkpoint/postgres"
	checkpointRedis "github.com/JakeFAU/gamesdb-crawler/internal/checkpoint/redis"
	"github.com/JakeFAU/gamesdb-crawler/internal/config"
	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
	"github.com/JakeFAU/gamesdb-crawler/internal/extract/gamesdb"
	"github.com/JakeFAU/gamesdb-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/gamesdb-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/gamesdb-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/gamesdb-crawler/internal/id/uuid"
	"github.com/JakeFAU/gamesdb-crawler/internal/orchestrator"
	"github.com/JakeFAU/gamesdb-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/gamesdb-crawler/internal/sink"
	csvsink "github.com/JakeFAU/gamesdb-crawler/internal/sink/csv"
	jsonlsink "github.com/JakeFAU/gamesdb-crawler/internal/sink/jsonl"
	pubsubsink "github.com/JakeFAU/gamesdb-crawler/internal/sink/pubsub"
	gcsstorage "github.com/JakeFAU/gamesdb-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/gamesdb-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/gamesdb-crawler/internal/storage/memory"
)

// crawlEnv holds the collaborators shared by every target of one invocation.
type crawlEnv struct {
	cfg         config.Config
	logger      *zap.Logger
	transport   crawler.Fetcher
	limiter     *ratelimit.Limiter
	extractor   *gamesdb.Extractor
	checkpoints crawler.CheckpointStore
	listings    crawler.ListingCache
	archive     crawler.BlobStore
	closers     []func() error
}

// runOptions are command-line overrides applied on top of the resolved target.
type runOptions struct {
	concurrency  int
	maxPages     int
	reuseListing *bool
}

func newCrawlEnv(ctx context.Context, cfg config.Config, logger *zap.Logger) (*crawlEnv, error) {
	env := &crawlEnv{cfg: cfg, logger: logger}
	if err := env.init(ctx); err != nil {
		if cerr := env.Close(); cerr != nil {
			logger.Warn("cleanup after failed init", zap.Error(cerr))
		}
		return nil, err
	}
	return env, nil
}

func (e *crawlEnv) init(ctx context.Context) error {
	extractor, err := gamesdb.New("")
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}
	e.extractor = extractor
	e.limiter = ratelimit.New(ratelimit.Config{
		RPS:   e.cfg.Fetcher.RatePerSecond,
		Burst: e.cfg.Fetcher.Burst,
	})

	if err := e.openTransport(); err != nil {
		return err
	}
	if err := e.openCheckpoints(ctx); err != nil {
		return err
	}
	return e.openArchive(ctx)
}

func (e *crawlEnv) openTransport() error {
	switch e.cfg.Fetcher.Mode {
	case config.FetcherModeHeadless:
		f, err := headlessfetcher.New(headlessfetcher.Config{
			MaxTabs:           e.cfg.Fetcher.HeadlessTabs,
			UserAgent:         e.cfg.Fetcher.UserAgent,
			NavigationTimeout: e.cfg.Fetcher.RequestTimeout,
		})
		if err != nil {
			return fmt.Errorf("init headless fetcher: %w", err)
		}
		e.transport = f
		e.closers = append(e.closers, f.Close)
	default:
		e.transport = collyfetcher.New(collyfetcher.Config{
			UserAgent:       e.cfg.Fetcher.UserAgent,
			RespectRobots:   e.cfg.Fetcher.RespectRobots,
			Timeout:         e.cfg.Fetcher.RequestTimeout,
			MaxBodyBytes:    e.cfg.Fetcher.MaxBodyBytes,
			MaxConnsPerHost: e.cfg.Crawl.Concurrency,
		})
	}
	return nil
}

// openCheckpoints selects the checkpoint backend. Listing snapshots always
// live under the state directory unless the memory backend is used.
func (e *crawlEnv) openCheckpoints(ctx context.Context) error {
	cp := e.cfg.Checkpoint
	switch cp.Backend {
	case config.CheckpointMemory:
		store := checkpointMemory.New()
		e.checkpoints, e.listings = store, store
		return nil
	case config.CheckpointPostgres:
		store, err := checkpointPostgres.New(ctx, checkpointPostgres.Config{DSN: cp.DSN, Table: cp.Table})
		if err != nil {
			return fmt.Errorf("open postgres checkpoints: %w", err)
		}
		e.closers = append(e.closers, store.Close)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres checkpoints: %w", err)
		}
		e.checkpoints = store
	case config.CheckpointRedis:
		store, err := checkpointRedis.New(ctx, checkpointRedis.Config{
			Addr:     cp.RedisAddr,
			Password: cp.RedisPassword,
			DB:       cp.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("open redis checkpoints: %w", err)
		}
		e.closers = append(e.closers, store.Close)
		e.checkpoints = store
	}

	if e.cfg.Crawl.StateDir == "" {
		return nil
	}
	store, err := file.New(file.Config{Dir: e.cfg.Crawl.StateDir}, e.logger)
	if err != nil {
		return fmt.Errorf("open state dir: %w", err)
	}
	e.closers = append(e.closers, store.Close)
	e.listings = store
	if e.checkpoints == nil {
		e.checkpoints = store
	}
	return nil
}

func (e *crawlEnv) openArchive(ctx context.Context) error {
	if !e.cfg.Crawl.ArchiveRaw {
		return nil
	}
	switch e.cfg.Storage.Backend {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		e.closers = append(e.closers, client.Close)
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: e.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		e.archive = store
	case config.StorageMemory:
		e.archive = memorystorage.NewBlobStore()
	default:
		store, err := localstorage.New(localstorage.Config{BaseDir: e.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		e.archive = store
	}
	return nil
}

// columns is the sink layout: the extractor's fields plus the error column
// when failed rows are emitted.
func (e *crawlEnv) columns() []string {
	cols := e.extractor.Columns()
	if e.cfg.Crawl.EmitFailedRows {
		cols = append(cols, crawler.FieldError)
	}
	return cols
}

func (e *crawlEnv) openSink(ctx context.Context, target string) (crawler.RecordSink, error) {
	var sinks sink.Multi
	fail := func(err error) (crawler.RecordSink, error) {
		if cerr := sinks.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}
	for _, format := range e.cfg.Sink.Formats {
		switch format {
		case config.SinkCSV:
			s, err := csvsink.New(filepath.Join(e.cfg.Crawl.OutputDir, target+".csv"), e.columns())
			if err != nil {
				return fail(fmt.Errorf("open csv sink: %w", err))
			}
			sinks = append(sinks, s)
		case config.SinkJSONL:
			s, err := jsonlsink.New(filepath.Join(e.cfg.Crawl.OutputDir, target+".jsonl"), e.columns())
			if err != nil {
				return fail(fmt.Errorf("open jsonl sink: %w", err))
			}
			sinks = append(sinks, s)
		case config.SinkPubSub:
			pub, err := pubsubsink.NewTopicPublisher(ctx, pubsubsink.Config{
				ProjectID: e.cfg.Sink.PubSubProject,
				Topic:     e.cfg.Sink.PubSubTopic,
			})
			if err != nil {
				return fail(fmt.Errorf("open pubsub sink: %w", err))
			}
			s, err := pubsubsink.NewSink(pub, target)
			if err != nil {
				_ = pub.Close()
				return fail(err)
			}
			sinks = append(sinks, s)
		default:
			return fail(fmt.Errorf("unknown sink format %q", format))
		}
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// runTarget crawls one configured target.
func (e *crawlEnv) runTarget(ctx context.Context, name string, opts runOptions) (crawler.Summary, error) {
	t, err := e.cfg.Target(name)
	if err != nil {
		return crawler.Summary{Target: name}, err
	}
	if opts.concurrency > 0 {
		t.Concurrency = opts.concurrency
	}
	if opts.maxPages > 0 {
		t.MaxPages = opts.maxPages
	}
	reuse := e.cfg.Crawl.ReuseListing
	if opts.reuseListing != nil {
		reuse = *opts.reuseListing
	}

	pages, err := fetcher.New(e.transport, fetcher.Config{
		Timeout: t.RequestTimeout,
		Policy:  crawler.NewRetryPolicy(t.MaxAttempts, t.BackoffBase, t.BackoffMax),
		Limiter: e.limiter,
	}, e.logger)
	if err != nil {
		return crawler.Summary{Target: t.Name}, fmt.Errorf("init fetcher: %w", err)
	}

	out, err := e.openSink(ctx, t.Name)
	if err != nil {
		return crawler.Summary{Target: t.Name}, err
	}

	orch, err := orchestrator.New(orchestrator.Target{
		Name:           t.Name,
		StartURL:       t.StartURL,
		PageParam:      t.PageParam,
		MaxPages:       t.MaxPages,
		Concurrency:    t.Concurrency,
		ReuseListing:   reuse,
		EmitFailedRows: e.cfg.Crawl.EmitFailedRows,
		ArchivePrefix:  e.cfg.Storage.Prefix,
	}, orchestrator.Deps{
		Fetcher:     pages,
		Pages:       e.extractor,
		Details:     e.extractor,
		Checkpoints: e.checkpoints,
		Sink:        out,
		Listings:    e.listings,
		Archive:     e.archive,
		IDs:         uuid.New(),
		Logger:      e.logger,
	})
	if err != nil {
		return crawler.Summary{Target: t.Name}, errors.Join(err, out.Close())
	}

	summary, err := orch.Run(ctx)
	if cerr := out.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close sink: %w: %w", crawler.ErrPersistence, cerr))
	}
	stats := pages.Stats()
	e.logger.Debug("fetcher stats",
		zap.String("target", t.Name),
		zap.Int64("attempts", stats.Attempts),
		zap.Int64("retries", stats.Retries),
		zap.Int64("failures", stats.Failures),
	)
	return summary, err
}

// Close releases resources in reverse order of acquisition.
func (e *crawlEnv) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
