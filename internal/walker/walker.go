// Package walker enumerates work items by paging through a listing.
package walker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
	"github.com/JakeFAU/gamesdb-crawler/internal/metrics"
)

// DefaultPageParam is the query parameter carrying the page number.
const DefaultPageParam = "page"

// Config describes one listing.
type Config struct {
	Target    string
	StartURL  string
	PageParam string
	// MaxPages stops the walk after that many pages; 0 means unbounded.
	MaxPages int
}

// Coverage reports how much of the listing was walked. Complete is true only
// when the listing signalled its own end.
type Coverage struct {
	Pages    int
	Items    int
	Complete bool
	Err      error
}

// Walker pages through a listing sequentially.
type Walker struct {
	cfg       Config
	fetcher   crawler.PageFetcher
	extractor crawler.PageExtractor
	logger    *zap.Logger
}

// New builds a Walker.
func New(cfg Config, fetcher crawler.PageFetcher, extractor crawler.PageExtractor, logger *zap.Logger) (*Walker, error) {
	if fetcher == nil || extractor == nil {
		return nil, errors.New("walker requires a fetcher and a page extractor")
	}
	if _, err := url.Parse(cfg.StartURL); err != nil || cfg.StartURL == "" {
		return nil, fmt.Errorf("invalid start url %q", cfg.StartURL)
	}
	if cfg.PageParam == "" {
		cfg.PageParam = DefaultPageParam
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{cfg: cfg, fetcher: fetcher, extractor: extractor, logger: logger}, nil
}

// Walk fetches page 1, 2, ... and hands every item to emit in listing order.
// Fetch and extract failures end the walk early and are reported through
// Coverage.Err; only emit errors and cancellation are returned.
func (w *Walker) Walk(ctx context.Context, emit func(crawler.WorkItem) error) (Coverage, error) {
	var cov Coverage
	for page := 1; ; page++ {
		if w.cfg.MaxPages > 0 && page > w.cfg.MaxPages {
			w.logger.Info("listing page cap reached", zap.String("target", w.cfg.Target), zap.Int("max_pages", w.cfg.MaxPages))
			return cov, nil
		}
		if err := ctx.Err(); err != nil {
			cov.Err = err
			return cov, fmt.Errorf("listing walk interrupted: %w", err)
		}

		pageURL, err := PageURL(w.cfg.StartURL, w.cfg.PageParam, page)
		if err != nil {
			cov.Err = err
			return cov, nil
		}
		logger := w.logger.With(zap.String("target", w.cfg.Target), zap.Int("page", page), zap.String("url", pageURL))

		payload, err := w.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				cov.Err = ctx.Err()
				return cov, fmt.Errorf("listing walk interrupted: %w", ctx.Err())
			}
			logger.Warn("listing page fetch failed; enumeration is partial", zap.Error(err))
			cov.Err = err
			return cov, nil
		}
		result, err := w.extractor.ExtractPage(payload)
		if err != nil {
			logger.Warn("listing page extraction failed; enumeration is partial", zap.Error(err))
			cov.Err = fmt.Errorf("page %d: %w", page, err)
			return cov, nil
		}

		cov.Pages++
		metrics.ObserveListingPage(w.cfg.Target)
		if len(result.Items) == 0 {
			logger.Debug("empty listing page")
			cov.Complete = true
			return cov, nil
		}
		for _, item := range result.Items {
			if err := emit(item); err != nil {
				return cov, err
			}
			cov.Items++
		}
		logger.Debug("listing page walked", zap.Int("items", len(result.Items)), zap.Bool("has_next", result.HasNext))
		if !result.HasNext {
			cov.Complete = true
			return cov, nil
		}
	}
}

// Collect walks the whole listing into a slice.
func (w *Walker) Collect(ctx context.Context) ([]crawler.WorkItem, Coverage, error) {
	var items []crawler.WorkItem
	cov, err := w.Walk(ctx, func(item crawler.WorkItem) error {
		items = append(items, item)
		return nil
	})
	return items, cov, err
}

// PageURL sets param=page on startURL, keeping any other query values.
func PageURL(startURL, param string, page int) (string, error) {
	u, err := url.Parse(startURL)
	if err != nil {
		return "", fmt.Errorf("parse start url: %w", err)
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
