// Package sink combines record sinks.
package sink

import (
	"context"
	"errors"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

// Multi writes every record to each sink in order.
type Multi []crawler.RecordSink

// Write stops at the first failing sink.
func (m Multi) Write(ctx context.Context, record crawler.Record) error {
	for _, s := range m {
		if err := s.Write(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins the errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
