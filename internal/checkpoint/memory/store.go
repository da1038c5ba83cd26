// Package memory provides an in-process checkpoint store for tests and dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

// Store implements crawler.CheckpointStore and crawler.ListingCache in memory.
type Store struct {
	mu       sync.RWMutex
	records  map[string]map[string]crawler.Record
	listings map[string][]crawler.WorkItem
	writes   int
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		records:  make(map[string]map[string]crawler.Record),
		listings: make(map[string][]crawler.WorkItem),
	}
}

// Load returns the completed set for target.
func (s *Store) Load(_ context.Context, target string) (crawler.CrawlState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := crawler.NewCrawlState(target)
	for id := range s.records[target] {
		state.Completed[id] = struct{}{}
	}
	return state, nil
}

// RecordCompleted marks id as completed for target.
func (s *Store) RecordCompleted(_ context.Context, target, id string, record crawler.Record) error {
	if id == "" {
		return errors.New("checkpoint id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[target]
	if !ok {
		byID = make(map[string]crawler.Record)
		s.records[target] = byID
	}
	if _, done := byID[id]; done {
		return nil
	}
	byID[id] = record.Clone()
	s.writes++
	return nil
}

// IsCompleted reports whether id is completed for target.
func (s *Store) IsCompleted(_ context.Context, target, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[target][id]
	return ok, nil
}

// Writes returns how many new completions were recorded across all targets.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// SaveListing stores a copy of items.
func (s *Store) SaveListing(_ context.Context, target string, items []crawler.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[target] = append([]crawler.WorkItem(nil), items...)
	return nil
}

// LoadListing returns the saved listing or an error wrapping crawler.ErrNotFound.
func (s *Store) LoadListing(_ context.Context, target string) ([]crawler.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, ok := s.listings[target]
	if !ok {
		return nil, fmt.Errorf("listing snapshot for %s: %w", target, crawler.ErrNotFound)
	}
	return append([]crawler.WorkItem(nil), items...), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
