package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

const listingSuffix = ".listing.jsonl"

// ListingPath returns the snapshot file for target.
func (s *Store) ListingPath(target string) string {
	return filepath.Join(s.dir, target+listingSuffix)
}

// SaveListing replaces the target's listing snapshot with items.
func (s *Store) SaveListing(_ context.Context, target string, items []crawler.WorkItem) error {
	if err := crawler.ValidateTarget(target); err != nil {
		return err
	}
	entries := make([]rawEntry, 0, len(items))
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode listing item %s: %w", item.ID, err)
		}
		entries = append(entries, rawEntry{id: item.ID, line: line})
	}
	return rewrite(s.ListingPath(target), entries)
}

// LoadListing reads a snapshot written by SaveListing. It returns an error
// wrapping crawler.ErrNotFound when no snapshot exists.
func (s *Store) LoadListing(_ context.Context, target string) ([]crawler.WorkItem, error) {
	if err := crawler.ValidateTarget(target); err != nil {
		return nil, err
	}
	f, err := os.Open(s.ListingPath(target))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("listing snapshot for %s: %w", target, crawler.ErrNotFound)
		}
		return nil, fmt.Errorf("open listing snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	var items []crawler.WorkItem
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var item crawler.WorkItem
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			return nil, fmt.Errorf("decode listing snapshot: %w", err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read listing snapshot: %w", err)
	}
	return items, nil
}
