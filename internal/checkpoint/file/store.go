// Package file implements a crawler.CheckpointStore on the local filesystem.
//
// Each target owns an append-only JSON Lines log named
// <dir>/<target>.checkpoint.jsonl. Every completion appends one line and is
// fsynced before RecordCompleted returns. The log is replayed when a target
// is first touched; a trailing line without its newline is the remains of an
// interrupted append and is discarded. Replay rewrites the log without
// duplicates through a temp file and rename.
package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

const checkpointSuffix = ".checkpoint.jsonl"

// Config controls where checkpoint logs are written.
type Config struct {
	Dir string `mapstructure:"state_dir"`
}

type entry struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
	Record      crawler.Record `json:"record,omitempty"`
}

type targetLog struct {
	f         *os.File
	completed map[string]struct{}
}

// Store implements crawler.CheckpointStore. All methods are safe for
// concurrent use; appends are serialized by a single mutex.
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	logs map[string]*targetLog
}

// New creates the state directory if needed.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:    cfg.Dir,
		logger: logger,
		now:    time.Now,
		logs:   make(map[string]*targetLog),
	}, nil
}

// Load replays the target's log and returns a copy of its completed set.
func (s *Store) Load(_ context.Context, target string) (crawler.CrawlState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := s.open(target)
	if err != nil {
		return crawler.CrawlState{}, err
	}
	state := crawler.NewCrawlState(target)
	for id := range log.completed {
		state.Completed[id] = struct{}{}
	}
	return state, nil
}

// RecordCompleted appends id to the target's log and fsyncs it. Recording an
// id that is already completed is a no-op.
func (s *Store) RecordCompleted(ctx context.Context, target, id string, record crawler.Record) error {
	if id == "" {
		return errors.New("checkpoint id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := s.open(target)
	if err != nil {
		return err
	}
	if _, done := log.completed[id]; done {
		return nil
	}
	line, err := json.Marshal(entry{
		ID:          id,
		RunID:       crawler.RunIDFromContext(ctx),
		CompletedAt: s.now().UTC(),
		Record:      record,
	})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	line = append(line, '\n')
	if _, err := log.f.Write(line); err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	if err := log.f.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	log.completed[id] = struct{}{}
	return nil
}

// IsCompleted reports whether id has been recorded for target.
func (s *Store) IsCompleted(_ context.Context, target, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, err := s.open(target)
	if err != nil {
		return false, err
	}
	_, ok := log.completed[id]
	return ok, nil
}

// Close closes every open log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for target, log := range s.logs {
		if err := log.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s log: %w", target, err))
		}
		delete(s.logs, target)
	}
	return errors.Join(errs...)
}

// Path returns the log file for target.
func (s *Store) Path(target string) string {
	return filepath.Join(s.dir, target+checkpointSuffix)
}

// open returns the cached log for target, replaying and compacting it on
// first use. Callers hold s.mu.
func (s *Store) open(target string) (*targetLog, error) {
	if log, ok := s.logs[target]; ok {
		return log, nil
	}
	if err := crawler.ValidateTarget(target); err != nil {
		return nil, err
	}
	path := s.Path(target)

	entries, err := s.replay(path)
	if err != nil {
		return nil, err
	}
	if err := rewrite(path, entries); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint log: %w", err)
	}
	log := &targetLog{f: f, completed: make(map[string]struct{}, len(entries))}
	for _, line := range entries {
		log.completed[line.id] = struct{}{}
	}
	s.logs[target] = log
	s.logger.Debug("checkpoint log loaded", zap.String("target", target), zap.Int("completed", len(log.completed)))
	return log, nil
}

type rawEntry struct {
	id   string
	line []byte
}

// replay reads path and returns the first line for every id, in file order.
func (s *Store) replay(path string) ([]rawEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open checkpoint log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		out  []rawEntry
		seen = make(map[string]struct{})
		r    = bufio.NewReader(f)
	)
	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) > 0 {
				s.logger.Warn("discarding torn checkpoint line", zap.String("path", path), zap.Int("line", lineNo))
			}
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read checkpoint log: %w", err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" {
			return nil, fmt.Errorf("corrupt checkpoint log %s line %d", path, lineNo)
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, rawEntry{id: e.ID, line: line})
	}
}

// rewrite atomically replaces path with entries.
func rewrite(path string, entries []rawEntry) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create compaction file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		_, _ = w.Write(e.line)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write compaction file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close compaction file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace checkpoint log: %w", err)
	}
	return syncDir(filepath.Dir(path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open state dir: %w", err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync state dir: %w", err)
	}
	return nil
}
