// Package jsonl appends records to a JSON Lines file.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
	"github.com/JakeFAU/gamesdb-crawler/internal/sink"
)

const maxLine = 4 << 20

// Sink implements crawler.RecordSink, one JSON object per line. Successful
// records already in the file are not written again.
type Sink struct {
	mu      sync.Mutex
	f       *os.File
	columns []string
	seen    map[string]struct{}
}

// New opens path for appending. When columns is non-empty every line carries
// exactly those keys, with "" for missing fields. A torn last line left by a
// crash is cut off before anything is appended.
func New(path string, columns []string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open jsonl: %w", err)
	}
	s := &Sink{f: f, columns: columns, seen: make(map[string]struct{})}
	size, err := sink.TrimTornTail(f)
	if err == nil {
		err = s.load(path, size)
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) load(path string, size int64) error {
	scanner := bufio.NewScanner(io.NewSectionReader(s.f, 0, size))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec crawler.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("decode %s line %d: %w", path, line, err)
		}
		if id, ok := sink.CompletedID(rec); ok {
			s.seen[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read jsonl %s: %w", path, err)
	}
	return nil
}

// Write appends and syncs one line.
func (s *Sink) Write(_ context.Context, record crawler.Record) error {
	out := record
	if len(s.columns) > 0 {
		out = make(crawler.Record, len(s.columns))
		for _, col := range s.columns {
			out[col] = record.Get(col)
		}
	}
	line, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')
	id, completed := sink.CompletedID(record)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("jsonl sink is closed")
	}
	if _, dup := s.seen[id]; completed && dup {
		return nil
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("write jsonl: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync jsonl: %w", err)
	}
	if completed {
		s.seen[id] = struct{}{}
	}
	return nil
}

// Close closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if err != nil {
		return fmt.Errorf("close jsonl: %w", err)
	}
	return nil
}
