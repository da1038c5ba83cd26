// Package csv appends records to a CSV file with a fixed column layout.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
	"github.com/JakeFAU/gamesdb-crawler/internal/sink"
)

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Sink implements crawler.RecordSink. The header is written only when the
// file is new; an existing file must carry the same header. Successful rows
// already in the file are not written again.
type Sink struct {
	mu      sync.Mutex
	f       *os.File
	w       *csv.Writer
	columns []string
	seen    map[string]struct{}
}

// New opens path for appending. A torn last row left by a crash is cut off
// before anything is appended.
func New(path string, columns []string) (*Sink, error) {
	if len(columns) == 0 {
		return nil, errors.New("csv sink needs at least one column")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	s := &Sink{f: f, w: csv.NewWriter(f), columns: slices.Clone(columns), seen: make(map[string]struct{})}

	size, err := sink.TrimTornTail(f)
	if err == nil {
		err = s.load(path, size)
	}
	if err == nil && size == 0 {
		if err = s.writeRow(s.columns); err != nil {
			err = fmt.Errorf("write csv header: %w", err)
		}
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// Write appends one row. Fields missing from record are written empty and
// embedded newlines are folded to spaces. The row is flushed and synced
// before Write returns.
func (s *Sink) Write(_ context.Context, record crawler.Record) error {
	row := make([]string, len(s.columns))
	for i, col := range s.columns {
		row[i] = newlines.Replace(record.Get(col))
	}
	id, completed := sink.CompletedID(record)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("csv sink is closed")
	}
	if _, dup := s.seen[id]; completed && dup {
		return nil
	}
	if err := s.writeRow(row); err != nil {
		return err
	}
	if completed {
		s.seen[id] = struct{}{}
	}
	return nil
}

// Close flushes and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	err := errors.Join(s.w.Error(), s.f.Close())
	s.f = nil
	if err != nil {
		return fmt.Errorf("close csv: %w", err)
	}
	return nil
}

func (s *Sink) writeRow(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync csv: %w", err)
	}
	return nil
}

// load checks the header of an existing file and collects the ids of its
// successful rows.
func (s *Sink) load(path string, size int64) error {
	if size == 0 {
		return nil
	}
	r := csv.NewReader(io.NewSectionReader(s.f, 0, size))
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	if !slices.Equal(header, s.columns) {
		return fmt.Errorf("csv %s has header %v, want %v", path, header, s.columns)
	}
	idCol := slices.Index(header, crawler.FieldID)
	if idCol < 0 {
		return nil
	}
	errCol := slices.Index(header, crawler.FieldError)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read csv %s: %w", path, err)
		}
		if errCol >= 0 && row[errCol] != "" {
			continue
		}
		if row[idCol] != "" {
			s.seen[row[idCol]] = struct{}{}
		}
	}
}
