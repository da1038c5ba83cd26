package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

// Memory keeps records in memory. It backs dry runs and tests.
type Memory struct {
	mu      sync.Mutex
	records []crawler.Record
	seen    map[string]struct{}
	closed  bool
	// Err, when set, is returned by every Write.
	Err error
}

// Write stores a copy of record. A successful record whose id is already
// stored is skipped.
func (m *Memory) Write(_ context.Context, record crawler.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.closed {
		return errors.New("memory sink is closed")
	}
	id, ok := CompletedID(record)
	if ok {
		if _, dup := m.seen[id]; dup {
			return nil
		}
		if m.seen == nil {
			m.seen = make(map[string]struct{})
		}
		m.seen[id] = struct{}{}
	}
	m.records = append(m.records, record.Clone())
	return nil
}

// Close marks the sink closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns the stored records in write order.
func (m *Memory) Records() []crawler.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]crawler.Record, len(m.records))
	copy(out, m.records)
	return out
}
