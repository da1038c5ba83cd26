package api

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

// TargetStatus is the externally visible state of one target.
type TargetStatus struct {
	Target  string           `json:"target"`
	Running bool             `json:"running"`
	RunID   string           `json:"run_id,omitempty"`
	Since   time.Time        `json:"since"`
	Last    *crawler.Summary `json:"last_run,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// StatusBoard tracks the current and last run per target. It is safe for
// concurrent use by the CLI and the HTTP handlers.
type StatusBoard struct {
	mu      sync.RWMutex
	targets map[string]TargetStatus
	now     func() time.Time
}

// NewStatusBoard creates an empty board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{
		targets: make(map[string]TargetStatus),
		now:     time.Now,
	}
}

// Start marks target as running.
func (b *StatusBoard) Start(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.targets[target]
	st.Target = target
	st.Running = true
	st.RunID = ""
	st.Since = b.now()
	b.targets[target] = st
}

// Finish records the summary of a completed or halted run.
func (b *StatusBoard) Finish(summary crawler.Summary, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := summary
	s.FailedIDs = append([]string(nil), summary.FailedIDs...)
	st := TargetStatus{
		Target: summary.Target,
		RunID:  summary.RunID,
		Since:  b.now(),
		Last:   &s,
	}
	if err != nil {
		st.Error = err.Error()
	}
	b.targets[summary.Target] = st
}

// Get returns the status of target.
func (b *StatusBoard) Get(target string) (TargetStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.targets[target]
	return st, ok
}

// List returns all statuses ordered by target name.
func (b *StatusBoard) List() []TargetStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]TargetStatus, 0, len(b.targets))
	for _, st := range b.targets {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}
