// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// Reserved record fields that every Record carries.
const (
	FieldID    = "id"
	FieldURL   = "url"
	FieldError = "error"
)

// WorkItem is a unit of crawl work discovered on a listing page.
// Identity is the ID; Meta carries listing-derived fields (e.g. a display
// title) forward into the final Record.
type WorkItem struct {
	ID   string            `json:"id"`
	URL  string            `json:"url"`
	Meta map[string]string `json:"meta,omitempty"`
}

// PageResult is the parsed form of one listing page.
type PageResult struct {
	Items   []WorkItem
	HasNext bool
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a single-attempt Fetcher.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Payload is the successful result of a resilient fetch.
type Payload struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Attempts   int
	Duration   time.Duration
}

// Record is the flat output row for one WorkItem.
type Record map[string]string

// Get returns the field value, or "" when absent.
func (r Record) Get(field string) string {
	if r == nil {
		return ""
	}
	return r[field]
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Outcome is the result of processing one WorkItem. Err is nil on success.
type Outcome struct {
	Item   WorkItem
	Record Record
	Err    error
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// CrawlState is the durable set of completed identifiers for one target.
type CrawlState struct {
	Target    string
	Completed map[string]struct{}
}

// NewCrawlState returns an empty state for target.
func NewCrawlState(target string) CrawlState {
	return CrawlState{Target: target, Completed: make(map[string]struct{})}
}

// Has reports whether id is already completed.
func (s CrawlState) Has(id string) bool {
	_, ok := s.Completed[id]
	return ok
}

// Len returns the number of completed identifiers.
func (s CrawlState) Len() int {
	return len(s.Completed)
}

// Summary aggregates the counts of a single orchestrator run.
type Summary struct {
	RunID               string    `json:"run_id"`
	Target              string    `json:"target"`
	Enumerated          int       `json:"enumerated"`
	Duplicates          int       `json:"duplicates"`
	Skipped             int       `json:"skipped"`
	Attempted           int       `json:"attempted"`
	Succeeded           int       `json:"succeeded"`
	Failed              int       `json:"failed"`
	FailedIDs           []string  `json:"failed_ids,omitempty"`
	PagesCovered        int       `json:"pages_covered"`
	EnumerationComplete bool      `json:"enumeration_complete"`
	ListingReused       bool      `json:"listing_reused"`
	Interrupted         bool      `json:"interrupted"`
	Started             time.Time `json:"started_at"`
	Finished            time.Time `json:"finished_at"`
}
