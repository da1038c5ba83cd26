package crawler

import (
	"context"
)

// Fetcher performs a single retrieval attempt. Retries live above it.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageFetcher is the resilient fetch contract used by the walker and the
// orchestrator. Errors returned are always *FetchError.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Payload, error)
}

// PageExtractor parses a listing page into work items.
type PageExtractor interface {
	ExtractPage(payload Payload) (PageResult, error)
}

// DetailExtractor maps a detail page to a Record.
type DetailExtractor interface {
	ExtractDetail(item WorkItem, payload Payload) (Record, error)
	// Columns lists the fields the extractor produces, in output order.
	Columns() []string
}

// RecordSink is an append-only destination for records. Implementations
// must tolerate arbitrary completion order and concurrent callers. A
// successful record whose id the sink already holds may be written again
// after a crash; file sinks skip it.
type RecordSink interface {
	Write(ctx context.Context, record Record) error
	Close() error
}

// CheckpointStore durably tracks completed identifiers per target.
// Implementations serialize their own writes.
type CheckpointStore interface {
	Load(ctx context.Context, target string) (CrawlState, error)
	RecordCompleted(ctx context.Context, target, id string, record Record) error
	IsCompleted(ctx context.Context, target, id string) (bool, error)
	Close() error
}

// ListingCache persists a target's enumeration so a later run can reuse it
// instead of walking the listing again.
type ListingCache interface {
	SaveListing(ctx context.Context, target string, items []WorkItem) error
	LoadListing(ctx context.Context, target string) ([]WorkItem, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
