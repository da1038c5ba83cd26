package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence marks a checkpoint or sink write failure. It is fatal to a run.
	ErrPersistence = errors.New("persistence failure")
	// ErrExtract marks malformed or unexpected markup.
	ErrExtract = errors.New("extraction failed")
	// ErrNotFound signals that a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// FetchError is the terminal failure of a resilient fetch.
type FetchError struct {
	URL      string
	Attempts int
	// StatusCode is the last HTTP status seen, 0 for transport errors.
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s failed after %d attempt(s) (status %d): %v", e.URL, e.Attempts, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// StatusError reports a non-success HTTP status from a single attempt.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
