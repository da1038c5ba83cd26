// Package uuid generates crawl run IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

var _ crawler.IDGenerator = Generator{}

// Generator creates time-ordered UUIDv7 run IDs so runs sort by start time.
type Generator struct{}

// New creates a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
