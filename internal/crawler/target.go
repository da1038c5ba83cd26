package crawler

import (
	"context"
	"fmt"
	"regexp"
)

var validTargetName = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateTarget rejects target names that are unsafe as file names or keys.
func ValidateTarget(name string) error {
	if !validTargetName.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid target name %q", name)
	}
	return nil
}

type runIDKey struct{}

// WithRunID attaches the current run ID to ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run ID attached by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
