package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	require.Error(t, s.RecordCompleted(ctx, "nes", "", nil))
	require.NoError(t, s.RecordCompleted(ctx, "nes", "1", crawler.Record{"id": "1"}))
	require.NoError(t, s.RecordCompleted(ctx, "nes", "1", crawler.Record{"id": "1"}))
	require.Equal(t, 1, s.Writes())

	state, err := s.Load(ctx, "nes")
	require.NoError(t, err)
	require.True(t, state.Has("1"))

	other, err := s.Load(ctx, "snes")
	require.NoError(t, err)
	require.Equal(t, 0, other.Len())

	require.NoError(t, s.Close())
}

func TestListingCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	_, err := s.LoadListing(ctx, "nes")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	items := []crawler.WorkItem{{ID: "1"}, {ID: "2"}}
	require.NoError(t, s.SaveListing(ctx, "nes", items))
	items[0].ID = "mutated"

	got, err := s.LoadListing(ctx, "nes")
	require.NoError(t, err)
	require.Equal(t, "1", got[0].ID)
}
