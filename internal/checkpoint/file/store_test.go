package file

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

func newStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := New(Config{Dir: dir}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordCompletedSurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	first := newStore(t, dir)
	state, err := first.Load(ctx, "nes")
	require.NoError(t, err)
	require.Equal(t, 0, state.Len())

	require.NoError(t, first.RecordCompleted(ctx, "nes", "1", crawler.Record{"id": "1", "Title": "Zelda"}))
	require.NoError(t, first.RecordCompleted(ctx, "nes", "2", nil))
	// Simulate a crash: no Close.

	second := newStore(t, dir)
	state, err = second.Load(ctx, "nes")
	require.NoError(t, err)
	require.True(t, state.Has("1"))
	require.True(t, state.Has("2"))
	require.Equal(t, 2, state.Len())
}

func TestRecordCompletedIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	s := newStore(t, dir)

	require.NoError(t, s.RecordCompleted(ctx, "nes", "1", nil))
	require.NoError(t, s.RecordCompleted(ctx, "nes", "1", nil))

	data, err := os.ReadFile(s.Path("nes"))
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestTargetsAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t, t.TempDir())

	require.NoError(t, s.RecordCompleted(ctx, "nes", "1", nil))
	done, err := s.IsCompleted(ctx, "snes", "1")
	require.NoError(t, err)
	require.False(t, done)

	done, err = s.IsCompleted(ctx, "nes", "1")
	require.NoError(t, err)
	require.True(t, done)
}

func TestLoadDiscardsTornTrailingLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	s := newStore(t, dir)
	path := s.Path("nes")

	content := `{"id":"1","completed_at":"2024-01-01T00:00:00Z"}` + "\n" +
		`{"id":"1","completed_at":"2024-01-02T00:00:00Z"}` + "\n" +
		`{"id":"2","completed_at":"2024-01-01T00:00:00Z"}` + "\n" +
		`{"id":"3","compl`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	state, err := s.Load(ctx, "nes")
	require.NoError(t, err)
	require.Equal(t, 2, state.Len())
	require.False(t, state.Has("3"))

	// The log was compacted: duplicate and torn line are gone.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(string(data), "\n"))
	require.NotContains(t, string(data), `"id":"3"`)

	require.NoError(t, s.RecordCompleted(ctx, "nes", "3", nil))
	require.NoError(t, s.Close())

	reopened := newStore(t, dir)
	state, err = reopened.Load(ctx, "nes")
	require.NoError(t, err)
	require.Equal(t, 3, state.Len())
}

func TestLoadRejectsCorruptMiddleLine(t *testing.T) {
	t.Parallel()

	s := newStore(t, t.TempDir())
	content := `{"id":"1","completed_at":"2024-01-01T00:00:00Z"}` + "\nnot json\n" +
		`{"id":"2","completed_at":"2024-01-01T00:00:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(s.Path("nes"), []byte(content), 0o600))

	_, err := s.Load(context.Background(), "nes")
	require.Error(t, err)
}

func TestConcurrentRecordCompleted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	s := newStore(t, dir)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, s.RecordCompleted(ctx, "nes", fmt.Sprint(i), crawler.Record{"id": fmt.Sprint(i)}))
		}(i)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	reopened := newStore(t, dir)
	state, err := reopened.Load(ctx, "nes")
	require.NoError(t, err)
	require.Equal(t, 50, state.Len())
}

func TestRunIDIsStored(t *testing.T) {
	t.Parallel()

	s := newStore(t, t.TempDir())
	ctx := crawler.WithRunID(context.Background(), "run-42")
	require.NoError(t, s.RecordCompleted(ctx, "nes", "1", nil))

	data, err := os.ReadFile(s.Path("nes"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"run_id":"run-42"`)
}

func TestInvalidTarget(t *testing.T) {
	t.Parallel()

	s := newStore(t, t.TempDir())
	_, err := s.Load(context.Background(), "../escape")
	require.Error(t, err)
	require.Error(t, s.RecordCompleted(context.Background(), "nes", "", nil))
}

func TestNewRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestListingSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t, t.TempDir())

	_, err := s.LoadListing(ctx, "nes")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	items := []crawler.WorkItem{
		{ID: "1", URL: "https://thegamesdb.net/game.php?id=1", Meta: map[string]string{"Title": "Zelda"}},
		{ID: "2", URL: "https://thegamesdb.net/game.php?id=2"},
	}
	require.NoError(t, s.SaveListing(ctx, "nes", items))

	got, err := s.LoadListing(ctx, "nes")
	require.NoError(t, err)
	require.Equal(t, items, got)

	require.NoError(t, s.SaveListing(ctx, "nes", items[:1]))
	got, err = s.LoadListing(ctx, "nes")
	require.NoError(t, err)
	require.Len(t, got, 1)
}
