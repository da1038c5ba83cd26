package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://thegamesdb.net/list_games.php", "thegamesdb.net"},
		{"standard https", "https://TheGamesDB.net/game.php?id=1", "thegamesdb.net"},
		{"no scheme", "thegamesdb.net/path", "thegamesdb.net"},
		{"host with port", "localhost:8080", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchAttemptsTotal == nil || itemsTotal == nil || activeWorkers == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(itemsTotal.WithLabelValues("metrics-test", "succeeded"))
	ObserveItem("metrics-test", "succeeded")
	if val := testutil.ToFloat64(itemsTotal.WithLabelValues("metrics-test", "succeeded")); val != before+1 {
		t.Errorf("expected items counter to grow by 1, got %f -> %f", before, val)
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	Init()
	base := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val != base+1 {
		t.Errorf("expected gauge %f, got %f", base+1, val)
	}
	DecActiveWorkers()
}

func TestObserveHelpersDoNotPanic(t *testing.T) {
	ObserveFetchAttempt("https://thegamesdb.net/x", "success")
	ObserveRetry()
	ObserveListingPage("nes")
	ObserveRateLimitDelay("thegamesdb.net", 150*time.Millisecond)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://thegamesdb.net", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
