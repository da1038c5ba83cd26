package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
	"github.com/JakeFAU/gamesdb-crawler/internal/metrics"
)

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	metrics.ObserveItem("api-test", "succeeded")
	rec := serve(t, NewServer(nil, nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `gamesdb_items_total{outcome="succeeded",target="api-test"}`)
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	board := NewStatusBoard()
	board.Start("snes")
	board.Finish(crawler.Summary{
		RunID:     "run-1",
		Target:    "nes",
		Attempted: 10,
		Succeeded: 8,
		Failed:    2,
		FailedIDs: []string{"3", "7"},
	}, errors.New("boom"))
	s := NewServer(board, zap.NewNop())

	rec := serve(t, s, "/status/nes")
	require.Equal(t, http.StatusOK, rec.Code)
	var st TargetStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, "run-1", st.RunID)
	require.False(t, st.Running)
	require.Equal(t, "boom", st.Error)
	require.NotNil(t, st.Last)
	require.Equal(t, []string{"3", "7"}, st.Last.FailedIDs)

	rec = serve(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Targets []TargetStatus `json:"targets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Targets, 2)
	require.Equal(t, "nes", list.Targets[0].Target)
	require.Equal(t, "snes", list.Targets[1].Target)
	require.True(t, list.Targets[1].Running)

	rec = serve(t, s, "/status/genesis")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusBoard_FinishCopiesFailedIDs(t *testing.T) {
	t.Parallel()

	board := NewStatusBoard()
	ids := []string{"1"}
	board.Finish(crawler.Summary{Target: "nes", FailedIDs: ids}, nil)
	ids[0] = "changed"

	st, ok := board.Get("nes")
	require.True(t, ok)
	require.Equal(t, []string{"1"}, st.Last.FailedIDs)
	require.Empty(t, st.Error)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil)
	s.router.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})
	rec := serve(t, s, "/panic")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_RequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(nil, nil).ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
