package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fishingmap/forum-crawler/internal/ingest"
)

type fakeCrawler struct {
	triggered bool
	busy      bool
	running   bool
	lastRun   *ingest.CrawlRun
}

func (f *fakeCrawler) TriggerNow() bool {
	if f.busy {
		return false
	}
	f.triggered = true
	return true
}

func (f *fakeCrawler) Running() bool { return f.running }

func (f *fakeCrawler) LastRun() (ingest.CrawlRun, bool) {
	if f.lastRun == nil {
		return ingest.CrawlRun{}, false
	}
	return *f.lastRun, true
}

func newTestServer(t *testing.T, crawler Crawler) *httptest.Server {
	t.Helper()
	server := New(0, crawler, zap.NewNop())
	ts := httptest.NewServer(server.http.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeCrawler{})
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeCrawler{})
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSyncTriggersRun(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{}
	ts := newTestServer(t, crawler)

	resp, err := http.Post(ts.URL+"/v1/sync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.True(t, crawler.triggered)
}

func TestSyncConflictsWhileRunning(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeCrawler{busy: true})
	resp, err := http.Post(ts.URL+"/v1/sync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLastRunNotFoundBeforeFirstRun(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeCrawler{})
	resp, err := http.Get(ts.URL + "/v1/runs/last")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLastRunReturnsReport(t *testing.T) {
	t.Parallel()

	report := ingest.CrawlRun{
		ID:            "run-1",
		StartedAt:     time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC),
		Status:        ingest.RunStatusSucceeded,
		PagesFetched:  4,
		TopicsSeen:    2,
		PostsUpserted: 7,
	}
	ts := newTestServer(t, &fakeCrawler{lastRun: &report})

	resp, err := http.Get(ts.URL + "/v1/runs/last")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got ingest.CrawlRun
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, report.ID, got.ID)
	require.Equal(t, report.PostsUpserted, got.PostsUpserted)
	require.Equal(t, ingest.RunStatusSucceeded, got.Status)
}
