package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRobotsServer(t *testing.T, body string, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAllowedFollowsRules(t *testing.T) {
	t.Parallel()

	server := newRobotsServer(t, "User-agent: *\nDisallow: /private/\n", http.StatusOK, nil)
	policy := New(server.Client(), "fishing-map-crawler", time.Hour, zap.NewNop())

	require.True(t, policy.Allowed(context.Background(), server.URL+"/forum/threads/pond.101/"))
	require.False(t, policy.Allowed(context.Background(), server.URL+"/private/admin"))
}

func TestUnreachableRobotsDeniesEverything(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	policy := New(server.Client(), "fishing-map-crawler", time.Hour, zap.NewNop())
	require.False(t, policy.Allowed(context.Background(), server.URL+"/forum/"))
}

func TestServerErrorRobotsStatusDeniesEverything(t *testing.T) {
	t.Parallel()

	// A well-formed robots body alongside a 5xx status still means the
	// rules are unknown; every path is denied.
	server := newRobotsServer(t, "User-agent: *\nAllow: /\n", http.StatusServiceUnavailable, nil)
	policy := New(server.Client(), "fishing-map-crawler", time.Hour, zap.NewNop())
	require.False(t, policy.Allowed(context.Background(), server.URL+"/forum/threads/pond.101/"))
}

func TestRulesForOtherAgentsDoNotBlock(t *testing.T) {
	t.Parallel()

	server := newRobotsServer(t, "User-agent: badbot\nDisallow: /\n", http.StatusOK, nil)
	policy := New(server.Client(), "fishing-map-crawler", time.Hour, zap.NewNop())
	require.True(t, policy.Allowed(context.Background(), server.URL+"/forum/"))
}

func TestMissingRobotsAllowsEverything(t *testing.T) {
	t.Parallel()

	server := newRobotsServer(t, "", http.StatusNotFound, nil)
	policy := New(server.Client(), "fishing-map-crawler", time.Hour, zap.NewNop())
	require.True(t, policy.Allowed(context.Background(), server.URL+"/forum/threads/pond.101/"))
}

func TestRulesAreCachedPerHost(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := newRobotsServer(t, "User-agent: *\nAllow: /\n", http.StatusOK, &hits)
	policy := New(server.Client(), "fishing-map-crawler", time.Hour, zap.NewNop())

	for i := 0; i < 5; i++ {
		require.True(t, policy.Allowed(context.Background(), server.URL+"/forum/"))
	}
	require.Equal(t, int32(1), hits.Load())
}

func TestFailedLoadIsCachedWithinRefreshWindow(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	policy := New(server.Client(), "fishing-map-crawler", time.Hour, zap.NewNop())
	require.False(t, policy.Allowed(context.Background(), server.URL+"/a"))
	require.False(t, policy.Allowed(context.Background(), server.URL+"/b"))
	require.Equal(t, int32(1), hits.Load())
}

func TestMalformedURLIsDenied(t *testing.T) {
	t.Parallel()

	policy := New(nil, "fishing-map-crawler", time.Hour, zap.NewNop())
	require.False(t, policy.Allowed(context.Background(), "://not-a-url"))
}

func TestAllowAll(t *testing.T) {
	t.Parallel()

	require.True(t, AllowAll{}.Allowed(context.Background(), "https://anywhere.example/"))
}
