// Package robots enforces the target site's robots.txt rules.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Policy enforces robots.txt directives per host. Rules are cached and
// refetched after the refresh interval. If the rules cannot be retrieved the
// path is treated as disallowed: absence of permission is a decision, not a
// transient error, so the load is never retried within a run.
type Policy struct {
	client    *http.Client
	userAgent string
	refresh   time.Duration
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]hostRules
}

type hostRules struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
	failed    bool
}

// New builds a Policy for the given user agent.
func New(client *http.Client, userAgent string, refresh time.Duration, logger *zap.Logger) *Policy {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if refresh <= 0 {
		refresh = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		client:    client,
		userAgent: userAgent,
		refresh:   refresh,
		logger:    logger,
		cache:     make(map[string]hostRules),
	}
}

// Allowed implements ingest.AccessPolicy.
func (p *Policy) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	rules := p.load(ctx, parsed)
	if rules.failed {
		p.logger.Warn("robots rules unavailable; denying access",
			zap.String("host", parsed.Host),
			zap.String("path", parsed.Path),
		)
		return false
	}
	// TestAgent honors the wholesale allow-all and disallow-all states the
	// library builds for 4xx and 5xx robots responses.
	return rules.data.TestAgent(parsed.Path, p.userAgent)
}

func (p *Policy) load(ctx context.Context, parsed *url.URL) hostRules {
	hostKey := strings.ToLower(parsed.Host)
	p.mu.Lock()
	defer p.mu.Unlock()
	if rules, ok := p.cache[hostKey]; ok && time.Since(rules.fetchedAt) < p.refresh {
		return rules
	}

	data, err := p.fetch(ctx, parsed)
	rules := hostRules{data: data, fetchedAt: time.Now(), failed: err != nil}
	if err != nil {
		p.logger.Warn("robots fetch failed", zap.String("host", hostKey), zap.Error(err))
	}
	p.cache[hostKey] = rules
	return rules
}

func (p *Policy) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

// AllowAll is a policy that permits everything. For tests and for sites
// explicitly configured to skip robots checks.
type AllowAll struct{}

// Allowed implements ingest.AccessPolicy.
func (AllowAll) Allowed(context.Context, string) bool { return true }
