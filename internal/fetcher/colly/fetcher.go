// Package collyfetcher implements the raw HTTP fetch using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/fishingmap/forum-crawler/internal/ingest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// SessionCookie, when set, is sent verbatim as the Cookie header so
	// the crawl can see forum sections that require a logged-in session.
	SessionCookie string
}

// Fetcher implements ingest.Fetcher using a Colly collector. Robots
// evaluation is left entirely to the access policy layered above, so the
// collector's own robots handling is disabled. Non-2xx statuses are
// returned as responses; only transport failures are errors.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)
	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, url string) (ingest.FetchResponse, error) {
	var (
		result   ingest.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, start, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The request runs on a context-bound transport, so cancellation
		// aborts it; wait for the visit to unwind so no request is still in
		// flight when the caller's concurrency slot is released.
		<-done
		return ingest.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		// Colly reports non-2xx statuses through OnError; the captured
		// response carries the status code and is not a transport failure.
		if result.StatusCode > 0 {
			return result, nil
		}
		if err != nil {
			return ingest.FetchResponse{}, fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return ingest.FetchResponse{}, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		return result, nil
	}
}

func (f *Fetcher) buildCollector(ctx context.Context, start time.Time, result *ingest.FetchResponse, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(contextTransport{ctx: ctx, base: f.transport})

	collector.OnRequest(func(r *colly.Request) {
		if f.cfg.SessionCookie != "" {
			r.Headers.Set("Cookie", f.cfg.SessionCookie)
		}
	})

	capture := func(r *colly.Response) {
		*result = ingest.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headersOf(r),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	}
	collector.OnResponse(capture)
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			capture(r)
			return
		}
		*fetchErr = err
	})
	return collector
}

// contextTransport binds outgoing requests to the fetch context so canceling
// the fetch aborts the request in flight.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func headersOf(r *colly.Response) http.Header {
	if r.Headers == nil {
		return http.Header{}
	}
	return r.Headers.Clone()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
