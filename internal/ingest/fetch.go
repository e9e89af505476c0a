package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fishingmap/forum-crawler/internal/metrics"
)

// PoliteFetcher gates every GET through the access policy and rate limiter,
// and applies the retry policy to transient failures. A robots denial is
// returned as ErrAccessDenied and never retried. A 429 honors the server's
// Retry-After hint outside the generic transient budget.
type PoliteFetcher struct {
	transport Fetcher
	policy    AccessPolicy
	limiter   RateLimiter
	retry     *ExponentialRetryPolicy
	logger    *zap.Logger

	// maxRateLimitWaits bounds how many 429 backoffs a single fetch absorbs.
	maxRateLimitWaits int
}

// NewPoliteFetcher assembles the fetch stack.
func NewPoliteFetcher(
	transport Fetcher,
	policy AccessPolicy,
	limiter RateLimiter,
	retry *ExponentialRetryPolicy,
	logger *zap.Logger,
) *PoliteFetcher {
	if retry == nil {
		retry = NewExponentialRetryPolicy(RetryConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoliteFetcher{
		transport:         transport,
		policy:            policy,
		limiter:           limiter,
		retry:             retry,
		logger:            logger,
		maxRateLimitWaits: 2,
	}
}

// Fetch implements Fetcher.
func (f *PoliteFetcher) Fetch(ctx context.Context, url string) (FetchResponse, error) {
	if _, err := neturl.ParseRequestURI(url); err != nil {
		return FetchResponse{}, &FetchError{URL: url, Class: FailPermanent, Err: err}
	}
	if !f.policy.Allowed(ctx, url) {
		return FetchResponse{}, fmt.Errorf("fetch %s: %w", url, ErrAccessDenied)
	}

	var lastErr error
	rateLimitWaits := 0
	for attempt := 0; attempt < f.retry.MaxAttempts(); attempt++ {
		if attempt > 0 {
			metrics.ObserveFetchRetry()
		}
		resp, err := f.attempt(ctx, url)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var fetchErr *FetchError
		if errors.As(err, &fetchErr) && fetchErr.Class == FailRateLimited {
			if rateLimitWaits >= f.maxRateLimitWaits {
				break
			}
			rateLimitWaits++
			attempt-- // 429 backoffs do not consume the transient budget
			f.logger.Warn("rate limited by server",
				zap.String("url", url),
				zap.Duration("retry_after", fetchErr.RetryAfter),
			)
			if serr := sleepWithContext(ctx, fetchErr.RetryAfter); serr != nil {
				return FetchResponse{}, serr
			}
			continue
		}
		if !f.retry.ShouldRetry(err, attempt) {
			break
		}
		if serr := sleepWithContext(ctx, f.retry.Backoff(attempt)); serr != nil {
			return FetchResponse{}, serr
		}
	}
	return FetchResponse{}, lastErr
}

func (f *PoliteFetcher) attempt(ctx context.Context, url string) (FetchResponse, error) {
	release, err := f.limiter.Acquire(ctx)
	if err != nil {
		return FetchResponse{}, err
	}
	defer release()

	resp, err := f.transport.Fetch(ctx, url)
	if err != nil {
		return FetchResponse{}, &FetchError{URL: url, Class: FailTransient, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return resp, nil
	}
	class := ClassifyStatus(resp.StatusCode)
	ferr := &FetchError{URL: url, StatusCode: resp.StatusCode, Class: class}
	if class == FailRateLimited {
		ferr.RetryAfter = retryAfterHint(resp.Headers)
	}
	return FetchResponse{}, ferr
}

// retryAfterHint reads a delay-seconds Retry-After header, defaulting to 5s.
// HTTP-date values are ignored rather than parsed.
func retryAfterHint(headers http.Header) time.Duration {
	const fallback = 5 * time.Second
	raw := headers.Get("Retry-After")
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
