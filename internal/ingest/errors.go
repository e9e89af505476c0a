package ingest

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrAccessDenied marks a URL the robots policy forbids. Never retried.
var ErrAccessDenied = errors.New("blocked by robots policy")

// FailClass buckets fetch failures for retry decisions.
type FailClass int

// Failure classes, from most to least retryable.
const (
	// FailTransient covers timeouts, connection resets and 5xx responses.
	FailTransient FailClass = iota
	// FailRateLimited is a 429; honored via Retry-After, outside the
	// generic transient budget.
	FailRateLimited
	// FailPermanent covers other 4xx and malformed URLs. No retry.
	FailPermanent
)

func (c FailClass) String() string {
	switch c {
	case FailTransient:
		return "transient"
	case FailRateLimited:
		return "rate_limited"
	case FailPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// FetchError wraps a failed page fetch with its failure class.
type FetchError struct {
	URL        string
	StatusCode int
	Class      FailClass
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d (%s)", e.URL, e.StatusCode, e.Class)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Class, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ClassifyStatus maps an HTTP status code to a failure class. 2xx and 3xx
// codes are not failures and must not be passed here.
func ClassifyStatus(code int) FailClass {
	switch {
	case code == http.StatusTooManyRequests:
		return FailRateLimited
	case code >= 500:
		return FailTransient
	default:
		return FailPermanent
	}
}
