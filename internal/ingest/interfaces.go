package ingest

import (
	"context"
	"time"

	"github.com/fishingmap/forum-crawler/internal/geocode"
)

// Store is the contract with the relational storage collaborator. Each call
// is atomic per record and safe under concurrent use by pipeline workers.
type Store interface {
	UpsertTopic(ctx context.Context, topic Topic) error
	UpsertPost(ctx context.Context, post Post) error
	GetPost(ctx context.Context, externalID string) (Post, bool, error)
	TopicsNeedingGeocode(ctx context.Context, staleness time.Duration) ([]Topic, error)
	UpdateTopicCoordinates(ctx context.Context, externalID string, result geocode.Result, at time.Time) error
}

// Fetcher performs a single HTTP GET and returns the body plus metadata.
// Non-2xx responses are returned as responses, not errors; transport
// failures are errors.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// AccessPolicy decides whether a URL may be fetched under the site's
// robots rules.
type AccessPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// RateLimiter bounds request rate and in-flight fetches. Acquire blocks
// until both constraints are satisfiable and returns a release func that
// must be called when the fetch completes.
type RateLimiter interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Geocoder resolves a place name to coordinates. Implementations report
// whether the result was served from cache or cost a remote provider call.
type Geocoder interface {
	Resolve(ctx context.Context, placeName string) (geocode.Result, geocode.Origin, error)
}

// Publisher pushes run reports to an external observability sink.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
