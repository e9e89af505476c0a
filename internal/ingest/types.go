// Package ingest defines the core types shared across the crawl pipeline.
package ingest

import (
	"net/http"
	"time"
)

// TopicStub is a thread reference extracted from a forum listing page.
type TopicStub struct {
	ExternalID string
	Title      string
	PlaceName  string
	URL        string
}

// Topic is the persisted record for a forum thread about a fishing spot.
type Topic struct {
	ExternalID        string     `json:"external_id"`
	Title             string     `json:"title"`
	PlaceName         string     `json:"place_name"`
	URL               string     `json:"url"`
	Lat               *float64   `json:"lat,omitempty"`
	Lon               *float64   `json:"lon,omitempty"`
	GeocodeProvider   string     `json:"geocode_provider,omitempty"`
	GeocodeConfidence *float64   `json:"geocode_confidence,omitempty"`
	GeocodedAt        *time.Time `json:"geocoded_at,omitempty"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
}

// HasCoordinates reports whether a geocode result has been applied.
func (t Topic) HasCoordinates() bool {
	return t.Lat != nil && t.Lon != nil
}

// Post is the persisted record for a single forum message.
// Deleted and DeletedAt are owned by the admin collaborator; the pipeline
// reads them to avoid resurrecting removed posts but never writes them.
type Post struct {
	ExternalID      string     `json:"external_id"`
	TopicExternalID string     `json:"topic_external_id"`
	Author          string     `json:"author"`
	Body            string     `json:"body"`
	URL             string     `json:"url"`
	PostedAt        time.Time  `json:"posted_at"`
	FetchedAt       time.Time  `json:"fetched_at"`
	Deleted         bool       `json:"deleted"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// RunStatus is the terminal disposition of a crawl run.
type RunStatus string

// Run status values reported per cycle.
const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// CrawlRun summarizes one full traversal of the forum. It is ephemeral:
// handed to the observability collaborator, never persisted by the core.
type CrawlRun struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Status        RunStatus `json:"status"`
	PagesFetched  int       `json:"pages_fetched"`
	TopicsSeen    int       `json:"topics_seen"`
	PostsUpserted int       `json:"posts_upserted"`
	PostsSkipped  int       `json:"posts_skipped"`
	GeocodeCalls  int       `json:"geocode_calls"`
	Errors        []string  `json:"errors,omitempty"`
}

// FetchResponse is the outcome of a single HTTP GET.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
