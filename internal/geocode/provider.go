// Package geocode resolves place names to coordinates through an
// interchangeable remote provider, behind a TTL cache with a
// minimum-confidence gate. It is the single point of contact with the
// geocoding provider.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Result is a provider-confirmed coordinate pair with its certainty score.
type Result struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
}

// Origin reports whether a resolution was served locally or cost a
// remote provider call.
type Origin int

// Resolution origins.
const (
	OriginCache Origin = iota
	OriginRemote
)

// ErrNoResult means the provider found no candidates for the place name.
var ErrNoResult = errors.New("geocoder returned no result")

// ErrLowConfidence means the best candidate scored below the configured
// threshold. The topic is left without coordinates and retried on the next
// staleness check.
var ErrLowConfidence = errors.New("geocode result below confidence threshold")

// Provider is a single remote geocoding backend.
type Provider interface {
	Name() string
	Geocode(ctx context.Context, placeName string) (Result, error)
}

// ProviderError wraps a remote provider failure with enough context to
// decide retryability.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s geocoder: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s geocoder: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *ProviderError) Transient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// ProviderConfig selects and parameterizes the remote backend.
type ProviderConfig struct {
	Provider      string
	GoogleAPIKey  string
	YandexAPIKey  string
	Timeout       time.Duration
	CountrySuffix string
	Language      string
}

// NewProvider builds the backend named by cfg.Provider.
func NewProvider(cfg ProviderConfig, client *http.Client) (Provider, error) {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	switch cfg.Provider {
	case "google":
		return NewGoogle(cfg.GoogleAPIKey, cfg.CountrySuffix, cfg.Language, client), nil
	case "yandex":
		return NewYandex(cfg.YandexAPIKey, cfg.CountrySuffix, cfg.Language, client), nil
	default:
		return nil, fmt.Errorf("unknown geocoder provider: %q", cfg.Provider)
	}
}
