package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const googleEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// googleLocationTypeScore maps Google's location_type to a confidence score.
var googleLocationTypeScore = map[string]float64{
	"ROOFTOP":            1.0,
	"RANGE_INTERPOLATED": 0.8,
	"GEOMETRIC_CENTER":   0.6,
	"APPROXIMATE":        0.4,
}

// Google implements Provider against the Google Geocoding API.
type Google struct {
	apiKey        string
	countrySuffix string
	language      string
	client        *http.Client
	endpoint      string
}

// NewGoogle builds a Google provider.
func NewGoogle(apiKey, countrySuffix, language string, client *http.Client) *Google {
	return &Google{
		apiKey:        apiKey,
		countrySuffix: countrySuffix,
		language:      language,
		client:        client,
		endpoint:      googleEndpoint,
	}
}

// Name implements Provider.
func (g *Google) Name() string { return "google" }

type googleResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
			LocationType string `json:"location_type"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves placeName, picking the candidate with the most precise
// location type.
func (g *Google) Geocode(ctx context.Context, placeName string) (Result, error) {
	address := placeName
	if g.countrySuffix != "" {
		address = placeName + ", " + g.countrySuffix
	}
	params := url.Values{}
	params.Set("address", address)
	params.Set("key", g.apiKey)
	if g.language != "" {
		params.Set("language", g.language)
	}

	payload, err := g.call(ctx, params)
	if err != nil {
		return Result{}, err
	}
	if payload.Status != "OK" || len(payload.Results) == 0 {
		return Result{}, ErrNoResult
	}

	best := payload.Results[0]
	bestScore := googleScore(best.Geometry.LocationType)
	for _, candidate := range payload.Results[1:] {
		if score := googleScore(candidate.Geometry.LocationType); score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return Result{
		Lat:        best.Geometry.Location.Lat,
		Lon:        best.Geometry.Location.Lng,
		Confidence: bestScore,
		Provider:   g.Name(),
	}, nil
}

func (g *Google) call(ctx context.Context, params url.Values) (googleResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return googleResponse{}, &ProviderError{Provider: g.Name(), StatusCode: http.StatusBadRequest, Err: err}
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return googleResponse{}, &ProviderError{Provider: g.Name(), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return googleResponse{}, &ProviderError{Provider: g.Name(), StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return googleResponse{}, &ProviderError{Provider: g.Name(), Err: fmt.Errorf("read body: %w", err)}
	}
	var payload googleResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return googleResponse{}, &ProviderError{Provider: g.Name(), StatusCode: http.StatusUnprocessableEntity, Err: fmt.Errorf("decode body: %w", err)}
	}
	return payload, nil
}

func googleScore(locationType string) float64 {
	if score, ok := googleLocationTypeScore[locationType]; ok {
		return score
	}
	return 0.1
}
