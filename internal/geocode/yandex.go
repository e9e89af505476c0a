package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const yandexEndpoint = "https://geocode-maps.yandex.ru/1.x/"

// yandexPrecisionScore maps Yandex's precision field to a confidence score.
var yandexPrecisionScore = map[string]float64{
	"exact":  1.0,
	"number": 0.9,
	"near":   0.8,
	"street": 0.6,
	"other":  0.4,
}

// Yandex implements Provider against the Yandex Geocoder API.
type Yandex struct {
	apiKey        string
	countrySuffix string
	language      string
	client        *http.Client
	endpoint      string
}

// NewYandex builds a Yandex provider.
func NewYandex(apiKey, countrySuffix, language string, client *http.Client) *Yandex {
	return &Yandex{
		apiKey:        apiKey,
		countrySuffix: countrySuffix,
		language:      language,
		client:        client,
		endpoint:      yandexEndpoint,
	}
}

// Name implements Provider.
func (y *Yandex) Name() string { return "yandex" }

type yandexFeature struct {
	GeoObject struct {
		MetaDataProperty struct {
			GeocoderMetaData struct {
				Precision string `json:"precision"`
			} `json:"GeocoderMetaData"`
		} `json:"metaDataProperty"`
		Point struct {
			Pos string `json:"pos"`
		} `json:"Point"`
	} `json:"GeoObject"`
}

type yandexResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []yandexFeature `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

// Geocode resolves placeName, picking the candidate with the highest
// precision score. The Yandex point format is "lon lat".
func (y *Yandex) Geocode(ctx context.Context, placeName string) (Result, error) {
	query := placeName
	if y.countrySuffix != "" {
		query = placeName + ", " + y.countrySuffix
	}
	params := url.Values{}
	params.Set("apikey", y.apiKey)
	params.Set("format", "json")
	params.Set("results", "5")
	params.Set("geocode", query)
	if y.language != "" {
		params.Set("lang", y.language)
	}

	payload, err := y.call(ctx, params)
	if err != nil {
		return Result{}, err
	}
	members := payload.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		return Result{}, ErrNoResult
	}

	best := members[0]
	bestScore := yandexScore(best)
	for _, candidate := range members[1:] {
		if score := yandexScore(candidate); score > bestScore {
			best, bestScore = candidate, score
		}
	}
	lon, lat, err := parsePos(best.GeoObject.Point.Pos)
	if err != nil {
		return Result{}, &ProviderError{Provider: y.Name(), StatusCode: http.StatusUnprocessableEntity, Err: err}
	}
	return Result{
		Lat:        lat,
		Lon:        lon,
		Confidence: bestScore,
		Provider:   y.Name(),
	}, nil
}

func (y *Yandex) call(ctx context.Context, params url.Values) (yandexResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return yandexResponse{}, &ProviderError{Provider: y.Name(), StatusCode: http.StatusBadRequest, Err: err}
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return yandexResponse{}, &ProviderError{Provider: y.Name(), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return yandexResponse{}, &ProviderError{Provider: y.Name(), StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return yandexResponse{}, &ProviderError{Provider: y.Name(), Err: fmt.Errorf("read body: %w", err)}
	}
	var payload yandexResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return yandexResponse{}, &ProviderError{Provider: y.Name(), StatusCode: http.StatusUnprocessableEntity, Err: fmt.Errorf("decode body: %w", err)}
	}
	return payload, nil
}

func yandexScore(f yandexFeature) float64 {
	precision := f.GeoObject.MetaDataProperty.GeocoderMetaData.Precision
	if score, ok := yandexPrecisionScore[precision]; ok {
		return score
	}
	return 0.3
}

func parsePos(pos string) (lon, lat float64, err error) {
	fields := strings.Fields(pos)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("malformed point %q", pos)
	}
	lon, err = strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse lon: %w", err)
	}
	lat, err = strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse lat: %w", err)
	}
	return lon, lat, nil
}
