package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func googleJSON(results ...string) string {
	out := `{"status":"OK","results":[`
	for i, r := range results {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out + `]}`
}

func googleResult(lat, lng float64, locationType string) string {
	return fmt.Sprintf(
		`{"geometry":{"location":{"lat":%f,"lng":%f},"location_type":%q}}`,
		lat, lng, locationType,
	)
}

func TestGooglePicksMostPreciseCandidate(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(googleJSON(
			googleResult(55.0, 37.0, "APPROXIMATE"),
			googleResult(55.7, 37.6, "ROOFTOP"),
		)))
	}))
	t.Cleanup(server.Close)

	provider := NewGoogle("key", "Россия", "ru", server.Client())
	provider.endpoint = server.URL

	result, err := provider.Geocode(context.Background(), "Лесное озеро")
	require.NoError(t, err)
	require.Equal(t, 55.7, result.Lat)
	require.Equal(t, 37.6, result.Lon)
	require.Equal(t, 1.0, result.Confidence)
	require.Equal(t, "google", result.Provider)

	require.Equal(t, "Лесное озеро, Россия", gotQuery.Get("address"))
	require.Equal(t, "ru", gotQuery.Get("language"))
	require.Equal(t, "key", gotQuery.Get("key"))
}

func TestGoogleUnknownLocationTypeGetsFloorScore(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(googleJSON(googleResult(55.7, 37.6, "SOMETHING_NEW"))))
	}))
	t.Cleanup(server.Close)

	provider := NewGoogle("key", "", "", server.Client())
	provider.endpoint = server.URL

	result, err := provider.Geocode(context.Background(), "pond")
	require.NoError(t, err)
	require.Equal(t, 0.1, result.Confidence)
}

func TestGoogleZeroResultsIsErrNoResult(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	}))
	t.Cleanup(server.Close)

	provider := NewGoogle("key", "", "", server.Client())
	provider.endpoint = server.URL

	_, err := provider.Geocode(context.Background(), "nowhere")
	require.ErrorIs(t, err, ErrNoResult)
}

func TestGoogleServerErrorIsTransientProviderError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	provider := NewGoogle("key", "", "", server.Client())
	provider.endpoint = server.URL

	_, err := provider.Geocode(context.Background(), "pond")
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	require.True(t, provErr.Transient())
	require.Equal(t, http.StatusBadGateway, provErr.StatusCode)
}

func yandexJSON(members ...string) string {
	out := `{"response":{"GeoObjectCollection":{"featureMember":[`
	for i, m := range members {
		if i > 0 {
			out += ","
		}
		out += m
	}
	return out + `]}}}`
}

func yandexMember(pos, precision string) string {
	return fmt.Sprintf(
		`{"GeoObject":{"metaDataProperty":{"GeocoderMetaData":{"precision":%q}},"Point":{"pos":%q}}}`,
		precision, pos,
	)
}

func TestYandexParsesLonLatOrder(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(yandexJSON(yandexMember("37.6 55.7", "exact"))))
	}))
	t.Cleanup(server.Close)

	provider := NewYandex("key", "Россия", "ru", server.Client())
	provider.endpoint = server.URL

	result, err := provider.Geocode(context.Background(), "Лесное озеро")
	require.NoError(t, err)
	require.Equal(t, 55.7, result.Lat)
	require.Equal(t, 37.6, result.Lon)
	require.Equal(t, 1.0, result.Confidence)
	require.Equal(t, "yandex", result.Provider)

	require.Equal(t, "Лесное озеро, Россия", gotQuery.Get("geocode"))
	require.Equal(t, "ru", gotQuery.Get("lang"))
	require.Equal(t, "json", gotQuery.Get("format"))
}

func TestYandexPicksHighestPrecision(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(yandexJSON(
			yandexMember("30.0 50.0", "street"),
			yandexMember("37.6 55.7", "number"),
		)))
	}))
	t.Cleanup(server.Close)

	provider := NewYandex("key", "", "", server.Client())
	provider.endpoint = server.URL

	result, err := provider.Geocode(context.Background(), "pond")
	require.NoError(t, err)
	require.Equal(t, 55.7, result.Lat)
	require.Equal(t, 0.9, result.Confidence)
}

func TestYandexEmptyCollectionIsErrNoResult(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(yandexJSON()))
	}))
	t.Cleanup(server.Close)

	provider := NewYandex("key", "", "", server.Client())
	provider.endpoint = server.URL

	_, err := provider.Geocode(context.Background(), "nowhere")
	require.ErrorIs(t, err, ErrNoResult)
}

func TestYandexMalformedPointIsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(yandexJSON(yandexMember("garbage", "exact"))))
	}))
	t.Cleanup(server.Close)

	provider := NewYandex("key", "", "", server.Client())
	provider.endpoint = server.URL

	_, err := provider.Geocode(context.Background(), "pond")
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	require.False(t, provErr.Transient())
}

func TestNewProviderSelection(t *testing.T) {
	t.Parallel()

	google, err := NewProvider(ProviderConfig{Provider: "google", GoogleAPIKey: "k"}, nil)
	require.NoError(t, err)
	require.Equal(t, "google", google.Name())

	yandex, err := NewProvider(ProviderConfig{Provider: "yandex", YandexAPIKey: "k"}, nil)
	require.NoError(t, err)
	require.Equal(t, "yandex", yandex.Name())

	_, err = NewProvider(ProviderConfig{Provider: "osm"}, nil)
	require.Error(t, err)
}
