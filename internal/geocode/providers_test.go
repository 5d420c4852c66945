package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCensusProvider_GeocodeParsesMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"addressMatches":[{"matchedAddress":"123 MAIN ST, ANYTOWN, CA, 94105","coordinates":{"x":-122.4,"y":37.7}}]}}`))
	}))
	defer srv.Close()

	p := NewCensusProvider(srv.URL)
	res, err := p.Geocode(context.Background(), "123 Main St, Anytown, CA 94105")
	require.NoError(t, err)
	require.Equal(t, 37.7, res.Latitude)
	require.Equal(t, -122.4, res.Longitude)
	require.Equal(t, "census", res.Source)
}

func TestCensusProvider_NoMatchesIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"addressMatches":[]}}`))
	}))
	defer srv.Close()

	p := NewCensusProvider(srv.URL)
	_, err := p.Geocode(context.Background(), "nowhere at all")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCensusProvider_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewCensusProvider(srv.URL)
	_, err := p.Geocode(context.Background(), "123 Main St")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestNominatimProvider_GeocodeParsesFirstResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"lat":"37.7917","lon":"-122.3978","display_name":"250 Market St, San Francisco, CA"}]`))
	}))
	defer srv.Close()

	p := NewNominatimProvider(srv.URL, "")
	res, err := p.Geocode(context.Background(), "250 Market St, San Francisco, CA")
	require.NoError(t, err)
	require.InDelta(t, 37.7917, res.Latitude, 0.0001)
	require.InDelta(t, -122.3978, res.Longitude, 0.0001)
}

func TestNominatimProvider_ReverseParsesPlace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"lat":"37.7917","lon":"-122.3978","display_name":"250 Market St, San Francisco, CA"}`))
	}))
	defer srv.Close()

	p := NewNominatimProvider(srv.URL, "")
	res, err := p.Reverse(context.Background(), 37.7917, -122.3978)
	require.NoError(t, err)
	require.Equal(t, "250 Market St, San Francisco, CA", res.Address)
}

func TestNominatimProvider_RateLimitedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewNominatimProvider(srv.URL, "")
	_, err := p.Geocode(context.Background(), "anywhere")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestCensusProvider_ReverseAlwaysNotFound(t *testing.T) {
	p := NewCensusProvider("")
	_, err := p.Reverse(context.Background(), 37.7, -122.4)
	require.ErrorIs(t, err, ErrNotFound)
}
