package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-cleanhttp"
)

// CensusProvider geocodes against the US Census Bureau's public, keyless
// geocoding API — the first provider in the fallback chain for US
// addresses, since it requires no account and has no meaningful rate
// limit of its own (the Set's rate limiter and breaker still apply).
type CensusProvider struct {
	httpClient *http.Client
	baseURL    string
}

// NewCensusProvider returns a CensusProvider. baseURL defaults to the
// public Census geocoder endpoint if empty, letting tests point it at a
// local fixture server instead.
func NewCensusProvider(baseURL string) *CensusProvider {
	if baseURL == "" {
		baseURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	}
	return &CensusProvider{httpClient: cleanhttp.DefaultPooledClient(), baseURL: baseURL}
}

func (p *CensusProvider) Name() string { return "census" }

type censusResponse struct {
	Result struct {
		AddressMatches []struct {
			MatchedAddress string `json:"matchedAddress"`
			Coordinates    struct {
				X float64 `json:"x"` // longitude
				Y float64 `json:"y"` // latitude
			} `json:"coordinates"`
		} `json:"addressMatches"`
	} `json:"result"`
}

func (p *CensusProvider) Geocode(ctx context.Context, address string) (Result, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("benchmark", "Public_AR_Current")
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("census: build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: census: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("%w: census: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("census: unexpected status %d", resp.StatusCode)
	}

	var out censusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("census: decode response: %w", err)
	}
	if len(out.Result.AddressMatches) == 0 {
		return Result{}, ErrNotFound
	}

	m := out.Result.AddressMatches[0]
	return Result{
		Latitude:  m.Coordinates.Y,
		Longitude: m.Coordinates.X,
		Source:    p.Name(),
		Address:   m.MatchedAddress,
	}, nil
}

// Reverse is not offered by the onelineaddress endpoint this provider
// wraps; it always advances the fallback chain to the next provider.
func (p *CensusProvider) Reverse(ctx context.Context, lat, lon float64) (Result, error) {
	return Result{}, ErrNotFound
}

// NominatimProvider geocodes against a Nominatim (OpenStreetMap) instance.
// Used as the fallback when Census has no match, and for reverse geocoding
// which Census does not support. Nominatim's usage policy requires a
// descriptive User-Agent, which is set on every request.
type NominatimProvider struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewNominatimProvider returns a NominatimProvider. baseURL defaults to the
// public Nominatim instance if empty.
func NewNominatimProvider(baseURL, userAgent string) *NominatimProvider {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	if userAgent == "" {
		userAgent = "pantry-pirate-radio-pipeline/1.0"
	}
	return &NominatimProvider{httpClient: cleanhttp.DefaultPooledClient(), baseURL: baseURL, userAgent: userAgent}
}

func (p *NominatimProvider) Name() string { return "nominatim" }

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (p *NominatimProvider) Geocode(ctx context.Context, address string) (Result, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")

	var places []nominatimPlace
	if err := p.get(ctx, "/search?"+q.Encode(), &places); err != nil {
		return Result{}, err
	}
	if len(places) == 0 {
		return Result{}, ErrNotFound
	}
	return placeToResult(places[0], p.Name())
}

func (p *NominatimProvider) Reverse(ctx context.Context, lat, lon float64) (Result, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("format", "jsonv2")

	var place nominatimPlace
	if err := p.get(ctx, "/reverse?"+q.Encode(), &place); err != nil {
		return Result{}, err
	}
	if place.DisplayName == "" {
		return Result{}, ErrNotFound
	}
	return placeToResult(place, p.Name())
}

func (p *NominatimProvider) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("nominatim: build request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: nominatim: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: nominatim: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("nominatim: decode response: %w", err)
	}
	return nil
}

func placeToResult(place nominatimPlace, source string) (Result, error) {
	lat, err := strconv.ParseFloat(place.Lat, 64)
	if err != nil {
		return Result{}, fmt.Errorf("nominatim: parse lat: %w", err)
	}
	lon, err := strconv.ParseFloat(place.Lon, 64)
	if err != nil {
		return Result{}, fmt.Errorf("nominatim: parse lon: %w", err)
	}
	return Result{Latitude: lat, Longitude: lon, Source: source, Address: place.DisplayName}, nil
}
