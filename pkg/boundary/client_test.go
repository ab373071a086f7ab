package boundary

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchResponse = `[{
	"name": "Seattle",
	"display_name": "Seattle, King County, Washington, United States",
	"lat": "47.6038321",
	"lon": "-122.330062",
	"address": {
		"city": "Seattle",
		"state": "Washington",
		"ISO3166-2-lvl4": "US-WA",
		"country": "United States",
		"country_code": "us"
	},
	"geojson": {
		"type": "Polygon",
		"coordinates": [[
			[-122.46, 47.48], [-122.22, 47.48], [-122.22, 47.73],
			[-122.46, 47.73], [-122.46, 47.48]
		]]
	}
}]`

const reverseResponse = `{
	"name": "Seattle",
	"display_name": "Seattle, King County, Washington, United States",
	"lat": "47.6038321",
	"lon": "-122.330062",
	"address": {
		"city": "Seattle",
		"state": "Washington",
		"ISO3166-2-lvl4": "US-WA",
		"country_code": "us"
	},
	"geojson": {
		"type": "MultiPolygon",
		"coordinates": [[[
			[-122.46, 47.48], [-122.22, 47.48], [-122.22, 47.73],
			[-122.46, 47.73], [-122.46, 47.48]
		]]]
	}
}`

func TestSearch_Success(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, searchResponse)
	}))
	defer srv.Close()

	c := NewClient(
		WithBaseURL(srv.URL),
		WithRateLimit(100),
		WithUserAgent("tessera-test/1.0"),
	)

	place, err := c.Search(context.Background(), "Seattle", "US")
	require.NoError(t, err)

	assert.Equal(t, "Seattle", place.Name)
	assert.Equal(t, "US", place.Country)
	assert.Equal(t, "WA", place.Region)
	assert.InDelta(t, 47.6038, place.Lat, 0.001)
	assert.InDelta(t, -122.3300, place.Lng, 0.001)
	require.Len(t, place.Boundary, 1, "polygon result promoted to multipolygon")
	assert.Len(t, place.Boundary[0][0], 5)

	assert.Contains(t, gotQuery, "q=Seattle")
	assert.Contains(t, gotQuery, "countrycodes=us")
	assert.Contains(t, gotQuery, "polygon_geojson=1")
	assert.Equal(t, "tessera-test/1.0", gotUA)
}

func TestSearch_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(100))

	_, err := c.Search(context.Background(), "Nowhereville", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(100))

	_, err := c.Search(context.Background(), "Seattle", "US")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestReverse_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/reverse", r.URL.Path)
		assert.Contains(t, r.URL.RawQuery, "zoom=10")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reverseResponse)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(100))

	place, err := c.Reverse(context.Background(), 47.6038, -122.3300)
	require.NoError(t, err)

	assert.Equal(t, "Seattle", place.Name)
	assert.Equal(t, "US", place.Country)
	assert.Equal(t, "WA", place.Region)
	require.Len(t, place.Boundary, 1)
}

func TestReverse_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"error": "Unable to geocode"}`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(100))

	_, err := c.Reverse(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearch_PointResultHasNoBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{
			"name": "Some Corner",
			"lat": "47.0", "lon": "-122.0",
			"address": {"country_code": "us"},
			"geojson": {"type": "Point", "coordinates": [-122.0, 47.0]}
		}]`)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(100))

	place, err := c.Search(context.Background(), "Some Corner", "")
	require.NoError(t, err)
	assert.Nil(t, place.Boundary)
	assert.Equal(t, "Some Corner", place.Name)
}

func TestRegionCode(t *testing.T) {
	assert.Equal(t, "WA", regionCode(nominatimAddress{ISORegion: "US-WA", State: "Washington"}))
	assert.Equal(t, "Washington", regionCode(nominatimAddress{State: "Washington"}))
	assert.Equal(t, "", regionCode(nominatimAddress{}))
}

func TestRateLimiterHonored(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, searchResponse)
	}))
	defer srv.Close()

	// One token, no refill within the test window: the second call must
	// block until the context expires.
	c := NewClient(WithBaseURL(srv.URL), WithRateLimit(0.001))

	_, err := c.Search(context.Background(), "Seattle", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Search(ctx, "Tacoma", "")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
