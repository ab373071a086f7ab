package boundary

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when the service has no match for a query.
var ErrNotFound = eris.New("boundary: place not found")

// nominatimResult is one result object from the search and reverse APIs.
type nominatimResult struct {
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	Address     nominatimAddress `json:"address"`
	GeoJSON     json.RawMessage  `json:"geojson"`
}

type nominatimAddress struct {
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	State       string `json:"state"`
	ISORegion   string `json:"ISO3166-2-lvl4"`
	CountryCode string `json:"country_code"`
}

// Search resolves a place name via the search API, keeping only the best
// match.
func (n *nominatim) Search(ctx context.Context, name, countryCode string) (*Place, error) {
	params := url.Values{
		"q":               {name},
		"format":          {"jsonv2"},
		"limit":           {"1"},
		"polygon_geojson": {"1"},
		"addressdetails":  {"1"},
	}
	if countryCode != "" {
		params.Set("countrycodes", strings.ToLower(countryCode))
	}

	var results []nominatimResult
	if err := n.get(ctx, "/search", params, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "%q", name)
	}
	return toPlace(&results[0])
}

// Reverse resolves a coordinate via the reverse API at city zoom.
func (n *nominatim) Reverse(ctx context.Context, lat, lng float64) (*Place, error) {
	params := url.Values{
		"lat":             {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":             {strconv.FormatFloat(lng, 'f', -1, 64)},
		"format":          {"jsonv2"},
		"zoom":            {"10"},
		"polygon_geojson": {"1"},
		"addressdetails":  {"1"},
	}

	var result nominatimResult
	if err := n.get(ctx, "/reverse", params, &result); err != nil {
		return nil, err
	}
	// A miss answers 200 with an error object instead of a result.
	if result.Lat == "" {
		return nil, eris.Wrapf(ErrNotFound, "%.5f,%.5f", lat, lng)
	}
	return toPlace(&result)
}

func (n *nominatim) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "boundary: rate limit")
	}

	reqURL := n.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "boundary: build request")
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "boundary: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("boundary: service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "boundary: read body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "boundary: parse response")
	}
	return nil
}

func toPlace(r *nominatimResult) (*Place, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: parse latitude")
	}
	lng, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: parse longitude")
	}

	name := r.Name
	if name == "" {
		name = firstOf(r.Address.City, r.Address.Town, r.Address.Village)
	}
	if name == "" && r.DisplayName != "" {
		name = strings.TrimSpace(strings.SplitN(r.DisplayName, ",", 2)[0])
	}

	p := &Place{
		Name:    name,
		Country: strings.ToUpper(r.Address.CountryCode),
		Region:  regionCode(r.Address),
		Lat:     lat,
		Lng:     lng,
	}

	if len(r.GeoJSON) > 0 {
		g, err := geojson.UnmarshalGeometry(r.GeoJSON)
		if err != nil {
			return nil, eris.Wrap(err, "boundary: parse geometry")
		}
		// Point and linestring matches carry no usable boundary.
		switch geom := g.Geometry().(type) {
		case orb.MultiPolygon:
			p.Boundary = geom
		case orb.Polygon:
			p.Boundary = orb.MultiPolygon{geom}
		}
	}
	return p, nil
}

// regionCode prefers the ISO 3166-2 subdivision suffix ("US-WA" becomes
// "WA"), falling back to the spelled-out state name.
func regionCode(a nominatimAddress) string {
	if i := strings.IndexByte(a.ISORegion, '-'); i >= 0 {
		return a.ISORegion[i+1:]
	}
	return a.State
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
