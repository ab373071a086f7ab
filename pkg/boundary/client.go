// Package boundary resolves city names and coordinates to administrative
// boundaries via a Nominatim-style geocoding service.
package boundary

import (
	"context"
	"net/http"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/time/rate"
)

// Client looks up place boundaries by name or coordinate.
type Client interface {
	// Search resolves a place name to its boundary. countryCode narrows the
	// search (ISO 3166-1 alpha-2, e.g. "us") and may be empty.
	Search(ctx context.Context, name, countryCode string) (*Place, error)

	// Reverse resolves a coordinate to the place containing it.
	Reverse(ctx context.Context, lat, lng float64) (*Place, error)
}

// Place is a resolved administrative place. Boundary is nil when the
// provider returns no polygon for the match.
type Place struct {
	Name     string
	Country  string // ISO 3166-1 alpha-2, upper case
	Region   string // state or province code when known, e.g. "WA"
	Lat      float64
	Lng      float64
	Boundary orb.MultiPolygon
}

// Option configures the boundary client.
type Option func(*nominatim)

// WithBaseURL points the client at a different Nominatim endpoint.
func WithBaseURL(baseURL string) Option {
	return func(n *nominatim) {
		n.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *nominatim) {
		n.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit. Public Nominatim allows
// at most one request per second.
func WithRateLimit(rps float64) Option {
	return func(n *nominatim) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUserAgent sets the User-Agent header. Public Nominatim rejects
// requests without an identifying agent.
func WithUserAgent(ua string) Option {
	return func(n *nominatim) {
		n.userAgent = ua
	}
}

type nominatim struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// NewClient creates a boundary Client with the given options.
func NewClient(opts ...Option) Client {
	n := &nominatim{
		baseURL:    "https://nominatim.openstreetmap.org",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(1, 1),
		userAgent:  "tessera/1.0 (+https://github.com/loamworks/tessera)",
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}
