package roadnet

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb/maptile"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/resilience"
)

const (
	// DefaultWorkers bounds concurrent tile fetches for one query.
	DefaultWorkers = 32
	// DefaultHotCacheSize is the in-process LRU size in tiles.
	DefaultHotCacheSize = 1024
	// DefaultFetchTimeout applies per tile request.
	DefaultFetchTimeout = 15 * time.Second

	// maxTileBytes caps a single tile read; anything larger is not a
	// plausible vector tile.
	maxTileBytes = 32 << 20
)

// Client answers road-cell queries against one configured tile source.
type Client struct {
	store     TileStore
	http      *http.Client
	log       *zap.Logger
	breaker   *resilience.Breaker
	flight    singleflight.Group
	hot       *lru.Cache[TileKey, grid.CellSet]
	workers   int
	hotSize   int
	trip      int
	userAgent string

	mu     sync.RWMutex
	source Source

	hotHits     atomic.Uint64
	storeHits   atomic.Uint64
	misses      atomic.Uint64
	fetches     atomic.Uint64
	fetchErrors atomic.Uint64
	skipped     atomic.Uint64
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client for tile requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithWorkers overrides the fetch concurrency bound.
func WithWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithHotCacheSize overrides the in-process LRU size.
func WithHotCacheSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.hotSize = n
		}
	}
}

// WithFailureThreshold overrides how many consecutive fetch failures open
// the breaker.
func WithFailureThreshold(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.trip = n
		}
	}
}

// WithUserAgent sets the User-Agent header on tile requests. Public tile
// services require an identifying agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a road network client for the given source and tile store.
func New(source Source, store TileStore, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, eris.New("roadnet: tile store is required")
	}
	if err := source.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		store:   store,
		source:  source,
		http:    &http.Client{Timeout: DefaultFetchTimeout},
		log:     zap.L().Named("roadnet"),
		workers: DefaultWorkers,
		hotSize: DefaultHotCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	hot, err := lru.New[TileKey, grid.CellSet](c.hotSize)
	if err != nil {
		return nil, eris.Wrap(err, "roadnet: hot cache")
	}
	c.hot = hot

	bcfg := resilience.DefaultConfig()
	if c.trip > 0 {
		bcfg = resilience.FromBreakerConfig(c.trip)
	}
	bcfg.OnStateChange = func(from, to resilience.CircuitState) {
		c.log.Warn("tile source breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	c.breaker = resilience.NewBreaker(bcfg)

	return c, nil
}

// Source returns the currently configured tile source.
func (c *Client) Source() Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// SetSource reconfigures the tile source and resets the breaker; this is the
// only path that closes an open breaker. Cached tiles stay valid because the
// cache key is source independent.
func (c *Client) SetSource(src Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()
	c.breaker.Reset()
	c.log.Info("tile source configured",
		zap.String("source", src.Name),
		zap.String("url", src.URL))
	return nil
}

// Stats returns a snapshot of the cache and breaker counters.
func (c *Client) Stats() Stats {
	failures, state := c.breaker.Counters()
	return Stats{
		HotHits:             c.hotHits.Load(),
		StoreHits:           c.storeHits.Load(),
		Misses:              c.misses.Load(),
		Fetches:             c.fetches.Load(),
		FetchErrors:         c.fetchErrors.Load(),
		Skipped:             c.skipped.Load(),
		BreakerState:        state.String(),
		ConsecutiveFailures: failures,
		Source:              c.Source().Name,
	}
}

// GetRoadCells returns every road cell whose center lies inside bbox.
// Per-tile failures contribute no cells but never abort the query; only an
// invalid argument or a canceled context does.
func (c *Client) GetRoadCells(ctx context.Context, bbox BBox, cellSize float64, zoom int) (grid.CellSet, error) {
	if cellSize <= 0 {
		return nil, eris.New("roadnet: cell size must be positive")
	}
	if !bbox.Valid() {
		return nil, eris.Errorf("roadnet: invalid bbox %+v", bbox)
	}

	z := maptile.Zoom(c.Source().ClampZoom(zoom))
	tiles := coverTiles(bbox, z)

	var (
		unionMu sync.Mutex
		all     = grid.NewCellSet()
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, tile := range tiles {
		tile := tile
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cells := c.tileCells(gctx, tile, cellSize)
			if cells.Len() > 0 {
				unionMu.Lock()
				all.Union(cells)
				unionMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "roadnet: query aborted")
	}

	return filterBBox(all, bbox, cellSize), nil
}

// tileCells resolves one tile through hot cache, store, then remote fetch.
// Concurrent requests for the same key share a single resolution. The
// returned set must be treated as read-only; it may be the cached instance.
func (c *Client) tileCells(ctx context.Context, tile maptile.Tile, cellSize float64) grid.CellSet {
	key := keyOf(tile, cellSize)

	if cells, ok := c.hot.Get(key); ok {
		c.hotHits.Add(1)
		return cells
	}

	v, _, _ := c.flight.Do(key.String(), func() (any, error) {
		if cells, ok := c.hot.Get(key); ok {
			c.hotHits.Add(1)
			return cells, nil
		}

		cells, found, err := c.store.GetTileCells(ctx, key)
		if err != nil {
			// A broken cache read degrades to a miss.
			c.log.Warn("tile cache read failed",
				zap.String("tile", key.String()), zap.Error(err))
		} else if found {
			c.storeHits.Add(1)
			c.hot.Add(key, cells)
			return cells, nil
		}
		c.misses.Add(1)

		fetched, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (grid.CellSet, error) {
			return c.fetchTile(ctx, tile, cellSize)
		})
		switch {
		case err == nil:
			c.fetches.Add(1)
			if putErr := c.store.PutTileCells(ctx, key, fetched); putErr != nil {
				c.log.Warn("tile cache write failed",
					zap.String("tile", key.String()), zap.Error(putErr))
			}
			c.hot.Add(key, fetched)
			return fetched, nil
		case eris.Is(err, resilience.ErrCircuitOpen):
			// Skipped tiles are not persisted; they refetch after the
			// source is reconfigured.
			c.skipped.Add(1)
			return grid.NewCellSet(), nil
		default:
			c.fetchErrors.Add(1)
			c.log.Warn("tile fetch failed",
				zap.String("tile", key.String()), zap.Error(err))
			return grid.NewCellSet(), nil
		}
	})
	return v.(grid.CellSet)
}

// fetchTile pulls and rasterizes one remote tile. A 404 or 204 is a
// successful empty tile, cacheable like any other result.
func (c *Client) fetchTile(ctx context.Context, tile maptile.Tile, cellSize float64) (grid.CellSet, error) {
	url := c.Source().TileURL(tile)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "roadnet: build request %s", url)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "roadnet: fetch %s", url)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return grid.NewCellSet(), nil
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("roadnet: fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "roadnet: read tile %s", url)
	}

	return decodeTile(data, tile, cellSize)
}
