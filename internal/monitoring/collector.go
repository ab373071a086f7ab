// Package monitoring assembles point-in-time status snapshots for the status
// command and the HTTP API.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/loamworks/tessera/internal/roadnet"
	"github.com/loamworks/tessera/internal/store"
)

// Snapshot holds a point-in-time view of the stored coverage state.
type Snapshot struct {
	Activities int `json:"activities"`

	// Grid state at the configured cell size.
	CellSize     float64 `json:"cell_size"`
	VisitedCells int     `json:"visited_cells"`
	Rectangles   int     `json:"rectangles"`

	// City tracking. CitiesWithRoads counts cities whose road cells have
	// been computed, including those that came back empty.
	Cities          int `json:"cities"`
	CitiesWithRoads int `json:"cities_with_roads"`

	TileCache store.TileCacheStats `json:"tile_cache"`

	// Roadnet client counters; nil when no road source is configured.
	Roadnet *roadnet.Stats `json:"roadnet,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// StatsProvider is the road client surface the collector reads.
type StatsProvider interface {
	Stats() roadnet.Stats
}

// Collector gathers snapshots from the store and the road client.
type Collector struct {
	store  store.Store
	client StatsProvider
}

// NewCollector creates a new snapshot collector. client may be nil.
func NewCollector(st store.Store, client StatsProvider) *Collector {
	return &Collector{store: st, client: client}
}

// Collect gathers a snapshot of the stored state at one cell size.
func (c *Collector) Collect(ctx context.Context, cellSize float64) (*Snapshot, error) {
	snap := &Snapshot{
		CellSize:    cellSize,
		CollectedAt: time.Now().UTC(),
	}

	activities, err := c.store.CountActivities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count activities")
	}
	snap.Activities = activities

	visited, err := c.store.Visited(ctx, cellSize)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load visited cells")
	}
	snap.VisitedCells = visited.Len()

	rects, err := c.store.Rects(ctx, cellSize)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load rectangles")
	}
	snap.Rectangles = len(rects)

	cities, err := c.store.ListCities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list cities")
	}
	snap.Cities = len(cities)
	for _, ct := range cities {
		if ct.RoadsComputed {
			snap.CitiesWithRoads++
		}
	}

	tileStats, err := c.store.TileCacheStats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: tile cache stats")
	}
	snap.TileCache = *tileStats

	if c.client != nil {
		stats := c.client.Stats()
		snap.Roadnet = &stats
	}

	return snap, nil
}
