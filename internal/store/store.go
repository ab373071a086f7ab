// Package store persists tessera's durable state: ingested activities, the
// visited-cell grid per resolution, compacted rectangle snapshots, the road
// tile cache, and tracked cities. SQLite is the default single-file backend;
// Postgres serves shared deployments, and RedisTileCache can carry the tile
// cache alone.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/loamworks/tessera/internal/activity"
	"github.com/loamworks/tessera/internal/city"
	"github.com/loamworks/tessera/internal/compact"
	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/roadnet"
)

// ErrNotFound reports a lookup for an entity that does not exist.
var ErrNotFound = eris.New("store: not found")

// ActivityFilter narrows ListActivities. Zero values mean no constraint;
// Limit defaults to 100.
type ActivityFilter struct {
	Sport  string
	Limit  int
	Offset int
}

// TileCacheStats summarizes the persistent road tile cache.
type TileCacheStats struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Store is the persistence interface consumed by ingest, rebuild, coverage,
// and the HTTP server.
//
// AddVisited unions cells into the stored set for one resolution and is
// idempotent; ReplaceVisited swaps the whole set during a rebuild. City road
// cells carry a three-way distinction the backends must preserve: never
// computed (NULL), computed empty ('[]'), and computed non-empty.
type Store interface {
	// Activities
	SaveActivity(ctx context.Context, a *activity.Activity) error
	ListActivities(ctx context.Context, filter ActivityFilter) ([]activity.Activity, error)
	CountActivities(ctx context.Context) (int, error)

	// Visited cells, per cell size
	AddVisited(ctx context.Context, cellSize float64, cells grid.CellSet) error
	Visited(ctx context.Context, cellSize float64) (grid.CellSet, error)
	ReplaceVisited(ctx context.Context, cellSize float64, cells grid.CellSet) error

	// Rectangle snapshots, per cell size
	SaveRects(ctx context.Context, cellSize float64, rects []compact.Rectangle) error
	Rects(ctx context.Context, cellSize float64) ([]compact.Rectangle, error)

	// Road tile cache; satisfies roadnet.TileStore
	GetTileCells(ctx context.Context, key roadnet.TileKey) (grid.CellSet, bool, error)
	PutTileCells(ctx context.Context, key roadnet.TileKey, cells grid.CellSet) error
	ClearTileCache(ctx context.Context, cellSize *float64) (int, error)
	TileCacheStats(ctx context.Context) (*TileCacheStats, error)

	// Cities
	SaveCity(ctx context.Context, c *city.City) error
	GetCity(ctx context.Context, id string) (*city.City, error)
	ListCities(ctx context.Context) ([]city.City, error)
	SetCityRoads(ctx context.Context, id string, roads grid.CellSet) error

	Migrate(ctx context.Context) error
	Close() error
}
