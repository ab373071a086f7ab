// Package roadnet resolves the road network inside a bounding box into grid
// cells. Road geometry comes from remote vector-tile archives; rasterized
// tiles are cached by (z, x, y, cellSize) and never refetched, remote access
// runs through a bounded worker pool, and a latching circuit breaker stops
// fetch storms against a broken source.
package roadnet

import (
	"context"
	"strconv"

	"github.com/paulmach/orb/maptile"

	"github.com/loamworks/tessera/internal/grid"
)

// BBox is a geographic bounding box in WGS84 degrees.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Valid reports whether the box is finite and correctly ordered.
func (b BBox) Valid() bool {
	min := grid.GeoPoint{Lat: b.MinLat, Lng: b.MinLng}
	max := grid.GeoPoint{Lat: b.MaxLat, Lng: b.MaxLng}
	return min.IsFinite() && max.IsFinite() &&
		b.MinLng <= b.MaxLng && b.MinLat <= b.MaxLat
}

// TileKey identifies one cached tile rasterization. Cell size is part of the
// key because the same tile rasterizes into different cells per resolution.
type TileKey struct {
	Z        maptile.Zoom
	X, Y     uint32
	CellSize float64
}

func keyOf(t maptile.Tile, cellSize float64) TileKey {
	return TileKey{Z: t.Z, X: t.X, Y: t.Y, CellSize: cellSize}
}

// String renders the canonical "z/x/y@cellSize" form used for coalescing and
// external cache keys.
func (k TileKey) String() string {
	return strconv.FormatUint(uint64(k.Z), 10) + "/" +
		strconv.FormatUint(uint64(k.X), 10) + "/" +
		strconv.FormatUint(uint64(k.Y), 10) + "@" +
		strconv.FormatFloat(k.CellSize, 'g', -1, 64)
}

// Tile returns the maptile this key covers.
func (k TileKey) Tile() maptile.Tile {
	return maptile.Tile{X: k.X, Y: k.Y, Z: k.Z}
}

// TileStore persists rasterized tiles across runs. Implementations must be
// safe for concurrent use. The road cache only ever appends; eviction is the
// store's concern.
type TileStore interface {
	GetTileCells(ctx context.Context, key TileKey) (grid.CellSet, bool, error)
	PutTileCells(ctx context.Context, key TileKey, cells grid.CellSet) error
}

// Stats is a point-in-time snapshot of cache and fetch counters.
type Stats struct {
	HotHits             uint64 `json:"hot_hits"`
	StoreHits           uint64 `json:"store_hits"`
	Misses              uint64 `json:"misses"`
	Fetches             uint64 `json:"fetches"`
	FetchErrors         uint64 `json:"fetch_errors"`
	Skipped             uint64 `json:"skipped"`
	BreakerState        string `json:"breaker_state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Source              string `json:"source"`
}
