package roadnet

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/require"

	"github.com/loamworks/tessera/internal/grid"
)

// memStore is a map-backed TileStore for tests.
type memStore struct {
	mu    sync.Mutex
	tiles map[TileKey]grid.CellSet
	puts  int
	fail  error
}

func newMemStore() *memStore {
	return &memStore{tiles: make(map[TileKey]grid.CellSet)}
}

func (s *memStore) GetTileCells(_ context.Context, key TileKey) (grid.CellSet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, false, s.fail
	}
	cells, ok := s.tiles[key]
	return cells, ok, nil
}

func (s *memStore) PutTileCells(_ context.Context, key TileKey, cells grid.CellSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.tiles[key] = cells
	return nil
}

func (s *memStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tiles)
}

// tileServer serves canned vector tiles at /{z}/{x}/{y}.mvt and counts hits.
type tileServer struct {
	srv   *httptest.Server
	hits  atomic.Int64
	failN atomic.Int64

	mu    sync.Mutex
	tiles map[string][]byte
	delay time.Duration
}

func newTileServer(t *testing.T) *tileServer {
	ts := &tileServer{tiles: make(map[string][]byte)}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)
		if ts.failN.Add(-1) >= 0 {
			http.Error(w, "tile backend down", http.StatusInternalServerError)
			return
		}
		ts.mu.Lock()
		delay := ts.delay
		data, ok := ts.tiles[strings.Trim(strings.TrimSuffix(r.URL.Path, ".mvt"), "/")]
		ts.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *tileServer) put(tile maptile.Tile, data []byte) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tiles[fmt.Sprintf("%d/%d/%d", tile.Z, tile.X, tile.Y)] = data
}

func (ts *tileServer) setDelay(d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.delay = d
}

// failNext makes the next n requests return 500.
func (ts *tileServer) failNext(n int64) {
	ts.failN.Store(n)
}

func (ts *tileServer) source() Source {
	return Source{Name: "test", URL: ts.srv.URL + "/{z}/{x}/{y}.mvt", MinZoom: 14, MaxZoom: 14}
}

// planarGeo places a geographic point at exact planar coordinates so cell
// assignment stays deterministic under tile coordinate quantization.
func planarGeo(x, y float64) grid.GeoPoint {
	return grid.ToGeo(grid.PlanarPoint{X: x, Y: y})
}

func planarBBox(minX, minY, maxX, maxY float64) BBox {
	min := planarGeo(minX, minY)
	max := planarGeo(maxX, maxY)
	return BBox{MinLng: min.Lng, MinLat: min.Lat, MaxLng: max.Lng, MaxLat: max.Lat}
}

// planarLine builds a lng/lat line through the given planar coordinates.
func planarLine(pts ...grid.PlanarPoint) orb.LineString {
	line := make(orb.LineString, len(pts))
	for i, p := range pts {
		line[i] = grid.ToGeo(p).Orb()
	}
	return line
}

// encodeTile builds a vector tile with one layer holding the given geometries.
func encodeTile(t *testing.T, tile maptile.Tile, layerName string, geoms ...orb.Geometry) []byte {
	t.Helper()
	data, err := mvt.Marshal(mvt.Layers{encodeLayer(tile, layerName, geoms...)})
	require.NoError(t, err)
	return data
}

func encodeLayer(tile maptile.Tile, name string, geoms ...orb.Geometry) *mvt.Layer {
	fc := geojson.NewFeatureCollection()
	for _, g := range geoms {
		fc.Append(geojson.NewFeature(g))
	}
	layer := mvt.NewLayer(name, fc)
	layer.ProjectToTile(tile)
	return layer
}

// rowCells returns the cells (x0..x1, y) as a set.
func rowCells(x0, x1, y int) grid.CellSet {
	cells := grid.NewCellSet()
	for x := x0; x <= x1; x++ {
		cells.Add(grid.CellCoord{X: x, Y: y})
	}
	return cells
}
