package roadnet

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loamworks/tessera/internal/grid"
)

func TestNewValidation(t *testing.T) {
	src := Source{Name: "osm", URL: "https://tiles.example.com/{z}/{x}/{y}.pbf"}

	_, err := New(src, nil)
	require.Error(t, err)

	_, err = New(Source{Name: "osm", URL: "https://tiles.example.com/broken"}, newMemStore())
	require.Error(t, err)

	client, err := New(src, newMemStore(), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.Equal(t, "osm", client.Source().Name)
	assert.Equal(t, "closed", client.Stats().BreakerState)
}

func TestGetRoadCellsFetchesAndFilters(t *testing.T) {
	ts := newTileServer(t)
	tile := maptile.At(planarGeo(60, 15).Orb(), 14)
	ts.put(tile, encodeTile(t, tile, "transportation",
		planarLine(grid.PlanarPoint{X: 12.5, Y: 12.5}, grid.PlanarPoint{X: 112.5, Y: 12.5}),
		planarLine(grid.PlanarPoint{X: 512.5, Y: 12.5}, grid.PlanarPoint{X: 612.5, Y: 12.5})))

	client, err := New(ts.source(), newMemStore(), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	// The second road sits in the same tile but outside the bbox.
	bbox := planarBBox(5, 5, 115, 30)
	cells, err := client.GetRoadCells(context.Background(), bbox, 25, 14)
	require.NoError(t, err)
	assert.Equal(t, rowCells(0, 4, 0), cells)

	// A zoom outside the source range clamps onto it and resolves to the
	// same cached tile.
	again, err := client.GetRoadCells(context.Background(), bbox, 25, 9)
	require.NoError(t, err)
	assert.Equal(t, rowCells(0, 4, 0), again)
	assert.EqualValues(t, 1, ts.hits.Load())
}

func TestGetRoadCellsCacheLayers(t *testing.T) {
	ts := newTileServer(t)
	tile := maptile.At(planarGeo(60, 15).Orb(), 14)
	ts.put(tile, encodeTile(t, tile, "roads",
		planarLine(grid.PlanarPoint{X: 12.5, Y: 12.5}, grid.PlanarPoint{X: 112.5, Y: 12.5})))

	store := newMemStore()
	bbox := planarBBox(5, 5, 115, 30)
	want := rowCells(0, 4, 0)

	first, err := New(ts.source(), store, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		cells, err := first.GetRoadCells(context.Background(), bbox, 25, 14)
		require.NoError(t, err)
		assert.Equal(t, want, cells)
	}
	st := first.Stats()
	assert.EqualValues(t, 1, st.Misses)
	assert.EqualValues(t, 1, st.Fetches)
	assert.EqualValues(t, 1, st.HotHits)
	assert.EqualValues(t, 1, ts.hits.Load())
	assert.Equal(t, 1, store.size())

	// A fresh client over the same store never touches the network.
	second, err := New(ts.source(), store, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	cells, err := second.GetRoadCells(context.Background(), bbox, 25, 14)
	require.NoError(t, err)
	assert.Equal(t, want, cells)
	assert.EqualValues(t, 1, second.Stats().StoreHits)
	assert.EqualValues(t, 0, second.Stats().Fetches)
	assert.EqualValues(t, 1, ts.hits.Load())
}

func TestGetRoadCellsRejectsBadArgs(t *testing.T) {
	client, err := New(
		Source{Name: "osm", URL: "https://tiles.example.com/{z}/{x}/{y}.pbf"},
		newMemStore(), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.GetRoadCells(ctx, planarBBox(0, 0, 100, 100), 0, 14)
	assert.Error(t, err)

	_, err = client.GetRoadCells(ctx, BBox{MinLng: 10, MinLat: 0, MaxLng: -10, MaxLat: 1}, 25, 14)
	assert.Error(t, err)

	_, err = client.GetRoadCells(ctx, BBox{MinLng: math.NaN(), MinLat: 0, MaxLng: 1, MaxLat: 1}, 25, 14)
	assert.Error(t, err)
}

func TestGetRoadCellsCanceledContext(t *testing.T) {
	ts := newTileServer(t)
	client, err := New(ts.source(), newMemStore(), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.GetRoadCells(ctx, planarBBox(5, 5, 115, 30), 25, 14)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, ts.hits.Load())
}

func TestBreakerOpensAndSourceResetRecovers(t *testing.T) {
	ts := newTileServer(t)
	ts.failNext(1 << 30)

	store := newMemStore()
	client, err := New(ts.source(), store,
		WithLogger(zap.NewNop()), WithWorkers(1), WithFailureThreshold(2))
	require.NoError(t, err)

	ctx := context.Background()
	bbox := planarBBox(-10, -10, 120, 30) // spans four tiles at z14

	cells, err := client.GetRoadCells(ctx, bbox, 25, 14)
	require.NoError(t, err, "per-tile failures must not fail the query")
	assert.Zero(t, cells.Len())

	st := client.Stats()
	assert.Equal(t, "open", st.BreakerState)
	assert.EqualValues(t, 2, st.FetchErrors)
	assert.EqualValues(t, 2, st.Skipped)
	assert.EqualValues(t, 2, ts.hits.Load())
	assert.Equal(t, 0, store.size(), "failed tiles are never cached")

	// An open breaker short-circuits every fetch.
	_, err = client.GetRoadCells(ctx, bbox, 25, 14)
	require.NoError(t, err)
	assert.EqualValues(t, 2, ts.hits.Load())
	assert.EqualValues(t, 6, client.Stats().Skipped)

	// Reconfiguring the source is the only way back to closed.
	ts.failNext(0)
	require.NoError(t, client.SetSource(ts.source()))
	assert.Equal(t, "closed", client.Stats().BreakerState)

	_, err = client.GetRoadCells(ctx, bbox, 25, 14)
	require.NoError(t, err)
	st = client.Stats()
	assert.Equal(t, "closed", st.BreakerState)
	assert.EqualValues(t, 4, st.Fetches)
	assert.EqualValues(t, 6, ts.hits.Load())
	assert.Equal(t, 4, store.size())
}

func TestFetchSuccessResetsFailureCount(t *testing.T) {
	ts := newTileServer(t)
	ts.failNext(3)

	store := newMemStore()
	client, err := New(ts.source(), store, WithLogger(zap.NewNop()), WithWorkers(1))
	require.NoError(t, err)

	ctx := context.Background()
	bbox := planarBBox(-10, -10, 120, 30)

	// Three failures then an empty success; the default threshold of five is
	// never reached and the success clears the streak.
	_, err = client.GetRoadCells(ctx, bbox, 25, 14)
	require.NoError(t, err)

	st := client.Stats()
	assert.Equal(t, "closed", st.BreakerState)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.EqualValues(t, 3, st.FetchErrors)
	assert.EqualValues(t, 1, st.Fetches)
	assert.Equal(t, 1, store.size(), "only the successful empty tile is cached")

	// Failed tiles fetch again on the next query.
	_, err = client.GetRoadCells(ctx, bbox, 25, 14)
	require.NoError(t, err)
	assert.EqualValues(t, 7, ts.hits.Load())
	assert.Equal(t, 4, store.size())
	assert.EqualValues(t, 4, client.Stats().Fetches)
}

func TestEmptyTileResponsesAreCached(t *testing.T) {
	ts := newTileServer(t) // serves 404 for every tile

	store := newMemStore()
	client, err := New(ts.source(), store, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	bbox := planarBBox(5, 5, 115, 30)
	cells, err := client.GetRoadCells(context.Background(), bbox, 25, 14)
	require.NoError(t, err)
	assert.Zero(t, cells.Len())

	st := client.Stats()
	assert.Equal(t, "closed", st.BreakerState, "a missing tile is an empty result, not a failure")
	assert.EqualValues(t, 1, st.Fetches)
	assert.EqualValues(t, 0, st.FetchErrors)
	assert.Equal(t, 1, store.size())

	_, err = client.GetRoadCells(context.Background(), bbox, 25, 14)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ts.hits.Load())
}

func TestConcurrentQueriesCoalesceFetches(t *testing.T) {
	ts := newTileServer(t)
	ts.setDelay(30 * time.Millisecond)
	tile := maptile.At(planarGeo(60, 15).Orb(), 14)
	ts.put(tile, encodeTile(t, tile, "transportation",
		planarLine(grid.PlanarPoint{X: 12.5, Y: 12.5}, grid.PlanarPoint{X: 112.5, Y: 12.5})))

	client, err := New(ts.source(), newMemStore(), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	bbox := planarBBox(5, 5, 115, 30)
	want := rowCells(0, 4, 0)

	var wg sync.WaitGroup
	results := make([]grid.CellSet, 8)
	errs := make([]error, 8)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = client.GetRoadCells(context.Background(), bbox, 25, 14)
		}()
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, want, results[i])
	}
	assert.EqualValues(t, 1, ts.hits.Load(), "concurrent queries for one tile share a single fetch")
}

func TestStoreReadErrorDegradesToMiss(t *testing.T) {
	ts := newTileServer(t)
	tile := maptile.At(planarGeo(60, 15).Orb(), 14)
	ts.put(tile, encodeTile(t, tile, "transportation",
		planarLine(grid.PlanarPoint{X: 12.5, Y: 12.5}, grid.PlanarPoint{X: 112.5, Y: 12.5})))

	store := newMemStore()
	store.fail = errors.New("cache offline")
	client, err := New(ts.source(), store, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	cells, err := client.GetRoadCells(context.Background(), planarBBox(5, 5, 115, 30), 25, 14)
	require.NoError(t, err, "a broken cache read degrades to a miss")
	assert.Equal(t, rowCells(0, 4, 0), cells)

	st := client.Stats()
	assert.EqualValues(t, 1, st.Misses)
	assert.EqualValues(t, 1, st.Fetches)
}

func TestFetchSendsUserAgent(t *testing.T) {
	var mu sync.Mutex
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotUA = r.Header.Get("User-Agent")
		mu.Unlock()
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	src := Source{Name: "ua", URL: srv.URL + "/{z}/{x}/{y}.mvt", MinZoom: 14, MaxZoom: 14}
	client, err := New(src, newMemStore(),
		WithLogger(zap.NewNop()),
		WithUserAgent("tessera-test/1.0"))
	require.NoError(t, err)

	_, err = client.GetRoadCells(context.Background(), planarBBox(5, 5, 20, 20), 25, 14)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "tessera-test/1.0", gotUA)
}
