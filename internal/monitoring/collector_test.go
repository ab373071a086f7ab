package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamworks/tessera/internal/activity"
	"github.com/loamworks/tessera/internal/city"
	"github.com/loamworks/tessera/internal/compact"
	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/roadnet"
	"github.com/loamworks/tessera/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedCity(t *testing.T, st *store.SQLiteStore, name string, roads grid.CellSet) {
	t.Helper()
	now := time.Now().UTC()
	c := &city.City{
		ID:      uuid.NewString(),
		Name:    name,
		Country: "US",
		Region:  "WA",
		Boundary: orb.MultiPolygon{orb.Polygon{orb.Ring{
			{-122.34, 47.60}, {-122.32, 47.60}, {-122.32, 47.61},
			{-122.34, 47.61}, {-122.34, 47.60},
		}}},
		Interior:  grid.NewCellSet(grid.CellCoord{X: 1, Y: 2}),
		CellSize:  25,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.SaveCity(context.Background(), c))
	if roads != nil {
		require.NoError(t, st.SetCityRoads(context.Background(), c.ID, roads))
	}
}

type stubStats struct{ stats roadnet.Stats }

func (s stubStats) Stats() roadnet.Stats { return s.stats }

func TestCollect_EmptyStore(t *testing.T) {
	st := newTestStore(t)

	snap, err := NewCollector(st, nil).Collect(context.Background(), 25)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.Activities)
	assert.InDelta(t, 25.0, snap.CellSize, 0.001)
	assert.Equal(t, 0, snap.VisitedCells)
	assert.Equal(t, 0, snap.Rectangles)
	assert.Equal(t, 0, snap.Cities)
	assert.Equal(t, 0, snap.CitiesWithRoads)
	assert.Equal(t, 0, snap.TileCache.Entries)
	assert.Nil(t, snap.Roadnet)
	assert.WithinDuration(t, time.Now().UTC(), snap.CollectedAt, 5*time.Second)
}

func TestCollect_Populated(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveActivity(ctx, &activity.Activity{Name: "Run", Sport: "run", Polyline: "abc"}))
	require.NoError(t, st.SaveActivity(ctx, &activity.Activity{Name: "Ride", Sport: "bike", Polyline: "def"}))

	cells := grid.NewCellSet(
		grid.CellCoord{X: 0, Y: 0},
		grid.CellCoord{X: 0, Y: 1},
		grid.CellCoord{X: 1, Y: 0},
	)
	require.NoError(t, st.AddVisited(ctx, 25, cells))
	require.NoError(t, st.SaveRects(ctx, 25, compact.Compact(cells)))

	// Another cell size must not bleed into the snapshot.
	require.NoError(t, st.AddVisited(ctx, 50, grid.NewCellSet(grid.CellCoord{X: 9, Y: 9})))

	seedCity(t, st, "Computed", grid.NewCellSet(grid.CellCoord{X: 1, Y: 2}))
	seedCity(t, st, "ComputedEmpty", grid.NewCellSet())
	seedCity(t, st, "Pending", nil)

	key := roadnet.TileKey{Z: 14, X: 100, Y: 200, CellSize: 25}
	require.NoError(t, st.PutTileCells(ctx, key, cells))

	stats := roadnet.Stats{Fetches: 7, BreakerState: "closed", Source: "osm"}
	snap, err := NewCollector(st, stubStats{stats}).Collect(ctx, 25)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Activities)
	assert.Equal(t, 3, snap.VisitedCells)
	assert.Equal(t, 2, snap.Rectangles)
	assert.Equal(t, 3, snap.Cities)
	assert.Equal(t, 2, snap.CitiesWithRoads, "computed-empty counts, pending does not")
	assert.Equal(t, 1, snap.TileCache.Entries)
	assert.Greater(t, snap.TileCache.Bytes, int64(0))
	require.NotNil(t, snap.Roadnet)
	assert.Equal(t, uint64(7), snap.Roadnet.Fetches)
	assert.Equal(t, "osm", snap.Roadnet.Source)
}
