package city

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/roadnet"
)

// planarRing builds a closed WGS84 ring from planar corner coordinates.
func planarRing(corners ...[2]float64) orb.Ring {
	ring := make(orb.Ring, 0, len(corners)+1)
	for _, c := range corners {
		g := grid.ToGeo(grid.PlanarPoint{X: c[0], Y: c[1]})
		ring = append(ring, orb.Point{g.Lng, g.Lat})
	}
	return append(ring, ring[0])
}

func squareBoundary() orb.MultiPolygon {
	return orb.MultiPolygon{{planarRing([2]float64{0, 0}, [2]float64{100, 0}, [2]float64{100, 100}, [2]float64{0, 100})}}
}

type stubRoads struct {
	cells    grid.CellSet
	err      error
	calls    int
	lastBBox roadnet.BBox
	lastZoom int
}

func (s *stubRoads) GetRoadCells(_ context.Context, bbox roadnet.BBox, _ float64, zoom int) (grid.CellSet, error) {
	s.calls++
	s.lastBBox = bbox
	s.lastZoom = zoom
	if s.err != nil {
		return nil, s.err
	}
	return s.cells, nil
}

func TestNewComputesInterior(t *testing.T) {
	c, err := New("Bergen", "NO", "46", squareBoundary(), 25)
	require.NoError(t, err)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, 16, c.Interior.Len())
	assert.False(t, c.RoadsComputed)
	assert.Nil(t, c.Roads)
	assert.Equal(t, 25.0, c.CellSize)
	assert.False(t, c.CreatedAt.IsZero())
}

func TestNewValidation(t *testing.T) {
	_, err := New("", "NO", "", squareBoundary(), 25)
	assert.Error(t, err)

	_, err = New("Bergen", "NO", "", nil, 25)
	assert.Error(t, err)

	_, err = New("Bergen", "NO", "", squareBoundary(), 0)
	assert.Error(t, err)
}

func TestComputeRoadsClipsToInterior(t *testing.T) {
	c, err := New("Bergen", "NO", "", squareBoundary(), 25)
	require.NoError(t, err)

	roads := grid.NewCellSet(
		grid.CellCoord{X: 0, Y: 0},
		grid.CellCoord{X: 3, Y: 3},
		grid.CellCoord{X: 10, Y: 10}, // outside the boundary
	)
	stub := &stubRoads{cells: roads}
	require.NoError(t, ComputeRoads(context.Background(), c, stub, 14))

	assert.True(t, c.RoadsComputed)
	assert.Equal(t, grid.NewCellSet(grid.CellCoord{X: 0, Y: 0}, grid.CellCoord{X: 3, Y: 3}), c.Roads)
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, 14, stub.lastZoom)
	assert.InDelta(t, 0, stub.lastBBox.MinLng, 1e-9)
	assert.Greater(t, stub.lastBBox.MaxLng, stub.lastBBox.MinLng)
}

func TestComputeRoadsEmptyIsComputed(t *testing.T) {
	c, err := New("Bergen", "NO", "", squareBoundary(), 25)
	require.NoError(t, err)

	require.NoError(t, ComputeRoads(context.Background(), c, &stubRoads{cells: grid.NewCellSet()}, 14))
	assert.True(t, c.RoadsComputed, "computed-and-empty is not the same as absent")
	assert.Equal(t, 0, c.Roads.Len())
	assert.Equal(t, 0, c.Target().Len())
}

func TestComputeRoadsError(t *testing.T) {
	c, err := New("Bergen", "NO", "", squareBoundary(), 25)
	require.NoError(t, err)

	err = ComputeRoads(context.Background(), c, &stubRoads{err: errors.New("source down")}, 14)
	require.Error(t, err)
	assert.False(t, c.RoadsComputed)
	assert.Nil(t, c.Roads)
}

func TestTargetFallsBackToInterior(t *testing.T) {
	c, err := New("Bergen", "NO", "", squareBoundary(), 25)
	require.NoError(t, err)
	assert.Equal(t, c.Interior, c.Target())

	stub := &stubRoads{cells: grid.NewCellSet(grid.CellCoord{X: 1, Y: 1})}
	require.NoError(t, ComputeRoads(context.Background(), c, stub, 14))
	assert.Equal(t, grid.NewCellSet(grid.CellCoord{X: 1, Y: 1}), c.Target())
}

func TestRankTargets(t *testing.T) {
	a, err := New("Alta", "NO", "", squareBoundary(), 25)
	require.NoError(t, err)
	b, err := New("Bodo", "NO", "", squareBoundary(), 25)
	require.NoError(t, err)

	stub := &stubRoads{cells: grid.NewCellSet(grid.CellCoord{X: 0, Y: 0})}
	require.NoError(t, ComputeRoads(context.Background(), b, stub, 14))

	targets := RankTargets([]*City{a, b})
	require.Len(t, targets, 2)
	assert.Equal(t, 16, targets["Alta"].Len(), "cities without roads rank against their interior")
	assert.Equal(t, 1, targets["Bodo"].Len())
}
