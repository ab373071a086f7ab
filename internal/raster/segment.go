// Package raster converts track geometry into grid cells. Segments are
// sampled at half-cell intervals so a path can never tunnel diagonally
// between two filled cells; polygons are filled by testing every cell center
// inside the planar bounding box against the ring set.
package raster

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/loamworks/tessera/internal/grid"
)

// ErrNonFinite is returned when input geometry carries a NaN or infinite
// coordinate. Rasterization rejects such geometry outright instead of
// producing partial coverage.
var ErrNonFinite = eris.New("raster: non-finite coordinate")

// Segment rasterizes the straight planar line between two geographic points.
// The sample step never exceeds half a cell side, so every cell the segment
// passes through is hit by at least one sample.
func Segment(a, b grid.GeoPoint, cellSize float64) (grid.CellSet, error) {
	if cellSize <= 0 {
		return nil, eris.New("raster: cell size must be positive")
	}
	if !a.IsFinite() || !b.IsFinite() {
		return nil, eris.Wrapf(ErrNonFinite, "segment (%v, %v)", a, b)
	}

	pa, pb := grid.ToPlanar(a), grid.ToPlanar(b)
	steps := int(math.Ceil(grid.PlanarDistance(pa, pb) / (cellSize / 2)))

	cells := grid.NewCellSet()
	for i := 0; i <= steps; i++ {
		t := 0.0
		if steps > 0 {
			t = float64(i) / float64(steps)
		}
		p := grid.PlanarPoint{
			X: pa.X + (pb.X-pa.X)*t,
			Y: pa.Y + (pb.Y-pa.Y)*t,
		}
		cells.Add(grid.CellOf(p, cellSize))
	}
	return cells, nil
}

// Polyline rasterizes every consecutive segment of a track and unions the
// results. A single point still claims its cell.
func Polyline(line []grid.GeoPoint, cellSize float64) (grid.CellSet, error) {
	if cellSize <= 0 {
		return nil, eris.New("raster: cell size must be positive")
	}
	cells := grid.NewCellSet()
	if len(line) == 0 {
		return cells, nil
	}
	if len(line) == 1 {
		if !line[0].IsFinite() {
			return nil, eris.Wrapf(ErrNonFinite, "point %v", line[0])
		}
		cells.Add(grid.CellOf(grid.ToPlanar(line[0]), cellSize))
		return cells, nil
	}
	for i := 1; i < len(line); i++ {
		seg, err := Segment(line[i-1], line[i], cellSize)
		if err != nil {
			return nil, err
		}
		cells.Union(seg)
	}
	return cells, nil
}
