package raster

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
	"github.com/rotisserie/eris"

	"github.com/loamworks/tessera/internal/grid"
)

// Polygon rasterizes a WGS84 polygon, holes included. Every cell whose
// center lies inside the projected ring set is returned. The scan is bounding
// box times ring complexity, sized for administrative boundaries; callers
// must not feed it continent-scale geometry at fine resolutions.
func Polygon(poly orb.Polygon, cellSize float64) (grid.CellSet, error) {
	if cellSize <= 0 {
		return nil, eris.New("raster: cell size must be positive")
	}
	for _, ring := range poly {
		if err := checkRing(ring); err != nil {
			return nil, err
		}
	}
	// project mutates composite geometry in place, so work on a clone.
	projected := project.Polygon(poly.Clone(), project.WGS84.ToMercator)
	return polygonCells(projected, cellSize), nil
}

// MultiPolygon rasterizes each member polygon and unions the results.
func MultiPolygon(mp orb.MultiPolygon, cellSize float64) (grid.CellSet, error) {
	if cellSize <= 0 {
		return nil, eris.New("raster: cell size must be positive")
	}
	cells := grid.NewCellSet()
	for _, poly := range mp {
		got, err := Polygon(poly, cellSize)
		if err != nil {
			return nil, err
		}
		cells.Union(got)
	}
	return cells, nil
}

// Geometry dispatches on the polygon types GeoJSON boundaries arrive as.
func Geometry(g orb.Geometry, cellSize float64) (grid.CellSet, error) {
	switch geom := g.(type) {
	case orb.Polygon:
		return Polygon(geom, cellSize)
	case orb.MultiPolygon:
		return MultiPolygon(geom, cellSize)
	default:
		return nil, eris.Errorf("raster: unsupported geometry type %s", g.GeoJSONType())
	}
}

func checkRing(ring orb.Ring) error {
	for _, pt := range ring {
		if !grid.FromOrb(pt).IsFinite() {
			return eris.Wrapf(ErrNonFinite, "ring point %v", pt)
		}
	}
	return nil
}

func polygonCells(projected orb.Polygon, cellSize float64) grid.CellSet {
	cells := grid.NewCellSet()
	if len(projected) == 0 || len(projected[0]) == 0 {
		return cells
	}

	bound := projected.Bound()
	lo := grid.CellOf(grid.PlanarPoint{X: bound.Min[0], Y: bound.Min[1]}, cellSize)
	hi := grid.CellOf(grid.PlanarPoint{X: bound.Max[0], Y: bound.Max[1]}, cellSize)

	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			c := grid.CellCoord{X: x, Y: y}
			center := grid.CenterOf(c, cellSize)
			if planar.PolygonContains(projected, orb.Point{center.X, center.Y}) {
				cells.Add(c)
			}
		}
	}
	return cells
}
