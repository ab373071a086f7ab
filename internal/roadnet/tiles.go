package roadnet

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/loamworks/tessera/internal/grid"
)

// coverTiles enumerates the tiles of one zoom level that cover bbox.
func coverTiles(bbox BBox, z maptile.Zoom) []maptile.Tile {
	a := maptile.At(orb.Point{bbox.MinLng, bbox.MinLat}, z)
	b := maptile.At(orb.Point{bbox.MaxLng, bbox.MaxLat}, z)

	// Tile Y grows southward, so the corner tiles need reordering.
	minX, maxX := a.X, b.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := a.Y, b.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	tiles := make([]maptile.Tile, 0, int(maxX-minX+1)*int(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.Tile{X: x, Y: y, Z: z})
		}
	}
	return tiles
}

// filterBBox keeps only cells whose center lies inside the planar projection
// of bbox. Tiles overhang the query box, so the tile union always needs this
// final cut.
func filterBBox(cells grid.CellSet, bbox BBox, cellSize float64) grid.CellSet {
	lo := grid.ToPlanar(grid.GeoPoint{Lat: bbox.MinLat, Lng: bbox.MinLng})
	hi := grid.ToPlanar(grid.GeoPoint{Lat: bbox.MaxLat, Lng: bbox.MaxLng})

	out := grid.NewCellSet()
	for cell := range cells {
		center := grid.CenterOf(cell, cellSize)
		if center.X >= lo.X && center.X <= hi.X && center.Y >= lo.Y && center.Y <= hi.Y {
			out.Add(cell)
		}
	}
	return out
}
