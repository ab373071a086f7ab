package roadnet

import (
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"github.com/rotisserie/eris"

	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/raster"
)

// decodeTile rasterizes the road layers of one vector tile. Only line
// geometries contribute; polygonal features in road layers are ignored.
func decodeTile(data []byte, tile maptile.Tile, cellSize float64) (grid.CellSet, error) {
	layers, err := unmarshalTile(data)
	if err != nil {
		return nil, eris.Wrapf(err, "roadnet: decode tile %d/%d/%d", tile.Z, tile.X, tile.Y)
	}

	cells := grid.NewCellSet()
	for _, layer := range layers {
		if !isRoadLayer(layer.Name) {
			continue
		}
		layer.ProjectToWGS84(tile)
		for _, feature := range layer.Features {
			for _, line := range geometryLines(feature.Geometry) {
				lineCells, err := raster.Polyline(lineToGeo(line), cellSize)
				if err != nil {
					return nil, eris.Wrapf(err, "roadnet: rasterize tile %d/%d/%d", tile.Z, tile.X, tile.Y)
				}
				cells.Union(lineCells)
			}
		}
	}
	return cells, nil
}

// unmarshalTile sniffs the gzip magic rather than trusting headers; tile
// servers disagree about Content-Encoding.
func unmarshalTile(data []byte) (mvt.Layers, error) {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		return mvt.UnmarshalGzipped(data)
	}
	return mvt.Unmarshal(data)
}

// isRoadLayer reports whether a layer name looks like it carries road
// geometry. OpenMapTiles schemas call the layer "transportation", most
// OSM-derived schemas use some variant of "road".
func isRoadLayer(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "road") || strings.Contains(lower, "transportation")
}

func geometryLines(g orb.Geometry) []orb.LineString {
	switch geom := g.(type) {
	case orb.LineString:
		return []orb.LineString{geom}
	case orb.MultiLineString:
		return geom
	default:
		return nil
	}
}

func lineToGeo(ls orb.LineString) []grid.GeoPoint {
	pts := make([]grid.GeoPoint, len(ls))
	for i, p := range ls {
		pts[i] = grid.FromOrb(p)
	}
	return pts
}
