package store

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// encodeEWKB converts a city boundary to EWKB with SRID 4326 for the
// Postgres geometry column, so PostGIS deployments can query cities
// spatially without parsing the GeoJSON payload.
func encodeEWKB(mp orb.MultiPolygon) ([]byte, error) {
	g := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for _, polygon := range mp {
		poly := geom.NewPolygon(geom.XY)
		for _, ring := range polygon {
			flat := make([]float64, 0, len(ring)*2)
			for _, pt := range ring {
				flat = append(flat, pt[0], pt[1])
			}
			if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
				return nil, eris.Wrap(err, "store: build boundary ring")
			}
		}
		if err := g.Push(poly); err != nil {
			return nil, eris.Wrap(err, "store: build boundary polygon")
		}
	}

	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode boundary EWKB")
	}
	return data, nil
}
