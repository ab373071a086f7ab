package tiger

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ParsePlaces reads a PLACE shapefile into place candidates. Records without
// a usable polygon geometry or naming attributes are skipped, not fatal.
func ParsePlaces(shpPath string) ([]Place, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	geoIDIdx := fieldIndex(reader, "GEOID")
	nameIdx := fieldIndex(reader, "NAME")
	stateIdx := fieldIndex(reader, "STATEFP")
	if geoIDIdx < 0 || nameIdx < 0 || stateIdx < 0 {
		return nil, eris.New("tiger: required shapefile fields (GEOID, NAME, STATEFP) not found")
	}

	var places []Place
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		boundary := shapeBoundary(shape)
		if len(boundary) == 0 {
			skipped++
			continue
		}

		geoID := attribute(reader, geoIDIdx)
		name := attribute(reader, nameIdx)
		if geoID == "" || name == "" {
			skipped++
			continue
		}
		state, _ := AbbrFromFIPS(attribute(reader, stateIdx))

		places = append(places, Place{
			GeoID:    geoID,
			Name:     name,
			State:    state,
			Boundary: boundary,
		})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "tiger: read shapefile %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return places, nil
}

// attribute returns a trimmed attribute of the current record.
func attribute(reader *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if
// not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

// shapeBoundary converts a shapefile shape into a multipolygon. Shapefile
// polygons store rings flat: clockwise rings open a new polygon and counter
// clockwise rings are holes in the polygon opened before them.
func shapeBoundary(s shp.Shape) orb.MultiPolygon {
	poly, ok := s.(*shp.Polygon)
	if !ok || poly == nil || poly.NumParts == 0 || len(poly.Points) == 0 {
		return nil
	}

	var mp orb.MultiPolygon
	for i := int32(0); i < poly.NumParts; i++ {
		start := poly.Parts[i]
		end := int32(len(poly.Points))
		if i+1 < poly.NumParts {
			end = poly.Parts[i+1]
		}
		if end-start < 3 {
			continue
		}

		ring := make(orb.Ring, 0, end-start+1)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{poly.Points[j].X, poly.Points[j].Y})
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}

		if ring.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		mp[len(mp)-1] = append(mp[len(mp)-1], ring)
	}
	return mp
}
