package store

import (
	"encoding/json"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/loamworks/tessera/internal/grid"
)

// encodeCells renders a cell set as a JSON array of canonical "x:y" keys in
// sorted order, so equal sets always produce identical bytes. Empty and nil
// sets both encode to "[]", the "computed empty" marker for city roads.
func encodeCells(cells grid.CellSet) ([]byte, error) {
	data, err := json.Marshal(cells.Keys())
	if err != nil {
		return nil, eris.Wrap(err, "store: encode cells")
	}
	return data, nil
}

func decodeCells(data []byte) (grid.CellSet, error) {
	var keys []grid.CellKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, eris.Wrap(err, "store: decode cells")
	}
	cells, err := grid.ParseCellSet(keys)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode cells")
	}
	return cells, nil
}

// encodeBoundary stores a city boundary as a GeoJSON geometry.
func encodeBoundary(mp orb.MultiPolygon) ([]byte, error) {
	data, err := json.Marshal(geojson.NewGeometry(mp))
	if err != nil {
		return nil, eris.Wrap(err, "store: encode boundary")
	}
	return data, nil
}

func decodeBoundary(data []byte) (orb.MultiPolygon, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode boundary")
	}
	switch geom := g.Geometry().(type) {
	case orb.MultiPolygon:
		return geom, nil
	case orb.Polygon:
		return orb.MultiPolygon{geom}, nil
	default:
		return nil, eris.Errorf("store: boundary is %T, want MultiPolygon", geom)
	}
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
