// Package activity models GPS activities and turns their tracks into grid
// cells. Tracks travel as encoded polylines; GPX and JSON files are the two
// ingest formats.
package activity

import (
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tkrajina/gpxgo/gpx"
	polyline "github.com/twpayne/go-polyline"

	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/raster"
)

// Activity is one recorded GPS track.
type Activity struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Sport      string    `json:"sport,omitempty"`
	Polyline   string    `json:"polyline"`
	Private    bool      `json:"private,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Points decodes the track polyline. Decoded coordinates must be finite and
// inside the WGS84 range; malformed polylines routinely decode into absurd
// values, and rejecting them here keeps the error near the input.
func (a Activity) Points() ([]grid.GeoPoint, error) {
	coords, _, err := polyline.DecodeCoords([]byte(a.Polyline))
	if err != nil {
		return nil, eris.Wrapf(err, "activity %s: decode polyline", a.ID)
	}
	pts := make([]grid.GeoPoint, len(coords))
	for i, c := range coords {
		p := grid.GeoPoint{Lat: c[0], Lng: c[1]}
		if !p.IsFinite() || p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return nil, eris.Errorf("activity %s: point %d out of range (%v)", a.ID, i, p)
		}
		pts[i] = p
	}
	return pts, nil
}

// EncodePoints encodes a track as a polyline string.
func EncodePoints(pts []grid.GeoPoint) string {
	coords := make([][]float64, len(pts))
	for i, p := range pts {
		coords[i] = []float64{p.Lat, p.Lng}
	}
	return string(polyline.EncodeCoords(coords))
}

// Rasterize converts one activity into visited cells. Private activities lose
// trimMeters of track from each end before rasterization; a short private
// track can vanish entirely and contributes no cells.
func Rasterize(a Activity, cellSize, trimMeters float64) (grid.CellSet, error) {
	pts, err := a.Points()
	if err != nil {
		return nil, err
	}
	if a.Private {
		pts = grid.TrimEnds(pts, trimMeters)
	}
	return raster.Polyline(pts, cellSize)
}

// FromGPX reads activities from a GPX file, one per track. Track points keep
// segment order; the first point's timestamp becomes RecordedAt.
func FromGPX(path string) ([]Activity, error) {
	doc, err := gpx.ParseFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "activity: parse gpx %s", path)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var acts []Activity
	for _, track := range doc.Tracks {
		var pts []grid.GeoPoint
		var recorded time.Time
		for _, seg := range track.Segments {
			for _, p := range seg.Points {
				if recorded.IsZero() {
					recorded = p.Timestamp
				}
				pts = append(pts, grid.GeoPoint{Lat: p.Latitude, Lng: p.Longitude})
			}
		}
		if len(pts) == 0 {
			continue
		}
		name := track.Name
		if name == "" {
			name = stem
		}
		acts = append(acts, Activity{
			ID:         uuid.NewString(),
			Name:       name,
			Sport:      track.Type,
			Polyline:   EncodePoints(pts),
			RecordedAt: recorded,
		})
	}
	if len(acts) == 0 {
		return nil, eris.Errorf("activity: no track points in %s", path)
	}
	return acts, nil
}

// FromJSON reads a JSON array of activities. Records without an ID get one;
// records without a polyline are rejected.
func FromJSON(r io.Reader) ([]Activity, error) {
	var acts []Activity
	if err := json.NewDecoder(r).Decode(&acts); err != nil {
		return nil, eris.Wrap(err, "activity: decode json")
	}
	for i := range acts {
		if acts[i].Polyline == "" {
			return nil, eris.Errorf("activity: record %d has no polyline", i)
		}
		if acts[i].ID == "" {
			acts[i].ID = uuid.NewString()
		}
	}
	return acts, nil
}
