// Package grid defines the shared spatial model: geographic coordinates
// project onto a single spherical Web Mercator plane, and the plane divides
// into square cells of a runtime-configured side length. Every other
// component speaks in these cells.
package grid

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/project"
)

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PlanarPoint is a projected point in meters.
type PlanarPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Orb returns the point in orb's lng/lat ordering.
func (p GeoPoint) Orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// FromOrb converts an orb lng/lat point.
func FromOrb(p orb.Point) GeoPoint {
	return GeoPoint{Lat: p[1], Lng: p[0]}
}

// IsFinite reports whether both coordinates are finite numbers.
func (p GeoPoint) IsFinite() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0)
}

// ToPlanar projects a geographic point onto the plane. Latitudes of exactly
// ±90° hit the projection singularity; GPS tracks never reach the poles, so
// that is a precondition rather than a checked error.
func ToPlanar(p GeoPoint) PlanarPoint {
	m := project.Point(p.Orb(), project.WGS84.ToMercator)
	return PlanarPoint{X: m[0], Y: m[1]}
}

// ToGeo inverts ToPlanar.
func ToGeo(p PlanarPoint) GeoPoint {
	ll := project.Point(orb.Point{p.X, p.Y}, project.Mercator.ToWGS84)
	return GeoPoint{Lat: ll[1], Lng: ll[0]}
}

// PlanarDistance returns the Euclidean distance between two planar points.
func PlanarDistance(a, b PlanarPoint) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Distance returns the great-circle (haversine) distance in meters.
func Distance(a, b GeoPoint) float64 {
	return geo.DistanceHaversine(a.Orb(), b.Orb())
}
