// Package city models tracked cities: a geographic boundary, the grid cells
// inside it, and the road cells within those once computed.
package city

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/raster"
	"github.com/loamworks/tessera/internal/roadnet"
)

// City is one tracked city. Roads stays nil until road cells have been
// computed; RoadsComputed distinguishes "never computed" from "computed and
// empty".
type City struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Country       string           `json:"country,omitempty"`
	Region        string           `json:"region,omitempty"`
	Boundary      orb.MultiPolygon `json:"-"`
	Interior      grid.CellSet     `json:"-"`
	Roads         grid.CellSet     `json:"-"`
	RoadsComputed bool             `json:"roads_computed"`
	CellSize      float64          `json:"cell_size"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// New builds a city and rasterizes its interior once; every later coverage
// query reuses the cached cells.
func New(name, country, region string, boundary orb.MultiPolygon, cellSize float64) (*City, error) {
	if name == "" {
		return nil, eris.New("city: name is required")
	}
	if len(boundary) == 0 {
		return nil, eris.New("city: boundary is required")
	}
	interior, err := raster.MultiPolygon(boundary, cellSize)
	if err != nil {
		return nil, eris.Wrapf(err, "city %s: rasterize boundary", name)
	}
	now := time.Now().UTC()
	return &City{
		ID:        uuid.NewString(),
		Name:      name,
		Country:   country,
		Region:    region,
		Boundary:  boundary,
		Interior:  interior,
		CellSize:  cellSize,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// BBox returns the boundary's geographic bounding box.
func (c *City) BBox() roadnet.BBox {
	b := c.Boundary.Bound()
	return roadnet.BBox{MinLng: b.Min[0], MinLat: b.Min[1], MaxLng: b.Max[0], MaxLat: b.Max[1]}
}

// RoadClient is the road cell source ComputeRoads queries.
type RoadClient interface {
	GetRoadCells(ctx context.Context, bbox roadnet.BBox, cellSize float64, zoom int) (grid.CellSet, error)
}

// ComputeRoads resolves the road cells inside the city: the road network over
// the boundary's bbox, clipped to the interior. An empty result still marks
// the city as computed.
func ComputeRoads(ctx context.Context, c *City, client RoadClient, zoom int) error {
	roads, err := client.GetRoadCells(ctx, c.BBox(), c.CellSize, zoom)
	if err != nil {
		return eris.Wrapf(err, "city %s: road cells", c.Name)
	}
	c.Roads = roads.Intersect(c.Interior)
	c.RoadsComputed = true
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Target returns the cell set this city is ranked against: road cells when
// computed, otherwise the whole interior.
func (c *City) Target() grid.CellSet {
	if c.RoadsComputed {
		return c.Roads
	}
	return c.Interior
}

// RankTargets maps cities by name for coverage ranking.
func RankTargets(cities []*City) map[string]grid.CellSet {
	targets := make(map[string]grid.CellSet, len(cities))
	for _, c := range cities {
		targets[c.Name] = c.Target()
	}
	return targets
}
