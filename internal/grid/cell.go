package grid

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMalformedKey is returned when a cell key cannot be parsed. Parsing never
// falls back to the origin cell; a bad key is always a detectable error.
var ErrMalformedKey = eris.New("grid: malformed cell key")

// CellCoord addresses one grid cell by its signed integer coordinates.
type CellCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// CellKey is the canonical "x:y" form of a CellCoord. Key and ParseKey are
// exact inverses, including for negative coordinates.
type CellKey string

// Key returns the canonical key for a cell.
func Key(c CellCoord) CellKey {
	return CellKey(strconv.Itoa(c.X) + ":" + strconv.Itoa(c.Y))
}

// ParseKey parses a canonical cell key back into its coordinates.
func ParseKey(k CellKey) (CellCoord, error) {
	xs, ys, ok := strings.Cut(string(k), ":")
	if !ok {
		return CellCoord{}, eris.Wrapf(ErrMalformedKey, "%q", k)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return CellCoord{}, eris.Wrapf(ErrMalformedKey, "%q", k)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return CellCoord{}, eris.Wrapf(ErrMalformedKey, "%q", k)
	}
	return CellCoord{X: x, Y: y}, nil
}

// CellOf maps a planar point to its cell by floor division, so negative
// planar coordinates land in negative cell indices without drift.
func CellOf(p PlanarPoint, cellSize float64) CellCoord {
	return CellCoord{
		X: int(math.Floor(p.X / cellSize)),
		Y: int(math.Floor(p.Y / cellSize)),
	}
}

// CenterOf returns the planar center of a cell.
func CenterOf(c CellCoord, cellSize float64) PlanarPoint {
	return PlanarPoint{
		X: (float64(c.X) + 0.5) * cellSize,
		Y: (float64(c.Y) + 0.5) * cellSize,
	}
}

// CellSet is a set of unique cells.
type CellSet map[CellCoord]struct{}

// NewCellSet builds a set from the given cells.
func NewCellSet(cells ...CellCoord) CellSet {
	s := make(CellSet, len(cells))
	for _, c := range cells {
		s[c] = struct{}{}
	}
	return s
}

// Add inserts a cell.
func (s CellSet) Add(c CellCoord) {
	s[c] = struct{}{}
}

// Contains reports membership.
func (s CellSet) Contains(c CellCoord) bool {
	_, ok := s[c]
	return ok
}

// Union inserts all cells from other. Union is commutative and idempotent,
// so concurrent producers only need a single lock around this call.
func (s CellSet) Union(other CellSet) {
	for c := range other {
		s[c] = struct{}{}
	}
}

// Intersect returns a new set holding the cells present in both.
func (s CellSet) Intersect(other CellSet) CellSet {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := NewCellSet()
	for c := range small {
		if large.Contains(c) {
			out[c] = struct{}{}
		}
	}
	return out
}

// Clone returns an independent copy.
func (s CellSet) Clone() CellSet {
	out := make(CellSet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Len returns the number of cells.
func (s CellSet) Len() int {
	return len(s)
}

// Keys returns the canonical keys in sorted order, for deterministic
// serialization.
func (s CellSet) Keys() []CellKey {
	cells := make([]CellCoord, 0, len(s))
	for c := range s {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Y != cells[j].Y {
			return cells[i].Y < cells[j].Y
		}
		return cells[i].X < cells[j].X
	})
	keys := make([]CellKey, len(cells))
	for i, c := range cells {
		keys[i] = Key(c)
	}
	return keys
}

// ParseCellSet rebuilds a set from canonical keys. Any malformed key fails
// the whole parse.
func ParseCellSet(keys []CellKey) (CellSet, error) {
	s := make(CellSet, len(keys))
	for _, k := range keys {
		c, err := ParseKey(k)
		if err != nil {
			return nil, err
		}
		s[c] = struct{}{}
	}
	return s, nil
}
