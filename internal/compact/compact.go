// Package compact folds visited-cell sets into axis-aligned rectangles for
// compact storage and transfer. The cover is lossless and non-overlapping but
// deliberately not minimal; minimal rectangle tiling is NP-hard and the
// greedy cover is close enough for persistence.
package compact

import (
	"sort"

	"github.com/loamworks/tessera/internal/grid"
)

// Rectangle is an inclusive cell-coordinate rectangle.
type Rectangle struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// Width returns the number of cell columns covered.
func (r Rectangle) Width() int { return r.MaxX - r.MinX + 1 }

// Height returns the number of cell rows covered.
func (r Rectangle) Height() int { return r.MaxY - r.MinY + 1 }

// Area returns the number of cells covered.
func (r Rectangle) Area() int { return r.Width() * r.Height() }

// Contains reports whether the cell lies inside the rectangle.
func (r Rectangle) Contains(c grid.CellCoord) bool {
	return c.X >= r.MinX && c.X <= r.MaxX && c.Y >= r.MinY && c.Y <= r.MaxY
}

// Compact covers the cell set with rectangles. Cells are scanned in (y, x)
// order; each unclaimed cell grows a rectangle width-first along its row,
// then downward while the next full row is present and unclaimed. A second
// pass merges vertically adjacent rectangles with identical x-extents. The
// width-first order is a fixed tie-break, not an optimality claim.
func Compact(cells grid.CellSet) []Rectangle {
	if cells.Len() == 0 {
		return nil
	}

	order := make([]grid.CellCoord, 0, cells.Len())
	for c := range cells {
		order = append(order, c)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].Y != order[j].Y {
			return order[i].Y < order[j].Y
		}
		return order[i].X < order[j].X
	})

	claimed := make(grid.CellSet, cells.Len())
	free := func(x, y int) bool {
		c := grid.CellCoord{X: x, Y: y}
		return cells.Contains(c) && !claimed.Contains(c)
	}

	var rects []Rectangle
	for _, c := range order {
		if claimed.Contains(c) {
			continue
		}

		width := 1
		for free(c.X+width, c.Y) {
			width++
		}

		height := 1
		for rowFree(free, c.X, c.Y+height, width) {
			height++
		}

		for dy := 0; dy < height; dy++ {
			for dx := 0; dx < width; dx++ {
				claimed.Add(grid.CellCoord{X: c.X + dx, Y: c.Y + dy})
			}
		}
		rects = append(rects, Rectangle{
			MinX: c.X,
			MinY: c.Y,
			MaxX: c.X + width - 1,
			MaxY: c.Y + height - 1,
		})
	}

	rects = mergeVertical(rects)
	sort.Slice(rects, func(i, j int) bool {
		if rects[i].MinY != rects[j].MinY {
			return rects[i].MinY < rects[j].MinY
		}
		return rects[i].MinX < rects[j].MinX
	})
	return rects
}

func rowFree(free func(x, y int) bool, x0, y, width int) bool {
	for dx := 0; dx < width; dx++ {
		if !free(x0+dx, y) {
			return false
		}
	}
	return true
}

// mergeVertical joins rectangles that share exact x-extents and touch
// vertically. Merging disjoint neighbors keeps the cover lossless.
func mergeVertical(rects []Rectangle) []Rectangle {
	if len(rects) < 2 {
		return rects
	}
	sort.Slice(rects, func(i, j int) bool {
		if rects[i].MinX != rects[j].MinX {
			return rects[i].MinX < rects[j].MinX
		}
		if rects[i].MaxX != rects[j].MaxX {
			return rects[i].MaxX < rects[j].MaxX
		}
		return rects[i].MinY < rects[j].MinY
	})

	out := make([]Rectangle, 0, len(rects))
	for _, r := range rects {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.MinX == r.MinX && last.MaxX == r.MaxX && last.MaxY+1 == r.MinY {
				last.MaxY = r.MaxY
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// Cells expands rectangles back into the cell set they cover.
func Cells(rects []Rectangle) grid.CellSet {
	cells := grid.NewCellSet()
	for _, r := range rects {
		for y := r.MinY; y <= r.MaxY; y++ {
			for x := r.MinX; x <= r.MaxX; x++ {
				cells.Add(grid.CellCoord{X: x, Y: y})
			}
		}
	}
	return cells
}

// Area sums the cell count of all rectangles. For a valid cover it equals
// the size of the original set.
func Area(rects []Rectangle) int {
	total := 0
	for _, r := range rects {
		total += r.Area()
	}
	return total
}
