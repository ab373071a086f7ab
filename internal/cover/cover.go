// Package cover computes how much of a target cell set, typically a city's
// road network, has been visited.
package cover

import (
	"sort"

	"github.com/loamworks/tessera/internal/grid"
)

// neighborhood spans the cell itself plus its 8 planar neighbors.
var neighborhood = [9][2]int{
	{0, 0},
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// cellVisited reports whether the target cell or any of its 8 neighbors is
// visited. Only the target side is dilated; this absorbs GPS drift between
// recorded tracks and map-sourced road geometry without inflating the
// visited set itself.
func cellVisited(c grid.CellCoord, visited grid.CellSet) bool {
	for _, d := range neighborhood {
		if visited.Contains(grid.CellCoord{X: c.X + d[0], Y: c.Y + d[1]}) {
			return true
		}
	}
	return false
}

// VisitedCount returns how many target cells count as visited under the
// 8-neighbor match.
func VisitedCount(target, visited grid.CellSet) int {
	count := 0
	for c := range target {
		if cellVisited(c, visited) {
			count++
		}
	}
	return count
}

// VisitedPercentage returns 100 * VisitedCount / |target|. An empty target
// is 0 percent, never NaN and never an error.
func VisitedPercentage(target, visited grid.CellSet) float64 {
	if target.Len() == 0 {
		return 0
	}
	return 100 * float64(VisitedCount(target, visited)) / float64(target.Len())
}

// Ranking is one named target's coverage.
type Ranking struct {
	Name       string  `json:"name"`
	Visited    int     `json:"visited"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Rank scores every named target against the visited set and returns the
// top n by percentage descending, ties broken by name for stable output.
// n <= 0 means all.
func Rank(targets map[string]grid.CellSet, visited grid.CellSet, n int) []Ranking {
	rankings := make([]Ranking, 0, len(targets))
	for name, target := range targets {
		count := VisitedCount(target, visited)
		pct := 0.0
		if target.Len() > 0 {
			pct = 100 * float64(count) / float64(target.Len())
		}
		rankings = append(rankings, Ranking{
			Name:       name,
			Visited:    count,
			Total:      target.Len(),
			Percentage: pct,
		})
	}
	sort.Slice(rankings, func(i, j int) bool {
		if rankings[i].Percentage != rankings[j].Percentage {
			return rankings[i].Percentage > rankings[j].Percentage
		}
		return rankings[i].Name < rankings[j].Name
	})
	if n > 0 && len(rankings) > n {
		rankings = rankings[:n]
	}
	return rankings
}
