package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loamworks/tessera/internal/activity"
	"github.com/loamworks/tessera/internal/compact"
	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/store"
)

var rebuildCellSize float64

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-rasterize all stored activities at a cell size",
	Long: `Re-rasterizes every stored activity and replaces the visited-cell set and
rectangle snapshot for the target cell size. State stored under other cell
sizes is untouched, and cached road tiles stay valid under their own keys.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		cellSize := rebuildCellSize
		if cellSize == 0 {
			cellSize = cfg.Grid.CellSize
		}

		return rebuildVisited(ctx, st, cellSize, cfg.Privacy.TrimMeters)
	},
}

func init() {
	rebuildCmd.Flags().Float64Var(&rebuildCellSize, "cell-size", 0, "target cell size in meters (default from config)")
	rootCmd.AddCommand(rebuildCmd)
}

// rebuildVisited pages through all stored activities, rasterizes each at
// cellSize, and swaps in the resulting visited set and rectangles.
// Activities that no longer rasterize are skipped with a warning.
func rebuildVisited(ctx context.Context, st store.Store, cellSize, trimMeters float64) error {
	visited := grid.NewCellSet()
	var total, failed int

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		acts, err := st.ListActivities(ctx, store.ActivityFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "rebuild: list activities")
		}
		if len(acts) == 0 {
			break
		}
		for _, act := range acts {
			cells, err := activity.Rasterize(act, cellSize, trimMeters)
			if err != nil {
				failed++
				zap.L().Warn("rebuild: skipping activity",
					zap.String("activity", act.ID),
					zap.Error(err),
				)
				continue
			}
			visited.Union(cells)
			total++
		}
		if len(acts) < pageSize {
			break
		}
	}

	if err := st.ReplaceVisited(ctx, cellSize, visited); err != nil {
		return eris.Wrap(err, "rebuild: replace visited cells")
	}
	rects := compact.Compact(visited)
	if err := st.SaveRects(ctx, cellSize, rects); err != nil {
		return eris.Wrap(err, "rebuild: save rectangles")
	}

	zap.L().Info("rebuild complete",
		zap.Float64("cell_size", cellSize),
		zap.Int("activities", total),
		zap.Int("failed", failed),
		zap.Int("cells", visited.Len()),
		zap.Int("rectangles", len(rects)),
	)
	return nil
}
