package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/loamworks/tessera/internal/activity"
	"github.com/loamworks/tessera/internal/compact"
	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/store"
)

var (
	ingestCellSize    float64
	ingestConcurrency int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest GPX or JSON activity files",
	Long: `Reads activities from GPX tracks or JSON exports, rasterizes each track
onto the grid, and persists the activities, the visited-cell set, and a
recompacted rectangle snapshot.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		acts, err := loadActivityFiles(args)
		if err != nil {
			return err
		}

		cellSize := ingestCellSize
		if cellSize == 0 {
			cellSize = cfg.Grid.CellSize
		}

		_, _, err = ingestActivities(ctx, st, acts, cellSize, cfg.Privacy.TrimMeters, ingestConcurrency)
		return err
	},
}

func init() {
	ingestCmd.Flags().Float64Var(&ingestCellSize, "cell-size", 0, "grid cell size in meters (default from config)")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 8, "parallel rasterizations")
	rootCmd.AddCommand(ingestCmd)
}

// loadActivityFiles reads activities from the given paths, picking the parser
// by file extension.
func loadActivityFiles(paths []string) ([]activity.Activity, error) {
	var acts []activity.Activity
	for _, path := range paths {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".gpx":
			a, err := activity.FromGPX(path)
			if err != nil {
				return nil, err
			}
			acts = append(acts, a...)
		case ".json":
			f, err := os.Open(path)
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: open %s", path)
			}
			a, err := activity.FromJSON(f)
			_ = f.Close()
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: %s", path)
			}
			acts = append(acts, a...)
		default:
			return nil, eris.Errorf("ingest: unsupported file type %s (want .gpx or .json)", path)
		}
	}
	return acts, nil
}

// ingestActivities rasterizes and persists a batch of activities, returning
// how many succeeded and failed. Rasterization runs concurrently with the
// visited union behind one mutex; a bad activity is logged and skipped.
// Rectangles are recompacted from the full stored set once the batch lands.
func ingestActivities(ctx context.Context, st store.Store, acts []activity.Activity, cellSize, trimMeters float64, concurrency int) (int64, int64, error) {
	if len(acts) == 0 {
		zap.L().Info("no activities to ingest")
		return 0, 0, nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("ingesting activities",
		zap.Int("activities", len(acts)),
		zap.Float64("cell_size", cellSize),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64
	var mu sync.Mutex
	batch := grid.NewCellSet()

	for _, act := range acts {
		act := act
		g.Go(func() error {
			log := zap.L().With(zap.String("activity", act.ID), zap.String("name", act.Name))

			cells, err := activity.Rasterize(act, cellSize, trimMeters)
			if err != nil {
				failed.Add(1)
				log.Error("rasterize failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}
			if err := st.SaveActivity(gctx, &act); err != nil {
				failed.Add(1)
				log.Error("save activity failed", zap.Error(err))
				return nil
			}

			mu.Lock()
			batch.Union(cells)
			mu.Unlock()

			succeeded.Add(1)
			log.Debug("activity rasterized", zap.Int("cells", cells.Len()))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return succeeded.Load(), failed.Load(), eris.Wrap(err, "ingest batch")
	}

	if err := st.AddVisited(ctx, cellSize, batch); err != nil {
		return succeeded.Load(), failed.Load(), eris.Wrap(err, "ingest: add visited cells")
	}
	if err := recompact(ctx, st, cellSize); err != nil {
		return succeeded.Load(), failed.Load(), err
	}

	zap.L().Info("ingest complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Int("new_cells", batch.Len()),
	)
	return succeeded.Load(), failed.Load(), nil
}

// recompact rebuilds the rectangle snapshot from the full visited set at one
// cell size.
func recompact(ctx context.Context, st store.Store, cellSize float64) error {
	visited, err := st.Visited(ctx, cellSize)
	if err != nil {
		return eris.Wrap(err, "recompact: load visited cells")
	}
	rects := compact.Compact(visited)
	if err := st.SaveRects(ctx, cellSize, rects); err != nil {
		return eris.Wrap(err, "recompact: save rectangles")
	}
	return nil
}
