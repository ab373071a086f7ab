package main

import (
	"context"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/loamworks/tessera/internal/city"
	"github.com/loamworks/tessera/internal/store"
)

var (
	citiesRoadsRecompute   bool
	citiesRoadsConcurrency int
)

var citiesRoadsCmd = &cobra.Command{
	Use:   "roads [city names...]",
	Short: "Compute road cells for tracked cities",
	Long: `Resolves the road network inside each city boundary from the configured
tile source and stores the result. Without arguments, every city still
pending computation is processed; --recompute reprocesses computed ones too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("roadnet"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		road, err := initRoadClient(ctx, st)
		if err != nil {
			return err
		}

		cities, err := st.ListCities(ctx)
		if err != nil {
			return eris.Wrap(err, "cities roads: list")
		}

		targets, err := selectCities(cities, args, citiesRoadsRecompute)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			zap.L().Info("no cities need road computation")
			return nil
		}

		return computeCityRoads(ctx, st, road, targets, cfg.Roadnet.Zoom, citiesRoadsConcurrency)
	},
}

func init() {
	citiesRoadsCmd.Flags().BoolVar(&citiesRoadsRecompute, "recompute", false, "recompute cities that already have road cells")
	citiesRoadsCmd.Flags().IntVar(&citiesRoadsConcurrency, "concurrency", 4, "cities processed in parallel")
	citiesCmd.AddCommand(citiesRoadsCmd)
}

// selectCities resolves which cities to process. Explicit names must all
// match; without names, computed cities are skipped unless recompute is set.
func selectCities(cities []city.City, names []string, recompute bool) ([]*city.City, error) {
	if len(names) == 0 {
		var targets []*city.City
		for i := range cities {
			if cities[i].RoadsComputed && !recompute {
				continue
			}
			targets = append(targets, &cities[i])
		}
		return targets, nil
	}

	byName := make(map[string]*city.City, len(cities))
	for i := range cities {
		byName[strings.ToLower(cities[i].Name)] = &cities[i]
	}

	targets := make([]*city.City, 0, len(names))
	for _, name := range names {
		c, ok := byName[strings.ToLower(name)]
		if !ok {
			return nil, eris.Errorf("cities roads: unknown city %q", name)
		}
		targets = append(targets, c)
	}
	return targets, nil
}

// computeCityRoads runs road computation over a bounded pool. One city's
// failure is logged and the rest keep going.
func computeCityRoads(ctx context.Context, st store.Store, road roadCellSource, targets []*city.City, zoom, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("computing city roads",
		zap.Int("cities", len(targets)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64
	for _, c := range targets {
		c := c
		g.Go(func() error {
			log := zap.L().With(zap.String("city", c.Name))

			if err := city.ComputeRoads(gctx, c, road, zoom); err != nil {
				failed.Add(1)
				log.Error("road computation failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}
			if err := st.SetCityRoads(gctx, c.ID, c.Roads); err != nil {
				failed.Add(1)
				log.Error("save road cells failed", zap.Error(err))
				return nil
			}

			succeeded.Add(1)
			log.Info("road cells computed", zap.Int("cells", c.Roads.Len()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "cities roads")
	}

	zap.L().Info("road computation complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
