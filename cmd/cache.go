package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the road tile cache",
}

func init() {
	rootCmd.AddCommand(cacheCmd)
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show tile cache statistics",
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

		stats, err := st.TileCacheStats(ctx)
		if err != nil {
			return eris.Wrap(err, "cache stats")
		}

		fmt.Printf("Entries: %d\n", stats.Entries)
		fmt.Printf("Bytes:   %d\n", stats.Bytes)
		return nil
	},
}

var cacheClearCellSize float64

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear cached road tiles",
	Long: `Removes cached tile rasterizations. With --cell-size only entries for that
resolution are dropped; without it the whole cache goes.`,
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

		var cellSize *float64
		if cacheClearCellSize > 0 {
			cellSize = &cacheClearCellSize
		}

		removed, err := st.ClearTileCache(ctx, cellSize)
		if err != nil {
			return eris.Wrap(err, "cache clear")
		}

		zap.L().Info("tile cache cleared", zap.Int("removed", removed))
		fmt.Printf("Removed %d cached tiles\n", removed)
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().Float64Var(&cacheClearCellSize, "cell-size", 0, "only clear entries for this cell size")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
