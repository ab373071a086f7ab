package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loamworks/tessera/internal/monitoring"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a snapshot of the stored state",
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

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, cfg.Grid.CellSize)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		fmt.Println("=== Tessera Status ===")
		fmt.Printf("Activities:       %d\n", snap.Activities)
		fmt.Printf("Cell size:        %.0fm\n", snap.CellSize)
		fmt.Printf("Visited cells:    %d\n", snap.VisitedCells)
		fmt.Printf("Rectangles:       %d\n", snap.Rectangles)
		fmt.Printf("Cities:           %d (%d with roads)\n", snap.Cities, snap.CitiesWithRoads)
		fmt.Printf("Tile cache:       %d entries, %d bytes\n", snap.TileCache.Entries, snap.TileCache.Bytes)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON instead of text")
	rootCmd.AddCommand(statusCmd)
}
