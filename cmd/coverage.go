package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/loamworks/tessera/internal/cover"
	"github.com/loamworks/tessera/internal/roadnet"
	"github.com/loamworks/tessera/internal/store"
)

var (
	coverageBBox     string
	coverageCellSize float64
	coverageJSON     bool
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Road coverage inside a bounding box",
	Long: `Resolves the road network inside a bounding box from the configured tile
source and reports how much of it the visited-cell set covers. Matching is
fuzzy: a road cell counts as visited when it or any of its 8 neighbors is.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("roadnet"); err != nil {
			return err
		}

		bbox, err := parseBBox(coverageBBox)
		if err != nil {
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

		cellSize := coverageCellSize
		if cellSize == 0 {
			cellSize = cfg.Grid.CellSize
		}

		report, err := coverageReport(ctx, st, road, bbox, cellSize, cfg.Roadnet.Zoom)
		if err != nil {
			return err
		}

		if coverageJSON {
			return json.NewEncoder(os.Stdout).Encode(report)
		}

		fmt.Printf("Road cells:     %d\n", report.RoadCells)
		fmt.Printf("Visited:        %d\n", report.VisitedRoadCells)
		fmt.Printf("Coverage:       %.1f%%\n", report.Percentage)
		stats := road.Stats()
		fmt.Printf("Tile fetches:   %d (errors %d, skipped %d)\n",
			stats.Fetches, stats.FetchErrors, stats.Skipped)
		if stats.Skipped > 0 || stats.FetchErrors > 0 {
			fmt.Println("Partial coverage: some tiles were unavailable")
		}
		return nil
	},
}

func init() {
	coverageCmd.Flags().StringVar(&coverageBBox, "bbox", "", "bounding box as minLng,minLat,maxLng,maxLat (required)")
	coverageCmd.Flags().Float64Var(&coverageCellSize, "cell-size", 0, "grid cell size in meters (default from config)")
	coverageCmd.Flags().BoolVar(&coverageJSON, "json", false, "emit JSON instead of text")
	_ = coverageCmd.MarkFlagRequired("bbox")
	rootCmd.AddCommand(coverageCmd)
}

// coverageResult is one bbox coverage report.
type coverageResult struct {
	BBox             roadnet.BBox `json:"bbox"`
	CellSize         float64      `json:"cell_size"`
	RoadCells        int          `json:"road_cells"`
	VisitedRoadCells int          `json:"visited_road_cells"`
	Percentage       float64      `json:"percentage"`
}

// coverageReport computes road coverage for one bounding box.
func coverageReport(ctx context.Context, st store.Store, road roadCellSource, bbox roadnet.BBox, cellSize float64, zoom int) (*coverageResult, error) {
	roadCells, err := road.GetRoadCells(ctx, bbox, cellSize, zoom)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: road cells")
	}
	visited, err := st.Visited(ctx, cellSize)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: visited cells")
	}
	return &coverageResult{
		BBox:             bbox,
		CellSize:         cellSize,
		RoadCells:        roadCells.Len(),
		VisitedRoadCells: cover.VisitedCount(roadCells, visited),
		Percentage:       cover.VisitedPercentage(roadCells, visited),
	}, nil
}

// parseBBox parses a "minLng,minLat,maxLng,maxLat" string.
func parseBBox(s string) (roadnet.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return roadnet.BBox{}, eris.Errorf("bbox must be minLng,minLat,maxLng,maxLat, got %q", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return roadnet.BBox{}, eris.Wrapf(err, "bbox component %d of %q", i+1, s)
		}
		vals[i] = v
	}
	bbox := roadnet.BBox{MinLng: vals[0], MinLat: vals[1], MaxLng: vals[2], MaxLat: vals[3]}
	if !bbox.Valid() {
		return roadnet.BBox{}, eris.Errorf("bbox %q is not a valid box", s)
	}
	return bbox, nil
}
