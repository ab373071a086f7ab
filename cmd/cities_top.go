package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/loamworks/tessera/internal/city"
	"github.com/loamworks/tessera/internal/cover"
	"github.com/loamworks/tessera/internal/store"
)

var citiesTopN int

var citiesTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Rank tracked cities by road coverage",
	Long: `Ranks cities by how much of their target cells the visited set covers.
Cities with computed road cells rank against those; the rest rank against
their whole interior.`,
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

		n := citiesTopN
		if n == 0 {
			n = cfg.Coverage.Top
		}

		rankings, err := rankCities(ctx, st, n)
		if err != nil {
			return err
		}
		if len(rankings) == 0 {
			fmt.Println("No cities tracked yet")
			return nil
		}

		formatRankings(os.Stdout, rankings)
		return nil
	},
}

func init() {
	citiesTopCmd.Flags().IntVar(&citiesTopN, "top", 0, "number of cities to show (default from config)")
	citiesCmd.AddCommand(citiesTopCmd)
}

// rankCities ranks every tracked city against the visited set at that city's
// own cell size. Cities imported at different resolutions rank within one
// list; n <= 0 returns all.
func rankCities(ctx context.Context, st store.Store, n int) ([]cover.Ranking, error) {
	cities, err := st.ListCities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "rank cities: list")
	}
	if len(cities) == 0 {
		return nil, nil
	}

	bySize := make(map[float64][]*city.City)
	for i := range cities {
		c := &cities[i]
		bySize[c.CellSize] = append(bySize[c.CellSize], c)
	}

	var all []cover.Ranking
	for size, group := range bySize {
		visited, err := st.Visited(ctx, size)
		if err != nil {
			return nil, eris.Wrap(err, "rank cities: visited cells")
		}
		all = append(all, cover.Rank(city.RankTargets(group), visited, 0)...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Percentage != all[j].Percentage {
			return all[i].Percentage > all[j].Percentage
		}
		return all[i].Name < all[j].Name
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// formatRankings writes a tabular coverage ranking to w.
func formatRankings(w io.Writer, rankings []cover.Ranking) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tNAME\tVISITED\tTOTAL\tCOVERAGE")
	for i, r := range rankings {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%.1f%%\n", i+1, r.Name, r.Visited, r.Total, r.Percentage)
	}
	_ = tw.Flush()
}
