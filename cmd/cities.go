package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/loamworks/tessera/internal/city"
)

var citiesCmd = &cobra.Command{
	Use:   "cities",
	Short: "Manage tracked cities",
	Long:  "Import city boundaries, compute their road cells, and rank coverage per city.",
}

func init() {
	rootCmd.AddCommand(citiesCmd)
}

var citiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked cities",
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

		cities, err := st.ListCities(ctx)
		if err != nil {
			return eris.Wrap(err, "cities list")
		}
		if len(cities) == 0 {
			fmt.Println("No cities tracked yet")
			return nil
		}

		formatCities(os.Stdout, cities)
		return nil
	},
}

func init() {
	citiesCmd.AddCommand(citiesListCmd)
}

// formatCities writes a tabular city listing to w. Road cells show "pending"
// until computed; a computed-empty set shows 0.
func formatCities(w io.Writer, cities []city.City) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCOUNTRY\tREGION\tCELL SIZE\tINTERIOR\tROADS")
	for _, c := range cities {
		roads := "pending"
		if c.RoadsComputed {
			roads = strconv.Itoa(c.Roads.Len())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0fm\t%d\t%s\n",
			c.Name, c.Country, c.Region, c.CellSize, c.Interior.Len(), roads)
	}
	_ = tw.Flush()
}
