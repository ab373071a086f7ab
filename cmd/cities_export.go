package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/loamworks/tessera/internal/city"
	"github.com/loamworks/tessera/internal/cover"
)

var citiesExportOut string

var citiesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export city coverage to an xlsx workbook",
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
			return eris.Wrap(err, "cities export: list")
		}
		if len(cities) == 0 {
			return eris.New("cities export: no cities tracked yet")
		}

		rankings, err := rankCities(ctx, st, 0)
		if err != nil {
			return err
		}

		if err := exportCitiesXLSX(citiesExportOut, cities, rankings); err != nil {
			return err
		}

		zap.L().Info("cities exported",
			zap.String("path", citiesExportOut),
			zap.Int("cities", len(cities)),
		)
		return nil
	},
}

func init() {
	citiesExportCmd.Flags().StringVar(&citiesExportOut, "out", "cities.xlsx", "output workbook path")
	citiesCmd.AddCommand(citiesExportCmd)
}

// exportCitiesXLSX writes one row per city with its coverage numbers. Cities
// whose road cells are still pending export "pending" instead of a count.
func exportCitiesXLSX(path string, cities []city.City, rankings []cover.Ranking) error {
	byName := make(map[string]cover.Ranking, len(rankings))
	for _, r := range rankings {
		byName[r.Name] = r
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Cities")
	if err != nil {
		return eris.Wrap(err, "cities export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Name", "Country", "Region", "Cell Size", "Interior Cells", "Road Cells", "Visited", "Coverage %"} {
		header.AddCell().SetString(h)
	}

	for _, c := range cities {
		row := sheet.AddRow()
		row.AddCell().SetString(c.Name)
		row.AddCell().SetString(c.Country)
		row.AddCell().SetString(c.Region)
		row.AddCell().SetFloat(c.CellSize)
		row.AddCell().SetInt(c.Interior.Len())
		if c.RoadsComputed {
			row.AddCell().SetInt(c.Roads.Len())
		} else {
			row.AddCell().SetString("pending")
		}
		r := byName[c.Name]
		row.AddCell().SetInt(r.Visited)
		row.AddCell().SetFloatWithFormat(r.Percentage, "0.0")
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "cities export: save %s", path)
	}
	return nil
}
