package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/loamworks/tessera/internal/city"
	"github.com/loamworks/tessera/internal/fetcher"
	"github.com/loamworks/tessera/internal/store"
	"github.com/loamworks/tessera/internal/tiger"
	"github.com/loamworks/tessera/pkg/boundary"
)

var (
	citiesImportState   string
	citiesImportGeoJSON string
	citiesImportLookup  string
	citiesImportCountry string
	citiesImportName    string
)

var citiesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import city boundaries",
	Long: `Imports city boundaries from one of three sources: Census TIGER PLACE
shapefiles (--state), a GeoJSON file (--geojson), or a geocoding lookup by
name (--lookup). Each imported city is rasterized once at the configured cell
size.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		modes := 0
		for _, v := range []string{citiesImportState, citiesImportGeoJSON, citiesImportLookup} {
			if v != "" {
				modes++
			}
		}
		if modes != 1 {
			return eris.New("exactly one of --state, --geojson, or --lookup is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		switch {
		case citiesImportState != "":
			return importFromTiger(ctx, st, splitAndTrim(citiesImportState))
		case citiesImportGeoJSON != "":
			return importFromGeoJSON(ctx, st, citiesImportGeoJSON)
		default:
			return importFromLookup(ctx, st, citiesImportLookup, citiesImportCountry)
		}
	},
}

func init() {
	citiesImportCmd.Flags().StringVar(&citiesImportState, "state", "", "comma-separated state abbreviations for a TIGER PLACE import")
	citiesImportCmd.Flags().StringVar(&citiesImportGeoJSON, "geojson", "", "path to a GeoJSON feature collection of city boundaries")
	citiesImportCmd.Flags().StringVar(&citiesImportLookup, "lookup", "", "city name to resolve via the boundary service")
	citiesImportCmd.Flags().StringVar(&citiesImportCountry, "country", "", "two-letter country code narrowing --lookup")
	citiesImportCmd.Flags().StringVar(&citiesImportName, "name", "", "override the city name for --geojson single-feature files")
	citiesCmd.AddCommand(citiesImportCmd)
}

// importFromTiger downloads PLACE shapefiles for the given states and saves
// every place as a tracked city. One bad place never aborts the import.
func importFromTiger(ctx context.Context, st store.Store, states []string) error {
	dl := &tiger.Downloader{
		FTP: fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:    cfg.Roadnet.UserAgent,
			RateLimiters: fetcher.DefaultRateLimiters(),
		}),
		BaseURL: cfg.Tiger.BaseURL,
		Year:    cfg.Tiger.Year,
	}

	places, err := dl.Places(ctx, tiger.ImportOptions{
		States:  states,
		TempDir: cfg.Tiger.TempDir,
	})
	if err != nil {
		return eris.Wrap(err, "cities import: tiger places")
	}

	zap.L().Info("importing places",
		zap.Int("places", len(places)),
		zap.Strings("states", states),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	var succeeded, failed atomic.Int64
	for _, p := range places {
		p := p
		g.Go(func() error {
			log := zap.L().With(zap.String("place", p.Name), zap.String("state", p.State))

			c, err := city.New(p.Name, "US", p.State, p.Boundary, cfg.Grid.CellSize)
			if err != nil {
				failed.Add(1)
				log.Error("rasterize place failed", zap.Error(err))
				return nil // don't abort import on individual failure
			}
			if err := st.SaveCity(gctx, c); err != nil {
				failed.Add(1)
				log.Error("save city failed", zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "cities import")
	}

	zap.L().Info("tiger import complete",
		zap.Int64("imported", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}

// importFromGeoJSON saves the polygonal features of a GeoJSON file as
// tracked cities. A single-feature file may take its name from --name.
func importFromGeoJSON(ctx context.Context, st store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "cities import: read %s", path)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		f, ferr := geojson.UnmarshalFeature(data)
		if ferr != nil {
			return eris.Wrapf(err, "cities import: parse %s", path)
		}
		fc = geojson.NewFeatureCollection()
		fc.Append(f)
	}

	var imported int
	for i, f := range fc.Features {
		boundaryMP, ok := asMultiPolygon(f.Geometry)
		if !ok {
			zap.L().Warn("skipping non-polygonal feature", zap.Int("feature", i))
			continue
		}
		name := f.Properties.MustString("name", "")
		if name == "" && len(fc.Features) == 1 {
			name = citiesImportName
		}
		if name == "" {
			zap.L().Warn("skipping unnamed feature", zap.Int("feature", i))
			continue
		}

		c, err := city.New(name,
			f.Properties.MustString("country", ""),
			f.Properties.MustString("region", ""),
			boundaryMP, cfg.Grid.CellSize)
		if err != nil {
			return eris.Wrapf(err, "cities import: feature %d", i)
		}
		if err := st.SaveCity(ctx, c); err != nil {
			return eris.Wrapf(err, "cities import: save %s", name)
		}
		imported++
		zap.L().Info("city imported",
			zap.String("city", name),
			zap.Int("cells", c.Interior.Len()),
		)
	}
	if imported == 0 {
		return eris.Errorf("cities import: no usable features in %s", path)
	}
	return nil
}

// importFromLookup resolves one city boundary through the geocoding service.
func importFromLookup(ctx context.Context, st store.Store, name, country string) error {
	client := boundary.NewClient(
		boundary.WithBaseURL(cfg.Boundary.BaseURL),
		boundary.WithRateLimit(cfg.Boundary.RatePerSec),
		boundary.WithUserAgent(cfg.Boundary.UserAgent),
	)

	lookupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	place, err := client.Search(lookupCtx, name, country)
	if err != nil {
		return eris.Wrapf(err, "cities import: lookup %q", name)
	}
	if len(place.Boundary) == 0 {
		return eris.Errorf("cities import: %q resolved without a polygonal boundary", name)
	}

	c, err := city.New(place.Name, place.Country, place.Region, place.Boundary, cfg.Grid.CellSize)
	if err != nil {
		return eris.Wrapf(err, "cities import: %q", name)
	}
	if err := st.SaveCity(ctx, c); err != nil {
		return eris.Wrapf(err, "cities import: save %s", place.Name)
	}

	zap.L().Info("city imported",
		zap.String("city", place.Name),
		zap.String("country", place.Country),
		zap.String("region", place.Region),
		zap.Int("cells", c.Interior.Len()),
	)
	return nil
}

// asMultiPolygon extracts a polygonal boundary from a geometry.
func asMultiPolygon(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch geom := g.(type) {
	case orb.MultiPolygon:
		return geom, true
	case orb.Polygon:
		return orb.MultiPolygon{geom}, true
	default:
		return nil, false
	}
}

// splitAndTrim splits a comma-separated flag value into trimmed parts.
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
