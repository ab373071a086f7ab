package tiger

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ImportOptions configures a PLACE import run.
type ImportOptions struct {
	States      []string // USPS abbreviations; empty = all 50 states + DC
	TempDir     string   // download directory
	Concurrency int      // parallel state downloads (default 3)
}

// Places downloads and parses PLACE shapefiles for the requested states.
// States download in parallel; results keep the requested state order.
func (d *Downloader) Places(ctx context.Context, opts ImportOptions) ([]Place, error) {
	states := opts.States
	if len(states) == 0 {
		states = AllStateAbbrs()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.TempDir == "" {
		opts.TempDir = "/tmp/tessera-tiger"
	}

	// Pre-validate all state abbreviations before starting any work.
	fips := make([]string, len(states))
	for i, abbr := range states {
		code, ok := FIPSCodes[strings.ToUpper(abbr)]
		if !ok {
			return nil, eris.Errorf("tiger: unknown state %q", abbr)
		}
		fips[i] = code
	}

	log := zap.L().With(
		zap.String("component", "tiger.loader"),
		zap.Int("year", d.Year),
	)

	byState := make([][]Place, len(states))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for i, code := range fips {
		i, code := i, code
		g.Go(func() error {
			destDir := filepath.Join(opts.TempDir, code)
			shpPath, err := d.PlaceShapefile(gCtx, code, destDir)
			if err != nil {
				return eris.Wrapf(err, "tiger: state %s", states[i])
			}
			places, err := ParsePlaces(shpPath)
			if err != nil {
				return eris.Wrapf(err, "tiger: state %s", states[i])
			}
			byState[i] = places
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Place
	for _, ps := range byState {
		all = append(all, ps...)
	}
	log.Info("PLACE shapefiles parsed",
		zap.Int("states", len(states)),
		zap.Int("places", len(all)),
	)
	return all, nil
}
