package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/roadnet"
	"github.com/loamworks/tessera/internal/store"
)

// roadCellSource is the road client surface the CLI and HTTP server consume,
// so tests can substitute a stub for the real tile client.
type roadCellSource interface {
	GetRoadCells(ctx context.Context, bbox roadnet.BBox, cellSize float64, zoom int) (grid.CellSet, error)
	Stats() roadnet.Stats
}

// initStore opens the configured persistence backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store

	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, eris.Wrap(err, "init sqlite store")
		}
		st = s
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "init postgres store")
		}
		st = s
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initTileStore picks where rasterized road tiles persist. Redis takes over
// when configured so multiple instances can share one expiring cache;
// otherwise tiles live in the main store.
func initTileStore(ctx context.Context, st store.Store) (roadnet.TileStore, error) {
	if cfg.Roadnet.RedisAddr == "" {
		return st, nil
	}
	ttl := time.Duration(cfg.Roadnet.RedisTTLHours) * time.Hour
	cache, err := store.NewRedisTileCache(ctx, cfg.Roadnet.RedisAddr, ttl)
	if err != nil {
		return nil, eris.Wrap(err, "init redis tile cache")
	}
	zap.L().Info("using redis tile cache",
		zap.String("addr", cfg.Roadnet.RedisAddr),
		zap.Duration("ttl", ttl),
	)
	return cache, nil
}

// resolveSource picks the tile source for this run. A sources file wins when
// configured and requires an explicit source name; otherwise roadnet.base_url
// is used directly as a single unnamed source.
func resolveSource() (roadnet.Source, error) {
	if cfg.Roadnet.SourcesFile != "" {
		sources, err := roadnet.LoadSources(cfg.Roadnet.SourcesFile)
		if err != nil {
			return roadnet.Source{}, err
		}
		if cfg.Roadnet.Source == "" {
			return roadnet.Source{}, eris.Errorf(
				"roadnet.source is required with a sources file (configured: %s)",
				strings.Join(sources.Names(), ", "))
		}
		return sources.Get(cfg.Roadnet.Source)
	}
	return roadnet.Source{Name: "default", URL: cfg.Roadnet.BaseURL}, nil
}

// initRoadClient builds the road network client from config.
func initRoadClient(ctx context.Context, st store.Store) (*roadnet.Client, error) {
	src, err := resolveSource()
	if err != nil {
		return nil, err
	}

	tiles, err := initTileStore(ctx, st)
	if err != nil {
		return nil, err
	}

	client, err := roadnet.New(src, tiles,
		roadnet.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Roadnet.FetchTimeoutSecs) * time.Second,
		}),
		roadnet.WithWorkers(cfg.Roadnet.Workers),
		roadnet.WithHotCacheSize(cfg.Roadnet.MemTiles),
		roadnet.WithUserAgent(cfg.Roadnet.UserAgent),
	)
	if err != nil {
		return nil, eris.Wrap(err, "init road client")
	}
	return client, nil
}
