package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "tessera.db", cfg.Store.Path)
	assert.InDelta(t, 25.0, cfg.Grid.CellSize, 0.001)
	assert.InDelta(t, 200.0, cfg.Privacy.TrimMeters, 0.001)
	assert.Equal(t, 14, cfg.Roadnet.Zoom)
	assert.Equal(t, 32, cfg.Roadnet.Workers)
	assert.Equal(t, 20, cfg.Roadnet.FetchTimeoutSecs)
	assert.Equal(t, 512, cfg.Roadnet.MemTiles)
	assert.Empty(t, cfg.Roadnet.RedisAddr)
	assert.Equal(t, 10, cfg.Coverage.Top)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Boundary.BaseURL)
	assert.InDelta(t, 1.0, cfg.Boundary.RatePerSec, 0.001)
	assert.Equal(t, 2024, cfg.Tiger.Year)
	assert.Equal(t, "https://www2.census.gov/geo/tiger", cfg.Tiger.BaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/tessera
grid:
  cell_size: 50
roadnet:
  base_url: https://tiles.example.com/{z}/{x}/{y}.mvt
  workers: 8
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/tessera", cfg.Store.DatabaseURL)
	assert.InDelta(t, 50.0, cfg.Grid.CellSize, 0.001)
	assert.Equal(t, "https://tiles.example.com/{z}/{x}/{y}.mvt", cfg.Roadnet.BaseURL)
	assert.Equal(t, 8, cfg.Roadnet.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 14, cfg.Roadnet.Zoom)
	assert.InDelta(t, 200.0, cfg.Privacy.TrimMeters, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TESSERA_STORE_DRIVER", "postgres")
	t.Setenv("TESSERA_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("TESSERA_SERVER_PORT", "3000")
	t.Setenv("TESSERA_GRID_CELL_SIZE", "12.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.InDelta(t, 12.5, cfg.Grid.CellSize, 0.001)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the defaults a fresh Load produces,
// for validation tests that tweak single fields.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "tessera.db"
	cfg.Grid.CellSize = 25
	cfg.Privacy.TrimMeters = 200
	cfg.Roadnet.BaseURL = "https://tiles.example.com/{z}/{x}/{y}.mvt"
	cfg.Roadnet.Zoom = 14
	cfg.Roadnet.Workers = 32
	cfg.Roadnet.FetchTimeoutSecs = 20
	cfg.Coverage.Top = 10
	cfg.Boundary.RatePerSec = 1
	cfg.Tiger.Year = 2024
	cfg.Tiger.TempDir = "/tmp/tessera-tiger"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateStore_SQLiteNeedsPath(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Path = ""
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.path is required")
}

func TestValidateStore_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/tessera"
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateStore_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateRoadnet_NeedsSource(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("roadnet"))

	cfg.Roadnet.BaseURL = ""
	err := cfg.Validate("roadnet")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "roadnet.base_url or roadnet.sources_file")

	cfg.Roadnet.SourcesFile = "sources.yaml"
	assert.NoError(t, cfg.Validate("roadnet"))
}

func TestValidateRoadnet_Bounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Roadnet.Zoom = 23
	err := cfg.Validate("roadnet")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "roadnet.zoom must be between 0 and 22")

	cfg.Roadnet.Zoom = 14
	cfg.Roadnet.Workers = 0
	err = cfg.Validate("roadnet")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "roadnet.workers must be between 1 and 128")

	cfg.Roadnet.Workers = 129
	err = cfg.Validate("roadnet")
	assert.Error(t, err)

	cfg.Roadnet.Workers = 128
	assert.NoError(t, cfg.Validate("roadnet"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateImport(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("import"))

	cfg.Tiger.Year = 1999
	err := cfg.Validate("import")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tiger.year")

	cfg.Tiger.Year = 2024
	cfg.Tiger.TempDir = ""
	err = cfg.Validate("import")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tiger.temp_dir is required")

	cfg.Tiger.TempDir = "/tmp/x"
	cfg.Boundary.RatePerSec = 0
	err = cfg.Validate("import")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boundary.rate_per_sec must be > 0")
}

func TestValidateCommonBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Grid.CellSize = 0
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "grid.cell_size must be > 0")

	cfg.Grid.CellSize = 25
	cfg.Privacy.TrimMeters = -1
	err = cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "privacy.trim_meters must be >= 0")

	cfg.Privacy.TrimMeters = 0
	cfg.Coverage.Top = 0
	err = cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "coverage.top must be >= 1")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Path = ""
	cfg.Grid.CellSize = -5

	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "grid.cell_size")
	assert.Contains(t, err.Error(), "store.path")
}
