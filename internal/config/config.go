package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Grid     GridConfig     `yaml:"grid" mapstructure:"grid"`
	Privacy  PrivacyConfig  `yaml:"privacy" mapstructure:"privacy"`
	Roadnet  RoadnetConfig  `yaml:"roadnet" mapstructure:"roadnet"`
	Coverage CoverageConfig `yaml:"coverage" mapstructure:"coverage"`
	Boundary BoundaryConfig `yaml:"boundary" mapstructure:"boundary"`
	Tiger    TigerConfig    `yaml:"tiger" mapstructure:"tiger"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GridConfig fixes the cell resolution used for rasterization and storage.
type GridConfig struct {
	CellSize float64 `yaml:"cell_size" mapstructure:"cell_size"`
}

// PrivacyConfig controls track anonymization before rasterization.
type PrivacyConfig struct {
	TrimMeters float64 `yaml:"trim_meters" mapstructure:"trim_meters"`
}

// RoadnetConfig configures the road vector-tile client and its caches.
type RoadnetConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Source           string `yaml:"source" mapstructure:"source"`
	SourcesFile      string `yaml:"sources_file" mapstructure:"sources_file"`
	Zoom             int    `yaml:"zoom" mapstructure:"zoom"`
	Workers          int    `yaml:"workers" mapstructure:"workers"`
	FetchTimeoutSecs int    `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	MemTiles         int    `yaml:"mem_tiles" mapstructure:"mem_tiles"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	RedisAddr        string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisTTLHours    int    `yaml:"redis_ttl_hours" mapstructure:"redis_ttl_hours"`
}

// CoverageConfig configures coverage reporting.
type CoverageConfig struct {
	Top int `yaml:"top" mapstructure:"top"`
}

// BoundaryConfig configures the city-boundary geocoding client.
type BoundaryConfig struct {
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgent  string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// TigerConfig configures Census TIGER place imports.
type TigerConfig struct {
	Year    int    `yaml:"year" mapstructure:"year"`
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TESSERA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "tessera.db")
	v.SetDefault("grid.cell_size", 25.0)
	v.SetDefault("privacy.trim_meters", 200.0)
	v.SetDefault("roadnet.zoom", 14)
	v.SetDefault("roadnet.workers", 32)
	v.SetDefault("roadnet.fetch_timeout_secs", 20)
	v.SetDefault("roadnet.mem_tiles", 512)
	v.SetDefault("roadnet.user_agent", "tessera/1.0 (+https://github.com/loamworks/tessera)")
	v.SetDefault("roadnet.redis_ttl_hours", 0)
	v.SetDefault("coverage.top", 10)
	v.SetDefault("boundary.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("boundary.rate_per_sec", 1.0)
	v.SetDefault("boundary.user_agent", "tessera/1.0 (+https://github.com/loamworks/tessera)")
	v.SetDefault("tiger.year", 2024)
	v.SetDefault("tiger.temp_dir", "/tmp/tessera-tiger")
	v.SetDefault("tiger.base_url", "https://www2.census.gov/geo/tiger")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields a command mode depends on. Modes: "store"
// (ingest, rebuild, cache, status), "roadnet" (coverage, cities roads),
// "import" (cities import), "serve".
func (c *Config) Validate(mode string) error {
	var problems []string

	problems = append(problems, c.validateCommon()...)

	switch mode {
	case "store":
		problems = append(problems, c.validateStore()...)
	case "roadnet":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateRoadnet()...)
	case "import":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateImport()...)
	case "serve":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateRoadnet()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid %s configuration: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateCommon() []string {
	var problems []string
	if c.Grid.CellSize <= 0 || c.Grid.CellSize > 10000 {
		problems = append(problems, "grid.cell_size must be > 0 and <= 10000")
	}
	if c.Privacy.TrimMeters < 0 {
		problems = append(problems, "privacy.trim_meters must be >= 0")
	}
	if c.Coverage.Top < 1 {
		problems = append(problems, "coverage.top must be >= 1")
	}
	return problems
}

func (c *Config) validateStore() []string {
	var problems []string
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	return problems
}

func (c *Config) validateRoadnet() []string {
	var problems []string
	if c.Roadnet.BaseURL == "" && c.Roadnet.SourcesFile == "" {
		problems = append(problems, "roadnet.base_url or roadnet.sources_file is required")
	}
	if c.Roadnet.Zoom < 0 || c.Roadnet.Zoom > 22 {
		problems = append(problems, "roadnet.zoom must be between 0 and 22")
	}
	if c.Roadnet.Workers < 1 || c.Roadnet.Workers > 128 {
		problems = append(problems, "roadnet.workers must be between 1 and 128")
	}
	if c.Roadnet.FetchTimeoutSecs <= 0 {
		problems = append(problems, "roadnet.fetch_timeout_secs must be > 0")
	}
	return problems
}

func (c *Config) validateImport() []string {
	var problems []string
	if c.Tiger.Year < 2010 || c.Tiger.Year > 2100 {
		problems = append(problems, "tiger.year must be between 2010 and 2100")
	}
	if c.Tiger.TempDir == "" {
		problems = append(problems, "tiger.temp_dir is required")
	}
	if c.Boundary.RatePerSec <= 0 {
		problems = append(problems, "boundary.rate_per_sec must be > 0")
	}
	return problems
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
