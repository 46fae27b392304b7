package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Snapshot SnapshotConfig `yaml:"snapshot" mapstructure:"snapshot"`
	Coverage CoverageConfig `yaml:"coverage" mapstructure:"coverage"`
	Matcher  MatcherConfig  `yaml:"matcher" mapstructure:"matcher"`
	Map      MapConfig      `yaml:"map" mapstructure:"map"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// SourceConfig selects and configures where siting data comes from.
type SourceConfig struct {
	Driver              string  `yaml:"driver" mapstructure:"driver"` // "api" or "postgres"
	BaseURL             string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey              string  `yaml:"api_key" mapstructure:"api_key"`
	RateLimit           float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts       int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs      int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
	DatabaseURL         string  `yaml:"database_url" mapstructure:"database_url"`
	MaxConns            int32   `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns            int32   `yaml:"min_conns" mapstructure:"min_conns"`
}

// Timeout returns the HTTP client timeout.
func (c SourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// SnapshotConfig configures the local SQLite fallback cache.
type SnapshotConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// CoverageConfig configures the coverage radius model.
type CoverageConfig struct {
	PolicyFile        string  `yaml:"policy_file" mapstructure:"policy_file"`
	TravelTimeMinutes float64 `yaml:"travel_time_minutes" mapstructure:"travel_time_minutes"`
	FallbackSpeedKmh  float64 `yaml:"fallback_speed_kmh" mapstructure:"fallback_speed_kmh"`
	TransportMode     string  `yaml:"transport_mode" mapstructure:"transport_mode"`
}

// MatcherConfig configures facility-type filter matching.
type MatcherConfig struct {
	// MedicalAdjacent lists the filters under which clinic gap zones also show.
	MedicalAdjacent []string `yaml:"medical_adjacent" mapstructure:"medical_adjacent"`
}

// MapConfig holds the initial view and layer tunables.
type MapConfig struct {
	CenterLat         float64  `yaml:"center_lat" mapstructure:"center_lat"`
	CenterLon         float64  `yaml:"center_lon" mapstructure:"center_lon"`
	Zoom              int      `yaml:"zoom" mapstructure:"zoom"`
	SelectMinZoom     int      `yaml:"select_min_zoom" mapstructure:"select_min_zoom"`
	TypeFilter        string   `yaml:"type_filter" mapstructure:"type_filter"`
	Visible           []string `yaml:"visible" mapstructure:"visible"`
	HighlightRadiusM  float64  `yaml:"highlight_radius_m" mapstructure:"highlight_radius_m"`
	HighlightTTLMs    int      `yaml:"highlight_ttl_ms" mapstructure:"highlight_ttl_ms"`
	HeatmapScale      float64  `yaml:"heatmap_scale" mapstructure:"heatmap_scale"`
	HeatmapCeiling    float64  `yaml:"heatmap_ceiling" mapstructure:"heatmap_ceiling"`
	MaxCallbackDepth  int      `yaml:"max_callback_depth" mapstructure:"max_callback_depth"`
	DistrictTimeoutMs int      `yaml:"district_timeout_ms" mapstructure:"district_timeout_ms"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
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
	v.SetEnvPrefix("COVERAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("source.driver", "api")
	v.SetDefault("source.base_url", "http://localhost:8000/api")
	v.SetDefault("source.rate_limit", 10.0)
	v.SetDefault("source.timeout_secs", 30)
	v.SetDefault("source.retry_attempts", 3)
	v.SetDefault("source.retry_backoff_ms", 250)
	v.SetDefault("source.breaker_threshold", 5)
	v.SetDefault("source.breaker_cooldown_secs", 30)
	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.path", "coverage-snapshots.db")
	v.SetDefault("coverage.travel_time_minutes", 15.0)
	v.SetDefault("coverage.fallback_speed_kmh", 15.0)
	v.SetDefault("matcher.medical_adjacent", []string{"hospital", "polyclinic"})
	v.SetDefault("map.center_lat", 43.238949)
	v.SetDefault("map.center_lon", 76.889709)
	v.SetDefault("map.zoom", 12)
	v.SetDefault("map.select_min_zoom", 14)
	v.SetDefault("map.type_filter", "all")
	v.SetDefault("map.visible", []string{"facilities", "recommendations"})
	v.SetDefault("map.highlight_radius_m", 150.0)
	v.SetDefault("map.highlight_ttl_ms", 3000)
	v.SetDefault("map.heatmap_scale", 2.0)
	v.SetDefault("map.heatmap_ceiling", 1.0)
	v.SetDefault("map.max_callback_depth", 8)
	v.SetDefault("map.district_timeout_ms", 15000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
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

// Validate checks the values a command needs. mode is the command name:
// "serve", "layers", "import" or "radius". All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	needSource := false
	switch mode {
	case "serve", "layers":
		needSource = true
	case "import":
		// import always reads the API and writes Postgres.
		if c.Source.BaseURL == "" {
			errs = append(errs, "source.base_url is required")
		}
		if c.Source.DatabaseURL == "" {
			errs = append(errs, "source.database_url is required")
		}
	case "radius":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needSource {
		switch c.Source.Driver {
		case "api":
			if c.Source.BaseURL == "" {
				errs = append(errs, "source.base_url is required for the api driver")
			}
		case "postgres":
			if c.Source.DatabaseURL == "" {
				errs = append(errs, "source.database_url is required for the postgres driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("source.driver must be api or postgres, got %q", c.Source.Driver))
		}
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Coverage.TravelTimeMinutes <= 0 {
		errs = append(errs, "coverage.travel_time_minutes must be > 0")
	}
	if c.Coverage.FallbackSpeedKmh <= 0 {
		errs = append(errs, "coverage.fallback_speed_kmh must be > 0")
	}
	if c.Map.HeatmapScale <= 0 || c.Map.HeatmapCeiling <= 0 {
		errs = append(errs, "map.heatmap_scale and map.heatmap_ceiling must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
