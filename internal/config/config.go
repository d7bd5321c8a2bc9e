package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Synoptic SynopticConfig `toml:"synoptic"` // Remote station-data API settings
	Cache    CacheConfig    `toml:"cache"`    // Local cache artifact settings
	Maps     MapsConfig     `toml:"maps"`     // Map rendering settings
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
}

// SynopticConfig contains the request parameters for the station API.
// Center, radius and limit are fixed per deployment, not per call.
type SynopticConfig struct {
	BaseURL               string  `toml:"base_url"`                // API root, e.g. https://api.synopticlabs.org/v2
	Token                 string  `toml:"token"`                   // API token; prefer SYNOPTIC_TOKEN in the environment
	Status                string  `toml:"status"`                  // Station status filter (default "active")
	Latitude              float64 `toml:"latitude"`                // Query center latitude in decimal degrees
	Longitude             float64 `toml:"longitude"`               // Query center longitude in decimal degrees
	RadiusKM              float64 `toml:"radius_km"`               // Search radius around the center in kilometers
	Limit                 int     `toml:"limit"`                   // Maximum number of stations returned
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"` // HTTP timeout for one fetch
	AuditPath             string  `toml:"audit_path"`              // Raw station list written after every successful fetch
}

// CacheConfig contains cache artifact configuration
type CacheConfig struct {
	Backend       string `toml:"backend"`         // "ndjson", "parquet" or "sqlite"
	Dir           string `toml:"dir"`             // Directory holding <kind>.ndjson / <kind>.parquet
	SQLitePath    string `toml:"sqlite_path"`     // Database file for the sqlite backend
	MaxAgeMinutes int    `toml:"max_age_minutes"` // 0 = a present artifact never expires
}

// MapsConfig contains map rendering settings
type MapsConfig struct {
	HTMLPath string `toml:"html_path"` // Interactive map output
	PNGPath  string `toml:"png_path"`  // Static map output
	Zoom     int    `toml:"zoom"`      // Initial zoom of the interactive map
	TileURL  string `toml:"tile_url"`  // Leaflet tile layer URL template
	Width    int    `toml:"width"`     // Static map width in pixels
	Height   int    `toml:"height"`    // Static map height in pixels
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Host             string `toml:"host"`                  // Host address to bind to
	Port             int    `toml:"port"`                  // HTTP port
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (map renders can be slow)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
	StaticFilesDir   string `toml:"static_files_dir"`      // Optional directory served at / (empty disables)
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// envOverrides lists the settings that may come from the environment.
// Unset variables leave the file value alone.
type envOverrides struct {
	Token      string `env:"SYNOPTIC_TOKEN"`
	BaseURL    string `env:"STATIONMAP_BASE_URL"`
	CacheDir   string `env:"STATIONMAP_CACHE_DIR"`
	Backend    string `env:"STATIONMAP_CACHE_BACKEND"`
	LogLevel   string `env:"STATIONMAP_LOG_LEVEL"`
	ServerPort int    `env:"STATIONMAP_PORT"`
}

// Default returns the configuration used when no file overrides a value
func Default() *Config {
	return &Config{
		Synoptic: SynopticConfig{
			BaseURL:               "https://api.synopticlabs.org/v2",
			Status:                "active",
			Latitude:              40.667882,
			Longitude:             -111.924244,
			RadiusKM:              16,
			Limit:                 1000,
			RequestTimeoutSeconds: 30,
			AuditPath:             "station_metadata.json",
		},
		Cache: CacheConfig{
			Backend:    "ndjson",
			Dir:        ".",
			SQLitePath: "stations.db",
		},
		Maps: MapsConfig{
			HTMLPath: "map.html",
			PNGPath:  "map.png",
			Zoom:     10,
			TileURL:  "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			Width:    1200,
			Height:   1200,
		},
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8080,
			ReadTimeoutSecs:  15,
			WriteTimeoutSecs: 60,
			IdleTimeoutSecs:  60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads the configuration from the specified file path on top of the defaults
func Load(path string) (*Config, error) {
	config := Default()

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference.
// An explicitly requested path must exist; otherwise the defaults are used when no file is found.
// Environment overrides are applied last in every case.
func LoadWithFallback(preferredPath string) (*Config, error) {
	var config *Config

	if preferredPath != "" {
		c, err := Load(preferredPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", preferredPath, err)
		}
		config = c
	} else {
		// List of paths to check in order of preference
		searchPaths := []string{
			"configs/config.toml",
			"config.toml",
		}

		for _, path := range searchPaths {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			c, err := Load(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
			}
			config = c
			break
		}
		if config == nil {
			config = Default()
		}
	}

	if err := config.ApplyEnv(context.Background(), ".env"); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv loads dotenvPath (when present) into the process environment and then
// overrides config values from it
func (c *Config) ApplyEnv(ctx context.Context, dotenvPath string) error {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", dotenvPath, err)
		}
	}
	return c.applyLookuper(ctx, envconfig.OsLookuper())
}

func (c *Config) applyLookuper(ctx context.Context, lookuper envconfig.Lookuper) error {
	var env envOverrides
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &env,
		Lookuper: lookuper,
	}); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}

	if env.Token != "" {
		c.Synoptic.Token = env.Token
	}
	if env.BaseURL != "" {
		c.Synoptic.BaseURL = env.BaseURL
	}
	if env.CacheDir != "" {
		c.Cache.Dir = env.CacheDir
	}
	if env.Backend != "" {
		c.Cache.Backend = env.Backend
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.ServerPort != 0 {
		c.Server.Port = env.ServerPort
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.ValidateSynoptic(); err != nil {
		return err
	}
	if err := c.ValidateCache(); err != nil {
		return err
	}
	if err := c.ValidateMaps(); err != nil {
		return err
	}

	// Validate server config
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.StaticFilesDir != "" {
		if _, err := os.Stat(c.Server.StaticFilesDir); os.IsNotExist(err) {
			return fmt.Errorf("static files directory does not exist: %s", c.Server.StaticFilesDir)
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid log level
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
		// Valid log format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// ValidateSynoptic validates the remote API configuration.
// The token is not required here so that cached data can be served without one.
func (c *Config) ValidateSynoptic() error {
	s := c.Synoptic

	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("synoptic base_url must be an absolute URL: %q", s.BaseURL)
	}

	if math.IsNaN(s.Latitude) || s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("invalid synoptic latitude: %f", s.Latitude)
	}
	if math.IsNaN(s.Longitude) || s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("invalid synoptic longitude: %f", s.Longitude)
	}
	if s.RadiusKM <= 0 {
		return fmt.Errorf("synoptic radius_km must be greater than 0: %f", s.RadiusKM)
	}
	if s.Limit <= 0 {
		return fmt.Errorf("synoptic limit must be greater than 0: %d", s.Limit)
	}
	if s.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("synoptic request_timeout_seconds must be greater than 0: %d", s.RequestTimeoutSeconds)
	}
	if strings.TrimSpace(s.Status) == "" {
		return fmt.Errorf("synoptic status cannot be empty")
	}
	if s.AuditPath == "" {
		return fmt.Errorf("synoptic audit_path cannot be empty")
	}

	return nil
}

// ValidateCache validates the cache configuration
func (c *Config) ValidateCache() error {
	switch c.Cache.Backend {
	case "ndjson", "parquet":
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache dir is required for the %s backend", c.Cache.Backend)
		}
	case "sqlite":
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("cache sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (expected ndjson, parquet or sqlite)", c.Cache.Backend)
	}

	if c.Cache.MaxAgeMinutes < 0 {
		return fmt.Errorf("cache max_age_minutes must be 0 or greater: %d", c.Cache.MaxAgeMinutes)
	}
	return nil
}

// ValidateMaps validates the map rendering configuration
func (c *Config) ValidateMaps() error {
	if c.Maps.Zoom < 0 || c.Maps.Zoom > 19 {
		return fmt.Errorf("maps zoom must be between 0 and 19: %d", c.Maps.Zoom)
	}
	if c.Maps.Width <= 0 || c.Maps.Height <= 0 {
		return fmt.Errorf("maps width and height must be positive: %dx%d", c.Maps.Width, c.Maps.Height)
	}
	if c.Maps.TileURL == "" {
		return fmt.Errorf("maps tile_url cannot be empty")
	}
	return nil
}
