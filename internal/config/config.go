package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment overrides, applied after the TOML file so secrets can stay out of it
const (
	EnvRedisAddr     = "EDST_REDIS_ADDR"
	EnvRedisPassword = "EDST_REDIS_PASSWORD"
	EnvNATSURL       = "EDST_NATS_URL"
	EnvFeedURL       = "EDST_FEED_URL"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server     ServerConfig     `toml:"server"`     // HTTP server settings
	Logging    LoggingConfig    `toml:"logging"`    // Application logging settings
	Feed       FeedConfig       `toml:"feed"`       // VATSIM data feed settings
	Reconciler ReconcilerConfig `toml:"reconciler"` // Reconciliation pass settings
	Storage    StorageConfig    `toml:"storage"`    // Record persistence settings
	Navdata    NavdataConfig    `toml:"navdata"`    // Navigation data sources
	Events     EventsConfig     `toml:"events"`     // Change notification settings
	VideoMaps  VideoMapsConfig  `toml:"videomaps"`  // vNAS video map lookups
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains logging configuration settings
type LoggingConfig struct {
	Level      string `toml:"level"`       // Log level (debug, info, warn, error)
	Format     string `toml:"format"`      // Log format (json, console)
	File       string `toml:"file"`        // Optional rotated log file
	MaxSizeMB  int    `toml:"max_size_mb"` // Rotation size of the log file
	MaxBackups int    `toml:"max_backups"` // Rotated log files to keep
}

// FeedConfig contains VATSIM data feed settings
type FeedConfig struct {
	SourceURL          string `toml:"source_url"`              // VATSIM v3 data feed URL
	RequestTimeoutSecs int    `toml:"request_timeout_seconds"` // Per-request timeout
	MaxRetries         int    `toml:"max_retries"`             // Retries after the first failed fetch
}

// ReconcilerConfig contains reconciliation pass settings
type ReconcilerConfig struct {
	IntervalSecs      int     `toml:"interval_seconds"`    // Time between passes
	RecordTTLMinutes  int     `toml:"record_ttl_minutes"`  // Records untouched for longer are evicted
	DepartingRadiusNM float64 `toml:"departing_radius_nm"` // Distance from the departure airport that counts as departing
	FreshnessMode     string  `toml:"freshness_mode"`      // "strict" or "legacy"
	ARTCCRangeNM      float64 `toml:"artcc_range_nm"`      // Range around an ARTCC boundary for ARTCC queries
}

// StorageConfig contains record persistence settings
type StorageConfig struct {
	Type string `toml:"type"` // Storage backend ("sqlite" or "redis")

	// SQLite settings (used when type = "sqlite")
	SQLitePath  string `toml:"sqlite_path"`  // Database file
	PassHistory int    `toml:"pass_history"` // Pass summaries kept in SQLite (0 disables the history)

	// Redis settings (used when type = "redis")
	RedisAddr       string `toml:"redis_addr"`         // host:port
	RedisPassword   string `toml:"redis_password"`     // Prefer EDST_REDIS_PASSWORD
	RedisDB         int    `toml:"redis_db"`           // Database number
	RedisKeyPrefix  string `toml:"redis_key_prefix"`   // Prefix of every key
	RedisCodec      string `toml:"redis_codec"`        // Value encoding ("json" or "msgpack")
	RedisKeyTTLMins int    `toml:"redis_key_ttl_mins"` // Expiry of record keys (0 = never)
}

// NavdataConfig lists navigation data sources. Empty paths are skipped.
type NavdataConfig struct {
	AirportsPath    string `toml:"airports_path"`     // icao,lat,lon,artcc
	WaypointsPath   string `toml:"waypoints_path"`    // id,lat,lon
	AirwaysPath     string `toml:"airways_path"`      // airway,seq,fix
	CDRPath         string `toml:"cdr_path"`          // FAA coded departure routes
	PRDPath         string `toml:"prd_path"`          // FAA preferred routes
	ADRPath         string `toml:"adr_path"`          // ADR rules (JSON)
	ADARPath        string `toml:"adar_path"`         // ADAR rules (JSON)
	BoundariesDir   string `toml:"boundaries_dir"`    // Directory of <artcc>.geojson files
	LookupCacheSize int    `toml:"lookup_cache_size"` // Route expansion cache entries
	LookupCacheMins int    `toml:"lookup_cache_mins"` // Route expansion cache expiry
}

// EventsConfig contains change notification settings
type EventsConfig struct {
	WebSocketEnabled bool   `toml:"websocket_enabled"`  // Serve /ws
	NATSURL          string `toml:"nats_url"`           // Publish to NATS when set
	NATSSubject      string `toml:"nats_subject"`       // Subject prefix
	NATSStream       string `toml:"nats_stream"`        // Optional JetStream stream name
	NATSMaxAgeHours  int    `toml:"nats_max_age_hours"` // Stream retention when a stream is used
}

// VideoMapsConfig contains vNAS data API settings
type VideoMapsConfig struct {
	APIBaseURL         string `toml:"api_base_url"`            // vNAS data API base URL
	RequestTimeoutSecs int    `toml:"request_timeout_seconds"` // Per-request timeout
	MaxRetries         int    `toml:"max_retries"`             // Retries after the first failed request
	CacheMins          int    `toml:"cache_mins"`              // ARTCC document cache expiry
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	// A missing .env is fine
	_ = godotenv.Load()
	config.applyEnv()

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			// File exists, try to load it
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// applyEnv overrides settings from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Storage.RedisPassword = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv(EnvFeedURL); v != "" {
		c.Feed.SourceURL = v
	}
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Server.CORSAllowedOrigins) == 0 {
		c.Server.CORSAllowedOrigins = []string{"*"}
	}

	// Validate logging config
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid log level
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	switch c.Logging.Format {
	case "json", "console":
		// Valid log format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if err := c.ValidateFeed(); err != nil {
		return err
	}
	if err := c.ValidateReconciler(); err != nil {
		return err
	}
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if err := c.ValidateEvents(); err != nil {
		return err
	}

	if c.Navdata.LookupCacheSize <= 0 {
		c.Navdata.LookupCacheSize = 4096
	}
	if c.Navdata.LookupCacheMins <= 0 {
		c.Navdata.LookupCacheMins = 60
	}

	if c.VideoMaps.APIBaseURL == "" {
		c.VideoMaps.APIBaseURL = "https://data-api.vnas.vatsim.net/api"
	}
	if c.VideoMaps.RequestTimeoutSecs <= 0 {
		c.VideoMaps.RequestTimeoutSecs = 10
	}
	if c.VideoMaps.CacheMins <= 0 {
		c.VideoMaps.CacheMins = 60
	}

	return nil
}

// ValidateFeed validates the data feed configuration
func (c *Config) ValidateFeed() error {
	if c.Feed.SourceURL == "" {
		c.Feed.SourceURL = "https://data.vatsim.net/v3/vatsim-data.json"
	}
	if !strings.HasPrefix(c.Feed.SourceURL, "http://") && !strings.HasPrefix(c.Feed.SourceURL, "https://") {
		return fmt.Errorf("invalid feed source_url: %s", c.Feed.SourceURL)
	}
	if c.Feed.RequestTimeoutSecs <= 0 {
		c.Feed.RequestTimeoutSecs = 10
	}
	if c.Feed.MaxRetries < 0 {
		return fmt.Errorf("invalid feed max_retries: %d (must be >= 0)", c.Feed.MaxRetries)
	}
	return nil
}

// ValidateReconciler validates the reconciliation settings
func (c *Config) ValidateReconciler() error {
	r := &c.Reconciler
	if r.IntervalSecs <= 0 {
		r.IntervalSecs = 15
	}
	if r.RecordTTLMinutes <= 0 {
		r.RecordTTLMinutes = 30
	}
	if r.DepartingRadiusNM <= 0 {
		r.DepartingRadiusNM = 20
	}
	if r.ARTCCRangeNM <= 0 {
		r.ARTCCRangeNM = 150
	}

	if r.FreshnessMode == "" {
		r.FreshnessMode = "strict"
	}
	switch r.FreshnessMode {
	case "strict", "legacy":
		// Valid mode
	default:
		return fmt.Errorf("invalid freshness_mode: %s (must be 'strict' or 'legacy')", r.FreshnessMode)
	}
	return nil
}

// ValidateStorage validates the storage configuration
func (c *Config) ValidateStorage() error {
	s := &c.Storage
	if s.Type == "" {
		s.Type = "sqlite"
	}

	switch s.Type {
	case "sqlite":
		if s.SQLitePath == "" {
			s.SQLitePath = "data/edst.db"
		}
	case "redis":
		if s.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required when storage type is redis")
		}
		if s.RedisDB < 0 {
			return fmt.Errorf("invalid redis_db: %d", s.RedisDB)
		}
		if s.RedisCodec == "" {
			s.RedisCodec = "json"
		}
		if s.RedisCodec != "json" && s.RedisCodec != "msgpack" {
			return fmt.Errorf("invalid redis_codec: %s (must be 'json' or 'msgpack')", s.RedisCodec)
		}
		if s.RedisKeyPrefix == "" {
			s.RedisKeyPrefix = "edst:"
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be 'sqlite' or 'redis')", s.Type)
	}

	if s.PassHistory < 0 {
		return fmt.Errorf("invalid pass_history: %d (must be >= 0)", s.PassHistory)
	}
	return nil
}

// ValidateEvents validates the notification settings
func (c *Config) ValidateEvents() error {
	if c.Events.NATSURL == "" {
		return nil
	}
	if !strings.HasPrefix(c.Events.NATSURL, "nats://") && !strings.HasPrefix(c.Events.NATSURL, "tls://") {
		return fmt.Errorf("invalid nats_url: %s", c.Events.NATSURL)
	}
	if c.Events.NATSSubject == "" {
		c.Events.NATSSubject = "edst"
	}
	if c.Events.NATSMaxAgeHours <= 0 {
		c.Events.NATSMaxAgeHours = 24
	}
	return nil
}

// Interval returns the time between reconciliation passes
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Reconciler.IntervalSecs) * time.Second
}

// RecordTTL returns the record eviction age
func (c *Config) RecordTTL() time.Duration {
	return time.Duration(c.Reconciler.RecordTTLMinutes) * time.Minute
}
