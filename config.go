package fulltext

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config consolidates settings for the engine, its catalog and the server.
type Config struct {
	Database DatabaseConfig `json:"database" yaml:"database"`
	Search   SearchConfig   `json:"search" yaml:"search"`
	Catalog  CatalogConfig  `json:"catalog" yaml:"catalog"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Database        string        `json:"database" yaml:"database"`
	Username        string        `json:"username" yaml:"username"`
	Password        string        `json:"password" yaml:"password"`
	SSLMode         string        `json:"sslMode" yaml:"ssl_mode"`
	MaxConnections  int           `json:"maxConnections" yaml:"max_connections"`
	MinConnections  int           `json:"minConnections" yaml:"min_connections"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime" yaml:"conn_max_idle_time"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	// Breaker settings. A zero threshold disables the circuit breaker.
	BreakerThreshold    int           `json:"breakerThreshold" yaml:"breaker_threshold"`
	BreakerWindow       time.Duration `json:"breakerWindow" yaml:"breaker_window"`
	BreakerOpenDuration time.Duration `json:"breakerOpenDuration" yaml:"breaker_open_duration"`
}

// DSN renders the connection string understood by pgxpool.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// Validate checks the pool sizes, which pgxpool holds as int32.
func (c DatabaseConfig) Validate() error {
	if c.MaxConnections <= 0 || c.MaxConnections > math.MaxInt32 {
		return &ConfigError{Field: "database.maxConnections", Message: fmt.Sprintf("must be between 1 and %d", math.MaxInt32)}
	}
	if c.MinConnections < 0 || c.MinConnections > c.MaxConnections {
		return &ConfigError{Field: "database.minConnections", Message: "must be between 0 and maxConnections"}
	}
	return nil
}

// DuplicatePolicy decides what a second matches filter on the same field in the same
// scope does to the rank binding.
type DuplicatePolicy string

const (
	// DuplicateLastWriteWins keeps only the most recent binding.
	DuplicateLastWriteWins DuplicatePolicy = "last_write_wins"
	// DuplicateReject fails the request.
	DuplicateReject DuplicatePolicy = "reject"
	// DuplicateMax keeps every binding and ranks by the greatest of them.
	DuplicateMax DuplicatePolicy = "max"
)

// SearchConfig contains full-text planning settings
type SearchConfig struct {
	// TextSearchConfig is the regconfig passed to to_tsquery, e.g. "simple" or "english".
	TextSearchConfig   string          `json:"textSearchConfig" yaml:"text_search_config"`
	DuplicatePolicy    DuplicatePolicy `json:"duplicatePolicy" yaml:"duplicate_policy"`
	SanitizerCacheSize int             `json:"sanitizerCacheSize" yaml:"sanitizer_cache_size"`
	DefaultPageSize    int             `json:"defaultPageSize" yaml:"default_page_size"`
	MaxPageSize        int             `json:"maxPageSize" yaml:"max_page_size"`
}

// CatalogSource selects where row types and search-vector attributes come from.
type CatalogSource string

const (
	CatalogSourceIntrospect CatalogSource = "introspect"
	CatalogSourceFile       CatalogSource = "file"
	CatalogSourceS3         CatalogSource = "s3"
)

// CatalogConfig contains schema catalog settings
type CatalogConfig struct {
	Source  CatalogSource `json:"source" yaml:"source"`
	Schemas []string      `json:"schemas" yaml:"schemas"`
	Path    string        `json:"path" yaml:"path"`
	S3      S3Config      `json:"s3" yaml:"s3"`
}

// S3Config locates a catalog document in object storage
type S3Config struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	Key             string `json:"key" yaml:"key"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"accessKeyId" yaml:"access_key_id"`
	SecretAccessKey string `json:"secretAccessKey" yaml:"secret_access_key"`
	UsePathStyle    bool   `json:"usePathStyle" yaml:"use_path_style"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int           `json:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"readTimeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"writeTimeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdown_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`
	Format      string `json:"format" yaml:"format"`
	LogQueries  bool   `json:"logQueries" yaml:"log_queries"`
	Development bool   `json:"development" yaml:"development"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "postgres",
			Username:        "postgres",
			SSLMode:         "disable",
			MaxConnections:  25,
			MinConnections:  2,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         30 * time.Second,

			BreakerThreshold:    5,
			BreakerWindow:       30 * time.Second,
			BreakerOpenDuration: 10 * time.Second,
		},
		Search: SearchConfig{
			TextSearchConfig:   "simple",
			DuplicatePolicy:    DuplicateLastWriteWins,
			SanitizerCacheSize: 1024,
			DefaultPageSize:    50,
			MaxPageSize:        500,
		},
		Catalog: CatalogConfig{
			Source:  CatalogSourceIntrospect,
			Schemas: []string{"public"},
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig, expanding ${VAR} references,
// then applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		data = expandEnvVars(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// ApplyEnv overrides settings from environment variables. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("DB_HOST", &c.Database.Host)
	setInt("DB_PORT", &c.Database.Port)
	setString("DB_NAME", &c.Database.Database)
	setString("DB_USER", &c.Database.Username)
	setString("DB_PASSWORD", &c.Database.Password)
	setString("DB_SSL_MODE", &c.Database.SSLMode)
	setInt("DB_MAX_CONNECTIONS", &c.Database.MaxConnections)
	setString("TS_CONFIG", &c.Search.TextSearchConfig)
	setString("LOG_LEVEL", &c.Logging.Level)
	setInt("PORT", &c.Server.Port)

	if v := getenv("DUPLICATE_POLICY"); v != "" {
		c.Search.DuplicatePolicy = DuplicatePolicy(v)
	}
	if v := getenv("CATALOG_SOURCE"); v != "" {
		c.Catalog.Source = CatalogSource(v)
	}
	setString("CATALOG_PATH", &c.Catalog.Path)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}

	if c.Search.TextSearchConfig == "" {
		return &ConfigError{Field: "search.textSearchConfig", Message: "must not be empty"}
	}

	switch c.Search.DuplicatePolicy {
	case DuplicateLastWriteWins, DuplicateReject, DuplicateMax:
	default:
		return &ConfigError{Field: "search.duplicatePolicy", Message: fmt.Sprintf("unknown policy %q", c.Search.DuplicatePolicy)}
	}

	if c.Search.DefaultPageSize <= 0 {
		return &ConfigError{Field: "search.defaultPageSize", Message: "must be greater than 0"}
	}

	if c.Search.MaxPageSize < c.Search.DefaultPageSize {
		return &ConfigError{Field: "search.maxPageSize", Message: "must be greater than or equal to defaultPageSize"}
	}

	switch c.Catalog.Source {
	case CatalogSourceIntrospect:
	case CatalogSourceFile:
		if c.Catalog.Path == "" {
			return &ConfigError{Field: "catalog.path", Message: "is required for the file source"}
		}
	case CatalogSourceS3:
		if c.Catalog.S3.Bucket == "" || c.Catalog.S3.Key == "" {
			return &ConfigError{Field: "catalog.s3", Message: "bucket and key are required for the s3 source"}
		}
		if (c.Catalog.S3.AccessKeyID == "") != (c.Catalog.S3.SecretAccessKey == "") {
			return &ConfigError{Field: "catalog.s3", Message: "accessKeyId and secretAccessKey must be set together"}
		}
	default:
		return &ConfigError{Field: "catalog.source", Message: fmt.Sprintf("unknown source %q", c.Catalog.Source)}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
