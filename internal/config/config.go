// Package config loads blobvault settings from a YAML file and BLOBVAULT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/prn-tf/blobvault/internal/domain"
)

// envPrefix prefixes every environment override, e.g. BLOBVAULT_STORAGE_BACKEND.
const envPrefix = "BLOBVAULT"

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
}

// =============================================================================
// Sections
// =============================================================================

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxBodySize caps request bodies. Payloads arrive base64-encoded, so
	// the largest storable object is about three quarters of this.
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig selects and configures the metadata database.
// The same database also holds payloads for the database storage backend.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`

	// PostgreSQL
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite
	Path            string `mapstructure:"path"`
	JournalMode     string `mapstructure:"journal_mode"`
	BusyTimeout     int    `mapstructure:"busy_timeout"` // ms
	CacheSize       int    `mapstructure:"cache_size"`   // negative means KiB
	SynchronousMode string `mapstructure:"synchronous_mode"`
}

// DSN renders the PostgreSQL keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded reports whether the database runs in-process.
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == DriverSQLite
}

// RedisConfig configures the optional Redis used for the metadata cache
// and the sweeper lock.
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig selects the medium that holds payloads.
type StorageConfig struct {
	// Backend is "local", "database" or "s3".
	Backend string          `mapstructure:"backend"`
	DataDir string          `mapstructure:"data_dir"`
	S3      S3StorageConfig `mapstructure:"s3"`
}

// S3 client SDKs.
const (
	S3SDKAWS   = "aws"
	S3SDKMinio = "minio"
)

// S3StorageConfig configures the object-store backend.
type S3StorageConfig struct {
	// SDK picks the client library. Both speak to any S3-compatible endpoint.
	SDK             string `mapstructure:"sdk"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// AuthConfig holds the shared bearer secret for the blob API.
type AuthConfig struct {
	SecretKey string `mapstructure:"secret_key"`

	// SecretKeyHash is a bcrypt hash of the secret, preferred over
	// SecretKey when both are set.
	SecretKeyHash string `mapstructure:"secret_key_hash"`
}

// Cache backends.
const (
	CacheBackendNone   = "none"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// CacheConfig configures the metadata read cache.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	Output     string `mapstructure:"output"` // stdout, stderr or a file path
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port serves metrics on a separate listener. When it equals
	// server.port the endpoint is mounted on the API router instead.
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// SweeperConfig configures the orphan payload sweeper.
type SweeperConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
	BatchSize   int           `mapstructure:"batch_size"`
	DryRun      bool          `mapstructure:"dry_run"`
}

// =============================================================================
// Loading
// =============================================================================

// defaults are applied before the file and environment are read.
var defaults = map[string]any{
	"server.host":             "0.0.0.0",
	"server.port":             8000,
	"server.read_timeout":     30 * time.Second,
	"server.write_timeout":    60 * time.Second,
	"server.idle_timeout":     120 * time.Second,
	"server.shutdown_timeout": 30 * time.Second,
	"server.max_body_size":    64 << 20,

	"database.driver":             DriverSQLite,
	"database.auto_migrate":       true,
	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "blobvault",
	"database.password":           "",
	"database.database":           "blobvault",
	"database.ssl_mode":           "prefer",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  5 * time.Minute,
	"database.conn_max_idle_time": 5 * time.Minute,
	"database.path":               "./data/blobvault.db",
	"database.journal_mode":       "WAL",
	"database.busy_timeout":       5000,
	"database.cache_size":         -2000,
	"database.synchronous_mode":   "NORMAL",

	"redis.enabled":      false,
	"redis.host":         "localhost",
	"redis.port":         6379,
	"redis.password":     "",
	"redis.db":           0,
	"redis.pool_size":    10,
	"redis.dial_timeout": 5 * time.Second,

	"storage.backend":           string(domain.StorageKindDatabase),
	"storage.data_dir":          "./data/blobs",
	"storage.s3.sdk":            S3SDKAWS,
	"storage.s3.endpoint":       "",
	"storage.s3.region":         "us-east-1",
	"storage.s3.bucket":         "blobvault",
	"storage.s3.use_ssl":        true,
	"storage.s3.use_path_style": false,

	"auth.secret_key":      "",
	"auth.secret_key_hash": "",

	"cache.backend": CacheBackendMemory,
	"cache.ttl":     10 * time.Minute,

	"logging.level":       "info",
	"logging.format":      "json",
	"logging.output":      "stdout",
	"logging.time_format": time.RFC3339,

	"metrics.enabled": true,
	"metrics.port":    9091,
	"metrics.path":    "/metrics",

	"tracing.enabled":      false,
	"tracing.endpoint":     "",
	"tracing.service_name": "blobvault",

	"sweeper.enabled":      true,
	"sweeper.interval":     time.Hour,
	"sweeper.grace_period": 24 * time.Hour,
	"sweeper.batch_size":   500,
	"sweeper.dry_run":      false,
}

// Load reads configuration from configPath, or from config.yaml in the
// usual locations when configPath is empty. The file is optional.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/blobvault")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// MustLoad is Load for main functions; it panics on error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// StorageKind returns the configured backend. Only meaningful after Validate.
func (c *Config) StorageKind() domain.StorageKind {
	return domain.StorageKind(c.Storage.Backend)
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	checks := []func() error{
		c.Server.validate,
		c.Database.validate,
		c.Storage.validate,
		c.Auth.validate,
		func() error { return c.Cache.validate(c.Redis) },
		c.Sweeper.validate,
		c.Logging.validate,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c ServerConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.MaxBodySize <= 0 {
		return errors.New("server.max_body_size must be positive")
	}
	return nil
}

func (c DatabaseConfig) validate() error {
	switch c.Driver {
	case DriverPostgres:
		for key, value := range map[string]string{
			"database.host":     c.Host,
			"database.user":     c.User,
			"database.database": c.Database,
		} {
			if value == "" {
				return fmt.Errorf("%s is required for postgres driver", key)
			}
		}
	case DriverSQLite:
		if c.Path == "" {
			return errors.New("database.path is required for sqlite driver")
		}
	default:
		return errors.New("database.driver must be 'postgres' or 'sqlite'")
	}
	return nil
}

func (c StorageConfig) validate() error {
	kind, err := domain.ParseStorageKind(c.Backend)
	if err != nil {
		return fmt.Errorf("storage.backend: %w", err)
	}

	switch kind {
	case domain.StorageKindLocal:
		if c.DataDir == "" {
			return errors.New("storage.data_dir is required for local backend")
		}
	case domain.StorageKindObjectStore:
		if c.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for s3 backend")
		}
		switch c.S3.SDK {
		case S3SDKAWS:
		case S3SDKMinio:
			if c.S3.Endpoint == "" {
				return errors.New("storage.s3.endpoint is required for minio sdk")
			}
		default:
			return errors.New("storage.s3.sdk must be 'aws' or 'minio'")
		}
	}
	return nil
}

func (c AuthConfig) validate() error {
	if c.SecretKey == "" && c.SecretKeyHash == "" {
		return errors.New("auth.secret_key or auth.secret_key_hash is required")
	}
	return nil
}

func (c CacheConfig) validate(redis RedisConfig) error {
	switch c.Backend {
	case CacheBackendNone, CacheBackendMemory:
		return nil
	case CacheBackendRedis:
		if !redis.Enabled {
			return errors.New("cache.backend 'redis' requires redis.enabled")
		}
		return nil
	default:
		return errors.New("cache.backend must be one of: none, memory, redis")
	}
}

func (c SweeperConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Interval <= 0 {
		return errors.New("sweeper.interval must be positive")
	}
	if c.BatchSize < 1 {
		return errors.New("sweeper.batch_size must be at least 1")
	}
	return nil
}

func (c LoggingConfig) validate() error {
	switch strings.ToLower(c.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
		return nil
	default:
		return errors.New("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}
}
