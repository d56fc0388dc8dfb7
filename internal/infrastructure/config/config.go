package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when TAGINGEST_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// PathEnv names the environment variable holding the config file path.
const PathEnv = "TAGINGEST_CONFIG"

// Config is the root configuration structure for the ingest service.
// All configuration is loaded from YAML (or JSON) and can be overridden by
// environment variables.
type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Storage    StorageConfig    `yaml:"storage"`
	Processing ProcessingConfig `yaml:"processing"`
	Retry      RetryConfig      `yaml:"retry"`
	Failures   FailuresConfig   `yaml:"failures"`
	Audit      AuditConfig      `yaml:"audit"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SourceConfig describes the upstream plant-data API.
type SourceConfig struct {
	APIURL   string `yaml:"api_url"`
	UserKey  string `yaml:"user_key"`
	TagsFile string `yaml:"tags_file"`

	// Timezone interprets OriTime. "Local" or empty uses the host zone.
	Timezone string `yaml:"timezone"`
}

// StorageConfig contains time-series storage connection settings.
type StorageConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Token and Org authenticate against InfluxDB v2. When Token is empty
	// "username:password" is used.
	Token string `yaml:"token"`
	Org   string `yaml:"org"`

	SessionPoolSize   int    `yaml:"session_pool_size"`
	ConnectTimeoutMS  int    `yaml:"connect_timeout_ms"`
	Database          string `yaml:"database"`
	Template          string `yaml:"template"`
	MonitorIntervalMS int    `yaml:"monitor_interval_ms"`
}

// ProcessingConfig contains pipeline sizing.
type ProcessingConfig struct {
	Writer   WriterConfig   `yaml:"writer"`
	Queue    QueueConfig    `yaml:"queue"`
	Fetcher  FetcherConfig  `yaml:"fetcher"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
}

// WriterConfig sizes the writer pool.
type WriterConfig struct {
	PoolSize  int `yaml:"pool_size"`
	BatchSize int `yaml:"batch_size"`
}

// QueueConfig sizes the work queue.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// FetcherConfig sets the polling cadence.
type FetcherConfig struct {
	IntervalMS int `yaml:"interval_ms"`
	TimeoutMS  int `yaml:"timeout_ms"`
}

// ShutdownConfig bounds the graceful drain.
type ShutdownConfig struct {
	DrainTimeoutMS int `yaml:"drain_timeout_ms"`
}

// RetryConfig contains exponential backoff settings.
type RetryConfig struct {
	InitialDelayMS    int     `yaml:"initial_delay_ms"`
	MaxDelayMS        int     `yaml:"max_delay_ms"`
	MaxAttempts       int     `yaml:"max_attempts"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// FailuresConfig locates the failure audit files.
type FailuresConfig struct {
	Dir string `yaml:"dir"`
}

// AuditConfig enables the SQLite mirror of the failure files.
type AuditConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Database DatabaseConfig `yaml:"database"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TAGINGEST_SECTION_KEY
// For example: TAGINGEST_SOURCE_USER_KEY, TAGINGEST_STORAGE_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// PathFromEnv returns the config path from TAGINGEST_CONFIG or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv(PathEnv); v != "" {
		return v
	}
	return DefaultPath
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Timezone: "Local",
		},
		Storage: StorageConfig{
			Host:              "localhost",
			Port:              8086,
			Org:               "tagingest",
			SessionPoolSize:   8,
			ConnectTimeoutMS:  10000,
			Database:          "root.cepco",
			Template:          "druid_t",
			MonitorIntervalMS: 5000,
		},
		Processing: ProcessingConfig{
			Writer: WriterConfig{
				PoolSize:  4,
				BatchSize: 1000,
			},
			Queue: QueueConfig{
				Capacity: 100000,
			},
			Fetcher: FetcherConfig{
				IntervalMS: 1000,
				TimeoutMS:  5000,
			},
			Shutdown: ShutdownConfig{
				DrainTimeoutMS: 30000,
			},
		},
		Retry: RetryConfig{
			InitialDelayMS:    1000,
			MaxDelayMS:        30000,
			MaxAttempts:       3,
			BackoffMultiplier: 2.0,
		},
		Failures: FailuresConfig{
			Dir: ".",
		},
		Audit: AuditConfig{
			Database: DatabaseConfig{
				Path:        "./data/audit.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tagingest",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "tagingest",
		},
		Metrics: MetricsConfig{
			Address: ":9105",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TAGINGEST_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Source
	if v := os.Getenv("TAGINGEST_SOURCE_API_URL"); v != "" {
		cfg.Source.APIURL = v
	}
	if v := os.Getenv("TAGINGEST_SOURCE_USER_KEY"); v != "" {
		cfg.Source.UserKey = v
	}
	if v := os.Getenv("TAGINGEST_SOURCE_TAGS_FILE"); v != "" {
		cfg.Source.TagsFile = v
	}

	// Storage
	if v := os.Getenv("TAGINGEST_STORAGE_HOST"); v != "" {
		cfg.Storage.Host = v
	}
	if v := os.Getenv("TAGINGEST_STORAGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Storage.Port = port
		}
	}
	if v := os.Getenv("TAGINGEST_STORAGE_USERNAME"); v != "" {
		cfg.Storage.Username = v
	}
	if v := os.Getenv("TAGINGEST_STORAGE_PASSWORD"); v != "" {
		cfg.Storage.Password = v
	}
	if v := os.Getenv("TAGINGEST_STORAGE_TOKEN"); v != "" {
		cfg.Storage.Token = v
	}
	if v := os.Getenv("TAGINGEST_STORAGE_ORG"); v != "" {
		cfg.Storage.Org = v
	}

	// Audit
	if v := os.Getenv("TAGINGEST_AUDIT_DATABASE_PATH"); v != "" {
		cfg.Audit.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TAGINGEST_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TAGINGEST_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TAGINGEST_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Logging
	if v := os.Getenv("TAGINGEST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Source
	if c.Source.APIURL == "" {
		errs = append(errs, "source.api_url is required")
	} else if u, err := url.Parse(c.Source.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "source.api_url must be an http or https URL")
	}
	if c.Source.UserKey == "" {
		errs = append(errs, "source.user_key is required (set TAGINGEST_SOURCE_USER_KEY environment variable)")
	}
	if c.Source.TagsFile == "" {
		errs = append(errs, "source.tags_file is required")
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("source.timezone: %v", err))
	}

	// Storage
	if c.Storage.Host == "" {
		errs = append(errs, "storage.host is required")
	}
	if c.Storage.Port < 1 || c.Storage.Port > 65535 {
		errs = append(errs, "storage.port must be between 1 and 65535")
	}
	if c.Storage.Org == "" {
		errs = append(errs, "storage.org is required")
	}
	if c.Storage.SessionPoolSize <= 0 {
		errs = append(errs, "storage.session_pool_size must be positive")
	}
	if c.Storage.ConnectTimeoutMS <= 0 {
		errs = append(errs, "storage.connect_timeout_ms must be positive")
	}
	if c.Storage.Database == "" {
		errs = append(errs, "storage.database is required")
	}
	if c.Storage.Template == "" {
		errs = append(errs, "storage.template is required")
	}
	if c.Storage.MonitorIntervalMS <= 0 {
		errs = append(errs, "storage.monitor_interval_ms must be positive")
	}

	// Processing
	if c.Processing.Writer.PoolSize <= 0 {
		errs = append(errs, "processing.writer.pool_size must be positive")
	}
	if c.Processing.Writer.BatchSize <= 0 {
		errs = append(errs, "processing.writer.batch_size must be positive")
	}
	if c.Processing.Queue.Capacity <= 0 {
		errs = append(errs, "processing.queue.capacity must be positive")
	}
	if c.Processing.Fetcher.IntervalMS <= 0 {
		errs = append(errs, "processing.fetcher.interval_ms must be positive")
	}
	if c.Processing.Fetcher.TimeoutMS <= 0 {
		errs = append(errs, "processing.fetcher.timeout_ms must be positive")
	}
	if c.Processing.Shutdown.DrainTimeoutMS <= 0 {
		errs = append(errs, "processing.shutdown.drain_timeout_ms must be positive")
	}

	// Retry
	if c.Retry.InitialDelayMS <= 0 {
		errs = append(errs, "retry.initial_delay_ms must be positive")
	}
	if c.Retry.MaxDelayMS < c.Retry.InitialDelayMS {
		errs = append(errs, "retry.max_delay_ms must not be less than retry.initial_delay_ms")
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, "retry.max_attempts must be positive")
	}
	if c.Retry.BackoffMultiplier <= 1 {
		errs = append(errs, "retry.backoff_multiplier must be greater than 1")
	}

	// Optional surfaces
	if c.Audit.Enabled && c.Audit.Database.Path == "" {
		errs = append(errs, "audit.database.path is required when audit is enabled")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the zone used to interpret upstream timestamps.
func (c *Config) Location() (*time.Location, error) {
	switch c.Source.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Source.Timezone)
	}
}

// FetchInterval returns the fetch interval as a Duration.
func (c *Config) FetchInterval() time.Duration {
	return ms(c.Processing.Fetcher.IntervalMS)
}

// FetchTimeout returns the upstream request timeout as a Duration.
func (c *Config) FetchTimeout() time.Duration {
	return ms(c.Processing.Fetcher.TimeoutMS)
}

// DrainTimeout returns the graceful shutdown bound as a Duration.
func (c *Config) DrainTimeout() time.Duration {
	return ms(c.Processing.Shutdown.DrainTimeoutMS)
}

// ConnectTimeout returns the storage connect timeout as a Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return ms(c.Storage.ConnectTimeoutMS)
}

// MonitorInterval returns the storage health-check interval as a Duration.
func (c *Config) MonitorInterval() time.Duration {
	return ms(c.Storage.MonitorIntervalMS)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
