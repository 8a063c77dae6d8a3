// Package config provides configuration management for the search indexing agent.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Stream start positions used when a shard has no checkpoint yet.
const (
	// StartFirst begins at the oldest retained record of the shard.
	StartFirst = "first"
	// StartLast begins at the next record appended to the shard.
	StartLast = "last"
)

// Config holds all configuration for the search indexing agent.
type Config struct {
	// Server contains admin HTTP and metrics server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings for the checkpoint store.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Stream contains the change-stream (Kafka) consumer settings.
	Stream StreamConfig `mapstructure:"stream"`
	// Metadata contains docmeta service client settings.
	Metadata MetadataConfig `mapstructure:"metadata"`
	// Index contains search engine settings.
	Index IndexConfig `mapstructure:"index"`
	// Agent contains record processor settings.
	Agent AgentConfig `mapstructure:"agent"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the servers to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the admin HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from SEARCHAGENT_DATABASE_PASSWORD).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 10).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 1).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is a directory of migration files. Empty uses the
	// migrations compiled into the binary.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun applies pending migrations when the stream command starts.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// StreamConfig holds change-stream consumer settings.
type StreamConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the topic carrying metadata-available notifications.
	Topic string `mapstructure:"topic"`
	// Name identifies the stream in the checkpoint store (defaults to Topic).
	Name string `mapstructure:"name"`
	// Shards lists the partitions to consume. Empty means every partition of the topic.
	Shards []int `mapstructure:"shards"`
	// StartPosition is used for shards without a checkpoint (first, last).
	StartPosition string `mapstructure:"start_position"`
	// MinBytes is the minimum batch size the reader waits for.
	MinBytes int `mapstructure:"min_bytes"`
	// MaxBytes is the maximum batch size fetched at once.
	MaxBytes int `mapstructure:"max_bytes"`
	// MaxWait is the maximum time the reader waits for MinBytes.
	MaxWait time.Duration `mapstructure:"max_wait"`
	// RecordsPerSecond throttles each shard worker (0 disables throttling).
	RecordsPerSecond float64 `mapstructure:"records_per_second"`
	// RetryInitialInterval is the first delay before redelivering a failed record.
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	// RetryMaxInterval caps the redelivery delay.
	RetryMaxInterval time.Duration `mapstructure:"retry_max_interval"`
}

// MetadataConfig holds docmeta service client settings.
type MetadataConfig struct {
	// Endpoints are the docmeta service base URLs, used round-robin.
	Endpoints []string `mapstructure:"endpoints"`
	// Timeout is the timeout for a single HTTP request.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxRetries is the number of retries on 5xx and network errors.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// VerifyCert controls TLS certificate verification.
	VerifyCert bool `mapstructure:"verify_cert"`
}

// IndexConfig holds search engine settings.
type IndexConfig struct {
	// Addresses are the Elasticsearch node URLs.
	Addresses []string `mapstructure:"addresses"`
	// Name is the index that receives paper documents.
	Name string `mapstructure:"name"`
	// Username is the basic-auth user (optional).
	Username string `mapstructure:"username"`
	// Password is the basic-auth password (loaded from SEARCHAGENT_INDEX_PASSWORD).
	Password string `mapstructure:"-"`
	// APIKey is the Elasticsearch API key (loaded from SEARCHAGENT_INDEX_API_KEY).
	APIKey string `mapstructure:"-"`
	// Refresh is the refresh policy applied to writes (true, false, wait_for).
	Refresh string `mapstructure:"refresh"`
	// MaxRetries is the transport retry count for connection failures.
	MaxRetries int `mapstructure:"max_retries"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
}

// AgentConfig holds record processor settings.
type AgentConfig struct {
	// MaxDocumentFailures stops a shard worker after this many permanent failures (0 = unlimited).
	MaxDocumentFailures int `mapstructure:"max_document_failures"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the admin HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// StreamName returns the name under which checkpoints are recorded.
func (c *StreamConfig) StreamName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Topic
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("SEARCHAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/search-agent")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// List values set through the environment arrive as a single comma-separated string.
	cfg.Stream.Brokers = splitList(cfg.Stream.Brokers)
	cfg.Metadata.Endpoints = splitList(cfg.Metadata.Endpoints)
	cfg.Index.Addresses = splitList(cfg.Index.Addresses)

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv("SEARCHAGENT_DATABASE_PASSWORD")
	cfg.Index.Password = os.Getenv("SEARCHAGENT_INDEX_PASSWORD")
	cfg.Index.APIKey = os.Getenv("SEARCHAGENT_INDEX_API_KEY")
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "searchagent")
	v.SetDefault("database.name", "search_agent")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "search_agent")

	// Stream defaults
	v.SetDefault("stream.brokers", []string{"localhost:9092"})
	v.SetDefault("stream.topic", "MetadataIsAvailable")
	v.SetDefault("stream.name", "")
	v.SetDefault("stream.shards", []int{})
	v.SetDefault("stream.start_position", StartFirst)
	v.SetDefault("stream.min_bytes", 1)
	v.SetDefault("stream.max_bytes", 10e6)
	v.SetDefault("stream.max_wait", "3s")
	v.SetDefault("stream.records_per_second", 10.0)
	v.SetDefault("stream.retry_initial_interval", "1s")
	v.SetDefault("stream.retry_max_interval", "2m")

	// Metadata service defaults
	v.SetDefault("metadata.endpoints", []string{"http://localhost:8000/"})
	v.SetDefault("metadata.timeout", "30s")
	v.SetDefault("metadata.rate_limit", 10.0)
	v.SetDefault("metadata.max_retries", 2)
	v.SetDefault("metadata.retry_delay", "1s")
	v.SetDefault("metadata.verify_cert", true)

	// Index defaults
	v.SetDefault("index.addresses", []string{"http://localhost:9200"})
	v.SetDefault("index.name", "arxiv")
	v.SetDefault("index.username", "")
	v.SetDefault("index.refresh", "wait_for")
	v.SetDefault("index.max_retries", 3)
	v.SetDefault("index.timeout", "60s")

	// Agent defaults
	v.SetDefault("agent.max_document_failures", 0)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate stream config
	if len(c.Stream.Brokers) == 0 {
		return fmt.Errorf("at least one stream broker is required")
	}
	if c.Stream.Topic == "" {
		return fmt.Errorf("stream topic is required")
	}
	switch c.Stream.StartPosition {
	case StartFirst, StartLast:
	default:
		return fmt.Errorf("invalid stream start position: %q", c.Stream.StartPosition)
	}
	for _, shard := range c.Stream.Shards {
		if shard < 0 {
			return fmt.Errorf("invalid stream shard: %d", shard)
		}
	}
	if c.Stream.RecordsPerSecond < 0 {
		return fmt.Errorf("stream records_per_second must not be negative")
	}
	if c.Stream.RetryInitialInterval <= 0 || c.Stream.RetryMaxInterval < c.Stream.RetryInitialInterval {
		return fmt.Errorf("stream retry intervals must be positive and max >= initial")
	}

	// Validate metadata config
	if len(c.Metadata.Endpoints) == 0 {
		return fmt.Errorf("at least one metadata endpoint is required")
	}
	for _, endpoint := range c.Metadata.Endpoints {
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return fmt.Errorf("invalid metadata endpoint %q: %w", endpoint, err)
		}
	}

	// Validate index config
	if len(c.Index.Addresses) == 0 {
		return fmt.Errorf("at least one index address is required")
	}
	if c.Index.Name == "" {
		return fmt.Errorf("index name is required")
	}
	switch c.Index.Refresh {
	case "", "true", "false", "wait_for":
	default:
		return fmt.Errorf("invalid index refresh policy: %q", c.Index.Refresh)
	}

	if c.Agent.MaxDocumentFailures < 0 {
		return fmt.Errorf("agent max_document_failures must not be negative")
	}

	return nil
}
