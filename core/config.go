package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for an agent process.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("calculator"),
//	    WithRegistryURL("http://registry:4567"),
//	    WithTransport("websocket"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	Name      string `json:"name" yaml:"name" toml:"name" env:"AGENTRELAY_AGENT_NAME"`
	Namespace string `json:"namespace" yaml:"namespace" toml:"namespace" env:"AGENTRELAY_NAMESPACE" default:"agentrelay"`

	Registry    RegistryConfig    `json:"registry" yaml:"registry" toml:"registry"`
	Transport   TransportConfig   `json:"transport" yaml:"transport" toml:"transport"`
	Telemetry   TelemetryConfig   `json:"telemetry" yaml:"telemetry" toml:"telemetry"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging" toml:"logging"`
	Development DevelopmentConfig `json:"development" yaml:"development" toml:"development"`
}

// RegistryConfig selects and configures the registry backend.
// CaseSensitive switches capability matching from the default
// case-insensitive substring match to an exact-case one.
type RegistryConfig struct {
	Provider      string        `json:"provider" yaml:"provider" toml:"provider" env:"AGENTRELAY_REGISTRY_PROVIDER" default:"http"`
	URL           string        `json:"url" yaml:"url" toml:"url" env:"AGENTRELAY_REGISTRY_URL" default:"http://localhost:4567"`
	RedisURL      string        `json:"redis_url" yaml:"redis_url" toml:"redis_url" env:"AGENTRELAY_REDIS_URL,REDIS_URL"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout" toml:"timeout" default:"10s"`
	CaseSensitive bool          `json:"case_sensitive" yaml:"case_sensitive" toml:"case_sensitive"`
}

// TransportConfig selects and configures the envelope transport.
type TransportConfig struct {
	Provider  string `json:"provider" yaml:"provider" toml:"provider" env:"AGENTRELAY_TRANSPORT" default:"redis"`
	RedisURL  string `json:"redis_url" yaml:"redis_url" toml:"redis_url" env:"AGENTRELAY_REDIS_URL,REDIS_URL"`
	HubURL    string `json:"hub_url" yaml:"hub_url" toml:"hub_url" env:"AGENTRELAY_HUB_URL" default:"ws://localhost:4568/ws"`
	Codec     string `json:"codec" yaml:"codec" toml:"codec" env:"AGENTRELAY_CODEC" default:"json"`
	QueueSize int    `json:"queue_size" yaml:"queue_size" toml:"queue_size" default:"256"`
}

// TelemetryConfig contains tracing and metrics configuration.
// Telemetry is only initialized when Enabled=true. An empty Endpoint exports
// spans to stdout instead of an OTLP collector.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled" env:"AGENTRELAY_TELEMETRY_ENABLED" default:"false"`
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// MetricsEndpoint is an OTLP/HTTP collector (host:port). Metrics are only
	// pushed when it is set.
	MetricsEndpoint string  `json:"metrics_endpoint" yaml:"metrics_endpoint" toml:"metrics_endpoint" env:"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"`
	ServiceName     string  `json:"service_name" yaml:"service_name" toml:"service_name"`
	SamplingRate    float64 `json:"sampling_rate" yaml:"sampling_rate" toml:"sampling_rate" default:"1.0"`
	Insecure        bool    `json:"insecure" yaml:"insecure" toml:"insecure" default:"true"`
}

// LoggingConfig contains logging configuration.
// Supports structured (JSON) and human-readable (text) formats.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" toml:"level" env:"AGENTRELAY_LOG_LEVEL" default:"info"`
	Format     string `json:"format" yaml:"format" toml:"format" env:"AGENTRELAY_LOG_FORMAT" default:"json"`
	Output     string `json:"output" yaml:"output" toml:"output" default:"stdout"`
	TimeFormat string `json:"time_format" yaml:"time_format" toml:"time_format"`
}

// DevelopmentConfig contains settings for local development and testing.
// When Enabled=true, logs are human-readable and coloured.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" toml:"enabled" env:"AGENTRELAY_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" yaml:"debug_logging" toml:"debug_logging"`
	PrettyLogs   bool `json:"pretty_logs" yaml:"pretty_logs" toml:"pretty_logs"`
}

// Option is a functional option for configuring an agent process.
// Options are applied after environment variables, giving them highest priority.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults for a local
// setup: HTTP registry on :4567, Redis transport on localhost.
func DefaultConfig() *Config {
	return &Config{
		Namespace: DefaultNamespace,
		Registry: RegistryConfig{
			Provider: RegistryProviderHTTP,
			URL:      DefaultRegistryURL,
			RedisURL: DefaultRedisURL,
			Timeout:  DefaultRegistryTimeout,
		},
		Transport: TransportConfig{
			Provider:  TransportRedis,
			RedisURL:  DefaultRedisURL,
			HubURL:    DefaultHubURL,
			Codec:     CodecJSON,
			QueueSize: DefaultQueueSize,
		},
		Telemetry: TelemetryConfig{
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339Nano,
		},
	}
}

// LoadFromEnv loads configuration from environment variables.
// Only variables that are set override the current values.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvAgentName); v != "" {
		c.Name = v
	}
	if v := os.Getenv(EnvNamespace); v != "" {
		c.Namespace = v
	}

	if v := os.Getenv(EnvRegistryProvider); v != "" {
		c.Registry.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvRegistryURL); v != "" {
		c.Registry.URL = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Registry.RedisURL = v
		c.Transport.RedisURL = v
	} else if v := os.Getenv(EnvRedisURLFallback); v != "" {
		c.Registry.RedisURL = v
		c.Transport.RedisURL = v
	}

	if v := os.Getenv(EnvTransport); v != "" {
		c.Transport.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvHubURL); v != "" {
		c.Transport.HubURL = v
	}
	if v := os.Getenv(EnvCodec); v != "" {
		c.Transport.Codec = strings.ToLower(v)
	}

	if v := os.Getenv(EnvTelemetryEnabled); v != "" {
		c.Telemetry.Enabled = parseBool(v)
	}
	if v := os.Getenv(EnvOTLPMetricsEndpoint); v != "" {
		c.Telemetry.MetricsEndpoint = v
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true // Auto-enable if an OTLP endpoint is present
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv(EnvDevMode); v != "" {
		c.Development.Enabled = parseBool(v)
		if c.Development.Enabled {
			c.applyDevelopmentDefaults()
		}
	}

	return nil
}

// LoadFromFile loads configuration from a JSON, YAML or TOML file.
// Values in the file override the current configuration.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml", ".toml":
	default:
		return fmt.Errorf("unsupported config file extension %s: %w", ext, ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file: %v: %w", err, ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %v: %w", err, ErrInvalidConfiguration)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse TOML config file: %v: %w", err, ErrInvalidConfiguration)
		}
	}

	return nil
}

// Validate checks the configuration for consistency. The agent name is not
// required here: an agent describes itself through Agent.Info.
func (c *Config) Validate() error {
	switch c.Registry.Provider {
	case RegistryProviderHTTP:
		if c.Registry.URL == "" {
			return configError("registry URL is required for the http registry provider", ErrMissingConfiguration)
		}
	case RegistryProviderRedis:
		if c.Registry.RedisURL == "" {
			return configError("redis URL is required for the redis registry provider", ErrMissingConfiguration)
		}
	case RegistryProviderMemory:
	default:
		return configError(fmt.Sprintf("unknown registry provider %q", c.Registry.Provider), ErrInvalidConfiguration)
	}

	switch c.Transport.Provider {
	case TransportRedis:
		if c.Transport.RedisURL == "" {
			return configError("redis URL is required for the redis transport", ErrMissingConfiguration)
		}
	case TransportWebSocket:
		if c.Transport.HubURL == "" {
			return configError("hub URL is required for the websocket transport", ErrMissingConfiguration)
		}
	case TransportMemory:
	default:
		return configError(fmt.Sprintf("unknown transport %q", c.Transport.Provider), ErrInvalidConfiguration)
	}

	if _, err := CodecByName(c.Transport.Codec); err != nil {
		return configError(err.Error(), ErrInvalidConfiguration)
	}

	if c.Transport.QueueSize < 0 {
		return configError("queue size must not be negative: "+strconv.Itoa(c.Transport.QueueSize), ErrInvalidConfiguration)
	}

	if c.Namespace == "" {
		return configError("namespace is required", ErrMissingConfiguration)
	}

	return nil
}

func configError(msg string, err error) error {
	return &FrameworkError{
		Op:      "Config.Validate",
		Kind:    KindConfiguration,
		Message: msg,
		Err:     err,
	}
}

func (c *Config) applyDevelopmentDefaults() {
	c.Development.PrettyLogs = true
	c.Development.DebugLogging = true
	c.Logging.Level = "debug"
	c.Logging.Format = "text"
}

// Helper functions

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Functional Options

// WithName sets the service name used in logs and telemetry.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithNamespace sets the key and channel prefix of the Redis bindings.
func WithNamespace(namespace string) Option {
	return func(c *Config) error {
		c.Namespace = namespace
		return nil
	}
}

// WithRegistryURL selects the HTTP registry at url.
func WithRegistryURL(url string) Option {
	return func(c *Config) error {
		c.Registry.Provider = RegistryProviderHTTP
		c.Registry.URL = url
		return nil
	}
}

// WithRegistryProvider selects the registry backend.
func WithRegistryProvider(provider string) Option {
	return func(c *Config) error {
		switch provider {
		case RegistryProviderHTTP, RegistryProviderRedis, RegistryProviderMemory:
			c.Registry.Provider = provider
			return nil
		}
		return &FrameworkError{
			Op:      "WithRegistryProvider",
			Kind:    KindConfiguration,
			Message: fmt.Sprintf("unknown registry provider %q", provider),
			Err:     ErrInvalidConfiguration,
		}
	}
}

// WithRedisURL points both Redis bindings at url.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Registry.RedisURL = url
		c.Transport.RedisURL = url
		return nil
	}
}

// WithTransport selects the envelope transport.
func WithTransport(provider string) Option {
	return func(c *Config) error {
		switch provider {
		case TransportRedis, TransportWebSocket, TransportMemory:
			c.Transport.Provider = provider
			return nil
		}
		return &FrameworkError{
			Op:      "WithTransport",
			Kind:    KindConfiguration,
			Message: fmt.Sprintf("unknown transport %q", provider),
			Err:     ErrInvalidConfiguration,
		}
	}
}

// WithHubURL selects the WebSocket transport connected to url.
func WithHubURL(url string) Option {
	return func(c *Config) error {
		c.Transport.Provider = TransportWebSocket
		c.Transport.HubURL = url
		return nil
	}
}

// WithCodec sets the envelope wire encoding.
func WithCodec(name string) Option {
	return func(c *Config) error {
		if _, err := CodecByName(name); err != nil {
			return err
		}
		c.Transport.Codec = name
		return nil
	}
}

func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithDevelopmentMode switches to coloured text logs at debug level.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.Enabled = enabled
		if enabled {
			c.applyDevelopmentDefaults()
		}
		return nil
	}
}

// WithTelemetry enables tracing. An empty endpoint exports to stdout.
func WithTelemetry(enabled bool, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		c.Telemetry.Endpoint = endpoint
		if c.Telemetry.ServiceName == "" {
			c.Telemetry.ServiceName = c.Name
		}
		return nil
	}
}

// WithConfigFile loads configuration from a file.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// NewConfig creates a new configuration with the given options.
// It applies configuration in the following order:
//  1. Default values
//  2. Environment variables
//  3. Functional options
//
// Returns an error if any option fails or if validation fails.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.Name
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
