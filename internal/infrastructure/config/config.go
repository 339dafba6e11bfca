package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Supported values for the enum-like settings.
const (
	ProtocolREST = "rest"
	ProtocolGRPC = "grpc"

	TransportWebSocket = "websocket"
	TransportSSE       = "sse"

	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Kernel    KernelConfig    `yaml:"kernel" toml:"kernel"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
	Registry  RegistryConfig  `yaml:"registry" toml:"registry"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the gateway HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host" toml:"host"`
}

// KernelConfig holds kernel control-plane configuration.
type KernelConfig struct {
	Protocol         string   `envconfig:"KERNEL_PROTOCOL" default:"rest" yaml:"protocol" toml:"protocol"`
	Address          string   `envconfig:"KERNEL_ADDR" default:"http://localhost:8888" yaml:"address" toml:"address"`
	KernelName       string   `envconfig:"KERNEL_NAME" default:"python3" yaml:"kernel_name" toml:"kernel_name"`
	AutoCreate       bool     `envconfig:"KERNEL_AUTO_CREATE" default:"true" yaml:"auto_create" toml:"auto_create"`
	RequestTimeout   Duration `envconfig:"KERNEL_REQUEST_TIMEOUT" default:"10s" yaml:"request_timeout" toml:"request_timeout"`
	LivenessInterval Duration `envconfig:"KERNEL_LIVENESS_INTERVAL" default:"15s" yaml:"liveness_interval" toml:"liveness_interval"`
	RequestsPerSec   float64  `envconfig:"KERNEL_RPS" default:"20" yaml:"requests_per_second" toml:"requests_per_second"`
	Token            string   `envconfig:"KERNEL_TOKEN" default:"" yaml:"token" toml:"token"`
}

// StreamConfig holds event-stream transport configuration.
type StreamConfig struct {
	Transport      string   `envconfig:"STREAM_TRANSPORT" default:"websocket" yaml:"transport" toml:"transport"`
	URL            string   `envconfig:"STREAM_URL" default:"ws://localhost:8888/api/stream" yaml:"url" toml:"url"`
	SendURL        string   `envconfig:"STREAM_SEND_URL" default:"" yaml:"send_url" toml:"send_url"`
	ConnectTimeout Duration `envconfig:"STREAM_CONNECT_TIMEOUT" default:"10s" yaml:"connect_timeout" toml:"connect_timeout"`
	BackoffInitial Duration `envconfig:"STREAM_BACKOFF_INITIAL" default:"500ms" yaml:"backoff_initial" toml:"backoff_initial"`
	BackoffMax     Duration `envconfig:"STREAM_BACKOFF_MAX" default:"30s" yaml:"backoff_max" toml:"backoff_max"`
	BackoffJitter  float64  `envconfig:"STREAM_BACKOFF_JITTER" default:"0.2" yaml:"backoff_jitter" toml:"backoff_jitter"`
	MaxReconnects  int      `envconfig:"STREAM_MAX_RECONNECTS" default:"0" yaml:"max_reconnects" toml:"max_reconnects"`
}

// RegistryConfig holds session registry policy.
type RegistryConfig struct {
	GracePeriod      Duration `envconfig:"REGISTRY_GRACE_PERIOD" default:"5s" yaml:"grace_period" toml:"grace_period"`
	SnapshotDebounce Duration `envconfig:"REGISTRY_SNAPSHOT_DEBOUNCE" default:"500ms" yaml:"snapshot_debounce" toml:"snapshot_debounce"`
	MaxErrors        int      `envconfig:"REGISTRY_MAX_ERRORS" default:"50" yaml:"max_errors" toml:"max_errors"`
}

// StorageConfig holds persistent store configuration.
type StorageConfig struct {
	Backend           string `envconfig:"STORAGE_BACKEND" default:"file" yaml:"backend" toml:"backend"`
	Path              string `envconfig:"STORAGE_PATH" default:"/tmp/execstream" yaml:"path" toml:"path"`
	CompressThreshold int    `envconfig:"STORAGE_COMPRESS_THRESHOLD" default:"4096" yaml:"compress_threshold" toml:"compress_threshold"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
	File        string `envconfig:"LOG_FILE" default:"" yaml:"file" toml:"file"`
	MaxSizeMB   int    `envconfig:"LOG_MAX_SIZE_MB" default:"100" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups  int    `envconfig:"LOG_MAX_BACKUPS" default:"3" yaml:"max_backups" toml:"max_backups"`
}

// RateLimitConfig holds gateway rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
	Global            bool `envconfig:"RATE_LIMIT_GLOBAL" default:"false" yaml:"global" toml:"global"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
	Path    string `envconfig:"METRICS_PATH" default:"/metrics" yaml:"path" toml:"path"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile reads a YAML (.yaml, .yml) or TOML (.toml) file over the defaults.
// Environment variables are not consulted.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the rest of the program cannot act on.
func (c *Config) Validate() error {
	switch c.Kernel.Protocol {
	case ProtocolREST, ProtocolGRPC:
	default:
		return fmt.Errorf("invalid kernel protocol %q", c.Kernel.Protocol)
	}
	switch c.Stream.Transport {
	case TransportWebSocket, TransportSSE:
	default:
		return fmt.Errorf("invalid stream transport %q", c.Stream.Transport)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("invalid storage backend %q", c.Storage.Backend)
	}
	if c.Stream.BackoffJitter < 0 || c.Stream.BackoffJitter > 1 {
		return fmt.Errorf("stream backoff jitter must be within [0, 1], got %v", c.Stream.BackoffJitter)
	}
	if c.Kernel.RequestTimeout.Std() <= 0 || c.Stream.ConnectTimeout.Std() <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Kernel: KernelConfig{
			Protocol:         ProtocolREST,
			Address:          "http://localhost:8888",
			KernelName:       "python3",
			AutoCreate:       true,
			RequestTimeout:   Duration(10 * time.Second),
			LivenessInterval: Duration(15 * time.Second),
			RequestsPerSec:   20,
		},
		Stream: StreamConfig{
			Transport:      TransportWebSocket,
			URL:            "ws://localhost:8888/api/stream",
			ConnectTimeout: Duration(10 * time.Second),
			BackoffInitial: Duration(500 * time.Millisecond),
			BackoffMax:     Duration(30 * time.Second),
			BackoffJitter:  0.2,
		},
		Registry: RegistryConfig{
			GracePeriod:      Duration(5 * time.Second),
			SnapshotDebounce: Duration(500 * time.Millisecond),
			MaxErrors:        50,
		},
		Storage: StorageConfig{
			Backend:           BackendFile,
			Path:              "/tmp/execstream",
			CompressThreshold: 4096,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
			MaxSizeMB:   100,
			MaxBackups:  3,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
