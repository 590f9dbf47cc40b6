package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8787
	DefaultGRPCPort        = 50051
	DefaultLogLevel        = "info"
	DefaultBackend         = "memory"
	DefaultTTL             = 300 * time.Second
	DefaultMaxPayloadBytes = 16 << 20
	DefaultRedisAddress    = "localhost:6379"
	DefaultRedisGrace      = time.Minute
	DefaultMaxAttempts     = 64
	DefaultRetryBackoff    = 5 * time.Millisecond
	DefaultReservationTTL  = 30 * time.Second
	DefaultIdleTimeout     = time.Minute
)

// Config is the whole server configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Allocator AllocatorConfig `yaml:"allocator"`
	Actors    ActorsConfig    `yaml:"actors"`
}

// ServerConfig holds listener and logging settings.
type ServerConfig struct {
	// HTTPPort serves the HTTP API, WebSocket observers and /metrics (default 8787).
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves fileshare.v1.EntityService (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// Level returns the slog level for LogLevel.
func (s ServerConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// StorageConfig selects and tunes the entity store.
type StorageConfig struct {
	// Backend is one of: memory | redis.
	Backend string `yaml:"backend"`

	// TTL is the lifetime given to stored and renewed entities. Default: 300s.
	TTL time.Duration `yaml:"ttl"`

	// MaxPayloadBytes caps an upload body. Default: 16 MiB.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Address string `yaml:"address"`

	// PasswordEnv is the name of the environment variable holding the password.
	PasswordEnv string `yaml:"password_env"`

	DB int `yaml:"db"`

	// Grace is added to an entity's expiry to form the Redis key expiry.
	Grace time.Duration `yaml:"grace"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// AllocatorConfig bounds the slot claim loop.
type AllocatorConfig struct {
	// MaxAttempts per claim; 0 retries until the request ends. Default: 64.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoff is the wait between attempts. Default: 5ms.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// ReservationTTL is how long a claimed slot stays reserved. Default: 30s.
	ReservationTTL time.Duration `yaml:"reservation_ttl"`
}

// ActorsConfig tunes the per-key actor host.
type ActorsConfig struct {
	// IdleTimeout before an idle actor is dropped from memory; 0 never drops.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			GRPCPort: DefaultGRPCPort,
			LogLevel: DefaultLogLevel,
		},
		Storage: StorageConfig{
			Backend:         DefaultBackend,
			TTL:             DefaultTTL,
			MaxPayloadBytes: DefaultMaxPayloadBytes,
			Redis: RedisConfig{
				Address: DefaultRedisAddress,
				Grace:   DefaultRedisGrace,
			},
		},
		Allocator: AllocatorConfig{
			MaxAttempts:    DefaultMaxAttempts,
			RetryBackoff:   DefaultRetryBackoff,
			ReservationTTL: DefaultReservationTTL,
		},
		Actors: ActorsConfig{
			IdleTimeout: DefaultIdleTimeout,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", cfg.Server.GRPCPort)
	}
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", cfg.Server.LogLevel)
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "redis":
		if cfg.Storage.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address is required for the redis backend")
		}
		if cfg.Storage.Redis.Grace < 0 {
			return fmt.Errorf("storage.redis.grace must not be negative")
		}
	default:
		return fmt.Errorf("storage.backend %q unknown: want memory|redis", cfg.Storage.Backend)
	}
	if cfg.Storage.TTL <= 0 {
		return fmt.Errorf("storage.ttl must be positive")
	}
	if cfg.Storage.MaxPayloadBytes <= 0 {
		return fmt.Errorf("storage.max_payload_bytes must be positive")
	}
	if cfg.Allocator.MaxAttempts < 0 {
		return fmt.Errorf("allocator.max_attempts must not be negative")
	}
	if cfg.Allocator.RetryBackoff <= 0 {
		return fmt.Errorf("allocator.retry_backoff must be positive")
	}
	if cfg.Allocator.ReservationTTL <= 0 {
		return fmt.Errorf("allocator.reservation_ttl must be positive")
	}
	if cfg.Actors.IdleTimeout < 0 {
		return fmt.Errorf("actors.idle_timeout must not be negative")
	}
	return nil
}

// RestartRequired lists the settings that differ between prev and next and
// only take effect after a restart.
func RestartRequired(prev, next *Config) []string {
	var out []string
	if prev.Server.HTTPPort != next.Server.HTTPPort {
		out = append(out, "server.http_port")
	}
	if prev.Server.GRPCPort != next.Server.GRPCPort {
		out = append(out, "server.grpc_port")
	}
	if prev.Storage.Backend != next.Storage.Backend {
		out = append(out, "storage.backend")
	}
	if prev.Storage.Redis != next.Storage.Redis {
		out = append(out, "storage.redis")
	}
	if prev.Actors != next.Actors {
		out = append(out, "actors.idle_timeout")
	}
	return out
}
