package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds every option the demo gateway binary needs to assemble its
// exchanger chain.
type Config struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
	Cache   CacheConfig   `koanf:"cache"`
	Auth    AuthConfig    `koanf:"auth"`
	Network NetworkConfig `koanf:"network"`
	Body    BodyErrorConfig `koanf:"bodyError"`
	Upstream UpstreamConfig `koanf:"upstream"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and the correlation header
// name that is attached as a field to every log record.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// CacheConfig selects the cache backend and key provider. MaxTTLSeconds is
// loaded and validated as non-negative, but the gateway does not apply it:
// directive TTLs are stored as requested, with no upper bound.
type CacheConfig struct {
	Backend        string      `koanf:"backend"`
	KeyProvider    string      `koanf:"keyProvider"`
	MaxTTLSeconds  int         `koanf:"maxTTLSeconds"`
	Redis          RedisConfig `koanf:"redis"`
}

// RedisConfig mirrors cache.RedisConfig for koanf unmarshalling.
type RedisConfig struct {
	Address  string          `koanf:"address"`
	Username string          `koanf:"username"`
	Password string          `koanf:"password"`
	DB       int             `koanf:"db"`
	TLS      RedisTLSConfig  `koanf:"tls"`
}

// RedisTLSConfig mirrors cache.RedisTLSConfig for koanf unmarshalling.
type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// AuthConfig configures the demo token provider and its pluggable
// unauthorized-detection predicate.
type AuthConfig struct {
	Enabled          bool   `koanf:"enabled"`
	Provider         string `koanf:"provider"`
	CredentialsFile  string `koanf:"credentialsFile"`
	StaticAccess     string `koanf:"staticAccess"`
	StaticRefresh    string `koanf:"staticRefresh"`
	UnauthorizedExpr string `koanf:"unauthorizedExpr"`
}

// NetworkConfig toggles the network-failure wrapper.
type NetworkConfig struct {
	Enabled bool `koanf:"enabled"`
}

// BodyErrorConfig configures the body-error interpreter's declarative
// match predicate.
type BodyErrorConfig struct {
	Enabled    bool   `koanf:"enabled"`
	MatchExpr  string `koanf:"matchExpr"`
}

// UpstreamConfig describes the reverse-proxy target.
type UpstreamConfig struct {
	BaseURL        string `koanf:"baseURL"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// Validate rejects an assembled Config that cannot be turned into a
// working chain.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Listen.Port)
	}
	if c.Cache.MaxTTLSeconds < 0 {
		return fmt.Errorf("config: cache.maxTTLSeconds invalid: %d", c.Cache.MaxTTLSeconds)
	}

	backend := strings.TrimSpace(strings.ToLower(c.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Address) == "" {
			return errors.New("config: cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.backend unsupported: %s", c.Cache.Backend)
	}

	keyProvider := strings.TrimSpace(strings.ToLower(c.Cache.KeyProvider))
	switch keyProvider {
	case "", "uri", "authhash":
	default:
		return fmt.Errorf("config: cache.keyProvider unsupported: %s", c.Cache.KeyProvider)
	}

	provider := strings.TrimSpace(strings.ToLower(c.Auth.Provider))
	switch provider {
	case "", "static", "file":
	default:
		return fmt.Errorf("config: auth.provider unsupported: %s", c.Auth.Provider)
	}
	if provider == "file" && strings.TrimSpace(c.Auth.CredentialsFile) == "" {
		return errors.New("config: auth.credentialsFile required for the file provider")
	}
	if provider == "static" && strings.TrimSpace(c.Auth.StaticAccess) == "" {
		return errors.New("config: auth.staticAccess required for the static provider")
	}

	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("config: upstream.timeoutSeconds invalid: %d", c.Upstream.TimeoutSeconds)
	}

	return nil
}

// DefaultConfig returns the configuration the demo gateway assumes absent
// any file or environment overrides.
func DefaultConfig() Config {
	return Config{
		Listen: ListenConfig{
			Address: "0.0.0.0",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:             "info",
			Format:            "json",
			CorrelationHeader: "X-Request-ID",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Cache: CacheConfig{
			Backend:       "memory",
			KeyProvider:   "uri",
			MaxTTLSeconds: 300,
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Network: NetworkConfig{
			Enabled: true,
		},
		Body: BodyErrorConfig{
			Enabled: false,
		},
		Upstream: UpstreamConfig{
			TimeoutSeconds: 10,
		},
	}
}
