package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the gateway configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator. files are applied in order, each
// overlaying the previous; envPrefix, if non-empty, is applied last.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{envPrefix: envPrefix, files: files}
}

// Load assembles the effective configuration.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"cache.maxttlseconds":   "cache.maxTTLSeconds",
			"cache.keyprovider":     "cache.keyProvider",
			"cache.redis.cafile":    "cache.redis.tls.caFile",
			"auth.credentialsfile":  "auth.credentialsFile",
			"auth.staticaccess":     "auth.staticAccess",
			"auth.staticrefresh":    "auth.staticRefresh",
			"auth.unauthorizedexpr": "auth.unauthorizedExpr",
			"body.matchexpr":        "bodyError.matchExpr",
			"upstream.baseurl":      "upstream.baseURL",
			"upstream.timeoutseconds": "upstream.timeoutSeconds",
			"logging.correlationheader": "logging.correlationHeader",
		}
		transform := func(s string) string {
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap
// provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"listen": map[string]any{
			"address": cfg.Listen.Address,
			"port":    cfg.Listen.Port,
		},
		"logging": map[string]any{
			"level":             cfg.Logging.Level,
			"format":            cfg.Logging.Format,
			"correlationHeader": cfg.Logging.CorrelationHeader,
		},
		"metrics": map[string]any{
			"enabled": cfg.Metrics.Enabled,
			"path":    cfg.Metrics.Path,
		},
		"cache": map[string]any{
			"backend":       cfg.Cache.Backend,
			"keyProvider":   cfg.Cache.KeyProvider,
			"maxTTLSeconds": cfg.Cache.MaxTTLSeconds,
			"redis": map[string]any{
				"address":  cfg.Cache.Redis.Address,
				"username": cfg.Cache.Redis.Username,
				"password": cfg.Cache.Redis.Password,
				"db":       cfg.Cache.Redis.DB,
				"tls": map[string]any{
					"enabled": cfg.Cache.Redis.TLS.Enabled,
					"caFile":  cfg.Cache.Redis.TLS.CAFile,
				},
			},
		},
		"auth": map[string]any{
			"enabled":          cfg.Auth.Enabled,
			"provider":         cfg.Auth.Provider,
			"credentialsFile":  cfg.Auth.CredentialsFile,
			"staticAccess":     cfg.Auth.StaticAccess,
			"staticRefresh":    cfg.Auth.StaticRefresh,
			"unauthorizedExpr": cfg.Auth.UnauthorizedExpr,
		},
		"network": map[string]any{
			"enabled": cfg.Network.Enabled,
		},
		"bodyError": map[string]any{
			"enabled":   cfg.Body.Enabled,
			"matchExpr": cfg.Body.MatchExpr,
		},
		"upstream": map[string]any{
			"baseURL":        cfg.Upstream.BaseURL,
			"timeoutSeconds": cfg.Upstream.TimeoutSeconds,
		},
	}
}
