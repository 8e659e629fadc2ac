package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// RedisTLSConfig configures TLS for a RedisBackend connection.
type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

// RedisConfig configures a RedisBackend.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

// RedisBackend backs the Backend contract with a valkey-go client, giving
// the cache middleware a real networked store rather than only the
// in-memory reference implementation.
type RedisBackend struct {
	client valkey.Client
}

// NewRedisBackend dials address and verifies connectivity with a PING
// before returning.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil, fmt.Errorf("cache: read redis ca file: %w", err)
				}
				return nil, fmt.Errorf("cache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &RedisBackend{client: client}, nil
}

type redisEntry struct {
	Payload     []byte `json:"payload"`
	ContentType string `json:"contentType,omitempty"`
}

// Add stores entry under key with the given ttl. A non-positive ttl is
// treated as already expired and nothing is written, mirroring the memory
// backend's immediate-expiry behavior for Add(K, v, 0).
func (c *RedisBackend) Add(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(redisEntry{Payload: entry.Payload, ContentType: entry.ContentType})
	if err != nil {
		return fmt.Errorf("cache: redis marshal: %w", err)
	}
	cmd := c.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// TryGet fetches key, treating a missing key as a cache miss rather than an
// error.
func (c *RedisBackend) TryGet(ctx context.Context, key string) (Entry, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	raw, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	var decoded redisEntry
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis unmarshal: %w", err)
	}
	return Entry{Payload: decoded.Payload, ContentType: decoded.ContentType}, true, nil
}

// Clear flushes the selected database. Backends are expected to be
// dedicated to this middleware's keyspace; callers sharing a database for
// other purposes should use a key-prefixed Backend wrapper instead.
func (c *RedisBackend) Clear(ctx context.Context) error {
	if err := c.client.Do(ctx, c.client.B().Flushdb().Build()).Error(); err != nil {
		return fmt.Errorf("cache: redis flushdb: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisBackend) Close() {
	c.client.Close()
}
