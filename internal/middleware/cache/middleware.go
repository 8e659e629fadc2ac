package cache

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrelhq/mallard/internal/exchange"
	"github.com/kestrelhq/mallard/internal/metrics"
)

// Middleware is the cache exchanger: it parses and strips the directive
// headers, consults the force-refresh/cacheable/hit decision table, and
// forwards to inner when the table calls for it.
type Middleware struct {
	inner    exchange.Exchanger
	backend  Backend
	keys     KeyProvider
	logger   *slog.Logger
	recorder *metrics.Recorder
}

// Option configures a Middleware at construction time.
type Option func(*Middleware)

// WithLogger attaches a logger; a nil logger falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) { m.logger = logger }
}

// WithRecorder attaches a metrics.Recorder; a nil recorder disables
// instrumentation.
func WithRecorder(recorder *metrics.Recorder) Option {
	return func(m *Middleware) { m.recorder = recorder }
}

// New builds a cache Middleware wrapping inner, backed by backend and keyed
// by keys. keys defaults to URIKeyProvider when nil.
func New(inner exchange.Exchanger, backend Backend, keys KeyProvider, opts ...Option) *Middleware {
	if keys == nil {
		keys = URIKeyProvider{}
	}
	m := &Middleware{inner: inner, backend: backend, keys: keys, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Exchange implements the force-refresh/cacheable/hit decision table.
func (m *Middleware) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	if req.Method != http.MethodGet {
		return m.inner.Exchange(ctx, req)
	}

	d, err := parseDirectives(req)
	if err != nil {
		return nil, err
	}
	if d.disabled {
		m.logger.Debug("cache disabled for request", slog.String("url", req.URL))
		return m.inner.Exchange(ctx, req)
	}

	if !d.cacheable {
		return m.inner.Exchange(ctx, req)
	}

	key := m.keys.Key(req)

	if !d.forceRefresh {
		start := time.Now()
		entry, hit, err := m.backend.TryGet(ctx, key)
		if err != nil {
			m.recorder.ObserveCacheLookup(metrics.CacheLookupError, time.Since(start))
			return nil, err
		}
		if hit {
			m.recorder.ObserveCacheLookup(metrics.CacheLookupHit, time.Since(start))
			m.logger.Debug("cache hit", slog.String("key", key))
			header := make(http.Header)
			if entry.ContentType != "" {
				header.Set("Content-Type", entry.ContentType)
			}
			return &exchange.Response{StatusCode: http.StatusOK, Header: header, Body: entry.Payload}, nil
		}
		m.recorder.ObserveCacheLookup(metrics.CacheLookupMiss, time.Since(start))
		m.logger.Debug("cache miss", slog.String("key", key))
	}

	resp, err := m.inner.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	storeStart := time.Now()
	if exchange.IsSuccess(resp) && ctx.Err() == nil {
		entry := Entry{Payload: resp.Body, ContentType: resp.Header.Get("Content-Type")}
		if storeErr := m.backend.Add(ctx, key, entry, d.ttl); storeErr != nil {
			m.recorder.ObserveCacheStore(metrics.CacheStoreError, time.Since(storeStart))
			m.logger.Error("cache store failed", slog.String("key", key), slog.Any("error", storeErr))
		} else {
			m.recorder.ObserveCacheStore(metrics.CacheStoreStored, time.Since(storeStart))
			m.logger.Debug("cache stored", slog.String("key", key), slog.Duration("ttl", d.ttl))
		}
	} else {
		m.recorder.ObserveCacheStore(metrics.CacheStoreSkipped, time.Since(storeStart))
	}

	return resp, nil
}
