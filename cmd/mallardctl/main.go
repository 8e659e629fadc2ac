package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kestrelhq/mallard/internal/config"
	"github.com/kestrelhq/mallard/internal/exchange"
	"github.com/kestrelhq/mallard/internal/expr"
	"github.com/kestrelhq/mallard/internal/logging"
	"github.com/kestrelhq/mallard/internal/metrics"
	"github.com/kestrelhq/mallard/internal/middleware/auth"
	"github.com/kestrelhq/mallard/internal/middleware/bodyerror"
	"github.com/kestrelhq/mallard/internal/middleware/cache"
	"github.com/kestrelhq/mallard/internal/middleware/failuresink"
	"github.com/kestrelhq/mallard/internal/middleware/network"
	"github.com/kestrelhq/mallard/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to gateway configuration file")
		envPrefix  = flag.String("env-prefix", "MALLARD", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	sink := failuresink.NewSink(logger.With(slog.String("agent", "failuresink")))
	sink.Register(func(_ context.Context, req *exchange.Request, err error) {
		logger.Warn("exchange failed", slog.String("url", req.URL), slog.Any("error", err))
	})

	var chain exchange.Exchanger = exchange.NewHTTPTransport(&http.Client{
		Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
	})

	chain = wireBodyError(chain, cfg.Body, logger)
	chain = failuresink.New(chain, sink)
	chain = wireNetwork(chain, cfg.Network, recorder)

	var credentialsWatcher *config.CredentialsWatcher
	chain, credentialsWatcher = wireAuth(ctx, chain, cfg.Auth, recorder, logger)
	if credentialsWatcher != nil {
		defer credentialsWatcher.Stop()
	}

	chain = wireCache(chain, cfg.Cache, recorder, logger)

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, recorder.Handler())
	}
	mux.Handle("/", server.NewGatewayHandler(chain, cfg.Upstream.BaseURL, logger))

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func wireBodyError(inner exchange.Exchanger, cfg config.BodyErrorConfig, logger *slog.Logger) exchange.Exchanger {
	if !cfg.Enabled || strings.TrimSpace(cfg.MatchExpr) == "" {
		return inner
	}
	env, err := expr.NewEnvironment()
	if err != nil {
		logger.Error("body-error predicate environment setup failed", slog.Any("error", err))
		return inner
	}
	program, err := env.Compile(cfg.MatchExpr)
	if err != nil {
		logger.Error("body-error predicate compile failed", slog.Any("error", err), slog.String("expr", cfg.MatchExpr))
		return inner
	}
	match := bodyerror.CELMatch(program, logger)
	failure := func(status int, _ http.Header, decoded map[string]any) error {
		return &bodyerror.Error[map[string]any]{StatusCode: status, Body: decoded, Reason: "matched declarative body predicate"}
	}
	return bodyerror.New(inner, match, failure, bodyerror.WithLogger[map[string]any](logger))
}

func wireNetwork(inner exchange.Exchanger, cfg config.NetworkConfig, recorder *metrics.Recorder) exchange.Exchanger {
	if !cfg.Enabled {
		return inner
	}
	return network.New(inner, nil, network.WithRecorder(recorder))
}

func wireAuth(ctx context.Context, inner exchange.Exchanger, cfg config.AuthConfig, recorder *metrics.Recorder, logger *slog.Logger) (exchange.Exchanger, *config.CredentialsWatcher) {
	if !cfg.Enabled {
		return inner, nil
	}

	authLogger := logger.With(slog.String("agent", "auth"))
	var opts []auth.Option
	opts = append(opts, auth.WithLogger(authLogger), auth.WithRecorder(recorder))
	if expression := strings.TrimSpace(cfg.UnauthorizedExpr); expression != "" {
		if fn, ok := compileUnauthorized(expression, authLogger); ok {
			opts = append(opts, auth.WithUnauthorizedFunc(fn))
		}
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	switch provider {
	case "file":
		initial, err := auth.ReadInitialToken(cfg.CredentialsFile)
		if err != nil {
			authLogger.Error("initial credentials read failed, auth disabled", slog.Any("error", err))
			return inner, nil
		}
		source := auth.NewFileSource(cfg.CredentialsFile)
		refProvider := auth.NewReferenceProvider(initial, source,
			auth.WithProviderLogger(authLogger),
			auth.WithProviderRecorder(recorder),
		)
		watcher, err := config.WatchCredentialsFile(ctx, cfg.CredentialsFile, func(data []byte) {
			token, err := auth.ParseToken(data)
			if err != nil {
				authLogger.Warn("credentials reparse failed", slog.Any("error", err))
				return
			}
			refProvider.SetCurrent(token)
		}, func(err error) {
			authLogger.Error("credentials watch error", slog.Any("error", err))
		})
		if err != nil {
			authLogger.Warn("credentials watcher setup failed, relying on refresh-time rereads", slog.Any("error", err))
		}
		return auth.New(inner, refProvider, opts...), watcher
	default:
		if strings.TrimSpace(cfg.StaticAccess) == "" {
			authLogger.Warn("static credentials unavailable, auth disabled")
			return inner, nil
		}
		token := auth.StaticToken{Access: cfg.StaticAccess, Refresh: cfg.StaticRefresh}
		refProvider := auth.NewReferenceProvider(token, nil,
			auth.WithProviderLogger(authLogger),
			auth.WithProviderRecorder(recorder),
		)
		return auth.New(inner, refProvider, opts...), nil
	}
}

func compileUnauthorized(expression string, logger *slog.Logger) (auth.UnauthorizedFunc, bool) {
	env, err := expr.NewEnvironment()
	if err != nil {
		logger.Error("unauthorized predicate environment setup failed", slog.Any("error", err))
		return nil, false
	}
	program, err := env.Compile(expression)
	if err != nil {
		logger.Error("unauthorized predicate compile failed", slog.Any("error", err), slog.String("expr", expression))
		return nil, false
	}
	return auth.CELUnauthorized(program, logger), true
}

func wireCache(inner exchange.Exchanger, cfg config.CacheConfig, recorder *metrics.Recorder, logger *slog.Logger) exchange.Exchanger {
	cacheLogger := logger.With(slog.String("agent", "cache"))
	backend := buildCacheBackend(cacheLogger, cfg)

	var keys cache.KeyProvider
	switch strings.TrimSpace(strings.ToLower(cfg.KeyProvider)) {
	case "authhash":
		keys = cache.AuthHashKeyProvider{}
	default:
		keys = cache.URIKeyProvider{}
	}

	return cache.New(inner, backend, keys, cache.WithLogger(cacheLogger), cache.WithRecorder(recorder))
}

func buildCacheBackend(logger *slog.Logger, cfg config.CacheConfig) cache.Backend {
	switch strings.TrimSpace(strings.ToLower(cfg.Backend)) {
	case "redis":
		backend, err := cache.NewRedisBackend(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis cache initialization failed, falling back to memory", slog.Any("error", err))
			return cache.NewMemoryBackend()
		}
		logger.Info("using redis cache backend", slog.String("address", cfg.Redis.Address))
		return backend
	default:
		logger.Info("using memory cache backend")
		return cache.NewMemoryBackend()
	}
}
