package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelhq/mallard/internal/exchange"
	"github.com/kestrelhq/mallard/internal/metrics"
)

// TokenProvider is the external collaborator an auth Middleware is built
// from. A nil Token return from GetToken or RefreshToken means absent, not
// an error.
type TokenProvider interface {
	// GetToken returns the currently-known token for req.
	GetToken(ctx context.Context, req *exchange.Request) (Token, error)
	// RefreshToken attempts to obtain a fresh token given the one observed
	// to fail (unauthorized). A nil Token return means no refresh was
	// possible; the caller should treat this as session-expired.
	RefreshToken(ctx context.Context, req *exchange.Request, unauthorized Token) (Token, error)
	// NotifySessionExpired informs the provider that expired was rejected
	// and could not be refreshed.
	NotifySessionExpired(ctx context.Context, req *exchange.Request, expired Token)
}

// Source performs the actual network call a ReferenceProvider delegates to
// when a refresh is actually needed (as opposed to piggybacked).
type Source interface {
	Refresh(ctx context.Context, req *exchange.Request, unauthorized Token) (Token, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req *exchange.Request, unauthorized Token) (Token, error)

// Refresh implements Source.
func (f SourceFunc) Refresh(ctx context.Context, req *exchange.Request, unauthorized Token) (Token, error) {
	return f(ctx, req, unauthorized)
}

// ReferenceProvider is the process-wide shared TokenProvider: it serialises
// refreshes behind a single-flight semaphore, piggybacks waiters onto a
// refresh that already completed, swallows refresh failures, and dedups
// session-expired notifications by access-token value. Share one instance
// across every Middleware guarding the same identity realm.
type ReferenceProvider struct {
	source   Source
	logger   *slog.Logger
	recorder *metrics.Recorder
	onExpired func(Token)

	mu      sync.RWMutex
	current Token

	sem chan struct{}

	expiredMu      sync.Mutex
	lastExpired    string
	lastExpiredSet bool
}

// ProviderOption configures a ReferenceProvider at construction time.
type ProviderOption func(*ReferenceProvider)

// WithProviderLogger attaches a logger; nil falls back to slog.Default().
func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(p *ReferenceProvider) { p.logger = logger }
}

// WithSessionExpiredHook registers a callback invoked when an expired
// access-token value is reported that differs from the most recently
// notified one.
func WithSessionExpiredHook(fn func(Token)) ProviderOption {
	return func(p *ReferenceProvider) { p.onExpired = fn }
}

// WithProviderRecorder attaches a metrics.Recorder; a nil recorder disables
// instrumentation.
func WithProviderRecorder(recorder *metrics.Recorder) ProviderOption {
	return func(p *ReferenceProvider) { p.recorder = recorder }
}

// NewReferenceProvider builds a ReferenceProvider seeded with initial (which
// may be nil) and delegating actual refresh work to source.
func NewReferenceProvider(initial Token, source Source, opts ...ProviderOption) *ReferenceProvider {
	p := &ReferenceProvider{
		source:  source,
		logger:  slog.Default(),
		current: initial,
		sem:     make(chan struct{}, 1),
	}
	p.sem <- struct{}{}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// GetToken returns the currently-known token.
func (p *ReferenceProvider) GetToken(_ context.Context, _ *exchange.Request) (Token, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, nil
}

// SetCurrent overwrites the known token outside of the refresh flow, for
// collaborators (such as a file watcher) that observe credential rotation
// out-of-band and want every subsequent request to pick it up immediately.
func (p *ReferenceProvider) SetCurrent(token Token) {
	p.mu.Lock()
	p.current = token
	p.mu.Unlock()
}

// RefreshToken implements the single-flight, piggyback, and
// failure-swallowing refresh contract. The wait for the semaphore respects
// ctx; the refresh body itself, once the semaphore is held, runs to
// completion against a detached context so a cancelled caller never leaves
// the provider half-refreshed for the next waiter.
func (p *ReferenceProvider) RefreshToken(ctx context.Context, req *exchange.Request, unauthorized Token) (Token, error) {
	start := time.Now()
	select {
	case <-p.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.sem <- struct{}{} }()

	current, _ := p.GetToken(context.Background(), req)
	if current != nil && !TokensEqual(current, unauthorized) {
		// A parallel refresh already landed a different token while we
		// waited; piggyback on it without touching the network.
		p.recorder.ObserveAuthRefresh(metrics.AuthRefreshPiggyback, time.Since(start))
		return current, nil
	}
	if current == nil || !current.CanBeRefreshed() {
		p.recorder.ObserveAuthRefresh(metrics.AuthRefreshAbsent, time.Since(start))
		return nil, nil
	}

	refreshed, err := p.source.Refresh(context.Background(), req, unauthorized)
	if err != nil {
		p.logger.Warn("token refresh failed, treating as session expired", slog.Any("error", err))
		p.recorder.ObserveAuthRefresh(metrics.AuthRefreshSwallowed, time.Since(start))
		return nil, nil
	}
	if refreshed == nil {
		p.recorder.ObserveAuthRefresh(metrics.AuthRefreshAbsent, time.Since(start))
		return nil, nil
	}

	p.mu.Lock()
	p.current = refreshed
	p.mu.Unlock()

	p.recorder.ObserveAuthRefresh(metrics.AuthRefreshSucceeded, time.Since(start))
	return refreshed, nil
}

// NotifySessionExpired invokes the registered hook unless expired's
// access-token value equals the most recently notified value, so repeated
// reports of the same expired token fire once. Only the last value is
// remembered: a value that recurs after a different one fires again.
func (p *ReferenceProvider) NotifySessionExpired(_ context.Context, _ *exchange.Request, expired Token) {
	if expired == nil {
		return
	}
	access, ok := expired.AccessToken()
	if !ok {
		return
	}

	p.expiredMu.Lock()
	if p.lastExpiredSet && p.lastExpired == access {
		p.expiredMu.Unlock()
		return
	}
	p.lastExpired = access
	p.lastExpiredSet = true
	p.expiredMu.Unlock()

	p.recorder.ObserveSessionExpired()
	if p.onExpired != nil {
		p.onExpired(expired)
	}
}
