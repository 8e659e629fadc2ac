package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kestrelhq/mallard/internal/exchange"
	"github.com/kestrelhq/mallard/internal/metrics"
)

// UnauthorizedFunc reports whether resp should trigger the refresh path.
// The default checks for HTTP 401.
type UnauthorizedFunc func(req *exchange.Request, resp *exchange.Response) bool

// IncludeTokenFunc reports whether req is opted into token attachment. The
// default looks for the presence of any Authorization header, however
// empty; callers tag requests this way to request a token.
type IncludeTokenFunc func(req *exchange.Request) bool

func defaultUnauthorized(_ *exchange.Request, resp *exchange.Response) bool {
	return resp.StatusCode == http.StatusUnauthorized
}

func defaultIncludeToken(req *exchange.Request) bool {
	return len(req.Header.Values("Authorization")) > 0
}

// Middleware is the auth exchanger: attach → send → on 401, refresh → retry
// → on a second 401, report session-expired and return the 401 unchanged.
type Middleware struct {
	inner        exchange.Exchanger
	provider     TokenProvider
	unauthorized UnauthorizedFunc
	includeToken IncludeTokenFunc
	logger       *slog.Logger
	recorder     *metrics.Recorder

	mu                     sync.Mutex
	lastExpiredAccessToken string
	lastExpiredSet         bool
}

// Option configures a Middleware at construction time.
type Option func(*Middleware)

// WithLogger attaches a logger; nil falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) { m.logger = logger }
}

// WithUnauthorizedFunc overrides the default "status == 401" predicate.
func WithUnauthorizedFunc(fn UnauthorizedFunc) Option {
	return func(m *Middleware) { m.unauthorized = fn }
}

// WithIncludeTokenFunc overrides the default "Authorization header present"
// predicate.
func WithIncludeTokenFunc(fn IncludeTokenFunc) Option {
	return func(m *Middleware) { m.includeToken = fn }
}

// WithRecorder attaches a metrics.Recorder; a nil recorder disables
// instrumentation.
func WithRecorder(recorder *metrics.Recorder) Option {
	return func(m *Middleware) { m.recorder = recorder }
}

// New builds an auth Middleware wrapping inner and backed by provider.
func New(inner exchange.Exchanger, provider TokenProvider, opts ...Option) *Middleware {
	m := &Middleware{
		inner:        inner,
		provider:     provider,
		unauthorized: defaultUnauthorized,
		includeToken: defaultIncludeToken,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Exchange implements the per-request state machine: START, S_FETCH,
// S_SEND, S_UNAUTH, S_REFRESH, S_RETRY.
func (m *Middleware) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	if !m.includeToken(req) {
		return m.inner.Exchange(ctx, req)
	}

	token, err := m.provider.GetToken(ctx, req)
	if err != nil {
		return nil, err
	}

	attachStart := time.Now()
	resp, err := m.sendWithToken(ctx, req, token)
	m.recorder.ObserveAuthAttach(tokenPresent(token), time.Since(attachStart))
	if err != nil {
		return nil, err
	}
	if !m.unauthorized(req, resp) {
		return resp, nil
	}

	if token == nil || !token.CanBeRefreshed() {
		m.notifyExpiredOnce(ctx, req, token)
		return resp, nil
	}

	refreshed, err := m.provider.RefreshToken(ctx, req, token)
	if err != nil {
		m.logger.Warn("auth: refresh_token raised, treating as session expired", slog.Any("error", err))
		refreshed = nil
	}
	if refreshed == nil {
		m.notifyExpiredOnce(ctx, req, token)
		return resp, nil
	}

	retryResp, err := m.sendWithToken(ctx, req, refreshed)
	if err != nil {
		return nil, err
	}
	if !m.unauthorized(req, retryResp) {
		m.recorder.ObserveAuthRetry(metrics.AuthRetrySucceeded)
		return retryResp, nil
	}

	m.recorder.ObserveAuthRetry(metrics.AuthRetryStillUnauthorized)
	m.notifyExpiredOnce(ctx, req, refreshed)
	return retryResp, nil
}

// tokenPresent reports whether token carries a non-empty access value.
func tokenPresent(token Token) bool {
	if token == nil {
		return false
	}
	access, ok := token.AccessToken()
	return ok && access != ""
}

// sendWithToken attaches token to a clone of req (or strips Authorization
// if absent) and forwards to inner.
func (m *Middleware) sendWithToken(ctx context.Context, req *exchange.Request, token Token) (*exchange.Response, error) {
	outgoing := req.Clone()

	var access string
	var ok bool
	if token != nil {
		access, ok = token.AccessToken()
	}
	if !ok || access == "" {
		outgoing.Header.Del("Authorization")
		return m.inner.Exchange(ctx, outgoing)
	}

	scheme, _ := splitAuthorization(req.Header.Get("Authorization"))
	if scheme == "" {
		scheme = "Bearer"
	}
	outgoing.Header.Set("Authorization", scheme+" "+access)
	return m.inner.Exchange(ctx, outgoing)
}

// notifyExpiredOnce delegates to the provider (which is authoritative for
// dedup when shared) and additionally records the value in the
// handler-local fallback field.
func (m *Middleware) notifyExpiredOnce(ctx context.Context, req *exchange.Request, token Token) {
	if token == nil {
		return
	}
	access, ok := token.AccessToken()
	if !ok {
		return
	}

	m.provider.NotifySessionExpired(ctx, req, token)

	m.mu.Lock()
	if !m.lastExpiredSet || m.lastExpiredAccessToken != access {
		m.lastExpiredAccessToken = access
		m.lastExpiredSet = true
	}
	m.mu.Unlock()
}

// splitAuthorization splits an Authorization header value into its scheme
// and parameter at the first whitespace boundary.
func splitAuthorization(header string) (scheme, param string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ""
	}
	idx := strings.IndexByte(header, ' ')
	if idx < 0 {
		return header, ""
	}
	return header[:idx], strings.TrimSpace(header[idx+1:])
}
