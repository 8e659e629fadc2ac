package auth

import (
	"context"
	"net/http"
	"testing"

	"github.com/kestrelhq/mallard/internal/exchange"
	"github.com/stretchr/testify/require"
)

// scriptedExchanger returns canned responses keyed by the outgoing
// Authorization header's parameter, and counts total calls.
type scriptedExchanger struct {
	byParam map[string]*exchange.Response
	calls   int
}

func (s *scriptedExchanger) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	s.calls++
	_, param := splitAuthorization(req.Header.Get("Authorization"))
	if resp, ok := s.byParam[param]; ok {
		return resp, nil
	}
	return &exchange.Response{StatusCode: http.StatusUnauthorized, Header: make(http.Header)}, nil
}

func okResp() *exchange.Response {
	return &exchange.Response{StatusCode: http.StatusOK, Header: make(http.Header)}
}

func unauthorizedResp() *exchange.Response {
	return &exchange.Response{StatusCode: http.StatusUnauthorized, Header: make(http.Header)}
}

func newAuthedRequest(t *testing.T) *exchange.Request {
	t.Helper()
	req, err := exchange.NewRequest(http.MethodGet, "http://x/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer placeholder")
	return req
}

func TestAuthMiddleware_NoAuthorizationHeaderPassesThrough(t *testing.T) {
	inner := &scriptedExchanger{byParam: map[string]*exchange.Response{"": okResp()}}
	provider := NewReferenceProvider(StaticToken{Access: "A1"}, nil)
	mw := New(inner, provider)

	req, err := exchange.NewRequest(http.MethodGet, "http://x/", nil)
	require.NoError(t, err)

	_, err = mw.Exchange(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)
	require.Empty(t, req.Header.Values("Authorization"))
}

func TestAuthMiddleware_Authorized(t *testing.T) {
	inner := &scriptedExchanger{byParam: map[string]*exchange.Response{"A1": okResp()}}
	provider := NewReferenceProvider(StaticToken{Access: "A1"}, nil)
	mw := New(inner, provider)

	resp, err := mw.Exchange(context.Background(), newAuthedRequest(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, inner.calls)
}

func TestAuthMiddleware_RefreshAndRetrySucceeds(t *testing.T) {
	inner := &scriptedExchanger{byParam: map[string]*exchange.Response{
		"A1": unauthorizedResp(),
		"A2": okResp(),
	}}
	source := SourceFunc(func(ctx context.Context, req *exchange.Request, u Token) (Token, error) {
		return StaticToken{Access: "A2", Refresh: "R2"}, nil
	})
	provider := NewReferenceProvider(StaticToken{Access: "A1", Refresh: "R1"}, source)
	mw := New(inner, provider)

	resp, err := mw.Exchange(context.Background(), newAuthedRequest(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, inner.calls)
}

func TestAuthMiddleware_UnrefreshableUnauthorized(t *testing.T) {
	inner := &scriptedExchanger{byParam: map[string]*exchange.Response{"A1": unauthorizedResp()}}
	var expiredWith Token
	var expiredCalls int
	provider := NewReferenceProvider(StaticToken{Access: "A1"}, nil, WithSessionExpiredHook(func(tok Token) {
		expiredCalls++
		expiredWith = tok
	}))
	mw := New(inner, provider)

	resp, err := mw.Exchange(context.Background(), newAuthedRequest(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 1, inner.calls)
	require.Equal(t, 1, expiredCalls)
	access, _ := expiredWith.AccessToken()
	require.Equal(t, "A1", access)
}

func TestAuthMiddleware_RefreshReturnsAbsent(t *testing.T) {
	inner := &scriptedExchanger{byParam: map[string]*exchange.Response{"A1": unauthorizedResp()}}
	source := SourceFunc(func(ctx context.Context, req *exchange.Request, u Token) (Token, error) {
		return nil, nil
	})
	var expiredCalls int
	provider := NewReferenceProvider(StaticToken{Access: "A1", Refresh: "R1"}, source, WithSessionExpiredHook(func(Token) {
		expiredCalls++
	}))
	mw := New(inner, provider)

	resp, err := mw.Exchange(context.Background(), newAuthedRequest(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 1, inner.calls)
	require.Equal(t, 1, expiredCalls)
}

// TestAuthMiddleware_RefreshThrows mirrors the refresh-returns-absent case
// but with a custom provider whose RefreshToken raises instead of
// returning nil.
func TestAuthMiddleware_RefreshThrows(t *testing.T) {
	inner := &scriptedExchanger{byParam: map[string]*exchange.Response{"A1": unauthorizedResp()}}

	throwing := &throwingProvider{current: StaticToken{Access: "A1", Refresh: "R1"}}
	mw := New(inner, throwing)

	resp, err := mw.Exchange(context.Background(), newAuthedRequest(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 1, throwing.expiredCalls)
}

type throwingProvider struct {
	current      Token
	expiredCalls int
}

func (p *throwingProvider) GetToken(ctx context.Context, req *exchange.Request) (Token, error) {
	return p.current, nil
}

func (p *throwingProvider) RefreshToken(ctx context.Context, req *exchange.Request, unauthorized Token) (Token, error) {
	return nil, context.DeadlineExceeded
}

func (p *throwingProvider) NotifySessionExpired(ctx context.Context, req *exchange.Request, expired Token) {
	p.expiredCalls++
}

func TestAuthMiddleware_TokenAbsentStripsAuthorizationHeader(t *testing.T) {
	inner := &scriptedExchanger{byParam: map[string]*exchange.Response{"": okResp()}}
	provider := NewReferenceProvider(nil, nil)
	mw := New(inner, provider)

	req := newAuthedRequest(t)
	resp, err := mw.Exchange(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)
	// scriptedExchanger answers 200 only for an empty Authorization
	// parameter, so a 200 shows the forwarded request had no credential.
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// The original request passed by the caller is untouched; only the
	// clone forwarded to inner has its Authorization header stripped.
	require.Equal(t, "Bearer placeholder", req.Header.Get("Authorization"))
}

func TestAuthMiddleware_AuthorizedPassThroughNoRefresh(t *testing.T) {
	inner := &scriptedExchanger{byParam: map[string]*exchange.Response{"A1": okResp()}}
	var expiredCalls int
	source := SourceFunc(func(ctx context.Context, req *exchange.Request, u Token) (Token, error) {
		t.Fatal("refresh should not be attempted on a successful first exchange")
		return nil, nil
	})
	provider := NewReferenceProvider(StaticToken{Access: "A1", Refresh: "R1"}, source, WithSessionExpiredHook(func(Token) {
		expiredCalls++
	}))
	mw := New(inner, provider)

	resp, err := mw.Exchange(context.Background(), newAuthedRequest(t))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, inner.calls)
	require.Equal(t, 0, expiredCalls)
}

func TestAuthMiddleware_InnerFailurePropagatesUnchanged(t *testing.T) {
	wantErr := context.DeadlineExceeded
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return nil, wantErr
	})
	provider := NewReferenceProvider(StaticToken{Access: "A1"}, nil)
	mw := New(inner, provider)

	_, err := mw.Exchange(context.Background(), newAuthedRequest(t))
	require.ErrorIs(t, err, wantErr)
}
