package network

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelhq/mallard/internal/exchange"
	"github.com/stretchr/testify/require"
)

func TestWrapper_WrapsWhenOffline(t *testing.T) {
	innerErr := errors.New("dial tcp: connection refused")
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return nil, innerErr
	})
	w := New(inner, func(ctx context.Context) bool { return false })

	req, err := exchange.NewRequest("GET", "http://x/", nil)
	require.NoError(t, err)

	_, err = w.Exchange(context.Background(), req)
	require.ErrorIs(t, err, ErrNoNetwork)
	require.ErrorIs(t, err, innerErr)
}

func TestWrapper_PassesThroughWhenOnline(t *testing.T) {
	innerErr := errors.New("500 from upstream")
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return nil, innerErr
	})
	w := New(inner, func(ctx context.Context) bool { return true })

	req, err := exchange.NewRequest("GET", "http://x/", nil)
	require.NoError(t, err)

	_, err = w.Exchange(context.Background(), req)
	require.ErrorIs(t, err, innerErr)
	require.False(t, errors.Is(err, ErrNoNetwork))
}

func TestWrapper_NilAvailabilityAlwaysPassesThrough(t *testing.T) {
	innerErr := errors.New("boom")
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return nil, innerErr
	})
	w := New(inner, nil)

	req, err := exchange.NewRequest("GET", "http://x/", nil)
	require.NoError(t, err)

	_, err = w.Exchange(context.Background(), req)
	require.ErrorIs(t, err, innerErr)
}

func TestWrapper_SuccessPassesThrough(t *testing.T) {
	resp := &exchange.Response{StatusCode: 200}
	inner := exchange.ExchangerFunc(func(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
		return resp, nil
	})
	w := New(inner, func(ctx context.Context) bool { return false })

	req, err := exchange.NewRequest("GET", "http://x/", nil)
	require.NoError(t, err)

	got, err := w.Exchange(context.Background(), req)
	require.NoError(t, err)
	require.Same(t, resp, got)
}
