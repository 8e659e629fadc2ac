// Package network wraps an exchanger so that a failure occurring while the
// network is unavailable is reported as a distinct, typed failure instead
// of the raw transport error.
package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/kestrelhq/mallard/internal/exchange"
	"github.com/kestrelhq/mallard/internal/metrics"
)

// ErrNoNetwork is the sentinel wrapped failures unwrap to via errors.Is.
var ErrNoNetwork = errors.New("network: unavailable")

// AvailabilityFunc reports whether the network is currently reachable. It
// is consulted only after the inner exchanger has already failed.
type AvailabilityFunc func(ctx context.Context) bool

// Wrapper is the network-failure reclassifying exchanger.
type Wrapper struct {
	inner     exchange.Exchanger
	available AvailabilityFunc
	recorder  *metrics.Recorder
}

// Option configures a Wrapper at construction time.
type Option func(*Wrapper)

// WithRecorder attaches a metrics.Recorder; a nil recorder disables
// instrumentation.
func WithRecorder(recorder *metrics.Recorder) Option {
	return func(w *Wrapper) { w.recorder = recorder }
}

// New builds a Wrapper around inner. available is consulted only when inner
// fails; a nil available treats the network as always reachable, so
// failures pass through unchanged.
func New(inner exchange.Exchanger, available AvailabilityFunc, opts ...Option) *Wrapper {
	w := &Wrapper{inner: inner, available: available}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Exchange forwards to inner. On failure, if available reports the network
// is down, the original error is wrapped in ErrNoNetwork; otherwise it
// propagates unchanged.
func (w *Wrapper) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	resp, err := w.inner.Exchange(ctx, req)
	if err == nil {
		return resp, nil
	}
	if w.available == nil || w.available(ctx) {
		w.recorder.ObserveNetworkFailure(false)
		return nil, err
	}
	w.recorder.ObserveNetworkFailure(true)
	return nil, fmt.Errorf("%w: %w", ErrNoNetwork, err)
}
