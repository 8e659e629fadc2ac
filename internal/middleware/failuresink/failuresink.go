// Package failuresink implements a process-wide observer fan-out for
// failures bubbling through an exchanger chain.
package failuresink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kestrelhq/mallard/internal/exchange"
)

// Observer is notified of every failure that reaches a Middleware.
type Observer func(ctx context.Context, req *exchange.Request, err error)

// Sink is the process-wide, shared observer list. Publication is
// synchronous fan-out over the current observer slice and must not itself
// fail: a panicking observer is recovered and logged rather than allowed to
// take down the request that triggered it.
type Sink struct {
	mu        sync.RWMutex
	observers []Observer
	logger    *slog.Logger
}

// NewSink builds an empty Sink.
func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger}
}

// Register appends observer to the fan-out list. Safe to call concurrently
// with Publish.
func (s *Sink) Register(observer Observer) {
	if observer == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, observer)
}

// Publish fans err out to every registered observer, in registration order.
func (s *Sink) Publish(ctx context.Context, req *exchange.Request, err error) {
	s.mu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, observer := range observers {
		s.safeCall(ctx, req, err, observer)
	}
}

func (s *Sink) safeCall(ctx context.Context, req *exchange.Request, err error, observer Observer) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("failuresink: observer panicked", slog.Any("recovered", r))
		}
	}()
	observer(ctx, req, err)
}

// Middleware publishes any failure bubbling up from inner to sink, then
// re-propagates it unchanged.
type Middleware struct {
	inner exchange.Exchanger
	sink  *Sink
}

// New builds a Middleware wrapping inner and publishing to sink.
func New(inner exchange.Exchanger, sink *Sink) *Middleware {
	return &Middleware{inner: inner, sink: sink}
}

// Exchange forwards to inner, publishing any resulting failure to sink
// before re-propagating it.
func (m *Middleware) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	resp, err := m.inner.Exchange(ctx, req)
	if err != nil && m.sink != nil {
		m.sink.Publish(ctx, req, err)
	}
	return resp, err
}
