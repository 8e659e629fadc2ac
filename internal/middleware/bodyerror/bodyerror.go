// Package bodyerror implements the body-error interpreter: on a
// non-success response it deserialises the body into a caller-declared
// shape and, if a predicate matches, raises a typed failure instead of
// returning the response.
package bodyerror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kestrelhq/mallard/internal/exchange"
)

// Error is the typed failure an Interpreter raises when its predicate
// matches. Body carries the deserialised shape for callers that want to
// inspect it further up the chain.
type Error[T any] struct {
	StatusCode int
	Body       T
	Reason     string
}

// Error implements the error interface.
func (e *Error[T]) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("bodyerror: %s (status %d)", e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("bodyerror: interpreted failure (status %d)", e.StatusCode)
}

// MatchFunc decides whether a non-success response's deserialised body
// constitutes a failure worth raising.
type MatchFunc[T any] func(status int, header http.Header, decoded T) bool

// FailureFunc constructs the error to raise when MatchFunc matches.
type FailureFunc[T any] func(status int, header http.Header, decoded T) error

// Interpreter is the generic body-error exchanger.
type Interpreter[T any] struct {
	inner   exchange.Exchanger
	match   MatchFunc[T]
	failure FailureFunc[T]
	logger  *slog.Logger
}

// Option configures an Interpreter at construction time.
type Option[T any] func(*Interpreter[T])

// WithLogger attaches a logger; nil falls back to slog.Default().
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(i *Interpreter[T]) { i.logger = logger }
}

// New builds an Interpreter wrapping inner. A response is only inspected
// when it is not a 2xx; a body that fails to decode into T is treated as a
// non-match and the original response is returned unchanged.
func New[T any](inner exchange.Exchanger, match MatchFunc[T], failure FailureFunc[T], opts ...Option[T]) *Interpreter[T] {
	i := &Interpreter[T]{inner: inner, match: match, failure: failure, logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	return i
}

// Exchange forwards to inner, then applies the match/failure pair to
// non-success responses.
func (i *Interpreter[T]) Exchange(ctx context.Context, req *exchange.Request) (*exchange.Response, error) {
	resp, err := i.inner.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	if exchange.IsSuccess(resp) {
		return resp, nil
	}

	var decoded T
	if len(resp.Body) > 0 {
		if decodeErr := json.Unmarshal(resp.Body, &decoded); decodeErr != nil {
			i.logger.Debug("bodyerror: body did not decode into the expected shape", slog.Any("error", decodeErr))
			return resp, nil
		}
	}

	if i.match != nil && i.match(resp.StatusCode, resp.Header, decoded) {
		return nil, i.failure(resp.StatusCode, resp.Header, decoded)
	}
	return resp, nil
}
