package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kestrelhq/mallard/internal/exchange"
)

// NewGatewayHandler wires the HTTP routing facade to the exchanger chain so
// the lifecycle server owns URL dispatch without embedding proxying logic
// itself. Every path but /healthz is proxied through chain; the upstream's
// status, headers, and body are replayed verbatim. upstreamBase, if
// non-empty, is prepended to the incoming request's path+query to build the
// outgoing URL; an empty upstreamBase forwards the request target verbatim
// (the shape the package's tests exercise).
func NewGatewayHandler(chain exchange.Exchanger, upstreamBase string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if chain == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		target := r.URL.String()
		if upstreamBase != "" {
			target = strings.TrimRight(upstreamBase, "/") + r.URL.RequestURI()
		}

		var body io.Reader
		if r.Body != nil {
			body = r.Body
		}
		outgoing, err := exchange.NewRequest(r.Method, target, body)
		if err != nil {
			logger.Error("gateway: build outgoing request failed", slog.Any("error", err))
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		outgoing.Header = r.Header.Clone()

		resp, err := chain.Exchange(r.Context(), outgoing)
		if err != nil {
			logger.Error("gateway: exchange failed", slog.Any("error", err), slog.String("path", r.URL.Path))
			if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
				return
			}
			http.Error(w, "upstream exchange failed", http.StatusBadGateway)
			return
		}

		for name, values := range resp.Header {
			for _, value := range values {
				w.Header().Add(name, value)
			}
		}
		w.WriteHeader(resp.StatusCode)
		if len(resp.Body) > 0 {
			_, _ = w.Write(resp.Body)
		}
	})
}
