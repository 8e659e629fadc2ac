package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/kestrelhq/mallard/internal/config"
	"github.com/kestrelhq/mallard/internal/exchange"
	"github.com/kestrelhq/mallard/internal/metrics"
	"github.com/kestrelhq/mallard/internal/server"
)

// TestGateway_AuthCacheChainEndToEnd assembles the same wiring main() does
// (cache over auth over an HTTP transport) and drives it with an HTTP client
// against an httptest upstream, exercising the full request path rather than
// any single middleware in isolation. Each request opts into token attachment
// with a placeholder Authorization header and into caching with a TTL
// directive, as the auth and cache middlewares require.
func TestGateway_AuthCacheChainEndToEnd(t *testing.T) {
	var receivedAuth []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = append(receivedAuth, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"widget":"ok"}`))
	}))
	defer upstream.Close()

	logger := discardLogger()
	rec := metrics.NewRecorder(nil)

	var chain exchange.Exchanger = exchange.NewHTTPTransport(upstream.Client())
	chain, _ = wireAuth(t.Context(), chain, config.AuthConfig{
		Enabled:      true,
		Provider:     "static",
		StaticAccess: "A1",
	}, rec, logger)
	chain = wireCache(chain, config.CacheConfig{Backend: "memory", KeyProvider: "uri"}, rec, logger)

	handler := server.NewGatewayHandler(chain, upstream.URL, logger)
	gateway := httptest.NewServer(handler)
	defer gateway.Close()

	expect := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  gateway.URL,
		Reporter: httpexpect.NewRequireReporter(t),
	})

	first := expect.GET("/widgets").
		WithHeader("Authorization", "Bearer placeholder").
		WithHeader("X-Mallard-SimpleCache-TTL", "60").
		Expect()
	first.Status(http.StatusOK)
	first.JSON().Object().HasValue("widget", "ok")

	second := expect.GET("/widgets").
		WithHeader("Authorization", "Bearer placeholder").
		WithHeader("X-Mallard-SimpleCache-TTL", "60").
		Expect()
	second.Status(http.StatusOK)
	second.JSON().Object().HasValue("widget", "ok")

	if len(receivedAuth) != 1 {
		t.Fatalf("expected the upstream to be hit exactly once (second request served from cache), got %d hits", len(receivedAuth))
	}
	if receivedAuth[0] != "Bearer A1" {
		t.Fatalf("expected the static token to be attached as a bearer credential, got %q", receivedAuth[0])
	}
}
