package cache

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kestrelhq/mallard/internal/exchange"
)

// Wire header names for the three cache directives.
const (
	headerTTL          = "X-Mallard-SimpleCache-TTL"
	headerForceRefresh = "X-Mallard-SimpleCache-ForceRefresh"
	headerDisable      = "X-Mallard-SimpleCache-Disable"
)

// directives is the parsed, request-scoped cache policy for a single GET.
type directives struct {
	disabled     bool
	forceRefresh bool
	cacheable    bool
	ttl          time.Duration
}

// parseDirectives reads and removes the directive headers from req,
// resolving multi-valued headers by taking the last value, and returns the
// resolved policy. It always strips the headers, even when parsing fails or
// Disable wins, so they never leak to the network.
func parseDirectives(req *exchange.Request) (directives, error) {
	disableRaw := lastValue(req.Header.Values(headerDisable))
	forceRefreshRaw := lastValue(req.Header.Values(headerForceRefresh))
	ttlRaw := lastValue(req.Header.Values(headerTTL))

	req.Header.Del(headerDisable)
	req.Header.Del(headerForceRefresh)
	req.Header.Del(headerTTL)

	var d directives

	if disableRaw != "" {
		disabled, err := strconv.ParseBool(disableRaw)
		if err != nil {
			return directives{}, fmt.Errorf("cache: parse %s: %w", headerDisable, err)
		}
		d.disabled = disabled
	}
	if d.disabled {
		return d, nil
	}

	if forceRefreshRaw != "" {
		forceRefresh, err := strconv.ParseBool(forceRefreshRaw)
		if err != nil {
			return directives{}, fmt.Errorf("cache: parse %s: %w", headerForceRefresh, err)
		}
		d.forceRefresh = forceRefresh
	}

	if ttlRaw != "" {
		seconds, err := strconv.Atoi(ttlRaw)
		if err != nil {
			return directives{}, fmt.Errorf("cache: parse %s: %w", headerTTL, err)
		}
		d.cacheable = true
		d.ttl = time.Duration(seconds) * time.Second
	}

	return d, nil
}

// lastValue returns the last element of values, or "" when empty,
// implementing the "last value wins" rule for multi-valued directive
// headers.
func lastValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}
