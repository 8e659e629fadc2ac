package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kestrelhq/mallard/internal/exchange"
)

// KeyProvider derives a stable cache key from a request.
type KeyProvider interface {
	Key(req *exchange.Request) string
}

// KeyProviderFunc adapts a function to KeyProvider.
type KeyProviderFunc func(req *exchange.Request) string

// Key calls f.
func (f KeyProviderFunc) Key(req *exchange.Request) string { return f(req) }

// URIKeyProvider derives the cache key from the request URI alone.
type URIKeyProvider struct{}

// Key returns the request URL verbatim.
func (URIKeyProvider) Key(req *exchange.Request) string { return req.URL }

// AuthHashKeyProvider derives the cache key from the request URI plus the
// uppercase hex SHA-256 of the Authorization header's parameter, so that
// responses cached for one set of credentials are never served to another.
type AuthHashKeyProvider struct{}

// Key returns "<url>|<SHA256(authorization parameter)>" when an
// Authorization header with a non-empty parameter is present, or just the
// URL otherwise.
func (AuthHashKeyProvider) Key(req *exchange.Request) string {
	auth := req.Header.Get("Authorization")
	_, param := splitAuthorization(auth)
	if param == "" {
		return req.URL
	}
	sum := sha256.Sum256([]byte(param))
	return req.URL + "|" + strings.ToUpper(hex.EncodeToString(sum[:]))
}

func splitAuthorization(header string) (scheme, param string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}
