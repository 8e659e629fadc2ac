package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"

	"github.com/kestrelhq/mallard/internal/exchange"
	"github.com/stretchr/testify/require"
)

func TestURIKeyProvider(t *testing.T) {
	req, err := exchange.NewRequest(http.MethodGet, "http://x/resource", nil)
	require.NoError(t, err)
	require.Equal(t, "http://x/resource", URIKeyProvider{}.Key(req))
}

func TestAuthHashKeyProviderWithAuthorization(t *testing.T) {
	req, err := exchange.NewRequest(http.MethodGet, "http://x/resource", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")

	sum := sha256.Sum256([]byte("secret-token"))
	wantSuffix := strings.ToUpper(hex.EncodeToString(sum[:]))

	key := AuthHashKeyProvider{}.Key(req)
	require.Equal(t, "http://x/resource|"+wantSuffix, key)
}

func TestAuthHashKeyProviderWithoutAuthorization(t *testing.T) {
	req, err := exchange.NewRequest(http.MethodGet, "http://x/resource", nil)
	require.NoError(t, err)
	require.Equal(t, "http://x/resource", AuthHashKeyProvider{}.Key(req))
}

func TestAuthHashKeyProviderDifferentiatesCredentials(t *testing.T) {
	reqA, err := exchange.NewRequest(http.MethodGet, "http://x/resource", nil)
	require.NoError(t, err)
	reqA.Header.Set("Authorization", "Bearer token-a")

	reqB, err := exchange.NewRequest(http.MethodGet, "http://x/resource", nil)
	require.NoError(t, err)
	reqB.Header.Set("Authorization", "Bearer token-b")

	require.NotEqual(t, AuthHashKeyProvider{}.Key(reqA), AuthHashKeyProvider{}.Key(reqB))
}
