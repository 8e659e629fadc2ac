package auth

import (
	"net/http"
	"testing"

	"github.com/kestrelhq/mallard/internal/exchange"
	"github.com/kestrelhq/mallard/internal/expr"
	"github.com/stretchr/testify/require"
)

func TestCELUnauthorized_MatchesOnStatus(t *testing.T) {
	env, err := expr.NewEnvironment()
	require.NoError(t, err)
	program, err := env.Compile(`status == 401`)
	require.NoError(t, err)

	fn := CELUnauthorized(program, nil)
	resp := &exchange.Response{StatusCode: http.StatusUnauthorized, Header: make(http.Header)}
	require.True(t, fn(nil, resp))

	resp.StatusCode = http.StatusOK
	require.False(t, fn(nil, resp))
}

func TestCELUnauthorized_BadProgramFailsClosed(t *testing.T) {
	fn := CELUnauthorized(expr.Program{}, nil)
	resp := &exchange.Response{StatusCode: http.StatusUnauthorized, Header: make(http.Header)}
	require.False(t, fn(nil, resp))
}
