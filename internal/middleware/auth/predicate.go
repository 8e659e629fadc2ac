package auth

import (
	"log/slog"

	"github.com/kestrelhq/mallard/internal/exchange"
	"github.com/kestrelhq/mallard/internal/expr"
)

// CELUnauthorized adapts a compiled boolean expr.Program into an
// UnauthorizedFunc, exposing the response's status and headers (body is
// always nil; the auth middleware never deserialises the body). Evaluation
// failures are logged and treated as "not unauthorized" so a broken
// expression degrades to pass-through rather than refreshing on everything.
func CELUnauthorized(program expr.Program, logger *slog.Logger) UnauthorizedFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ *exchange.Request, resp *exchange.Response) bool {
		vars := map[string]any{
			"status": int64(resp.StatusCode),
			"header": expr.FlattenHeader(resp.Header),
			"body":   nil,
		}
		matched, err := program.EvalBool(vars)
		if err != nil {
			logger.Warn("auth: unauthorized predicate evaluation failed", slog.Any("error", err))
			return false
		}
		return matched
	}
}
