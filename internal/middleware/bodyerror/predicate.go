package bodyerror

import (
	"log/slog"
	"net/http"

	"github.com/kestrelhq/mallard/internal/expr"
)

// CELMatch adapts a compiled boolean expr.Program into a MatchFunc over a
// map-shaped decoded body, exposing status, header and body exactly as the
// expr package's Environment declares them.
func CELMatch(program expr.Program, logger *slog.Logger) MatchFunc[map[string]any] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(status int, header http.Header, decoded map[string]any) bool {
		vars := map[string]any{
			"status": int64(status),
			"header": expr.FlattenHeader(header),
			"body":   decoded,
		}
		matched, err := program.EvalBool(vars)
		if err != nil {
			logger.Warn("bodyerror: predicate evaluation failed", slog.Any("error", err))
			return false
		}
		return matched
	}
}
