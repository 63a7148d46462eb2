package logging

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError writes err at error level. For oops errors the code and context
// map are emitted as separate attributes.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	if logger == nil || err == nil {
		return
	}

	if oopsErr, ok := oops.AsOops(err); ok {
		attrs = append(attrs, "error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil && code != "" {
			attrs = append(attrs, "code", code)
		}
		if fields := oopsErr.Context(); len(fields) > 0 {
			attrs = append(attrs, "context", fields)
		}
	} else {
		attrs = append(attrs, "error", err.Error())
	}

	logger.ErrorContext(ctx, msg, attrs...)
}
