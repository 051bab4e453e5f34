package http

import (
	"context"
	"log/slog"
	"net/http"
)

const serviceName = "latchkey-auth-service"

// httpLogger resolves against slog.Default at call time so a logger swapped
// in by tests or bootstrap is picked up.
func httpLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "http",
		"layer", "adapter",
	)
}

func levelForStatus(statusCode int) slog.Level {
	switch {
	case statusCode >= http.StatusInternalServerError:
		return slog.LevelError
	case statusCode >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// logHTTPOperationError records a failed operation with the same code and
// message the client received, plus the underlying error, which never leaves
// the process. Security-relevant denials (CSRF, lockout, rate limit) all pass
// through here, so the audit trail and the wire response cannot drift apart.
func logHTTPOperationError(ctx context.Context, operation string, statusCode int, code, message string, err error) {
	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", code,
		"message", message,
		"request_id", requestIDFromContext(ctx),
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	httpLogger().Log(ctx, levelForStatus(statusCode), "http operation failed", fields...)
}
