package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/latchkey/auth-service/internal/ports"
)

// CleanupWorker periodically deletes rows that no longer matter: expired
// sessions, rotated sessions past the forensic retention horizon and expired
// ephemeral tokens. Correctness never depends on it running; every read path
// checks expiry itself, so a pass that fails is logged and retried next tick.
type CleanupWorker struct {
	logger    *slog.Logger
	sessions  ports.SessionRepository
	tokens    ports.TokenRepository
	interval  time.Duration
	retention time.Duration
}

func NewCleanupWorker(
	logger *slog.Logger,
	sessions ports.SessionRepository,
	tokens ports.TokenRepository,
	interval time.Duration,
	retention time.Duration,
) *CleanupWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &CleanupWorker{
		logger:    logger,
		sessions:  sessions,
		tokens:    tokens,
		interval:  interval,
		retention: retention,
	}
}

// Run executes the periodic cleanup loop until context cancellation. The
// first pass runs immediately so restarts do not postpone overdue cleanup by
// a full interval.
func (w *CleanupWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.processOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) processOnce(ctx context.Context) {
	now := time.Now().UTC()

	sessionsDeleted, err := w.sessions.DeleteExpiredAndOldRotated(ctx, now, w.retention)
	if err != nil {
		w.logger.ErrorContext(ctx, "session cleanup failed",
			"module", "maintenance.cleanup_worker",
			"layer", "adapter",
			"operation", "delete_sessions",
			"outcome", "failure",
			"error", err,
		)
	}

	tokensDeleted, err := w.tokens.DeleteExpired(ctx, now)
	if err != nil {
		w.logger.ErrorContext(ctx, "token cleanup failed",
			"module", "maintenance.cleanup_worker",
			"layer", "adapter",
			"operation", "delete_tokens",
			"outcome", "failure",
			"error", err,
		)
	}

	if sessionsDeleted > 0 || tokensDeleted > 0 {
		w.logger.InfoContext(ctx, "cleanup pass completed",
			"module", "maintenance.cleanup_worker",
			"layer", "adapter",
			"operation", "cleanup_once",
			"outcome", "success",
			"sessions_deleted", sessionsDeleted,
			"tokens_deleted", tokensDeleted,
		)
	}
}
