// Package audit records admin mutations to the append-only compliance trail.
// Writes are fire-and-forget: the admin operation has already succeeded or
// failed on its own terms, and a broken audit store must not change that.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/naap-platform/naap-runtime/internal/db/models"
	"github.com/naap-platform/naap-runtime/internal/db/repositories"
	"github.com/naap-platform/naap-runtime/internal/safego"
	"github.com/naap-platform/naap-runtime/internal/telemetry"
)

const writeTimeout = 5 * time.Second

// Logger writes audit entries asynchronously.
type Logger struct {
	repo *repositories.AuditRepository
}

// NewLogger creates an audit logger backed by the given repository.
func NewLogger(repo *repositories.AuditRepository) *Logger {
	return &Logger{repo: repo}
}

// Record writes an entry in the background. It returns immediately; failures
// are logged and counted, never propagated to the caller.
func (l *Logger) Record(entry *models.AuditLog) {
	if entry.Status == "" {
		entry.Status = "success"
	}
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := l.repo.Create(ctx, entry); err != nil {
			telemetry.AuditWriteFailuresTotal.Inc()
			slog.Error("audit write failed",
				"action", entry.Action,
				"resource", entry.Resource,
				"error", err)
		}
	})
}
