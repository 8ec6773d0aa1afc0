package workflow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"holo/internal/logging"
	"holo/internal/queue"
	"holo/internal/services"
)

// withJobContext tags ctx with the job, worker, and a fresh correlation id so
// every log line and stage event for the attempt can be grouped.
func withJobContext(ctx context.Context, job *queue.Job, workerID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if job != nil {
		ctx = services.WithJobID(ctx, job.ID)
	}
	ctx = services.WithWorker(ctx, workerID)
	return services.WithRequestID(ctx, uuid.NewString())
}

func (m *Manager) jobLogger(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, m.logger)
}

// errorAttrs expands err and supplies hint when the error carries none.
func errorAttrs(err error, hint string) []logging.Attr {
	attrs := logging.ErrorAttrs(err)
	if hint != "" && !logging.HasAttrKey(attrs, logging.FieldErrorHint) {
		attrs = append(attrs, logging.Hint(hint))
	}
	return attrs
}
