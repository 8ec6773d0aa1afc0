package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"holo/internal/logging"
	"holo/internal/pipeline"
	"holo/internal/queue"
	"holo/internal/services"
)

// failureMessage renders err as the job's error string. Stage failures keep
// their "<stage>: <cause>" form; other failures use the wrapped message.
func failureMessage(err error) string {
	if err == nil {
		return "job failed without error detail"
	}
	var se *pipeline.StageError
	if errors.As(err, &se) {
		return se.Error()
	}
	details := services.Details(err)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		return strings.TrimSpace(err.Error())
	}
	if details.Cause != nil {
		message += ": " + details.Cause.Error()
	}
	return message
}

func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *queue.Job, workerID string, jobErr error, elapsed time.Duration) {
	message := failureMessage(jobErr)
	m.setLastError(jobErr)

	attrs := append(errorAttrs(jobErr, "inspect the job's pipeline-events.jsonl artifact"),
		logging.String("error_message", message),
		logging.Duration("elapsed", elapsed),
		logging.Alert("job_failure"))
	logging.ErrorWithContext(logger, "job failed", "job_failed", attrs...)

	updated, err := m.store.UpdateJob(ctx, job.ID, queue.FailedPatch(message).WithOwner(workerID))
	if err != nil {
		m.persistFailed(logger, "error", err)
		return
	}
	m.metrics.jobFinished(queue.StatusError)
	m.setLastJob(updated)
	m.notifier.publish(job.ID)
	m.alert(logger, "job_failed", func(ctx context.Context) error {
		return m.alerts.NotifyJobFailed(ctx, job.ID, message)
	})
	m.checkQueueDrained(ctx, true)
}

func (m *Manager) completeJob(ctx context.Context, logger *slog.Logger, job *queue.Job, workerID, outputKey string, elapsed time.Duration) {
	updated, err := m.store.UpdateJob(ctx, job.ID, queue.DonePatch(outputKey).WithOwner(workerID))
	if err != nil {
		m.persistFailed(logger, "done", err)
		return
	}
	logger.Info("job done",
		logging.Event("job_done"),
		logging.String("output_key", outputKey),
		logging.Duration("elapsed", elapsed))
	m.metrics.jobFinished(queue.StatusDone)
	m.setLastJob(updated)
	m.notifier.publish(job.ID)
	m.alert(logger, "job_done", func(ctx context.Context) error {
		return m.alerts.NotifyJobDone(ctx, job.ID, outputKey, elapsed)
	})
	m.checkQueueDrained(ctx, false)
}

// patch applies a non-terminal update. Failures are logged only: a missed
// progress tick must not abort the job.
func (m *Manager) patch(ctx context.Context, logger *slog.Logger, id string, p queue.JobPatch) {
	updated, err := m.store.UpdateJob(ctx, id, p)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Debug("job progress update failed", logging.Error(err))
		return
	}
	m.setLastJob(updated)
	m.notifier.publish(id)
}

func (m *Manager) persistFailed(logger *slog.Logger, status string, err error) {
	m.setLastError(err)
	if errors.Is(err, context.Canceled) {
		logger.Debug("daemon shutting down, could not record job outcome")
		return
	}
	if errors.Is(err, queue.ErrLeaseLost) {
		logging.WarnWithContext(logger, "job outcome discarded after losing its lease", "job_abandoned",
			logging.String("status", status),
			logging.Impact("another worker owns the job now"),
			logging.Hint("raise workflow.lease_seconds if stages routinely outlive the lease"))
		return
	}
	logging.ErrorWithContext(logger, "failed to record job outcome", "job_persist_failed",
		append(errorAttrs(err, "check job store access; the lease sweep will requeue the job"),
			logging.String("status", status))...)
}
