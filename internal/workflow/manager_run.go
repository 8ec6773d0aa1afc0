package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"holo/internal/logging"
	"holo/internal/services"
)

// Start launches the worker loops and the lease reclaim sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.registry == nil || len(m.registry.Stages()) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stage runners not configured")
	}

	var reclaimer *cron.Cron
	if m.timings.reclaim != "" {
		reclaimer = cron.New()
		if _, err := reclaimer.AddFunc(m.timings.reclaim, func() { m.sweepExpired(ctx) }); err != nil {
			m.mu.Unlock()
			return services.Wrap(services.ErrConfiguration, "workflow", "schedule reclaim",
				fmt.Sprintf("invalid reclaim_schedule %q", m.timings.reclaim), err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.reclaimer = reclaimer
	m.cancel = func() {
		cancel()
		if reclaimer != nil {
			<-reclaimer.Stop().Done()
		}
	}
	workers := m.timings.workers
	m.wg.Add(workers)
	m.mu.Unlock()

	m.logStageReadiness(runCtx)
	m.sweepExpired(runCtx)
	if reclaimer != nil {
		reclaimer.Start()
	}
	for i := 0; i < workers; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i+1, uuid.NewString()[:8])
		go m.runWorker(runCtx, workerID)
	}
	m.logger.Info("workflow started",
		logging.Int("workers", workers),
		logging.Duration("lease", m.timings.lease),
		logging.String("reclaim_schedule", m.timings.reclaim),
		logging.Event("workflow_started"))
	return nil
}

// Stop cancels the workers and waits for them to return. A job interrupted
// by Stop keeps its running status; its lease expires and the sweep returns
// it to the queue.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.Event("workflow_stopped"))
}

func (m *Manager) runWorker(ctx context.Context, workerID string) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Worker(workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := m.ProcessNext(ctx, workerID)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			m.handleNextJobError(ctx, logger, err)
		case !processed:
			m.waitForJobOrShutdown(ctx)
		}
	}
}

// ProcessNext claims and fully processes at most one job. It reports whether
// a job was claimed. Errors are store failures; job failures are recorded on
// the job and do not surface here.
func (m *Manager) ProcessNext(ctx context.Context, workerID string) (bool, error) {
	job, err := m.store.ClaimNext(ctx, workerID, m.timings.lease)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	m.metrics.jobClaimed()
	m.setBusy(1)
	defer m.setBusy(-1)
	m.onJobStarted()
	m.processJob(ctx, workerID, job)
	return true, nil
}

func (m *Manager) handleNextJobError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(logger, "failed to claim next job", "job_claim_failed",
		errorAttrs(err, "check job store access")...)
	select {
	case <-ctx.Done():
	case <-time.After(m.timings.errorRetry):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.timings.poll):
	}
}

func (m *Manager) sweepExpired(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := m.heartbeat.ReclaimExpired(ctx, m.now())
	if err != nil {
		m.setLastError(err)
		logging.WarnWithContext(m.logger, "lease reclaim sweep failed", "lease_reclaim_failed",
			logging.Error(err),
			logging.Hint("check job store access"),
			logging.Impact("jobs from crashed workers stay running until the next sweep"))
		return
	}
	m.metrics.jobsReclaimed(n)
}

func (m *Manager) setBusy(delta int) {
	m.mu.Lock()
	m.busy += delta
	m.mu.Unlock()
	m.metrics.busy.Add(float64(delta))
}
