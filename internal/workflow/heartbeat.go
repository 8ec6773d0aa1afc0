package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"holo/internal/logging"
	"holo/internal/queue"
)

// HeartbeatMonitor renews job leases and reclaims expired ones.
type HeartbeatMonitor struct {
	store    queue.Store
	logger   *slog.Logger
	interval time.Duration
	lease    time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store queue.Store, logger *slog.Logger, interval, lease time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    store,
		logger:   logging.NewComponentLogger(logger, "workflow-heartbeat"),
		interval: interval,
		lease:    lease,
	}
}

// ReclaimExpired requeues running jobs whose lease ended before now.
func (h *HeartbeatMonitor) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	reclaimed, err := h.store.ReclaimExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		h.logger.Info("reclaimed jobs with expired leases",
			logging.Int64("count", reclaimed),
			logging.Event("lease_reclaimed"))
	}
	return reclaimed, nil
}

// StartLoop renews the lease on jobID until ctx is cancelled. If the lease
// is lost (another worker reclaimed the job) onLost is called once and the
// loop exits.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID, workerID string, onLost func(error)) {
	defer wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.RenewLease(ctx, jobID, workerID, h.lease)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, queue.ErrLeaseLost):
				logging.WarnWithContext(logger, "job lease lost", "lease_lost",
					logging.Hint("lease_seconds may be too short for stage runtimes"),
					logging.Impact("this worker abandons the job"))
				if onLost != nil {
					onLost(err)
				}
				return
			default:
				logger.Warn("lease renewal failed",
					logging.Error(err),
					logging.Event("lease_renew_failed"),
					logging.Hint("check job store access"))
			}
		}
	}
}
