package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"holo/internal/services"
)

// ClaimNext atomically moves the oldest queued job to running under a lease
// held by workerID. It returns nil when no job is queued.
func (s *SQLiteStore) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*Job, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(workerID) == "" {
		return nil, fmt.Errorf("%w: worker id is required", services.ErrValidation)
	}
	if lease <= 0 {
		return nil, fmt.Errorf("%w: lease must be positive", services.ErrValidation)
	}
	now := s.now()
	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(
			ctx,
			`UPDATE jobs
             SET status = ?, claimed_by = ?, lease_until = ?, updated_at = ?
             WHERE rowid = (
                 SELECT rowid FROM jobs WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT 1
             ) AND status = ?
             RETURNING `+jobColumns,
			string(StatusRunning),
			workerID,
			ToMillis(now.Add(lease)),
			ToMillis(now),
			string(StatusQueued),
			string(StatusQueued),
		)
		var scanErr error
		job, scanErr = scanJob(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("claim next", err)
	}
	return job, nil
}

// RenewLease extends the lease on a running job held by workerID.
func (s *SQLiteStore) RenewLease(ctx context.Context, id, workerID string, lease time.Duration) error {
	now := s.now()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET lease_until = ?, updated_at = MAX(updated_at, ?)
         WHERE id = ? AND claimed_by = ? AND status = ?`,
		ToMillis(now.Add(lease)),
		ToMillis(now),
		id,
		workerID,
		string(StatusRunning),
	)
	if err != nil {
		return unavailable("renew lease", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: job %s worker %s", ErrLeaseLost, id, workerID)
	}
	return nil
}

// ReclaimExpired returns running jobs whose lease expired before now to the
// queue. Progress is kept so it stays monotonic.
func (s *SQLiteStore) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, claimed_by = NULL, lease_until = NULL, updated_at = MAX(updated_at, ?)
         WHERE status = ? AND lease_until IS NOT NULL AND lease_until < ?`,
		string(StatusQueued),
		ToMillis(now),
		string(StatusRunning),
		ToMillis(now),
	)
	if err != nil {
		return 0, unavailable("reclaim expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("reclaim expired", err)
	}
	return n, nil
}
