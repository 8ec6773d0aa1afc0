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

// CreateJob inserts a new job in the queued state with zero progress.
// CreatedAt/UpdatedAt, Status, and Progress on job are overwritten.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("%w: job id is required", services.ErrValidation)
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	job.Status = StatusQueued
	job.Progress = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	job.OutputKey = ""
	job.Error = ""
	job.ClaimedBy = ""
	job.LeaseUntil = nil

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (id, created_at, updated_at, status, progress, input_key, spec_json)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		ToMillis(now),
		ToMillis(now),
		string(StatusQueued),
		0.0,
		job.InputKey,
		job.SpecJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, job.ID)
		}
		return unavailable("create job", err)
	}
	return nil
}

// GetJob fetches a job by identifier.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		var scanErr error
		job, scanErr = scanJob(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get job", err)
	}
	return job, nil
}

// ListJobs returns jobs ordered most-recently-updated first.
func (s *SQLiteStore) ListJobs(ctx context.Context, opts ListOptions) ([]*Job, error) {
	ctx = ensureContext(ctx)
	limit := NormalizeLimit(opts.Limit)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, 2)
	if opts.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*opts.Status))
	}
	query += ` ORDER BY updated_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	var jobs []*Job
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		jobs, err = scanJobs(rows)
		return err
	})
	if err != nil {
		return nil, unavailable("list jobs", err)
	}
	return jobs, nil
}

// ListQueued returns queued jobs oldest-created first.
func (s *SQLiteStore) ListQueued(ctx context.Context, limit int) ([]*Job, error) {
	ctx = ensureContext(ctx)
	limit = NormalizeLimit(limit)
	var jobs []*Job
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(
			ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`,
			string(StatusQueued),
			limit,
		)
		if err != nil {
			return err
		}
		jobs, err = scanJobs(rows)
		return err
	})
	if err != nil {
		return nil, unavailable("list queued", err)
	}
	return jobs, nil
}

// UpdateJob applies patch with coalesce semantics and returns the stored job.
// Progress only moves forward; terminal jobs are rejected with ErrTerminal.
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	ctx = ensureContext(ctx)
	var (
		updated *Job
		opErr   error
	)
	err := retryOnBusy(ctx, func() error {
		updated, opErr = s.updateJobTx(ctx, id, patch)
		if opErr != nil && !isDomainError(opErr) {
			return opErr
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("update job", err)
	}
	if opErr != nil {
		return nil, opErr
	}
	return updated, nil
}

func (s *SQLiteStore) updateJobTx(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := ValidatePatch(current, patch); err != nil {
		return nil, err
	}

	now := ToMillis(s.now())
	if now < ToMillis(current.UpdatedAt) {
		now = ToMillis(current.UpdatedAt)
	}
	terminating := patch.Status != nil && patch.Status.IsTerminal()
	args := []any{
		nullableStatus(patch.Status),
		nullableProgress(patch.Progress),
		nullableString(patch.OutputKey),
		nullableString(patch.Error),
		terminating,
		terminating,
		now,
		id,
		patch.Owner,
		patch.Owner,
	}
	args = append(args, terminalStatusArgs()...)
	res, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET
            status = COALESCE(?, status),
            progress = MAX(progress, COALESCE(?, progress)),
            output_key = COALESCE(?, output_key),
            error_message = COALESCE(?, error_message),
            claimed_by = CASE WHEN ? THEN NULL ELSE claimed_by END,
            lease_until = CASE WHEN ? THEN NULL ELSE lease_until END,
            updated_at = ?
         WHERE id = ? AND (? = '' OR claimed_by = ?) AND status NOT IN (?, ?)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if patch.Owner != "" {
			return nil, fmt.Errorf("%w: job %s worker %s", ErrLeaseLost, id, patch.Owner)
		}
		return nil, fmt.Errorf("%w: job %s", ErrTerminal, id)
	}

	updated, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// Stats returns job counts per status.
func (s *SQLiteStore) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	stats := make(map[Status]int, len(allStatuses))
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				status string
				count  int
			)
			if err := rows.Scan(&status, &count); err != nil {
				return err
			}
			stats[Status(status)] = count
		}
		return rows.Err()
	})
	if err != nil {
		return nil, unavailable("stats", err)
	}
	return stats, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTerminal) ||
		errors.Is(err, ErrLeaseLost) || errors.Is(err, services.ErrValidation)
}
