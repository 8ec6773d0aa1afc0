package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"holo/internal/services"
)

// Status represents the lifecycle state of a bake job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

var allStatuses = []Status{StatusQueued, StatusRunning, StatusDone, StatusError}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status. Unknown values wrap
// services.ErrValidation.
func ParseStatus(value string) (Status, error) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: invalid status %q", services.ErrValidation, value)
}

// IsTerminal reports whether no further mutation is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// Job is the persisted record of one bake request.
type Job struct {
	ID         string
	Status     Status
	Progress   float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	InputKey   string
	SpecJSON   string
	OutputKey  string
	Error      string
	ClaimedBy  string
	LeaseUntil *time.Time
}

// IsTerminal reports whether the job has reached done or error.
func (j *Job) IsTerminal() bool {
	return j != nil && j.Status.IsTerminal()
}

// JobPatch is a partial update. Nil fields are left unchanged.
type JobPatch struct {
	Status    *Status
	Progress  *float64
	OutputKey *string
	Error     *string
	// Owner fences the write: when set, the job must be running under a
	// lease held by this worker or the update fails with ErrLeaseLost.
	Owner string
}

// WithOwner returns a copy of p fenced to workerID.
func (p JobPatch) WithOwner(workerID string) JobPatch {
	p.Owner = workerID
	return p
}

// IsEmpty reports whether the patch carries no fields.
func (p JobPatch) IsEmpty() bool {
	return p.Status == nil && p.Progress == nil && p.OutputKey == nil && p.Error == nil
}

// ProgressPatch reports progress without changing status.
func ProgressPatch(progress float64) JobPatch {
	return JobPatch{Progress: &progress}
}

// DonePatch marks a job done with its final artifact.
func DonePatch(outputKey string) JobPatch {
	status := StatusDone
	progress := 1.0
	return JobPatch{Status: &status, Progress: &progress, OutputKey: &outputKey}
}

// FailedPatch marks a job failed with a message.
func FailedPatch(message string) JobPatch {
	status := StatusError
	return JobPatch{Status: &status, Error: &message}
}

// ListOptions filters ListJobs.
type ListOptions struct {
	Status *Status
	Limit  int
}

const (
	// DefaultListLimit applies when ListOptions.Limit is zero.
	DefaultListLimit = 25
	// MaxListLimit caps ListOptions.Limit.
	MaxListLimit = 100
)

// NormalizeLimit applies the default and cap to a list limit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// ClampProgress bounds progress to [0,1].
func ClampProgress(p float64) float64 {
	switch {
	case p != p: // NaN
		return 0
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// ValidatePatch checks the resulting job would keep the lifecycle invariants:
// done carries an output key, error carries a message.
func ValidatePatch(current *Job, patch JobPatch) error {
	if current == nil {
		return ErrNotFound
	}
	if current.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrTerminal, current.ID, current.Status)
	}
	if patch.Owner != "" && (current.Status != StatusRunning || current.ClaimedBy != patch.Owner) {
		return fmt.Errorf("%w: job %s worker %s", ErrLeaseLost, current.ID, patch.Owner)
	}
	if patch.Status == nil {
		return nil
	}
	switch *patch.Status {
	case StatusDone:
		output := current.OutputKey
		if patch.OutputKey != nil {
			output = *patch.OutputKey
		}
		if strings.TrimSpace(output) == "" {
			return fmt.Errorf("%w: done requires an output key", services.ErrValidation)
		}
	case StatusError:
		msg := current.Error
		if patch.Error != nil {
			msg = *patch.Error
		}
		if strings.TrimSpace(msg) == "" {
			return fmt.Errorf("%w: error status requires a message", services.ErrValidation)
		}
	case StatusQueued, StatusRunning:
	default:
		return fmt.Errorf("%w: invalid status %q", services.ErrValidation, *patch.Status)
	}
	return nil
}

// Store is the job persistence contract.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, opts ListOptions) ([]*Job, error)
	ListQueued(ctx context.Context, limit int) ([]*Job, error)
	UpdateJob(ctx context.Context, id string, patch JobPatch) (*Job, error)
	ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*Job, error)
	RenewLease(ctx context.Context, id, workerID string, lease time.Duration) error
	ReclaimExpired(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context) (map[Status]int, error)
	Close() error
}
