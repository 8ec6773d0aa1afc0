package queue

import (
	"fmt"

	"holo/internal/services"
)

var (
	// ErrNotFound indicates the job id is unknown.
	ErrNotFound = fmt.Errorf("job %w", services.ErrNotFound)
	// ErrAlreadyExists indicates a job id collision at creation.
	ErrAlreadyExists = fmt.Errorf("job already exists: %w", services.ErrConflict)
	// ErrTerminal indicates a mutation was attempted on a done or errored job.
	ErrTerminal = fmt.Errorf("job is terminal: %w", services.ErrConflict)
	// ErrLeaseLost indicates the worker no longer holds the job lease.
	ErrLeaseLost = fmt.Errorf("job lease lost: %w", services.ErrConflict)
)

// unavailable tags infrastructure failures so the API maps them to 503.
func unavailable(operation string, err error) error {
	return services.Wrap(services.ErrUnavailable, "queue", operation, "", err)
}
