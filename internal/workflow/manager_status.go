package workflow

import (
	"context"

	"holo/internal/logging"
	"holo/internal/queue"
	"holo/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool                 `json:"running"`
	Workers     int                  `json:"workers"`
	Busy        int                  `json:"busy"`
	LastError   string               `json:"lastError,omitempty"`
	LastJob     *queue.Job           `json:"-"`
	JobStats    map[queue.Status]int `json:"jobStats"`
	StageHealth []stage.Health       `json:"stageHealth"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running: m.running,
		Workers: m.timings.workers,
		Busy:    m.busy,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := *m.lastJob
		summary.LastJob = &copy
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}
	summary.JobStats = stats
	if m.registry != nil {
		summary.StageHealth = m.registry.Health(ctx)
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *queue.Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	copy := *job
	m.lastJob = &copy
	m.mu.Unlock()
}
