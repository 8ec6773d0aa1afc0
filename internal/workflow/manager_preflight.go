package workflow

import (
	"context"

	"holo/internal/logging"
	"holo/internal/stage"
)

// logStageReadiness reports runner health at startup. Unready runners are
// warnings only: jobs that reach them fail with a stage error.
func (m *Manager) logStageReadiness(ctx context.Context) {
	records := m.registry.Health(ctx)
	if stage.AllReady(records) {
		m.logger.Info("all stage runners ready", logging.Int("runners", len(records)), logging.Event("runners_ready"))
		return
	}
	for _, h := range records {
		if h.Ready {
			m.logger.Info("stage runner ready",
				logging.String("runner", h.Name),
				logging.String("detail", h.Detail),
				logging.Event("runner_ready"))
			continue
		}
		logging.WarnWithContext(m.logger, "stage runner not ready", "runner_not_ready",
			logging.String("runner", h.Name),
			logging.String("detail", h.Detail),
			logging.Hint("run `holo preflight` and fix the reported issue"),
			logging.Impact("jobs that need this runner will fail"))
	}
}
