package backends

import (
	"context"

	"holo/internal/pipeline"
	"holo/internal/stage"
)

// Auto routes each request by the provider named in its stage config:
// "local" (or empty) runs in process, anything else goes to the hosted runner.
type Auto struct {
	Local  pipeline.Runner
	Hosted pipeline.Runner
}

// Run implements pipeline.Runner.
func (a *Auto) Run(ctx context.Context, req pipeline.StageRequest) (pipeline.StageResult, error) {
	switch pipeline.ConfigString(req.Config, "provider", "local") {
	case "", "local":
		return a.Local.Run(ctx, req)
	}
	if a.Hosted == nil {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "no hosted runner configured")
	}
	return a.Hosted.Run(ctx, req)
}

// HealthCheck reports the hosted side; the local runner is always ready.
func (a *Auto) HealthCheck(ctx context.Context) stage.Health {
	if hc, ok := a.Hosted.(pipeline.HealthChecker); ok {
		h := hc.HealthCheck(ctx)
		h.Name = "auto/" + h.Name
		return h
	}
	return stage.Healthy("auto")
}
