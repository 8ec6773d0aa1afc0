package preflight

import (
	"context"

	"holo/internal/config"
	"holo/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckJobStore(ctx, cfg),
		CheckBlobStore(ctx, cfg),
	}

	switch cfg.Pipeline.Runner {
	case config.RunnerRemote:
		results = append(results, CheckEndpoint(ctx, "Remote runner", cfg.Pipeline.RemoteURL))
	case config.RunnerHosted, config.RunnerAuto:
		results = append(results, CheckAPIKey("Hosted provider", cfg.Hosted.APIKey, false))
		if cfg.Pipeline.Runner == config.RunnerAuto && cfg.Pipeline.RemoteURL != "" {
			results = append(results, CheckEndpoint(ctx, "Remote runner", cfg.Pipeline.RemoteURL))
		}
	}
	results = append(results, CheckAPIKey("Caption provider", cfg.Caption.APIKey, true))
	results = append(results, CheckBinaries(deps.Pipeline(cfg))...)
	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
