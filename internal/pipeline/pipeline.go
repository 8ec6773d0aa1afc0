package pipeline

import (
	"context"
	"time"

	"holo/internal/blob"
	"holo/internal/imaging"
)

// ProgressFunc receives the completed fraction after each stage.
type ProgressFunc func(stage StageName, fraction float64)

// StageObserver is told how long each stage took and whether it failed.
type StageObserver func(stage StageName, elapsed time.Duration, err error)

// PrepareFunc may amend a request just before it runs. Run uses it to wait
// on inputs produced outside the sequence, such as the caption.
type PrepareFunc func(ctx context.Context, req *StageRequest) error

// Pipeline runs stage requests strictly in order.
type Pipeline struct {
	registry  *Registry
	observer  StageObserver
	prepare   PrepareFunc
	artifacts blob.Store
}

// New builds a pipeline over registry. observer may be nil.
func New(registry *Registry, observer StageObserver) *Pipeline {
	return &Pipeline{registry: registry, observer: observer}
}

// WithPrepare returns a copy of p that calls fn before each stage in Run.
func (p *Pipeline) WithPrepare(fn PrepareFunc) *Pipeline {
	clone := *p
	clone.prepare = fn
	return &clone
}

// WithArtifacts returns a copy of p that reads stage outputs back from store
// to check their contracts. Without it outputs are trusted as written.
func (p *Pipeline) WithArtifacts(store blob.Store) *Pipeline {
	clone := *p
	clone.artifacts = store
	return &clone
}

// Registry returns the runner registry.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Run executes requests in order and stops at the first failure, which is
// always returned as a *StageError. onProgress is called with (i+1)/n after
// stage i succeeds.
func (p *Pipeline) Run(ctx context.Context, requests []StageRequest, onProgress ProgressFunc) ([]StageResult, error) {
	results := make([]StageResult, 0, len(requests))
	n := len(requests)
	for i, req := range requests {
		if p.prepare != nil {
			if err := p.prepare(ctx, &req); err != nil {
				return results, AsStageError(req.Stage, err)
			}
		}
		result, err := p.RunStage(ctx, req)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if onProgress != nil {
			onProgress(req.Stage, float64(i+1)/float64(n))
		}
	}
	return results, nil
}

// RunStage executes a single request.
func (p *Pipeline) RunStage(ctx context.Context, req StageRequest) (StageResult, error) {
	if err := ctx.Err(); err != nil {
		return StageResult{}, &StageError{Stage: req.Stage, Cause: err}
	}
	runner, ok := p.registry.Lookup(req.Stage)
	if !ok {
		return StageResult{}, Failf(req.Stage, "no runner configured")
	}
	start := time.Now()
	result, err := runner.Run(ctx, req)
	err = AsStageError(req.Stage, err)
	if err == nil {
		result, err = p.checkResult(ctx, req, result)
	}
	if p.observer != nil {
		p.observer(req.Stage, time.Since(start), err)
	}
	if err != nil {
		return StageResult{}, err
	}
	return result, nil
}

// checkResult fills defaults into result and holds it to the planned output.
func (p *Pipeline) checkResult(ctx context.Context, req StageRequest, result StageResult) (StageResult, error) {
	if result.Output.URI == "" {
		result.Output = req.Output
	}
	if result.Output.URI != req.Output.URI {
		return result, Failf(req.Stage, "runner wrote %s, expected %s", result.Output.URI, req.Output.URI)
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	return result, p.verifyOutput(ctx, req)
}

// verifyOutput rejects a cutout that is not an RGBA composite, whichever
// backend produced it.
func (p *Pipeline) verifyOutput(ctx context.Context, req StageRequest) error {
	if p.artifacts == nil || req.Stage != StageCutout {
		return nil
	}
	data, err := blob.ReadURI(ctx, p.artifacts, req.Output.URI)
	if err != nil {
		return Failf(StageCutout, "read cutout: %v", err)
	}
	img, _, err := imaging.DecodeBytes(data)
	if err != nil {
		return Failf(StageCutout, "decode cutout: %v", err)
	}
	if err := imaging.VerifyCutout(img); err != nil {
		return Failf(StageCutout, "%w", err)
	}
	return nil
}
