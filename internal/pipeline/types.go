package pipeline

import (
	"context"
	"fmt"
	"strings"

	"holo/internal/stage"
)

// StageName identifies a pipeline stage.
type StageName string

const (
	StageCutout   StageName = "cutout"
	StageViews    StageName = "views"
	StageDepth    StageName = "depth"
	StageRecon    StageName = "recon"
	StageDecimate StageName = "decimate"
	StageExport   StageName = "export"
	StageCaption  StageName = "caption"
)

// MeshStages lists the sequential stages that produce the asset.
var MeshStages = []StageName{StageCutout, StageViews, StageDepth, StageRecon, StageDecimate, StageExport}

// ParseStageName validates a stage name.
func ParseStageName(raw string) (StageName, error) {
	name := StageName(strings.ToLower(strings.TrimSpace(raw)))
	switch name {
	case StageCutout, StageViews, StageDepth, StageRecon, StageDecimate, StageExport, StageCaption:
		return name, nil
	}
	return "", fmt.Errorf("unknown stage %q", raw)
}

// Artifact references a stored object.
type Artifact struct {
	URI       string `json:"uri"`
	MediaType string `json:"mediaType"`
}

// StageRequest is the descriptor handed to a runner.
type StageRequest struct {
	Stage    StageName      `json:"stage"`
	Input    Artifact       `json:"input"`
	Output   Artifact       `json:"output"`
	Config   map[string]any `json:"config"`
	Metadata map[string]any `json:"metadata"`
}

// StageResult is what a runner reports back.
type StageResult struct {
	Output   Artifact       `json:"output"`
	Metadata map[string]any `json:"metadata"`
}

// Runner executes one stage.
type Runner interface {
	Run(ctx context.Context, req StageRequest) (StageResult, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req StageRequest) (StageResult, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, req StageRequest) (StageResult, error) {
	return f(ctx, req)
}

// HealthChecker is implemented by runners that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) stage.Health
}
