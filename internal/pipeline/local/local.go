// Package local runs every mesh stage in process. The implementations are
// deterministic geometry stand-ins: they honour the artifact contracts of
// each stage so the rest of the system can be exercised without models.
package local

import (
	"context"
	"image"
	"log/slog"
	"os/exec"
	"strings"

	"holo/internal/blob"
	"holo/internal/imaging"
	"holo/internal/logging"
	"holo/internal/pipeline"
	"holo/internal/stage"
)

// Options configures the local runner.
type Options struct {
	// GltfpackBinary is used when export.optimize is "gltfpack".
	GltfpackBinary string
	Logger         *slog.Logger
}

// Runner implements every mesh stage.
type Runner struct {
	store    blob.Store
	gltfpack string
	logger   *slog.Logger
	lookPath func(string) (string, error)
}

// New builds a local runner over store.
func New(store blob.Store, opts Options) *Runner {
	bin := strings.TrimSpace(opts.GltfpackBinary)
	if bin == "" {
		bin = "gltfpack"
	}
	return &Runner{
		store:    store,
		gltfpack: bin,
		logger:   logging.NewComponentLogger(opts.Logger, "local-runner"),
		lookPath: exec.LookPath,
	}
}

// Stages lists the stages this runner serves.
func (r *Runner) Stages() []pipeline.StageName {
	return pipeline.MeshStages
}

// Run dispatches req to the stage implementation.
func (r *Runner) Run(ctx context.Context, req pipeline.StageRequest) (pipeline.StageResult, error) {
	var (
		meta map[string]any
		err  error
	)
	switch req.Stage {
	case pipeline.StageCutout:
		meta, err = r.cutout(ctx, req)
	case pipeline.StageViews:
		meta, err = r.views(ctx, req)
	case pipeline.StageDepth:
		meta, err = r.depth(ctx, req)
	case pipeline.StageRecon:
		meta, err = r.recon(ctx, req)
	case pipeline.StageDecimate:
		meta, err = r.decimate(ctx, req)
	case pipeline.StageExport:
		meta, err = r.export(ctx, req)
	default:
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "local runner does not support this stage")
	}
	if err != nil {
		return pipeline.StageResult{}, pipeline.AsStageError(req.Stage, err)
	}
	meta["runner"] = "local"
	return pipeline.StageResult{Output: req.Output, Metadata: meta}, nil
}

// HealthCheck reports ready; gltfpack absence only matters for jobs that ask for it.
func (r *Runner) HealthCheck(context.Context) stage.Health {
	if _, err := r.lookPath(r.gltfpack); err != nil {
		return stage.Health{Name: "local", Ready: true, Detail: "gltfpack not found; export.optimize=gltfpack will fail"}
	}
	return stage.Healthy("local")
}

func (r *Runner) readImage(ctx context.Context, uri string) (image.Image, error) {
	data, err := blob.ReadURI(ctx, r.store, uri)
	if err != nil {
		return nil, err
	}
	img, _, err := imaging.DecodeBytes(data)
	return img, err
}

func (r *Runner) writePNG(ctx context.Context, key string, img image.Image) error {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return err
	}
	_, err = blob.PutBytes(ctx, r.store, key, data)
	return err
}
