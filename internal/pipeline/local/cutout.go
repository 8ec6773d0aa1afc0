package local

import (
	"context"
	"image"

	"holo/internal/blob"
	"holo/internal/imaging"
	"holo/internal/pipeline"
)

func (r *Runner) cutout(ctx context.Context, req pipeline.StageRequest) (map[string]any, error) {
	model := pipeline.ConfigString(req.Config, "model", "border-key")
	threshold := pipeline.ConfigFloat(req.Config, "threshold", 0.12)
	feather := pipeline.ConfigInt(req.Config, "featherPx", 2)

	src, err := r.readImage(ctx, req.Input.URI)
	if err != nil {
		return nil, err
	}

	var mask *image.Gray
	switch model {
	case "border-key":
		mask = imaging.BorderKeyMask(src, threshold)
	case "alpha":
		mask = imaging.AlphaMask(src)
	default:
		return nil, pipeline.Failf(pipeline.StageCutout, "unknown local cutout model %q", model)
	}
	mask = imaging.Feather(mask, feather)
	coverage := imaging.Coverage(mask)
	if coverage == 0 {
		return nil, pipeline.Failf(pipeline.StageCutout, "no foreground found (threshold %.3f)", threshold)
	}

	cut := imaging.CompositeMask(src, mask)
	data, err := imaging.EncodePNG(cut)
	if err != nil {
		return nil, err
	}
	if _, err := blob.WriteURI(ctx, r.store, req.Output.URI, data); err != nil {
		return nil, err
	}
	b := cut.Bounds()
	return map[string]any{
		"model":    model,
		"coverage": coverage,
		"width":    b.Dx(),
		"height":   b.Dy(),
	}, nil
}
