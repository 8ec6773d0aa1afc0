package local

import (
	"bytes"
	"context"

	"holo/internal/blob"
	"holo/internal/mesh"
	"holo/internal/pipeline"
)

func (r *Runner) decimate(ctx context.Context, req pipeline.StageRequest) (map[string]any, error) {
	target := pipeline.ConfigInt(req.Config, "targetTris", 2000)
	if target < 1 {
		return nil, pipeline.Failf(pipeline.StageDecimate, "targetTris must be positive, got %d", target)
	}
	src, err := r.readMesh(ctx, req.Input.URI)
	if err != nil {
		return nil, err
	}
	out, err := mesh.Decimate(src, target)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := mesh.WriteOBJ(&buf, out); err != nil {
		return nil, err
	}
	if _, err := blob.WriteURI(ctx, r.store, req.Output.URI, buf.Bytes()); err != nil {
		return nil, err
	}
	return map[string]any{
		"targetTris": target,
		"facesIn":    len(src.Faces),
		"facesOut":   len(out.Faces),
	}, nil
}

func (r *Runner) readMesh(ctx context.Context, uri string) (*mesh.Mesh, error) {
	data, err := blob.ReadURI(ctx, r.store, uri)
	if err != nil {
		return nil, err
	}
	return mesh.ReadOBJ(bytes.NewReader(data))
}
