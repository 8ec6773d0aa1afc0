package local

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"holo/internal/blob"
	"holo/internal/imaging"
	"holo/internal/mesh"
	"holo/internal/pipeline"
)

func (r *Runner) recon(ctx context.Context, req pipeline.StageRequest) (map[string]any, error) {
	method := pipeline.ConfigString(req.Config, "method", "grid")
	if method != "grid" {
		return nil, pipeline.Failf(pipeline.StageRecon, "unsupported local recon method %q", method)
	}
	voxel := pipeline.ConfigFloat(req.Config, "voxelSize", 0.006)
	gridSize := pipeline.ConfigInt(req.Config, "gridSize", 64)

	var manifest pipeline.DepthManifest
	if err := pipeline.ReadJSON(ctx, r.store, req.Input.URI, &manifest); err != nil {
		return nil, err
	}
	if len(manifest.Views) == 0 {
		return nil, pipeline.Failf(pipeline.StageRecon, "depth manifest lists no views")
	}
	depthKey, err := r.store.KeyForURI(req.Input.URI)
	if err != nil {
		return nil, err
	}

	var (
		points   []mesh.Vec3
		front    *imaging.DepthMap
		frontIdx int
	)
	for i, entry := range manifest.Views {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := r.loadDepth(ctx, depthKey, entry)
		if err != nil {
			return nil, fmt.Errorf("view %s: %w", entry.ID, err)
		}
		points = append(points, mesh.BackProject(d, entry.Intrinsics, entry.Pose, 2)...)
		if front == nil || frontness(entry) > frontness(manifest.Views[frontIdx]) {
			front, frontIdx = d, i
		}
	}
	fused := mesh.VoxelDownsample(points, voxel)

	pointsKey, err := pipeline.ResolveRelative(depthKey, pipeline.WorkPoints)
	if err != nil {
		return nil, err
	}
	var ply bytes.Buffer
	if err := mesh.WritePLY(&ply, fused); err != nil {
		return nil, err
	}
	if _, err := blob.PutBytes(ctx, r.store, pointsKey, ply.Bytes()); err != nil {
		return nil, err
	}

	entry := manifest.Views[frontIdx]
	surface, err := mesh.GridSurface(front, entry.Intrinsics, entry.Pose, gridSize)
	if err != nil {
		return nil, pipeline.Failf(pipeline.StageRecon, "surface from %s: %v", entry.ID, err)
	}
	var obj bytes.Buffer
	if err := mesh.WriteOBJ(&obj, surface); err != nil {
		return nil, err
	}
	if _, err := blob.WriteURI(ctx, r.store, req.Output.URI, obj.Bytes()); err != nil {
		return nil, err
	}
	return map[string]any{
		"method":     method,
		"points":     len(fused),
		"vertices":   len(surface.Vertices),
		"faces":      len(surface.Faces),
		"frontView":  entry.ID,
		"pointCloud": pipeline.WorkPoints,
	}, nil
}

// frontness prefers the view closest to azimuth 0.
func frontness(e pipeline.DepthEntry) float64 {
	return math.Cos(e.Pose.AzimuthDeg * math.Pi / 180)
}

func (r *Runner) loadDepth(ctx context.Context, depthKey string, entry pipeline.DepthEntry) (*imaging.DepthMap, error) {
	key, err := pipeline.ResolveRelative(depthKey, entry.DepthPath)
	if err != nil {
		return nil, err
	}
	data, err := blob.ReadAll(ctx, r.store, key)
	if err != nil {
		return nil, err
	}
	img, _, err := imaging.DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	return imaging.DecodeDepth(img, entry.Min, entry.Max), nil
}
