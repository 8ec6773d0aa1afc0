package local

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"holo/internal/blob"
	"holo/internal/mesh"
	"holo/internal/pipeline"
	"holo/internal/services"
)

func (r *Runner) export(ctx context.Context, req pipeline.StageRequest) (map[string]any, error) {
	format := pipeline.ConfigString(req.Config, "format", "glb")
	optimize := pipeline.ConfigString(req.Config, "optimize", "none")
	if format != "glb" && format != "gltf" {
		return nil, pipeline.Failf(pipeline.StageExport, "unsupported export format %q", format)
	}

	m, err := r.readMesh(ctx, req.Input.URI)
	if err != nil {
		return nil, err
	}
	m.ComputeNormals()

	extras := map[string]any{}
	if caption, ok := req.Metadata[pipeline.MetaCaption].(map[string]any); ok && len(caption) > 0 {
		extras["ai"] = map[string]any{"caption": caption}
	}
	data, err := mesh.EncodeGLTF(m, mesh.ExportOptions{Binary: format == "glb", Extras: extras})
	if err != nil {
		return nil, err
	}

	switch optimize {
	case "none", "":
	case "gltfpack":
		data, err = r.runGltfpack(ctx, data, format)
		if err != nil {
			return nil, err
		}
	default:
		return nil, pipeline.Failf(pipeline.StageExport, "unsupported optimizer %q", optimize)
	}

	if _, err := blob.WriteURI(ctx, r.store, req.Output.URI, data); err != nil {
		return nil, err
	}
	return map[string]any{
		"format":     format,
		"optimize":   optimize,
		"bytes":      len(data),
		"vertices":   len(m.Vertices),
		"faces":      len(m.Faces),
		"hasCaption": len(extras) > 0,
	}, nil
}

// runGltfpack round-trips data through the external optimizer in a temp dir.
func (r *Runner) runGltfpack(ctx context.Context, data []byte, format string) ([]byte, error) {
	bin, err := r.lookPath(r.gltfpack)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, string(pipeline.StageExport), "gltfpack",
			fmt.Sprintf("%s not found on PATH", r.gltfpack), err)
	}
	dir, err := os.MkdirTemp("", "holo-gltfpack-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in."+format)
	out := filepath.Join(dir, "out."+format)
	if err := os.WriteFile(in, data, 0o644); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, bin, "-i", in, "-o", out)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, string(pipeline.StageExport), "gltfpack",
			string(output), err)
	}
	return os.ReadFile(out)
}
