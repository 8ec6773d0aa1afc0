package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"holo/internal/blob"
	"holo/internal/mesh"
)

// ManifestVersion is written into every views and depth manifest.
const ManifestVersion = 1

// ViewsManifest describes the rendered views around the subject.
type ViewsManifest struct {
	Version int         `json:"version"`
	FovDeg  float64     `json:"fovDeg"`
	Views   []ViewEntry `json:"views"`
}

// ViewEntry is one camera and its image. ImagePath is relative to the
// manifest location.
type ViewEntry struct {
	ID         string          `json:"id"`
	ImagePath  string          `json:"imagePath"`
	Pose       mesh.Pose       `json:"pose"`
	Intrinsics mesh.Intrinsics `json:"intrinsics"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
}

// DepthManifest lists one depth map per view.
type DepthManifest struct {
	Version int          `json:"version"`
	Views   []DepthEntry `json:"views"`
}

// DepthEntry is the depth map of one view. Values are quantized into a
// 16-bit PNG over [Min, Max].
type DepthEntry struct {
	ViewEntry
	DepthPath string  `json:"depthPath"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// ResolveRelative returns the key of rel next to manifestKey. rel may not
// escape the manifest directory tree of the job.
func ResolveRelative(manifestKey, rel string) (string, error) {
	cleanRel, err := blob.CleanKey(rel)
	if err != nil {
		return "", err
	}
	return blob.CleanKey(path.Join(path.Dir(manifestKey), cleanRel))
}

// ReadJSON loads and decodes the object at uri.
func ReadJSON(ctx context.Context, store blob.Store, uri string, out any) error {
	data, err := blob.ReadURI(ctx, store, uri)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", uri, err)
	}
	return nil
}

// WriteJSON encodes v to uri with indentation.
func WriteJSON(ctx context.Context, store blob.Store, uri string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = blob.WriteURI(ctx, store, uri, data)
	return err
}
