package pipeline

import (
	"fmt"

	"holo/internal/bakespec"
	"holo/internal/blob"
)

// Work artifact names below jobs/<id>/work/.
const (
	WorkCutout    = "cutout.png"
	WorkViews     = "views.json"
	WorkDepth     = "depth.json"
	WorkPoints    = "points.ply"
	WorkMesh      = "mesh.obj"
	WorkDecimated = "mesh-decimated.obj"
	WorkCaption   = "caption.json"
	WorkEvents    = "pipeline-events.jsonl"
)

// Media types used on stage artifacts.
const (
	MediaPNG      = "image/png"
	MediaJSON     = "application/json"
	MediaOBJ      = "model/obj"
	MediaGLB      = "model/gltf-binary"
	MediaGLTFJSON = "model/gltf+json"
)

// Metadata keys the orchestrator sets on every request.
const (
	MetaJobID   = "jobId"
	MetaCaption = "caption"
)

// ResultExt returns the output extension for the export format.
func ResultExt(spec bakespec.Spec) string {
	if spec.Export.Format == "gltf" {
		return "gltf"
	}
	return "glb"
}

// BuildRequests returns the mesh stage descriptors for a job, chaining each
// stage's output into the next stage's input.
func BuildRequests(spec bakespec.Spec, jobID, inputKey string, store blob.Store) ([]StageRequest, error) {
	inputURI, err := store.URI(inputKey)
	if err != nil {
		return nil, fmt.Errorf("input uri: %w", err)
	}
	resultKey := blob.ResultKey(jobID, ResultExt(spec))
	exportMedia := MediaGLB
	if ResultExt(spec) == "gltf" {
		exportMedia = MediaGLTFJSON
	}

	type plan struct {
		stage StageName
		key   string
		media string
	}
	plans := []plan{
		{StageCutout, blob.WorkPrefix(jobID) + WorkCutout, MediaPNG},
		{StageViews, blob.WorkPrefix(jobID) + WorkViews, MediaJSON},
		{StageDepth, blob.WorkPrefix(jobID) + WorkDepth, MediaJSON},
		{StageRecon, blob.WorkPrefix(jobID) + WorkMesh, MediaOBJ},
		{StageDecimate, blob.WorkPrefix(jobID) + WorkDecimated, MediaOBJ},
		{StageExport, resultKey, exportMedia},
	}

	input := Artifact{URI: inputURI, MediaType: blob.ContentTypeFor(inputKey)}
	requests := make([]StageRequest, 0, len(plans))
	for _, p := range plans {
		outURI, err := store.URI(p.key)
		if err != nil {
			return nil, fmt.Errorf("%s output uri: %w", p.stage, err)
		}
		output := Artifact{URI: outURI, MediaType: p.media}
		requests = append(requests, StageRequest{
			Stage:    p.stage,
			Input:    input,
			Output:   output,
			Config:   spec.Section(string(p.stage)),
			Metadata: map[string]any{MetaJobID: jobID},
		})
		input = output
	}
	return requests, nil
}

// BuildCaptionRequest returns the descriptor for the optional caption stage.
func BuildCaptionRequest(spec bakespec.Spec, jobID, inputKey string, store blob.Store) (StageRequest, error) {
	inputURI, err := store.URI(inputKey)
	if err != nil {
		return StageRequest{}, fmt.Errorf("input uri: %w", err)
	}
	outURI, err := store.URI(blob.WorkPrefix(jobID) + WorkCaption)
	if err != nil {
		return StageRequest{}, fmt.Errorf("caption output uri: %w", err)
	}
	return StageRequest{
		Stage:    StageCaption,
		Input:    Artifact{URI: inputURI, MediaType: blob.ContentTypeFor(inputKey)},
		Output:   Artifact{URI: outURI, MediaType: MediaJSON},
		Config:   spec.Section(string(StageCaption)),
		Metadata: map[string]any{MetaJobID: jobID},
	}, nil
}
