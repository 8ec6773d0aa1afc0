package local

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"holo/internal/bakespec"
	"holo/internal/blob"
	"holo/internal/imaging"
	"holo/internal/pipeline"
	"holo/internal/services"
)

func subjectPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			c := color.NRGBA{R: 250, G: 250, B: 250, A: 255}
			if x >= 12 && x < 36 && y >= 10 && y < 40 {
				c = color.NRGBA{R: 30, G: 90, B: 200, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatalf("encode subject: %v", err)
	}
	return data
}

type fixture struct {
	store    *blob.LocalFS
	runner   *Runner
	requests []pipeline.StageRequest
}

func newFixture(t *testing.T, mutate func(*bakespec.Spec)) *fixture {
	t.Helper()
	store, err := blob.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	inputKey := blob.InputKey("job1", "png")
	if _, err := blob.PutBytes(context.Background(), store, inputKey, subjectPNG(t)); err != nil {
		t.Fatalf("put input: %v", err)
	}
	spec := bakespec.Default()
	spec.Views.Count = 4
	spec.Views.Resolution = 64
	spec.Recon.GridSize = 24
	spec.Mesh.TargetTris = 200
	if mutate != nil {
		mutate(&spec)
	}
	requests, err := pipeline.BuildRequests(spec, "job1", inputKey, store)
	if err != nil {
		t.Fatalf("BuildRequests: %v", err)
	}
	runner := New(store, Options{})
	runner.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	return &fixture{store: store, runner: runner, requests: requests}
}

func (f *fixture) pipeline() *pipeline.Pipeline {
	reg := pipeline.NewRegistry()
	for _, s := range f.runner.Stages() {
		reg.Register(s, f.runner)
	}
	return pipeline.New(reg, nil)
}

func TestLocalPipelineProducesGLB(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	results, err := f.pipeline().Run(ctx, f.requests, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	cutout, err := blob.ReadURI(ctx, f.store, f.requests[0].Output.URI)
	if err != nil {
		t.Fatalf("read cutout: %v", err)
	}
	img, _, err := imaging.DecodeBytes(cutout)
	if err != nil {
		t.Fatalf("decode cutout: %v", err)
	}
	if err := imaging.VerifyCutout(img); err != nil {
		t.Fatalf("cutout contract: %v", err)
	}

	var views pipeline.ViewsManifest
	if err := pipeline.ReadJSON(ctx, f.store, f.requests[1].Output.URI, &views); err != nil {
		t.Fatalf("read views: %v", err)
	}
	if len(views.Views) != 4 || views.Views[0].Intrinsics.Cx != 32 {
		t.Fatalf("unexpected views manifest %+v", views)
	}
	for _, v := range views.Views {
		key, _ := pipeline.ResolveRelative(blob.WorkPrefix("job1")+pipeline.WorkViews, v.ImagePath)
		if ok, _ := f.store.Exists(ctx, key); !ok {
			t.Fatalf("missing view image %s", key)
		}
	}

	depthMeta := results[2].Metadata
	if depthMeta["depthMin"].(float64) >= depthMeta["depthMax"].(float64) {
		t.Fatalf("unexpected depth range %v", depthMeta)
	}
	if ok, _ := f.store.Exists(ctx, blob.WorkPrefix("job1")+pipeline.WorkPoints); !ok {
		t.Fatal("expected fused point cloud")
	}
	if results[4].Metadata["facesOut"].(int) > 200 {
		t.Fatalf("decimate exceeded target: %v", results[4].Metadata)
	}

	glb, err := blob.ReadAll(ctx, f.store, blob.ResultKey("job1", "glb"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !bytes.HasPrefix(glb, []byte("glTF")) {
		t.Fatal("expected GLB output")
	}
	if results[5].Metadata["runner"] != "local" {
		t.Fatalf("missing runner metadata: %v", results[5].Metadata)
	}
}

func TestLocalExportEmbedsCaption(t *testing.T) {
	f := newFixture(t, func(s *bakespec.Spec) { s.Export.Format = "gltf" })
	f.requests[5].Metadata[pipeline.MetaCaption] = map[string]any{"caption": "a blue block"}
	if _, err := f.pipeline().Run(context.Background(), f.requests, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc, err := blob.ReadAll(context.Background(), f.store, blob.ResultKey("job1", "gltf"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !strings.Contains(string(doc), "a blue block") {
		t.Fatal("expected caption under asset extras")
	}
}

func TestLocalDepthReusesExistingMaps(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.pipeline()
	if _, err := p.Run(ctx, f.requests[:3], nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := p.RunStage(ctx, f.requests[2])
	if err != nil {
		t.Fatalf("second depth: %v", err)
	}
	if res.Metadata["reused"] != 4 {
		t.Fatalf("expected all views reused, got %v", res.Metadata["reused"])
	}
}

func TestLocalStageFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*bakespec.Spec)
		stage  pipeline.StageName
		want   string
	}{
		{"cutout model", func(s *bakespec.Spec) { s.Cutout.Model = "u2net" }, pipeline.StageCutout, "unknown local cutout model"},
		{"recon method", func(s *bakespec.Spec) { s.Recon.Method = "poisson" }, pipeline.StageRecon, "unsupported local recon method"},
		{"gltfpack missing", func(s *bakespec.Spec) { s.Export.Optimize = "gltfpack" }, pipeline.StageExport, "gltfpack"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.mutate)
			_, err := f.pipeline().Run(context.Background(), f.requests, nil)
			var se *pipeline.StageError
			if !errors.As(err, &se) {
				t.Fatalf("expected StageError, got %v", err)
			}
			if se.Stage != tc.stage || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestLocalGltfpackMissingIsExternalToolError(t *testing.T) {
	f := newFixture(t, func(s *bakespec.Spec) { s.Export.Optimize = "gltfpack" })
	_, err := f.pipeline().Run(context.Background(), f.requests, nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
}

func TestLocalCutoutRejectsBlankImage(t *testing.T) {
	f := newFixture(t, nil)
	blank := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range blank.Pix {
		blank.Pix[i] = 255
	}
	data, _ := imaging.EncodePNG(blank)
	if _, err := blob.PutBytes(context.Background(), f.store, blob.InputKey("job1", "png"), data); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, err := f.runner.Run(context.Background(), f.requests[0])
	if err == nil || !strings.Contains(err.Error(), "no foreground") {
		t.Fatalf("expected no foreground error, got %v", err)
	}
}

func TestHealthCheckReportsMissingGltfpack(t *testing.T) {
	f := newFixture(t, nil)
	h := f.runner.HealthCheck(context.Background())
	if !h.Ready || !strings.Contains(h.Detail, "gltfpack") {
		t.Fatalf("unexpected health %+v", h)
	}
}
