package pipeline_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"holo/internal/bakespec"
	"holo/internal/blob"
	"holo/internal/pipeline"
)

type recordingRunner struct {
	calls []pipeline.StageName
	fail  map[pipeline.StageName]error
}

func (r *recordingRunner) Run(_ context.Context, req pipeline.StageRequest) (pipeline.StageResult, error) {
	r.calls = append(r.calls, req.Stage)
	if err := r.fail[req.Stage]; err != nil {
		return pipeline.StageResult{}, err
	}
	return pipeline.StageResult{Metadata: map[string]any{"stage": string(req.Stage)}}, nil
}

func registryFor(runner pipeline.Runner, stages ...pipeline.StageName) *pipeline.Registry {
	reg := pipeline.NewRegistry()
	for _, s := range stages {
		reg.Register(s, runner)
	}
	return reg
}

func newStore(t *testing.T) *blob.LocalFS {
	t.Helper()
	store, err := blob.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	return store
}

func TestRunIsSequentialWithProgress(t *testing.T) {
	store := newStore(t)
	requests, err := pipeline.BuildRequests(bakespec.Default(), "job1", blob.InputKey("job1", "png"), store)
	if err != nil {
		t.Fatalf("BuildRequests: %v", err)
	}
	runner := &recordingRunner{}
	p := pipeline.New(registryFor(runner, pipeline.MeshStages...), nil)

	var fractions []float64
	results, err := p.Run(context.Background(), requests, func(_ pipeline.StageName, f float64) {
		fractions = append(fractions, f)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	for i, stage := range pipeline.MeshStages {
		if runner.calls[i] != stage {
			t.Fatalf("call %d: got %s want %s", i, runner.calls[i], stage)
		}
	}
	if fractions[0] != 1.0/6 || fractions[5] != 1 {
		t.Fatalf("unexpected fractions %v", fractions)
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] <= fractions[i-1] {
			t.Fatalf("fractions not increasing: %v", fractions)
		}
	}
	if results[0].Output != requests[0].Output {
		t.Fatalf("omitted output should fall back to the requested output")
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	store := newStore(t)
	requests, _ := pipeline.BuildRequests(bakespec.Default(), "job1", blob.InputKey("job1", "png"), store)
	runner := &recordingRunner{fail: map[pipeline.StageName]error{pipeline.StageDepth: errors.New("boom")}}
	p := pipeline.New(registryFor(runner, pipeline.MeshStages...), nil)

	_, err := p.Run(context.Background(), requests, nil)
	var se *pipeline.StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if se.Stage != pipeline.StageDepth || err.Error() != "depth: boom" {
		t.Fatalf("unexpected error %q", err)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("expected stop after depth, calls=%v", runner.calls)
	}
}

func TestRunMissingRunner(t *testing.T) {
	store := newStore(t)
	requests, _ := pipeline.BuildRequests(bakespec.Default(), "job1", blob.InputKey("job1", "png"), store)
	p := pipeline.New(registryFor(&recordingRunner{}, pipeline.StageCutout), nil)

	_, err := p.Run(context.Background(), requests, nil)
	if err == nil || err.Error() != "views: no runner configured" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestPrepareAmendsRequests(t *testing.T) {
	store := newStore(t)
	requests, _ := pipeline.BuildRequests(bakespec.Default(), "job1", blob.InputKey("job1", "png"), store)
	var seen map[string]any
	reg := pipeline.NewRegistry()
	for _, s := range pipeline.MeshStages {
		reg.Register(s, pipeline.RunnerFunc(func(_ context.Context, req pipeline.StageRequest) (pipeline.StageResult, error) {
			if req.Stage == pipeline.StageExport {
				seen = req.Metadata
			}
			return pipeline.StageResult{}, nil
		}))
	}
	p := pipeline.New(reg, nil).WithPrepare(func(_ context.Context, req *pipeline.StageRequest) error {
		if req.Stage == pipeline.StageExport {
			req.Metadata = pipeline.MergeMetadata(req.Metadata, map[string]any{pipeline.MetaCaption: map[string]any{"caption": "mug"}})
		}
		return nil
	})
	if _, err := p.Run(context.Background(), requests, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	caption, ok := seen[pipeline.MetaCaption].(map[string]any)
	if !ok || caption["caption"] != "mug" {
		t.Fatalf("export did not receive caption: %v", seen)
	}

	failing := pipeline.New(reg, nil).WithPrepare(func(_ context.Context, req *pipeline.StageRequest) error {
		if req.Stage == pipeline.StageRecon {
			return errors.New("inputs unavailable")
		}
		return nil
	})
	_, err := failing.Run(context.Background(), requests, nil)
	if err == nil || err.Error() != "recon: inputs unavailable" {
		t.Fatalf("unexpected prepare error %v", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	store := newStore(t)
	requests, _ := pipeline.BuildRequests(bakespec.Default(), "job1", blob.InputKey("job1", "png"), store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &recordingRunner{}
	_, err := pipeline.New(registryFor(runner, pipeline.MeshStages...), nil).Run(ctx, requests, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected no calls, got %v", runner.calls)
	}
}

func TestBuildRequestsChainsArtifacts(t *testing.T) {
	store := newStore(t)
	spec := bakespec.Default()
	spec.Export.Format = "gltf"
	requests, err := pipeline.BuildRequests(spec, "job1", "jobs/job1/input.jpg", store)
	if err != nil {
		t.Fatalf("BuildRequests: %v", err)
	}
	wantKeys := []string{
		"jobs/job1/work/cutout.png",
		"jobs/job1/work/views.json",
		"jobs/job1/work/depth.json",
		"jobs/job1/work/mesh.obj",
		"jobs/job1/work/mesh-decimated.obj",
		"jobs/job1/result.gltf",
	}
	for i, req := range requests {
		key, err := store.KeyForURI(req.Output.URI)
		if err != nil {
			t.Fatalf("KeyForURI: %v", err)
		}
		if key != wantKeys[i] {
			t.Fatalf("stage %s output %q want %q", req.Stage, key, wantKeys[i])
		}
		if i > 0 && req.Input != requests[i-1].Output {
			t.Fatalf("stage %s input not chained", req.Stage)
		}
		if req.Metadata[pipeline.MetaJobID] != "job1" {
			t.Fatalf("missing job id metadata on %s", req.Stage)
		}
	}
	if requests[0].Input.MediaType != "image/jpeg" {
		t.Fatalf("unexpected input media %q", requests[0].Input.MediaType)
	}
	if requests[5].Output.MediaType != pipeline.MediaGLTFJSON {
		t.Fatalf("unexpected export media %q", requests[5].Output.MediaType)
	}
	if requests[4].Config["targetTris"] != float64(2000) {
		t.Fatalf("decimate config not taken from mesh section: %v", requests[4].Config)
	}

	caption, err := pipeline.BuildCaptionRequest(spec, "job1", "jobs/job1/input.jpg", store)
	if err != nil {
		t.Fatalf("BuildCaptionRequest: %v", err)
	}
	if caption.Stage != pipeline.StageCaption || caption.Config["model"] != "claude-3-5-haiku-latest" {
		t.Fatalf("unexpected caption request %+v", caption)
	}
}

func TestLoggedRunnerWritesEventLog(t *testing.T) {
	store := newStore(t)
	events := pipeline.NewEventLog(store, "job1", nil)
	runner := &recordingRunner{fail: map[pipeline.StageName]error{pipeline.StageViews: errors.New("bad pose")}}
	reg := pipeline.WrapRegistry(registryFor(runner, pipeline.StageCutout, pipeline.StageViews), events, nil)
	p := pipeline.New(reg, nil)

	requests, _ := pipeline.BuildRequests(bakespec.Default(), "job1", blob.InputKey("job1", "png"), store)
	if _, err := p.Run(context.Background(), requests[:2], nil); err == nil {
		t.Fatal("expected failure")
	}

	data, err := blob.ReadAll(context.Background(), store, events.Key())
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if !bytes.Equal(data, events.Events()) {
		t.Fatal("persisted log differs from in-memory log")
	}
	var kinds []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var ev pipeline.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.TS == 0 {
			t.Fatalf("event missing timestamp: %s", scanner.Text())
		}
		kinds = append(kinds, ev.Event+":"+string(ev.Stage))
	}
	want := "stage_start:cutout,stage_done:cutout,stage_start:views,stage_error:views"
	if strings.Join(kinds, ",") != want {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestStageErrorFormatting(t *testing.T) {
	err := pipeline.Failf(pipeline.StageRecon, "unsupported method %q", "poisson")
	if err.Error() != `recon: unsupported method "poisson"` {
		t.Fatalf("unexpected message %q", err.Error())
	}
	wrapped := pipeline.AsStageError(pipeline.StageExport, err)
	if wrapped.Error() != err.Error() {
		t.Fatal("AsStageError should not double wrap")
	}
	if pipeline.AsStageError(pipeline.StageExport, nil) != nil {
		t.Fatal("nil stays nil")
	}
}

func TestConfigReaders(t *testing.T) {
	cfg := map[string]any{"n": float64(3), "s": " x ", "b": true, "j": json.Number("2.5"), "str": "7"}
	if pipeline.ConfigInt(cfg, "n", 0) != 3 || pipeline.ConfigInt(cfg, "missing", 9) != 9 {
		t.Fatal("ConfigInt")
	}
	if pipeline.ConfigString(cfg, "s", "") != "x" || pipeline.ConfigString(cfg, "n", "d") != "d" {
		t.Fatal("ConfigString")
	}
	if !pipeline.ConfigBool(cfg, "b", false) {
		t.Fatal("ConfigBool")
	}
	if pipeline.ConfigFloat(cfg, "j", 0) != 2.5 || pipeline.ConfigFloat(cfg, "str", 0) != 7 {
		t.Fatal("ConfigFloat")
	}
}
