package workflow_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"holo/internal/blob"
	"holo/internal/config"
	"holo/internal/logging"
	"holo/internal/pipeline"
	"holo/internal/queue"
	"holo/internal/stage"
	"holo/internal/testsupport"
	"holo/internal/workflow"
)

// stubRunner writes a placeholder artifact for every stage it serves and
// records the requests it saw. The cutout stage gets a real RGBA cutout.
type stubRunner struct {
	store  blob.Store
	cutout []byte

	mu       sync.Mutex
	requests []pipeline.StageRequest
	failOn   map[pipeline.StageName]error
	skip     map[pipeline.StageName]bool
	block    map[pipeline.StageName]chan struct{}
	caption  map[string]any
	health   stage.Health
}

func newStubRunner(t *testing.T, store blob.Store) *stubRunner {
	t.Helper()
	return &stubRunner{
		store:  store,
		cutout: testsupport.CutoutPNG(t, 32),
		failOn: map[pipeline.StageName]error{},
		skip:   map[pipeline.StageName]bool{},
		block:  map[pipeline.StageName]chan struct{}{},
		health: stage.Healthy("stub"),
	}
}

func (s *stubRunner) Run(ctx context.Context, req pipeline.StageRequest) (pipeline.StageResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	err := s.failOn[req.Stage]
	skip := s.skip[req.Stage]
	gate := s.block[req.Stage]
	caption := s.caption
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return pipeline.StageResult{}, ctx.Err()
		}
	}
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if req.Stage == pipeline.StageCaption {
		return pipeline.StageResult{Metadata: caption}, nil
	}
	if !skip {
		data := []byte(string(req.Stage))
		if req.Stage == pipeline.StageCutout {
			data = s.cutout
		}
		if _, err := blob.WriteURI(ctx, s.store, req.Output.URI, data); err != nil {
			return pipeline.StageResult{}, err
		}
	}
	return pipeline.StageResult{Output: req.Output, Metadata: map[string]any{"runner": "stub"}}, nil
}

func (s *stubRunner) HealthCheck(context.Context) stage.Health {
	return s.health
}

func (s *stubRunner) seen() []pipeline.StageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.StageRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *stubRunner) request(name pipeline.StageName) (pipeline.StageRequest, bool) {
	for _, req := range s.seen() {
		if req.Stage == name {
			return req, true
		}
	}
	return pipeline.StageRequest{}, false
}

func (s *stubRunner) registry() *pipeline.Registry {
	reg := pipeline.NewRegistry()
	for _, name := range pipeline.MeshStages {
		reg.Register(name, s)
	}
	reg.Register(pipeline.StageCaption, s)
	return reg
}

type harness struct {
	cfg    *config.Config
	store  queue.Store
	blobs  blob.Store
	runner *stubRunner
	mgr    *workflow.Manager
}

func newHarness(t *testing.T, cfgOpts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlob(t, cfg)
	h := &harness{cfg: cfg, store: store, blobs: blobs, runner: newStubRunner(t, blobs)}
	h.rebuild()
	return h
}

// rebuild replaces the manager, for tests that need manager options.
func (h *harness) rebuild(opts ...workflow.ManagerOption) {
	opts = append([]workflow.ManagerOption{workflow.WithMetricsRegisterer(prometheus.NewRegistry())}, opts...)
	h.mgr = workflow.NewManager(h.cfg, h.store, h.blobs, h.runner.registry(), logging.NewNop(), opts...)
}

func (h *harness) enqueue(t *testing.T, specJSON string) *queue.Job {
	t.Helper()
	return testsupport.NewJob(t, h.store, h.blobs, testsupport.SubjectPNG(t, 32), specJSON)
}

func (h *harness) job(t *testing.T, id string) *queue.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return job
}

func waitForStatus(t *testing.T, store queue.Store, id string, want queue.Status, timeout time.Duration) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		job, err := store.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s (want %s, error %q)", id, job.Status, want, job.Error)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func captionSpec(t *testing.T) string {
	t.Helper()
	spec := testsupport.SmallSpec()
	spec.AI.Caption.Enabled = true
	return testsupport.SpecJSON(t, spec)
}

func readEvents(t *testing.T, blobs blob.Store, jobID string) []pipeline.Event {
	t.Helper()
	data, err := blob.ReadAll(context.Background(), blobs, blob.WorkPrefix(jobID)+pipeline.WorkEvents)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	var events []pipeline.Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var ev pipeline.Event
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}
