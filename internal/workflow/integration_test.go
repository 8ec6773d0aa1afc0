package workflow_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/qmuntal/gltf"

	"holo/internal/blob"
	"holo/internal/config"
	"holo/internal/logging"
	"holo/internal/pipeline/backends"
	"holo/internal/queue"
	"holo/internal/testsupport"
	"holo/internal/workflow"
)

func TestWorkflowIntegrationEndToEnd(t *testing.T) {
	for _, backend := range []string{config.StoreBackendSQLite, config.StoreBackendBadger} {
		t.Run(backend, func(t *testing.T) {
			cfg := testsupport.NewConfig(t,
				testsupport.WithStoreBackend(backend),
				testsupport.WithStubbedBinaries())
			store := testsupport.MustOpenStore(t, cfg)
			blobs := testsupport.MustOpenBlob(t, cfg)
			logger := logging.NewNop()

			registry, err := backends.New(context.Background(), cfg, blobs, logger)
			if err != nil {
				t.Fatalf("backends.New: %v", err)
			}
			mgr := workflow.NewManager(cfg, store, blobs, registry, logger,
				workflow.WithMetricsRegisterer(prometheus.NewRegistry()))

			spec := testsupport.SmallSpec()
			spec.Export.Optimize = "gltfpack"
			spec.AI.Caption.Enabled = true
			glbJob := testsupport.NewJob(t, store, blobs, testsupport.SubjectPNG(t, 48), testsupport.SpecJSON(t, spec))

			spec.Export.Format = "gltf"
			spec.Export.Optimize = "none"
			spec.AI.Caption.Enabled = false
			gltfJob := testsupport.NewJob(t, store, blobs, testsupport.SubjectPNG(t, 48), testsupport.SpecJSON(t, spec))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := mgr.Start(ctx); err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer mgr.Stop()

			done := waitForStatus(t, store, glbJob.ID, queue.StatusDone, 30*time.Second)
			if done.OutputKey != blob.ResultKey(glbJob.ID, "glb") {
				t.Fatalf("unexpected output key %q", done.OutputKey)
			}
			data, err := blob.ReadAll(ctx, blobs, done.OutputKey)
			if err != nil {
				t.Fatalf("read result: %v", err)
			}
			var doc gltf.Document
			if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
				t.Fatalf("decode glb: %v", err)
			}
			if len(doc.Meshes) == 0 {
				t.Fatal("expected at least one mesh in the asset")
			}

			// No caption key is configured, so the asset carries the caption error.
			if !strings.Contains(string(data), "not configured") {
				t.Fatal("expected caption failure recorded in asset extras")
			}

			second := waitForStatus(t, store, gltfJob.ID, queue.StatusDone, 30*time.Second)
			if !strings.HasSuffix(second.OutputKey, ".gltf") {
				t.Fatalf("unexpected gltf output key %q", second.OutputKey)
			}

			events := readEvents(t, blobs, glbJob.ID)
			var stageDone int
			for _, ev := range events {
				if ev.Event == "stage_done" {
					stageDone++
				}
			}
			if stageDone != 6 {
				t.Fatalf("expected 6 stage_done events, got %d", stageDone)
			}
		})
	}
}

func TestWorkflowIntegrationRecordsCutoutFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlob(t, cfg)
	registry, err := backends.New(context.Background(), cfg, blobs, nil)
	if err != nil {
		t.Fatalf("backends.New: %v", err)
	}
	mgr := workflow.NewManager(cfg, store, blobs, registry, nil,
		workflow.WithMetricsRegisterer(prometheus.NewRegistry()))

	// A not-an-image input fails in the first stage.
	job := testsupport.NewJob(t, store, blobs, []byte("definitely not a png"), "")
	if _, err := mgr.ProcessNext(context.Background(), "w1"); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	got, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != queue.StatusError || !strings.HasPrefix(got.Error, "cutout: ") {
		t.Fatalf("expected cutout failure, got %s %q", got.Status, got.Error)
	}
}
