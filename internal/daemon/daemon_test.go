package daemon_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"holo/internal/config"
	"holo/internal/daemon"
	"holo/internal/pipeline/backends"
	"holo/internal/queue"
	"holo/internal/testsupport"
	"holo/internal/workflow"
)

type fixture struct {
	cfg    *config.Config
	store  queue.Store
	daemon *daemon.Daemon
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlob(t, cfg)

	registry, err := backends.New(context.Background(), cfg, blobs, nil)
	if err != nil {
		t.Fatalf("backends.New: %v", err)
	}
	metrics := prometheus.NewRegistry()
	mgr := workflow.NewManager(cfg, store, blobs, registry, nil, workflow.WithMetricsRegisterer(metrics))
	d, err := daemon.New(cfg, store, blobs, mgr, nil, daemon.Options{
		Version:  "test",
		Sidecar:  registry,
		Gatherer: metrics,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	return &fixture{cfg: cfg, store: store, daemon: d}
}

func (f *fixture) start(t *testing.T) string {
	t.Helper()
	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return "http://" + f.daemon.Addr()
}

func TestNewRequiresDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, nil, nil, nil, nil, daemon.Options{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestDaemonStartStopStatus(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	status := f.daemon.Status(context.Background())
	if !status.Running {
		t.Fatal("expected running status")
	}
	if status.Version != "test" || status.Runner != config.RunnerLocal {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.LockFilePath != f.cfg.DaemonLockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
	if strings.HasSuffix(status.Bind, ":0") {
		t.Fatalf("expected bound port, got %q", status.Bind)
	}
	if !status.Workflow.Running || status.StartedAt == "" {
		t.Fatalf("expected running workflow, got %+v", status.Workflow)
	}

	if err := f.daemon.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}

	f.daemon.Stop()
	if f.daemon.Status(context.Background()).Running {
		t.Fatal("expected stopped status")
	}
	f.daemon.Stop()
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	blobs := testsupport.MustOpenBlob(t, f.cfg)
	registry, err := backends.New(context.Background(), f.cfg, blobs, nil)
	if err != nil {
		t.Fatalf("backends.New: %v", err)
	}
	mgr := workflow.NewManager(f.cfg, f.store, blobs, registry, nil,
		workflow.WithMetricsRegisterer(prometheus.NewRegistry()))
	second, err := daemon.New(f.cfg, f.store, blobs, mgr, nil, daemon.Options{Gatherer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	err = second.Start(context.Background())
	if err == nil {
		second.Stop()
		t.Fatal("expected lock conflict")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}

	// Releasing the first instance frees the lock.
	f.daemon.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
	second.Stop()
}
