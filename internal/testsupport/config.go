package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"holo/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Paths are already absolute, workers poll fast, and the API binds to an
// ephemeral port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Store.SQLitePath = filepath.Join(base, "data", "holo.db")
	cfgVal.Store.BadgerDir = filepath.Join(base, "data", "badger")
	cfgVal.Blob.LocalRoot = filepath.Join(base, "data", "blobs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Workflow.QueuePollInterval = 0
	cfgVal.Workflow.ErrorRetryInterval = 0
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.Workflow.LeaseSeconds = 30
	cfgVal.Client.RecentCachePath = filepath.Join(base, "recent.json")
	cfgVal.Logging.Level = "error"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithRunner selects the pipeline runner mode.
func WithRunner(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Runner = mode
	}
}

// WithStoreBackend selects the job store backend.
func WithStoreBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Backend = backend
	}
}

// WithWorkers sets the orchestrator worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Workers = n
	}
}

// WithAPIToken enables bearer auth on the Job API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, gltfpack is stubbed; the stub
// copies its -i input to its -o output.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"gltfpack"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte(`#!/bin/sh
in=""; out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -i) in="$2"; shift ;;
    -o) out="$2"; shift ;;
  esac
  shift
done
if [ -n "$in" ] && [ -n "$out" ]; then cp "$in" "$out"; fi
exit 0
`)
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WithAPILimits sets the upload size cap and job creation rate.
func WithAPILimits(maxUploadMB, createPerMinute int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.MaxUploadMB = maxUploadMB
		b.cfg.API.CreateRatePerMinute = createPerMinute
	}
}

// WithCORSOrigins replaces the api.cors_origins allow-list.
func WithCORSOrigins(origins ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.CORSOrigins = origins
	}
}
