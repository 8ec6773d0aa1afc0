package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus"

	"holo/internal/config"
	"holo/internal/daemon"
	"holo/internal/pipeline/backends"
	"holo/internal/testsupport"
	"holo/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	baseURL    string
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	opts = append([]testsupport.ConfigOption{testsupport.WithStubbedBinaries()}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlob(t, cfg)

	registry, err := backends.New(context.Background(), cfg, blobs, nil)
	if err != nil {
		t.Fatalf("backends.New: %v", err)
	}
	metrics := prometheus.NewRegistry()
	mgr := workflow.NewManager(cfg, store, blobs, registry, nil, workflow.WithMetricsRegisterer(metrics))
	d, err := daemon.New(cfg, store, blobs, mgr, nil, daemon.Options{Version: "cli-test", Gatherer: metrics})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	t.Cleanup(d.Stop)

	env := &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		baseURL:    "http://" + d.Addr(),
		configPath: filepath.Join(base, "holo.toml"),
		baseDir:    base,
	}
	writeTestConfig(t, env.configPath, cfg, env.baseURL)
	return env
}

// writeTestConfig persists cfg for the CLI, pointing the client at baseURL.
func writeTestConfig(t *testing.T, path string, cfg *config.Config, baseURL string) {
	t.Helper()
	fileCfg := *cfg
	fileCfg.Client.URL = baseURL
	fileCfg.Workflow.QueuePollInterval = 1
	fileCfg.Workflow.ErrorRetryInterval = 1
	fileCfg.Client.WaitIntervalMs = 50
	data, err := toml.Marshal(fileCfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeImage(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "subject.png")
	testsupport.WritePNG(t, path, 48)
	return path
}
