package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"holo/internal/api"
	"holo/internal/pipeline"
	"holo/internal/testsupport"
)

func smallSpecFile(t *testing.T, dir string) string {
	t.Helper()
	data, err := yaml.Marshal(testsupport.SmallSpec())
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	path := filepath.Join(dir, "spec.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return path
}

func TestCLISubmitWaitAndDownload(t *testing.T) {
	env := setupCLITestEnv(t)
	image := writeImage(t, env.baseDir)
	spec := smallSpecFile(t, env.baseDir)

	out, _, err := runCLI(t, []string{"submit", image, "--spec", spec, "--wait", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("submit --wait: %v\n%s", err, out)
	}
	var view api.JobView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode submit output: %v\n%s", err, out)
	}
	if view.Status != "done" || view.Progress != 1 {
		t.Fatalf("expected finished job, got %+v", view)
	}

	target := filepath.Join(env.baseDir, "asset.glb")
	out, _, err = runCLI(t, []string{"result", view.ID, "-o", target}, env.configPath)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if !strings.Contains(out, "Wrote "+target) {
		t.Fatalf("unexpected result output %q", out)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read asset: %v", err)
	}
	if len(data) < 4 || string(data[:4]) != "glTF" {
		t.Fatalf("expected binary glTF header")
	}

	out, _, err = runCLI(t, []string{"artifacts", view.ID}, env.configPath)
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	if !strings.Contains(out, pipeline.WorkEvents) {
		t.Fatalf("expected %s in artifact list, got %q", pipeline.WorkEvents, out)
	}

	eventsPath := filepath.Join(env.baseDir, "events.jsonl")
	if _, _, err := runCLI(t, []string{"artifacts", view.ID, pipeline.WorkEvents, "-o", eventsPath}, env.configPath); err != nil {
		t.Fatalf("artifact download: %v", err)
	}
	events, err := os.ReadFile(eventsPath)
	if err != nil || !strings.Contains(string(events), "pipeline_done") {
		t.Fatalf("expected pipeline_done in events file, err=%v", err)
	}

	out, _, err = runCLI(t, []string{"show", view.ID}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "Status:") || !strings.Contains(out, "Done") {
		t.Fatalf("unexpected show output %q", out)
	}

	out, _, err = runCLI(t, []string{"list", "--status", "done", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var views []api.JobView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(views) != 1 || views[0].ID != view.ID {
		t.Fatalf("unexpected list %+v", views)
	}

	out, _, err = runCLI(t, []string{"list"}, env.configPath)
	if err != nil {
		t.Fatalf("list table: %v", err)
	}
	if !strings.Contains(out, view.ID) || !strings.Contains(out, "100%") {
		t.Fatalf("unexpected list table %q", out)
	}
}

func TestCLIFailedJobExitsNonZero(t *testing.T) {
	env := setupCLITestEnv(t)
	bad := filepath.Join(env.baseDir, "bad.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	out, _, err := runCLI(t, []string{"submit", bad, "--wait"}, env.configPath)
	if err == nil {
		t.Fatalf("expected error for failed job, output %q", out)
	}
	if !strings.Contains(err.Error(), "cutout: ") {
		t.Fatalf("expected stage-prefixed error, got %v", err)
	}
	if !strings.Contains(out, "Submitted job") || !strings.Contains(out, "Error:") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCLIRejectsBadInput(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"list", "--status", "paused"}, env.configPath); err == nil {
		t.Fatal("expected invalid status error")
	}
	badSpec := filepath.Join(env.baseDir, "bad.json")
	if err := os.WriteFile(badSpec, []byte(`{"version":"0.0.1"}`), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	if _, _, err := runCLI(t, []string{"submit", writeImage(t, env.baseDir), "--spec", badSpec}, env.configPath); err == nil {
		t.Fatal("expected spec version error")
	}
	_, _, err := runCLI(t, []string{"show", "no-such-job"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCLIShowFallsBackToRecentCache(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"submit", writeImage(t, env.baseDir), "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var created api.CreateJobResponse
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if _, _, err := runCLI(t, []string{"show", created.JobID}, env.configPath); err != nil {
		t.Fatalf("show: %v", err)
	}

	env.daemon.Stop()

	out, _, err = runCLI(t, []string{"show", created.JobID}, env.configPath)
	if err != nil {
		t.Fatalf("show after stop: %v", err)
	}
	if !strings.Contains(out, "cached view") || !strings.Contains(out, created.JobID) {
		t.Fatalf("expected cached view, got %q", out)
	}

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Not running") {
		t.Fatalf("expected not running status, got %q", out)
	}
}

func TestCLIStatusAndPreflight(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"== Daemon ==", "cli-test", "== Stages ==", "== Jobs =="} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}

	out, _, err = runCLI(t, []string{"status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.PID != os.Getpid() {
		t.Fatalf("unexpected status %+v", status)
	}

	out, _, err = runCLI(t, []string{"preflight"}, env.configPath)
	if err != nil {
		t.Fatalf("preflight: %v\n%s", err, out)
	}
	if !strings.Contains(out, "in use by running holod") {
		t.Fatalf("expected locked store note, got %q", out)
	}
}

func TestDaemonStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(testsupport.BaseDir(cfg), "holo.toml")
	writeTestConfig(t, path, cfg, "http://127.0.0.1:1")

	out, _, err := runCLI(t, []string{"daemon", "stop"}, path)
	if err != nil {
		t.Fatalf("daemon stop: %v", err)
	}
	if !strings.Contains(out, "Daemon is not running") {
		t.Fatalf("unexpected output %q", out)
	}
}
