package deps

import (
	"os"
	"path/filepath"
	"testing"

	"holo/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  ", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available || results[0].Path != present {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available || !results[1].Missing() {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[2].Missing() {
		t.Fatal("optional requirement should not count as missing")
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %q", results[2].Detail)
	}
}

func TestPipelineRequirements(t *testing.T) {
	cfg := config.Default()
	reqs := Pipeline(&cfg)
	if len(reqs) != 1 || reqs[0].Command != cfg.Pipeline.GltfpackBinary || !reqs[0].Optional {
		t.Fatalf("unexpected local requirements: %#v", reqs)
	}

	cfg.Pipeline.Runner = config.RunnerRemote
	if reqs := Pipeline(&cfg); len(reqs) != 0 {
		t.Fatalf("remote runner should need no local binaries, got %#v", reqs)
	}
}
