package blob_test

import (
	"errors"
	"testing"

	"holo/internal/blob"
	"holo/internal/services"
)

func TestCleanKey(t *testing.T) {
	valid := map[string]string{
		"jobs/a/input.png":      "jobs/a/input.png",
		"jobs//a/./input.png":   "jobs/a/input.png",
		`jobs\a\work\mesh.obj`:  "jobs/a/work/mesh.obj",
		"  jobs/a/result.glb  ": "jobs/a/result.glb",
	}
	for in, want := range valid {
		got, err := blob.CleanKey(in)
		if err != nil {
			t.Fatalf("CleanKey(%q) returned error: %v", in, err)
		}
		if got != want {
			t.Fatalf("CleanKey(%q) = %q, want %q", in, got, want)
		}
	}

	invalid := []string{"", "   ", "/etc/passwd", "../x", "jobs/../../x", "C:/windows", "./."}
	for _, in := range invalid {
		_, err := blob.CleanKey(in)
		if !errors.Is(err, blob.ErrInvalidKey) {
			t.Fatalf("CleanKey(%q) expected ErrInvalidKey, got %v", in, err)
		}
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("CleanKey(%q) expected validation error, got %v", in, err)
		}
	}
}

func TestKeyHelpers(t *testing.T) {
	if got := blob.InputKey("j1", ".PNG"); got != "jobs/j1/input.png" {
		t.Fatalf("InputKey = %q", got)
	}
	if got := blob.InputKey("j1", ""); got != "jobs/j1/input.png" {
		t.Fatalf("InputKey fallback = %q", got)
	}
	if got := blob.ResultKey("j1", "gltf"); got != "jobs/j1/result.gltf" {
		t.Fatalf("ResultKey = %q", got)
	}
	got, err := blob.WorkKey("j1", "mesh/raw.obj")
	if err != nil || got != "jobs/j1/work/mesh/raw.obj" {
		t.Fatalf("WorkKey = %q, %v", got, err)
	}
	if _, err := blob.WorkKey("j1", "../../j2/input.png"); !errors.Is(err, blob.ErrInvalidKey) {
		t.Fatalf("expected traversal rejection, got %v", err)
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"jobs/a/result.glb":  "model/gltf-binary",
		"jobs/a/result.gltf": "model/gltf+json",
		"jobs/a/input.PNG":   "image/png",
		"jobs/a/blob":        "application/octet-stream",
	}
	for key, want := range cases {
		if got := blob.ContentTypeFor(key); got != want {
			t.Fatalf("ContentTypeFor(%q) = %q, want %q", key, got, want)
		}
	}
}
