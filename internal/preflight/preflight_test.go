package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"holo/internal/config"
	"holo/internal/deps"
	"holo/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckEndpoint_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result := CheckEndpoint(context.Background(), "Remote runner", srv.URL+"/")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckEndpoint_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	result := CheckEndpoint(context.Background(), "Remote runner", srv.URL)
	if result.Passed {
		t.Fatal("expected failure for unhealthy endpoint")
	}
}

func TestCheckEndpoint_MissingURL(t *testing.T) {
	result := CheckEndpoint(context.Background(), "Remote runner", " ")
	if result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckAPIKey(t *testing.T) {
	if r := CheckAPIKey("Hosted", "", false); r.Passed {
		t.Fatal("required key should fail when empty")
	}
	if r := CheckAPIKey("Caption", "", true); !r.Passed {
		t.Fatal("optional key should pass when empty")
	}
	if r := CheckAPIKey("Hosted", "k", false); !r.Passed {
		t.Fatal("present key should pass")
	}
}

func TestCheckBinariesOptionalMissingPasses(t *testing.T) {
	results := CheckBinaries([]deps.Requirement{
		{Name: "gltfpack", Command: "clearly-not-present-binary", Optional: true, Description: "optimizer"},
		{Name: "required", Command: "clearly-not-present-binary"},
	})
	if !results[0].Passed || !strings.Contains(results[0].Detail, "optional") {
		t.Fatalf("unexpected optional result %+v", results[0])
	}
	if results[1].Passed {
		t.Fatal("required missing binary should fail")
	}
}

func TestCheckJobStoreSkipsLockedStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	result := CheckJobStore(context.Background(), cfg)
	if !result.Passed || !strings.Contains(result.Detail, "0 jobs") {
		t.Fatalf("expected empty store pass, got %+v", result)
	}

	lock := flock.New(cfg.DaemonLockPath())
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("take lock: %v", err)
	}
	defer lock.Unlock()

	result = CheckJobStore(context.Background(), cfg)
	if !result.Passed || !strings.Contains(result.Detail, "running holod") {
		t.Fatalf("expected locked store to be skipped, got %+v", result)
	}
}

func TestRunAllLocalDefaults(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	results := RunAll(context.Background(), cfg)
	if Failed(results) {
		t.Fatalf("expected all checks to pass, got %+v", results)
	}
	names := map[string]bool{}
	for _, r := range results {
		names[r.Name] = true
	}
	for _, want := range []string{"Data directory", "Job store", "Blob store", "Caption provider", "gltfpack"} {
		if !names[want] {
			t.Fatalf("missing check %q in %+v", want, results)
		}
	}
	if names["Remote runner"] || names["Hosted provider"] {
		t.Fatal("local runner should not check remote or hosted providers")
	}
}

func TestRunAllHostedRequiresKey(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRunner(config.RunnerHosted))
	cfg.Hosted.APIKey = ""

	if !Failed(RunAll(context.Background(), cfg)) {
		t.Fatal("expected hosted runner without key to fail")
	}
}
