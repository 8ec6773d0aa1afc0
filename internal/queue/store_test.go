package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"holo/internal/queue"
	"holo/internal/queue/queuetest"
)

func TestSQLiteStoreContract(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Store {
		store, err := queue.Open(filepath.Join(t.TempDir(), "holo.db"))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return store
	})
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "holo.db")
	store, err := queue.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := store.CreateJob(ctx, &queue.Job{ID: "persisted", InputKey: "jobs/persisted/input.png", SpecJSON: "{}"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := queue.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Path() != path {
		t.Fatalf("unexpected path %q", reopened.Path())
	}
	job, err := reopened.GetJob(ctx, "persisted")
	if err != nil {
		t.Fatalf("GetJob after reopen: %v", err)
	}
	if job.Status != queue.StatusQueued {
		t.Fatalf("unexpected status %s", job.Status)
	}
}

func TestCreateJobRequiresID(t *testing.T) {
	store, err := queue.Open(filepath.Join(t.TempDir(), "holo.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	if err := store.CreateJob(context.Background(), &queue.Job{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := queue.ParseStatus(" Running "); err != nil || s != queue.StatusRunning {
		t.Fatalf("ParseStatus: %v %v", s, err)
	}
	if _, err := queue.ParseStatus("paused"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if !queue.StatusDone.IsTerminal() || queue.StatusQueued.IsTerminal() {
		t.Fatal("unexpected terminal classification")
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: 25, -3: 25, 10: 10, 100: 100, 500: 100}
	for in, want := range cases {
		if got := queue.NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestValidatePatchRejectsTerminal(t *testing.T) {
	job := &queue.Job{ID: "x", Status: queue.StatusDone, OutputKey: "k"}
	if err := queue.ValidatePatch(job, queue.ProgressPatch(0.5)); !errors.Is(err, queue.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestOpenRejectsUnknownSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holo.db")
	store, err := queue.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 7"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = raw.Close()

	if _, err := queue.Open(path); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
