package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"holo/internal/blob"
	"holo/internal/config"
	"holo/internal/queue"
	"holo/internal/queueaccess"
)

// MustOpenStore opens the configured queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) queue.Store {
	t.Helper()

	store, err := queueaccess.Open(cfg)
	if err != nil {
		t.Fatalf("queueaccess.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenBlob opens the configured blob store.
func MustOpenBlob(t testing.TB, cfg *config.Config) blob.Store {
	t.Helper()

	store, err := blob.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("blob.Open: %v", err)
	}
	return store
}

// NewJob stores image as a job input and enqueues a job with specJSON.
// An empty specJSON stores the canonical default spec.
func NewJob(t testing.TB, store queue.Store, blobs blob.Store, image []byte, specJSON string) *queue.Job {
	t.Helper()

	if specJSON == "" {
		specJSON = DefaultSpecJSON(t)
	}
	id := uuid.NewString()
	key := blob.InputKey(id, "png")
	if _, err := blob.PutBytes(context.Background(), blobs, key, image); err != nil {
		t.Fatalf("put input: %v", err)
	}
	job := &queue.Job{ID: id, InputKey: key, SpecJSON: specJSON}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}
