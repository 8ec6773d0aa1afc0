package services_test

import (
	"context"
	"testing"

	"holo/internal/services"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := services.WithRequestID(
		services.WithWorker(
			services.WithStage(
				services.WithJobID(context.Background(), "job-42"), "depth"), "worker-1"), "req-123")

	lookups := []struct {
		name string
		get  func(context.Context) (string, bool)
		want string
	}{
		{"job", services.JobIDFromContext, "job-42"},
		{"stage", services.StageFromContext, "depth"},
		{"worker", services.WorkerFromContext, "worker-1"},
		{"request", services.RequestIDFromContext, "req-123"},
	}
	for _, l := range lookups {
		if got, ok := l.get(ctx); !ok || got != l.want {
			t.Errorf("%s: got %q %v, want %q", l.name, got, ok, l.want)
		}
		if _, ok := l.get(context.Background()); ok {
			t.Errorf("%s: expected nothing on a bare context", l.name)
		}
	}
}

func TestBlankValuesAreNotStored(t *testing.T) {
	ctx := services.WithJobID(services.WithStage(context.Background(), ""), "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage for blank value")
	}
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id for blank value")
	}
}
