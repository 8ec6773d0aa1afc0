package stage

import (
	"errors"
	"testing"

	"holo/internal/services"
)

func TestParseBakeSpec_Valid(t *testing.T) {
	spec, err := ParseBakeSpec(`{"views":{"count":3}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Views.Count != 3 {
		t.Fatalf("unexpected view count: %d", spec.Views.Count)
	}
}

func TestParseBakeSpec_Empty(t *testing.T) {
	spec, err := ParseBakeSpec("")
	if err != nil {
		t.Fatalf("unexpected error for empty input: %v", err)
	}
	if spec.Version == "" {
		t.Fatalf("expected default spec for empty input")
	}
}

func TestParseBakeSpec_Invalid(t *testing.T) {
	_, err := ParseBakeSpec("{invalid json")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
}

func TestAllReady(t *testing.T) {
	if !AllReady([]Health{Healthy("local")}) {
		t.Fatal("expected ready")
	}
	if AllReady([]Health{Healthy("local"), Unhealthy("remote", "connection refused")}) {
		t.Fatal("expected not ready")
	}
}
