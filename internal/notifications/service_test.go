package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"holo/internal/config"
	"holo/internal/notifications"
)

type captured struct {
	title    string
	body     string
	tags     string
	priority string
}

func ntfyServer(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), got...)
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobFailed(context.Background(), "job-1", "cutout: boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("expected nil-config notifier to be a noop, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	srv, requests := ntfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.OnQueueDrained = true
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.NotifyJobDone(ctx, "job-1", "jobs/job-1/result.glb", 1500*time.Millisecond); err != nil {
		t.Fatalf("NotifyJobDone: %v", err)
	}
	if err := svc.NotifyJobFailed(ctx, "job-2", "depth: model unavailable"); err != nil {
		t.Fatalf("NotifyJobFailed: %v", err)
	}
	if err := svc.NotifyQueueDrained(ctx, 3, 1, time.Minute); err != nil {
		t.Fatalf("NotifyQueueDrained: %v", err)
	}

	got := requests()
	if len(got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(got))
	}
	if got[0].title != "holo - Bake Complete" || got[0].body != "Bake job-1 finished in 2s\nAsset: jobs/job-1/result.glb" {
		t.Fatalf("unexpected done payload %+v", got[0])
	}
	if got[0].tags != "holo,bake,done" || got[0].priority != "" {
		t.Fatalf("unexpected done headers %+v", got[0])
	}
	if got[1].body != "Bake job-2 failed: depth: model unavailable" || got[1].priority != "high" {
		t.Fatalf("unexpected failure payload %+v", got[1])
	}
	if got[2].title != "holo - Queue Drained (with errors)" || got[2].body != "3 jobs processed, 1 failed in 1m0s" {
		t.Fatalf("unexpected drain payload %+v", got[2])
	}
}

func TestNtfyServiceRespectsEventToggles(t *testing.T) {
	srv, requests := ntfyServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.OnDone = false
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyJobDone(context.Background(), "job-1", "", time.Second); err != nil {
		t.Fatalf("NotifyJobDone: %v", err)
	}
	if err := svc.NotifyQueueDrained(context.Background(), 1, 0, time.Second); err != nil {
		t.Fatalf("NotifyQueueDrained: %v", err)
	}
	if n := len(requests()); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestNtfyServiceSurfacesHTTPErrors(t *testing.T) {
	srv, _ := ntfyServer(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
