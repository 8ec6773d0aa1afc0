package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"holo/internal/config"
)

const userAgent = "holo/0.1"

// Service defines the notification surface exposed to the workflow manager.
type Service interface {
	NotifyJobDone(ctx context.Context, jobID, outputKey string, elapsed time.Duration) error
	NotifyJobFailed(ctx context.Context, jobID, message string) error
	NotifyQueueDrained(ctx context.Context, processed, failed int, elapsed time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service when a topic is configured and a
// no-op otherwise.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		onDone:   cfg.Notifications.OnDone,
		onError:  cfg.Notifications.OnError,
		onDrain:  cfg.Notifications.OnQueueDrained,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	onDone   bool
	onError  bool
	onDrain  bool
}

func (n *ntfyService) NotifyJobDone(ctx context.Context, jobID, outputKey string, elapsed time.Duration) error {
	if !n.onDone {
		return nil
	}
	message := fmt.Sprintf("Bake %s finished in %s", jobID, roundDuration(elapsed))
	if outputKey = strings.TrimSpace(outputKey); outputKey != "" {
		message += "\nAsset: " + outputKey
	}
	return n.send(ctx, payload{
		title:   "holo - Bake Complete",
		message: message,
		tags:    []string{"holo", "bake", "done"},
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID, message string) error {
	if !n.onError {
		return nil
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = "unknown error"
	}
	return n.send(ctx, payload{
		title:    "holo - Bake Failed",
		message:  fmt.Sprintf("Bake %s failed: %s", jobID, message),
		tags:     []string{"holo", "bake", "error"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyQueueDrained(ctx context.Context, processed, failed int, elapsed time.Duration) error {
	if !n.onDrain {
		return nil
	}
	title := "holo - Queue Drained"
	message := fmt.Sprintf("%d jobs processed in %s", processed, roundDuration(elapsed))
	if failed > 0 {
		title = "holo - Queue Drained (with errors)"
		message = fmt.Sprintf("%d jobs processed, %d failed in %s", processed, failed, roundDuration(elapsed))
	}
	return n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"holo", "queue", "drained"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "holo - Test",
		message:  "Notification system test",
		tags:     []string{"holo", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func roundDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) NotifyJobDone(context.Context, string, string, time.Duration) error { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string) error              { return nil }
func (noopService) NotifyQueueDrained(context.Context, int, int, time.Duration) error  { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
