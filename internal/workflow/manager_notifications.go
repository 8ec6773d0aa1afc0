package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"holo/internal/logging"
	"holo/internal/queue"
)

// jobNotifier fans out job ids whose record changed. Slow subscribers miss
// updates rather than block workers; they re-read the job anyway.
type jobNotifier struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}

func newJobNotifier() *jobNotifier {
	return &jobNotifier{subs: make(map[chan string]struct{})}
}

func (n *jobNotifier) subscribe() (<-chan string, func()) {
	ch := make(chan string, 16)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, ch)
			n.mu.Unlock()
		})
	}
}

func (n *jobNotifier) publish(jobID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- jobID:
		default:
		}
	}
}

// Subscribe returns a channel of job ids updated by this manager and a
// function that ends the subscription.
func (m *Manager) Subscribe() (<-chan string, func()) {
	return m.notifier.subscribe()
}

// Notify tells subscribers that jobID changed outside the workers, for
// example when the API creates a job.
func (m *Manager) Notify(jobID string) {
	m.notifier.publish(jobID)
}

type queueActivity struct {
	active    bool
	started   time.Time
	processed int
	failed    int
}

func (m *Manager) onJobStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activity.active {
		return
	}
	m.activity = queueActivity{active: true, started: time.Now()}
	m.logger.Info("queue processing started", logging.Event("queue_started"))
}

// checkQueueDrained logs once when the last queued or running job finishes.
func (m *Manager) checkQueueDrained(ctx context.Context, failed bool) {
	m.mu.Lock()
	m.activity.processed++
	if failed {
		m.activity.failed++
	}
	m.mu.Unlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Debug("queue stats unavailable for drain check", logging.Error(err))
		return
	}
	if stats[queue.StatusQueued]+stats[queue.StatusRunning] > 0 {
		return
	}
	m.mu.Lock()
	activity := m.activity
	m.activity = queueActivity{}
	m.mu.Unlock()
	if !activity.active {
		return
	}
	m.logger.Info("queue drained",
		logging.Int("processed", activity.processed),
		logging.Duration("elapsed", time.Since(activity.started)),
		logging.Int("done_total", stats[queue.StatusDone]),
		logging.Int("error_total", stats[queue.StatusError]),
		logging.Event("queue_drained"))
	m.alert(m.logger, "queue_drained", func(ctx context.Context) error {
		return m.alerts.NotifyQueueDrained(ctx, activity.processed, activity.failed, time.Since(activity.started))
	})
}

// alert delivers a notification off the worker goroutine. Delivery failures
// are logged and never affect the job.
func (m *Manager) alert(logger *slog.Logger, event string, send func(context.Context) error) {
	if m.alerts == nil {
		return
	}
	go func() {
		if err := send(context.Background()); err != nil {
			logging.WarnWithContext(logger, "notification failed", "notification_failed",
				logging.String("notification", event),
				logging.Error(err),
				logging.Hint("check notifications.ntfy_topic"))
		}
	}()
}
