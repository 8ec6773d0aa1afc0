package workflow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"holo/internal/blob"
	"holo/internal/config"
	"holo/internal/logging"
	"holo/internal/notifications"
	"holo/internal/pipeline"
	"holo/internal/queue"
)

// Manager coordinates bake job processing.
type Manager struct {
	cfg      *config.Config
	store    queue.Store
	blobs    blob.Store
	registry *pipeline.Registry
	logger   *slog.Logger
	metrics  *Metrics

	timings   timings
	heartbeat *HeartbeatMonitor
	notifier  *jobNotifier
	alerts    notifications.Service
	reclaimer *cron.Cron
	now       func() time.Time

	mu      sync.RWMutex
	running bool
	cancel  func()
	wg      sync.WaitGroup
	lastErr error
	lastJob *queue.Job
	busy    int

	activity queueActivity
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	registerer prometheus.Registerer
	clock      func() time.Time
	alerts     notifications.Service
}

// WithMetricsRegisterer registers the manager's metrics on reg instead of a
// private registry.
func WithMetricsRegisterer(reg prometheus.Registerer) ManagerOption {
	return func(o *managerOptions) {
		o.registerer = reg
	}
}

// WithNotifications sends job outcome alerts through svc instead of the
// service built from the [notifications] config section.
func WithNotifications(svc notifications.Service) ManagerOption {
	return func(o *managerOptions) {
		o.alerts = svc
	}
}

// WithClock overrides time.Now for lease sweeps (used in tests).
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		o.clock = now
	}
}

// NewManager constructs a workflow manager over the job store, blob store,
// and stage registry.
func NewManager(cfg *config.Config, store queue.Store, blobs blob.Store, registry *pipeline.Registry, logger *slog.Logger, opts ...ManagerOption) *Manager {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.registerer == nil {
		options.registerer = prometheus.NewRegistry()
	}
	if options.clock == nil {
		options.clock = time.Now
	}
	if options.alerts == nil {
		options.alerts = notifications.NewService(cfg)
	}
	base := logging.NewComponentLogger(logger, "workflow")
	t := timingsFrom(cfg)
	return &Manager{
		cfg:       cfg,
		store:     store,
		blobs:     blobs,
		registry:  registry,
		logger:    base,
		metrics:   NewMetrics(options.registerer),
		timings:   t,
		heartbeat: NewHeartbeatMonitor(store, base, t.heartbeat, t.lease),
		notifier:  newJobNotifier(),
		alerts:    options.alerts,
		now:       options.clock,
	}
}
