package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"holo/internal/api"
	"holo/internal/blob"
	"holo/internal/config"
	"holo/internal/logging"
	"holo/internal/pipeline"
	"holo/internal/queue"
	"holo/internal/queueaccess"
	"holo/internal/workflow"
)

// Options carries optional daemon collaborators.
type Options struct {
	Version string
	// Sidecar, when set, is served at the remote runner endpoint so another
	// daemon can use this one as its stage runner.
	Sidecar *pipeline.Registry
	// Gatherer backs /metrics. Defaults to the global prometheus registry.
	Gatherer prometheus.Gatherer
}

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    queue.Store
	blobs    blob.Store
	workflow *workflow.Manager
	jobs     *api.JobService
	server   *apiServer
	version  string

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store queue.Store, blobs blob.Store, wf *workflow.Manager, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || store == nil || blobs == nil || wf == nil {
		return nil, errors.New("daemon requires config, job store, blob store, and workflow manager")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		blobs:    blobs,
		workflow: wf,
		version:  opts.Version,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.jobs = api.NewJobService(store, blobs, api.JobServiceOptions{
		ResultBaseURL: cfg.ResultBaseURL(),
		OnCreate:      wf.Notify,
	})
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	d.server = newAPIServer(cfg, d, apiDeps{
		jobs:     d.jobs,
		watcher:  wf,
		sidecar:  opts.Sidecar,
		gatherer: gatherer,
	}, logger)
	return d, nil
}

// Start acquires the daemon lock, launches the workflow manager, and opens the API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another holod instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.server.start(runCtx); err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.cancel = cancel
	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("holod started",
		logging.String("lock", d.lockPath),
		logging.String("bind", d.Addr()),
		logging.String("store", queueaccess.Describe(d.cfg)),
		logging.String("runner", d.cfg.Pipeline.Runner),
	)
	return nil
}

// Stop closes the listener, stops background processing, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.server.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.Event("daemon_lock_release_failed"),
			logging.Hint("remove "+d.lockPath+" if no holod is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("holod stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Handler returns the HTTP handler serving the Job API.
func (d *Daemon) Handler() http.Handler {
	return d.server.handler
}

// Addr returns the bound listener address, or the configured bind before Start.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Jobs exposes the job service backing the API.
func (d *Daemon) Jobs() *api.JobService {
	return d.jobs
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	summary := d.workflow.Status(ctx)
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Version:      d.version,
		Bind:         d.Addr(),
		StoreBackend: d.cfg.Store.Backend,
		StorePath:    queueaccess.Describe(d.cfg),
		BlobBackend:  d.cfg.Blob.Backend,
		Runner:       d.cfg.Pipeline.Runner,
		LockFilePath: d.lockPath,
		Workflow:     api.FromStatusSummary(summary, d.cfg.ResultBaseURL()),
	}
	if !d.startedAt.IsZero() {
		status.StartedAt = d.startedAt.Format(time.RFC3339)
	}
	return status
}
