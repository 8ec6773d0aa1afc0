// Package daemonrun hosts the holod process runtime: logging, store wiring,
// signal handling, and the pid file.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"holo/internal/blob"
	"holo/internal/config"
	"holo/internal/daemon"
	"holo/internal/deps"
	"holo/internal/logging"
	"holo/internal/logs"
	"holo/internal/pipeline/backends"
	"holo/internal/queueaccess"
	"holo/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Version     string
}

// Run starts holod and blocks until ctx is cancelled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(logger, cfg)

	store, err := queueaccess.Open(cfg)
	if err != nil {
		logger.Error("open job store",
			logging.Error(err),
			logging.Event("job_store_open_failed"),
			logging.Hint("check store.backend and that no other holod is running"),
		)
		return err
	}

	blobs, err := blob.Open(signalCtx, cfg)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("open blob store: %w", err)
	}

	registry, err := backends.New(signalCtx, cfg, blobs, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("build stage runners: %w", err)
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	manager := workflow.NewManager(cfg, store, blobs, registry, logger, workflow.WithMetricsRegisterer(metrics))

	daemonOpts := daemon.Options{Version: opts.Version, Gatherer: metrics}
	// A remote-mode daemon would only forward sidecar requests to itself.
	if cfg.Pipeline.Runner != config.RunnerRemote {
		daemonOpts.Sidecar = registry
	}
	d, err := daemon.New(cfg, store, blobs, manager, logger, daemonOpts)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.Event("daemon_start_failed"),
			logging.Hint("check configuration, the API bind address, and the daemon lock"),
		)
		return err
	}

	pidPath := cfg.DaemonPIDPath()
	if err := writePIDFile(pidPath); err != nil {
		logging.WarnWithContext(logger, "write pid file", "pid_file_failed",
			logging.Error(err),
			logging.Hint("check permissions on "+cfg.Paths.DataDir),
			logging.Impact("holo status cannot report the daemon pid"),
		)
	} else {
		defer os.Remove(pidPath)
	}

	<-signalCtx.Done()
	logger.Info("holod shutting down")
	return nil
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if strings.TrimSpace(opts.LogLevel) == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logPath := logs.DaemonLogPath(cfg)
	return logging.New(logging.Options{
		Level:   level,
		Format:  cfg.Logging.Format,
		Outputs: []string{"stdout", logPath},
		Source:  opts.Development,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPID returns the pid recorded by a running holod, or 0.
func ReadPID(cfg *config.Config) int {
	data, err := os.ReadFile(cfg.DaemonPIDPath())
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.Event("dependency_snapshot"),
		logging.String("runner", cfg.Pipeline.Runner),
		logging.String("store", queueaccess.Describe(cfg)),
		logging.String("blob_backend", cfg.Blob.Backend),
		logging.Bool("hosted_key_present", strings.TrimSpace(cfg.Hosted.APIKey) != ""),
		logging.Bool("caption_key_present", strings.TrimSpace(cfg.Caption.APIKey) != ""),
		logging.Bool("api_token_set", strings.TrimSpace(cfg.API.Token) != ""),
	}
	for _, status := range deps.CheckBinaries(deps.Pipeline(cfg)) {
		attrs = append(attrs, logging.Bool(status.Name+"_available", status.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
