package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateBlob(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	parsed, err := url.ParseRequestURI(c.Notifications.NtfyTopic)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be a full topic URL such as https://ntfy.sh/holo, got %q", c.Notifications.NtfyTopic)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.MaxUploadMB < 0 {
		return errors.New("api.max_upload_mb must be positive")
	}
	if c.API.CreateRatePerMinute < 0 {
		return errors.New("api.create_rate_per_minute must be >= 0 (0 disables the limit)")
	}
	if c.API.PublicBaseURL != "" {
		if _, err := url.ParseRequestURI(c.API.PublicBaseURL); err != nil {
			return fmt.Errorf("api.public_base_url: %w", err)
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case StoreBackendSQLite, StoreBackendBadger:
		return nil
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", StoreBackendSQLite, StoreBackendBadger, c.Store.Backend)
	}
}

func (c *Config) validateBlob() error {
	switch c.Blob.Backend {
	case BlobBackendLocal:
		return nil
	case BlobBackendS3:
		if c.Blob.S3Bucket == "" {
			return errors.New("blob.s3_bucket must be set when blob.backend is \"s3\"")
		}
		return nil
	default:
		return fmt.Errorf("blob.backend must be %q or %q, got %q", BlobBackendLocal, BlobBackendS3, c.Blob.Backend)
	}
}

func (c *Config) validatePipeline() error {
	switch c.Pipeline.Runner {
	case RunnerLocal, RunnerHosted, RunnerAuto:
	case RunnerRemote:
		if c.Pipeline.RemoteURL == "" {
			return errors.New("pipeline.remote_url must be set when pipeline.runner is \"remote\" (or set HOLO_PIPELINE_REMOTE_URL)")
		}
	default:
		return fmt.Errorf("pipeline.runner must be one of local, hosted, remote, auto; got %q", c.Pipeline.Runner)
	}
	if c.Pipeline.RemoteURL != "" {
		parsed, err := url.Parse(c.Pipeline.RemoteURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("pipeline.remote_url must be an absolute URL, got %q", c.Pipeline.RemoteURL)
		}
	}
	if c.Pipeline.RemoteTimeoutSeconds <= 0 {
		return errors.New("pipeline.remote_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateProviders() error {
	if c.Hosted.RequestsPerMinute < 0 {
		return errors.New("hosted.requests_per_minute must be >= 0")
	}
	if c.Hosted.TimeoutSeconds <= 0 {
		return errors.New("hosted.timeout_seconds must be positive")
	}
	if c.Caption.RequestsPerMinute < 0 {
		return errors.New("caption.requests_per_minute must be >= 0")
	}
	if c.Caption.TimeoutSeconds <= 0 {
		return errors.New("caption.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	if c.Workflow.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.LeaseSeconds <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.lease_seconds must be greater than workflow.heartbeat_interval")
	}
	if strings.TrimSpace(c.Workflow.ReclaimSchedule) != "" {
		if _, err := cron.ParseStandard(c.Workflow.ReclaimSchedule); err != nil {
			return fmt.Errorf("workflow.reclaim_schedule: %w", err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error; got %q", c.Logging.Level)
	}
	return nil
}
