package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnvOverrides()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	if err := c.normalizeStore(); err != nil {
		return err
	}
	if err := c.normalizeBlob(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeProviders()
	c.normalizeNotifications()
	if err := c.normalizeClient(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

// applyEnvOverrides lets HOLO_* variables take precedence over the file so
// container deployments can run without a config file.
func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"HOLO_DATA_DIR", &c.Paths.DataDir},
		{"HOLO_API_ADDR", &c.API.Bind},
		{"HOLO_API_TOKEN", &c.API.Token},
		{"HOLO_PUBLIC_BASE_URL", &c.API.PublicBaseURL},
		{"HOLO_STORE_BACKEND", &c.Store.Backend},
		{"HOLO_BLOB_BACKEND", &c.Blob.Backend},
		{"HOLO_S3_BUCKET", &c.Blob.S3Bucket},
		{"HOLO_S3_ENDPOINT", &c.Blob.S3Endpoint},
		{"HOLO_PIPELINE_RUNNER", &c.Pipeline.Runner},
		{"HOLO_PIPELINE_REMOTE_URL", &c.Pipeline.RemoteURL},
		{"HOLO_SERVER_URL", &c.Client.URL},
		{"HOLO_NTFY_TOPIC", &c.Notifications.NtfyTopic},
		{"HOLO_LOG_LEVEL", &c.Logging.Level},
	}
	for _, o := range overrides {
		if value, ok := os.LookupEnv(o.env); ok && strings.TrimSpace(value) != "" {
			*o.target = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	c.API.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.API.PublicBaseURL), "/")
	if c.API.MaxUploadMB == 0 {
		c.API.MaxUploadMB = defaultMaxUploadMB
	}
	origins := c.API.CORSOrigins[:0]
	for _, origin := range c.API.CORSOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.API.CORSOrigins = origins
}

func (c *Config) normalizeStore() error {
	var err error
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = StoreBackendSQLite
	}
	if strings.TrimSpace(c.Store.SQLitePath) == "" {
		c.Store.SQLitePath = filepath.Join(c.Paths.DataDir, "holo.db")
	}
	if c.Store.SQLitePath, err = expandPath(c.Store.SQLitePath); err != nil {
		return fmt.Errorf("store.sqlite_path: %w", err)
	}
	if strings.TrimSpace(c.Store.BadgerDir) == "" {
		c.Store.BadgerDir = filepath.Join(c.Paths.DataDir, "badger")
	}
	if c.Store.BadgerDir, err = expandPath(c.Store.BadgerDir); err != nil {
		return fmt.Errorf("store.badger_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBlob() error {
	var err error
	c.Blob.Backend = strings.ToLower(strings.TrimSpace(c.Blob.Backend))
	if c.Blob.Backend == "" {
		c.Blob.Backend = BlobBackendLocal
	}
	if strings.TrimSpace(c.Blob.LocalRoot) == "" {
		c.Blob.LocalRoot = filepath.Join(c.Paths.DataDir, "blobs")
	}
	if c.Blob.LocalRoot, err = expandPath(c.Blob.LocalRoot); err != nil {
		return fmt.Errorf("blob.local_root: %w", err)
	}
	c.Blob.S3Bucket = strings.TrimSpace(c.Blob.S3Bucket)
	c.Blob.S3Prefix = strings.Trim(strings.TrimSpace(c.Blob.S3Prefix), "/")
	c.Blob.S3Endpoint = strings.TrimSpace(c.Blob.S3Endpoint)
	c.Blob.S3Region = strings.TrimSpace(c.Blob.S3Region)
	if c.Blob.S3Region == "" {
		if value, ok := os.LookupEnv("AWS_REGION"); ok {
			c.Blob.S3Region = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Runner = strings.ToLower(strings.TrimSpace(c.Pipeline.Runner))
	if c.Pipeline.Runner == "" {
		c.Pipeline.Runner = RunnerLocal
	}
	c.Pipeline.RemoteURL = strings.TrimRight(strings.TrimSpace(c.Pipeline.RemoteURL), "/")
	c.Pipeline.GltfpackBinary = strings.TrimSpace(c.Pipeline.GltfpackBinary)
	if c.Pipeline.GltfpackBinary == "" {
		c.Pipeline.GltfpackBinary = defaultGltfpackBinary
	}
}

func (c *Config) normalizeProviders() {
	c.Hosted.APIKey = strings.TrimSpace(c.Hosted.APIKey)
	if c.Hosted.APIKey == "" {
		if value, ok := os.LookupEnv("GEMINI_API_KEY"); ok {
			c.Hosted.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("GOOGLE_API_KEY"); ok {
			c.Hosted.APIKey = strings.TrimSpace(value)
		}
	}
	c.Hosted.BaseURL = strings.TrimSpace(c.Hosted.BaseURL)
	c.Caption.APIKey = strings.TrimSpace(c.Caption.APIKey)
	if c.Caption.APIKey == "" {
		if value, ok := os.LookupEnv("ANTHROPIC_API_KEY"); ok {
			c.Caption.APIKey = strings.TrimSpace(value)
		}
	}
	c.Caption.BaseURL = strings.TrimSpace(c.Caption.BaseURL)
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
}

func (c *Config) normalizeClient() error {
	var err error
	c.Client.URL = strings.TrimRight(strings.TrimSpace(c.Client.URL), "/")
	if strings.TrimSpace(c.Client.RecentCachePath) == "" {
		c.Client.RecentCachePath = defaultRecentCachePath()
	}
	if c.Client.RecentCachePath, err = expandPath(c.Client.RecentCachePath); err != nil {
		return fmt.Errorf("client.recent_cache_path: %w", err)
	}
	if c.Client.WaitIntervalMs <= 0 {
		c.Client.WaitIntervalMs = defaultWaitIntervalMs
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
