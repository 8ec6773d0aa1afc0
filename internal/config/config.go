package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains the Job API listener settings.
type API struct {
	Bind                string   `toml:"bind"`
	Token               string   `toml:"token"`
	PublicBaseURL       string   `toml:"public_base_url"`
	MaxUploadMB         int      `toml:"max_upload_mb"`
	CreateRatePerMinute int      `toml:"create_rate_per_minute"`
	CORSOrigins         []string `toml:"cors_origins"`
}

// Store selects the job store backend.
type Store struct {
	Backend    string `toml:"backend"`
	SQLitePath string `toml:"sqlite_path"`
	BadgerDir  string `toml:"badger_dir"`
}

// Blob selects the artifact store backend.
type Blob struct {
	Backend     string `toml:"backend"`
	LocalRoot   string `toml:"local_root"`
	S3Bucket    string `toml:"s3_bucket"`
	S3Prefix    string `toml:"s3_prefix"`
	S3Region    string `toml:"s3_region"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3PathStyle bool   `toml:"s3_path_style"`
}

// Pipeline selects stage runners.
type Pipeline struct {
	Runner               string `toml:"runner"`
	RemoteURL            string `toml:"remote_url"`
	RemoteTimeoutSeconds int    `toml:"remote_timeout_seconds"`
	GltfpackBinary       string `toml:"gltfpack_binary"`
}

// Hosted contains credentials for the hosted inference provider.
type Hosted struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
}

// Caption contains credentials for the caption stage.
type Caption struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
}

// Workflow contains orchestrator timing and concurrency.
type Workflow struct {
	Workers            int    `toml:"workers"`
	QueuePollInterval  int    `toml:"queue_poll_interval"`
	ErrorRetryInterval int    `toml:"error_retry_interval"`
	LeaseSeconds       int    `toml:"lease_seconds"`
	HeartbeatInterval  int    `toml:"heartbeat_interval"`
	ReclaimSchedule    string `toml:"reclaim_schedule"`
}

// Notifications configures ntfy push alerts for finished jobs.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnDone         bool   `toml:"on_done"`
	OnError        bool   `toml:"on_error"`
	OnQueueDrained bool   `toml:"on_queue_drained"`
}

// Client contains settings used by the holo CLI.
type Client struct {
	URL             string `toml:"url"`
	RecentCachePath string `toml:"recent_cache_path"`
	WaitIntervalMs  int    `toml:"wait_interval_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for holo.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - API: Job API listener, auth token, public URL, upload limits
//   - Store: job store backend (sqlite or badger)
//   - Blob: artifact store backend (local filesystem or S3)
//   - Pipeline: stage runner selection and remote runner endpoint
//   - Hosted: hosted inference provider credentials
//   - Caption: caption provider credentials
//   - Workflow: orchestrator workers, polling, leases
//   - Notifications: ntfy alerts for finished jobs
//   - Client: CLI server URL and recent jobs cache
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	API      API      `toml:"api"`
	Store    Store    `toml:"store"`
	Blob     Blob     `toml:"blob"`
	Pipeline Pipeline `toml:"pipeline"`
	Hosted   Hosted   `toml:"hosted"`
	Caption  Caption  `toml:"caption"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Client        Client        `toml:"client"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file beside the config file or in the
// working directory is loaded first; variables already set in the environment win.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv(configDir string) error {
	candidates := []string{".env"}
	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, ".env"))
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load %s: %w", abs, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("holo.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Blob.Backend == BlobBackendLocal {
		dirs = append(dirs, c.Blob.LocalRoot)
	}
	if c.Store.Backend == StoreBackendBadger {
		dirs = append(dirs, c.Store.BadgerDir)
	} else {
		dirs = append(dirs, filepath.Dir(c.Store.SQLitePath))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DaemonLockPath returns the single-instance lock file location.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.DataDir, "holod.lock")
}

// DaemonPIDPath returns the pid file location.
func (c *Config) DaemonPIDPath() string {
	return filepath.Join(c.Paths.DataDir, "holod.pid")
}

// ClientURL returns the base URL the CLI should talk to.
func (c *Config) ClientURL() string {
	if url := strings.TrimSpace(c.Client.URL); url != "" {
		return url
	}
	bind := c.API.Bind
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind
}

// ResultBaseURL returns the prefix used when computing job result URLs.
func (c *Config) ResultBaseURL() string {
	if url := strings.TrimRight(strings.TrimSpace(c.API.PublicBaseURL), "/"); url != "" {
		return url
	}
	return strings.TrimRight(c.ClientURL(), "/")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultRecentCachePath() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "holo", "recent-jobs.json")
	}
	return "~/.cache/holo/recent-jobs.json"
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
