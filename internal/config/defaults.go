package config

const (
	defaultConfigPath         = "~/.config/holo/config.toml"
	defaultDataDir            = "~/.local/share/holo"
	defaultAPIBind            = "127.0.0.1:8787"
	defaultMaxUploadMB        = 25
	defaultCreateRate         = 60
	defaultRemoteTimeout      = 300
	defaultGltfpackBinary     = "gltfpack"
	defaultHostedRPM          = 30
	defaultHostedTimeout      = 120
	defaultCaptionRPM         = 30
	defaultCaptionTimeout     = 60
	defaultWorkers            = 1
	defaultQueuePollInterval  = 2
	defaultErrorRetryInterval = 10
	defaultLeaseSeconds       = 120
	defaultHeartbeatInterval  = 15
	defaultReclaimSchedule    = "@every 1m"
	defaultWaitIntervalMs     = 800
	defaultNtfyTimeout        = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Store backends.
const (
	StoreBackendSQLite = "sqlite"
	StoreBackendBadger = "badger"
)

// Blob backends.
const (
	BlobBackendLocal = "local"
	BlobBackendS3    = "s3"
)

// Pipeline runner modes.
const (
	RunnerLocal  = "local"
	RunnerHosted = "hosted"
	RunnerRemote = "remote"
	RunnerAuto   = "auto"
)

// Default returns a Config populated with repository defaults. Paths derived
// from the data directory are filled in by normalize.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		API: API{
			Bind:                defaultAPIBind,
			MaxUploadMB:         defaultMaxUploadMB,
			CreateRatePerMinute: defaultCreateRate,
			CORSOrigins:         []string{"*"},
		},
		Store: Store{
			Backend: StoreBackendSQLite,
		},
		Blob: Blob{
			Backend: BlobBackendLocal,
		},
		Pipeline: Pipeline{
			Runner:               RunnerLocal,
			RemoteTimeoutSeconds: defaultRemoteTimeout,
			GltfpackBinary:       defaultGltfpackBinary,
		},
		Hosted: Hosted{
			RequestsPerMinute: defaultHostedRPM,
			TimeoutSeconds:    defaultHostedTimeout,
		},
		Caption: Caption{
			RequestsPerMinute: defaultCaptionRPM,
			TimeoutSeconds:    defaultCaptionTimeout,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			LeaseSeconds:       defaultLeaseSeconds,
			HeartbeatInterval:  defaultHeartbeatInterval,
			ReclaimSchedule:    defaultReclaimSchedule,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			OnDone:         true,
			OnError:        true,
		},
		Client: Client{
			RecentCachePath: defaultRecentCachePath(),
			WaitIntervalMs:  defaultWaitIntervalMs,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
