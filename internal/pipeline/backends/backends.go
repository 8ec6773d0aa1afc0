// Package backends assembles the stage registry from configuration.
package backends

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"holo/internal/blob"
	"holo/internal/caption"
	"holo/internal/config"
	"holo/internal/logging"
	"holo/internal/pipeline"
	"holo/internal/pipeline/hosted"
	"holo/internal/pipeline/local"
	"holo/internal/pipeline/remote"
	"holo/internal/services"
)

// Deps carries everything Build needs. Providers and HTTPClient are optional
// overrides; when Providers is nil a Gemini provider is created from the
// hosted API key.
type Deps struct {
	Config     *config.Config
	Store      blob.Store
	Logger     *slog.Logger
	Providers  []hosted.Provider
	HTTPClient *http.Client
}

// New builds the registry for cfg.
func New(ctx context.Context, cfg *config.Config, store blob.Store, logger *slog.Logger) (*pipeline.Registry, error) {
	return Build(ctx, Deps{Config: cfg, Store: store, Logger: logger})
}

// Build registers a runner for every mesh stage plus caption.
//
//   - local: every mesh stage runs in process.
//   - hosted: cutout, views, and depth go to the hosted provider; geometry
//     stages stay local.
//   - remote: every mesh stage is posted to the sidecar.
//   - auto: each request is routed by its provider field.
func Build(ctx context.Context, deps Deps) (*pipeline.Registry, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build registry", "config is required", nil)
	}
	if deps.Store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build registry", "blob store is required", nil)
	}
	logger := logging.NewComponentLogger(deps.Logger, "backends")

	localRunner := local.New(deps.Store, local.Options{
		GltfpackBinary: cfg.Pipeline.GltfpackBinary,
		Logger:         deps.Logger,
	})

	registry := pipeline.NewRegistry()
	mode := cfg.Pipeline.Runner
	switch mode {
	case config.RunnerLocal:
		registerAll(registry, pipeline.MeshStages, localRunner)
	case config.RunnerHosted, config.RunnerAuto:
		hostedRunner, err := newHosted(ctx, deps)
		if err != nil {
			return nil, err
		}
		registerAll(registry, pipeline.MeshStages, localRunner)
		if mode == config.RunnerHosted {
			registerAll(registry, hosted.Stages, hostedRunner)
		} else {
			registerAll(registry, hosted.Stages, &Auto{Local: localRunner, Hosted: hostedRunner})
		}
	case config.RunnerRemote:
		remoteRunner := remote.New(cfg.Pipeline.RemoteURL, remote.Options{
			Timeout:    time.Duration(cfg.Pipeline.RemoteTimeoutSeconds) * time.Second,
			HTTPClient: deps.HTTPClient,
			Logger:     deps.Logger,
		})
		registerAll(registry, pipeline.MeshStages, remoteRunner)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build registry",
			fmt.Sprintf("unknown runner %q", mode), nil)
	}

	registry.Register(pipeline.StageCaption, caption.New(deps.Store, caption.Options{
		APIKey:            cfg.Caption.APIKey,
		BaseURL:           cfg.Caption.BaseURL,
		RequestsPerMinute: cfg.Caption.RequestsPerMinute,
		Timeout:           time.Duration(cfg.Caption.TimeoutSeconds) * time.Second,
		HTTPClient:        deps.HTTPClient,
		Logger:            deps.Logger,
	}))

	logger.Info("stage runners configured",
		logging.String("runner", mode),
		logging.Int("stages", len(registry.Stages())),
		logging.Event("runners_configured"))
	return registry, nil
}

func newHosted(ctx context.Context, deps Deps) (*hosted.Runner, error) {
	cfg := deps.Config
	providers := deps.Providers
	if providers == nil && cfg.Hosted.APIKey != "" {
		gemini, err := hosted.NewGemini(ctx, cfg.Hosted.APIKey, cfg.Hosted.BaseURL)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "hosted provider", "initialize gemini", err)
		}
		providers = append(providers, gemini)
	}
	if len(providers) == 0 && cfg.Pipeline.Runner == config.RunnerHosted {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "hosted provider",
			"runner is hosted but no provider is configured (set GEMINI_API_KEY)", nil)
	}
	return hosted.New(deps.Store, hosted.Options{
		Providers:         providers,
		RequestsPerMinute: cfg.Hosted.RequestsPerMinute,
		Timeout:           time.Duration(cfg.Hosted.TimeoutSeconds) * time.Second,
		Logger:            deps.Logger,
	}), nil
}

func registerAll(registry *pipeline.Registry, stages []pipeline.StageName, runner pipeline.Runner) {
	for _, name := range stages {
		registry.Register(name, runner)
	}
}
