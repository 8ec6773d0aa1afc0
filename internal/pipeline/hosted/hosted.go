// Package hosted runs the cutout, views, and depth stages against a hosted
// model provider. Provider output is normalized into the same artifacts the
// local runner writes, so downstream stages cannot tell the backends apart.
package hosted

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"holo/internal/blob"
	"holo/internal/imaging"
	"holo/internal/logging"
	"holo/internal/pipeline"
	"holo/internal/stage"
)

// Options configures the hosted runner.
type Options struct {
	Providers         []Provider
	RequestsPerMinute int
	Timeout           time.Duration
	Logger            *slog.Logger
}

// Runner serves cutout, views, and depth through hosted providers.
type Runner struct {
	store     blob.Store
	providers map[string]Provider
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *slog.Logger
}

// Stages lists the stages a hosted runner can serve.
var Stages = []pipeline.StageName{pipeline.StageCutout, pipeline.StageViews, pipeline.StageDepth}

// New builds a hosted runner. A zero RequestsPerMinute disables limiting.
func New(store blob.Store, opts Options) *Runner {
	providers := make(map[string]Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[p.Name()] = p
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return &Runner{
		store:     store,
		providers: providers,
		limiter:   limiter,
		timeout:   opts.Timeout,
		logger:    logging.NewComponentLogger(opts.Logger, "hosted-runner"),
	}
}

// Run dispatches req to the stage implementation.
func (r *Runner) Run(ctx context.Context, req pipeline.StageRequest) (pipeline.StageResult, error) {
	providerName := pipeline.ConfigString(req.Config, "provider", "")
	model := pipeline.ConfigString(req.Config, "model", "")
	if providerName == "" || providerName == "local" || model == "" {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "hosted runner requires provider and model")
	}
	provider, ok := r.providers[aliasProvider(providerName)]
	if !ok {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "hosted provider %q is not configured", providerName)
	}
	call := &caller{runner: r, provider: provider, model: model}

	var (
		meta map[string]any
		err  error
	)
	switch req.Stage {
	case pipeline.StageCutout:
		meta, err = r.cutout(ctx, call, req)
	case pipeline.StageViews:
		meta, err = r.views(ctx, call, req)
	case pipeline.StageDepth:
		meta, err = r.depth(ctx, call, req)
	default:
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "hosted runner does not support this stage")
	}
	if err != nil {
		return pipeline.StageResult{}, pipeline.AsStageError(req.Stage, err)
	}
	meta["runner"] = "hosted"
	meta["provider"] = provider.Name()
	meta["model"] = model
	meta["calls"] = call.calls.Load()
	return pipeline.StageResult{Output: req.Output, Metadata: meta}, nil
}

// HealthCheck reports whether any provider is configured.
func (r *Runner) HealthCheck(context.Context) stage.Health {
	if len(r.providers) == 0 {
		return stage.Unhealthy("hosted", "no hosted provider configured (set GEMINI_API_KEY)")
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return stage.Health{Name: "hosted", Ready: true, Detail: strings.Join(names, ",")}
}

func aliasProvider(name string) string {
	switch name {
	case "google", "gemini", "genai":
		return "gemini"
	}
	return name
}

type caller struct {
	runner   *Runner
	provider Provider
	model    string
	calls    atomic.Int64
}

// generate waits for the rate limiter, calls the provider under the
// configured timeout, and normalizes the output.
func (c *caller) generate(ctx context.Context, prompt string, img image.Image) (Decoded, error) {
	var input Payload
	if img != nil {
		data, err := imaging.EncodePNG(img)
		if err != nil {
			return Decoded{}, err
		}
		input = Payload{MIMEType: "image/png", Data: data}
	}
	if err := c.runner.limiter.Wait(ctx); err != nil {
		return Decoded{}, err
	}
	callCtx := ctx
	if c.runner.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.runner.timeout)
		defer cancel()
	}
	c.calls.Add(1)
	start := time.Now()
	out, err := c.provider.Generate(callCtx, GenerateRequest{Model: c.model, Prompt: prompt, Image: input})
	c.runner.logger.Debug("provider call",
		logging.String("provider", c.provider.Name()),
		logging.String("model", c.model),
		logging.Duration("elapsed", time.Since(start)),
		logging.Bool("ok", err == nil))
	if err != nil {
		return Decoded{}, fmt.Errorf("%s: %w", c.provider.Name(), err)
	}
	return Normalize(out)
}
