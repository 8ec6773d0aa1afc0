// Package caption runs the optional caption stage: a short text description
// of the input image produced by Anthropic's Messages API. The caption is
// embedded in the exported asset and stored as work/caption.json.
package caption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"holo/internal/bakespec"
	"holo/internal/blob"
	"holo/internal/logging"
	"holo/internal/pipeline"
	"holo/internal/stage"
)

const (
	providerName     = "anthropic"
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 200
)

// Options configures the caption runner.
type Options struct {
	APIKey            string
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Runner serves the caption stage.
type Runner struct {
	store      blob.Store
	client     anthropic.Client
	configured bool
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     *slog.Logger
}

// Result is the caption stage output, written as caption.json.
type Result struct {
	Caption  string `json:"caption"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

// Usage reports token counts for the call.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// New builds a caption runner. Without an API key the runner still
// registers but every call fails and HealthCheck reports not ready.
func New(store blob.Store, opts Options) *Runner {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return &Runner{
		store:      store,
		client:     anthropic.NewClient(reqOpts...),
		configured: strings.TrimSpace(opts.APIKey) != "",
		limiter:    limiter,
		timeout:    opts.Timeout,
		logger:     logging.NewComponentLogger(opts.Logger, "caption"),
	}
}

// Run implements pipeline.Runner for the caption stage.
func (r *Runner) Run(ctx context.Context, req pipeline.StageRequest) (pipeline.StageResult, error) {
	if req.Stage != pipeline.StageCaption {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "caption runner does not support this stage")
	}
	provider := strings.ToLower(pipeline.ConfigString(req.Config, "provider", providerName))
	if provider != providerName && provider != "claude" {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "caption provider %q is not supported", provider)
	}
	if !r.configured {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "caption provider is not configured (set ANTHROPIC_API_KEY)")
	}
	model := pipeline.ConfigString(req.Config, "model", defaultModel)
	prompt := pipeline.ConfigString(req.Config, "prompt", bakespec.DefaultCaptionPrompt)
	maxTokens := pipeline.ConfigInt(req.Config, "maxTokens", defaultMaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := pipeline.ConfigFloat(req.Config, "temperature", 0.2)

	data, err := blob.ReadURI(ctx, r.store, req.Input.URI)
	if err != nil {
		return pipeline.StageResult{}, pipeline.AsStageError(req.Stage, fmt.Errorf("read input: %w", err))
	}
	mediaType := imageMediaType(req.Input.MediaType, data)

	if err := r.limiter.Wait(ctx); err != nil {
		return pipeline.StageResult{}, pipeline.AsStageError(req.Stage, err)
	}
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
				anthropic.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(data)),
			),
		},
		Temperature: anthropic.Float(temperature),
	}
	resp, err := r.client.Messages.New(callCtx, params)
	if err != nil {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "caption call failed: %v", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	caption := strings.TrimSpace(text.String())
	if caption == "" {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "caption provider returned no text")
	}

	result := Result{
		Caption:  caption,
		Provider: providerName,
		Model:    model,
		Usage:    Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return pipeline.StageResult{}, pipeline.AsStageError(req.Stage, err)
	}
	if _, err := blob.WriteURI(ctx, r.store, req.Output.URI, encoded); err != nil {
		return pipeline.StageResult{}, pipeline.AsStageError(req.Stage, fmt.Errorf("write caption: %w", err))
	}
	r.logger.Debug("caption generated",
		logging.String("model", model),
		logging.Int64("output_tokens", result.Usage.OutputTokens))
	return pipeline.StageResult{Output: req.Output, Metadata: result.Metadata()}, nil
}

// Metadata renders the result as stage metadata.
func (r Result) Metadata() map[string]any {
	return map[string]any{
		"caption":  r.Caption,
		"provider": r.Provider,
		"model":    r.Model,
		"usage": map[string]any{
			"inputTokens":  r.Usage.InputTokens,
			"outputTokens": r.Usage.OutputTokens,
		},
	}
}

// HealthCheck reports whether an API key is configured.
func (r *Runner) HealthCheck(context.Context) stage.Health {
	if !r.configured {
		return stage.Unhealthy("caption", "ANTHROPIC_API_KEY not set; captions disabled")
	}
	return stage.Healthy("caption")
}

// imageMediaType picks one of the media types the Messages API accepts.
func imageMediaType(declared string, data []byte) string {
	switch declared {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return declared
	}
	sniffed := http.DetectContentType(data)
	switch sniffed {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return sniffed
	}
	return "image/png"
}
