// Package remote runs stages on a sidecar over HTTP. The sidecar must be able
// to resolve the artifact URIs in each request, so it shares the blob store
// with the daemon (same filesystem or same bucket).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"holo/internal/logging"
	"holo/internal/pipeline"
	"holo/internal/stage"
)

// RunPath is the sidecar endpoint.
const RunPath = "/pipeline/run"

const maxResponseBytes = 4 << 20

// Runner posts stage requests to a sidecar.
type Runner struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Options configures the remote runner.
type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New builds a remote runner for baseURL.
func New(baseURL string, opts Options) *Runner {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Runner{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  client,
		logger:  logging.NewComponentLogger(opts.Logger, "remote-runner"),
	}
}

type envelope struct {
	Output   *pipeline.Artifact `json:"output"`
	Metadata map[string]any     `json:"metadata"`
	Error    string             `json:"error,omitempty"`
}

// Run implements pipeline.Runner.
func (r *Runner) Run(ctx context.Context, req pipeline.StageRequest) (pipeline.StageResult, error) {
	if req.Input.URI == "" || req.Output.URI == "" {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "remote runner requires input and output URIs")
	}
	if req.Config == nil {
		req.Config = map[string]any{}
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "encode request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+RunPath, bytes.NewReader(body))
	if err != nil {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "remote call failed: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "read response: %v", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(env.Error)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "remote status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return pipeline.StageResult{}, pipeline.Failf(req.Stage, "malformed remote response: %v", decodeErr)
	}

	out := req.Output
	if env.Output != nil {
		if env.Output.URI != "" {
			out.URI = env.Output.URI
		}
		if env.Output.MediaType != "" {
			out.MediaType = env.Output.MediaType
		}
	}
	meta := env.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return pipeline.StageResult{Output: out, Metadata: meta}, nil
}

// HealthCheck asks the sidecar's /healthz.
func (r *Runner) HealthCheck(ctx context.Context) stage.Health {
	if err := r.Ping(ctx); err != nil {
		return stage.Unhealthy("remote", err.Error())
	}
	return stage.Health{Name: "remote", Ready: true, Detail: r.baseURL}
}

// Ping checks that the sidecar answers /healthz with 2xx.
func (r *Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote runner unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("remote runner health status %d", resp.StatusCode)
	}
	return nil
}
