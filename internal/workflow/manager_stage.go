package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"holo/internal/bakespec"
	"holo/internal/blob"
	"holo/internal/logging"
	"holo/internal/pipeline"
	"holo/internal/queue"
	"holo/internal/stage"
)

// Job progress checkpoints. Mesh stages share the span between
// progressStagesStart and progressStagesStart+progressStagesSpan.
const (
	progressClaimed     = 0.02
	progressStagesStart = 0.05
	progressStagesSpan  = 0.90
)

func meshProgress(fraction float64) float64 {
	return progressStagesStart + progressStagesSpan*fraction
}

// processJob runs one claimed job to a terminal status. It returns without
// touching the job when the worker is shutting down or the lease was lost.
func (m *Manager) processJob(parent context.Context, workerID string, job *queue.Job) {
	ctx := withJobContext(parent, job, workerID)
	logger := m.jobLogger(ctx)
	start := time.Now()
	logger.Info("job claimed",
		logging.Event("job_claimed"),
		logging.String("input_key", job.InputKey))
	m.setLastJob(job)
	m.notifier.publish(job.ID)

	jobCtx, cancel := context.WithCancelCause(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(jobCtx, &hbWG, job.ID, workerID, func(err error) { cancel(err) })
	defer func() {
		cancel(nil)
		hbWG.Wait()
	}()

	m.patch(ctx, logger, job.ID, queue.ProgressPatch(progressClaimed).WithOwner(workerID))

	outputKey, err := m.runJob(jobCtx, logger, job, workerID)
	switch {
	case errors.Is(context.Cause(jobCtx), queue.ErrLeaseLost):
		logging.WarnWithContext(logger, "abandoning job after losing its lease", "job_abandoned",
			logging.Impact("another worker owns the job now"),
			logging.Hint("raise workflow.lease_seconds if stages routinely outlive the lease"))
		return
	case parent.Err() != nil:
		logger.Info("job interrupted by shutdown; it is requeued when its lease expires",
			logging.Event("job_interrupted"))
		return
	case err != nil:
		m.failJob(ctx, logger, job, workerID, err, time.Since(start))
	default:
		m.completeJob(ctx, logger, job, workerID, outputKey, time.Since(start))
	}
}

// runJob executes the mesh stages (and the caption beside them) and returns
// the result key once it is confirmed to exist. Progress writes are fenced to
// workerID.
func (m *Manager) runJob(ctx context.Context, logger *slog.Logger, job *queue.Job, workerID string) (string, error) {
	spec, err := stage.ParseBakeSpec(job.SpecJSON)
	if err != nil {
		return "", err
	}
	events := pipeline.NewEventLog(m.blobs, job.ID, logger)
	events.Emit(ctx, pipeline.Event{Event: pipeline.EventPipelineSpec, Config: specMap(spec)})

	requests, err := pipeline.BuildRequests(spec, job.ID, job.InputKey, m.blobs)
	if err != nil {
		return "", fmt.Errorf("build stage requests: %w", err)
	}
	p := pipeline.New(pipeline.WrapRegistry(m.registry, events, logger), m.metrics.ObserveStage).WithArtifacts(m.blobs)

	caption := m.startCaption(ctx, logger, p, spec, job)
	defer caption.stop()
	p = p.WithPrepare(func(ctx context.Context, req *pipeline.StageRequest) error {
		if req.Stage != pipeline.StageExport || !caption.enabled() {
			return nil
		}
		meta, err := caption.wait(ctx)
		if err != nil {
			return err
		}
		req.Metadata = pipeline.MergeMetadata(req.Metadata, map[string]any{pipeline.MetaCaption: meta})
		return nil
	})

	start := time.Now()
	events.Emit(ctx, pipeline.Event{
		Event:    pipeline.EventPipelineStart,
		Input:    job.InputKey,
		Metadata: map[string]any{"stages": len(requests), "caption": caption.enabled()},
	})
	m.patch(ctx, logger, job.ID, queue.ProgressPatch(progressStagesStart).WithOwner(workerID))
	sampler := logging.NewProgressSampler(0.25)
	_, err = p.Run(ctx, requests, func(stage pipeline.StageName, fraction float64) {
		progress := meshProgress(fraction)
		m.patch(ctx, logger, job.ID, queue.ProgressPatch(progress).WithOwner(workerID))
		if sampler.ShouldLog(progress, string(stage)) {
			logger.Info("job progress",
				logging.Event("job_progress"),
				logging.Stage(string(stage)),
				logging.Float64("progress", progress))
		}
	})
	if err != nil {
		events.Emit(ctx, pipeline.Event{Event: pipeline.EventPipelineError, ElapsedS: time.Since(start).Seconds(), Error: err.Error()})
		return "", err
	}

	resultKey := blob.ResultKey(job.ID, pipeline.ResultExt(spec))
	exists, err := m.blobs.Exists(ctx, resultKey)
	if err != nil {
		return "", fmt.Errorf("verify result artifact: %w", err)
	}
	if !exists {
		err := pipeline.Failf(pipeline.StageExport, "result artifact %s was not written", resultKey)
		events.Emit(ctx, pipeline.Event{Event: pipeline.EventPipelineError, Error: err.Error()})
		return "", err
	}
	events.Emit(ctx, pipeline.Event{Event: pipeline.EventPipelineDone, Output: resultKey, ElapsedS: time.Since(start).Seconds()})
	return resultKey, nil
}

// captionTask runs the caption stage concurrently with the mesh stages.
type captionTask struct {
	result chan map[string]any
	cancel context.CancelFunc
	wg     sync.WaitGroup
	meta   map[string]any
	done   bool
}

func (c *captionTask) enabled() bool {
	return c != nil && c.result != nil
}

// wait blocks until the caption finished. Failures arrive as {error} metadata
// and never fail the job.
func (c *captionTask) wait(ctx context.Context) (map[string]any, error) {
	if c.done {
		return c.meta, nil
	}
	select {
	case meta := <-c.result:
		c.meta, c.done = meta, true
		return meta, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *captionTask) stop() {
	if !c.enabled() {
		return
	}
	c.cancel()
	c.wg.Wait()
}

func (m *Manager) startCaption(ctx context.Context, logger *slog.Logger, p *pipeline.Pipeline, spec bakespec.Spec, job *queue.Job) *captionTask {
	task := &captionTask{}
	if !spec.AI.Caption.Enabled {
		return task
	}
	task.result = make(chan map[string]any, 1)
	req, err := pipeline.BuildCaptionRequest(spec, job.ID, job.InputKey, m.blobs)
	if err != nil {
		task.cancel = func() {}
		task.result <- map[string]any{"error": err.Error()}
		return task
	}
	captionCtx, cancel := context.WithCancel(ctx)
	task.cancel = cancel
	task.wg.Add(1)
	go func() {
		defer task.wg.Done()
		result, err := p.RunStage(captionCtx, req)
		if err != nil {
			logging.WarnWithContext(logger, "caption failed; exporting without it", "caption_failed",
				append(logging.ErrorAttrs(err),
					logging.Impact("asset extras carry the caption error instead of text"))...)
			task.result <- map[string]any{"error": err.Error()}
			return
		}
		task.result <- result.Metadata
	}()
	return task
}

func specMap(spec bakespec.Spec) map[string]any {
	data, err := spec.Canonical()
	if err != nil {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
