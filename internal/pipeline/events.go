package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"holo/internal/blob"
	"holo/internal/logging"
	"holo/internal/services"
)

// Event types written to the per-job event log.
const (
	EventPipelineSpec  = "pipeline_spec"
	EventPipelineStart = "pipeline_start"
	EventStageStart    = "stage_start"
	EventStageDone     = "stage_done"
	EventStageError    = "stage_error"
	EventCaptionStart  = "caption_start"
	EventCaptionDone   = "caption_done"
	EventCaptionError  = "caption_error"
	EventPipelineDone  = "pipeline_done"
	EventPipelineError = "pipeline_error"
)

// Event is one JSONL record.
type Event struct {
	TS       float64        `json:"ts"`
	Event    string         `json:"event"`
	Stage    StageName      `json:"stage,omitempty"`
	Input    string         `json:"input,omitempty"`
	Output   string         `json:"output,omitempty"`
	ElapsedS float64        `json:"elapsed_s,omitempty"`
	Error    string         `json:"error,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EventLog records stage events for one job as JSONL in the blob store. The
// object is rewritten in full after every event because blob stores have no
// append; logs stay small.
type EventLog struct {
	mu     sync.Mutex
	store  blob.Store
	key    string
	buf    bytes.Buffer
	logger *slog.Logger
	now    func() time.Time
}

// NewEventLog starts an empty event log for jobID.
func NewEventLog(store blob.Store, jobID string, logger *slog.Logger) *EventLog {
	return &EventLog{
		store:  store,
		key:    blob.WorkPrefix(jobID) + WorkEvents,
		logger: logging.NewComponentLogger(logger, "events"),
		now:    time.Now,
	}
}

// Key returns the blob key of the log.
func (l *EventLog) Key() string {
	return l.key
}

// Emit appends ev and persists the log. Persistence failures are logged and
// never fail the job.
func (l *EventLog) Emit(ctx context.Context, ev Event) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev.TS == 0 {
		ev.TS = float64(l.now().UnixNano()) / 1e9
	}
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("event encode failed",
			logging.Event("event_log_encode_failed"),
			logging.Hint("stage metadata must be JSON encodable"),
			logging.Error(err))
		return
	}
	l.buf.Write(line)
	l.buf.WriteByte('\n')
	if _, err := l.store.Put(context.WithoutCancel(ctx), l.key, bytes.NewReader(l.buf.Bytes())); err != nil {
		logging.WarnWithContext(l.logger, "event log write failed", "event_log_write_failed",
			append(logging.ErrorAttrs(err), logging.String("key", l.key),
				logging.Impact("pipeline events not persisted"))...)
	}
}

// Events returns a copy of the raw JSONL written so far.
func (l *EventLog) Events() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.buf.Bytes()...)
}

// Logged wraps runner so every call records start/done/error events and logs.
func Logged(runner Runner, events *EventLog, logger *slog.Logger) Runner {
	return &loggedRunner{
		runner: runner,
		events: events,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
}

type loggedRunner struct {
	runner Runner
	events *EventLog
	logger *slog.Logger
}

func (r *loggedRunner) Run(ctx context.Context, req StageRequest) (StageResult, error) {
	ctx = services.WithStage(ctx, string(req.Stage))
	logger := logging.WithContext(ctx, r.logger)
	start := time.Now()

	startEvent, doneEvent, errorEvent := EventStageStart, EventStageDone, EventStageError
	if req.Stage == StageCaption {
		startEvent, doneEvent, errorEvent = EventCaptionStart, EventCaptionDone, EventCaptionError
	}

	r.events.Emit(ctx, Event{
		Event:  startEvent,
		Stage:  req.Stage,
		Input:  req.Input.URI,
		Output: req.Output.URI,
		Config: req.Config,
	})
	logger.Info("stage started",
		logging.Event(startEvent),
		logging.String("output", req.Output.URI))

	result, err := r.runner.Run(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		r.events.Emit(ctx, Event{Event: errorEvent, Stage: req.Stage, ElapsedS: elapsed.Seconds(), Error: err.Error()})
		logging.WarnWithContext(logger, "stage failed", errorEvent,
			append(logging.ErrorAttrs(err), logging.Duration("elapsed", elapsed),
				logging.Impact("job will be marked as error"))...)
		return result, err
	}
	r.events.Emit(ctx, Event{Event: doneEvent, Stage: req.Stage, ElapsedS: elapsed.Seconds(), Metadata: result.Metadata})
	logger.Info("stage completed",
		logging.Event(doneEvent),
		logging.Duration("elapsed", elapsed))
	return result, nil
}

// Unwrap returns the wrapped runner.
func (r *loggedRunner) Unwrap() Runner {
	return r.runner
}

// WrapRegistry returns a registry whose runners are wrapped with Logged.
func WrapRegistry(base *Registry, events *EventLog, logger *slog.Logger) *Registry {
	wrapped := NewRegistry()
	for _, name := range base.Stages() {
		runner, _ := base.Lookup(name)
		wrapped.Register(name, Logged(runner, events, logger))
	}
	return wrapped
}
