package logging

import (
	"context"
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }
func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }
func Float64(key string, value float64) Attr { return slog.Float64(key, value) }
func Int(key string, value int) Attr { return slog.Int(key, value) }
func Int64(key string, value int64) Attr { return slog.Int64(key, value) }
func String(key string, value string) Attr { return slog.String(key, value) }

// JobID, Stage and Worker build the well-known correlation fields.
func JobID(id string) Attr { return slog.String(FieldJobID, id) }
func Stage(name string) Attr { return slog.String(FieldStage, name) }
func Worker(id string) Attr { return slog.String(FieldWorker, id) }
func Alert(value string) Attr { return slog.String(FieldAlert, value) }
func Event(kind string) Attr { return slog.String(FieldEventType, kind) }
func Impact(what string) Attr { return slog.String(FieldImpact, what) }
func Hint(nextStep string) Attr { return slog.String(FieldErrorHint, nextStep) }

// Error never returns an empty attr so a nil error still shows up in the line.
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args converts attrs for the variadic slog.Logger methods.
func Args(attrs ...Attr) []any {
	out := make([]any, len(attrs))
	for i := range attrs {
		out[i] = attrs[i]
	}
	return out
}

func HasAttrKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

const FieldImpact = "impact"

const defaultHint = "inspect holod.log for the failing job"

// WarnWithContext logs a warning that always names its event, a next step,
// and what the operator loses. Missing fields get generic values.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	emitWithContext(logger, slog.LevelWarn, msg, eventType, attrs, Impact("bake continues in degraded mode"))
}

// ErrorWithContext is WarnWithContext at error level, without the impact field.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	emitWithContext(logger, slog.LevelError, msg, eventType, attrs)
}

func emitWithContext(logger *slog.Logger, level slog.Level, msg, eventType string, attrs []Attr, extra ...Attr) {
	if logger == nil {
		return
	}
	defaults := append([]Attr{Event(eventType), Hint(defaultHint)}, extra...)
	for _, def := range defaults {
		if !HasAttrKey(attrs, def.Key) {
			attrs = append(attrs, def)
		}
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// NewComponentLogger tags logger with a component name. A nil logger yields a discarding one.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(FieldComponent, component)
}

func NewNop() *slog.Logger {
	return slog.New(discardHandler{})
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h discardHandler) WithGroup(string) slog.Handler { return h }
