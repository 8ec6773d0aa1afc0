package pipeline

import (
	"errors"
	"fmt"
)

// StageError is the failure type of every stage. Its message is recorded on
// the job verbatim.
type StageError struct {
	Stage StageName
	Cause error
}

func (e *StageError) Error() string {
	if e.Cause == nil {
		return string(e.Stage) + ": failed"
	}
	return string(e.Stage) + ": " + e.Cause.Error()
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// Failf builds a StageError from a formatted message.
func Failf(stage StageName, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Cause: fmt.Errorf(format, args...)}
}

// AsStageError wraps err for stage unless it already is a StageError.
func AsStageError(stage StageName, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Cause: err}
}
