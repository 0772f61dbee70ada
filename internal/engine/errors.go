package engine

import (
	"errors"
	"fmt"

	"github.com/kode4food/tartan/pkg/api"
)

type (
	// StepError reports a step that exhausted its attempts. It unwraps to
	// ErrStepFailed or ErrStepTimedOut, and to the last attempt's error
	// when the failure happened in this process
	StepError struct {
		Cause    error
		Step     api.StepName
		Message  string
		Attempts int
		TimedOut bool
	}

	// UncaughtError reports an error or panic raised by a flow body
	// outside of any step
	UncaughtError struct {
		Err error
	}
)

var (
	ErrStepFailed        = errors.New("step failed")
	ErrStepTimedOut      = errors.New("step timed out")
	ErrStepPanicked      = errors.New("step panicked")
	ErrStepInterrupted   = errors.New("step attempt interrupted")
	ErrDuplicateStepName = errors.New("duplicate step name")
	ErrDuplicatePageName = errors.New("duplicate page name")
	ErrRunTerminal       = errors.New("run is terminal")
	ErrAlreadyCompleted  = errors.New("run already completed")
	ErrUncaughtFlowError = errors.New("uncaught flow error")
	ErrRunSuspended      = errors.New("run suspended")
	ErrChildFailed       = errors.New("child run failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidOptions    = errors.New("invalid step options")
	ErrInvalidScript     = errors.New("invalid script")
)

// Error describes the failed step
func (e *StepError) Error() string {
	kind := "failed"
	if e.TimedOut {
		kind = "timed out"
	}
	if e.Message == "" {
		return fmt.Sprintf("step %q %s after %d attempts",
			e.Step, kind, e.Attempts)
	}
	return fmt.Sprintf("step %q %s after %d attempts: %s",
		e.Step, kind, e.Attempts, e.Message)
}

// Unwrap exposes the failure kind and, when known, the underlying cause
func (e *StepError) Unwrap() []error {
	kind := ErrStepFailed
	if e.TimedOut {
		kind = ErrStepTimedOut
	}
	if e.Cause == nil {
		return []error{kind}
	}
	return []error{kind, e.Cause}
}

// Error describes the uncaught error
func (e *UncaughtError) Error() string {
	return fmt.Sprintf("%s: %v", ErrUncaughtFlowError, e.Err)
}

// Unwrap exposes ErrUncaughtFlowError and the original error
func (e *UncaughtError) Unwrap() []error {
	return []error{ErrUncaughtFlowError, e.Err}
}

func stepErrorFromRecord(rec *api.StepRecord) *StepError {
	return &StepError{
		Step:     rec.Name,
		Message:  rec.Error,
		Attempts: len(rec.Attempts),
		TimedOut: rec.Status == api.StepTimedOut,
	}
}

// runFailure converts whatever ended a pass into the error recorded on the
// failed run. Step failures and configuration errors are recorded as is;
// anything else escaped the step boundary
func runFailure(err error) error {
	var se *StepError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, ErrDuplicateStepName) ||
		errors.Is(err, ErrDuplicatePageName) ||
		errors.Is(err, ErrInvalidOptions) ||
		errors.Is(err, ErrInvalidScript) {
		return err
	}
	var ue *UncaughtError
	if errors.As(err, &ue) {
		return ue
	}
	return &UncaughtError{Err: err}
}
