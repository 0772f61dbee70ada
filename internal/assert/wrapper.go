package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/config"
	"github.com/kode4food/tartan/pkg/api"
)

// Wrapper wraps testify assertions with run and step helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *assert.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 100 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus run and step helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    assert.New(t),
	}
}

// RunStatus asserts the status of a run
func (w *Wrapper) RunStatus(st *api.RunState, expected api.RunStatus) {
	w.Helper()
	w.Equal(expected, st.Status)
}

// RunFailedWith asserts that a run failed with an error containing the
// given text
func (w *Wrapper) RunFailedWith(st *api.RunState, contains string) {
	w.Helper()
	w.Equal(api.RunFailed, st.Status)
	w.Contains(st.Error, contains)
}

// StepStatus asserts the status of a run's step
func (w *Wrapper) StepStatus(
	st *api.RunState, name api.StepName, expected api.StepStatus,
) {
	w.Helper()
	rec, ok := st.Steps[name]
	if !w.True(ok, "run should have step: %s", name) {
		return
	}
	w.Equal(expected, rec.Status)
}

// StepOutcomes asserts the outcome of every attempt of a run's step, in
// order
func (w *Wrapper) StepOutcomes(
	st *api.RunState, name api.StepName, expected ...api.Outcome,
) {
	w.Helper()
	rec, ok := st.Steps[name]
	if !w.True(ok, "run should have step: %s", name) {
		return
	}
	got := make([]api.Outcome, len(rec.Attempts))
	for i, a := range rec.Attempts {
		got[i] = a.Outcome
	}
	w.Equal(expected, got)
}

// StepResultEquals asserts that a step's memoized result decodes to the
// expected JSON
func (w *Wrapper) StepResultEquals(
	st *api.RunState, name api.StepName, expected string,
) {
	w.Helper()
	rec, ok := st.Steps[name]
	if !w.True(ok, "run should have step: %s", name) {
		return
	}
	w.JSONEq(expected, rec.Result.String())
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= config.MaxTCPPort)
	w.True(cfg.ShutdownTimeout > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

// EventuallyWithError runs a condition that returns an error until it succeeds
// or times out
func (w *Wrapper) EventuallyWithError(
	condition func() error, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := condition()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(DefaultRetryInterval)
	}
	if lastErr != nil {
		w.Fail(msg+": last error: "+lastErr.Error(), args...)
		return
	}
	w.Fail(msg, args...)
}
