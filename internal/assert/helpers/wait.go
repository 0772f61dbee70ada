package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/assert/wait"
	"github.com/kode4food/tartan/pkg/api"
)

// EventWaiter waits for events matching a filter. Create before triggering the
// action
type EventWaiter[T any] struct {
	consumer wait.Consumer
	filter   wait.EventFilter
	getState func(context.Context) (T, error)
	desc     string // for error messages
}

// Wait blocks until a matching event and returns the state
func (w *EventWaiter[T]) Wait(
	t *testing.T, ctx context.Context, timeout time.Duration,
) T {
	t.Helper()
	defer w.consumer.Close()

	deadline := time.After(timeout)
	for {
		select {
		case event := <-w.consumer.Receive():
			if event != nil && w.filter(event) {
				state, err := w.getState(ctx)
				assert.NoError(t, err)
				return state
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", w.desc)
		case <-ctx.Done():
			t.FailNow()
		}
	}
}

// SubscribeToRunStatus creates a waiter for run completion or failure
func (e *TestEngineEnv) SubscribeToRunStatus(
	runID api.RunID,
) *EventWaiter[*api.RunState] {
	return &EventWaiter[*api.RunState]{
		consumer: e.EventHub.NewConsumer(),
		filter:   wait.RunTerminal(runID),
		getState: func(ctx context.Context) (*api.RunState, error) {
			return e.Engine.GetRunState(ctx, runID)
		},
		desc: string(runID),
	}
}

// SubscribeToAttemptStarted creates a waiter for a step's attempt start
func (e *TestEngineEnv) SubscribeToAttemptStarted(
	runID api.RunID, step api.StepName,
) *EventWaiter[*api.StepRecord] {
	return &EventWaiter[*api.StepRecord]{
		consumer: e.EventHub.NewConsumer(),
		filter: wait.AttemptStarted(
			api.RunStep{RunID: runID, Step: step},
		),
		getState: func(ctx context.Context) (*api.StepRecord, error) {
			return e.Engine.GetStep(ctx, runID, step)
		},
		desc: string(runID) + "/" + string(step),
	}
}

// WaitForRunStatus blocks until the run is terminal and returns its state.
// A run that is already terminal returns immediately
func (e *TestEngineEnv) WaitForRunStatus(
	t *testing.T, ctx context.Context, runID api.RunID, timeout time.Duration,
) *api.RunState {
	t.Helper()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	st, err := e.Engine.WaitForRun(ctx, runID)
	if err != nil {
		t.Fatalf("waiting for %s: %v", runID, err)
	}
	return st
}

// WaitForRunFinished blocks until the run is terminal and its driver has
// released it from the active index, so that no further ledger writes
// are in flight
func (e *TestEngineEnv) WaitForRunFinished(
	t *testing.T, ctx context.Context, runID api.RunID, timeout time.Duration,
) *api.RunState {
	t.Helper()
	e.WaitForRunStatus(t, ctx, runID, timeout)
	deadline := time.Now().Add(timeout)
	for {
		ok, err := e.Index.Contains(ctx, runID)
		assert.NoError(t, err)
		if !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s to finish", runID)
		}
		time.Sleep(10 * time.Millisecond)
	}
	st, err := e.Engine.GetRunState(ctx, runID)
	assert.NoError(t, err)
	return st
}

// WithConsumer hands a fresh hub consumer to fn and closes it afterward
func (e *TestEngineEnv) WithConsumer(fn func(wait.Consumer)) {
	consumer := e.EventHub.NewConsumer()
	defer consumer.Close()
	fn(consumer)
}
