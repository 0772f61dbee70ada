package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/kode4food/tartan/internal/assert"
	"github.com/kode4food/tartan/internal/assert/helpers"
	"github.com/kode4food/tartan/internal/engine"
	"github.com/kode4food/tartan/pkg/api"
)

func TestCompleteEndsRun(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		var skipped atomic.Bool
		errs := make(chan error, 2)
		registerFlow(t, env, "early", func(c *engine.Context) (any, error) {
			if _, err := c.Step("prepare", constant("ready")); err != nil {
				return nil, err
			}
			err := c.Complete(api.Completion{
				Title:   "All done",
				Content: "finished early",
				Data:    api.MustValue(map[string]int{"count": 3}),
			})
			if err != nil {
				return nil, err
			}
			errs <- c.Complete(api.Completion{Title: "again"})
			_, err = c.Step("never", func(context.Context) (any, error) {
				skipped.Store(true)
				return nil, nil
			})
			errs <- err
			return "ignored", nil
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "early")
		st := env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

		as.ErrorIs(<-errs, engine.ErrAlreadyCompleted)
		as.ErrorIs(<-errs, engine.ErrRunTerminal)
		as.False(skipped.Load())

		as.RunStatus(st, api.RunCompleted)
		as.NotNil(st.Completion)
		as.Equal("All done", st.Completion.Title)
		as.Empty(st.Result)
		as.Equal(int64(3), st.Output().Get("data.count").Int())
		as.NotContains(st.Steps, api.StepName("never"))
	})
}

func TestCompleteAfterFailure(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		errs := make(chan error, 1)
		registerFlow(t, env, "late", func(c *engine.Context) (any, error) {
			_, err := c.Step("boom", func(context.Context) (any, error) {
				return nil, errors.New("boom")
			})
			errs <- c.Complete(api.Completion{Title: "too late"})
			return nil, err
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "late")
		st := env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

		as.ErrorIs(<-errs, engine.ErrRunTerminal)
		as.RunStatus(st, api.RunFailed)
		as.Nil(st.Completion)
	})
}

func TestCompleteDuringStep(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		var calls atomic.Int32
		registerFlow(t, env, "inflight", func(c *engine.Context) (any, error) {
			return c.Step("work", func(context.Context) (any, error) {
				calls.Add(1)
				if err := c.Complete(api.Completion{Title: "cut"}); err != nil {
					return nil, err
				}
				return nil, errors.New("failed after completion")
			}, engine.WithRetries(3))
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "inflight")
		st := env.WaitForRunFinished(t, context.Background(), id, waitTimeout)

		as.RunStatus(st, api.RunCompleted)
		as.Equal("cut", st.Completion.Title)
		as.Equal(int32(1), calls.Load())
		as.StepOutcomes(st, "work", api.OutcomeFailure)
		as.StepStatus(st, "work", api.StepActive)
	})
}

func TestCompleteReleasesBackoffWait(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		var calls atomic.Int32
		failed := make(chan struct{})
		errs := make(chan error, 1)
		registerFlow(t, env, "parked", func(c *engine.Context) (any, error) {
			go func() {
				<-failed
				_ = c.Complete(api.Completion{Title: "cancelled"})
			}()
			_, err := c.Step("fetch", func(context.Context) (any, error) {
				if calls.Add(1) == 1 {
					close(failed)
				}
				return nil, errUnavailable
			},
				engine.WithRetries(3),
				engine.WithBackoff(api.BackoffConfig{
					Type:      api.BackoffTypeFixed,
					InitialMs: api.Hour,
				}),
			)
			errs <- err
			return nil, err
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "parked")
		st := env.WaitForRunFinished(t, context.Background(), id, waitTimeout)

		as.ErrorIs(<-errs, engine.ErrRunTerminal)
		as.RunStatus(st, api.RunCompleted)
		as.Equal("cancelled", st.Completion.Title)
		as.Equal(int32(1), calls.Load())
		as.StepOutcomes(st, "fetch", api.OutcomeFailure)
	})
}
