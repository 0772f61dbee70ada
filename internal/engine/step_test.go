package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	testify "github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/assert"
	"github.com/kode4food/tartan/internal/assert/helpers"
	"github.com/kode4food/tartan/internal/engine"
	"github.com/kode4food/tartan/pkg/api"
)

var errUnavailable = errors.New("service unavailable")

func TestRetrySucceedsOnLastAttempt(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		var calls atomic.Int32
		registerFlow(t, env, "flaky", func(c *engine.Context) (any, error) {
			return c.Step("fetch", func(context.Context) (any, error) {
				if calls.Add(1) < 4 {
					return nil, errUnavailable
				}
				return "fetched", nil
			}, engine.WithRetries(3))
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "flaky")
		st := env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

		as.RunStatus(st, api.RunCompleted)
		as.StepStatus(st, "fetch", api.StepSucceeded)
		as.StepOutcomes(st, "fetch",
			api.OutcomeFailure, api.OutcomeFailure, api.OutcomeFailure,
			api.OutcomeSuccess,
		)
		as.StepResultEquals(st, "fetch", `"fetched"`)
		as.JSONEq(`"fetched"`, st.Result.String())
		as.Equal(int32(4), calls.Load())
	})
}

func TestRetryExhausted(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		var calls atomic.Int32
		errs := make(chan error, 1)
		registerFlow(t, env, "broken", func(c *engine.Context) (any, error) {
			_, err := c.Step("fetch", func(context.Context) (any, error) {
				calls.Add(1)
				return nil, errUnavailable
			}, engine.WithRetries(3))
			errs <- err
			return nil, err
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "broken")
		st := env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

		as.RunFailedWith(st, "service unavailable")
		as.StepStatus(st, "fetch", api.StepFailed)
		as.StepOutcomes(st, "fetch",
			api.OutcomeFailure, api.OutcomeFailure, api.OutcomeFailure,
			api.OutcomeFailure,
		)
		as.Equal(int32(4), calls.Load())

		stepErr := <-errs
		var se *engine.StepError
		as.ErrorAs(stepErr, &se)
		as.Equal(api.StepName("fetch"), se.Step)
		as.Equal(4, se.Attempts)
		as.False(se.TimedOut)
		as.ErrorIs(stepErr, engine.ErrStepFailed)
		as.ErrorIs(stepErr, errUnavailable)
	})
}

func TestStepTimeout(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		finished := make(chan struct{})
		errs := make(chan error, 1)
		registerFlow(t, env, "slow", func(c *engine.Context) (any, error) {
			_, err := c.Step("crawl", func(context.Context) (any, error) {
				time.Sleep(100 * time.Millisecond)
				close(finished)
				return "late", nil
			}, engine.WithTimeout(time.Millisecond))
			errs <- err
			return nil, err
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "slow")
		st := env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

		select {
		case <-finished:
			t.Fatal("run should fail before the body returns")
		default:
		}

		as.RunStatus(st, api.RunFailed)
		as.StepStatus(st, "crawl", api.StepTimedOut)
		as.StepOutcomes(st, "crawl", api.OutcomeTimedOut)
		as.ErrorIs(<-errs, engine.ErrStepTimedOut)
		as.Empty(st.Steps["crawl"].Result)

		<-finished
		rec, err := env.Engine.GetStep(context.Background(), id, "crawl")
		as.NoError(err)
		as.Len(rec.Attempts, 1)
	})
}

func TestStepPanicIsFailure(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		var calls atomic.Int32
		registerFlow(t, env, "panics", func(c *engine.Context) (any, error) {
			return c.Step("explode", func(context.Context) (any, error) {
				if calls.Add(1) == 1 {
					panic("kaboom")
				}
				return "recovered", nil
			}, engine.WithRetries(1))
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "panics")
		st := env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

		as.RunStatus(st, api.RunCompleted)
		as.StepOutcomes(st, "explode", api.OutcomeFailure, api.OutcomeSuccess)
		as.Contains(st.Steps["explode"].Attempts[0].Error, "kaboom")
	})
}

func TestDuplicateStepName(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		var calls atomic.Int32
		errs := make(chan error, 1)
		registerFlow(t, env, "dup", func(c *engine.Context) (any, error) {
			count := func(context.Context) (any, error) {
				calls.Add(1)
				return nil, nil
			}
			if _, err := c.Step("same", count); err != nil {
				return nil, err
			}
			_, err := c.Step("same", count, engine.WithRetries(5))
			errs <- err
			return nil, err
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "dup")
		st := env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

		as.ErrorIs(<-errs, engine.ErrDuplicateStepName)
		as.RunFailedWith(st, "duplicate step name")
		as.Equal(int32(1), calls.Load())
		as.StepOutcomes(st, "same", api.OutcomeSuccess)
	})
}

func TestInvalidStepOptions(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		var called atomic.Bool
		registerFlow(t, env, "bad-opts", func(c *engine.Context) (any, error) {
			return c.Step("neg", func(context.Context) (any, error) {
				called.Store(true)
				return nil, nil
			}, engine.WithRetries(-1))
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "bad-opts")
		st := env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

		as.RunFailedWith(st, "invalid step options")
		as.False(called.Load())
		as.NotContains(st.Steps, api.StepName("neg"))
	})
}

func TestReplaySkipsSucceededSteps(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()

		var firstCalls, secondCalls atomic.Int32
		started := make(chan struct{})
		var once sync.Once

		registerFlow(t, env, "replay", func(c *engine.Context) (any, error) {
			a, err := c.Step("first", func(context.Context) (any, error) {
				n := firstCalls.Add(1)
				return map[string]any{"n": n, "at": time.Now()}, nil
			})
			if err != nil {
				return nil, err
			}
			b, err := c.Step("second", func(ctx context.Context) (any, error) {
				if secondCalls.Add(1) == 1 {
					once.Do(func() { close(started) })
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return "done", nil
			}, engine.WithRetries(1))
			if err != nil {
				return nil, err
			}
			return map[string]api.Value{"first": a, "second": b}, nil
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "replay")
		<-started

		before, err := env.Engine.GetStep(ctx, id, "first")
		as.NoError(err)
		as.NoError(env.Engine.Stop())

		st, err := env.Engine.GetRunState(ctx, id)
		as.NoError(err)
		as.RunStatus(st, api.RunRunning)

		eng, err := env.NewEngineInstance()
		as.NoError(err)
		as.NoError(eng.Start())

		st = env.WaitForRunStatus(t, ctx, id, waitTimeout)
		as.RunStatus(st, api.RunCompleted)
		as.Equal(int32(1), firstCalls.Load())
		as.Equal(int32(2), secondCalls.Load())
		as.StepOutcomes(st, "first", api.OutcomeSuccess)
		as.StepOutcomes(st, "second",
			api.OutcomeInterrupted, api.OutcomeSuccess,
		)
		as.Equal(before.Result.String(), st.Steps["first"].Result.String())
		as.Equal(
			before.Result.String(), st.Result.Get("first").Raw,
		)
	})
}

func TestFailedRunReplayDoesNotExecute(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()

		var calls atomic.Int32
		registerFlow(t, env, "fails", func(c *engine.Context) (any, error) {
			return c.Step("only", func(context.Context) (any, error) {
				calls.Add(1)
				return nil, errUnavailable
			})
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "fails")
		st := env.WaitForRunStatus(t, ctx, id, waitTimeout)
		as.RunStatus(st, api.RunFailed)

		// a terminal run left in the index is released, not re-driven
		as.NoError(env.Index.Add(ctx, id))
		as.NoError(env.Engine.Stop())

		eng, err := env.NewEngineInstance()
		as.NoError(err)
		as.NoError(eng.Start())

		testify.Eventually(t, func() bool {
			ok, err := env.Index.Contains(ctx, id)
			return err == nil && !ok
		}, waitTimeout, 10*time.Millisecond)
		as.Equal(int32(1), calls.Load())
	})
}

func TestInvalidResultIsRetried(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		var calls atomic.Int32
		registerFlow(t, env, "garbled", func(c *engine.Context) (any, error) {
			return c.Step("emit", func(context.Context) (any, error) {
				calls.Add(1)
				return api.Value("not json"), nil
			}, engine.WithRetries(2))
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "garbled")
		st := env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

		as.RunFailedWith(st, "not valid JSON")
		as.StepStatus(st, "emit", api.StepFailed)
		as.StepOutcomes(st, "emit",
			api.OutcomeFailure, api.OutcomeFailure, api.OutcomeFailure,
		)
		for _, a := range st.Steps["emit"].Attempts {
			as.False(a.IsOpen())
		}
		as.Equal(int32(3), calls.Load())
	})
}

func TestReplayReturnsStoredBytes(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		ctx := context.Background()

		seen := make(chan api.Value, 2)
		started := make(chan struct{})
		var once sync.Once
		var holds atomic.Int32

		registerFlow(t, env, "pretty", func(c *engine.Context) (any, error) {
			v, err := c.Step("raw", func(context.Context) (any, error) {
				return api.Value(`{"a": 1, "b": "<x>"}`), nil
			})
			if err != nil {
				return nil, err
			}
			seen <- v
			return c.Step("hold", func(ctx context.Context) (any, error) {
				if holds.Add(1) == 1 {
					once.Do(func() { close(started) })
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return "done", nil
			}, engine.WithRetries(1))
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "pretty")
		<-started
		first := <-seen
		as.NoError(env.Engine.Stop())

		eng, err := env.NewEngineInstance()
		as.NoError(err)
		as.NoError(eng.Start())

		st := env.WaitForRunStatus(t, ctx, id, waitTimeout)
		as.RunStatus(st, api.RunCompleted)

		replayed := <-seen
		as.Equal(first.String(), replayed.String())
		as.Equal(first.String(), st.Steps["raw"].Result.String())
		as.JSONEq(`{"a":1,"b":"<x>"}`, first.String())
	})
}

func TestSubMillisecondTimeout(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		registerFlow(t, env, "tight", func(c *engine.Context) (any, error) {
			return c.Step("crawl", func(context.Context) (any, error) {
				time.Sleep(50 * time.Millisecond)
				return "late", nil
			}, engine.WithTimeout(500*time.Microsecond))
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "tight")
		st := env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

		as.RunStatus(st, api.RunFailed)
		as.StepStatus(st, "crawl", api.StepTimedOut)
		as.Equal(int64(1), st.Steps["crawl"].Options.TimeoutMs)
	})
}

func TestReservedStepName(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)

		var called atomic.Bool
		errs := make(chan error, 1)
		registerFlow(t, env, "colon", func(c *engine.Context) (any, error) {
			_, err := c.Step("a:1:x", func(context.Context) (any, error) {
				called.Store(true)
				return nil, nil
			})
			errs <- err
			return nil, err
		})
		as.NoError(env.Engine.Start())

		id := startRun(t, env, "colon")
		st := env.WaitForRunStatus(t, context.Background(), id, waitTimeout)

		as.ErrorIs(<-errs, api.ErrInvalidStepName)
		as.RunFailedWith(st, "invalid step name")
		as.False(called.Load())
		as.Empty(st.Steps)
	})
}
