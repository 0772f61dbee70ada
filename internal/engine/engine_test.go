package engine_test

import (
	"context"
	"testing"
	"time"

	testify "github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/assert/helpers"
	"github.com/kode4food/tartan/internal/config"
	"github.com/kode4food/tartan/internal/engine"
	"github.com/kode4food/tartan/internal/engine/flowopt"
	"github.com/kode4food/tartan/pkg/api"
)

const waitTimeout = 5 * time.Second

func TestNewRequiresDependencies(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		_, err := engine.New(nil, engine.Dependencies{})
		testify.ErrorIs(t, err, engine.ErrMissingConfig)

		_, err = engine.New(env.Config, engine.Dependencies{})
		testify.ErrorIs(t, err, engine.ErrMissingStore)

		env.Config.APIPort = 0
		_, err = env.NewEngineInstance()
		testify.ErrorIs(t, err, config.ErrInvalidAPIPort)
	})
}

func TestStartStop(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		testify.NoError(t, env.Engine.Start())
		testify.NoError(t, env.Engine.Start())
		testify.NoError(t, env.Engine.Stop())
		testify.NoError(t, env.Engine.Stop())

		_, err := env.Engine.StartRun(context.Background(), "missing")
		testify.ErrorIs(t, err, engine.ErrFlowNotFound)
	})
}

func TestStartRunAfterStop(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		registerFlow(t, env, "noop", func(*engine.Context) (any, error) {
			return nil, nil
		})
		testify.NoError(t, env.Engine.Start())
		testify.NoError(t, env.Engine.Stop())

		_, err := env.Engine.StartRun(context.Background(), "noop")
		testify.ErrorIs(t, err, engine.ErrEngineStopped)
	})
}

func TestListActiveRuns(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		release := make(chan struct{})
		registerFlow(t, env, "blocked", func(c *engine.Context) (any, error) {
			return c.Step("hold", func(ctx context.Context) (any, error) {
				select {
				case <-release:
					return "released", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			})
		})
		testify.NoError(t, env.Engine.Start())

		ctx := context.Background()
		id := startRun(t, env, "blocked", flowopt.WithRunID("held"))

		testify.Eventually(t, func() bool {
			runs, err := env.Engine.ListActiveRuns(ctx)
			return err == nil && len(runs) == 1 && runs[0].ID == id
		}, waitTimeout, 10*time.Millisecond)

		close(release)
		st := env.WaitForRunStatus(t, ctx, id, waitTimeout)
		testify.Equal(t, api.RunCompleted, st.Status)

		testify.Eventually(t, func() bool {
			runs, err := env.Engine.ListActiveRuns(ctx)
			return err == nil && len(runs) == 0
		}, waitTimeout, 10*time.Millisecond)
	})
}

func TestGetStep(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		registerFlow(t, env, "two", func(c *engine.Context) (any, error) {
			if _, err := c.Step("first", constant(1)); err != nil {
				return nil, err
			}
			return c.Step("second", constant(2))
		})
		testify.NoError(t, env.Engine.Start())

		ctx := context.Background()
		id := startRun(t, env, "two")
		env.WaitForRunStatus(t, ctx, id, waitTimeout)

		rec, err := env.Engine.GetStep(ctx, id, "second")
		testify.NoError(t, err)
		testify.Equal(t, api.StepSucceeded, rec.Status)
		testify.JSONEq(t, `2`, rec.Result.String())

		_, err = env.Engine.GetStep(ctx, id, "third")
		testify.ErrorIs(t, err, engine.ErrStepNotFound)

		steps, err := env.Engine.ListSteps(ctx, id)
		testify.NoError(t, err)
		testify.Len(t, steps, 2)
		testify.Equal(t, api.StepName("first"), steps[0].Name)
		testify.Equal(t, api.StepName("second"), steps[1].Name)

		_, err = env.Engine.GetRunState(ctx, "unknown")
		testify.ErrorIs(t, err, engine.ErrRunNotFound)
	})
}

func registerFlow(
	t *testing.T, env *helpers.TestEngineEnv, name api.FlowName,
	body engine.FlowFunc,
) {
	t.Helper()
	testify.NoError(t, env.Register(&engine.Definition{
		Name: name,
		Body: body,
	}))
}

func startRun(
	t *testing.T, env *helpers.TestEngineEnv, flow api.FlowName,
	apps ...flowopt.Applier,
) api.RunID {
	t.Helper()
	id, err := env.Engine.StartRun(context.Background(), flow, apps...)
	testify.NoError(t, err)
	return id
}

func constant(v any) engine.StepFunc {
	return func(context.Context) (any, error) {
		return v, nil
	}
}
