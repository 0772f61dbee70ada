package helpers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/assert/helpers"
	"github.com/kode4food/tartan/internal/assert/wait"
	"github.com/kode4food/tartan/internal/engine"
	"github.com/kode4food/tartan/pkg/api"
)

func TestMockClient(t *testing.T) {
	cl := helpers.NewMockClient()
	ctx := context.Background()

	cl.SetResponse("http://svc/a", map[string]any{"ok": true})
	res, err := cl.Invoke(ctx, "http://svc/a", api.Args{}, api.Metadata{
		"step": "a",
	})
	assert.NoError(t, err)
	assert.True(t, res.Get("ok").Bool())

	boom := errors.New("boom")
	cl.SetError("http://svc/b", boom)
	_, err = cl.Invoke(ctx, "http://svc/b", nil, nil)
	assert.ErrorIs(t, err, boom)

	cl.ClearError("http://svc/b")
	res, err = cl.Invoke(ctx, "http://svc/b", nil, nil)
	assert.NoError(t, err)
	assert.True(t, res.IsEmpty())

	assert.Equal(t, []string{
		"http://svc/a", "http://svc/b", "http://svc/b",
	}, cl.GetInvocations())
	assert.Equal(t, 2, cl.InvocationCount("http://svc/b"))
	assert.True(t, cl.WasInvoked("http://svc/a"))
	assert.False(t, cl.WasInvoked("http://svc/c"))
	assert.Equal(t, "a", cl.LastMetadata("http://svc/a")["step"])
	assert.Nil(t, cl.LastMetadata("http://svc/c"))
}

func TestWaitForInvocation(t *testing.T) {
	cl := helpers.NewMockClient()
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = cl.Invoke(context.Background(), "http://svc", nil, nil)
	}()
	assert.True(t, cl.WaitForInvocation("http://svc", time.Second))
	assert.False(t, cl.WaitForInvocation("http://none", 10*time.Millisecond))
}

func TestEnvWaiters(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		assert.NoError(t, env.Register(&engine.Definition{
			Name: "echo",
			Body: func(c *engine.Context) (any, error) {
				return c.Step("echo", func(context.Context) (any, error) {
					return "hi", nil
				})
			},
		}))
		assert.NoError(t, env.Engine.Start())

		ctx := context.Background()
		env.WithConsumer(func(cons wait.Consumer) {
			id, err := env.Engine.StartRun(ctx, "echo")
			assert.NoError(t, err)

			wait.On(t, cons).ForEvent(wait.RunCompleted(id))
			st := env.WaitForRunStatus(t, ctx, id, time.Second)
			assert.Equal(t, api.RunCompleted, st.Status)
			assert.JSONEq(t, `"hi"`, st.Result.String())
		})
	})
}

func TestNewEngineInstance(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		def := &engine.Definition{
			Name: "noop",
			Body: func(*engine.Context) (any, error) { return nil, nil },
		}
		assert.NoError(t, env.Register(def))

		first := env.Engine
		eng, err := env.NewEngineInstance()
		assert.NoError(t, err)
		assert.NotSame(t, first, eng)
		assert.Same(t, eng, env.Engine)

		got, err := eng.GetFlow("noop")
		assert.NoError(t, err)
		assert.Same(t, def, got)
	})
}
