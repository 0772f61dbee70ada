package builder_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/tartan/internal/assert/helpers"
	"github.com/kode4food/tartan/internal/engine"
	"github.com/kode4food/tartan/internal/server"
	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/builder"
)

const waitTimeout = 5 * time.Second

func TestClientRunLifecycle(t *testing.T) {
	cl, release := testEngineClient(t)
	defer release()

	ctx := context.Background()
	flows, err := cl.ListFlows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []api.FlowName{"greet", "hold"}, flows.Flows)

	rc, err := cl.StartRun(ctx, "greet", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	assert.NotEmpty(t, rc.ID())

	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	st, err := rc.Wait(waitCtx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, api.RunCompleted, st.Status)
	assert.JSONEq(t, `"hello, Ada"`, st.Result.String())

	steps, err := rc.ListSteps(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, steps.Count)
	assert.Equal(t, api.StepName("compose"), steps.Steps[0].Name)

	rec, err := rc.GetStep(ctx, "compose")
	require.NoError(t, err)
	assert.Equal(t, api.StepSucceeded, rec.Status)

	pages, err := rc.ListPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pages.Count)
	assert.Equal(t, api.PageName("greeting"), pages.Pages[0].Name)

	task, err := rc.GetTask(ctx)
	require.NoError(t, err)
	assert.NotNil(t, task)
}

func TestClientStartRunWithRequest(t *testing.T) {
	cl, release := testEngineClient(t)
	defer release()

	ctx := context.Background()
	id := builder.NewRunID("held")
	rc, err := cl.StartRunWithRequest(ctx, api.StartRunRequest{
		ID:   id,
		Flow: "hold",
	})
	require.NoError(t, err)
	assert.Equal(t, id, rc.ID())

	assert.Eventually(t, func() bool {
		runs, err := cl.ListRuns(ctx)
		if err != nil {
			return false
		}
		for _, r := range runs.Runs {
			if r.ID == id {
				return true
			}
		}
		return false
	}, waitTimeout, 20*time.Millisecond)

	_, err = cl.StartRunWithRequest(ctx, api.StartRunRequest{
		ID:   id,
		Flow: "hold",
	})
	assert.ErrorIs(t, err, builder.ErrStartRun)

	var se *builder.StatusError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.NotEmpty(t, se.Message)
}

func TestClientErrors(t *testing.T) {
	cl, release := testEngineClient(t)
	defer release()

	ctx := context.Background()

	_, err := cl.StartRunWithRequest(ctx, api.StartRunRequest{})
	assert.ErrorIs(t, err, api.ErrFlowNameEmpty)

	_, err = cl.StartRun(ctx, "missing", nil)
	assert.ErrorIs(t, err, builder.ErrStartRun)
	assert.ErrorIs(t, err, builder.ErrHTTPStatus)

	_, err = cl.StartRun(ctx, "greet", make(chan int))
	assert.Error(t, err)

	_, err = cl.Run("nope").GetState(ctx)
	assert.ErrorIs(t, err, builder.ErrGetRun)

	var se *builder.StatusError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)

	_, err = cl.Run("nope").ListPages(ctx)
	assert.ErrorIs(t, err, builder.ErrListPages)
}

func TestClientUnreachable(t *testing.T) {
	cl := builder.NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := cl.ListFlows(context.Background())
	assert.ErrorIs(t, err, builder.ErrListFlows)
}

func TestClientRunFromContext(t *testing.T) {
	cl := builder.NewClient(builder.DefaultEngineURL, time.Second)

	sc := builder.NewStepContext(context.Background(), nil, api.Metadata{
		"run_id": "parent-run",
	})
	rc, err := cl.RunFromContext(sc)
	assert.NoError(t, err)
	assert.Equal(t, api.RunID("parent-run"), rc.ID())

	_, err = cl.RunFromContext(
		builder.NewStepContext(context.Background(), nil, nil),
	)
	assert.ErrorIs(t, err, builder.ErrNoRunID)
}

func TestRunClientWaitCancelled(t *testing.T) {
	cl, release := testEngineClient(t)
	defer release()

	rc, err := cl.StartRun(context.Background(), "hold", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(
		context.Background(), 100*time.Millisecond,
	)
	defer cancel()
	_, err = rc.Wait(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func testEngineClient(t *testing.T) (*builder.Client, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := helpers.NewTestEngine(t)
	require.NoError(t, env.Register(
		&engine.Definition{
			Name: "greet",
			Body: func(c *engine.Context) (any, error) {
				name := c.Input().Get("name").String()
				msg, err := c.Step("compose",
					func(context.Context) (any, error) {
						return "hello, " + name, nil
					},
				)
				if err != nil {
					return nil, err
				}
				return msg, c.Page("greeting", msg)
			},
		},
		&engine.Definition{
			Name: "hold",
			Body: func(c *engine.Context) (any, error) {
				return c.Step("hold", func(ctx context.Context) (any, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				})
			},
		},
	))
	require.NoError(t, env.Engine.Start())

	srv := server.NewServer(env.Engine, env.EventHub)
	hs := httptest.NewServer(srv.SetupRoutes())

	cl := builder.NewClient(hs.URL, time.Second)
	return cl, func() {
		hs.Close()
		env.Cleanup()
	}
}
