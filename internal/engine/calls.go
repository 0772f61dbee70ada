package engine

import (
	"context"
	"fmt"

	"github.com/kode4food/tartan/internal/engine/script"
	"github.com/kode4food/tartan/pkg/api"
)

// Call runs a step whose body is a remote step service. The service
// receives the arguments along with the run, step, and attempt it is
// serving
func (c *Context) Call(
	name api.StepName, endpoint string, args api.Args, opts ...StepOption,
) (api.Value, error) {
	return c.step(name, stepOptions(opts), stepBody{
		run: func(ctx context.Context, attempt int) (any, error) {
			meta := api.Metadata{
				"run_id":  c.run.ID,
				"flow":    c.run.Flow,
				"step":    name,
				"attempt": attempt,
			}
			return c.engine.stepClient.Invoke(ctx, endpoint, args, meta)
		},
	})
}

// Script runs a step whose body is a sandboxed script in the configured
// language. Arguments are bound as locals of the same name. A script that
// does not compile fails the run before any attempt is made
func (c *Context) Script(
	name api.StepName, cfg api.ScriptConfig, args api.Args,
	opts ...StepOption,
) (api.Value, error) {
	err := c.engine.scripts.Validate(cfg, script.ArgNames(args)...)
	if err != nil {
		return nil, c.fatal(fmt.Errorf("%w: %s: %w",
			ErrInvalidScript, name, err))
	}
	return c.step(name, stepOptions(opts), stepBody{
		run: func(context.Context, int) (any, error) {
			return c.engine.scripts.Execute(cfg, args)
		},
	})
}
