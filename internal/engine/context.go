package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/log"
	"github.com/kode4food/tartan/pkg/util"
)

type (
	// Context is the handle a flow body uses to take steps, emit pages,
	// complete early, and spawn children. A Context belongs to a single
	// pass over a run. Steps, pages, and children must only be taken from
	// the body's goroutine
	Context struct {
		engine    *Engine
		ctx       context.Context
		run       *api.RunState
		logger    *slog.Logger
		names     util.Set[string]
		lastStep  api.StepName
		suspended bool
	}

	// StepFunc is the body of a step. Its context ends when the step's
	// timeout expires or the engine shuts down
	StepFunc func(ctx context.Context) (any, error)

	// StepOption configures a single step
	StepOption func(*api.StepOptions)
)

// WithRetries allows n attempts beyond the first
func WithRetries(n int) StepOption {
	return func(o *api.StepOptions) {
		o.Retries = n
	}
}

// WithTimeout bounds each attempt of the step. Budgets are recorded in
// whole milliseconds, rounded up
func WithTimeout(d time.Duration) StepOption {
	return func(o *api.StepOptions) {
		if d <= 0 {
			o.TimeoutMs = 0
			return
		}
		o.TimeoutMs = (d + time.Millisecond - 1).Milliseconds()
	}
}

// WithBackoff sets the delay policy between attempts of the step
func WithBackoff(b api.BackoffConfig) StepOption {
	return func(o *api.StepOptions) {
		o.Backoff = &b
	}
}

func newContext(ctx context.Context, e *Engine, st *api.RunState) *Context {
	return &Context{
		engine: e,
		ctx:    ctx,
		run:    st,
		logger: slog.With(log.RunID(st.ID), log.FlowName(st.Flow)),
		names:  util.Set[string]{},
	}
}

// RunID returns the ID of the run being driven
func (c *Context) RunID() api.RunID {
	return c.run.ID
}

// Input returns the run's input
func (c *Context) Input() api.Value {
	return c.run.Input
}

// Metadata returns the metadata the run was started with
func (c *Context) Metadata() api.Metadata {
	return c.run.Metadata
}

// Logger returns a logger annotated with the run
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// Context returns a context that ends when the engine shuts down
func (c *Context) Context() context.Context {
	return c.ctx
}

// Env reads a configuration value through the engine's resolver
func (c *Context) Env(key string) (string, bool) {
	return c.engine.env.Lookup(key)
}

// claim reserves a name in the step and page namespace of this pass
func (c *Context) claim(name string, dup error) error {
	if !c.names.Add(name) {
		return c.fatal(fmt.Errorf("%w: %s", dup, name))
	}
	return nil
}

// fatal fails the run with a configuration error. The error is returned
// so that the body can propagate it
func (c *Context) fatal(err error) error {
	c.logger.Error("Flow configuration error", log.Error(err))
	ferr := c.engine.ledger.FailRun(c.ledgerCtx(), c.run.ID, c.lastStep, err)
	if ferr != nil {
		c.logger.Warn("Failed to record run failure", log.Error(ferr))
	}
	return err
}

// suspend marks the pass as interrupted by shutdown
func (c *Context) suspend() error {
	c.suspended = true
	return ErrRunSuspended
}

// ledgerCtx is used for ledger writes, which must land even while the
// engine is stopping
func (c *Context) ledgerCtx() context.Context {
	return context.WithoutCancel(c.ctx)
}

func stepOptions(opts []StepOption) api.StepOptions {
	var res api.StepOptions
	for _, o := range opts {
		o(&res)
	}
	return res
}
