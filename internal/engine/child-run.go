package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kode4food/tartan/pkg/api"
)

// SpawnChild runs a child flow as a step of this run. Every attempt starts
// a fresh child whose ID is derived from the parent, the step, and the
// attempt number. The child's output becomes the step's value; a failed
// child fails the attempt and the step's retry policy applies. After a
// restart, an attempt that already spawned its child waits on that same
// child rather than starting another
func (c *Context) SpawnChild(
	name api.StepName, flow api.FlowName, input any, opts ...StepOption,
) (api.Value, error) {
	in, err := api.NewValue(input)
	if err != nil {
		return nil, err
	}

	start := func(id api.RunID) *startRun {
		return &startRun{
			ID:          id,
			Flow:        flow,
			Input:       in,
			Metadata:    c.run.Metadata,
			ParentRunID: c.run.ID,
			ParentStep:  name,
		}
	}

	return c.step(name, stepOptions(opts), stepBody{
		run: func(ctx context.Context, attempt int) (any, error) {
			id := ChildRunID(c.run.ID, name, attempt)
			err := c.engine.ledger.SpawnChild(
				c.ledgerCtx(), c.run.ID, name, attempt, id, flow,
			)
			if err != nil {
				return nil, err
			}
			return c.awaitChild(ctx, start(id))
		},
		resume: func(a *api.Attempt) (attemptFunc, bool) {
			if a.ChildRunID == "" {
				return nil, false
			}
			return func(ctx context.Context) (any, error) {
				return c.awaitChild(ctx, start(a.ChildRunID))
			}, true
		},
	})
}

// ChildRunID returns the ID of the child run spawned by the numbered
// attempt of a parent step
func ChildRunID(parent api.RunID, step api.StepName, attempt int) api.RunID {
	return api.RunID(fmt.Sprintf("%s:%s:%d", parent, step, attempt))
}

// awaitChild starts the child unless it already exists, then waits for
// its terminal state
func (c *Context) awaitChild(
	ctx context.Context, req *startRun,
) (api.Value, error) {
	err := c.engine.startRun(c.ledgerCtx(), req)
	if err != nil && !errors.Is(err, ErrRunExists) {
		return nil, err
	}

	st, err := c.engine.WaitForRun(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if st.Status == api.RunFailed {
		return nil, fmt.Errorf("%w: %s: %s", ErrChildFailed, st.ID, st.Error)
	}
	return st.Output(), nil
}
