package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kode4food/tartan/pkg/api"
)

type (
	// attemptFunc is the body of one attempt
	attemptFunc func(ctx context.Context) (any, error)

	attemptOutput struct {
		value     any
		err       error
		timedOut  bool
		cancelled bool
	}
)

// runWithTimeout races fn against the budget. A zero budget waits for fn
// indefinitely. When the budget expires first, fn's context is cancelled
// and whatever it eventually returns is discarded. When parent ends first
// the output is marked cancelled rather than timed out
func runWithTimeout(
	parent context.Context, budget time.Duration, fn attemptFunc,
) attemptOutput {
	var ctx context.Context
	var cancel context.CancelFunc
	if budget > 0 {
		ctx, cancel = context.WithTimeout(parent, budget)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	done := make(chan attemptOutput, 1)
	go func() {
		done <- protect(ctx, fn)
	}()

	select {
	case out := <-done:
		return classify(parent, ctx, budget, out)
	case <-ctx.Done():
		select {
		case out := <-done:
			return classify(parent, ctx, budget, out)
		default:
			return classify(parent, ctx, budget, attemptOutput{
				err: ctx.Err(),
			})
		}
	}
}

// classify attributes an error that coincides with the end of the attempt's
// context to its cause: the parent ending, or the budget running out
func classify(
	parent, ctx context.Context, budget time.Duration, out attemptOutput,
) attemptOutput {
	switch {
	case out.err == nil:
		return out
	case parent.Err() != nil:
		out.cancelled = true
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.timedOut = true
		out.err = fmt.Errorf("%w: exceeded %s", ErrStepTimedOut, budget)
	}
	return out
}

func protect(ctx context.Context, fn attemptFunc) (out attemptOutput) {
	defer func() {
		if r := recover(); r != nil {
			out = attemptOutput{err: fmt.Errorf("%w: %v", ErrStepPanicked, r)}
		}
	}()
	v, err := fn(ctx)
	return attemptOutput{value: v, err: err}
}

// stepBudget caps the step's own timeout with the engine-wide maximum.
// Zero means unbounded
func (e *Engine) stepBudget(opts api.StepOptions) time.Duration {
	ms := opts.TimeoutMs
	if limit := e.config.MaxStepTimeout; limit > 0 {
		if ms <= 0 || ms > limit {
			ms = limit
		}
	}
	return time.Duration(ms) * time.Millisecond
}

// remainingBudget is what is left of a budget for an attempt that started
// at start. An exhausted budget still allows a minimal wait
func remainingBudget(budget time.Duration, start, now time.Time) time.Duration {
	if budget <= 0 {
		return 0
	}
	return max(budget-now.Sub(start), time.Millisecond)
}
