package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kode4food/tartan/internal/engine/scheduler"
	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/log"
)

type (
	// stepExec carries one step through the ledger: it replays a
	// recorded result, resumes an interrupted attempt, or runs new
	// attempts until one succeeds or the retry policy gives up
	stepExec struct {
		*Context
		name   api.StepName
		opts   api.StepOptions
		body   stepBody
		budget time.Duration
	}

	// stepBody is what an attempt runs. resume, when set, may pick up an
	// attempt left open by a previous process instead of interrupting it
	stepBody struct {
		run    func(ctx context.Context, attempt int) (any, error)
		resume func(a *api.Attempt) (attemptFunc, bool)
	}

	// attemptResult is a closed attempt as seen by the retry policy
	attemptResult struct {
		err      error
		value    api.Value
		outcome  api.Outcome
		timedOut bool
	}
)

// Step runs fn as the named step. A step that already succeeded in an
// earlier pass returns its recorded value without running fn again. A
// step whose attempts are exhausted fails the run
func (c *Context) Step(
	name api.StepName, fn StepFunc, opts ...StepOption,
) (api.Value, error) {
	return c.step(name, stepOptions(opts), stepBody{
		run: func(ctx context.Context, _ int) (any, error) {
			return fn(ctx)
		},
	})
}

func (c *Context) step(
	name api.StepName, opts api.StepOptions, body stepBody,
) (api.Value, error) {
	if err := name.Validate(); err != nil {
		return nil, c.fatal(err)
	}
	if err := c.claim(string(name), ErrDuplicateStepName); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, c.fatal(fmt.Errorf("%w: %s: %w",
			ErrInvalidOptions, name, err))
	}
	c.lastStep = name

	x := &stepExec{
		Context: c,
		name:    name,
		opts:    opts,
		body:    body,
		budget:  c.engine.stepBudget(opts),
	}
	return x.exec()
}

func (x *stepExec) exec() (api.Value, error) {
	if x.engine.ctx.Err() != nil {
		return nil, x.suspend()
	}

	st, err := x.engine.ledger.GetRun(x.ledgerCtx(), x.run.ID)
	if err != nil {
		return nil, err
	}
	if st.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s",
			ErrRunTerminal, st.ID, st.Status)
	}

	rec, ok := st.Steps[x.name]
	if !ok {
		return x.loop(1, nil)
	}

	switch rec.Status {
	case api.StepSucceeded:
		return rec.Result, nil
	case api.StepFailed, api.StepTimedOut:
		return nil, x.exhausted(stepErrorFromRecord(rec), false)
	}

	last, ok := rec.LastAttempt()
	if !ok {
		return x.loop(1, nil)
	}

	if last.IsOpen() {
		return x.reopen(last)
	}

	if !rec.NextRetryAt.IsZero() {
		if err := x.wait(rec.NextRetryAt); err != nil {
			return nil, err
		}
		return x.loop(last.Number+1, nil)
	}

	// the process stopped between recording an outcome and deciding
	// what to do about it
	return x.loop(last.Number, recordedResult(last))
}

// reopen handles an attempt that a previous process started but never
// finished
func (x *stepExec) reopen(a *api.Attempt) (api.Value, error) {
	if x.body.resume != nil {
		if fn, ok := x.body.resume(a); ok {
			start := a.StartedAt
			budget := remainingBudget(x.budget, start, x.engine.Now())
			out := runWithTimeout(x.ctx, budget, fn)
			if out.cancelled {
				return nil, x.suspend()
			}
			res, err := x.record(a.Number, start, out)
			if err != nil {
				return nil, err
			}
			return x.loop(a.Number, res)
		}
	}

	x.logger.Warn("Interrupted attempt found",
		log.StepName(x.name), log.Attempt(a.Number))
	interrupted := &api.Attempt{
		Number:  a.Number,
		Outcome: api.OutcomeInterrupted,
	}
	err := x.engine.ledger.RecordAttempt(
		x.ledgerCtx(), x.run.ID, x.name, interrupted,
	)
	if err != nil {
		return nil, err
	}
	return x.loop(a.Number, &attemptResult{
		outcome: api.OutcomeInterrupted,
		err:     ErrStepInterrupted,
	})
}

// loop runs attempts starting at num. When res is set, attempt num has
// already closed with that result and only the retry decision remains
func (x *stepExec) loop(num int, res *attemptResult) (api.Value, error) {
	for {
		if res == nil {
			var err error
			if res, err = x.attempt(num); err != nil {
				return nil, err
			}
		}

		if res.outcome == api.OutcomeSuccess {
			return res.value, nil
		}

		if !ShouldRetry(num, x.opts.Retries) {
			return nil, x.exhausted(&StepError{
				Step:     x.name,
				Cause:    res.err,
				Message:  errorText(res.err),
				Attempts: num,
				TimedOut: res.timedOut,
			}, true)
		}

		at := x.engine.Now().Add(
			RetryDelay(x.engine.backoffFor(x.opts), num),
		)
		err := x.engine.ledger.ScheduleRetry(
			x.ledgerCtx(), x.run.ID, x.name, num+1, at, errorText(res.err),
		)
		if err != nil {
			return nil, err
		}

		x.logger.Info("Step retry scheduled",
			log.StepName(x.name),
			log.Attempt(num+1),
			slog.Int("max_attempts", x.opts.MaxAttempts()),
			slog.Time("next_retry_at", at),
			log.Error(res.err))

		if err := x.wait(at); err != nil {
			return nil, err
		}
		num, res = num+1, nil
	}
}

// attempt opens, runs, and closes one attempt
func (x *stepExec) attempt(num int) (*attemptResult, error) {
	err := x.engine.ledger.StartAttempt(
		x.ledgerCtx(), x.run.ID, x.name, num, x.opts,
	)
	if err != nil {
		return nil, err
	}

	start := x.engine.Now()
	out := runWithTimeout(x.ctx, x.budget,
		func(ctx context.Context) (any, error) {
			return x.body.run(ctx, num)
		},
	)
	if out.cancelled {
		// left open; the next process records it as interrupted
		return nil, x.suspend()
	}
	return x.record(num, start, out)
}

func (x *stepExec) record(
	num int, start time.Time, out attemptOutput,
) (*attemptResult, error) {
	a := &api.Attempt{
		Number:   num,
		Duration: x.engine.Now().Sub(start).Milliseconds(),
	}
	res := &attemptResult{err: out.err, timedOut: out.timedOut}

	if out.err == nil {
		v, err := api.NewValue(out.value)
		if err != nil {
			out.err = fmt.Errorf("%w: %w", ErrStepFailed, err)
			res.err = out.err
		} else {
			a.Outcome, a.Value = api.OutcomeSuccess, v
			res.outcome, res.value = api.OutcomeSuccess, v
		}
	}

	if out.err != nil {
		a.Error = out.err.Error()
		a.Outcome = api.OutcomeFailure
		if out.timedOut {
			a.Outcome = api.OutcomeTimedOut
		}
		res.outcome = a.Outcome
	}

	err := x.engine.ledger.RecordAttempt(x.ledgerCtx(), x.run.ID, x.name, a)
	if err != nil {
		return nil, err
	}

	if res.outcome != api.OutcomeSuccess {
		x.logger.Warn("Step attempt failed",
			log.StepName(x.name),
			log.Attempt(num),
			log.Status(res.outcome),
			log.Error(res.err))
	}
	return res, nil
}

// exhausted records a step that has run out of attempts and fails the run.
// When the run has already gone terminal, nothing more is recorded
func (x *stepExec) exhausted(se *StepError, record bool) error {
	if record {
		err := x.engine.ledger.FailStep(x.ledgerCtx(), x.run.ID, se)
		if err != nil {
			return err
		}
	}
	x.logger.Error("Step failed",
		log.StepName(x.name),
		slog.Int("attempts", se.Attempts),
		log.ErrorString(se.Message))
	err := x.engine.ledger.FailRun(x.ledgerCtx(), x.run.ID, x.name, se)
	if err != nil && !errors.Is(err, ErrRunTerminal) {
		return err
	}
	return se
}

// wait blocks until at, registering the wait with the scheduler under the
// step's key. Shutdown suspends the pass, and a run that ends meanwhile
// releases the wait with ErrRunTerminal
func (x *stepExec) wait(at time.Time) error {
	key := waitKey(x.run.ID, x.name)
	done := x.engine.scheduler.Wait(x.ctx, key, at)

	// a run that ended before the wait was registered is not released by
	// the scheduler, so look once more
	st, err := x.engine.ledger.GetRun(x.ledgerCtx(), x.run.ID)
	if err == nil && st.Status.IsTerminal() {
		x.engine.scheduler.Cancel(x.ctx, key)
		return fmt.Errorf("%w: %s", ErrRunTerminal, x.run.ID)
	}

	select {
	case err := <-done:
		if errors.Is(err, scheduler.ErrWaitCancelled) {
			return fmt.Errorf("%w: %s", ErrRunTerminal, x.run.ID)
		}
		if x.ctx.Err() != nil {
			return x.suspend()
		}
		return nil
	case <-x.ctx.Done():
		x.engine.scheduler.Cancel(x.ctx, key)
		return x.suspend()
	}
}

func waitKey(id api.RunID, name api.StepName) string {
	return waitPrefix(id) + string(name)
}

func waitPrefix(id api.RunID) string {
	return string(id) + "/"
}

func recordedResult(a *api.Attempt) *attemptResult {
	res := &attemptResult{
		outcome:  a.Outcome,
		value:    a.Value,
		timedOut: a.Outcome == api.OutcomeTimedOut,
	}
	if a.Outcome != api.OutcomeSuccess {
		res.err = errors.New(a.Error)
		if a.Outcome == api.OutcomeInterrupted {
			res.err = ErrStepInterrupted
		}
	}
	return res
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
