package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kode4food/tartan/internal/engine/flowopt"
	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/log"
)

// runDriver executes passes over a single run. There is at most one
// driver per run in a process, so the run's ledger appends land in
// program order
type runDriver struct {
	engine *Engine
	flow   *Definition
	id     api.RunID
	logger *slog.Logger
}

// StartRun records a new run of the named flow and begins driving it. The
// returned ID can be passed to WaitForRun or GetRunState
func (e *Engine) StartRun(
	ctx context.Context, flow api.FlowName, apps ...flowopt.Applier,
) (api.RunID, error) {
	opts := flowopt.DefaultOptions(apps...)
	req := &api.StartRunRequest{
		ID:       opts.ID,
		Flow:     flow,
		Metadata: opts.Metadata,
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.ID == "" {
		req.ID = api.NewRunID()
	}

	input, err := api.NewValue(opts.Input)
	if err != nil {
		return "", err
	}

	err = e.startRun(ctx, &startRun{
		ID:       req.ID,
		Flow:     req.Flow,
		Input:    input,
		Metadata: req.Metadata,
	})
	if err != nil {
		return "", err
	}
	return req.ID, nil
}

func (e *Engine) startRun(ctx context.Context, req *startRun) error {
	def, err := e.GetFlow(req.Flow)
	if err != nil {
		return err
	}
	if err := e.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrEngineStopped, err)
	}
	if err := e.index.Add(ctx, req.ID); err != nil {
		return err
	}
	if err := e.ledger.StartRun(ctx, req); err != nil {
		if errors.Is(err, ErrRunExists) {
			e.releaseTerminal(ctx, req.ID)
		}
		return err
	}

	slog.Info("Run started",
		log.RunID(req.ID),
		log.FlowName(req.Flow),
		slog.String("parent_run_id", string(req.ParentRunID)))

	e.launchRun(def, req.ID)
	return nil
}

// releaseTerminal undoes the index entry of a start that collided with a
// run that has already ended
func (e *Engine) releaseTerminal(ctx context.Context, id api.RunID) {
	st, err := e.ledger.GetRun(ctx, id)
	if err != nil || !st.Status.IsTerminal() {
		return
	}
	if err := e.index.Remove(ctx, id); err != nil {
		slog.Warn("Failed to remove run from index",
			log.RunID(id), log.Error(err))
	}
}

func (e *Engine) newDriver(
	def *Definition, id api.RunID, flow api.FlowName,
) *runDriver {
	return &runDriver{
		engine: e,
		flow:   def,
		id:     id,
		logger: slog.With(log.RunID(id), log.FlowName(flow)),
	}
}

// launchRun starts a driver for the run unless one is already active
func (e *Engine) launchRun(def *Definition, id api.RunID) {
	d := e.newDriver(def, id, def.Name)
	if _, loaded := e.runs.LoadOrStore(id, d); loaded {
		return
	}
	e.wg.Go(func() {
		defer e.runs.Delete(id)
		d.run()
	})
}

// releaseWaits wakes any backoff wait still pending for the run. The
// waiting step sees ErrRunTerminal
func (e *Engine) releaseWaits(id api.RunID) {
	e.scheduler.CancelPrefix(e.ctx, waitPrefix(id))
}

// WaitForRun blocks until the run reaches a terminal state and returns
// that state
func (e *Engine) WaitForRun(
	ctx context.Context, id api.RunID,
) (*api.RunState, error) {
	ch := e.waiters.add(id)
	defer e.waiters.remove(id, ch)

	for {
		st, err := e.GetRunState(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Status.IsTerminal() {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (d *runDriver) run() {
	e := d.engine
	ctx := context.WithoutCancel(e.ctx)

	st, err := e.ledger.GetRun(ctx, d.id)
	if err != nil {
		d.logger.Error("Failed to load run", log.Error(err))
		return
	}
	if st.Status.IsTerminal() {
		d.finish(st)
		return
	}

	c := newContext(e.ctx, e, st)
	res, err := d.invoke(c)

	if c.suspended || (err != nil && e.ctx.Err() != nil) {
		d.logger.Info("Run suspended")
		return
	}

	if st, lerr := e.ledger.GetRun(ctx, d.id); lerr == nil &&
		st.Status.IsTerminal() {
		d.finish(st)
		return
	}

	if err == nil {
		err = d.complete(ctx, res)
	}
	if err != nil {
		d.fail(ctx, c.lastStep, err)
	}

	st, err = e.ledger.GetRun(ctx, d.id)
	if err != nil {
		d.logger.Error("Failed to load run", log.Error(err))
		return
	}
	d.finish(st)
}

// invoke runs one pass of the flow body. A panic escaping the body fails
// the run like any other uncaught error
func (d *runDriver) invoke(c *Context) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UncaughtError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return d.flow.Body(c)
}

func (d *runDriver) complete(ctx context.Context, res any) error {
	v, err := api.NewValue(res)
	if err != nil {
		return err
	}
	err = d.engine.ledger.CompleteRun(ctx, d.id, v, nil)
	if err == nil || errors.Is(err, ErrRunTerminal) ||
		errors.Is(err, ErrAlreadyCompleted) {
		return nil
	}
	return err
}

func (d *runDriver) fail(ctx context.Context, step api.StepName, err error) {
	cause := runFailure(err)
	ferr := d.engine.ledger.FailRun(ctx, d.id, step, cause)
	if ferr != nil && !errors.Is(ferr, ErrRunTerminal) {
		d.logger.Error("Failed to record run failure", log.Error(ferr))
	}
}

// finish releases a terminal run from the active index and hands it to
// the archiver
func (d *runDriver) finish(st *api.RunState) {
	e := d.engine
	ctx, cancel := context.WithTimeout(
		context.WithoutCancel(e.ctx), finishTimeout,
	)
	defer cancel()

	if err := e.index.Remove(ctx, st.ID); err != nil {
		d.logger.Warn("Failed to remove run from index", log.Error(err))
	}
	e.releaseWaits(st.ID)
	_ = e.finished.Put(st)
	if e.archive != nil {
		e.archive.Enqueue(st.ID)
	}
	e.waiters.notify(st.ID)

	switch st.Status {
	case api.RunCompleted:
		d.logger.Info("Run completed")
	case api.RunFailed:
		d.logger.Warn("Run failed", log.ErrorString(st.Error))
	}
}
