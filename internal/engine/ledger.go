package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kode4food/timebox"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/events"
)

type (
	// Ledger is the durable record of every run. Each run is a separate
	// event-sourced aggregate, and every append is written through to the
	// store before the call returns
	Ledger struct {
		store *timebox.Store
		exec  *RunExecutor
	}

	// RunExecutor manages run state persistence and event sourcing
	RunExecutor = timebox.Executor[*api.RunState]

	// RunAggregator aggregates run state from events
	RunAggregator = timebox.Aggregator[*api.RunState]

	// startRun carries what a RunStarted event needs
	startRun struct {
		Input       api.Value
		Metadata    api.Metadata
		ID          api.RunID
		Flow        api.FlowName
		ParentRunID api.RunID
		ParentStep  api.StepName
	}
)

var (
	ErrRunExists    = errors.New("run exists")
	ErrRunNotFound  = errors.New("run not found")
	ErrStepNotFound = errors.New("step not found")
)

// NewLedger creates a ledger backed by the given store
func NewLedger(store *timebox.Store) *Ledger {
	return &Ledger{
		store: store,
		exec: timebox.NewExecutor(
			store, events.NewRunState, events.RunAppliers,
		),
	}
}

// GetRun returns the projected state of a run
func (l *Ledger) GetRun(ctx context.Context, id api.RunID) (*api.RunState, error) {
	st, err := l.exec.Exec(ctx, events.RunKey(id),
		func(*api.RunState, *RunAggregator) error {
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if st.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return st, nil
}

// GetStep returns the named step's record, reporting whether the run has
// reached that step yet
func (l *Ledger) GetStep(
	ctx context.Context, id api.RunID, name api.StepName,
) (*api.StepRecord, bool, error) {
	st, err := l.GetRun(ctx, id)
	if err != nil {
		return nil, false, err
	}
	rec, ok := st.Steps[name]
	return rec, ok, nil
}

// ListSteps returns a run's step records in the order they were reached
func (l *Ledger) ListSteps(
	ctx context.Context, id api.RunID,
) ([]*api.StepRecord, error) {
	st, err := l.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.OrderedSteps(), nil
}

// GetEvents returns the raw ledger events of a run
func (l *Ledger) GetEvents(
	ctx context.Context, id api.RunID,
) ([]*timebox.Event, error) {
	return l.store.GetEvents(ctx, events.RunKey(id), 0)
}

// StartAttempt opens the numbered attempt of a step
func (l *Ledger) StartAttempt(
	ctx context.Context, id api.RunID, name api.StepName, num int,
	opts api.StepOptions,
) error {
	return l.raise(ctx, id, func(st *api.RunState) error {
		if err := checkRunning(st); err != nil {
			return err
		}
		var from api.StepStatus
		if rec, ok := st.Steps[name]; ok {
			from = rec.Status
		}
		if !stepTransitions.CanTransition(from, api.StepActive) {
			return fmt.Errorf("%w: step %s is %s",
				ErrInvalidTransition, name, from)
		}
		return nil
	}, api.EventTypeAttemptStarted, api.AttemptStartedEvent{
		RunID:   id,
		Step:    name,
		Attempt: num,
		Options: opts,
	})
}

// RecordAttempt appends the outcome of a finished attempt. Outcomes are
// recorded even after the run has gone terminal so the ledger reflects
// every attempt that ran
func (l *Ledger) RecordAttempt(
	ctx context.Context, id api.RunID, name api.StepName, a *api.Attempt,
) error {
	typ, data, err := attemptEvent(id, name, a)
	if err != nil {
		return err
	}
	return l.raise(ctx, id, func(st *api.RunState) error {
		rec, ok := st.Steps[name]
		if !ok {
			return fmt.Errorf("%w: step %s has no attempts",
				ErrInvalidTransition, name)
		}
		if prev, ok := rec.GetAttempt(a.Number); !ok || !prev.IsOpen() {
			return fmt.Errorf("%w: attempt %d of %s is not open",
				ErrInvalidTransition, a.Number, name)
		}
		return nil
	}, typ, data)
}

// ScheduleRetry records when the next attempt of a step may begin
func (l *Ledger) ScheduleRetry(
	ctx context.Context, id api.RunID, name api.StepName, next int,
	at time.Time, errMsg string,
) error {
	return l.raise(ctx, id, checkRunning,
		api.EventTypeRetryScheduled, api.RetryScheduledEvent{
			RunID:       id,
			Step:        name,
			Attempt:     next,
			NextRetryAt: at,
			Error:       errMsg,
		},
	)
}

// FailStep records that a step exhausted its attempts
func (l *Ledger) FailStep(ctx context.Context, id api.RunID, se *StepError) error {
	target := api.StepFailed
	if se.TimedOut {
		target = api.StepTimedOut
	}
	return l.raise(ctx, id, func(st *api.RunState) error {
		if err := checkRunning(st); err != nil {
			return err
		}
		rec, ok := st.Steps[se.Step]
		if !ok || !stepTransitions.CanTransition(rec.Status, target) {
			return fmt.Errorf("%w: step %s cannot become %s",
				ErrInvalidTransition, se.Step, target)
		}
		return nil
	}, api.EventTypeStepFailed, api.StepFailedEvent{
		RunID:    id,
		Step:     se.Step,
		Error:    se.Message,
		Attempts: se.Attempts,
		TimedOut: se.TimedOut,
	})
}

// SpawnChild links the numbered attempt of a step to the child run it is
// about to start
func (l *Ledger) SpawnChild(
	ctx context.Context, id api.RunID, name api.StepName, num int,
	child api.RunID, flow api.FlowName,
) error {
	return l.raise(ctx, id, checkRunning,
		api.EventTypeChildSpawned, api.ChildSpawnedEvent{
			RunID:      id,
			Step:       name,
			Attempt:    num,
			ChildRunID: child,
			Flow:       flow,
		},
	)
}

// AddPage records a page. A page already in the ledger is left untouched
// and returned
func (l *Ledger) AddPage(
	ctx context.Context, id api.RunID, name api.PageName, step api.StepName,
	content api.Value,
) (*api.Page, error) {
	st, err := l.exec.Exec(ctx, events.RunKey(id),
		func(st *api.RunState, ag *RunAggregator) error {
			if _, ok := st.GetPage(name); ok {
				return nil
			}
			if err := checkRunning(st); err != nil {
				return err
			}
			return events.Raise(ag, api.EventTypePageAdded,
				api.PageAddedEvent{
					RunID:   id,
					Page:    name,
					Step:    step,
					Content: content,
				},
			)
		},
	)
	if err != nil {
		return nil, err
	}
	p, _ := st.GetPage(name)
	return p, nil
}

// StartRun records the start of a run. Starting a run ID that is already
// in use fails with ErrRunExists
func (l *Ledger) StartRun(ctx context.Context, req *startRun) error {
	return l.raise(ctx, req.ID, func(st *api.RunState) error {
		if st.ID != "" || !runTransitions.CanTransition(
			st.Status, api.RunRunning,
		) {
			return fmt.Errorf("%w: %s", ErrRunExists, req.ID)
		}
		return nil
	}, api.EventTypeRunStarted, api.RunStartedEvent{
		RunID:       req.ID,
		Flow:        req.Flow,
		Input:       req.Input,
		Metadata:    req.Metadata,
		ParentRunID: req.ParentRunID,
		ParentStep:  req.ParentStep,
	})
}

// CompleteRun records the run's successful end. The first terminal record
// wins: a run that already completed with a payload reports
// ErrAlreadyCompleted, any other terminal run reports ErrRunTerminal
func (l *Ledger) CompleteRun(
	ctx context.Context, id api.RunID, result api.Value, c *api.Completion,
) error {
	return l.raise(ctx, id, func(st *api.RunState) error {
		if st.Status == api.RunCompleted && st.Completion != nil {
			return ErrAlreadyCompleted
		}
		return checkTransition(st, api.RunCompleted)
	}, api.EventTypeRunCompleted, api.RunCompletedEvent{
		RunID:      id,
		Result:     result,
		Completion: c,
	})
}

// FailRun records the run's failure
func (l *Ledger) FailRun(
	ctx context.Context, id api.RunID, step api.StepName, cause error,
) error {
	return l.raise(ctx, id, func(st *api.RunState) error {
		return checkTransition(st, api.RunFailed)
	}, api.EventTypeRunFailed, api.RunFailedEvent{
		RunID: id,
		Step:  step,
		Error: cause.Error(),
	})
}

func (l *Ledger) raise(
	ctx context.Context, id api.RunID, guard func(*api.RunState) error,
	typ api.EventType, data any,
) error {
	_, err := l.exec.Exec(ctx, events.RunKey(id),
		func(st *api.RunState, ag *RunAggregator) error {
			if err := guard(st); err != nil {
				return err
			}
			return events.Raise(ag, typ, data)
		},
	)
	return err
}

func checkRunning(st *api.RunState) error {
	if st.Status != api.RunRunning {
		return fmt.Errorf("%w: %s is %s", ErrRunTerminal, st.ID, st.Status)
	}
	return nil
}

func checkTransition(st *api.RunState, to api.RunStatus) error {
	if runTransitions.IsTerminal(st.Status) {
		return fmt.Errorf("%w: %s is %s", ErrRunTerminal, st.ID, st.Status)
	}
	if !runTransitions.CanTransition(st.Status, to) {
		return fmt.Errorf("%w: run %s is %s",
			ErrInvalidTransition, st.ID, st.Status)
	}
	return nil
}

func attemptEvent(
	id api.RunID, name api.StepName, a *api.Attempt,
) (api.EventType, any, error) {
	switch a.Outcome {
	case api.OutcomeSuccess:
		return api.EventTypeAttemptSucceeded, api.AttemptSucceededEvent{
			RunID:    id,
			Step:     name,
			Attempt:  a.Number,
			Value:    a.Value,
			Duration: a.Duration,
		}, nil
	case api.OutcomeFailure:
		return api.EventTypeAttemptFailed, api.AttemptFailedEvent{
			RunID:    id,
			Step:     name,
			Attempt:  a.Number,
			Error:    a.Error,
			Duration: a.Duration,
		}, nil
	case api.OutcomeTimedOut:
		return api.EventTypeAttemptTimedOut, api.AttemptTimedOutEvent{
			RunID:    id,
			Step:     name,
			Attempt:  a.Number,
			Error:    a.Error,
			Duration: a.Duration,
		}, nil
	case api.OutcomeInterrupted:
		return api.EventTypeAttemptInterrupted, api.AttemptInterruptedEvent{
			RunID:   id,
			Step:    name,
			Attempt: a.Number,
		}, nil
	default:
		return "", nil, fmt.Errorf("%w: attempt %d of %s has no outcome",
			ErrInvalidTransition, a.Number, name)
	}
}
