package events

import (
	"strings"
	"time"

	"github.com/kode4food/timebox"

	"github.com/kode4food/tartan/pkg/api"
)

const RunPrefix = "run"

// RunAppliers contains the event applier functions for run events
var RunAppliers = makeRunAppliers()

// NewRunState creates an empty, pending run state
func NewRunState() *api.RunState {
	return &api.RunState{
		Status:    api.RunPending,
		Steps:     map[api.StepName]*api.StepRecord{},
		StepOrder: []api.StepName{},
	}
}

// RunKey returns the aggregate ID for a run
func RunKey[T ~string](runID T) timebox.AggregateID {
	return timebox.NewAggregateID(RunPrefix, timebox.ID(runID))
}

// RunJoinKey is a JoinKeyFunc that co-locates parent and child runs in the
// same Redis hash slot. Child run IDs extend their root's ID with
// ":step:attempt", so both resolve to "run:{root}"
func RunJoinKey(id timebox.AggregateID) string {
	if len(id) < 2 {
		return id.Join(":")
	}
	prefix := string(id[0])
	runID := string(id[1])
	root, rest, isChild := strings.Cut(runID, ":")
	if !isChild {
		return prefix + ":{" + runID + "}"
	}
	return prefix + ":{" + root + "}:" + rest
}

// RunParseKey is the ParseKeyFunc that reverses RunJoinKey
func RunParseKey(str string) timebox.AggregateID {
	before, after, found := strings.Cut(str, ":{")
	if !found {
		return timebox.ParseKey(str)
	}
	slot, remaining, hasRemaining := strings.Cut(after, "}:")
	if !hasRemaining {
		slot = strings.TrimSuffix(after, "}")
		return timebox.AggregateID{timebox.ID(before), timebox.ID(slot)}
	}
	return timebox.AggregateID{
		timebox.ID(before),
		timebox.ID(slot + ":" + remaining),
	}
}

// IsRunEvent returns true if the event belongs to a run aggregate
func IsRunEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 2 && ev.AggregateID[0] == RunPrefix
}

// RunIDOf returns the run ID an event belongs to
func RunIDOf(ev *timebox.Event) (api.RunID, bool) {
	if !IsRunEvent(ev) {
		return "", false
	}
	return api.RunID(ev.AggregateID[1]), true
}

func makeRunAppliers() timebox.Appliers[*api.RunState] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.RunState]{
		api.EventTypeRunStarted:     timebox.MakeApplier(runStarted),
		api.EventTypeRunCompleted:   timebox.MakeApplier(runCompleted),
		api.EventTypeRunFailed:      timebox.MakeApplier(runFailed),
		api.EventTypeAttemptStarted: timebox.MakeApplier(attemptStarted),
		api.EventTypeAttemptSucceeded: timebox.MakeApplier(
			attemptSucceeded,
		),
		api.EventTypeAttemptFailed:   timebox.MakeApplier(attemptFailed),
		api.EventTypeAttemptTimedOut: timebox.MakeApplier(attemptTimedOut),
		api.EventTypeAttemptInterrupted: timebox.MakeApplier(
			attemptInterrupted,
		),
		api.EventTypeRetryScheduled: timebox.MakeApplier(retryScheduled),
		api.EventTypeStepFailed:     timebox.MakeApplier(stepFailed),
		api.EventTypeChildSpawned:   timebox.MakeApplier(childSpawned),
		api.EventTypePageAdded:      timebox.MakeApplier(pageAdded),
	})
}

func runStarted(
	st *api.RunState, ev *timebox.Event, data api.RunStartedEvent,
) *api.RunState {
	return &api.RunState{
		ID:          data.RunID,
		Flow:        data.Flow,
		Status:      api.RunRunning,
		Input:       data.Input,
		Metadata:    data.Metadata,
		ParentRunID: data.ParentRunID,
		ParentStep:  data.ParentStep,
		Steps:       st.Steps,
		StepOrder:   st.StepOrder,
		CreatedAt:   ev.Timestamp,
		LastUpdated: ev.Timestamp,
	}
}

func runCompleted(
	st *api.RunState, ev *timebox.Event, data api.RunCompletedEvent,
) *api.RunState {
	return st.
		SetStatus(api.RunCompleted).
		SetResult(data.Result).
		SetCompletion(data.Completion).
		SetCompletedAt(ev.Timestamp).
		SetLastUpdated(ev.Timestamp)
}

func runFailed(
	st *api.RunState, ev *timebox.Event, data api.RunFailedEvent,
) *api.RunState {
	return st.
		SetStatus(api.RunFailed).
		SetError(data.Error).
		SetCompletedAt(ev.Timestamp).
		SetLastUpdated(ev.Timestamp)
}

func attemptStarted(
	st *api.RunState, ev *timebox.Event, data api.AttemptStartedEvent,
) *api.RunState {
	rec, ok := st.Steps[data.Step]
	if !ok {
		rec = &api.StepRecord{
			Name:     data.Step,
			Attempts: []*api.Attempt{},
		}
	}
	rec = rec.
		SetStatus(api.StepActive).
		SetOptions(data.Options).
		SetNextRetryAt(time.Time{}).
		AddAttempt(&api.Attempt{
			Number:    data.Attempt,
			StartedAt: ev.Timestamp,
		})
	return st.
		SetStep(data.Step, rec).
		SetLastUpdated(ev.Timestamp)
}

func attemptSucceeded(
	st *api.RunState, ev *timebox.Event, data api.AttemptSucceededEvent,
) *api.RunState {
	return updateStep(st, ev, data.Step,
		func(rec *api.StepRecord) *api.StepRecord {
			return closeAttempt(rec, data.Attempt,
				func(a *api.Attempt) *api.Attempt {
					return a.
						SetOutcome(api.OutcomeSuccess).
						SetValue(data.Value).
						SetDuration(data.Duration)
				},
			).
				SetStatus(api.StepSucceeded).
				SetResult(data.Value).
				SetError("")
		},
	)
}

func attemptFailed(
	st *api.RunState, ev *timebox.Event, data api.AttemptFailedEvent,
) *api.RunState {
	return updateStep(st, ev, data.Step,
		func(rec *api.StepRecord) *api.StepRecord {
			return closeAttempt(rec, data.Attempt,
				func(a *api.Attempt) *api.Attempt {
					return a.
						SetOutcome(api.OutcomeFailure).
						SetError(data.Error).
						SetDuration(data.Duration)
				},
			).SetError(data.Error)
		},
	)
}

func attemptTimedOut(
	st *api.RunState, ev *timebox.Event, data api.AttemptTimedOutEvent,
) *api.RunState {
	return updateStep(st, ev, data.Step,
		func(rec *api.StepRecord) *api.StepRecord {
			return closeAttempt(rec, data.Attempt,
				func(a *api.Attempt) *api.Attempt {
					return a.
						SetOutcome(api.OutcomeTimedOut).
						SetError(data.Error).
						SetDuration(data.Duration)
				},
			).SetError(data.Error)
		},
	)
}

func attemptInterrupted(
	st *api.RunState, ev *timebox.Event, data api.AttemptInterruptedEvent,
) *api.RunState {
	return updateStep(st, ev, data.Step,
		func(rec *api.StepRecord) *api.StepRecord {
			return closeAttempt(rec, data.Attempt,
				func(a *api.Attempt) *api.Attempt {
					return a.SetOutcome(api.OutcomeInterrupted)
				},
			)
		},
	)
}

func retryScheduled(
	st *api.RunState, ev *timebox.Event, data api.RetryScheduledEvent,
) *api.RunState {
	return updateStep(st, ev, data.Step,
		func(rec *api.StepRecord) *api.StepRecord {
			return rec.SetNextRetryAt(data.NextRetryAt)
		},
	)
}

func stepFailed(
	st *api.RunState, ev *timebox.Event, data api.StepFailedEvent,
) *api.RunState {
	status := api.StepFailed
	if data.TimedOut {
		status = api.StepTimedOut
	}
	return updateStep(st, ev, data.Step,
		func(rec *api.StepRecord) *api.StepRecord {
			return rec.
				SetStatus(status).
				SetError(data.Error).
				SetNextRetryAt(time.Time{})
		},
	)
}

func childSpawned(
	st *api.RunState, ev *timebox.Event, data api.ChildSpawnedEvent,
) *api.RunState {
	return updateStep(st, ev, data.Step,
		func(rec *api.StepRecord) *api.StepRecord {
			a, ok := rec.GetAttempt(data.Attempt)
			if !ok {
				return rec
			}
			return rec.SetAttempt(a.SetChildRunID(data.ChildRunID))
		},
	)
}

func pageAdded(
	st *api.RunState, ev *timebox.Event, data api.PageAddedEvent,
) *api.RunState {
	if _, ok := st.GetPage(data.Page); ok {
		return st
	}
	return st.
		AddPage(&api.Page{
			Name:      data.Page,
			Content:   data.Content,
			Step:      data.Step,
			CreatedAt: ev.Timestamp,
		}).
		SetLastUpdated(ev.Timestamp)
}

func updateStep(
	st *api.RunState, ev *timebox.Event, name api.StepName,
	fn func(*api.StepRecord) *api.StepRecord,
) *api.RunState {
	rec, ok := st.Steps[name]
	if !ok {
		return st
	}
	return st.
		SetStep(name, fn(rec)).
		SetLastUpdated(ev.Timestamp)
}

func closeAttempt(
	rec *api.StepRecord, num int, fn func(*api.Attempt) *api.Attempt,
) *api.StepRecord {
	a, ok := rec.GetAttempt(num)
	if !ok {
		return rec
	}
	return rec.SetAttempt(fn(a))
}
