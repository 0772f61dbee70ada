package wait

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/events"
	"github.com/kode4food/tartan/pkg/util"
)

type (
	// Wait consumes ledger events until a filter has matched enough of them
	Wait struct {
		t        *testing.T
		consumer Consumer
		timeout  time.Duration
	}

	// Consumer receives ledger events from the hub
	Consumer = topic.Consumer[*timebox.Event]

	Predicate[T any] func(T) bool

	EventFilter Predicate[*timebox.Event]

	stepEvent struct {
		RunID api.RunID    `json:"run_id"`
		Step  api.StepName `json:"step"`
	}
)

const DefaultTimeout = time.Second * 5

var runFilter = EventFilter(events.IsRunEvent)

func On(t *testing.T, consumer Consumer) *Wait {
	return &Wait{
		t:        t,
		consumer: consumer,
		timeout:  DefaultTimeout,
	}
}

func (w *Wait) WithTimeout(timeout time.Duration) *Wait {
	res := *w
	res.timeout = timeout
	return &res
}

// ForEvents waits for matching events from the consumer
func (w *Wait) ForEvents(count int, filter EventFilter) {
	w.t.Helper()

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()

	for seen := 0; seen < count; {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				w.t.Fatalf(
					"event consumer closed before receiving %d events", count,
				)
			}
			if !filter(ev) {
				continue
			}
			seen++
		case <-deadline.C:
			w.t.Fatalf("timeout waiting for %d events", count)
		}
	}
}

// ForEvent waits for a single matching event
func (w *Wait) ForEvent(filter EventFilter) {
	w.ForEvents(1, filter)
}

// And composes event filters and returns true when all match
func And(filters ...EventFilter) EventFilter {
	return func(ev *timebox.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

// Type creates a filter for a single event type
func Type(eventType api.EventType) EventFilter {
	return Types(eventType)
}

// Types creates a filter for the given event types
func Types(eventTypes ...api.EventType) EventFilter {
	if len(eventTypes) == 0 {
		return func(*timebox.Event) bool { return false }
	}
	lookup := make(util.Set[timebox.EventType], len(eventTypes))
	for _, et := range eventTypes {
		lookup.Add(timebox.EventType(et))
	}
	return func(ev *timebox.Event) bool {
		return lookup.Contains(ev.Type)
	}
}

// RunStarted matches run started events for the provided run IDs
func RunStarted(ids ...api.RunID) EventFilter {
	return And(Type(api.EventTypeRunStarted), RunIDs(ids...))
}

// RunTerminal matches run terminal events for the provided run IDs
func RunTerminal(ids ...api.RunID) EventFilter {
	return And(
		Types(api.EventTypeRunCompleted, api.EventTypeRunFailed),
		RunIDs(ids...),
	)
}

// RunCompleted matches run completed events for the provided run IDs
func RunCompleted(ids ...api.RunID) EventFilter {
	return And(Type(api.EventTypeRunCompleted), RunIDs(ids...))
}

// RunFailed matches run failed events for the provided run IDs
func RunFailed(ids ...api.RunID) EventFilter {
	return And(Type(api.EventTypeRunFailed), RunIDs(ids...))
}

// AttemptStarted matches attempt started events for the provided run steps
func AttemptStarted(steps ...api.RunStep) EventFilter {
	return And(Type(api.EventTypeAttemptStarted), RunStepAny(steps...))
}

// AttemptFinished matches attempt outcome events for the provided run steps
func AttemptFinished(steps ...api.RunStep) EventFilter {
	return And(
		Types(
			api.EventTypeAttemptSucceeded,
			api.EventTypeAttemptFailed,
			api.EventTypeAttemptTimedOut,
			api.EventTypeAttemptInterrupted,
		),
		RunStepAny(steps...),
	)
}

// RetryScheduled matches retry scheduled events for the provided run steps
func RetryScheduled(steps ...api.RunStep) EventFilter {
	return And(Type(api.EventTypeRetryScheduled), RunStepAny(steps...))
}

// ChildSpawned matches child spawned events for the provided run steps
func ChildSpawned(steps ...api.RunStep) EventFilter {
	return And(Type(api.EventTypeChildSpawned), RunStepAny(steps...))
}

// RunID matches events for the provided run ID
func RunID(id api.RunID) EventFilter {
	return RunIDs(id)
}

// RunIDs matches one event for each of the provided run IDs
func RunIDs(ids ...api.RunID) EventFilter {
	expected := make(util.Set[api.RunID], len(ids))
	for _, id := range ids {
		expected.Add(id)
	}
	return And(runFilter, func(ev *timebox.Event) bool {
		id, _ := events.RunIDOf(ev)
		if expected.Contains(id) {
			expected.Remove(id)
			return true
		}
		return false
	})
}

// RunStepAny matches events for any of the provided run steps
func RunStepAny(steps ...api.RunStep) EventFilter {
	expected := make(util.Set[api.RunStep], len(steps))
	for _, step := range steps {
		expected.Add(step)
	}
	return Unmarshal(func(data stepEvent) bool {
		key := api.RunStep{RunID: data.RunID, Step: data.Step}
		return expected.Contains(key)
	})
}

// Unmarshal creates a filter that unmarshals event data and applies pred
func Unmarshal[T any](pred Predicate[T]) EventFilter {
	return func(ev *timebox.Event) bool {
		var data T
		if json.Unmarshal(ev.Data, &data) != nil {
			return false
		}
		return pred(data)
	}
}
