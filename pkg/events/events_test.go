package events_test

import (
	"encoding/json"
	"testing"

	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/events"
)

func TestRaiseEnqueuesEvent(t *testing.T) {
	ag := &timebox.Aggregator[int]{}

	err := events.Raise(
		ag, api.EventTypeRunStarted, api.RunStartedEvent{RunID: "run-1"},
	)
	assert.NoError(t, err)
	assert.Len(t, ag.Enqueued(), 1)
}

func TestMakeAppliersKeys(t *testing.T) {
	app := events.MakeAppliers(map[api.EventType]timebox.Applier[int]{
		api.EventTypeRunStarted: timebox.MakeApplier(
			func(n int, _ *timebox.Event, _ api.RunStartedEvent) int {
				return n + 1
			},
		),
	})
	assert.Len(t, app, 1)

	fn, ok := app[timebox.EventType(api.EventTypeRunStarted)]
	assert.True(t, ok)
	ev := runEvent(t, api.EventTypeRunStarted, api.RunStartedEvent{})
	assert.Equal(t, 2, fn(1, ev))

	_, ok = app[timebox.EventType(api.EventTypeRunFailed)]
	assert.False(t, ok)
}

func TestDispatcherRoutesByType(t *testing.T) {
	var done []api.RunID
	handler := events.MakeDispatcher(map[api.EventType]timebox.Handler{
		api.EventTypeRunCompleted: timebox.MakeHandler(
			func(_ *timebox.Event, data api.RunCompletedEvent) error {
				done = append(done, data.RunID)
				return nil
			},
		),
	})

	assert.NoError(t, handler(runEvent(t,
		api.EventTypeRunCompleted, api.RunCompletedEvent{RunID: "a"},
	)))
	assert.NoError(t, handler(runEvent(t,
		api.EventTypeRunFailed, api.RunFailedEvent{RunID: "b"},
	)))
	assert.Equal(t, []api.RunID{"a"}, done)
}

func runEvent(t *testing.T, typ api.EventType, data any) *timebox.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	assert.NoError(t, err)
	return &timebox.Event{
		AggregateID: events.RunKey("run-1"),
		Type:        timebox.EventType(typ),
		Data:        raw,
	}
}
