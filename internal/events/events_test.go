package events_test

import (
	"testing"

	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/events"
	"github.com/kode4food/tartan/pkg/api"
	pkgevents "github.com/kode4food/tartan/pkg/events"
)

func TestFilterEvents(t *testing.T) {
	filter := events.FilterEvents(
		api.EventTypeRunStarted,
		api.EventTypeRunCompleted,
	)

	assert.True(t, filter(runEvent("r", api.EventTypeRunStarted)))
	assert.True(t, filter(runEvent("r", api.EventTypeRunCompleted)))
	assert.False(t, filter(runEvent("r", api.EventTypeRunFailed)))
}

func TestFilterRun(t *testing.T) {
	filter := events.FilterRun("run-123")

	assert.True(t, filter(runEvent("run-123", api.EventTypeRunStarted)))
	assert.False(t, filter(runEvent("run-456", api.EventTypeRunStarted)))
	assert.False(t, filter(runEvent("run-123:step:1", api.EventTypeRunStarted)))
	assert.False(t, filter(&timebox.Event{
		AggregateID: timebox.NewAggregateID("engine"),
	}))
}

func TestFilterRuns(t *testing.T) {
	filter := events.FilterRuns()

	assert.True(t, filter(runEvent("any", api.EventTypePageAdded)))
	assert.False(t, filter(&timebox.Event{
		AggregateID: timebox.NewAggregateID("engine", "x"),
	}))
}

func TestAndFilters(t *testing.T) {
	filter := events.AndFilters(
		events.FilterRun("run-1"),
		events.FilterEvents(api.EventTypeRunFailed),
	)

	assert.True(t, filter(runEvent("run-1", api.EventTypeRunFailed)))
	assert.False(t, filter(runEvent("run-1", api.EventTypeRunStarted)))
	assert.False(t, filter(runEvent("run-2", api.EventTypeRunFailed)))
	assert.True(t, events.AndFilters()(runEvent("x", api.EventTypeRunFailed)))
}

func TestOrFilters(t *testing.T) {
	filter := events.OrFilters(
		events.FilterEvents(api.EventTypeRunStarted),
		events.FilterEvents(api.EventTypeRunCompleted),
	)

	assert.True(t, filter(runEvent("r", api.EventTypeRunStarted)))
	assert.True(t, filter(runEvent("r", api.EventTypeRunCompleted)))
	assert.False(t, filter(runEvent("r", api.EventTypeRunFailed)))
	assert.False(t, events.OrFilters()(runEvent("r", api.EventTypeRunFailed)))
}

func runEvent(id api.RunID, typ api.EventType) *timebox.Event {
	return &timebox.Event{
		AggregateID: pkgevents.RunKey(id),
		Type:        timebox.EventType(typ),
	}
}
