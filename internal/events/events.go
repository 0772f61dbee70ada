package events

import (
	"github.com/kode4food/timebox"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/events"
)

// EventFilter selects events from the hub
type EventFilter func(*timebox.Event) bool

// FilterEvents matches events of any of the given types
func FilterEvents(eventTypes ...api.EventType) EventFilter {
	lookup := map[timebox.EventType]bool{}
	for _, et := range eventTypes {
		lookup[timebox.EventType(et)] = true
	}
	return func(ev *timebox.Event) bool {
		return lookup[ev.Type]
	}
}

// FilterRun matches events of a single run
func FilterRun(runID api.RunID) EventFilter {
	return func(ev *timebox.Event) bool {
		id, ok := events.RunIDOf(ev)
		return ok && id == runID
	}
}

// FilterRuns matches events of every run
func FilterRuns() EventFilter {
	return events.IsRunEvent
}

// AndFilters matches events accepted by every filter
func AndFilters(filters ...EventFilter) EventFilter {
	return func(ev *timebox.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

// OrFilters matches events accepted by any filter
func OrFilters(filters ...EventFilter) EventFilter {
	return func(ev *timebox.Event) bool {
		for _, filter := range filters {
			if filter(ev) {
				return true
			}
		}
		return false
	}
}
