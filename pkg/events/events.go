package events

import (
	"github.com/kode4food/timebox"

	"github.com/kode4food/tartan/pkg/api"
)

// MakeAppliers keys an applier table by timebox event type so executors
// can project run aggregates with it
func MakeAppliers[T any](
	app map[api.EventType]timebox.Applier[T],
) timebox.Appliers[T] {
	return retype(app)
}

// MakeDispatcher builds a timebox handler that routes events by type.
// Events of unlisted types are ignored
func MakeDispatcher(
	handlers map[api.EventType]timebox.Handler,
) timebox.Handler {
	return timebox.MakeDispatcher(retype(handlers))
}

// Raise enqueues a typed event on the aggregator. Nothing is persisted
// until the surrounding executor commits
func Raise[T, E any](
	ag *timebox.Aggregator[T], typ api.EventType, data E,
) error {
	return ag.Raise(timebox.EventType(typ), data)
}

func retype[V any](m map[api.EventType]V) map[timebox.EventType]V {
	res := make(map[timebox.EventType]V, len(m))
	for typ, v := range m {
		res[timebox.EventType(typ)] = v
	}
	return res
}
