package engine

import (
	"sync"

	"github.com/kode4food/tartan/pkg/api"
)

// waiters wakes goroutines blocked on a run reaching a terminal state.
// Wakeups are hints: a woken waiter re-reads the ledger
type waiters struct {
	mu   sync.Mutex
	byID map[api.RunID]map[chan struct{}]struct{}
}

func newWaiters() *waiters {
	return &waiters{
		byID: map[api.RunID]map[chan struct{}]struct{}{},
	}
}

func (w *waiters) add(id api.RunID) chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan struct{}, 1)
	set, ok := w.byID[id]
	if !ok {
		set = map[chan struct{}]struct{}{}
		w.byID[id] = set
	}
	set[ch] = struct{}{}
	return ch
}

func (w *waiters) remove(id api.RunID, ch chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	set, ok := w.byID[id]
	if !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(w.byID, id)
	}
}

func (w *waiters) notify(id api.RunID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for ch := range w.byID[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
