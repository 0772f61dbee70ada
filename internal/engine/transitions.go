package engine

import (
	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/util"
)

// StateTransitions maps states to their set of valid next states
type StateTransitions[T comparable] map[T]util.Set[T]

var (
	runTransitions = StateTransitions[api.RunStatus]{
		api.RunPending: util.SetOf(
			api.RunRunning,
		),
		api.RunRunning: util.SetOf(
			api.RunCompleted,
			api.RunFailed,
		),
		api.RunCompleted: {},
		api.RunFailed:    {},
	}

	// A step with no record yet is in the zero status
	stepTransitions = StateTransitions[api.StepStatus]{
		"": util.SetOf(
			api.StepActive,
		),
		api.StepActive: util.SetOf(
			api.StepActive,
			api.StepSucceeded,
			api.StepFailed,
			api.StepTimedOut,
		),
		api.StepSucceeded: {},
		api.StepFailed:    {},
		api.StepTimedOut:  {},
	}
)

// CanTransition returns whether transition from one state to another is valid
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed.Contains(to)
}

// IsTerminal returns true if the state has no valid transitions
func (t StateTransitions[T]) IsTerminal(state T) bool {
	allowed, ok := t[state]
	return ok && allowed.IsEmpty()
}
