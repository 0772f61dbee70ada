package api

import "time"

type (
	// EventType identifies the kind of ledger event
	EventType string

	// RunStartedEvent is emitted when a flow run is admitted
	RunStartedEvent struct {
		Input       Value    `json:"input,omitempty"`
		Metadata    Metadata `json:"metadata,omitempty"`
		RunID       RunID    `json:"run_id"`
		Flow        FlowName `json:"flow"`
		ParentRunID RunID    `json:"parent_run_id,omitempty"`
		ParentStep  StepName `json:"parent_step,omitempty"`
	}

	// RunCompletedEvent is emitted when a run reaches its completed state,
	// either by its body returning or by an explicit completion
	RunCompletedEvent struct {
		Result     Value       `json:"result,omitempty"`
		Completion *Completion `json:"completion,omitempty"`
		RunID      RunID       `json:"run_id"`
	}

	// RunFailedEvent is emitted when a run fails
	RunFailedEvent struct {
		RunID RunID    `json:"run_id"`
		Step  StepName `json:"step,omitempty"`
		Error string   `json:"error"`
	}

	// AttemptStartedEvent is emitted before a step body is invoked
	AttemptStartedEvent struct {
		Options StepOptions `json:"options"`
		RunID   RunID       `json:"run_id"`
		Step    StepName    `json:"step"`
		Attempt int         `json:"attempt"`
	}

	// AttemptSucceededEvent is emitted when a step body returns a value.
	// The value becomes the step's memoized result
	AttemptSucceededEvent struct {
		Value    Value    `json:"value,omitempty"`
		RunID    RunID    `json:"run_id"`
		Step     StepName `json:"step"`
		Attempt  int      `json:"attempt"`
		Duration int64    `json:"duration"`
	}

	// AttemptFailedEvent is emitted when a step body returns an error
	AttemptFailedEvent struct {
		RunID    RunID    `json:"run_id"`
		Step     StepName `json:"step"`
		Error    string   `json:"error"`
		Attempt  int      `json:"attempt"`
		Duration int64    `json:"duration"`
	}

	// AttemptTimedOutEvent is emitted when a step body exceeds its budget
	AttemptTimedOutEvent struct {
		RunID    RunID    `json:"run_id"`
		Step     StepName `json:"step"`
		Error    string   `json:"error"`
		Attempt  int      `json:"attempt"`
		Duration int64    `json:"duration"`
	}

	// AttemptInterruptedEvent is emitted during recovery for an attempt
	// that started but never recorded an outcome
	AttemptInterruptedEvent struct {
		RunID   RunID    `json:"run_id"`
		Step    StepName `json:"step"`
		Attempt int      `json:"attempt"`
	}

	// RetryScheduledEvent is emitted when a failed step will be attempted
	// again no earlier than NextRetryAt
	RetryScheduledEvent struct {
		NextRetryAt time.Time `json:"next_retry_at"`
		RunID       RunID     `json:"run_id"`
		Step        StepName  `json:"step"`
		Error       string    `json:"error,omitempty"`
		Attempt     int       `json:"attempt"`
	}

	// StepFailedEvent is emitted when a step has exhausted its retries
	StepFailedEvent struct {
		RunID    RunID    `json:"run_id"`
		Step     StepName `json:"step"`
		Error    string   `json:"error"`
		Attempts int      `json:"attempts"`
		TimedOut bool     `json:"timed_out,omitempty"`
	}

	// ChildSpawnedEvent is emitted when a step attempt creates a child run
	ChildSpawnedEvent struct {
		RunID      RunID    `json:"run_id"`
		Step       StepName `json:"step"`
		ChildRunID RunID    `json:"child_run_id"`
		Flow       FlowName `json:"flow"`
		Attempt    int      `json:"attempt"`
	}

	// PageAddedEvent is emitted when a run records a UI page
	PageAddedEvent struct {
		Content Value    `json:"content"`
		RunID   RunID    `json:"run_id"`
		Page    PageName `json:"page"`
		Step    StepName `json:"step,omitempty"`
	}
)

const (
	EventTypeRunStarted         EventType = "run_started"
	EventTypeRunCompleted       EventType = "run_completed"
	EventTypeRunFailed          EventType = "run_failed"
	EventTypeAttemptStarted     EventType = "attempt_started"
	EventTypeAttemptSucceeded   EventType = "attempt_succeeded"
	EventTypeAttemptFailed      EventType = "attempt_failed"
	EventTypeAttemptTimedOut    EventType = "attempt_timed_out"
	EventTypeAttemptInterrupted EventType = "attempt_interrupted"
	EventTypeRetryScheduled     EventType = "retry_scheduled"
	EventTypeStepFailed         EventType = "step_failed"
	EventTypeChildSpawned       EventType = "child_spawned"
	EventTypePageAdded          EventType = "page_added"
)

// IsTerminalEvent returns true if the event type ends a run
func (t EventType) IsTerminalEvent() bool {
	return t == EventTypeRunCompleted || t == EventTypeRunFailed
}
