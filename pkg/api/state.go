package api

import (
	"maps"
	"slices"
	"time"
)

type (
	// RunStatus represents the lifecycle state of a flow run
	RunStatus string

	// StepStatus represents the state of a step record
	StepStatus string

	// Outcome represents how a single attempt ended
	Outcome string

	// RunState is the projected ledger of one flow run
	RunState struct {
		CreatedAt   time.Time                `json:"created_at"`
		CompletedAt time.Time                `json:"completed_at,omitzero"`
		LastUpdated time.Time                `json:"last_updated"`
		Steps       map[StepName]*StepRecord `json:"steps"`
		Pages       []*Page                  `json:"pages,omitempty"`
		Completion  *Completion              `json:"completion,omitempty"`
		Metadata    Metadata                 `json:"metadata,omitempty"`
		Input       Value                    `json:"input,omitempty"`
		Result      Value                    `json:"result,omitempty"`
		ID          RunID                    `json:"id"`
		Flow        FlowName                 `json:"flow"`
		ParentRunID RunID                    `json:"parent_run_id,omitempty"`
		ParentStep  StepName                 `json:"parent_step,omitempty"`
		Status      RunStatus                `json:"status"`
		Error       string                   `json:"error,omitempty"`
		StepOrder   []StepName               `json:"step_order"`
	}

	// StepRecord is the execution history of one named step within a run
	StepRecord struct {
		NextRetryAt time.Time   `json:"next_retry_at,omitzero"`
		Options     StepOptions `json:"options"`
		Result      Value       `json:"result,omitempty"`
		Name        StepName    `json:"name"`
		Status      StepStatus  `json:"status"`
		Error       string      `json:"error,omitempty"`
		Attempts    []*Attempt  `json:"attempts"`
	}

	// Attempt is one execution try of a step
	Attempt struct {
		StartedAt  time.Time `json:"started_at"`
		Value      Value     `json:"value,omitempty"`
		Outcome    Outcome   `json:"outcome,omitempty"`
		Error      string    `json:"error,omitempty"`
		ChildRunID RunID     `json:"child_run_id,omitempty"`
		Number     int       `json:"number"`
		Duration   int64     `json:"duration,omitempty"`
	}

	// Page is a named description of human-facing content emitted by a run
	Page struct {
		CreatedAt time.Time `json:"created_at"`
		Content   Value     `json:"content"`
		Name      PageName  `json:"name"`
		Step      StepName  `json:"step,omitempty"`
	}

	// Completion is a terminal, user-supplied payload that ends a run early
	Completion struct {
		Title   string `json:"title,omitempty"`
		Content string `json:"content,omitempty"`
		Data    Value  `json:"data,omitempty"`
	}

	// Task is the parent-linked view of a run, used for spawned children
	Task struct {
		ID          RunID     `json:"id"`
		ParentRunID RunID     `json:"parent_run_id,omitempty"`
		Input       Value     `json:"input,omitempty"`
		Output      Value     `json:"output,omitempty"`
		Status      RunStatus `json:"status"`
	}
)

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

const (
	StepActive    StepStatus = "active"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepTimedOut  StepStatus = "timed_out"
)

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeInterrupted Outcome = "interrupted"
)

// IsTerminal returns true if the run can no longer change state
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// IsTerminal returns true if the step can no longer be attempted
func (s StepStatus) IsTerminal() bool {
	return s == StepSucceeded || s == StepFailed || s == StepTimedOut
}

// IsOpen returns true if the attempt has started but has no outcome
func (a *Attempt) IsOpen() bool {
	return a.Outcome == ""
}

// SetStatus returns a new RunState with the updated status
func (st *RunState) SetStatus(s RunStatus) *RunState {
	res := *st
	res.Status = s
	return &res
}

// SetError returns a new RunState with the error message set
func (st *RunState) SetError(err string) *RunState {
	res := *st
	res.Error = err
	return &res
}

// SetResult returns a new RunState with the result value set
func (st *RunState) SetResult(v Value) *RunState {
	res := *st
	res.Result = v
	return &res
}

// SetCompletion returns a new RunState with the completion payload set
func (st *RunState) SetCompletion(c *Completion) *RunState {
	res := *st
	res.Completion = c
	return &res
}

// SetCompletedAt returns a new RunState with the completion timestamp set
func (st *RunState) SetCompletedAt(t time.Time) *RunState {
	res := *st
	res.CompletedAt = t
	return &res
}

// SetLastUpdated returns a new RunState with last updated time set
func (st *RunState) SetLastUpdated(t time.Time) *RunState {
	res := *st
	res.LastUpdated = t
	return &res
}

// SetStep returns a new RunState with the step record replaced. A step not
// yet known to the run is appended to the step order
func (st *RunState) SetStep(name StepName, rec *StepRecord) *RunState {
	res := *st
	res.Steps = maps.Clone(st.Steps)
	if res.Steps == nil {
		res.Steps = map[StepName]*StepRecord{}
	}
	if _, ok := st.Steps[name]; !ok {
		res.StepOrder = append(slices.Clone(st.StepOrder), name)
	}
	res.Steps[name] = rec
	return &res
}

// AddPage returns a new RunState with the page appended
func (st *RunState) AddPage(p *Page) *RunState {
	res := *st
	res.Pages = append(slices.Clone(st.Pages), p)
	return &res
}

// GetPage returns the named page if it has been recorded
func (st *RunState) GetPage(name PageName) (*Page, bool) {
	for _, p := range st.Pages {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// OrderedSteps returns the step records in the order steps were first
// reached by the run
func (st *RunState) OrderedSteps() []*StepRecord {
	res := make([]*StepRecord, 0, len(st.StepOrder))
	for _, name := range st.StepOrder {
		if rec, ok := st.Steps[name]; ok {
			res = append(res, rec)
		}
	}
	return res
}

// Task returns the task view of the run
func (st *RunState) Task() *Task {
	t := &Task{
		ID:          st.ID,
		ParentRunID: st.ParentRunID,
		Input:       st.Input,
		Status:      st.Status,
	}
	if st.Status == RunCompleted {
		t.Output = st.Output()
	}
	return t
}

// Output returns the value a completed run hands to its parent: the
// completion payload when the run completed early, otherwise the body's
// result
func (st *RunState) Output() Value {
	if st.Completion != nil {
		return MustValue(st.Completion)
	}
	return st.Result
}

// SetStatus returns a new StepRecord with the updated status
func (r *StepRecord) SetStatus(s StepStatus) *StepRecord {
	res := *r
	res.Status = s
	return &res
}

// SetResult returns a new StepRecord with the memoized result set
func (r *StepRecord) SetResult(v Value) *StepRecord {
	res := *r
	res.Result = v
	return &res
}

// SetError returns a new StepRecord with the error message set
func (r *StepRecord) SetError(err string) *StepRecord {
	res := *r
	res.Error = err
	return &res
}

// SetNextRetryAt returns a new StepRecord with the next retry time set
func (r *StepRecord) SetNextRetryAt(t time.Time) *StepRecord {
	res := *r
	res.NextRetryAt = t
	return &res
}

// SetOptions returns a new StepRecord with the options set
func (r *StepRecord) SetOptions(o StepOptions) *StepRecord {
	res := *r
	res.Options = o
	return &res
}

// AddAttempt returns a new StepRecord with the attempt appended
func (r *StepRecord) AddAttempt(a *Attempt) *StepRecord {
	res := *r
	res.Attempts = append(slices.Clone(r.Attempts), a)
	return &res
}

// SetAttempt returns a new StepRecord with the numbered attempt replaced
func (r *StepRecord) SetAttempt(a *Attempt) *StepRecord {
	res := *r
	res.Attempts = slices.Clone(r.Attempts)
	for i, existing := range res.Attempts {
		if existing.Number == a.Number {
			res.Attempts[i] = a
			return &res
		}
	}
	res.Attempts = append(res.Attempts, a)
	return &res
}

// LastAttempt returns the most recent attempt, if any
func (r *StepRecord) LastAttempt() (*Attempt, bool) {
	if len(r.Attempts) == 0 {
		return nil, false
	}
	return r.Attempts[len(r.Attempts)-1], true
}

// GetAttempt returns the numbered attempt, if recorded
func (r *StepRecord) GetAttempt(num int) (*Attempt, bool) {
	for _, a := range r.Attempts {
		if a.Number == num {
			return a, true
		}
	}
	return nil, false
}

// SetOutcome returns a new Attempt with the outcome set
func (a *Attempt) SetOutcome(o Outcome) *Attempt {
	res := *a
	res.Outcome = o
	return &res
}

// SetValue returns a new Attempt with the produced value set
func (a *Attempt) SetValue(v Value) *Attempt {
	res := *a
	res.Value = v
	return &res
}

// SetError returns a new Attempt with the error message set
func (a *Attempt) SetError(err string) *Attempt {
	res := *a
	res.Error = err
	return &res
}

// SetDuration returns a new Attempt with its duration set
func (a *Attempt) SetDuration(ms int64) *Attempt {
	res := *a
	res.Duration = ms
	return &res
}

// SetChildRunID returns a new Attempt linked to the spawned child run
func (a *Attempt) SetChildRunID(id RunID) *Attempt {
	res := *a
	res.ChildRunID = id
	return &res
}
