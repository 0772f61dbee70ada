package api

import (
	"errors"
	"strings"
	"time"
)

type (
	// StartRunRequest contains parameters for starting a new flow run
	StartRunRequest struct {
		Input    Value    `json:"input,omitempty"`
		Metadata Metadata `json:"metadata,omitempty"`
		ID       RunID    `json:"id,omitempty"`
		Flow     FlowName `json:"flow"`
	}

	// RunStartedResponse is returned when a run start succeeds
	RunStartedResponse struct {
		Message string `json:"message"`
		RunID   RunID  `json:"run_id"`
	}

	// RunDigest provides summary information about a run
	RunDigest struct {
		CreatedAt   time.Time `json:"created_at"`
		CompletedAt time.Time `json:"completed_at,omitzero"`
		ID          RunID     `json:"id"`
		Flow        FlowName  `json:"flow"`
		ParentRunID RunID     `json:"parent_run_id,omitempty"`
		Status      RunStatus `json:"status"`
		Error       string    `json:"error,omitempty"`
	}

	// RunsListResponse contains a list of run summaries
	RunsListResponse struct {
		Runs  []*RunDigest `json:"runs"`
		Count int          `json:"count"`
	}

	// FlowsListResponse contains the registered flow names
	FlowsListResponse struct {
		Flows []FlowName `json:"flows"`
		Count int        `json:"count"`
	}

	// StepsListResponse contains a run's step records in execution order
	StepsListResponse struct {
		Steps []*StepRecord `json:"steps"`
		Count int           `json:"count"`
	}

	// PagesListResponse contains a run's pages in emission order
	PagesListResponse struct {
		Pages []*Page `json:"pages"`
		Count int     `json:"count"`
	}

	// HealthResponse provides service health information
	HealthResponse struct {
		Service string `json:"service"`
		Version string `json:"version"`
		Status  string `json:"status"`
		Runs    int    `json:"runs"`
	}

	// ErrorResponse is returned when an API request fails
	ErrorResponse struct {
		Error   string `json:"error"`
		Details string `json:"details,omitempty"`
		Status  int    `json:"status"`
	}
)

// Digest returns the summary view of the run
func (st *RunState) Digest() *RunDigest {
	return &RunDigest{
		ID:          st.ID,
		Flow:        st.Flow,
		ParentRunID: st.ParentRunID,
		Status:      st.Status,
		Error:       st.Error,
		CreatedAt:   st.CreatedAt,
		CompletedAt: st.CompletedAt,
	}
}

var (
	ErrFlowNameEmpty = errors.New("flow name empty")
	ErrRunIDInvalid  = errors.New("run ID contains reserved characters")
)

// Validate checks that the request names a flow and that a caller-supplied
// run ID does not collide with the child run ID format
func (r *StartRunRequest) Validate() error {
	if r.Flow == "" {
		return ErrFlowNameEmpty
	}
	if strings.Contains(string(r.ID), ":") {
		return ErrRunIDInvalid
	}
	return nil
}
