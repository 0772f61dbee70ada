package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/tartan/internal/engine"
	"github.com/kode4food/tartan/internal/engine/flowopt"
	"github.com/kode4food/tartan/pkg/api"
)

func (s *Server) listFlows(c *gin.Context) {
	flows := s.engine.ListFlows()
	c.JSON(http.StatusOK, api.FlowsListResponse{
		Flows: flows,
		Count: len(flows),
	})
}

func (s *Server) startRun(c *gin.Context) {
	var req api.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, wrapError(ErrInvalidJSON, err))
		return
	}
	if err := req.Validate(); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	id, err := s.engine.StartRun(
		c.Request.Context(), req.Flow, flowopt.FromRequest(&req)...,
	)
	if err == nil {
		c.JSON(http.StatusCreated, api.RunStartedResponse{
			Message: "run started",
			RunID:   id,
		})
		return
	}

	switch {
	case errors.Is(err, engine.ErrFlowNotFound):
		errorJSON(c, http.StatusNotFound, err)
	case errors.Is(err, engine.ErrRunExists):
		errorJSON(c, http.StatusConflict, err)
	case errors.Is(err, engine.ErrEngineStopped):
		errorJSON(c, http.StatusServiceUnavailable, err)
	default:
		errorJSON(c, http.StatusInternalServerError,
			wrapError(ErrStartRun, err))
	}
}

func (s *Server) listRuns(c *gin.Context) {
	runs, err := s.engine.ListActiveRuns(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError,
			wrapError(ErrListRuns, err))
		return
	}

	digests := make([]*api.RunDigest, len(runs))
	for i, st := range runs {
		digests[i] = st.Digest()
	}
	c.JSON(http.StatusOK, api.RunsListResponse{
		Runs:  digests,
		Count: len(digests),
	})
}

func (s *Server) getRun(c *gin.Context) {
	if st, ok := s.runState(c); ok {
		c.JSON(http.StatusOK, st)
	}
}

func (s *Server) listSteps(c *gin.Context) {
	st, ok := s.runState(c)
	if !ok {
		return
	}
	steps := st.OrderedSteps()
	c.JSON(http.StatusOK, api.StepsListResponse{
		Steps: steps,
		Count: len(steps),
	})
}

func (s *Server) getStep(c *gin.Context) {
	st, ok := s.runState(c)
	if !ok {
		return
	}
	name := api.StepName(c.Param("step"))
	rec, ok := st.Steps[name]
	if !ok {
		errorJSON(c, http.StatusNotFound, engine.ErrStepNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) listPages(c *gin.Context) {
	st, ok := s.runState(c)
	if !ok {
		return
	}
	pages := st.Pages
	if pages == nil {
		pages = []*api.Page{}
	}
	c.JSON(http.StatusOK, api.PagesListResponse{
		Pages: pages,
		Count: len(pages),
	})
}

func (s *Server) getTask(c *gin.Context) {
	if st, ok := s.runState(c); ok {
		c.JSON(http.StatusOK, st.Task())
	}
}

// runState loads the run named by the request path, writing the error
// response itself when it cannot
func (s *Server) runState(c *gin.Context) (*api.RunState, bool) {
	id := api.RunID(c.Param("runID"))
	st, err := s.engine.GetRunState(c.Request.Context(), id)
	if err == nil {
		return st, true
	}
	if errors.Is(err, engine.ErrRunNotFound) {
		errorJSON(c, http.StatusNotFound, err)
		return nil, false
	}
	errorJSON(c, http.StatusInternalServerError, wrapError(ErrGetRun, err))
	return nil, false
}
