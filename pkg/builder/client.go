package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kode4food/tartan/pkg/api"
)

type (
	// Client talks to a tartan engine's HTTP API
	Client struct {
		httpClient *http.Client
		baseURL    string
	}

	// RunClient is a Client bound to a single run
	RunClient struct {
		client *Client
		runID  api.RunID
	}
)

const (
	DefaultEngineURL    = "http://localhost:8080"
	DefaultPollInterval = 250 * time.Millisecond

	routeFlows = "/engine/flow"
	routeRuns  = "/engine/run"
)

var (
	ErrStartRun   = errors.New("failed to start run")
	ErrGetRun     = errors.New("failed to get run")
	ErrListRuns   = errors.New("failed to list runs")
	ErrListFlows  = errors.New("failed to list flows")
	ErrListSteps  = errors.New("failed to list steps")
	ErrGetStep    = errors.New("failed to get step")
	ErrListPages  = errors.New("failed to list pages")
	ErrGetTask    = errors.New("failed to get task")
	ErrNoRunID    = errors.New("run_id not found in step metadata")
	ErrHTTPStatus = errors.New("unexpected HTTP status")
)

// NewClient creates a client for the engine at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListFlows returns the flows registered with the engine
func (c *Client) ListFlows(
	ctx context.Context,
) (*api.FlowsListResponse, error) {
	var res api.FlowsListResponse
	if err := c.get(ctx, ErrListFlows, &res, routeFlows); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListRuns returns digests of the runs that have not yet finished
func (c *Client) ListRuns(ctx context.Context) (*api.RunsListResponse, error) {
	var res api.RunsListResponse
	if err := c.get(ctx, ErrListRuns, &res, routeRuns); err != nil {
		return nil, err
	}
	return &res, nil
}

// StartRun starts a run of the named flow. The input is encoded as the
// run's input value
func (c *Client) StartRun(
	ctx context.Context, flow api.FlowName, input any,
) (*RunClient, error) {
	v, err := api.NewValue(input)
	if err != nil {
		return nil, err
	}
	return c.StartRunWithRequest(ctx, api.StartRunRequest{
		Flow:  flow,
		Input: v,
	})
}

// StartRunWithRequest starts a run as described by req
func (c *Client) StartRunWithRequest(
	ctx context.Context, req api.StartRunRequest,
) (*RunClient, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var res api.RunStartedResponse
	err = c.do(ctx, http.MethodPost, c.url(routeRuns), data,
		http.StatusCreated, ErrStartRun, &res,
	)
	if err != nil {
		return nil, err
	}
	return c.Run(res.RunID), nil
}

// Run returns a RunClient for an existing run
func (c *Client) Run(id api.RunID) *RunClient {
	return &RunClient{
		client: c,
		runID:  id,
	}
}

// RunFromContext returns a RunClient for the run a step request came from
func (c *Client) RunFromContext(sc *StepContext) (*RunClient, error) {
	id := sc.RunID()
	if id == "" {
		return nil, ErrNoRunID
	}
	return c.Run(id), nil
}

// ID returns the run's ID
func (rc *RunClient) ID() api.RunID {
	return rc.runID
}

// GetState returns the run's projected state
func (rc *RunClient) GetState(ctx context.Context) (*api.RunState, error) {
	var res api.RunState
	if err := rc.client.get(ctx, ErrGetRun, &res, rc.path()); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListSteps returns the run's step records in the order they were reached
func (rc *RunClient) ListSteps(
	ctx context.Context,
) (*api.StepsListResponse, error) {
	var res api.StepsListResponse
	err := rc.client.get(ctx, ErrListSteps, &res, rc.path("steps"))
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetStep returns a single step record
func (rc *RunClient) GetStep(
	ctx context.Context, name api.StepName,
) (*api.StepRecord, error) {
	var res api.StepRecord
	err := rc.client.get(ctx, ErrGetStep, &res,
		rc.path("steps", string(name)),
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListPages returns the pages the run has emitted
func (rc *RunClient) ListPages(
	ctx context.Context,
) (*api.PagesListResponse, error) {
	var res api.PagesListResponse
	err := rc.client.get(ctx, ErrListPages, &res, rc.path("pages"))
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetTask returns the parent-linked view of the run
func (rc *RunClient) GetTask(ctx context.Context) (*api.Task, error) {
	var res api.Task
	if err := rc.client.get(ctx, ErrGetTask, &res, rc.path("task")); err != nil {
		return nil, err
	}
	return &res, nil
}

// Wait polls the run until it reaches a terminal state
func (rc *RunClient) Wait(
	ctx context.Context, interval time.Duration,
) (*api.RunState, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := rc.GetState(ctx)
		if err != nil {
			return nil, err
		}
		if st.Status.IsTerminal() {
			return st, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (rc *RunClient) path(parts ...string) string {
	res := routeRuns + "/" + url.PathEscape(string(rc.runID))
	for _, p := range parts {
		res += "/" + url.PathEscape(p)
	}
	return res
}

func (c *Client) get(
	ctx context.Context, base error, out any, path string,
) error {
	return c.do(ctx, http.MethodGet, c.url(path), nil, http.StatusOK, base, out)
}

func (c *Client) do(
	ctx context.Context, method, target string, body []byte, want int,
	base error, out any,
) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		return fmt.Errorf("%w: %w", base, statusError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", base, err)
	}
	return nil
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// StatusError reports a non-success response from the engine
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %d", ErrHTTPStatus, e.Status)
	}
	return fmt.Sprintf("%s: %d: %s", ErrHTTPStatus, e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrHTTPStatus
}

func statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	res := &StatusError{Status: resp.StatusCode}
	var er api.ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		res.Message = er.Error
	} else {
		res.Message = string(bytes.TrimSpace(body))
	}
	return res
}
