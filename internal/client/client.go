package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kode4food/tartan"
	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/log"
)

type (
	// Client invokes a remote step service
	Client interface {
		Invoke(
			ctx context.Context, endpoint string, args api.Args,
			meta api.Metadata,
		) (api.Value, error)
	}

	// HTTPClient posts step requests as JSON over HTTP
	HTTPClient struct {
		httpClient *http.Client
	}
)

const maxErrorBody = 512

var (
	ErrStepUnsuccessful = errors.New("step returned success=false")
	ErrHTTPError        = errors.New("step returned HTTP error")
	ErrNoEndpoint       = errors.New("step has no endpoint")
)

var (
	_ Client = (*HTTPClient)(nil)

	userAgent = fmt.Sprintf("%s/%s", tartan.Name, tartan.Version)
)

// NewHTTPClient creates a client whose requests are bounded by timeout. A
// zero timeout leaves requests bounded only by their context
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Invoke posts the arguments to endpoint and returns the service's output
func (c *HTTPClient) Invoke(
	ctx context.Context, endpoint string, args api.Args, meta api.Metadata,
) (api.Value, error) {
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}

	body, err := json.Marshal(api.StepRequest{
		Arguments: args,
		Metadata:  meta,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	dur := time.Since(start)

	if err != nil {
		slog.Warn("Step request failed",
			slog.String("endpoint", endpoint),
			slog.Duration("duration", dur),
			log.Error(err))
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Step returned HTTP error",
			slog.String("endpoint", endpoint),
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", truncate(respBody)))
		return nil, fmt.Errorf("%w: HTTP %d", ErrHTTPError, resp.StatusCode)
	}

	var res api.StepResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return nil, err
	}

	if !res.Success {
		if res.Error == "" {
			return nil, ErrStepUnsuccessful
		}
		return nil, fmt.Errorf("%w: %s", ErrStepUnsuccessful, res.Error)
	}
	return res.Output, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody])
	}
	return string(b)
}
