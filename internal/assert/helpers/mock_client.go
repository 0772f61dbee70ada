package helpers

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kode4food/tartan/internal/client"
	"github.com/kode4food/tartan/pkg/api"
)

// MockClient is a simple mock implementation of client.Client for testing.
// Responses and errors are keyed by endpoint
type MockClient struct {
	responses map[string]any
	errors    map[string]error
	invoked   []string
	metadata  map[string][]api.Metadata
	invokedCh map[string]chan struct{}
	mu        sync.Mutex
}

var _ client.Client = (*MockClient)(nil)

// NewMockClient creates a mock step client that allows setting responses
// and errors for specific endpoints
func NewMockClient() *MockClient {
	return &MockClient{
		responses: map[string]any{},
		errors:    map[string]error{},
		invoked:   []string{},
		metadata:  map[string][]api.Metadata{},
		invokedCh: map[string]chan struct{}{},
	}
}

// Invoke records the invocation and returns the configured response or error
func (c *MockClient) Invoke(
	_ context.Context, endpoint string, _ api.Args, md api.Metadata,
) (api.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invoked = append(c.invoked, endpoint)
	c.metadata[endpoint] = append(c.metadata[endpoint], md)
	if ch, ok := c.invokedCh[endpoint]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	if err, ok := c.errors[endpoint]; ok {
		return nil, err
	}

	if output, ok := c.responses[endpoint]; ok {
		return api.NewValue(output)
	}

	return nil, nil
}

// SetResponse configures the mock to return a specific output for an
// endpoint
func (c *MockClient) SetResponse(endpoint string, output any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[endpoint] = output
}

// SetError configures the mock to fail calls to an endpoint
func (c *MockClient) SetError(endpoint string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[endpoint] = err
}

// ClearError removes a configured error for an endpoint
func (c *MockClient) ClearError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.errors, endpoint)
}

// GetInvocations returns every endpoint invoked, in order
func (c *MockClient) GetInvocations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.invoked)
}

// InvocationCount returns how many times an endpoint was invoked
func (c *MockClient) InvocationCount(endpoint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := 0
	for _, e := range c.invoked {
		if e == endpoint {
			res++
		}
	}
	return res
}

// WasInvoked returns whether an endpoint was invoked at least once
func (c *MockClient) WasInvoked(endpoint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.invoked, endpoint)
}

// WaitForInvocation blocks until an endpoint is invoked or the timeout
// expires
func (c *MockClient) WaitForInvocation(
	endpoint string, timeout time.Duration,
) bool {
	c.mu.Lock()
	if slices.Contains(c.invoked, endpoint) {
		c.mu.Unlock()
		return true
	}
	ch, ok := c.invokedCh[endpoint]
	if !ok {
		ch = make(chan struct{}, 1)
		c.invokedCh[endpoint] = ch
	}
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return c.WasInvoked(endpoint)
	}
}

// LastMetadata returns the most recent metadata passed for an endpoint
func (c *MockClient) LastMetadata(endpoint string) api.Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.metadata[endpoint]
	if len(entries) == 0 {
		return nil
	}
	return entries[len(entries)-1]
}
