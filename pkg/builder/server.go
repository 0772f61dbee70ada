package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/util"
)

// StepServer hosts one or more step handlers, each at /<name>, alongside a
// /health endpoint
type StepServer struct {
	mux      *http.ServeMux
	names    util.Set[string]
	hostname string
	port     int
	mu       sync.Mutex
}

const (
	DefaultStepPort     = 8081
	DefaultStepHostname = "localhost"

	stepShutdownTimeout = 5 * time.Second
)

var (
	ErrStepNameEmpty  = errors.New("step name empty")
	ErrStepNameTaken  = errors.New("step name already served")
	ErrStepNameFormat = errors.New("step name contains invalid characters")
)

// NewStepServer creates a server that listens on the given port and
// advertises endpoints under hostname
func NewStepServer(hostname string, port int) *StepServer {
	s := &StepServer{
		mux:      http.NewServeMux(),
		names:    util.Set[string]{},
		hostname: hostname,
		port:     port,
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// NewStepServerFromEnv creates a server from STEP_HOSTNAME and STEP_PORT,
// falling back to the defaults when they are unset or invalid
func NewStepServerFromEnv() *StepServer {
	hostname := os.Getenv("STEP_HOSTNAME")
	if hostname == "" {
		hostname = DefaultStepHostname
	}
	port := DefaultStepPort
	if p, err := strconv.Atoi(os.Getenv("STEP_PORT")); err == nil && p > 0 {
		port = p
	}
	return NewStepServer(hostname, port)
}

// Handle serves the handler at /<name>
func (s *StepServer) Handle(name string, handle StepHandler) error {
	if name == "" {
		return ErrStepNameEmpty
	}
	if api.SanitizeID(name) != name {
		return fmt.Errorf("%w: %s", ErrStepNameFormat, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.names.Add(name) {
		return fmt.Errorf("%w: %s", ErrStepNameTaken, name)
	}
	s.mux.Handle("/"+name, NewStepHandler(handle))
	return nil
}

// Endpoint returns the URL an engine should Call to reach the named step
func (s *StepServer) Endpoint(name string) string {
	return fmt.Sprintf("http://%s/%s", s.Addr(), name)
}

// Addr returns the advertised host and port
func (s *StepServer) Addr() string {
	return net.JoinHostPort(s.hostname, strconv.Itoa(s.port))
}

// Handler returns the server's routes
func (s *StepServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *StepServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Step server starting",
			slog.String("addr", s.Addr()),
			slog.Any("steps", s.Names()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), stepShutdownTimeout,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("Step server stopped")
	return nil
}

// Names returns the served step names
func (s *StepServer) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return util.Sorted(s.names)
}

func (s *StepServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "healthy",
		"steps":  s.Names(),
	})
}
