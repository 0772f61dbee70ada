package builder

import (
	"context"
	"log/slog"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/log"
)

// StepContext carries one request from an engine to a step service: its
// arguments and the run, step, and attempt being served
type StepContext struct {
	context.Context
	args     api.Args
	metadata api.Metadata
	logger   *slog.Logger
}

const (
	MetaRunID   = "run_id"
	MetaFlow    = "flow"
	MetaStep    = "step"
	MetaAttempt = "attempt"
)

// NewStepContext creates a StepContext for the given request
func NewStepContext(
	ctx context.Context, args api.Args, meta api.Metadata,
) *StepContext {
	if args == nil {
		args = api.Args{}
	}
	if meta == nil {
		meta = api.Metadata{}
	}
	sc := &StepContext{
		Context:  ctx,
		args:     args,
		metadata: meta,
	}
	sc.logger = slog.With(
		log.RunID(sc.RunID()),
		log.StepName(sc.Step()),
		log.Attempt(sc.Attempt()),
	)
	return sc
}

// RunID returns the run the step belongs to
func (s *StepContext) RunID() api.RunID {
	return api.RunID(metaString(s.metadata, MetaRunID))
}

// Flow returns the flow the run is executing
func (s *StepContext) Flow() api.FlowName {
	return api.FlowName(metaString(s.metadata, MetaFlow))
}

// Step returns the step name within the run
func (s *StepContext) Step() api.StepName {
	return api.StepName(metaString(s.metadata, MetaStep))
}

// Attempt returns the 1-based attempt number. A service can use the run,
// step, and attempt together as an idempotency key
func (s *StepContext) Attempt() int {
	return toInt(s.metadata[MetaAttempt])
}

// Args returns all step input arguments
func (s *StepContext) Args() api.Args {
	return s.args
}

// Get retrieves an argument value by name
func (s *StepContext) Get(name string) (any, bool) {
	val, ok := s.args[name]
	return val, ok
}

// GetString retrieves a string argument, returning empty string if not found
func (s *StepContext) GetString(name string) string {
	if str, ok := s.args[name].(string); ok {
		return str
	}
	return ""
}

// GetInt retrieves an integer argument, returning 0 if not found
func (s *StepContext) GetInt(name string) int {
	return toInt(s.args[name])
}

// GetFloat retrieves a float64 argument, returning 0.0 if not found
func (s *StepContext) GetFloat(name string) float64 {
	switch v := s.args[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0.0
}

// GetBool retrieves a boolean argument, returning false if not found
func (s *StepContext) GetBool(name string) bool {
	if b, ok := s.args[name].(bool); ok {
		return b
	}
	return false
}

// Metadata returns the raw metadata map
func (s *StepContext) Metadata() api.Metadata {
	return s.metadata
}

// Logger returns a logger pre-configured with run and step attributes
func (s *StepContext) Logger() *slog.Logger {
	return s.logger
}

func metaString(meta api.Metadata, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

func toInt(val any) int {
	switch v := val.(type) {
	case int:
		return v
	case float64:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}
