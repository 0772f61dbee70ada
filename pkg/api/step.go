package api

import (
	"errors"
	"fmt"

	"github.com/kode4food/tartan/pkg/util"
)

type (
	// Args are named arguments passed to script and remote steps
	Args map[string]any

	// Metadata carries free-form run annotations
	Metadata map[string]any

	// StepOptions configures retry and timeout behavior for a single step.
	// Both settings are step-scoped; a flow has no run-wide defaults beyond
	// the engine's backoff configuration
	StepOptions struct {
		Backoff   *BackoffConfig `json:"backoff,omitempty"`
		Retries   int            `json:"retries,omitempty"`
		TimeoutMs int64          `json:"timeout_ms,omitempty"`
	}

	// BackoffConfig determines the delay between a failed attempt and the
	// next one
	BackoffConfig struct {
		Type      string `json:"type,omitempty"`
		InitialMs int64  `json:"initial_ms,omitempty"`
		MaxMs     int64  `json:"max_ms,omitempty"`
	}

	// ScriptConfig names a script body and the language it is written in.
	// An empty Language means Lua
	ScriptConfig struct {
		Language string `json:"language,omitempty"`
		Script   string `json:"script"`
	}

	// StepRequest is the body posted to a remote step service
	StepRequest struct {
		Arguments Args     `json:"arguments"`
		Metadata  Metadata `json:"metadata,omitempty"`
	}

	// StepResult is the body returned by a remote step service
	StepResult struct {
		Output  Value  `json:"output,omitempty"`
		Error   string `json:"error,omitempty"`
		Success bool   `json:"success"`
	}
)

const (
	ScriptLangAle = "ale"
	ScriptLangLua = "lua"

	BackoffTypeFixed       = "fixed"
	BackoffTypeLinear      = "linear"
	BackoffTypeExponential = "exponential"
)

const (
	Millisecond int64 = 1
	Second            = Millisecond * 1000
	Minute            = Second * 60
	Hour              = Minute * 60
	Day               = Hour * 24
)

var (
	ErrNegativeRetries    = errors.New("retries cannot be negative")
	ErrNegativeTimeout    = errors.New("timeout_ms cannot be negative")
	ErrInvalidBackoffType = errors.New("invalid backoff type")
	ErrNegativeBackoff    = errors.New("initial_ms cannot be negative")
	ErrMaxBackoffTooSmall = errors.New("max_ms must be >= initial_ms")

	ErrScriptEmpty           = errors.New("script empty")
	ErrInvalidScriptLanguage = errors.New("invalid script language")
)

var validScriptLangs = util.SetOf(ScriptLangAle, ScriptLangLua)

var validBackoffTypes = util.SetOf(
	BackoffTypeFixed,
	BackoffTypeLinear,
	BackoffTypeExponential,
)

// Validate checks that the step options are usable
func (o StepOptions) Validate() error {
	if o.Retries < 0 {
		return ErrNegativeRetries
	}
	if o.TimeoutMs < 0 {
		return ErrNegativeTimeout
	}
	if o.Backoff != nil {
		return o.Backoff.Validate()
	}
	return nil
}

// MaxAttempts returns the upper bound of attempts the options allow
func (o StepOptions) MaxAttempts() int {
	return o.Retries + 1
}

// Validate checks that the backoff configuration is usable
func (b *BackoffConfig) Validate() error {
	if b.Type != "" && !validBackoffTypes.Contains(b.Type) {
		return ErrInvalidBackoffType
	}
	if b.InitialMs < 0 {
		return ErrNegativeBackoff
	}
	if b.MaxMs != 0 && b.MaxMs < b.InitialMs {
		return ErrMaxBackoffTooSmall
	}
	return nil
}

// WithOutput returns a successful StepResult holding the given output
func (sr *StepResult) WithOutput(v any) *StepResult {
	res := *sr
	res.Output = MustValue(v)
	res.Success = true
	return &res
}

// WithError returns a failed StepResult holding the error message
func (sr *StepResult) WithError(err error) *StepResult {
	res := *sr
	res.Success = false
	res.Error = err.Error()
	return &res
}

// Validate checks that the script config names a body and a known language
func (c ScriptConfig) Validate() error {
	if c.Script == "" {
		return ErrScriptEmpty
	}
	if !validScriptLangs.Contains(c.Lang()) {
		return fmt.Errorf("%w: %s", ErrInvalidScriptLanguage, c.Language)
	}
	return nil
}

// Lang returns the configured language, defaulting to Lua
func (c ScriptConfig) Lang() string {
	if c.Language == "" {
		return ScriptLangLua
	}
	return c.Language
}
