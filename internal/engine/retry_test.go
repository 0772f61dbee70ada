package engine_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/tartan/internal/engine"
	"github.com/kode4food/tartan/pkg/api"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name     string
		attempt  int
		retries  int
		expected bool
	}{
		{name: "no_retries", attempt: 1, retries: 0, expected: false},
		{name: "first_of_three", attempt: 1, retries: 2, expected: true},
		{name: "last_retry", attempt: 2, retries: 2, expected: true},
		{name: "exhausted", attempt: 3, retries: 2, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected,
				engine.ShouldRetry(tt.attempt, tt.retries),
			)
		})
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name     string
		cfg      api.BackoffConfig
		attempt  int
		expected time.Duration
	}{
		{
			name:     "zero_initial",
			cfg:      api.BackoffConfig{Type: api.BackoffTypeExponential},
			attempt:  3,
			expected: 0,
		},
		{
			name: "fixed",
			cfg: api.BackoffConfig{
				Type: api.BackoffTypeFixed, InitialMs: 100,
			},
			attempt:  4,
			expected: 100 * time.Millisecond,
		},
		{
			name: "linear",
			cfg: api.BackoffConfig{
				Type: api.BackoffTypeLinear, InitialMs: 100,
			},
			attempt:  3,
			expected: 300 * time.Millisecond,
		},
		{
			name: "exponential",
			cfg: api.BackoffConfig{
				Type: api.BackoffTypeExponential, InitialMs: 100,
			},
			attempt:  4,
			expected: 800 * time.Millisecond,
		},
		{
			name: "capped",
			cfg: api.BackoffConfig{
				Type: api.BackoffTypeExponential, InitialMs: 100, MaxMs: 250,
			},
			attempt:  4,
			expected: 250 * time.Millisecond,
		},
		{
			name: "unknown_type_is_fixed",
			cfg: api.BackoffConfig{
				Type: "jitter", InitialMs: 50,
			},
			attempt:  5,
			expected: 50 * time.Millisecond,
		},
		{
			name: "overflow_saturates",
			cfg: api.BackoffConfig{
				Type: api.BackoffTypeExponential, InitialMs: 1000,
			},
			attempt:  200,
			expected: time.Duration(math.MaxInt64),
		},
		{
			name: "attempt_zero",
			cfg: api.BackoffConfig{
				Type: api.BackoffTypeFixed, InitialMs: 100,
			},
			attempt:  0,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, engine.RetryDelay(tt.cfg, tt.attempt))
		})
	}
}
