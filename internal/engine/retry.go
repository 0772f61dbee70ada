package engine

import (
	"math"
	"time"

	"github.com/kode4food/tartan/pkg/api"
)

type backoffCalculator func(base int64, attempt int) int64

var backoffCalculators = map[string]backoffCalculator{
	api.BackoffTypeFixed: func(base int64, _ int) int64 {
		return base
	},
	api.BackoffTypeLinear: func(base int64, attempt int) int64 {
		return base * int64(attempt)
	},
	api.BackoffTypeExponential: func(base int64, attempt int) int64 {
		mult := math.Pow(2, float64(attempt-1))
		if mult >= float64(math.MaxInt64/max(base, 1)) {
			return math.MaxInt64
		}
		return base * int64(mult)
	},
}

// ShouldRetry decides whether a step that just finished its attempt'th
// attempt unsuccessfully gets another one. A step allows maxRetries
// attempts beyond the first
func ShouldRetry(attempt, maxRetries int) bool {
	return attempt <= maxRetries
}

// RetryDelay returns how long to wait after the attempt'th failed attempt
// before starting the next one
func RetryDelay(cfg api.BackoffConfig, attempt int) time.Duration {
	if cfg.InitialMs <= 0 || attempt < 1 {
		return 0
	}
	calc, ok := backoffCalculators[cfg.Type]
	if !ok {
		calc = backoffCalculators[api.BackoffTypeFixed]
	}
	ms := calc(cfg.InitialMs, attempt)
	if cfg.MaxMs > 0 {
		ms = min(ms, cfg.MaxMs)
	}
	if ms > math.MaxInt64/int64(time.Millisecond) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

func (e *Engine) backoffFor(opts api.StepOptions) api.BackoffConfig {
	if opts.Backoff != nil {
		return *opts.Backoff
	}
	return e.config.Backoff
}
