package worker

import (
	"math"
	"time"

	"secsync/internal/config"
	"secsync/internal/models"
)

type Strategy string

const (
	// StrategyLinear waits BaseDelay × attempt.
	StrategyLinear Strategy = "linear"
	// StrategyExponential waits BaseDelay × BackoffFactor^(attempt-1).
	StrategyExponential Strategy = "exponential"
)

// RetryPolicy defines the retry ceiling and backoff parameters.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Strategy      Strategy
	BackoffFactor float64
}

// PolicyFromConfig maps queue settings onto a policy with defaults filled in.
func PolicyFromConfig(cfg config.QueueConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelay:     cfg.BaseDelay,
		MaxDelay:      cfg.MaxDelay,
		Strategy:      Strategy(cfg.Strategy),
		BackoffFactor: cfg.BackoffFactor,
	}.withDefaults()
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = models.DefaultMaxAttempts
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = models.DefaultRetryBaseDelay
	}
	if r.Strategy == "" {
		r.Strategy = StrategyLinear
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}
	return r
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	r = r.withDefaults()

	var delay float64
	switch r.Strategy {
	case StrategyExponential:
		delay = float64(r.BaseDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	default:
		delay = float64(r.BaseDelay) * float64(attempt)
	}

	d := time.Duration(delay)
	if delay > math.MaxInt64 {
		d = time.Duration(math.MaxInt64)
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Exhausted reports whether an item with this many failed attempts must be abandoned.
func (r RetryPolicy) Exhausted(failures int) bool {
	return failures >= r.withDefaults().MaxAttempts
}
