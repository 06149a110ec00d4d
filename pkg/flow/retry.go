package flow

import (
	"math/rand"
	"time"
)

// RetryType selects the backoff curve between attempts.
type RetryType string

const (
	RetryConstant    RetryType = "constant"
	RetryLinear      RetryType = "linear"
	RetryRandom      RetryType = "random"
	RetryExponential RetryType = "exponential"
)

// RetryPolicy schedules additional attempts after a task failure. A policy
// is exhausted once attempts reach MaxAttempts or the elapsed time since
// the first attempt exceeds MaxDuration (when set).
type RetryPolicy struct {
	Type        RetryType     `json:"type"         yaml:"type"         validate:"required,oneof=constant linear random exponential"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts" validate:"required,gt=0"`
	MaxDuration Duration      `json:"max_duration,omitempty" yaml:"max_duration,omitempty"`
	Interval    Duration      `json:"interval"     yaml:"interval"     validate:"required,gt=0"`
	// MaxInterval caps linear and exponential growth; zero means no cap.
	MaxInterval Duration      `json:"max_interval,omitempty" yaml:"max_interval,omitempty"`
	// Multiplier drives exponential growth; values below 2 default to 2.
	Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// Exhausted reports whether no further attempt may be scheduled given the
// number of attempts already made and the time of the first attempt.
func (p *RetryPolicy) Exhausted(attempts int, firstAttempt time.Time) bool {
	if attempts >= p.MaxAttempts {
		return true
	}

	if p.MaxDuration > 0 && !firstAttempt.IsZero() &&
		time.Now().UTC().Sub(firstAttempt) >= p.MaxDuration.D() {
		return true
	}

	return false
}

// NextDelay computes the backoff before the given attempt number (1-based:
// the delay before attempt 2 is NextDelay(1)).
func (p *RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	interval, maxInterval := p.Interval.D(), p.MaxInterval.D()

	var delay time.Duration

	switch p.Type {
	case RetryLinear:
		delay = time.Duration(attempts) * interval
	case RetryRandom:
		if maxInterval <= interval {
			return interval
		}

		delay = interval + time.Duration(rand.Int63n(int64(maxInterval-interval)))
	case RetryExponential:
		multiplier := p.Multiplier
		if multiplier < 2 {
			multiplier = 2
		}

		delay = interval
		for i := 1; i < attempts; i++ {
			delay = time.Duration(float64(delay) * multiplier)
		}
	case RetryConstant:
		delay = interval
	default:
		delay = interval
	}

	if maxInterval > 0 && delay > maxInterval {
		delay = maxInterval
	}

	return delay
}
