package engine

import (
	"math"
	"time"

	"github.com/noetl/core/internal/dsl"
)

// computeBackoff implements §4.1 on_error retry delay:
// delay = clamp(initial_delay * multiplier^(attempt-1), 0, max_delay) * (1 + rand(±jitter))
func computeBackoff(policy *dsl.OnErrorRetry, attempt int, rnd Rand) time.Duration {
	initial := policy.InitialDelay
	if initial <= 0 {
		initial = 1
	}
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	var delay float64
	switch policy.Backoff {
	case dsl.BackoffConstant:
		delay = initial
	case dsl.BackoffLinear:
		delay = initial * float64(attempt)
	case dsl.BackoffExponential, "":
		delay = initial * math.Pow(multiplier, float64(attempt-1))
	default:
		delay = initial * math.Pow(multiplier, float64(attempt-1))
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}

	if policy.Jitter > 0 && rnd != nil {
		// rand(±jitter): a uniform multiplier in [1-jitter, 1+jitter].
		spread := (rnd.Float64()*2 - 1) * policy.Jitter
		delay = delay * (1 + spread)
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay * float64(time.Second))
}

// shouldRetryOnError decides whether an on_error failure should retry,
// per §4.1: attempt_number < max_attempts AND (when absent or truthy).
func shouldRetryOnError(policy *dsl.OnErrorRetry, attemptNumber int, whenTruthy bool) bool {
	if policy == nil {
		return false
	}
	if attemptNumber >= policy.MaxAttempts {
		return false
	}
	return whenTruthy
}
