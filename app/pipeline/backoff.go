package pipeline

import (
	"time"
)

// Decision is the outcome of the backoff policy for a failed attempt.
type Decision struct {
	Terminal bool
	Delay    time.Duration
}

// Policy computes retry delays and terminal-failure decisions. Pure and
// deterministic: the same (attempt, category) always yields the same
// decision.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

func DefaultPolicy(maxAttempts int) Policy {
	return Policy{
		Base:        time.Minute,
		Cap:         30 * time.Minute,
		MaxAttempts: maxAttempts,
	}
}

// Next decides the outcome of the given failed attempt (1-based).
// Terminal categories fail immediately; retryable ones back off
// exponentially (base * 2^(attempt-1), capped) until the attempt budget is
// spent.
func (p Policy) Next(attempt int, category ErrorCategory) Decision {
	if category.Terminal() {
		return Decision{Terminal: true}
	}
	if attempt >= p.MaxAttempts {
		return Decision{Terminal: true}
	}

	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Cap {
			delay = p.Cap
			break
		}
	}
	if delay > p.Cap {
		delay = p.Cap
	}

	return Decision{Delay: delay}
}
