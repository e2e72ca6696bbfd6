package scheduler

import (
	"time"

	"github.com/evanofslack/ipsync/internal/config"
	"github.com/evanofslack/ipsync/internal/reconcile"
)

// RetryState is the in-memory backoff bookkeeping carried between cycles.
type RetryState struct {
	ConsecutiveFailures int
	CurrentDelay        time.Duration
}

// Policy decides how long to wait after each cycle.
type Policy struct {
	Base      time.Duration // wait after a healthy cycle
	Retry     time.Duration // wait after a skipped cycle
	Backoff   time.Duration // wait once failures reach Threshold
	Threshold int
}

func PolicyFromConfig(cfg config.Schedule) Policy {
	return Policy{
		Base:      cfg.Interval,
		Retry:     cfg.RetryInterval,
		Backoff:   cfg.BackoffInterval,
		Threshold: cfg.FailureThreshold,
	}
}

func (p Policy) Initial() RetryState {
	return RetryState{CurrentDelay: p.Base}
}

// Next returns the state after a cycle ended with outcome and the wait
// before the following cycle.
func (p Policy) Next(s RetryState, outcome reconcile.Outcome) (RetryState, time.Duration) {
	switch outcome {
	case reconcile.Updated, reconcile.Unchanged:
		s = p.Initial()
		return s, s.CurrentDelay
	case reconcile.Skipped:
		return s, p.Retry
	default:
		s.ConsecutiveFailures++
		if s.ConsecutiveFailures >= p.Threshold {
			s.CurrentDelay = p.Backoff
		}
		return s, s.CurrentDelay
	}
}
