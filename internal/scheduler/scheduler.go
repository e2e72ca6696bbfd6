package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/evanofslack/ipsync/internal/metrics"
	"github.com/evanofslack/ipsync/internal/monitor"
	"github.com/evanofslack/ipsync/internal/reconcile"
)

// Waiter blocks for d or until ctx is done, reporting whether the full
// duration elapsed.
type Waiter func(ctx context.Context, d time.Duration) bool

func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type Scheduler struct {
	engine  reconcile.Engine
	policy  Policy
	monitor monitor.Monitor
	metrics *metrics.Metrics
	wait    Waiter

	state RetryState
}

func New(engine reconcile.Engine, policy Policy, mon monitor.Monitor, metrics *metrics.Metrics) *Scheduler {
	return &Scheduler{
		engine:  engine,
		policy:  policy,
		monitor: mon,
		metrics: metrics,
		wait:    Sleep,
		state:   policy.Initial(),
	}
}

// State returns the current backoff bookkeeping.
func (s *Scheduler) State() RetryState {
	return s.state
}

// Serve runs update cycles until ctx is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	slog.Info("Starting scheduler",
		"interval", s.policy.Base,
		"retryInterval", s.policy.Retry,
		"backoffInterval", s.policy.Backoff,
		"failureThreshold", s.policy.Threshold)
	s.monitor.Start(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res := s.engine.Reconcile(ctx)
		if ctx.Err() != nil {
			slog.Info("Shutdown during update cycle, discarding result", "outcome", res.Outcome.String())
			return ctx.Err()
		}

		delay := s.step(ctx, res)
		slog.Info("Waiting for next cycle", "delay", delay, "consecutiveFailures", s.state.ConsecutiveFailures)
		if !s.wait(ctx, delay) {
			slog.Info("Scheduler stopped")
			return ctx.Err()
		}
	}
}

func (s *Scheduler) step(ctx context.Context, res reconcile.Result) time.Duration {
	prev := s.state
	next, delay := s.policy.Next(prev, res.Outcome)
	s.state = next

	if next.CurrentDelay > prev.CurrentDelay {
		slog.Warn("Escalating retry delay", "consecutiveFailures", next.ConsecutiveFailures, "delay", next.CurrentDelay)
	}
	if prev.ConsecutiveFailures > 0 && next.ConsecutiveFailures == 0 {
		slog.Info("Recovered after failures", "failures", prev.ConsecutiveFailures)
	}

	s.metrics.SetConsecutiveFailures(next.ConsecutiveFailures)
	s.metrics.SetNextDelay(delay)

	switch res.Outcome {
	case reconcile.Updated, reconcile.Unchanged:
		s.monitor.Success(ctx)
	case reconcile.Failed:
		s.monitor.Failure(ctx)
	}
	return delay
}
