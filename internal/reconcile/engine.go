package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/evanofslack/ipsync/internal/metrics"
	"github.com/evanofslack/ipsync/internal/publisher"
	"github.com/evanofslack/ipsync/internal/resolver"
)

// StateStore is the durable last-published-IP slot used by the engine.
type StateStore interface {
	Read(ctx context.Context) (string, bool)
	Write(ctx context.Context, ip string) error
}

type Engine interface {
	Reconcile(ctx context.Context) Result
}

type engine struct {
	resolver  resolver.Resolver
	publisher publisher.Publisher
	store     StateStore
	name      string
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewEngine(r resolver.Resolver, p publisher.Publisher, s StateStore, name string, metrics *metrics.Metrics) *engine {
	return &engine{
		resolver:  r,
		publisher: p,
		store:     s,
		name:      name,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Reconcile runs one resolve, compare, publish cycle. It never panics and
// never returns an error outside the Result.
func (e *engine) Reconcile(ctx context.Context) Result {
	start := e.now()
	slog.Info("Starting update cycle", "time", start.Format(time.RFC3339), "name", e.name)

	var res Result
	var pc panics.Catcher
	pc.Try(func() {
		res = e.reconcile(ctx)
	})
	if r := pc.Recovered(); r != nil {
		res = Result{Outcome: Failed, Err: fmt.Errorf("update cycle panicked: %w", r.AsError())}
	}

	e.metrics.SetCycleDuration(e.now().Sub(start))
	e.metrics.IncCycle(res.Outcome.String())
	logResult(res)
	return res
}

func (e *engine) reconcile(ctx context.Context) Result {
	slog.Info("Resolving public IP")
	ip, err := e.resolver.Resolve(ctx)
	if err == nil {
		ip = strings.TrimSpace(ip)
	}
	if err != nil || ip == "" {
		if err == nil {
			err = fmt.Errorf("%w: empty address", ErrResolverUnavailable)
		} else {
			err = fmt.Errorf("%w: %w", ErrResolverUnavailable, err)
		}
		return Result{Outcome: Skipped, Reason: "resolver unavailable", Err: err}
	}
	slog.Info("Resolved public IP", "ip", ip)

	previous, known := e.store.Read(ctx)
	slog.Info("Comparing with last published IP", "ip", ip, "previous", previous, "known", known)
	if known && previous == ip {
		return Result{Outcome: Unchanged, IP: ip, Previous: previous}
	}

	slog.Info("Publishing DNS record", "name", e.name, "ip", ip, "previous", previous)
	if err := e.publisher.Publish(ctx, e.name, ip); err != nil {
		return Result{
			Outcome:  Failed,
			IP:       ip,
			Previous: previous,
			Err:      fmt.Errorf("%w: %w", ErrPublicationFailed, err),
		}
	}

	// The publication is confirmed; a failed write only costs a redundant
	// publish on a later cycle.
	res := Result{Outcome: Updated, IP: ip, Previous: previous}
	if err := e.store.Write(ctx, ip); err != nil {
		res.PersistErr = err
	}
	e.metrics.SetLastUpdate(e.now())
	return res
}

func logResult(res Result) {
	switch res.Outcome {
	case Updated:
		if res.PersistErr != nil {
			slog.Warn("Update cycle completed but new IP was not persisted", "outcome", res.Outcome.String(), "ip", res.IP, "previous", res.Previous, "error", res.PersistErr)
			return
		}
		slog.Info("Update cycle completed", "outcome", res.Outcome.String(), "ip", res.IP, "previous", res.Previous)
	case Unchanged:
		slog.Info("IP unchanged since last publication", "outcome", res.Outcome.String(), "ip", res.IP)
	case Skipped:
		slog.Warn("Update cycle skipped", "outcome", res.Outcome.String(), "reason", res.Reason, "error", res.Err)
	case Failed:
		slog.Error("Update cycle failed", "outcome", res.Outcome.String(), "ip", res.IP, "previous", res.Previous, "error", res.Err)
	}
}
