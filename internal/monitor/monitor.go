package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/evanofslack/ipsync/internal/metrics"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
)

// Monitor receives a heartbeat after each update cycle.
type Monitor interface {
	Start(ctx context.Context) bool
	Success(ctx context.Context) bool
	Failure(ctx context.Context) bool
}

type noop struct{}

func (noop) Start(context.Context) bool   { return true }
func (noop) Success(context.Context) bool { return true }
func (noop) Failure(context.Context) bool { return true }

// HealthChecks pings a Healthchecks.io style check URL.
type HealthChecks struct {
	baseURL    string
	redacted   string
	timeout    time.Duration
	maxRetries int
	client     *http.Client
	metrics    *metrics.Metrics
}

// New returns a Healthchecks monitor for rawURL, or a monitor that does
// nothing when rawURL is empty.
func New(rawURL string, metrics *metrics.Metrics) (Monitor, error) {
	if rawURL == "" {
		return noop{}, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse healthchecks url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" || u.Opaque != "" || u.Fragment != "" || u.RawQuery != "" {
		return nil, fmt.Errorf("invalid healthchecks url %q", u.Redacted())
	}
	return &HealthChecks{
		baseURL:    strings.TrimRight(u.String(), "/"),
		redacted:   strings.TrimRight(u.Redacted(), "/"),
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		client:     cleanhttp.DefaultClient(),
		metrics:    metrics,
	}, nil
}

func (h *HealthChecks) Start(ctx context.Context) bool {
	return h.ping(ctx, "/start")
}

func (h *HealthChecks) Success(ctx context.Context) bool {
	return h.ping(ctx, "")
}

func (h *HealthChecks) Failure(ctx context.Context) bool {
	return h.ping(ctx, "/fail")
}

func (h *HealthChecks) ping(ctx context.Context, suffix string) bool {
	target := h.baseURL + suffix
	for attempt := 0; attempt < h.maxRetries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		if h.send(ctx, target) {
			h.metrics.IncMonitorRequest(true)
			return true
		}
	}
	h.metrics.IncMonitorRequest(false)
	slog.Warn("Failed to ping heartbeat monitor", "url", h.redacted+suffix, "attempts", h.maxRetries)
	return false
}

func (h *HealthChecks) send(ctx context.Context, target string) bool {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		slog.Warn("Failed to prepare heartbeat request", "url", h.redacted, "error", err)
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		slog.Debug("Heartbeat request failed", "error", err)
		return false
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Debug("Heartbeat rejected", "status", resp.StatusCode)
		return false
	}
	return true
}
