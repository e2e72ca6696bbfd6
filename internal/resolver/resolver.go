package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/evanofslack/ipsync/internal/metrics"
)

// maxBodySize bounds how much of an endpoint response is read.
const maxBodySize = 256

// ErrAllEndpointsFailed is returned when no configured endpoint produced an
// address.
var ErrAllEndpointsFailed = errors.New("all ip endpoints failed")

// ErrInvalidAddress is returned by an endpoint whose body is not an IP
// address, such as a captive portal login page.
var ErrInvalidAddress = errors.New("ip endpoint returned an invalid address")

type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

type Httper interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	// Timeout bounds each endpoint request.
	Timeout time.Duration
	// Retries is the number of extra attempts per endpoint on transport
	// errors and 5xx responses.
	Retries int
}

type client struct {
	urls    []string
	timeout time.Duration
	http    Httper
	metrics *metrics.Metrics
}

// New returns a resolver that queries urls in order. The underlying HTTP
// client is shared by every call.
func New(urls []string, opts Options, metrics *metrics.Metrics) Resolver {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.Retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = slog.Default().With("component", "resolver")

	return NewWithClient(urls, opts, rc.StandardClient(), metrics)
}

// NewWithClient is New with a caller supplied HTTP client.
func NewWithClient(urls []string, opts Options, h Httper, metrics *metrics.Metrics) Resolver {
	return &client{
		urls:    urls,
		timeout: opts.Timeout,
		http:    h,
		metrics: metrics,
	}
}

// Resolve returns the trimmed body of the first endpoint that answers with
// 200 and a valid IP address.
func (c *client) Resolve(ctx context.Context) (string, error) {
	var errs []error
	for _, endpoint := range c.urls {
		slog.Info("Querying public IP", "endpoint", endpoint)
		ip, err := c.lookup(ctx, endpoint)
		c.metrics.IncResolverRequest(err == nil)
		if err == nil {
			return ip, nil
		}
		slog.Warn("Failed to get public IP", "endpoint", endpoint, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))

		if ctx.Err() != nil {
			break
		}
	}
	slog.Error("Could not get public IP from any endpoint", "endpoints", len(c.urls))
	return "", fmt.Errorf("%w: %w", ErrAllEndpointsFailed, errors.Join(errs...))
}

func (c *client) lookup(ctx context.Context, endpoint string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip endpoint request, status=%d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read ip endpoint body, err=%w", err)
	}
	ip := strings.TrimSpace(string(body))
	if ip == "" {
		return "", errors.New("empty ip endpoint response")
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, truncate(ip, 64))
	}
	return ip, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
