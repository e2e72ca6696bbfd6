package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/libdns/libdns"

	"github.com/evanofslack/ipsync/internal/metrics"
)

// Publisher writes a new value into the named DNS record. A nil error means
// the record is confirmed to hold ip.
type Publisher interface {
	Publish(ctx context.Context, name, ip string) error
}

// AddressRecord builds the A or AAAA record for ip.
func AddressRecord(name, ip string, ttl time.Duration) (libdns.Address, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return libdns.Address{}, fmt.Errorf("fail parse ip addr %s, err=%w", ip, err)
	}
	return libdns.Address{
		Name: name,
		IP:   addr.Unmap(),
		TTL:  ttl,
	}, nil
}

// RecordType is "A" for IPv4 and "AAAA" for IPv6 addresses.
func RecordType(ip string) (string, error) {
	rec, err := AddressRecord("", ip, 0)
	if err != nil {
		return "", err
	}
	return rec.RR().Type, nil
}

type instrumented struct {
	provider string
	next     Publisher
	metrics  *metrics.Metrics
}

// Instrument records a publish metric labelled with provider for every call
// to p.
func Instrument(provider string, p Publisher, metrics *metrics.Metrics) Publisher {
	return &instrumented{provider: provider, next: p, metrics: metrics}
}

func (i *instrumented) Publish(ctx context.Context, name, ip string) error {
	start := time.Now()
	err := i.next.Publish(ctx, name, ip)
	i.metrics.IncPublishRequest(i.provider, err == nil)
	slog.Debug("Publish attempt finished", "provider", i.provider, "name", name, "ip", ip, "duration", time.Since(start), "success", err == nil)
	return err
}
