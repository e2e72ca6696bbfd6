package cloudflare

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/cloudflare-go"

	"github.com/evanofslack/ipsync/internal/config"
	"github.com/evanofslack/ipsync/internal/publisher"
)

type CloudflarePublisher struct {
	client *cloudflare.API
	zone   string
	ttl    int

	mu     sync.Mutex
	zoneID string // resolved on first publish
}

func New(cfg config.DNS, opts ...cloudflare.Option) (*CloudflarePublisher, error) {
	token := cfg.Token
	if token == "" {
		return nil, fmt.Errorf("cloudflare API token required")
	}

	client, err := cloudflare.NewWithAPIToken(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloudflare client: %w", err)
	}

	return &CloudflarePublisher{
		client: client,
		zone:   cfg.Zone,
		ttl:    cfg.TTL,
	}, nil
}

// Publish points the A or AAAA record name at ip, creating the record when
// the zone does not have one yet.
func (p *CloudflarePublisher) Publish(ctx context.Context, name, ip string) error {
	start := time.Now()
	recordType, err := publisher.RecordType(ip)
	if err != nil {
		return err
	}
	fqdn := p.fqdn(name)
	slog.Info("Updating DNS record", "zone", p.zone, "name", fqdn, "type", recordType, "data", ip)

	zoneID, err := p.lookupZoneID(ctx)
	if err != nil {
		return err
	}
	rc := cloudflare.ZoneIdentifier(zoneID)

	records, _, err := p.client.ListDNSRecords(ctx, rc, cloudflare.ListDNSRecordsParams{
		Type: recordType,
		Name: fqdn,
		ResultInfo: cloudflare.ResultInfo{
			Page:    1,
			PerPage: 100,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to list DNS records: %w", err)
	}

	if len(records) == 0 {
		_, err := p.client.CreateDNSRecord(ctx, rc, cloudflare.CreateDNSRecordParams{
			Type:    recordType,
			Name:    fqdn,
			Content: ip,
			TTL:     p.ttl,
		})
		if err != nil {
			return fmt.Errorf("failed to create DNS record: %w", err)
		}
		slog.Debug("Created DNS record", "zone", p.zone, "name", fqdn, "type", recordType, "duration", time.Since(start))
		return nil
	}

	if len(records) > 1 {
		slog.Warn("Multiple DNS records match, updating all", "zone", p.zone, "name", fqdn, "type", recordType, "count", len(records))
	}
	for _, r := range records {
		if r.Content == ip {
			continue
		}
		_, err := p.client.UpdateDNSRecord(ctx, rc, cloudflare.UpdateDNSRecordParams{
			ID:      r.ID,
			Type:    recordType,
			Name:    fqdn,
			Content: ip,
			TTL:     p.ttl,
			Proxied: r.Proxied,
		})
		if err != nil {
			return fmt.Errorf("failed to update DNS record %s: %w", r.ID, err)
		}
	}
	slog.Debug("Updated DNS record", "zone", p.zone, "name", fqdn, "type", recordType, "duration", time.Since(start))
	return nil
}

func (p *CloudflarePublisher) lookupZoneID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.zoneID != "" {
		return p.zoneID, nil
	}
	id, err := p.client.ZoneIDByName(p.zone)
	if err != nil {
		return "", fmt.Errorf("failed to get zone ID for %s: %w", p.zone, err)
	}
	p.zoneID = id
	return id, nil
}

// fqdn qualifies a bare label with the configured zone.
func (p *CloudflarePublisher) fqdn(name string) string {
	name = strings.TrimSuffix(name, ".")
	if name == "@" || name == "" {
		return p.zone
	}
	if name == p.zone || strings.HasSuffix(name, "."+p.zone) {
		return name
	}
	return name + "." + p.zone
}
