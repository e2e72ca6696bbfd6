package cloudflare

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cloudflare/cloudflare-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanofslack/ipsync/internal/config"
)

const testZoneID = "zone123"

type fakeAPI struct {
	mu       sync.Mutex
	records  []map[string]any
	requests []string
	bodies   []map[string]any
	status   int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	body, _ := io.ReadAll(r.Body)
	if len(body) > 0 {
		var decoded map[string]any
		_ = json.Unmarshal(body, &decoded)
		f.bodies = append(f.bodies, decoded)
	}

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
		fmt.Fprint(w, `{"success":false,"errors":[{"code":10000,"message":"Authentication error"}],"messages":[],"result":null}`)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/zones/"+testZoneID+"/dns_records":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"errors":   []any{},
			"messages": []any{},
			"result":   f.records,
			"result_info": map[string]any{
				"page": 1, "per_page": 100, "count": len(f.records), "total_count": len(f.records), "total_pages": 1,
			},
		})
	case r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut:
		fmt.Fprint(w, `{"success":true,"errors":[],"messages":[],"result":{"id":"rec1","type":"A","name":"home.example.com","content":"5.6.7.8","ttl":300}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"success":false,"errors":[{"code":7003,"message":"not found"}],"messages":[],"result":null}`)
	}
}

func newTestPublisher(t *testing.T, api *fakeAPI) *CloudflarePublisher {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	p, err := New(config.DNS{Token: "token", Zone: "example.com", TTL: 300}, cloudflare.BaseURL(srv.URL))
	require.NoError(t, err)
	p.zoneID = testZoneID
	return p
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(config.DNS{Zone: "example.com"})
	require.Error(t, err)
}

func TestPublishUpdatesExistingRecord(t *testing.T) {
	api := &fakeAPI{records: []map[string]any{
		{"id": "rec1", "type": "A", "name": "home.example.com", "content": "1.2.3.4", "ttl": 300, "proxied": false},
	}}
	p := newTestPublisher(t, api)

	require.NoError(t, p.Publish(context.Background(), "home", "5.6.7.8"))

	require.Len(t, api.requests, 2)
	assert.Equal(t, "GET /zones/"+testZoneID+"/dns_records", api.requests[0])
	assert.Contains(t, api.requests[1], "/zones/"+testZoneID+"/dns_records/rec1")
	require.NotEmpty(t, api.bodies)
	assert.Equal(t, "5.6.7.8", api.bodies[len(api.bodies)-1]["content"])
}

func TestPublishCreatesMissingRecord(t *testing.T) {
	api := &fakeAPI{}
	p := newTestPublisher(t, api)

	require.NoError(t, p.Publish(context.Background(), "home.example.com", "5.6.7.8"))

	require.Len(t, api.requests, 2)
	assert.Equal(t, "POST /zones/"+testZoneID+"/dns_records", api.requests[1])
	require.NotEmpty(t, api.bodies)
	assert.Equal(t, "A", api.bodies[0]["type"])
	assert.Equal(t, "home.example.com", api.bodies[0]["name"])
}

func TestPublishSkipsRecordAlreadyCurrent(t *testing.T) {
	api := &fakeAPI{records: []map[string]any{
		{"id": "rec1", "type": "A", "name": "home.example.com", "content": "5.6.7.8", "ttl": 300},
	}}
	p := newTestPublisher(t, api)

	require.NoError(t, p.Publish(context.Background(), "home", "5.6.7.8"))
	assert.Len(t, api.requests, 1)
}

func TestPublishAPIError(t *testing.T) {
	api := &fakeAPI{status: http.StatusForbidden}
	p := newTestPublisher(t, api)

	err := p.Publish(context.Background(), "home", "5.6.7.8")
	require.Error(t, err)
}

func TestPublishRejectsInvalidIP(t *testing.T) {
	api := &fakeAPI{}
	p := newTestPublisher(t, api)

	require.Error(t, p.Publish(context.Background(), "home", "<html>"))
	assert.Empty(t, api.requests)
}

func TestFQDN(t *testing.T) {
	p := &CloudflarePublisher{zone: "example.com"}
	tests := map[string]string{
		"home":              "home.example.com",
		"home.example.com":  "home.example.com",
		"home.example.com.": "home.example.com",
		"@":                 "example.com",
		"example.com":       "example.com",
		"a.b":               "a.b.example.com",
	}
	for input, expected := range tests {
		assert.Equal(t, expected, p.fqdn(input), input)
	}
}
