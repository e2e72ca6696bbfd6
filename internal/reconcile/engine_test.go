package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/evanofslack/ipsync/internal/metrics"
	"github.com/evanofslack/ipsync/internal/publisher"
	"github.com/evanofslack/ipsync/internal/resolver"
	"github.com/evanofslack/ipsync/internal/state"
)

type MockResolver struct {
	ip    string
	err   error
	calls int
}

func (m *MockResolver) Resolve(ctx context.Context) (string, error) {
	m.calls++
	return m.ip, m.err
}

type MockPublisher struct {
	err       error
	published []string
	panicMsg  string
}

func (m *MockPublisher) Publish(ctx context.Context, name, ip string) error {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	m.published = append(m.published, name+"="+ip)
	return m.err
}

type MockStore struct {
	ip       string
	known    bool
	writeErr error
	writes   []string
}

func (m *MockStore) Read(ctx context.Context) (string, bool) { return m.ip, m.known }
func (m *MockStore) Write(ctx context.Context, ip string) error {
	m.writes = append(m.writes, ip)
	if m.writeErr != nil {
		return m.writeErr
	}
	m.ip, m.known = ip, true
	return nil
}

func TestEngine(t *testing.T) {
	resolveErr := errors.New("all endpoints down")
	publishErr := errors.New("login failed")

	tests := []struct {
		name            string
		resolvedIP      string
		resolveErr      error
		stored          string
		known           bool
		publishErr      error
		writeErr        error
		expected        Outcome
		expectedErr     error
		expectPublished []string
		expectWrites    []string
		expectStored    string
		expectPersist   bool
	}{
		{
			name:            "first run publishes",
			resolvedIP:      "1.2.3.4",
			expected:        Updated,
			expectPublished: []string{"home.example.com=1.2.3.4"},
			expectWrites:    []string{"1.2.3.4"},
			expectStored:    "1.2.3.4",
		},
		{
			name:         "unchanged ip is not republished",
			resolvedIP:   "1.2.3.4",
			stored:       "1.2.3.4",
			known:        true,
			expected:     Unchanged,
			expectStored: "1.2.3.4",
		},
		{
			name:            "changed ip is published and persisted",
			resolvedIP:      "5.6.7.8",
			stored:          "1.2.3.4",
			known:           true,
			expected:        Updated,
			expectPublished: []string{"home.example.com=5.6.7.8"},
			expectWrites:    []string{"5.6.7.8"},
			expectStored:    "5.6.7.8",
		},
		{
			name:         "resolver failure skips",
			resolveErr:   resolveErr,
			stored:       "1.2.3.4",
			known:        true,
			expected:     Skipped,
			expectedErr:  ErrResolverUnavailable,
			expectStored: "1.2.3.4",
		},
		{
			name:         "empty address skips",
			resolvedIP:   "  \n",
			stored:       "1.2.3.4",
			known:        true,
			expected:     Skipped,
			expectedErr:  ErrResolverUnavailable,
			expectStored: "1.2.3.4",
		},
		{
			name:            "publish failure leaves state untouched",
			resolvedIP:      "5.6.7.8",
			stored:          "1.2.3.4",
			known:           true,
			publishErr:      publishErr,
			expected:        Failed,
			expectedErr:     ErrPublicationFailed,
			expectPublished: []string{"home.example.com=5.6.7.8"},
			expectStored:    "1.2.3.4",
		},
		{
			name:            "persist failure still reports updated",
			resolvedIP:      "5.6.7.8",
			stored:          "1.2.3.4",
			known:           true,
			writeErr:        errors.New("read-only filesystem"),
			expected:        Updated,
			expectPersist:   true,
			expectPublished: []string{"home.example.com=5.6.7.8"},
			expectWrites:    []string{"5.6.7.8"},
			expectStored:    "1.2.3.4",
		},
		{
			name:            "resolved address is trimmed",
			resolvedIP:      "1.2.3.4\n",
			stored:          "1.2.3.4",
			known:           true,
			expected:        Unchanged,
			expectStored:    "1.2.3.4",
			expectPublished: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &MockResolver{ip: tt.resolvedIP, err: tt.resolveErr}
			p := &MockPublisher{err: tt.publishErr}
			s := &MockStore{ip: tt.stored, known: tt.known, writeErr: tt.writeErr}

			e := NewEngine(r, p, s, "home.example.com", metrics.New(false))
			res := e.Reconcile(context.Background())

			if res.Outcome != tt.expected {
				t.Fatalf("Expected outcome %s, got %s (err: %v)", tt.expected, res.Outcome, res.Err)
			}
			if tt.expectedErr != nil && !errors.Is(res.Err, tt.expectedErr) {
				t.Errorf("Expected error %v, got %v", tt.expectedErr, res.Err)
			}
			if tt.expectedErr == nil && res.Err != nil {
				t.Errorf("Unexpected error: %v", res.Err)
			}
			if !equalSlices(p.published, tt.expectPublished) {
				t.Errorf("Expected publications %v, got %v", tt.expectPublished, p.published)
			}
			if !equalSlices(s.writes, tt.expectWrites) {
				t.Errorf("Expected writes %v, got %v", tt.expectWrites, s.writes)
			}
			if (res.PersistErr != nil) != tt.expectPersist {
				t.Errorf("Expected persist error %v, got %v", tt.expectPersist, res.PersistErr)
			}
			if s.ip != tt.expectStored {
				t.Errorf("Expected stored ip %q, got %q", tt.expectStored, s.ip)
			}
		})
	}
}

func TestEngineSkipReason(t *testing.T) {
	e := NewEngine(&MockResolver{err: errors.New("timeout")}, &MockPublisher{}, &MockStore{}, "home", metrics.New(false))
	res := e.Reconcile(context.Background())

	if res.Reason != "resolver unavailable" {
		t.Errorf("Expected reason %q, got %q", "resolver unavailable", res.Reason)
	}
	if res.IP != "" {
		t.Errorf("Expected no ip on skipped cycle, got %q", res.IP)
	}
}

// checkingPublisher rejects anything that is not an address, as the real
// publishers do.
type checkingPublisher struct{ calls int }

func (p *checkingPublisher) Publish(ctx context.Context, name, ip string) error {
	p.calls++
	_, err := publisher.RecordType(ip)
	return err
}

func TestEngineSkipsWhenEndpointsReturnGarbage(t *testing.T) {
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>Please log in to the hotspot</body></html>")
	}))
	defer portal.Close()

	m := metrics.New(false)
	r := resolver.NewWithClient([]string{portal.URL, portal.URL + "/ip"}, resolver.Options{Timeout: time.Second}, portal.Client(), m)
	p := &checkingPublisher{}
	s := &MockStore{ip: "1.2.3.4", known: true}

	res := NewEngine(r, p, s, "home", m).Reconcile(context.Background())

	if res.Outcome != Skipped {
		t.Fatalf("Expected skipped outcome, got %s (err: %v)", res.Outcome, res.Err)
	}
	if !errors.Is(res.Err, ErrResolverUnavailable) {
		t.Errorf("Expected ErrResolverUnavailable, got %v", res.Err)
	}
	if p.calls != 0 {
		t.Errorf("Expected no publication, got %d", p.calls)
	}
	if len(s.writes) != 0 {
		t.Errorf("Expected no state writes, got %v", s.writes)
	}
}

func TestEnginePanicIsFailure(t *testing.T) {
	s := &MockStore{ip: "1.2.3.4", known: true}
	e := NewEngine(&MockResolver{ip: "5.6.7.8"}, &MockPublisher{panicMsg: "nil pointer in driver"}, s, "home", metrics.New(false))

	res := e.Reconcile(context.Background())

	if res.Outcome != Failed {
		t.Fatalf("Expected failed outcome, got %s", res.Outcome)
	}
	if res.Err == nil {
		t.Fatal("Expected error describing the panic")
	}
	if len(s.writes) != 0 {
		t.Errorf("Expected no state writes, got %v", s.writes)
	}
}

func TestEnginePersistsAcrossRestart(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := metrics.New(false)
	p := &MockPublisher{}
	r := &MockResolver{ip: "1.2.3.4"}

	first := NewEngine(r, p, state.NewStore(state.NewFileFs(fs, "ip.txt"), m), "home", m)
	if res := first.Reconcile(context.Background()); res.Outcome != Updated {
		t.Fatalf("Expected updated, got %s", res.Outcome)
	}

	// A fresh store over the same file sees the published value.
	second := NewEngine(r, p, state.NewStore(state.NewFileFs(fs, "ip.txt"), m), "home", m)
	if res := second.Reconcile(context.Background()); res.Outcome != Unchanged {
		t.Fatalf("Expected unchanged after restart, got %s", res.Outcome)
	}
	if len(p.published) != 1 {
		t.Errorf("Expected a single publication, got %v", p.published)
	}
}

func TestOutcomeString(t *testing.T) {
	tests := map[Outcome]string{
		Updated:     "updated",
		Unchanged:   "unchanged",
		Skipped:     "skipped",
		Failed:      "failed",
		Outcome(42): "unknown",
	}
	for o, expected := range tests {
		if o.String() != expected {
			t.Errorf("Expected %q, got %q", expected, o.String())
		}
	}
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
