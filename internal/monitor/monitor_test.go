package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanofslack/ipsync/internal/metrics"
)

type recorder struct {
	mu     sync.Mutex
	paths  []string
	status int
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, req.Method+" "+req.URL.Path)
	if r.status != 0 {
		w.WriteHeader(r.status)
	}
}

func newTestMonitor(t *testing.T, rec *recorder) *HealthChecks {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	m, err := New(srv.URL+"/ping/abc/", metrics.New(false))
	require.NoError(t, err)
	hc, ok := m.(*HealthChecks)
	require.True(t, ok)
	hc.timeout = time.Second
	return hc
}

func TestEmptyURLIsNoop(t *testing.T) {
	m, err := New("", metrics.New(false))
	require.NoError(t, err)
	assert.True(t, m.Success(context.Background()))
	assert.True(t, m.Failure(context.Background()))
	assert.True(t, m.Start(context.Background()))
}

func TestInvalidURL(t *testing.T) {
	for _, raw := range []string{"not a url", "/relative/path", "https://hc-ping.com/abc?x=1", "https://hc-ping.com/abc#frag"} {
		_, err := New(raw, metrics.New(false))
		assert.Error(t, err, raw)
	}
}

func TestPingPaths(t *testing.T) {
	rec := &recorder{}
	hc := newTestMonitor(t, rec)

	assert.True(t, hc.Start(context.Background()))
	assert.True(t, hc.Success(context.Background()))
	assert.True(t, hc.Failure(context.Background()))

	assert.Equal(t, []string{
		"HEAD /ping/abc/start",
		"HEAD /ping/abc",
		"HEAD /ping/abc/fail",
	}, rec.paths)
}

func TestPingRetriesThenGivesUp(t *testing.T) {
	rec := &recorder{status: http.StatusInternalServerError}
	hc := newTestMonitor(t, rec)

	assert.False(t, hc.Success(context.Background()))
	assert.Len(t, rec.paths, DefaultMaxRetries)
}

func TestPingStopsOnCancelledContext(t *testing.T) {
	rec := &recorder{}
	hc := newTestMonitor(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, hc.Success(ctx))
	assert.Empty(t, rec.paths)
}
