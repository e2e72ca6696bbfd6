package state

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evanofslack/ipsync/internal/metrics"
)

// Store is the durable home of the last published IP. Read failures are
// reported as an absent value so the next cycle publishes again.
type Store struct {
	manager Manager
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewStore(m Manager, metrics *metrics.Metrics) *Store {
	return &Store{manager: m, metrics: metrics, now: time.Now}
}

// Read returns the last published IP and whether one is known.
func (s *Store) Read(ctx context.Context) (string, bool) {
	st, err := s.manager.LoadState(ctx)
	if errors.Is(err, ErrNotFound) {
		s.metrics.IncStateRequest("read", true)
		slog.Debug("No previously published IP")
		return "", false
	}
	if err != nil {
		s.metrics.IncStateRequest("read", false)
		slog.Error("Failed to read last published IP, treating as absent", "error", err)
		return "", false
	}
	s.metrics.IncStateRequest("read", true)
	if st.IsEmpty() {
		return "", false
	}
	return st.LastPublishedIP, true
}

// Write records ip as the last published value. A failure is logged and
// returned; the publication it follows is not undone.
func (s *Store) Write(ctx context.Context, ip string) error {
	err := s.manager.SaveState(ctx, State{LastPublishedIP: ip, UpdatedAt: s.now()})
	s.metrics.IncStateRequest("update", err == nil)
	if err != nil {
		slog.Error("Failed to persist published IP", "ip", ip, "error", err)
		return err
	}
	slog.Debug("Persisted published IP", "ip", ip)
	return nil
}

func (s *Store) Close() error {
	return s.manager.Close()
}
