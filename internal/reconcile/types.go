package reconcile

import (
	"errors"
)

var (
	// ErrResolverUnavailable marks a cycle skipped because no public IP
	// could be obtained.
	ErrResolverUnavailable = errors.New("resolver unavailable")
	// ErrPublicationFailed marks a cycle whose record publication did not
	// succeed.
	ErrPublicationFailed = errors.New("publication failed")
)

type Outcome int

const (
	Updated Outcome = iota
	Unchanged
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes how a single cycle ended.
type Result struct {
	Outcome  Outcome
	IP       string // resolved ip, empty when skipped
	Previous string // last published ip before the cycle
	Reason   string // why the cycle was skipped
	Err      error  // set when skipped or failed

	// PersistErr is set when an Updated cycle could not record the new IP.
	// The next cycle publishes again.
	PersistErr error
}
