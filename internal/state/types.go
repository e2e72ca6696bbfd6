package state

import (
	"errors"
	"time"
)

// ErrNotFound is returned by a Manager when nothing has been stored yet.
var ErrNotFound = errors.New("state not found")

// State is the persisted record of the last confirmed publication.
type State struct {
	LastPublishedIP string    `json:"lastPublishedIP"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// IsEmpty reports whether no IP has been published yet.
func (s State) IsEmpty() bool {
	return s.LastPublishedIP == ""
}
