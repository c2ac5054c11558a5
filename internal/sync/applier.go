package sync

import (
	stdsync "sync"

	"github.com/trivia-live/internal/domain"
)

// Applier is the single ordering gate for incoming session snapshots.
// Push and poll may both be active and may deliver duplicate or reordered
// snapshots; a snapshot is applied iff its version is strictly greater
// than the last applied one, which makes application idempotent and
// order-insensitive.
//
// Version is an integer counter bumped by the store on every session
// write. It is never a timestamp.
type Applier struct {
	mu      stdsync.Mutex
	version int64
	current *domain.Session
}

// Apply accepts the snapshot if it supersedes the local one. It returns
// true when the snapshot was applied and false when it was dropped as
// stale or duplicate.
func (a *Applier) Apply(s *domain.Session) bool {
	if s == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.Version <= a.version {
		return false
	}
	a.version = s.Version
	a.current = s
	return true
}

// Version returns the last applied version, zero before any apply
func (a *Applier) Version() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

// Current returns the last applied snapshot, nil before any apply
func (a *Applier) Current() *domain.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
