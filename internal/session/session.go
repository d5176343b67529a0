// Package session implements the per-user session lifecycle: one
// active session per user, supersession on re-start, idle/timeout
// transitions, and a bounded event ring per session.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/aspyproxy/aspy/internal/contextwin"
	"github.com/aspyproxy/aspy/internal/events"
)

// UserID derives the stable, non-reversible identity for a client
// credential: the first 16 hex characters of its SHA-256 digest. It is
// never the raw key.
func UserID(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:16]
}

// UnknownUser is the sentinel user ID used for sessions created by a
// hook before any request has been observed, pending backfill to the
// user's derived identity.
const UnknownUser = "unknown"

// Source records how a session was initiated.
type Source string

const (
	SourceHook     Source = "hook"
	SourceWarmup   Source = "warmup"
	SourceFirstSeen Source = "first_seen"
)

// StatusKind discriminates a session's lifecycle state.
type StatusKind string

const (
	StatusActive StatusKind = "active"
	StatusIdle   StatusKind = "idle"
	StatusEnded  StatusKind = "ended"
)

// EndReason records why a session ended.
type EndReason string

const (
	ReasonSuperseded EndReason = "superseded"
	ReasonTimeout    EndReason = "timeout"
	ReasonExplicit   EndReason = "explicit"
)

// Status is the session's current lifecycle state. Since is populated
// for Idle; Reason/At are populated for Ended.
type Status struct {
	Kind   StatusKind
	Since  time.Time
	Reason EndReason
	At     time.Time
}

// Key identifies a session: either Explicit (a hook-supplied session
// ID) or Implicit (keyed by the user's derived identity). Comparable,
// so it can be used directly as a map key.
type Key struct {
	Explicit bool
	Value    string
}

// ExplicitKey builds a Key for a hook-supplied session ID.
func ExplicitKey(hookSessionID string) Key { return Key{Explicit: true, Value: hookSessionID} }

// ImplicitKey builds a Key from a derived user ID.
func ImplicitKey(userID string) Key { return Key{Explicit: false, Value: userID} }

func (k Key) String() string {
	if k.Explicit {
		return "explicit:" + k.Value
	}
	return "implicit:" + k.Value
}

// ringCap is the per-session bounded event ring capacity.
const ringCap = 500

// eventRing is a fixed-capacity ring of tracked events, oldest evicted
// first once full.
type eventRing struct {
	buf  []events.TrackedEvent
	next int
	full bool
}

func newEventRing() *eventRing {
	return &eventRing{buf: make([]events.TrackedEvent, ringCap)}
}

func (r *eventRing) push(e events.TrackedEvent) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % ringCap
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns the ring contents oldest-first.
func (r *eventRing) Recent() []events.TrackedEvent {
	if !r.full {
		out := make([]events.TrackedEvent, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]events.TrackedEvent, ringCap)
	copy(out, r.buf[r.next:])
	copy(out[ringCap-r.next:], r.buf[:r.next])
	return out
}

// Session is a single user's conversation state: identity, lifecycle
// status, additive stats, a bounded recent-event ring, and a
// context-window gauge. The manager's shard lock only guards the
// session maps, not a session's own mutable fields — LastActivity,
// ring, and Stats are guarded by mu so two requests from the same user
// can record events concurrently without racing.
type Session struct {
	Key          Key
	UserID       string
	Source       Source
	Started      time.Time
	LastActivity time.Time
	Stats        *events.Stats
	Status       Status
	Context      *contextwin.State

	mu   sync.Mutex
	ring *eventRing
}

func newSession(key Key, userID string, source Source) *Session {
	now := time.Now()
	return &Session{
		Key:          key,
		UserID:       userID,
		Source:       source,
		Started:      now,
		LastActivity: now,
		Stats:        events.NewStats(),
		Status:       Status{Kind: StatusActive},
		Context:      contextwin.NewState(),
		ring:         newEventRing(),
	}
}

// RecordEvent appends e to the session's ring, advances LastActivity,
// and folds it into Stats where applicable.
func (s *Session) RecordEvent(tracked events.TrackedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.push(tracked)
	s.LastActivity = time.Now()
	s.Stats.Apply(tracked.Event)
}

// RecentEvents returns the session's bounded event history, oldest first.
func (s *Session) RecentEvents() []events.TrackedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Recent()
}
