// Package state holds the shared handles the rest of the proxy reads
// and writes: a global Stats aggregate, a global EventBuffer ring, the
// multi-user SessionManager, and a global-fallback ContextState. They
// are constructed once at startup and injected into both the proxy
// handler and the HTTP query API as a single value — cheap to pass
// around since each field is itself a thin, already-synchronized
// handle.
package state

import (
	"sync"
	"time"

	"github.com/aspyproxy/aspy/internal/contextwin"
	"github.com/aspyproxy/aspy/internal/events"
	"github.com/aspyproxy/aspy/internal/session"
)

// eventRing is a fixed-capacity ring buffer of TrackedEvents backing
// the query API's global recent-events view.
type eventRing struct {
	mu   sync.RWMutex
	buf  []events.TrackedEvent
	next int
	full bool
}

func newEventRing(cap int) *eventRing {
	return &eventRing{buf: make([]events.TrackedEvent, cap)}
}

func (r *eventRing) Push(ev events.TrackedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns the ring's contents oldest-first.
func (r *eventRing) Recent() []events.TrackedEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		out := make([]events.TrackedEvent, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]events.TrackedEvent, len(r.buf))
	copy(out, r.buf[r.next:])
	copy(out[len(r.buf)-r.next:], r.buf[:r.next])
	return out
}

const eventBufferCap = 500

// State is the bundle of shared handles injected into the proxy
// handler and the query API. Lock order, when more than one handle's
// lock is held at once, is Sessions -> Stats -> Context — in practice
// this module only ever takes one at a time.
type State struct {
	statsMu sync.Mutex
	stats   *events.Stats

	events *eventRing

	Sessions *session.Manager

	contextMu sync.Mutex
	context   *contextwin.State
}

// New constructs a State with fresh, empty handles. idleTimeout and
// sessionTimeout are forwarded to the session manager.
func New(idleTimeout, sessionTimeout time.Duration) *State {
	return &State{
		stats:    events.NewStats(),
		events:   newEventRing(eventBufferCap),
		Sessions: session.NewManager(idleTimeout, sessionTimeout),
		context:  contextwin.NewState(),
	}
}

// RecordEvent folds ev into the global Stats aggregate, pushes it
// onto the global EventBuffer ring, and routes it to the owning
// session (creating a FirstSeen session if none is active).
func (s *State) RecordEvent(userID, sessionID string, ev events.Event) {
	tracked := events.Track(userID, sessionID, ev)

	s.statsMu.Lock()
	s.stats.Apply(tracked.Event)
	s.statsMu.Unlock()

	s.events.Push(tracked)
	s.Sessions.RecordEvent(userID, ev, sessionID)
}

// GlobalStats returns a snapshot copy of the global aggregate.
func (s *State) GlobalStats() events.Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return *s.stats
}

// RecentEvents returns the global EventBuffer ring's contents,
// oldest first.
func (s *State) RecentEvents() []events.TrackedEvent {
	return s.events.Recent()
}

// GlobalContext returns the fallback ContextState used when a request
// cannot be attributed to an active session.
func (s *State) GlobalContext() *contextwin.State {
	return s.context
}

// UpdateGlobalContext applies a usage observation to the fallback
// ContextState under its own lock, independent of any session-local
// ContextState the caller may also be updating.
func (s *State) UpdateGlobalContext(inputTokens, cacheReadTokens, cacheCreationTokens int) {
	s.contextMu.Lock()
	defer s.contextMu.Unlock()
	s.context.Update(inputTokens, cacheReadTokens, cacheCreationTokens)
}
