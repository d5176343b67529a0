package session

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/dgryski/go-rendezvous"

	"github.com/aspyproxy/aspy/internal/events"
)

// shardCount is the number of independent locks the session map is
// split across, a drop-in replacement for a single-mutex design under
// contention; rendezvous hashing means adding/removing shards (e.g. a
// future resize) remaps the minimum possible number of users.
const shardCount = 16

const historyCap = 100

// shard owns one partition of the session map, independently locked.
type shard struct {
	mu            sync.RWMutex
	activeByUser  map[string]*Session
	byExplicitKey map[string]*Session // hook-session-id -> session, for direct lookup
}

func newShard() *shard {
	return &shard{
		activeByUser:  make(map[string]*Session),
		byExplicitKey: make(map[string]*Session),
	}
}

// Manager is the per-user session lifecycle store. Active sessions
// live in sharded maps; ended sessions move to a small
// globally-locked history ring.
type Manager struct {
	shards []*shard
	ring   *rendezvous.Rendezvous

	histMu  sync.Mutex
	history []*Session

	idleTimeout    time.Duration
	sessionTimeout time.Duration
}

// NewManager returns a Manager. idleTimeout and sessionTimeout govern
// CheckIdleSessions and CleanupTimedOut respectively.
func NewManager(idleTimeout, sessionTimeout time.Duration) *Manager {
	nodes := make([]string, shardCount)
	shards := make([]*shard, shardCount)
	for i := range shards {
		nodes[i] = strconv.Itoa(i)
		shards[i] = newShard()
	}
	return &Manager{
		shards:         shards,
		ring:           rendezvous.New(nodes, hashUserID),
		idleTimeout:    idleTimeout,
		sessionTimeout: sessionTimeout,
	}
}

func hashUserID(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

func (m *Manager) shardFor(userID string) *shard {
	idx, err := strconv.Atoi(m.ring.Lookup(userID))
	if err != nil || idx < 0 || idx >= len(m.shards) {
		idx = 0
	}
	return m.shards[idx]
}

// StartSession begins a session for user, under the given key and
// source. If the user already has an active session, it is marked
// Ended{Superseded} and archived.
func (m *Manager) StartSession(userID string, key Key, source Source) *Session {
	sh := m.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if prior, ok := sh.activeByUser[userID]; ok {
		m.endLocked(sh, prior, ReasonSuperseded)
	}

	s := newSession(key, userID, source)
	sh.activeByUser[userID] = s
	if key.Explicit {
		sh.byExplicitKey[key.Value] = s
	}
	return s
}

// endLocked transitions s to Ended and archives it. Caller must hold
// the owning shard's write lock.
func (m *Manager) endLocked(sh *shard, s *Session, reason EndReason) {
	s.Status = Status{Kind: StatusEnded, Reason: reason, At: time.Now()}
	delete(sh.activeByUser, s.UserID)
	if s.Key.Explicit {
		delete(sh.byExplicitKey, s.Key.Value)
	}
	m.archive(s)
}

func (m *Manager) archive(s *Session) {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	m.history = append(m.history, s)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
}

// History returns the archived sessions, oldest first.
func (m *Manager) History() []*Session {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	out := make([]*Session, len(m.history))
	copy(out, m.history)
	return out
}

// ActiveByUser returns the active session for userID, if any.
func (m *Manager) ActiveByUser(userID string) (*Session, bool) {
	sh := m.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.activeByUser[userID]
	return s, ok
}

// RecordEvent appends ev to userID's active session, synthesizing an
// Implicit/FirstSeen session if none exists.
func (m *Manager) RecordEvent(userID string, ev events.Event, sessionID string) *Session {
	sh := m.shardFor(userID)
	sh.mu.Lock()
	s, ok := sh.activeByUser[userID]
	if !ok {
		s = newSession(ImplicitKey(userID), userID, SourceFirstSeen)
		sh.activeByUser[userID] = s
	}
	sh.mu.Unlock()

	s.RecordEvent(events.Track(userID, sessionID, ev))
	return s
}

// BackfillUserID upgrades any active session whose user is the
// UnknownUser sentinel to the real userID, and updates the reverse
// index.
func (m *Manager) BackfillUserID(realUserID string) {
	unknownShard := m.shardFor(UnknownUser)
	unknownShard.mu.Lock()
	s, ok := unknownShard.activeByUser[UnknownUser]
	if ok {
		delete(unknownShard.activeByUser, UnknownUser)
	}
	unknownShard.mu.Unlock()
	if !ok {
		return
	}

	s.UserID = realUserID
	destShard := m.shardFor(realUserID)
	destShard.mu.Lock()
	defer destShard.mu.Unlock()
	if prior, exists := destShard.activeByUser[realUserID]; exists && prior != s {
		m.endLocked(destShard, prior, ReasonSuperseded)
	}
	destShard.activeByUser[realUserID] = s
}

// CheckIdleSessions transitions any Active session whose LastActivity
// predates the configured idle timeout to Idle.
func (m *Manager) CheckIdleSessions() {
	if m.idleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.idleTimeout)
	for _, sh := range m.shards {
		sh.mu.Lock()
		for _, s := range sh.activeByUser {
			if s.Status.Kind == StatusActive && s.LastActivity.Before(cutoff) {
				s.Status = Status{Kind: StatusIdle, Since: time.Now()}
			}
		}
		sh.mu.Unlock()
	}
}

// CleanupTimedOut transitions any Idle session whose LastActivity
// predates the configured session timeout to Ended{Timeout} and
// archives it.
func (m *Manager) CleanupTimedOut() {
	if m.sessionTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.sessionTimeout)
	for _, sh := range m.shards {
		sh.mu.Lock()
		for _, s := range sh.activeByUser {
			if s.Status.Kind == StatusIdle && s.LastActivity.Before(cutoff) {
				m.endLocked(sh, s, ReasonTimeout)
			}
		}
		sh.mu.Unlock()
	}
}

// All returns every currently-active session across all shards, for
// the /api/sessions query endpoint.
func (m *Manager) All() []*Session {
	var out []*Session
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, s := range sh.activeByUser {
			out = append(out, s)
		}
		sh.mu.RUnlock()
	}
	return out
}

// EndSession explicitly ends the active session for userID, if any.
func (m *Manager) EndSession(userID string, reason EndReason) bool {
	sh := m.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.activeByUser[userID]
	if !ok {
		return false
	}
	m.endLocked(sh, s, reason)
	return true
}
