// Package contextwin implements the context-window gauge and the
// threshold-crossing warning injector: it tracks estimated token usage
// per session and injects a directive into the outbound request's
// system field once usage crosses a configured percentage, so the
// client model can proactively surface the warning to the user.
package contextwin

import (
	"sync"
)

// DefaultLimit is used when a provider/model-specific limit is not
// otherwise configured.
const DefaultLimit = 200_000

// DefaultThresholds are the percentage crossings that trigger a
// warning injection when config doesn't override them.
var DefaultThresholds = []int{70, 80, 90, 95}

// State is the context-window gauge for one session (or the global
// fallback instance held in internal/state for traffic not yet bound
// to a session).
type State struct {
	mu sync.Mutex

	currentTokens int
	limit         int
	lastCached    int
	warned        map[int]bool
}

// NewState returns a State with the default limit and no warnings issued.
func NewState() *State {
	return &State{limit: DefaultLimit, warned: make(map[int]bool)}
}

// Update folds a fresh ApiUsage reading into the gauge.
func (s *State) Update(inputTokens, cacheReadTokens, cacheCreationTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totalCache := cacheReadTokens + cacheCreationTokens
	s.currentTokens = inputTokens + totalCache
	s.lastCached = totalCache
}

// SetLimit overrides the context-window limit (e.g. once the model's
// actual limit is known from config).
func (s *State) SetLimit(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 {
		s.limit = limit
	}
}

// Percentage returns the current usage as a percentage of the limit.
func (s *State) Percentage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percentageLocked()
}

func (s *State) percentageLocked() float64 {
	if s.limit <= 0 {
		return 0
	}
	return float64(s.currentTokens) / float64(s.limit) * 100
}

// Snapshot is a point-in-time read of the gauge for the query API.
type Snapshot struct {
	CurrentTokens int
	Limit         int
	LastCached    int
	Percentage    float64
}

// Snapshot returns the gauge's current values.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		CurrentTokens: s.currentTokens,
		Limit:         s.limit,
		LastCached:    s.lastCached,
		Percentage:    s.percentageLocked(),
	}
}

// NextUnwarnedThreshold returns the highest configured threshold that
// the current percentage has crossed, and true, if that threshold has
// not yet been warned. Lower crossed thresholds are not considered.
// Thresholds must be sorted ascending.
func (s *State) NextUnwarnedThreshold(thresholds []int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pct := s.percentageLocked()
	var found int
	var ok bool
	for _, t := range thresholds {
		if pct >= float64(t) {
			found = t
			ok = true
		}
	}
	if !ok || s.warned[found] {
		return 0, false
	}
	return found, true
}

// MarkWarned records that threshold has been warned for this gauge.
func (s *State) MarkWarned(threshold int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warned[threshold] = true
}

// ResetWarnings clears every warned threshold. Called when a
// ContextCompact is observed, since usage drops back below every
// threshold that had already been warned for.
func (s *State) ResetWarnings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warned = make(map[int]bool)
}
