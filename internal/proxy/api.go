package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aspyproxy/aspy/internal/contextwin"
	"github.com/aspyproxy/aspy/internal/events"
	"github.com/aspyproxy/aspy/internal/session"
	"github.com/aspyproxy/aspy/internal/state"
)

// API serves the query/control surface a terminal UI or other
// external collaborator polls: aggregate stats, recent events, a
// session's context-window gauge, the active session list, and the
// session lifecycle hooks Claude Code itself calls.
type API struct {
	state     *state.State
	version   string
	startedAt time.Time
}

// APIOptions holds the dependencies injected into API.
type APIOptions struct {
	State   *state.State
	Version string
}

// NewAPI constructs an API bound to state. Version defaults to "dev"
// when empty.
func NewAPI(opts APIOptions) *API {
	v := opts.Version
	if v == "" {
		v = "dev"
	}
	return &API{
		state:     opts.State,
		version:   v,
		startedAt: time.Now(),
	}
}

// Mux returns an http.Handler routing every /api/ endpoint this
// package defines.
func (a *API) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", a.handleStats)
	mux.HandleFunc("/api/events", a.handleEvents)
	mux.HandleFunc("/api/context", a.handleContext)
	mux.HandleFunc("/api/sessions", a.handleSessions)
	mux.HandleFunc("/api/session/start", a.handleSessionStart)
	mux.HandleFunc("/api/session/end", a.handleSessionEnd)
	mux.HandleFunc("/api/hook/precompact", a.handlePrecompact)
	mux.HandleFunc("/api/health", a.handleHealth)
	return mux
}

// handleStats returns the global Stats aggregate, or a session's own
// Stats when ?user= names an active session.
// GET /api/stats?user=
func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeJSON(w, http.StatusOK, a.state.GlobalStats())
		return
	}

	sess, ok := a.state.Sessions.ActiveByUser(userID)
	if !ok {
		http.Error(w, "no active session for user", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess.Stats)
}

// handleEvents returns the most recent tracked events, optionally
// filtered to one user and/or one event kind and capped at limit
// (default 100).
// GET /api/events?user=&type=&limit=
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	userID := q.Get("user")
	kind := events.Kind(q.Get("type"))

	limit := 100
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var source []events.TrackedEvent
	if userID != "" {
		if sess, ok := a.state.Sessions.ActiveByUser(userID); ok {
			source = sess.RecentEvents()
		}
	} else {
		source = a.state.RecentEvents()
	}

	filtered := make([]events.TrackedEvent, 0, len(source))
	for _, te := range source {
		if kind != "" && te.Event.Kind != kind {
			continue
		}
		filtered = append(filtered, te)
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": filtered})
}

// handleContext returns the context-window gauge for the named
// session, 400 if user is missing.
// GET /api/context?user=
func (a *API) handleContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user query parameter required", http.StatusBadRequest)
		return
	}

	var snap contextwin.Snapshot
	if sess, ok := a.state.Sessions.ActiveByUser(userID); ok {
		snap = sess.Context.Snapshot()
	} else {
		snap = a.state.GlobalContext().Snapshot()
	}
	writeJSON(w, http.StatusOK, snap)
}

// SessionSummary is the per-session projection returned by
// /api/sessions: enough to render a session list without exposing the
// full bounded event ring.
type SessionSummary struct {
	UserID       string           `json:"user_id"`
	SessionKey   string           `json:"session_key"`
	Source       session.Source   `json:"source"`
	Status       session.StatusKind `json:"status"`
	Started      time.Time        `json:"started"`
	LastActivity time.Time        `json:"last_activity"`
	Stats        *events.Stats    `json:"stats"`
	Context      contextwin.Snapshot `json:"context"`
}

func summarize(s *session.Session) SessionSummary {
	return SessionSummary{
		UserID:       s.UserID,
		SessionKey:   s.Key.String(),
		Source:       s.Source,
		Status:       s.Status.Kind,
		Started:      s.Started,
		LastActivity: s.LastActivity,
		Stats:        s.Stats,
		Context:      s.Context.Snapshot(),
	}
}

// handleSessions lists every currently-active session.
// GET /api/sessions
func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	active := a.state.Sessions.All()
	out := make([]SessionSummary, 0, len(active))
	for _, s := range active {
		out = append(out, summarize(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// handleSessionStart explicitly starts a session, the hook surface
// Claude Code's own session-start hook calls rather than relying on
// first-seen-from-traffic session synthesis.
// POST /api/session/start { user_id, session_id?, source }
func (a *API) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
		Source    string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id field required", http.StatusBadRequest)
		return
	}

	key := session.ImplicitKey(req.UserID)
	if req.SessionID != "" {
		key = session.ExplicitKey(req.SessionID)
	}

	src := session.SourceHook
	switch req.Source {
	case string(session.SourceWarmup):
		src = session.SourceWarmup
	case string(session.SourceFirstSeen):
		src = session.SourceFirstSeen
	}

	sess := a.state.Sessions.StartSession(req.UserID, key, src)
	writeJSON(w, http.StatusOK, summarize(sess))
}

// handleSessionEnd explicitly ends the active session for a user.
// POST /api/session/end { user_id, reason? }
func (a *API) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		UserID string `json:"user_id"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id field required", http.StatusBadRequest)
		return
	}

	reason := session.ReasonExplicit
	if req.Reason == string(session.ReasonTimeout) {
		reason = session.ReasonTimeout
	}

	if !a.state.Sessions.EndSession(req.UserID, reason) {
		http.Error(w, "no active session for user", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended", "user_id": req.UserID})
}

// handlePrecompact is the surface Claude Code's own pre-compact hook
// calls: it resets the session's context-window warned set without
// waiting for the next usage observation to cross back down, the same
// effect a real ContextCompact event has.
// POST /api/hook/precompact { session_id }
func (a *API) handlePrecompact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id field required", http.StatusBadRequest)
		return
	}

	found := false
	for _, s := range a.state.Sessions.All() {
		if s.Key.Explicit && s.Key.Value == req.SessionID {
			s.Context.ResetWarnings()
			found = true
			break
		}
	}
	if !found {
		http.Error(w, "no active session with that session_id", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleHealth is the standard operational endpoint every daemon in
// this family exposes.
// GET /api/health
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(a.startedAt).Seconds()),
		"version":        a.version,
	})
}

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
