package proxy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aspyproxy/aspy/internal/events"
	"github.com/aspyproxy/aspy/internal/state"
)

func newTestAPI() *API {
	st := state.New(30*time.Minute, 2*time.Hour)
	return NewAPI(APIOptions{State: st, Version: "test"})
}

func TestHandleStats_GlobalAndPerUser(t *testing.T) {
	a := newTestAPI()
	a.state.RecordEvent("user1", "sess1", events.Event{Kind: events.KindToolCall, ToolName: "Read"})

	rec := httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var global events.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &global); err != nil {
		t.Fatalf("decoding global stats: %v", err)
	}
	if global.TotalToolCalls != 1 {
		t.Fatalf("expected 1 tool call globally, got %d", global.TotalToolCalls)
	}

	rec = httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats?user=user1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for known user, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats?user=nobody", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", rec.Code)
	}
}

func TestHandleEvents_FiltersByUserTypeAndLimit(t *testing.T) {
	a := newTestAPI()
	a.state.RecordEvent("user1", "sess1", events.Event{Kind: events.KindToolCall, ToolName: "Read"})
	a.state.RecordEvent("user1", "sess1", events.Event{Kind: events.KindAPIUsage, Model: "claude-3-5-sonnet-20241022"})
	a.state.RecordEvent("user2", "sess2", events.Event{Kind: events.KindToolCall, ToolName: "Write"})

	rec := httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?type=tool_call", nil))
	var body struct {
		Events []events.TrackedEvent `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if len(body.Events) != 2 {
		t.Fatalf("expected 2 tool_call events across both users, got %d", len(body.Events))
	}

	rec = httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?user=user1", nil))
	body.Events = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if len(body.Events) != 2 {
		t.Fatalf("expected 2 events for user1, got %d", len(body.Events))
	}
}

func TestHandleContext_RequiresUserParam(t *testing.T) {
	a := newTestAPI()

	rec := httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/context", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when user param missing, got %d", rec.Code)
	}

	a.state.RecordEvent("user1", "sess1", events.Event{Kind: events.KindAPIUsage, InputTokens: 1000})
	rec = httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/context?user=user1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleSessionStartAndEnd(t *testing.T) {
	a := newTestAPI()

	startBody, _ := json.Marshal(map[string]string{"user_id": "user1", "session_id": "hook-sess-1"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/session/start", bytes.NewReader(startBody))
	a.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 starting session, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	var listed struct {
		Sessions []SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decoding sessions: %v", err)
	}
	if len(listed.Sessions) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(listed.Sessions))
	}

	endBody, _ := json.Marshal(map[string]string{"user_id": "user1"})
	rec = httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/end", bytes.NewReader(endBody)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 ending session, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session/end", bytes.NewReader(endBody)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 ending an already-ended session, got %d", rec.Code)
	}
}

func TestHandlePrecompact_ResetsWarnedSet(t *testing.T) {
	a := newTestAPI()
	startBody, _ := json.Marshal(map[string]string{"user_id": "user1", "session_id": "hook-sess-1"})
	a.Mux().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/session/start", bytes.NewReader(startBody)))

	sess, ok := a.state.Sessions.ActiveByUser("user1")
	if !ok {
		t.Fatal("expected active session")
	}
	sess.Context.Update(190_000, 0, 0)
	sess.Context.MarkWarned(70)

	precompactBody, _ := json.Marshal(map[string]string{"session_id": "hook-sess-1"})
	rec := httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/hook/precompact", bytes.NewReader(precompactBody)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, warned := sess.Context.NextUnwarnedThreshold([]int{70}); !warned {
		t.Fatal("expected threshold 70 to be unwarned again after precompact reset")
	}
}

func TestHandleHealth(t *testing.T) {
	a := newTestAPI()
	rec := httptest.NewRecorder()
	a.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}
