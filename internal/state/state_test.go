package state

import (
	"testing"
	"time"

	"github.com/aspyproxy/aspy/internal/events"
)

func TestRecordEvent_UpdatesGlobalStatsBufferAndSession(t *testing.T) {
	s := New(30*time.Minute, 2*time.Hour)

	s.RecordEvent("user1", "sess1", events.Event{Kind: events.KindToolCall, ToolName: "Read"})
	s.RecordEvent("user1", "sess1", events.Event{Kind: events.KindAPIUsage, Model: "claude-3-5-sonnet-20241022", InputTokens: 100})

	stats := s.GlobalStats()
	if stats.TotalToolCalls != 1 {
		t.Fatalf("expected 1 tool call, got %d", stats.TotalToolCalls)
	}
	if stats.InputTokens != 100 {
		t.Fatalf("expected 100 input tokens, got %d", stats.InputTokens)
	}

	recent := s.RecentEvents()
	if len(recent) != 2 {
		t.Fatalf("expected 2 buffered events, got %d", len(recent))
	}

	sess, ok := s.Sessions.ActiveByUser("user1")
	if !ok {
		t.Fatal("expected an active session for user1")
	}
	if sess.Stats.TotalToolCalls != 1 {
		t.Fatalf("expected the session's own stats to also reflect the tool call")
	}
}

func TestRecentEvents_RingWrapsAtCapacity(t *testing.T) {
	s := New(30*time.Minute, 2*time.Hour)
	for i := 0; i < eventBufferCap+10; i++ {
		s.RecordEvent("user1", "sess1", events.Event{Kind: events.KindToolCall, ToolName: "Read"})
	}
	recent := s.RecentEvents()
	if len(recent) != eventBufferCap {
		t.Fatalf("expected ring capped at %d, got %d", eventBufferCap, len(recent))
	}
}

func TestUpdateGlobalContext_TracksPercentage(t *testing.T) {
	s := New(30*time.Minute, 2*time.Hour)
	s.UpdateGlobalContext(100_000, 40_000, 0)

	snap := s.GlobalContext().Snapshot()
	if snap.CurrentTokens != 140_000 {
		t.Fatalf("expected 140000 current tokens, got %d", snap.CurrentTokens)
	}
}
