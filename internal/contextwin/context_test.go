package contextwin

import (
	"encoding/json"
	"testing"
)

func TestNextUnwarnedThreshold_S6(t *testing.T) {
	s := NewState()
	s.Update(60_000, 0, 0) // 30% of default 200k limit, below all thresholds
	if _, ok := s.NextUnwarnedThreshold(DefaultThresholds); ok {
		t.Fatal("expected no threshold crossed at 30%")
	}

	s.Update(164_000, 0, 0) // 82%
	threshold, ok := s.NextUnwarnedThreshold(DefaultThresholds)
	if !ok || threshold != 80 {
		t.Fatalf("expected threshold 80 to be crossed, got %d ok=%v", threshold, ok)
	}
	s.MarkWarned(threshold)

	// A subsequent request at 83% must not re-inject.
	s.Update(166_000, 0, 0)
	if _, ok := s.NextUnwarnedThreshold(DefaultThresholds); ok {
		t.Fatal("already-warned threshold must not fire again")
	}

	// After compaction resets the warned set, crossing 80% again injects.
	s.ResetWarnings()
	if threshold, ok := s.NextUnwarnedThreshold(DefaultThresholds); !ok || threshold != 80 {
		t.Fatalf("expected threshold 80 to re-fire after reset, got %d ok=%v", threshold, ok)
	}
}

func TestInjectWarning_StringSystem(t *testing.T) {
	body := []byte(`{"system":"be helpful","messages":[]}`)
	out, tokens, err := InjectWarning(body, "WARNING TEXT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens <= 0 {
		t.Fatal("expected a positive token estimate")
	}

	var decoded struct {
		System string `json:"system"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unexpected error re-parsing: %v", err)
	}
	if decoded.System == "be helpful" {
		t.Fatal("expected system field to be mutated")
	}
}

func TestInjectWarning_ArraySystem(t *testing.T) {
	body := []byte(`{"system":[{"type":"text","text":"be helpful"}]}`)
	out, _, err := InjectWarning(body, "WARNING TEXT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		System []anthropicSystemBlock `json:"system"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unexpected error re-parsing: %v", err)
	}
	if len(decoded.System) != 2 {
		t.Fatalf("expected a second block to be appended, got %d blocks", len(decoded.System))
	}
}

func TestInjectWarning_AbsentSystem(t *testing.T) {
	body := []byte(`{"messages":[]}`)
	out, _, err := InjectWarning(body, "WARNING TEXT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded struct {
		System string `json:"system"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unexpected error re-parsing: %v", err)
	}
	if decoded.System != "WARNING TEXT" {
		t.Fatalf("expected system field to be created, got %q", decoded.System)
	}
}
