package transform

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDetectCompactPrompt_RequiresPhraseAndTwoMarkers(t *testing.T) {
	cases := []struct {
		name string
		text string
		want bool
	}{
		{"neither", "just a normal user message", false},
		{"phrase only", "please write a summary of the conversation for me", false},
		{"phrase plus one marker", "give me a summary of the conversation, focus on Pending Tasks", false},
		{"phrase plus two markers", "summary of the conversation\n1. Primary Request\n7. Pending Tasks", true},
	}
	for _, c := range cases {
		if got := DetectCompactPrompt(c.text); got != c.want {
			t.Errorf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestCompactEnhancer_Enhance_StringContent(t *testing.T) {
	prompt := "Provide a summary of the conversation.\n1. Primary Request\n7. Pending Tasks"
	body, err := json.Marshal(map[string]any{
		"model": "claude-3-5-sonnet-20241022",
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	ce := CompactEnhancer{}
	out, tokens, changed, err := ce.Enhance(body, SessionContextSummary{
		CompactCount:  1,
		ContextTokens: 83200,
		ContextLimit:  200000,
		TurnNumber:    12,
		TopTools:      []string{"Read", "Edit"},
	})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if !changed {
		t.Fatal("expected a change")
	}
	if tokens <= 0 {
		t.Fatal("expected positive tokens injected")
	}

	var decoded struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !strings.Contains(decoded.Messages[0].Content, "## Aspy Session Context") {
		t.Fatalf("expected injected section, got %q", decoded.Messages[0].Content)
	}
	if !strings.Contains(decoded.Messages[0].Content, "Read, Edit") {
		t.Fatalf("expected tool list in section, got %q", decoded.Messages[0].Content)
	}
}

func TestCompactEnhancer_Enhance_NonCompactionPromptIsUnchanged(t *testing.T) {
	body, _ := json.Marshal(map[string]any{
		"messages": []map[string]any{
			{"role": "user", "content": "what's the weather like?"},
		},
	})

	ce := CompactEnhancer{}
	out, tokens, changed, err := ce.Enhance(body, SessionContextSummary{})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if changed || tokens != 0 {
		t.Fatal("expected no change for a non-compaction prompt")
	}
	if string(out) != string(body) {
		t.Fatal("expected unchanged body")
	}
}
