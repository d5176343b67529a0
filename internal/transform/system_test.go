package transform

import (
	"encoding/json"
	"testing"
)

func TestSystemEditor_AppendToStringSystem(t *testing.T) {
	e := &SystemEditor{Rules: []SystemRule{
		{Name: "footer", Action: SystemAppend, Content: "\nBe concise."},
	}}

	body := []byte(`{"model":"claude-3-5-sonnet-20241022","system":"You are helpful."}`)
	res, err := e.Apply(body, 1, 0, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Descriptions) != 1 {
		t.Fatalf("expected 1 description, got %d", len(res.Descriptions))
	}
	if res.TokensAfter <= res.TokensBefore {
		t.Fatalf("expected TokensAfter > TokensBefore, got before=%d after=%d", res.TokensBefore, res.TokensAfter)
	}

	var decoded struct {
		System string `json:"system"`
	}
	if err := json.Unmarshal(res.Body, &decoded); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	want := "You are helpful.\nBe concise."
	if decoded.System != want {
		t.Fatalf("got %q, want %q", decoded.System, want)
	}
}

func TestSystemEditor_ReplaceOnArraySystem(t *testing.T) {
	e := &SystemEditor{Rules: []SystemRule{
		{Name: "swap", Action: SystemReplace, Pattern: "helpful", Replacement: "terse"},
	}}
	for i := range e.Rules {
		if err := e.Rules[i].Compile(); err != nil {
			t.Fatalf("Compile: %v", err)
		}
	}

	body := []byte(`{"system":[{"type":"text","text":"You are helpful."}]}`)
	res, err := e.Apply(body, 1, 0, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Descriptions) != 1 {
		t.Fatalf("expected 1 description, got %d", len(res.Descriptions))
	}

	var decoded struct {
		System []anthropicSystemBlock `json:"system"`
	}
	if err := json.Unmarshal(res.Body, &decoded); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(decoded.System) != 1 || decoded.System[0].Text != "You are terse." {
		t.Fatalf("unexpected system blocks: %+v", decoded.System)
	}
}

func TestSystemEditor_NoChangeReturnsOriginalBody(t *testing.T) {
	e := &SystemEditor{Rules: []SystemRule{
		{Name: "swap", Action: SystemReplace, Pattern: "nonexistent", Replacement: "x"},
	}}
	for i := range e.Rules {
		if err := e.Rules[i].Compile(); err != nil {
			t.Fatalf("Compile: %v", err)
		}
	}

	body := []byte(`{"system":"You are helpful."}`)
	res, err := e.Apply(body, 1, 0, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Descriptions != nil {
		t.Fatalf("expected no descriptions, got %v", res.Descriptions)
	}
	if string(res.Body) != string(body) {
		t.Fatalf("expected unchanged body")
	}
}
