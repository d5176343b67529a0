package transform

import "testing"

func TestTagEditor_InjectAtEnd(t *testing.T) {
	e := &TagEditor{Rules: []TagRule{
		{Name: "append-note", Action: TagInject, Tag: "system-reminder", Content: " [edited]", Position: PositionEnd},
	}}
	for i := range e.Rules {
		if err := e.Rules[i].Compile(); err != nil {
			t.Fatalf("Compile: %v", err)
		}
	}

	result := e.Apply("<system-reminder>hello</system-reminder>", 1, 0, "")
	want := "<system-reminder>hello [edited]</system-reminder>"
	if result.Text != want {
		t.Fatalf("got %q, want %q", result.Text, want)
	}
	if len(result.Descriptions) != 1 {
		t.Fatalf("expected 1 description, got %d", len(result.Descriptions))
	}
}

func TestTagEditor_RemovePattern(t *testing.T) {
	e := &TagEditor{Rules: []TagRule{
		{Name: "strip-secret", Action: TagRemove, Tag: "note", Pattern: `secret:\w+`},
	}}
	for i := range e.Rules {
		if err := e.Rules[i].Compile(); err != nil {
			t.Fatalf("Compile: %v", err)
		}
	}

	result := e.Apply("<note>keep this secret:abc123 text</note>", 1, 0, "")
	want := "<note>keep this  text</note>"
	if result.Text != want {
		t.Fatalf("got %q, want %q", result.Text, want)
	}
}

func TestTagEditor_ReplaceWithCaptureGroup(t *testing.T) {
	e := &TagEditor{Rules: []TagRule{
		{Name: "mask-id", Action: TagReplace, Tag: "note", Pattern: `id=(\d+)`, Replacement: "id=[$1 masked]"},
	}}
	for i := range e.Rules {
		if err := e.Rules[i].Compile(); err != nil {
			t.Fatalf("Compile: %v", err)
		}
	}

	result := e.Apply("<note>record id=42 found</note>", 1, 0, "")
	want := "<note>record id=[42 masked] found</note>"
	if result.Text != want {
		t.Fatalf("got %q, want %q", result.Text, want)
	}
}

func TestTagEditor_WhenGuardSkipsRule(t *testing.T) {
	e := &TagEditor{Rules: []TagRule{
		{Name: "late-only", Action: TagInject, Tag: "note", Content: "X", Position: PositionStart,
			When: &When{TurnNumber: ">2"}},
	}}

	result := e.Apply("<note>body</note>", 1, 0, "")
	if result.Text != "<note>body</note>" {
		t.Fatalf("expected no change at turn 1, got %q", result.Text)
	}

	result = e.Apply("<note>body</note>", 3, 0, "")
	if result.Text != "<note>Xbody</note>" {
		t.Fatalf("expected injection at turn 3, got %q", result.Text)
	}
}

func TestTagEditor_GlobTagMatch(t *testing.T) {
	e := &TagEditor{Rules: []TagRule{
		{Name: "strip-system-tags", Action: TagInject, TagGlob: "system-*", Content: "!", Position: PositionEnd},
	}}
	for i := range e.Rules {
		if err := e.Rules[i].Compile(); err != nil {
			t.Fatalf("Compile: %v", err)
		}
	}

	result := e.Apply("<system-reminder>hi</system-reminder><note>hi</note>", 1, 0, "")
	want := "<system-reminder>hi!</system-reminder><note>hi</note>"
	if result.Text != want {
		t.Fatalf("got %q, want %q", result.Text, want)
	}
}

func TestWhen_EveryNMatchesMultiples(t *testing.T) {
	w := &When{TurnNumber: "every:3"}
	for turn, want := range map[int]bool{3: true, 6: true, 4: false, 0: true} {
		if got := w.Matches(turn, 0, ""); got != want {
			t.Fatalf("turn %d: got %v want %v", turn, got, want)
		}
	}
}

func TestWhen_ClientIDAlternation(t *testing.T) {
	w := &When{ClientID: "dev-1|foundry"}
	if !w.Matches(0, 0, "foundry") {
		t.Fatal("expected foundry to match")
	}
	if w.Matches(0, 0, "prod") {
		t.Fatal("expected prod not to match")
	}
}
