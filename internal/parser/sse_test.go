package parser

import (
	"strings"
	"testing"

	"github.com/aspyproxy/aspy/internal/events"
)

func TestParseSSE_MalformedDeltaLineIsSkippedNotFatal(t *testing.T) {
	body := []byte(strings.Join([]string{
		`event: content_block_delta`,
		`data: {not valid json`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n"))

	p := New("haiku")
	out, err := p.ParseSSE(body)
	if err != nil {
		t.Fatalf("malformed per-line JSON must not fail the whole parse: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no events from a stream with only a malformed delta, got %+v", out)
	}
}

func TestParseSSE_ThinkingBlock(t *testing.T) {
	body := []byte(strings.Join([]string{
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm, "}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"let me check"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
	}, "\n"))

	p := New("haiku")
	out, err := p.ParseSSE(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Kind != events.KindThinking {
		t.Fatalf("expected a single Thinking event, got %+v", out)
	}
	if out[0].Content != "hmm, let me check" {
		t.Fatalf("unexpected accumulated thinking content: %q", out[0].Content)
	}
}

func TestParseSSE_UnterminatedBlockIsFlushedAtEndOfStream(t *testing.T) {
	body := []byte(strings.Join([]string{
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"Bash"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"cmd\":\"ls\"}"}}`,
		``,
	}, "\n"))

	p := New("haiku")
	out, err := p.ParseSSE(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Kind != events.KindToolCall {
		t.Fatalf("expected the never-stopped block to be flushed as a ToolCall, got %+v", out)
	}
}

func TestInspectLine_EagerlyRegistersToolUse(t *testing.T) {
	p := New("haiku")
	started, delta := p.InspectLine([]byte(`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"Read"}}`))
	if started || delta != "" {
		t.Fatalf("tool_use start should not report thinking state")
	}
	if _, ok := p.pending["t1"]; !ok {
		t.Fatal("expected InspectLine to eagerly register the pending tool")
	}
}

func TestInspectLine_ThinkingStartAndDelta(t *testing.T) {
	p := New("haiku")
	started, _ := p.InspectLine([]byte(`{"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`))
	if !started {
		t.Fatal("expected thinkingStarted=true")
	}
	_, delta := p.InspectLine([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"hmm"}}`))
	if delta != "hmm" {
		t.Fatalf("expected thinking delta fragment, got %q", delta)
	}
}
