package parser

import (
	"strings"
	"testing"

	"github.com/aspyproxy/aspy/internal/events"
	"github.com/aspyproxy/aspy/internal/message"
)

// buildStreamingToolCallSSE builds an SSE body for a single
// tool_use block whose input arrives split across two deltas.
func buildStreamingToolCallSSE() []byte {
	return []byte(strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"model":"claude-sonnet","usage":{"input_tokens":100}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"Read"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"file\":"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"a.txt\"}"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n"))
}

func TestParseSSE_StreamingToolCall(t *testing.T) {
	p := New("haiku")
	out, err := p.ParseSSE(buildStreamingToolCallSSE())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var toolCall, apiUsage *events.Event
	for i := range out {
		switch out[i].Kind {
		case events.KindToolCall:
			toolCall = &out[i]
		case events.KindAPIUsage:
			apiUsage = &out[i]
		}
	}
	if toolCall == nil {
		t.Fatal("expected a ToolCall event")
	}
	if toolCall.ToolID != "t1" || toolCall.ToolName != "Read" {
		t.Fatalf("unexpected tool call: %+v", toolCall)
	}
	if string(toolCall.ToolInput) != `{"file":"a.txt"}` {
		t.Fatalf("unexpected tool input: %s", toolCall.ToolInput)
	}
	if apiUsage == nil || apiUsage.OutputTokens != 5 {
		t.Fatalf("unexpected api usage: %+v", apiUsage)
	}

	// The tool result in the next request must correlate to the call above.
	reqBody := []byte(`{"messages":[{"role":"user","content":[
		{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":false}
	]}]}`)
	reqOut, err := p.ParseRequest(reqBody, message.APITypeAnthropic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqOut) != 1 || reqOut[0].Kind != events.KindToolResult {
		t.Fatalf("expected one ToolResult, got %+v", reqOut)
	}
	if reqOut[0].ToolName != "Read" || !reqOut[0].Success {
		t.Fatalf("unexpected tool result: %+v", reqOut[0])
	}
}

func TestParseRequest_UnknownToolResultIsSkipped(t *testing.T) {
	p := New("haiku")
	reqBody := []byte(`{"messages":[{"role":"user","content":[
		{"type":"tool_result","tool_use_id":"never-registered","content":"ok"}
	]}]}`)
	out, err := p.ParseRequest(reqBody, message.APITypeAnthropic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no events for an unmatched tool result, got %+v", out)
	}
}

func TestCheckCompaction_CacheDropTriggersCompaction(t *testing.T) {
	p := New("haiku")

	seq := []message.Usage{
		{InputTokens: 1000, CacheReadTokens: 80000},
		{InputTokens: 1200, CacheReadTokens: 82000},
		{InputTokens: 1500, CacheReadTokens: 30000},
	}

	var triggeredCount int
	var last events.Event
	for _, u := range seq {
		if ev, ok := p.checkCompaction("claude-sonnet", u); ok {
			triggeredCount++
			last = ev
		}
	}

	if triggeredCount != 1 {
		t.Fatalf("expected exactly one ContextCompact, got %d", triggeredCount)
	}
	if last.PreviousContext != 1200+82000 {
		t.Fatalf("unexpected previous_context: %d", last.PreviousContext)
	}
	if last.NewContext != 1500+30000 {
		t.Fatalf("unexpected new_context: %d", last.NewContext)
	}
}

func TestCheckCompaction_DispatcherModelExcluded(t *testing.T) {
	p := New("haiku")
	p.lastCache = 90000
	p.lastContext = 91000

	_, triggered := p.checkCompaction("claude-haiku-20241022", message.Usage{InputTokens: 100, CacheReadTokens: 100})
	if triggered {
		t.Fatal("dispatcher-model usage must never trigger compaction detection")
	}
}

func TestRegisterPendingTool_IdempotentByID(t *testing.T) {
	p := New("haiku")
	p.RegisterPendingTool("t1", "Read")
	first := p.pending["t1"].start

	p.RegisterPendingTool("t1", "Read")
	second := p.pending["t1"].start

	if !first.Equal(second) {
		t.Fatal("re-registering an already-pending ID must not reset its start time")
	}
}
