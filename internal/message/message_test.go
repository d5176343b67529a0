package message

import "testing"

func TestExtractRequestMeta_Anthropic(t *testing.T) {
	body := []byte(`{"model":"claude-sonnet","stream":true,"tools":[{"name":"Read"},{"name":"Write"}]}`)
	meta := ExtractRequestMeta(body, APITypeAnthropic)
	if meta.Model != "claude-sonnet" || !meta.Stream {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if len(meta.Tools) != 2 || meta.Tools[0] != "Read" {
		t.Fatalf("unexpected tools: %+v", meta.Tools)
	}
}

func TestExtractToolResults_Anthropic(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":false}]}
	]}`)
	results, err := ExtractToolResults(body, APITypeAnthropic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ToolUseID != "t1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestExtractToolUses_Anthropic(t *testing.T) {
	body := []byte(`{"content":[
		{"type":"text","text":"hi"},
		{"type":"tool_use","id":"t1","name":"Read","input":{"file":"a.txt"}}
	]}`)
	uses, err := ExtractToolUses(body, APITypeAnthropic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uses) != 1 || uses[0].ID != "t1" || uses[0].Name != "Read" {
		t.Fatalf("unexpected uses: %+v", uses)
	}
}

func TestExtractUsage(t *testing.T) {
	body := []byte(`{"usage":{"input_tokens":10,"output_tokens":5,"cache_creation_input_tokens":1,"cache_read_input_tokens":2}}`)
	usage, ok := ExtractUsage(body)
	if !ok {
		t.Fatal("expected usage to be found")
	}
	if usage.InputTokens != 10 || usage.CacheReadTokens != 2 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
}

func TestExtractUsage_Absent(t *testing.T) {
	if _, ok := ExtractUsage([]byte(`{}`)); ok {
		t.Fatal("expected no usage to be found")
	}
}
