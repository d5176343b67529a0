// Package message provides a typed-enough view over the two wire
// formats Aspy understands (Anthropic Messages and OpenAI Chat
// Completions), extracting tool-use/tool-result blocks and request
// metadata without committing to a full schema for either provider.
package message

import "encoding/json"

// APIType identifies which wire format a request/response body uses.
type APIType int

const (
	APITypeUnknown APIType = iota
	APITypeAnthropic
	APITypeOpenAI
)

// ToolUse is a single tool invocation extracted from assistant content.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
	Index int
}

// ToolResult is a single tool_result content block extracted from a
// user message, correlating back to a prior ToolUse by ID.
type ToolResult struct {
	ToolUseID string
	Content   json.RawMessage
	IsError   bool
}

// Usage is the token-usage object reported alongside a response.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheCreationTokens int
	CacheReadTokens     int
}

// RequestMeta summarizes the fields of a request body the proxy needs
// without a full parse: model, declared tool names, and whether the
// caller asked for a streamed response.
type RequestMeta struct {
	Model  string
	Tools  []string
	Stream bool
}

type anthropicRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
	Tools  []struct {
		Name string `json:"name"`
	} `json:"tools"`
	System json.RawMessage `json:"system"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

type openAIRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
	Tools  []struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

// ExtractRequestMeta parses model/stream/tool-name fields out of a
// request body, dispatching on apiType. Returns the zero value on
// malformed JSON — callers treat that as "no metadata available", not
// as a hard parse failure (only the parser package's ParseRequest
// surfaces a parse error to the caller).
func ExtractRequestMeta(body []byte, apiType APIType) RequestMeta {
	switch apiType {
	case APITypeAnthropic:
		var req anthropicRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return RequestMeta{}
		}
		meta := RequestMeta{Model: req.Model, Stream: req.Stream}
		for _, tl := range req.Tools {
			meta.Tools = append(meta.Tools, tl.Name)
		}
		return meta
	case APITypeOpenAI:
		var req openAIRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return RequestMeta{}
		}
		meta := RequestMeta{Model: req.Model, Stream: req.Stream}
		for _, tl := range req.Tools {
			meta.Tools = append(meta.Tools, tl.Function.Name)
		}
		return meta
	default:
		return RequestMeta{}
	}
}

// anthropicContentBlock is the minimal shape needed to recognize
// tool_use and tool_result blocks within a message's content array,
// regardless of which side of the conversation it came from.
type anthropicContentBlock struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// ExtractToolResults walks an Anthropic request body's user messages
// and returns every tool_result content block found, in document
// order. OpenAI's Chat Completions format carries tool results as
// separate "tool"-role messages instead of content blocks; both are
// handled here since the parser's request-side pass needs both.
func ExtractToolResults(body []byte, apiType APIType) ([]ToolResult, error) {
	switch apiType {
	case APITypeAnthropic:
		return extractAnthropicToolResults(body)
	case APITypeOpenAI:
		return extractOpenAIToolResults(body)
	default:
		return nil, nil
	}
}

func extractAnthropicToolResults(body []byte) ([]ToolResult, error) {
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	var out []ToolResult
	for _, m := range req.Messages {
		if m.Role != "user" {
			continue
		}
		var blocks []anthropicContentBlock
		if err := json.Unmarshal(m.Content, &blocks); err != nil {
			// Content may be a plain string (no tool_result possible); not an error.
			continue
		}
		for _, b := range blocks {
			if b.Type != "tool_result" {
				continue
			}
			out = append(out, ToolResult{
				ToolUseID: b.ToolUseID,
				Content:   b.Content,
				IsError:   b.IsError,
			})
		}
	}
	return out, nil
}

type openAIToolMessage struct {
	Role       string `json:"role"`
	ToolCallID string `json:"tool_call_id"`
	Content    json.RawMessage `json:"content"`
}

type openAIRequestMessages struct {
	Messages []openAIToolMessage `json:"messages"`
}

func extractOpenAIToolResults(body []byte) ([]ToolResult, error) {
	var req openAIRequestMessages
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	var out []ToolResult
	for _, m := range req.Messages {
		if m.Role != "tool" {
			continue
		}
		out = append(out, ToolResult{ToolUseID: m.ToolCallID, Content: m.Content})
	}
	return out, nil
}

// ExtractToolUses walks a non-streamed Anthropic response body's
// content array for tool_use blocks. Used by the buffered response
// branch (JSON, not SSE).
func ExtractToolUses(body []byte, apiType APIType) ([]ToolUse, error) {
	if apiType != APITypeAnthropic {
		return nil, nil
	}
	var resp struct {
		Content []anthropicContentBlock `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var out []ToolUse
	for i, b := range resp.Content {
		if b.Type != "tool_use" {
			continue
		}
		out = append(out, ToolUse{ID: b.ID, Name: b.Name, Input: b.Input, Index: i})
	}
	return out, nil
}

// ExtractUsage reads the top-level "usage" object of a non-streamed
// response body.
func ExtractUsage(body []byte) (Usage, bool) {
	var resp struct {
		Usage *struct {
			InputTokens         int `json:"input_tokens"`
			OutputTokens        int `json:"output_tokens"`
			CacheCreationTokens int `json:"cache_creation_input_tokens"`
			CacheReadTokens     int `json:"cache_read_input_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Usage == nil {
		return Usage{}, false
	}
	return Usage{
		InputTokens:         resp.Usage.InputTokens,
		OutputTokens:        resp.Usage.OutputTokens,
		CacheCreationTokens: resp.Usage.CacheCreationTokens,
		CacheReadTokens:     resp.Usage.CacheReadTokens,
	}, true
}
