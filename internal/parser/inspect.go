package parser

import "encoding/json"

// InspectLine is the eager per-line registrar: it looks at a single
// already-split SSE "data:" payload and, if it begins a tool_use
// content block, registers the pending tool immediately — before the
// response has finished streaming and before the client can possibly
// issue a request containing that tool's result.
//
// It also reports thinking-block boundaries so the proxy can drive a
// live "currently thinking" signal for streaming consumers.
func (p *Parser) InspectLine(data []byte) (thinkingStarted bool, thinkingDelta string) {
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return false, ""
	}

	switch ev.Type {
	case "content_block_start":
		switch ev.ContentBlock.Type {
		case "tool_use":
			p.RegisterPendingTool(ev.ContentBlock.ID, ev.ContentBlock.Name)
		case "thinking":
			return true, ""
		}
	case "content_block_delta":
		if ev.Delta.Type == "thinking_delta" && ev.Delta.Thinking != "" {
			return false, ev.Delta.Thinking
		}
	}
	return false, ""
}
