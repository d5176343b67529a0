package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/aspyproxy/aspy/internal/events"
	"github.com/aspyproxy/aspy/internal/message"
)

// sseLine is a single decoded "event:"/"data:" pair. Multi-line
// "data:" fields are joined with "\n" before being handed back.
type sseLine struct {
	Event string
	Data  string
}

// maxSSELineBuffer is a generous scanner buffer — provider tool-input
// deltas can be large (e.g. big file writes).
const maxSSELineBuffer = 10 * 1024 * 1024

// scanSSELines splits a raw SSE body into event/data pairs. Blank
// lines terminate an event block (SSE framing); "ping" events and
// "[DONE]" sentinels are skipped.
func scanSSELines(body []byte) []sseLine {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBuffer)

	var out []sseLine
	var curEvent string
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		if data == "[DONE]" {
			return
		}
		if curEvent == "ping" {
			return
		}
		out = append(out, sseLine{Event: curEvent, Data: data})
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
			curEvent = ""
		case strings.HasPrefix(line, "event:"):
			curEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
	return out
}

// partialKind discriminates the in-flight content block types the
// state machine cares about. Anything else is tracked as other so
// deltas for it are cheaply ignored without losing index alignment.
type partialKind int

const (
	partialOther partialKind = iota
	partialToolUse
	partialThinking
)

// partialBlock accumulates a single content_block's deltas between
// its content_block_start and content_block_stop.
type partialBlock struct {
	kind      partialKind
	id        string
	name      string
	inputJSON strings.Builder
	content   strings.Builder
	startedAt time.Time
}

// wire shapes for the subset of SSE payload fields the parser reads.
// Deliberately permissive (no "required" fields, everything optional)
// since malformed or unexpected shapes must be skipped, not fatal.

type wireContentBlock struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	Thinking    string `json:"thinking"`
	StopReason  string `json:"stop_reason"`
}

type wireMessage struct {
	Model string `json:"model"`
	Usage wireUsage `json:"usage"`
}

type wireUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
}

type wireEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	ContentBlock wireContentBlock  `json:"content_block"`
	Delta        wireDelta         `json:"delta"`
	Message      wireMessage       `json:"message"`
	Usage        wireUsage         `json:"usage"`
}

// ParseSSE runs the full delta-accumulating state machine over a
// complete SSE response body, returning every event in wire order,
// finished with a compaction check and ApiUsage if usage was seen.
func (p *Parser) ParseSSE(body []byte) ([]events.Event, error) {
	lines := scanSSELines(body)

	partials := make(map[int]*partialBlock)
	var model string
	var usage wireUsage
	var sawUsage bool
	var out []events.Event

	finalize := func(idx int, blk *partialBlock) {
		switch blk.kind {
		case partialToolUse:
			input := blk.inputJSON.String()
			var raw json.RawMessage
			if input == "" {
				raw = json.RawMessage(`{}`)
			} else if json.Valid([]byte(input)) {
				raw = json.RawMessage(input)
			} else {
				// Malformed partial JSON: emit the raw string as a JSON
				// string value rather than dropping the tool call.
				encoded, _ := json.Marshal(input)
				raw = json.RawMessage(encoded)
			}
			p.RegisterPendingTool(blk.id, blk.name)
			out = append(out, events.Event{
				Kind:      events.KindToolCall,
				Timestamp: time.Now(),
				ToolID:    blk.id,
				ToolName:  blk.name,
				ToolInput: raw,
			})
		case partialThinking:
			content := blk.content.String()
			if content != "" {
				out = append(out, events.Event{
					Kind:          events.KindThinking,
					Timestamp:     time.Now(),
					Content:       content,
					TokenEstimate: len(content) / 4,
				})
			}
		}
	}

	for _, l := range lines {
		var ev wireEvent
		if err := json.Unmarshal([]byte(l.Data), &ev); err != nil {
			// Malformed JSON in a single SSE delta: skip the line, not fatal.
			continue
		}

		switch ev.Type {
		case "message_start":
			model = ev.Message.Model
			usage.InputTokens = ev.Message.Usage.InputTokens
			usage.CacheCreationTokens = ev.Message.Usage.CacheCreationTokens
			usage.CacheReadTokens = ev.Message.Usage.CacheReadTokens
			sawUsage = sawUsage || usage.InputTokens > 0 || usage.CacheCreationTokens > 0 || usage.CacheReadTokens > 0

		case "content_block_start":
			blk := &partialBlock{startedAt: time.Now()}
			switch ev.ContentBlock.Type {
			case "tool_use":
				blk.kind = partialToolUse
				blk.id = ev.ContentBlock.ID
				blk.name = ev.ContentBlock.Name
			case "thinking":
				blk.kind = partialThinking
			default:
				blk.kind = partialOther
			}
			partials[ev.Index] = blk

		case "content_block_delta":
			blk, ok := partials[ev.Index]
			if !ok {
				continue
			}
			switch ev.Delta.Type {
			case "input_json_delta":
				blk.inputJSON.WriteString(ev.Delta.PartialJSON)
			case "thinking_delta":
				blk.content.WriteString(ev.Delta.Thinking)
			}

		case "content_block_stop":
			blk, ok := partials[ev.Index]
			if !ok {
				continue
			}
			delete(partials, ev.Index)
			finalize(ev.Index, blk)

		case "message_delta":
			usage.OutputTokens = ev.Usage.OutputTokens
			sawUsage = sawUsage || usage.OutputTokens > 0

		case "message_stop":
			// Handled after the loop via the sawUsage/usage state; nothing
			// additional to do per-line.
		}
	}

	// Flush any blocks that never saw a content_block_stop.
	for idx, blk := range partials {
		finalize(idx, blk)
	}

	if sawUsage && usage.InputTokens+usage.OutputTokens > 0 {
		if compact, triggered := p.checkCompaction(model, usageFromWire(usage)); triggered {
			out = append(out, compact)
		}
		out = append(out, events.Event{
			Kind:                events.KindAPIUsage,
			Timestamp:           time.Now(),
			Model:               model,
			InputTokens:         usage.InputTokens,
			OutputTokens:        usage.OutputTokens,
			CacheCreationTokens: usage.CacheCreationTokens,
			CacheReadTokens:     usage.CacheReadTokens,
		})
	}

	return out, nil
}

func usageFromWire(w wireUsage) message.Usage {
	return message.Usage{
		InputTokens:         w.InputTokens,
		OutputTokens:        w.OutputTokens,
		CacheCreationTokens: w.CacheCreationTokens,
		CacheReadTokens:     w.CacheReadTokens,
	}
}
