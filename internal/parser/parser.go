// Package parser implements the delta-accumulating SSE state machine
// and request/response event extractor that turns raw provider traffic
// into the tagged Event union. It owns two pieces of process-wide
// state: the pending tool-call registry that correlates a ToolCall in
// one response to its ToolResult in the next request, and the
// compaction detector.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aspyproxy/aspy/internal/events"
	"github.com/aspyproxy/aspy/internal/message"
)

// pendingCall is a registered tool invocation awaiting its result.
type pendingCall struct {
	name  string
	start time.Time
}

// Parser accumulates cross-request state: the pending tool-call
// registry and the compaction detector. A single Parser instance is
// shared across all requests; its internal maps are each guarded by
// their own mutex, held only briefly per call.
type Parser struct {
	dispatcherSubstring string

	pendingMu sync.Mutex
	pending   map[string]pendingCall

	compactMu     sync.Mutex
	lastCache     int
	lastContext   int
}

// New returns a Parser. dispatcherSubstring identifies the dispatcher
// model by substring match (default "haiku"), configurable since
// providers name their fast/routing models differently.
func New(dispatcherSubstring string) *Parser {
	if dispatcherSubstring == "" {
		dispatcherSubstring = "haiku"
	}
	return &Parser{
		dispatcherSubstring: dispatcherSubstring,
		pending:             make(map[string]pendingCall),
	}
}

// RegisterPendingTool records a tool invocation as awaiting a result.
// Idempotent by ID: a second registration for an already-pending ID
// (e.g. the eager per-line registrar during streaming racing the
// post-stream full parse) is a no-op, preserving the earlier,
// eagerly-observed start time.
func (p *Parser) RegisterPendingTool(id, name string) {
	if id == "" {
		return
	}
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if _, exists := p.pending[id]; exists {
		return
	}
	p.pending[id] = pendingCall{name: name, start: time.Now()}
}

// takePendingTool removes and returns the registration for id, if any.
func (p *Parser) takePendingTool(id string) (pendingCall, bool) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	pc, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	return pc, ok
}

// ParseRequest scans a request body for tool_result content blocks
// whose tool_use_id is in the pending registry, emitting a ToolResult
// event for each. A tool_result with no matching pending call is
// silently skipped — expected across a proxy restart, since the
// registry is in-memory only.
func (p *Parser) ParseRequest(body []byte, apiType message.APIType) ([]events.Event, error) {
	results, err := message.ExtractToolResults(body, apiType)
	if err != nil {
		return nil, fmt.Errorf("parsing request body: %w", err)
	}
	now := time.Now()
	var out []events.Event
	for _, r := range results {
		pc, ok := p.takePendingTool(r.ToolUseID)
		if !ok {
			continue
		}
		out = append(out, events.Event{
			Kind:       events.KindToolResult,
			Timestamp:  now,
			ToolID:     r.ToolUseID,
			ToolName:   pc.name,
			ToolOutput: r.Content,
			Duration:   now.Sub(pc.start),
			Success:    !r.IsError,
		})
	}
	return out, nil
}

// looksLikeSSE auto-detects the wire format: SSE if the body begins
// with "event:" or contains "\nevent:" anywhere, else JSON.
func looksLikeSSE(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("event:")) || bytes.Contains(body, []byte("\nevent:"))
}

// ParseResponse auto-detects SSE vs. JSON and dispatches accordingly.
func (p *Parser) ParseResponse(body []byte, apiType message.APIType) ([]events.Event, error) {
	if looksLikeSSE(body) {
		return p.ParseSSE(body)
	}
	return p.parseJSONResponse(body, apiType)
}

// parseJSONResponse handles the non-streamed branch: extract tool_use
// blocks (registering each) and the usage object, then run the
// compaction check and emit ApiUsage.
func (p *Parser) parseJSONResponse(body []byte, apiType message.APIType) ([]events.Event, error) {
	uses, err := message.ExtractToolUses(body, apiType)
	if err != nil {
		return nil, fmt.Errorf("parsing response body: %w", err)
	}
	now := time.Now()
	var out []events.Event
	for _, u := range uses {
		p.RegisterPendingTool(u.ID, u.Name)
		input := u.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		out = append(out, events.Event{
			Kind:      events.KindToolCall,
			Timestamp: now,
			ToolID:    u.ID,
			ToolName:  u.Name,
			ToolInput: input,
		})
	}

	var model string
	var req struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &req); err == nil {
		model = req.Model
	}

	if usage, ok := message.ExtractUsage(body); ok {
		if usage.InputTokens+usage.OutputTokens > 0 {
			if compact, triggered := p.checkCompaction(model, usage); triggered {
				out = append(out, compact)
			}
		}
		out = append(out, events.Event{
			Kind:                events.KindAPIUsage,
			Timestamp:           now,
			Model:               model,
			InputTokens:         usage.InputTokens,
			OutputTokens:        usage.OutputTokens,
			CacheCreationTokens: usage.CacheCreationTokens,
			CacheReadTokens:     usage.CacheReadTokens,
		})
	}
	return out, nil
}

// isDispatcherModel reports whether model matches the configured
// dispatcher substring (case-insensitive).
func (p *Parser) isDispatcherModel(model string) bool {
	return p.dispatcherSubstring != "" && strings.Contains(strings.ToLower(model), strings.ToLower(p.dispatcherSubstring))
}

// checkCompaction detects a context-window compaction from a sharp
// drop in cache tokens between consecutive usage readings. It is
// skipped entirely for dispatcher-model usage, which never maintains
// a cache the way the main model does.
func (p *Parser) checkCompaction(model string, usage message.Usage) (events.Event, bool) {
	if p.isDispatcherModel(model) {
		return events.Event{}, false
	}

	p.compactMu.Lock()
	defer p.compactMu.Unlock()

	totalCache := usage.CacheReadTokens + usage.CacheCreationTokens
	currentContext := usage.InputTokens + totalCache

	triggered := p.lastCache > 10_000 &&
		(totalCache < p.lastCache-30_000 || float64(totalCache) < float64(p.lastCache)*0.70)

	if triggered {
		ev := events.Event{
			Kind:            events.KindContextCompact,
			Timestamp:       time.Now(),
			PreviousContext: p.lastContext,
			NewContext:      currentContext,
		}
		p.lastCache = 0
		p.lastContext = 0
		return ev, true
	}

	p.lastCache = totalCache
	p.lastContext = currentContext
	return events.Event{}, false
}
