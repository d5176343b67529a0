package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aspyproxy/aspy/internal/events"
)

// requiredPhrase is the primary, required compaction-prompt signal.
const requiredPhrase = "summary of the conversation"

// structuralMarkers are secondary signals; at least two must be
// present alongside requiredPhrase to avoid false positives from a
// user asking about compaction or requesting a generic summary.
var structuralMarkers = []string{
	"Primary Request",
	"Pending Tasks",
	"Current Work",
	"Key Technical Concepts",
	"Errors and fixes",
}

// DetectCompactPrompt reports whether text looks like the provider's
// compaction summarization prompt, using the default phrase/marker set.
func DetectCompactPrompt(text string) bool {
	return detectCompactPrompt(text, requiredPhrase, structuralMarkers)
}

func detectCompactPrompt(text, phrase string, markers []string) bool {
	if !strings.Contains(text, phrase) {
		return false
	}
	found := 0
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			found++
			if found >= 2 {
				return true
			}
		}
	}
	return false
}

// SessionContextSummary is the data the "## Aspy Session Context"
// section reports, sourced from the session's Stats and ContextState.
type SessionContextSummary struct {
	CompactCount  int
	ContextTokens int
	ContextLimit  int
	TurnNumber    int
	TopTools      []string
}

// BuildSection renders the injected section text.
func (s SessionContextSummary) BuildSection() string {
	var b strings.Builder
	b.WriteString("\n\n## Aspy Session Context\n")
	fmt.Fprintf(&b, "- Previous compactions this session: %d\n", s.CompactCount)
	fmt.Fprintf(&b, "- Context usage at compaction: %d / %d tokens\n", s.ContextTokens, s.ContextLimit)
	fmt.Fprintf(&b, "- Turn number: %d\n", s.TurnNumber)
	if len(s.TopTools) > 0 {
		fmt.Fprintf(&b, "- Most-used tools: %s\n", strings.Join(s.TopTools, ", "))
	}
	return b.String()
}

// CompactEnhancer appends a SessionContextSummary to the last user
// message of a detected compaction prompt. The zero value uses the
// default phrase/marker set; Engine.CompactEnhancer populates
// RequiredPhrase and Markers from the rules file's compact_enhancer
// section so the detection heuristic is tunable without a rebuild.
type CompactEnhancer struct {
	RequiredPhrase string
	Markers        []string
}

func (e CompactEnhancer) detect(text string) bool {
	phrase := e.RequiredPhrase
	if phrase == "" {
		phrase = requiredPhrase
	}
	markers := e.Markers
	if markers == nil {
		markers = structuralMarkers
	}
	return detectCompactPrompt(text, phrase, markers)
}

// Enhance inspects the last user message of an Anthropic-shaped
// request body; if it matches DetectCompactPrompt, it appends the
// summary section and returns the rewritten body, the tokens injected
// (estimated chars/4), and whether anything changed.
func (e CompactEnhancer) Enhance(body []byte, summary SessionContextSummary) ([]byte, int, bool, error) {
	var req struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return body, 0, false, fmt.Errorf("parsing request body: %w", err)
	}

	lastUserIdx := -1
	for i, m := range req.Messages {
		if m.Role == "user" {
			lastUserIdx = i
		}
	}
	if lastUserIdx == -1 {
		return body, 0, false, nil
	}

	text, isArray, ok := extractLastTextBlock(req.Messages[lastUserIdx].Content)
	if !ok || !e.detect(text) {
		return body, 0, false, nil
	}

	section := summary.BuildSection()
	newText := text + section

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return body, 0, false, fmt.Errorf("re-parsing request body: %w", err)
	}
	var messagesRaw []json.RawMessage
	if err := json.Unmarshal(envelope["messages"], &messagesRaw); err != nil {
		return body, 0, false, fmt.Errorf("re-parsing messages array: %w", err)
	}

	rewritten, err := rewriteMessageText(messagesRaw[lastUserIdx], newText, isArray)
	if err != nil {
		return body, 0, false, err
	}
	messagesRaw[lastUserIdx] = rewritten

	newMessages, err := json.Marshal(messagesRaw)
	if err != nil {
		return body, 0, false, err
	}
	envelope["messages"] = newMessages

	out, err := json.Marshal(envelope)
	if err != nil {
		return body, 0, false, err
	}
	return out, estimateTokens(section), true, nil
}

func extractLastTextBlock(content json.RawMessage) (text string, isArray bool, ok bool) {
	if len(content) == 0 {
		return "", false, false
	}
	if content[0] == '"' {
		if err := json.Unmarshal(content, &text); err != nil {
			return "", false, false
		}
		return text, false, true
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &blocks); err != nil {
		return "", true, false
	}
	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].Type == "text" {
			return blocks[i].Text, true, true
		}
	}
	return "", true, false
}

func rewriteMessageText(messageRaw json.RawMessage, newText string, isArray bool) (json.RawMessage, error) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(messageRaw, &msg); err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	if !isArray {
		encoded, err := json.Marshal(newText)
		if err != nil {
			return nil, err
		}
		msg["content"] = encoded
		return json.Marshal(msg)
	}

	var blocks []map[string]json.RawMessage
	if err := json.Unmarshal(msg["content"], &blocks); err != nil {
		return nil, fmt.Errorf("parsing content blocks: %w", err)
	}
	for i := len(blocks) - 1; i >= 0; i-- {
		var typ string
		if err := json.Unmarshal(blocks[i]["type"], &typ); err == nil && typ == "text" {
			encoded, err := json.Marshal(newText)
			if err != nil {
				return nil, err
			}
			blocks[i]["text"] = encoded
			break
		}
	}
	encoded, err := json.Marshal(blocks)
	if err != nil {
		return nil, err
	}
	msg["content"] = encoded
	return json.Marshal(msg)
}

// AugmenterEvent builds the ResponseAugmented event the pipeline emits
// after a successful Enhance call.
func AugmenterEvent(tokensInjected int) events.Event {
	return events.Event{
		Kind:           events.KindResponseAugmented,
		Augmenter:      "compact_enhancer",
		TokensInjected: tokensInjected,
	}
}
