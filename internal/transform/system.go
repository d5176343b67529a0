package transform

import (
	"encoding/json"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// SystemAction discriminates the system-editor rule kinds.
type SystemAction int

const (
	SystemAppend SystemAction = iota
	SystemPrepend
	SystemReplace
)

// UnmarshalYAML accepts the config file's lowercase action names.
func (a *SystemAction) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch s {
	case "append":
		*a = SystemAppend
	case "prepend":
		*a = SystemPrepend
	case "replace":
		*a = SystemReplace
	default:
		return fmt.Errorf("unknown system action %q", s)
	}
	return nil
}

// SystemRule is one system-editor rule, operating on the request's
// top-level "system" field.
type SystemRule struct {
	Name        string       `yaml:"name"`
	Action      SystemAction `yaml:"action"`
	Content     string       `yaml:"content"`     // Append/Prepend
	Pattern     string       `yaml:"pattern"`     // Replace: regex
	Replacement string       `yaml:"replacement"` // Replace
	When        *When        `yaml:"when"`

	pattern *regexp.Regexp
}

// Compile pre-compiles the rule's regex field.
func (r *SystemRule) Compile() error {
	if r.Pattern == "" {
		return nil
	}
	re, err := compileRegex(r.Name, "pattern", r.Pattern)
	if err != nil {
		return err
	}
	r.pattern = re
	return nil
}

// anthropicSystemBlock mirrors the shape contextwin.InjectWarning
// handles — the "system" field is either a bare string or an array
// of {type, text} content blocks.
type anthropicSystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SystemEditor applies an ordered list of SystemRules to a request body's
// "system" field, preserving whichever of the two wire shapes it
// arrived in.
type SystemEditor struct {
	Rules []SystemRule
}

// Apply rewrites body's "system" field in place, returning the new
// body, a description per rule that changed something, and the
// before/after token estimate (character-count/4) of the system text.
func (e *SystemEditor) Apply(body []byte, turnNumber, toolResultCount int, clientID string) (BodyResult, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return BodyResult{Body: body}, fmt.Errorf("parsing request body: %w", err)
	}

	text, isArray, blocks, err := readSystemField(envelope["system"])
	if err != nil {
		return BodyResult{Body: body}, err
	}
	before := estimateTokens(text)

	var descriptions []string
	for i := range e.Rules {
		r := &e.Rules[i]
		if !r.When.Matches(turnNumber, toolResultCount, clientID) {
			continue
		}
		next, changed := applySystemRule(r, text)
		if changed {
			text = next
			descriptions = append(descriptions, describeSystemRule(r))
		}
	}

	if len(descriptions) == 0 {
		return BodyResult{Body: body}, nil
	}

	rewritten, err := writeSystemField(text, isArray, blocks)
	if err != nil {
		return BodyResult{Body: body}, err
	}
	envelope["system"] = rewritten

	out, err := json.Marshal(envelope)
	if err != nil {
		return BodyResult{Body: body}, fmt.Errorf("re-marshaling request body: %w", err)
	}
	return BodyResult{
		Body:         out,
		Descriptions: descriptions,
		TokensBefore: before,
		TokensAfter:  estimateTokens(text),
	}, nil
}

func readSystemField(raw json.RawMessage) (text string, isArray bool, blocks []anthropicSystemBlock, err error) {
	if len(raw) == 0 {
		return "", false, nil, nil
	}
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", false, nil, fmt.Errorf("parsing system string: %w", err)
		}
		return text, false, nil, nil
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", true, nil, fmt.Errorf("parsing system blocks: %w", err)
	}
	for _, b := range blocks {
		text += b.Text
	}
	return text, true, blocks, nil
}

func writeSystemField(text string, isArray bool, blocks []anthropicSystemBlock) (json.RawMessage, error) {
	if !isArray {
		return json.Marshal(text)
	}
	if len(blocks) == 0 {
		blocks = []anthropicSystemBlock{{Type: "text", Text: text}}
	} else {
		// The combined text replaces the last block's text; earlier
		// blocks (e.g. cache-control markers) are left untouched.
		blocks[len(blocks)-1].Text = text
	}
	return json.Marshal(blocks)
}

func applySystemRule(r *SystemRule, text string) (string, bool) {
	switch r.Action {
	case SystemAppend:
		return text + r.Content, true
	case SystemPrepend:
		return r.Content + text, true
	case SystemReplace:
		if r.pattern == nil {
			return text, false
		}
		next := r.pattern.ReplaceAllString(text, r.Replacement)
		return next, next != text
	default:
		return text, false
	}
}

func describeSystemRule(r *SystemRule) string {
	switch r.Action {
	case SystemAppend:
		return "appended to system prompt"
	case SystemPrepend:
		return "prepended to system prompt"
	case SystemReplace:
		return fmt.Sprintf("replaced pattern %q in system prompt", r.Pattern)
	default:
		return fmt.Sprintf("applied rule %q", r.Name)
	}
}
