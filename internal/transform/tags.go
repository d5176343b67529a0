package transform

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// TagPosition selects where Inject places its content relative to the
// matched tag's body.
type TagPosition int

const (
	PositionStart TagPosition = iota
	PositionEnd
	PositionBefore
	PositionAfter
)

// UnmarshalYAML accepts the config file's lowercase position names
// ("start", "end", "before", "after"), decoded from a YAML scalar.
func (p *TagPosition) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch s {
	case "start":
		*p = PositionStart
	case "end":
		*p = PositionEnd
	case "before":
		*p = PositionBefore
	case "after":
		*p = PositionAfter
	default:
		return fmt.Errorf("unknown tag position %q", s)
	}
	return nil
}

// TagAction discriminates the three tag-editor rule kinds.
type TagAction int

const (
	TagInject TagAction = iota
	TagRemove
	TagReplace
)

// UnmarshalYAML accepts the config file's lowercase action names.
func (a *TagAction) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch s {
	case "inject":
		*a = TagInject
	case "remove":
		*a = TagRemove
	case "replace":
		*a = TagReplace
	default:
		return fmt.Errorf("unknown tag action %q", s)
	}
	return nil
}

// TagRule is one tag-editor rule. Only the fields relevant to Action
// are read; the field comments name the actions that use each one.
type TagRule struct {
	Name        string      `yaml:"name"`
	Action      TagAction   `yaml:"action"`
	Tag         string      `yaml:"tag"`      // exact tag name; takes precedence over TagGlob
	TagGlob     string      `yaml:"tag_glob"` // glob pattern over the tag name, e.g. "*-reminder"
	Content     string      `yaml:"content"`  // Inject
	Position    TagPosition `yaml:"position"`
	AnchorRegex string      `yaml:"anchor"`      // Before/After anchor pattern
	Pattern     string      `yaml:"pattern"`     // Remove/Replace: regex over tag content
	Replacement string      `yaml:"replacement"` // Replace only; supports $1, $2 capture refs
	When        *When       `yaml:"when"`

	anchor  *regexp.Regexp
	pattern *regexp.Regexp
	tagGlob glob.Glob
}

// Compile pre-compiles the rule's regex and glob fields so matching a
// rule against every event doesn't recompile it on each call.
func (r *TagRule) Compile() error {
	var err error
	if r.AnchorRegex != "" {
		if r.anchor, err = compileRegex(r.Name, "position anchor", r.AnchorRegex); err != nil {
			return err
		}
	}
	if r.Pattern != "" {
		if r.pattern, err = compileRegex(r.Name, "pattern", r.Pattern); err != nil {
			return err
		}
	}
	if r.Tag == "" && r.TagGlob != "" {
		g, err := glob.Compile(r.TagGlob)
		if err != nil {
			return fmt.Errorf("rule %q: invalid tag glob %q: %w", r.Name, r.TagGlob, err)
		}
		r.tagGlob = g
	}
	return nil
}

// matchesTag reports whether a block's tag name satisfies this rule's
// Tag (exact) or TagGlob (pattern) selector.
func (r *TagRule) matchesTag(name string) bool {
	if r.Tag != "" {
		return r.Tag == name
	}
	if r.tagGlob != nil {
		return r.tagGlob.Match(name)
	}
	return false
}

// tagBlockRegex matches `<tag>...</tag>` non-greedily across
// newlines, capturing the tag name and inner body.
var tagBlockRegex = regexp.MustCompile(`(?s)<([a-zA-Z][\w-]*)([^>]*)>(.*?)</([a-zA-Z][\w-]*)>`)

// TagEditor applies an ordered list of TagRules to a block of text
// containing XML-like tagged sections (e.g. a user message's
// "<system-reminder>...</system-reminder>" content).
type TagEditor struct {
	Rules []TagRule
}

// Result summarizes one edit pass for the RequestTransformed event the
// pipeline emits when a rule changes something.
type Result struct {
	Text          string
	Descriptions  []string
	TokensBefore  int
	TokensAfter   int
}

// estimateTokens is the character-count/4 heuristic used throughout
// this package for before/after token estimates.
func estimateTokens(s string) int {
	return len(s) / 4
}

// Apply runs every rule (in order) whose When-guard matches the
// current turn against text, returning the transformed text and a
// human-readable description per rule that actually changed something.
func (e *TagEditor) Apply(text string, turnNumber, toolResultCount int, clientID string) Result {
	before := estimateTokens(text)
	var descriptions []string

	for i := range e.Rules {
		r := &e.Rules[i]
		if !r.When.Matches(turnNumber, toolResultCount, clientID) {
			continue
		}
		next, changed := applyTagRule(r, text)
		if changed {
			text = next
			descriptions = append(descriptions, describeTagRule(r))
		}
	}

	return Result{
		Text:         text,
		Descriptions: descriptions,
		TokensBefore: before,
		TokensAfter:  estimateTokens(text),
	}
}

func applyTagRule(r *TagRule, text string) (string, bool) {
	changed := false
	out := tagBlockRegex.ReplaceAllStringFunc(text, func(block string) string {
		m := tagBlockRegex.FindStringSubmatch(block)
		if m == nil || !r.matchesTag(m[1]) {
			return block
		}
		openTag, attrs, body, closeTag := m[1], m[2], m[3], m[4]

		switch r.Action {
		case TagRemove:
			if r.pattern == nil {
				return block
			}
			newBody := r.pattern.ReplaceAllString(body, "")
			if newBody == body {
				return block
			}
			changed = true
			return fmt.Sprintf("<%s%s>%s</%s>", openTag, attrs, newBody, closeTag)

		case TagReplace:
			if r.pattern == nil {
				return block
			}
			newBody := r.pattern.ReplaceAllString(body, r.Replacement)
			if newBody == body {
				return block
			}
			changed = true
			return fmt.Sprintf("<%s%s>%s</%s>", openTag, attrs, newBody, closeTag)

		case TagInject:
			newBody, ok := injectInto(body, r)
			if !ok {
				return block
			}
			changed = true
			return fmt.Sprintf("<%s%s>%s</%s>", openTag, attrs, newBody, closeTag)
		}
		return block
	})
	return out, changed
}

func injectInto(body string, r *TagRule) (string, bool) {
	switch r.Position {
	case PositionStart:
		return r.Content + body, true
	case PositionEnd:
		return body + r.Content, true
	case PositionBefore:
		if r.anchor == nil {
			return body, false
		}
		loc := r.anchor.FindStringIndex(body)
		if loc == nil {
			return body, false
		}
		return body[:loc[0]] + r.Content + body[loc[0]:], true
	case PositionAfter:
		if r.anchor == nil {
			return body, false
		}
		loc := r.anchor.FindStringIndex(body)
		if loc == nil {
			return body, false
		}
		return body[:loc[1]] + r.Content + body[loc[1]:], true
	default:
		return body, false
	}
}

// BodyResult summarizes an ApplyToBody pass across every message in a
// request body: the rewritten body, a description per rule that
// changed something, and the aggregate before/after token estimate
// (character-count/4) over just the text blocks a rule touched.
type BodyResult struct {
	Body         []byte
	Descriptions []string
	TokensBefore int
	TokensAfter  int
}

// ApplyToBody runs Apply over every text block of every message in an
// Anthropic-shaped request body (string content and array-of-blocks
// content alike), rewriting only the blocks a rule actually changed.
func (e *TagEditor) ApplyToBody(body []byte, turnNumber, toolResultCount int, clientID string) (BodyResult, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return BodyResult{Body: body}, fmt.Errorf("parsing request body: %w", err)
	}
	rawMessages, ok := envelope["messages"]
	if !ok {
		return BodyResult{Body: body}, nil
	}
	var messages []json.RawMessage
	if err := json.Unmarshal(rawMessages, &messages); err != nil {
		return BodyResult{Body: body}, fmt.Errorf("parsing messages array: %w", err)
	}

	var allDescriptions []string
	tokensBefore, tokensAfter := 0, 0
	changed := false
	for i, raw := range messages {
		var msg map[string]json.RawMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		content, ok := msg["content"]
		if !ok || len(content) == 0 {
			continue
		}

		if content[0] == '"' {
			var text string
			if err := json.Unmarshal(content, &text); err != nil {
				continue
			}
			res := e.Apply(text, turnNumber, toolResultCount, clientID)
			if len(res.Descriptions) == 0 {
				continue
			}
			encoded, err := json.Marshal(res.Text)
			if err != nil {
				return BodyResult{Body: body}, err
			}
			msg["content"] = encoded
			rewritten, err := json.Marshal(msg)
			if err != nil {
				return BodyResult{Body: body}, err
			}
			messages[i] = rewritten
			allDescriptions = append(allDescriptions, res.Descriptions...)
			tokensBefore += res.TokensBefore
			tokensAfter += res.TokensAfter
			changed = true
			continue
		}

		var blocks []map[string]json.RawMessage
		if err := json.Unmarshal(content, &blocks); err != nil {
			continue
		}
		blockChanged := false
		for bi, block := range blocks {
			var typ string
			if err := json.Unmarshal(block["type"], &typ); err != nil || typ != "text" {
				continue
			}
			var text string
			if err := json.Unmarshal(block["text"], &text); err != nil {
				continue
			}
			res := e.Apply(text, turnNumber, toolResultCount, clientID)
			if len(res.Descriptions) == 0 {
				continue
			}
			encoded, err := json.Marshal(res.Text)
			if err != nil {
				return BodyResult{Body: body}, err
			}
			blocks[bi]["text"] = encoded
			allDescriptions = append(allDescriptions, res.Descriptions...)
			tokensBefore += res.TokensBefore
			tokensAfter += res.TokensAfter
			blockChanged = true
		}
		if !blockChanged {
			continue
		}
		encoded, err := json.Marshal(blocks)
		if err != nil {
			return BodyResult{Body: body}, err
		}
		msg["content"] = encoded
		rewritten, err := json.Marshal(msg)
		if err != nil {
			return BodyResult{Body: body}, err
		}
		messages[i] = rewritten
		changed = true
	}

	if !changed {
		return BodyResult{Body: body}, nil
	}
	newMessages, err := json.Marshal(messages)
	if err != nil {
		return BodyResult{Body: body}, err
	}
	envelope["messages"] = newMessages
	out, err := json.Marshal(envelope)
	if err != nil {
		return BodyResult{Body: body}, err
	}
	return BodyResult{
		Body:         out,
		Descriptions: allDescriptions,
		TokensBefore: tokensBefore,
		TokensAfter:  tokensAfter,
	}, nil
}

func (r *TagRule) tagLabel() string {
	if r.Tag != "" {
		return r.Tag
	}
	return r.TagGlob
}

func describeTagRule(r *TagRule) string {
	switch r.Action {
	case TagInject:
		return fmt.Sprintf("injected content into <%s>", r.tagLabel())
	case TagRemove:
		return fmt.Sprintf("removed pattern %q from <%s>", r.Pattern, r.tagLabel())
	case TagReplace:
		return fmt.Sprintf("replaced pattern %q in <%s>", r.Pattern, r.tagLabel())
	default:
		return fmt.Sprintf("applied rule %q", r.Name)
	}
}
