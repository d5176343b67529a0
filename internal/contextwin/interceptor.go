package contextwin

import (
	"encoding/json"
	"fmt"
)

// WarningText builds the directive injected into the system prompt
// once a threshold is crossed. The assistant is instructed to surface
// a short annotation to the user rather than silently altering its
// own behavior — the point is observability, not steering generation.
func WarningText(threshold int, currentTokens, limit int) string {
	return fmt.Sprintf(
		"<context-warning>\nThe conversation has used approximately %d%% of the available context window (%d of %d tokens). "+
			"Before continuing, emit a brief annotation to the user noting that context usage has crossed %d%% and that a compaction may occur soon.\n</context-warning>",
		threshold, currentTokens, limit, threshold,
	)
}

// anthropicSystemBlock is the shape of one entry in an array-form
// "system" field.
type anthropicSystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// InjectWarning mutates body's top-level "system" field to append
// warningText, handling both shapes Anthropic's API accepts: a plain
// string, or an array of content blocks. If "system" is absent, a
// single-string field is created. Returns the rewritten body and the
// estimated number of tokens injected (characters of warningText / 4,
// consistent with the rest of this codebase's token estimation).
func InjectWarning(body []byte, warningText string) ([]byte, int, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, 0, fmt.Errorf("injecting context warning: %w", err)
	}

	raw, exists := generic["system"]
	switch {
	case !exists:
		encoded, err := json.Marshal(warningText)
		if err != nil {
			return nil, 0, err
		}
		generic["system"] = encoded

	default:
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil {
			encoded, err := json.Marshal(asString + "\n\n" + warningText)
			if err != nil {
				return nil, 0, err
			}
			generic["system"] = encoded
			break
		}

		var blocks []anthropicSystemBlock
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil, 0, fmt.Errorf("unrecognized system field shape: %w", err)
		}
		blocks = append(blocks, anthropicSystemBlock{Type: "text", Text: warningText})
		encoded, err := json.Marshal(blocks)
		if err != nil {
			return nil, 0, err
		}
		generic["system"] = encoded
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, 0, err
	}
	return out, len(warningText) / 4, nil
}
