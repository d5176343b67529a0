// Package transform implements the request/response transformation
// pipeline: a tag editor and system editor that run in the proxy
// request path, plus the compaction-prompt enhancer and
// context-warning interceptor (the latter's body-rewrite lives in
// internal/contextwin; this package supplies the detector and the
// session-context section it injects).
//
// Rules use pre-compiled regex/glob matchers and are applied in order:
// every rule whose When guard matches runs, each on the output of the
// one before. Rule fields are plain YAML scalars; the stringOrList
// type below is not used by any of them.
package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// stringOrList is a YAML field that accepts either a bare scalar or a
// sequence.
type stringOrList []string

func (s *stringOrList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", value.Kind)
	}
}

// When is the optional guard attached to a tag-editor or system-editor
// rule. Every non-empty field must be satisfied for the rule to apply
// (AND logic).
type When struct {
	TurnNumber     string `yaml:"turn_number"`      // ">2", "every:3"
	HasToolResults string `yaml:"has_tool_results"` // "=0", ">0"
	ClientID       string `yaml:"client_id"`        // "dev-1|foundry"
}

// Matches evaluates the guard against the current turn.
func (w *When) Matches(turnNumber, toolResultCount int, clientID string) bool {
	if w == nil {
		return true
	}
	if w.TurnNumber != "" && !matchIntExpr(w.TurnNumber, turnNumber) {
		return false
	}
	if w.HasToolResults != "" && !matchIntExpr(w.HasToolResults, toolResultCount) {
		return false
	}
	if w.ClientID != "" && !matchAlternation(w.ClientID, clientID) {
		return false
	}
	return true
}

// matchIntExpr evaluates expressions of the form ">N", "<N", "=N", or
// "every:N" against value.
func matchIntExpr(expr string, value int) bool {
	if rest, ok := strings.CutPrefix(expr, "every:"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			return false
		}
		return value%n == 0
	}
	if len(expr) == 0 {
		return true
	}
	op := expr[0]
	numStr := expr
	switch op {
	case '>', '<', '=':
		numStr = expr[1:]
	default:
		op = '='
	}
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return false
	}
	switch op {
	case '>':
		return value > n
	case '<':
		return value < n
	default:
		return value == n
	}
}

// matchAlternation evaluates a "a|b|c" alternation pattern against value.
func matchAlternation(expr, value string) bool {
	for _, alt := range strings.Split(expr, "|") {
		if strings.TrimSpace(alt) == value {
			return true
		}
	}
	return false
}

// compileRegex wraps regexp.Compile with a rule-name-qualified error.
func compileRegex(ruleName, field, pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("rule %q: invalid %s: %w", ruleName, field, err)
	}
	return re, nil
}
