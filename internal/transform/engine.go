package transform

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// RuleSet is the on-disk shape of the transform rules file: the tag
// editor and system editor rule lists plus the compact-enhancer's
// tunable marker list and required phrase.
type RuleSet struct {
	TagRules        []TagRule          `yaml:"tag_rules"`
	SystemRules     []SystemRule       `yaml:"system_rules"`
	CompactEnhancer CompactEnhancerCfg `yaml:"compact_enhancer"`
}

// CompactEnhancerCfg toggles and tunes the compaction-prompt detector.
type CompactEnhancerCfg struct {
	Enabled        bool     `yaml:"enabled"`
	RequiredPhrase string   `yaml:"required_phrase"`
	Markers        []string `yaml:"markers"`
}

// loadRuleSet reads and compiles a rules.yaml. A missing file yields
// an empty, inert RuleSet rather than an error.
func loadRuleSet(path string) (*RuleSet, error) {
	rs := &RuleSet{CompactEnhancer: CompactEnhancerCfg{Enabled: true}}
	if path == "" {
		return rs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rs, nil
		}
		return nil, fmt.Errorf("reading rules %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("parsing rules %s: %w", path, err)
	}
	for i := range rs.TagRules {
		if err := rs.TagRules[i].Compile(); err != nil {
			return nil, err
		}
	}
	for i := range rs.SystemRules {
		if err := rs.SystemRules[i].Compile(); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// Engine is the hot-reloadable transform rule set the proxy handler
// consults on every request: an RWMutex-guarded rule set swapped whole
// on Reload, read-locked on every evaluation so reloads never block
// in-flight requests for longer than a pointer swap.
type Engine struct {
	mu   sync.RWMutex
	path string
	set  *RuleSet
}

// NewEngine loads rulesPath (if non-empty) and returns a ready Engine.
func NewEngine(rulesPath string) (*Engine, error) {
	e := &Engine{path: rulesPath}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the rules file from disk and atomically swaps it
// in; the config watcher calls this from its "rules.yaml changed"
// hot-reload callback.
func (e *Engine) Reload() error {
	set, err := loadRuleSet(e.path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.set = set
	e.mu.Unlock()
	return nil
}

// TagEditor returns a TagEditor over the currently loaded tag rules.
func (e *Engine) TagEditor() *TagEditor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &TagEditor{Rules: e.set.TagRules}
}

// SystemEditor returns a SystemEditor over the currently loaded system rules.
func (e *Engine) SystemEditor() *SystemEditor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &SystemEditor{Rules: e.set.SystemRules}
}

// CompactEnhancer returns the configured enhancer and whether it is
// enabled at all.
func (e *Engine) CompactEnhancer() (CompactEnhancer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg := e.set.CompactEnhancer
	return CompactEnhancer{RequiredPhrase: cfg.RequiredPhrase, Markers: cfg.Markers}, cfg.Enabled
}
