package transform

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEngine_LoadsRulesAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	const v1 = `
tag_rules:
  - name: note-append
    action: inject
    tag: note
    content: "!"
    position: end
`
	if err := os.WriteFile(path, []byte(v1), 0o644); err != nil {
		t.Fatal(err)
	}

	e, err := NewEngine(path)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	result := e.TagEditor().Apply("<note>hi</note>", 1, 0, "")
	if result.Text != "<note>hi!</note>" {
		t.Fatalf("got %q", result.Text)
	}

	const v2 = `
tag_rules:
  - name: note-append
    action: inject
    tag: note
    content: "?"
    position: end
`
	if err := os.WriteFile(path, []byte(v2), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := e.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	result = e.TagEditor().Apply("<note>hi</note>", 1, 0, "")
	if result.Text != "<note>hi?</note>" {
		t.Fatalf("expected reload to take effect, got %q", result.Text)
	}
}

func TestEngine_MissingFileIsInert(t *testing.T) {
	e, err := NewEngine(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("NewEngine with missing file should not error: %v", err)
	}
	result := e.TagEditor().Apply("<note>hi</note>", 1, 0, "")
	if result.Text != "<note>hi</note>" {
		t.Fatalf("expected no-op, got %q", result.Text)
	}
}

func TestEngine_CompactEnhancerDefaultsEnabled(t *testing.T) {
	e, err := NewEngine("")
	if err != nil {
		t.Fatal(err)
	}
	if _, enabled := e.CompactEnhancer(); !enabled {
		t.Fatal("expected compact enhancer enabled by default")
	}
}
