package jsonl

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aspyproxy/aspy/internal/events"
)

func TestWrite_AppendsLineToDateStampedFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ev := events.Track("user1", "sess1", events.Event{Kind: events.KindToolCall, ToolName: "Read"})
	if err := sink.Write(ev); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Write(ev); err != nil {
		t.Fatalf("Write: %v", err)
	}

	wantPath := filepath.Join(dir, "aspy-"+time.Now().UTC().Format("2006-01-02")+".jsonl")
	f, err := os.Open(wantPath)
	if err != nil {
		t.Fatalf("expected date-stamped file to exist: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		var decoded events.TrackedEvent
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d did not decode as TrackedEvent: %v", lines, err)
		}
		if decoded.Event.ToolName != "Read" {
			t.Fatalf("unexpected decoded event: %+v", decoded)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}
