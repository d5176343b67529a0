package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/aspyproxy/aspy/internal/events"
)

type fakeProcessor struct {
	name    string
	outcome func(events.TrackedEvent) Outcome
	shutdownCalled bool
}

func (f *fakeProcessor) Name() string { return f.name }
func (f *fakeProcessor) Process(e events.TrackedEvent) Outcome { return f.outcome(e) }
func (f *fakeProcessor) Shutdown(ctx context.Context) error {
	f.shutdownCalled = true
	return nil
}

func TestPipeline_ContinueThenTransform(t *testing.T) {
	pl := New(nil, nil)
	pl.Register(&fakeProcessor{name: "noop", outcome: func(e events.TrackedEvent) Outcome { return ContinueOutcome() }})
	pl.Register(&fakeProcessor{name: "rename", outcome: func(e events.TrackedEvent) Outcome {
		e.Event.ToolName = "renamed"
		return TransformOutcome(e)
	}})

	out, ok := pl.Run(events.TrackedEvent{Event: events.Event{ToolName: "original"}})
	if !ok {
		t.Fatal("expected the event to survive the pipeline")
	}
	if out.Event.ToolName != "renamed" {
		t.Fatalf("expected transform to apply, got %q", out.Event.ToolName)
	}
}

func TestPipeline_DropShortCircuits(t *testing.T) {
	var secondCalled bool
	pl := New(nil, nil)
	pl.Register(&fakeProcessor{name: "dropper", outcome: func(e events.TrackedEvent) Outcome { return DropOutcome() }})
	pl.Register(&fakeProcessor{name: "after", outcome: func(e events.TrackedEvent) Outcome {
		secondCalled = true
		return ContinueOutcome()
	}})

	_, ok := pl.Run(events.TrackedEvent{})
	if ok {
		t.Fatal("expected the event to be dropped")
	}
	if secondCalled {
		t.Fatal("a Drop outcome must short-circuit the remaining processors")
	}
}

func TestPipeline_ErrorContinuesWithOriginal(t *testing.T) {
	pl := New(nil, nil)
	pl.Register(&fakeProcessor{name: "erroring", outcome: func(e events.TrackedEvent) Outcome {
		return ErrOutcome(errors.New("boom"))
	}})

	out, ok := pl.Run(events.TrackedEvent{Event: events.Event{ToolName: "original"}})
	if !ok {
		t.Fatal("an Error outcome must not drop the event")
	}
	if out.Event.ToolName != "original" {
		t.Fatalf("expected the original event to survive an Error outcome, got %q", out.Event.ToolName)
	}
}

func TestPipeline_ShutdownCallsEveryProcessor(t *testing.T) {
	first := &fakeProcessor{name: "first", outcome: func(e events.TrackedEvent) Outcome { return ContinueOutcome() }}
	second := &fakeProcessor{name: "second", outcome: func(e events.TrackedEvent) Outcome { return ContinueOutcome() }}

	pl := New(nil, nil)
	pl.Register(first)
	pl.Register(second)

	if err := pl.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.shutdownCalled || !second.shutdownCalled {
		t.Fatal("expected both processors to be shut down")
	}
}
