// Package pipeline implements a synchronous in-process processor
// chain: each registered Processor sees every event in order and
// returns one of four outcomes. Processors that need to do I/O must
// own their own background worker and a bounded channel into it — the
// pipeline itself never blocks on I/O.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/aspyproxy/aspy/internal/events"
)

// OutcomeKind discriminates what a Processor decided to do with an event.
type OutcomeKind int

const (
	// Continue passes the event to the next processor unchanged.
	Continue OutcomeKind = iota
	// Transform replaces the event for every subsequent processor.
	Transform
	// Drop removes the event from the pipeline; no processor after
	// this one runs, and sinks never see it.
	Drop
	// ErrorOutcome logs the error and continues with the original,
	// untransformed event.
	ErrorOutcome
)

// Outcome is returned by Processor.Process.
type Outcome struct {
	Kind  OutcomeKind
	Event events.TrackedEvent // populated for Transform
	Err   error               // populated for ErrorOutcome
}

// ContinueOutcome is the common case: pass the event through unchanged.
func ContinueOutcome() Outcome { return Outcome{Kind: Continue} }

// TransformOutcome replaces the event for downstream processors.
func TransformOutcome(e events.TrackedEvent) Outcome { return Outcome{Kind: Transform, Event: e} }

// DropOutcome removes the event from the pipeline.
func DropOutcome() Outcome { return Outcome{Kind: Drop} }

// ErrOutcome logs err and continues with the original event.
func ErrOutcome(err error) Outcome { return Outcome{Kind: ErrorOutcome, Err: err} }

// Processor is one stage of the pipeline. Implementations that do not
// transform the event must not allocate — only Transform pays for a
// copy.
type Processor interface {
	Name() string
	Process(events.TrackedEvent) Outcome
	// Shutdown blocks until any background workers this processor
	// owns have drained their queues.
	Shutdown(ctx context.Context) error
}

// Pipeline runs registered processors in registration order.
type Pipeline struct {
	log        *slog.Logger
	processors []Processor
	metrics    *Metrics
}

// New returns an empty Pipeline.
func New(log *slog.Logger, metrics *Metrics) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Pipeline{log: log, metrics: metrics}
}

// Register appends p to the end of the processor chain.
func (pl *Pipeline) Register(p Processor) {
	pl.processors = append(pl.processors, p)
}

// Run feeds ev through every registered processor in order. It
// returns the (possibly transformed) event and whether it survived
// (false if any processor returned Drop).
func (pl *Pipeline) Run(ev events.TrackedEvent) (events.TrackedEvent, bool) {
	current := ev
	for _, p := range pl.processors {
		outcome := p.Process(current)
		switch outcome.Kind {
		case Continue:
			// no-op
		case Transform:
			current = outcome.Event
		case Drop:
			pl.metrics.RecordDrop(p.Name())
			return events.TrackedEvent{}, false
		case ErrorOutcome:
			pl.metrics.RecordError(p.Name())
			pl.log.Warn("pipeline processor error", "processor", p.Name(), "error", outcome.Err)
			// Continue with the original, untransformed event.
		}
	}
	return current, true
}

// Shutdown calls Shutdown on every processor in reverse registration
// order.
func (pl *Pipeline) Shutdown(ctx context.Context) error {
	var firstErr error
	for i := len(pl.processors) - 1; i >= 0; i-- {
		if err := pl.processors[i].Shutdown(ctx); err != nil {
			pl.log.Warn("processor shutdown error", "processor", pl.processors[i].Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
