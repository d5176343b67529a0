package pipeline

import (
	"context"
	"log/slog"

	"github.com/aspyproxy/aspy/internal/events"
)

// sensitiveHeaders are stripped from HeadersCaptured events before any
// sink sees them. HeadersCaptured is the one event variant that could
// otherwise carry a raw provider credential verbatim into storage.
var sensitiveHeaders = map[string]bool{
	"Authorization":      true,
	"X-Api-Key":          true,
	"Proxy-Authorization": true,
}

// CredentialRedactor is a Processor that blanks sensitive header
// values on HeadersCaptured events, leaving every other event kind
// untouched. It never allocates for events it doesn't transform, per
// the pipeline's borrowing-semantics contract.
type CredentialRedactor struct{}

func (CredentialRedactor) Name() string { return "credential_redactor" }

func (CredentialRedactor) Process(tev events.TrackedEvent) Outcome {
	if tev.Event.Kind != events.KindHeadersCaptured || len(tev.Event.Headers) == 0 {
		return ContinueOutcome()
	}
	redacted := false
	for k := range tev.Event.Headers {
		if sensitiveHeaders[k] {
			redacted = true
			break
		}
	}
	if !redacted {
		return ContinueOutcome()
	}

	headers := make(map[string][]string, len(tev.Event.Headers))
	for k, v := range tev.Event.Headers {
		if sensitiveHeaders[k] {
			headers[k] = []string{"[redacted]"}
			continue
		}
		headers[k] = v
	}
	ev := tev.Event
	ev.Headers = headers
	tev.Event = ev
	return TransformOutcome(tev)
}

func (CredentialRedactor) Shutdown(context.Context) error { return nil }

// Recorder is the subset of internal/state.State a RecorderProcessor
// wraps: folding an event into the global aggregate and the owning
// session.
type Recorder interface {
	RecordEvent(userID, sessionID string, ev events.Event)
}

// RecorderProcessor is registered right after CredentialRedactor, so
// the in-memory session/stats state records the redacted event that
// the later stages (storage, live) also see, not a raw pre-redaction copy.
type RecorderProcessor struct {
	state Recorder
}

// NewRecorderProcessor wraps state.
func NewRecorderProcessor(state Recorder) *RecorderProcessor { return &RecorderProcessor{state: state} }

func (*RecorderProcessor) Name() string { return "session_recorder" }

func (p *RecorderProcessor) Process(tev events.TrackedEvent) Outcome {
	p.state.RecordEvent(tev.UserID, tev.SessionID, tev.Event)
	return ContinueOutcome()
}

func (*RecorderProcessor) Shutdown(context.Context) error { return nil }

// SinkProcessor adapts a storage sink's write/close functions to the
// Processor interface. Writes are offloaded onto an internal bounded
// channel and a dedicated goroutine so a slow or blocked sink never
// stalls the synchronous pipeline.
type SinkProcessor struct {
	name  string
	write func(events.TrackedEvent) error
	close func() error
	ch    chan events.TrackedEvent
	done  chan struct{}
	log   *slog.Logger
}

// NewSinkProcessor wraps write/close, starting the background writer
// goroutine immediately. capacity bounds the channel; once full,
// events are dropped and logged rather than blocking the pipeline.
// write's error return may always be nil for sinks (like the SQLite
// sink) whose own Write is already non-blocking and self-reporting.
func NewSinkProcessor(name string, write func(events.TrackedEvent) error, closeFn func() error, capacity int, log *slog.Logger) *SinkProcessor {
	if log == nil {
		log = slog.Default()
	}
	p := &SinkProcessor{
		name:  name,
		write: write,
		close: closeFn,
		ch:    make(chan events.TrackedEvent, capacity),
		done:  make(chan struct{}),
		log:   log,
	}
	go p.run()
	return p
}

func (p *SinkProcessor) run() {
	defer close(p.done)
	for tev := range p.ch {
		if err := p.write(tev); err != nil {
			p.log.Warn("sink write failed", "sink", p.name, "error", err)
		}
	}
}

func (p *SinkProcessor) Name() string { return p.name }

// Process never filters or transforms; it only fans the event out to
// the wrapped sink. A full channel drops the event rather than
// blocking the forwarding path.
func (p *SinkProcessor) Process(tev events.TrackedEvent) Outcome {
	select {
	case p.ch <- tev:
	default:
		p.log.Warn("sink processor channel full, dropping event", "sink", p.name, "kind", tev.Event.Kind)
	}
	return ContinueOutcome()
}

// Shutdown closes the input channel, waits for the writer goroutine to
// drain, and closes the underlying sink.
func (p *SinkProcessor) Shutdown(ctx context.Context) error {
	close(p.ch)
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.close()
}

// Broadcaster is the subset of the live-subscriber hub a
// LiveProcessor wraps.
type Broadcaster interface {
	Broadcast(events.TrackedEvent)
}

// LiveProcessor fans every surviving event out to the live-subscriber
// hub. Broadcast is already non-blocking and best-effort internally,
// so this processor needs no background worker of its own.
type LiveProcessor struct {
	hub Broadcaster
}

// NewLiveProcessor wraps hub.
func NewLiveProcessor(hub Broadcaster) *LiveProcessor { return &LiveProcessor{hub: hub} }

func (*LiveProcessor) Name() string { return "live_hub" }

func (p *LiveProcessor) Process(tev events.TrackedEvent) Outcome {
	p.hub.Broadcast(tev)
	return ContinueOutcome()
}

func (*LiveProcessor) Shutdown(context.Context) error { return nil }
