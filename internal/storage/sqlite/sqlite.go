// Package sqlite implements the queryable SQLite storage sink: a
// dedicated writer goroutine owns the single *sql.DB connection,
// batches events into transactions, and maintains FTS5 shadow tables
// for full-text search over thinking blocks, prompts, and responses.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/aspyproxy/aspy/internal/events"
	"github.com/aspyproxy/aspy/internal/pricing"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	channelCapacity      = 4096
)

// Metrics is the subset of prometheus counters the sink updates.
// Defined as an interface here so tests can supply a no-op without
// importing prometheus.
type Metrics interface {
	RecordDropped()
	RecordStoreFailed()
	ObserveBatchLatency(time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordDropped()                    {}
func (noopMetrics) RecordStoreFailed()                {}
func (noopMetrics) ObserveBatchLatency(time.Duration) {}

// Sink owns a dedicated writer goroutine over a single SQLite
// connection. Write enqueues onto a bounded channel and never blocks
// the caller for longer than it takes to drop — if the channel is
// full, the event is dropped and counted rather than blocking the
// pipeline.
type Sink struct {
	db       *sql.DB
	ch       chan events.TrackedEvent
	flushReq chan chan error
	done     chan struct{}
	metrics  Metrics
	log      *slog.Logger

	batchSize     int
	flushInterval time.Duration
}

// Open opens (creating if necessary) the SQLite database at path,
// applies pragmas tuned for a single writer with many readers, runs
// migrations, and starts the writer goroutine.
func Open(path string, metrics Metrics, log *slog.Logger) (*Sink, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=cache_size(-64000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	// A single writer goroutine owns all writes; readers (the query
	// API) can use additional connections safely under WAL.
	db.SetMaxOpenConns(4)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}

	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Sink{
		db:            db,
		ch:            make(chan events.TrackedEvent, channelCapacity),
		flushReq:      make(chan chan error),
		done:          make(chan struct{}),
		metrics:       metrics,
		log:           log,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
	go s.run()
	return s, nil
}

// Write enqueues ev for persistence. Never blocks: a full channel
// drops the event and increments the dropped-events counter.
func (s *Sink) Write(ev events.TrackedEvent) {
	select {
	case s.ch <- ev:
	default:
		s.metrics.RecordDropped()
		s.log.Warn("sqlite sink channel full, dropping event", "kind", ev.Event.Kind)
	}
}

// Close stops the writer goroutine after flushing any buffered batch
// and closes the underlying database.
func (s *Sink) Close() error {
	close(s.ch)
	<-s.done
	return s.db.Close()
}

// DB exposes the underlying connection for the read-only query API.
// Reads are safe concurrently with the writer goroutine under WAL.
func (s *Sink) DB() *sql.DB { return s.db }

func (s *Sink) run() {
	defer close(s.done)

	batch := make([]events.TrackedEvent, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	var lastErr error
	flush := func() {
		lastErr = nil
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		failed, err := s.writeBatch(batch)
		for range failed {
			s.metrics.RecordStoreFailed()
		}
		for _, f := range failed {
			s.log.Error("sqlite row insert failed", "error", f.err, "kind", f.ev.Event.Kind)
		}
		if err != nil {
			lastErr = err
			s.log.Error("sqlite batch commit failed", "error", err, "batch_size", len(batch))
		}
		s.metrics.ObserveBatchLatency(time.Since(start))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case reply := <-s.flushReq:
			// Drain any events already queued ahead of this request
			// before flushing, so Flush observes everything sent
			// before it was called.
		drain:
			for {
				select {
				case ev, ok := <-s.ch:
					if !ok {
						break drain
					}
					batch = append(batch, ev)
				default:
					break drain
				}
			}
			flush()
			reply <- lastErr
		}
	}
}

// Flush forces the writer goroutine to commit any buffered batch
// immediately, bypassing flushInterval. Exposed primarily for tests
// and for a clean pre-shutdown drain.
func (s *Sink) Flush() error {
	reply := make(chan error, 1)
	s.flushReq <- reply
	return <-reply
}

// rowFailure records a single event that failed to insert within an
// otherwise-successful batch.
type rowFailure struct {
	ev  events.TrackedEvent
	err error
}

// writeBatch commits every insertable row in batch within one
// transaction. A row that fails to insert is counted and logged but
// does not roll back the rows around it — the transaction still
// commits everything that succeeded.
func (s *Sink) writeBatch(batch []events.TrackedEvent) ([]rowFailure, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback()

	var failed []rowFailure
	for _, ev := range batch {
		if err := insertOne(tx, ev); err != nil {
			failed = append(failed, rowFailure{ev: ev, err: err})
		}
	}

	if err := tx.Commit(); err != nil {
		return failed, fmt.Errorf("committing batch: %w", err)
	}
	return failed, nil
}

// insertOne routes a single TrackedEvent to the table its Kind maps
// to, keeping any FTS5 shadow table synchronized in the same
// transaction.
func insertOne(tx *sql.Tx, tev events.TrackedEvent) error {
	ev := tev.Event
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = tev.TrackedAt
	}
	createdAt := ts.UTC().Format(time.RFC3339Nano)

	switch ev.Kind {
	case events.KindToolCall:
		_, err := tx.Exec(`INSERT INTO tool_calls (session_key, user_id, tool_id, tool_name, input_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			tev.SessionID, tev.UserID, ev.ToolID, ev.ToolName, string(ev.ToolInput), createdAt)
		return err

	case events.KindToolResult:
		isError := 0
		if !ev.Success {
			isError = 1
		}
		_, err := tx.Exec(`INSERT INTO tool_results (session_key, user_id, tool_id, is_error, duration_ms, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tev.SessionID, tev.UserID, ev.ToolID, isError, ev.Duration.Milliseconds(), string(ev.ToolOutput), createdAt)
		return err

	case events.KindAPIUsage:
		cost := pricing.EstimateCostUSD(ev.Model, pricing.TokenUsage{
			InputTokens:         ev.InputTokens,
			OutputTokens:        ev.OutputTokens,
			CacheCreationTokens: ev.CacheCreationTokens,
			CacheReadTokens:     ev.CacheReadTokens,
		})
		_, err := tx.Exec(`INSERT INTO api_usage (session_key, user_id, model, input_tokens, output_tokens, cache_read_tokens, cache_creation_tokens, cost_usd, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tev.SessionID, tev.UserID, ev.Model, ev.InputTokens, ev.OutputTokens, ev.CacheReadTokens, ev.CacheCreationTokens, cost, createdAt)
		return err

	case events.KindThinking:
		res, err := tx.Exec(`INSERT INTO thinking_blocks (session_key, user_id, model, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			tev.SessionID, tev.UserID, ev.Model, ev.Content, createdAt)
		if err != nil {
			return err
		}
		return syncFTS(tx, res, "thinking_fts", ev.Content)

	case events.KindUserPrompt:
		res, err := tx.Exec(`INSERT INTO user_prompts (session_key, user_id, content, created_at)
			VALUES (?, ?, ?, ?)`,
			tev.SessionID, tev.UserID, ev.Content, createdAt)
		if err != nil {
			return err
		}
		return syncFTS(tx, res, "prompts_fts", ev.Content)

	case events.KindAssistantResponse:
		res, err := tx.Exec(`INSERT INTO assistant_responses (session_key, user_id, model, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			tev.SessionID, tev.UserID, ev.Model, ev.Content, createdAt)
		if err != nil {
			return err
		}
		return syncFTS(tx, res, "responses_fts", ev.Content)

	default:
		// Events with no dedicated table (context compaction, errors,
		// headers, etc.) are persisted in the JSONL sink only.
		return nil
	}
}

// syncFTS inserts the external-content FTS5 row alongside the base
// table row it mirrors, keyed by the rowid just inserted.
func syncFTS(tx *sql.Tx, res sql.Result, ftsTable, content string) error {
	rowid, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting inserted rowid for %s: %w", ftsTable, err)
	}
	_, err = tx.Exec(fmt.Sprintf(`INSERT INTO %s (rowid, content) VALUES (?, ?)`, ftsTable), rowid, content)
	return err
}

// RecordSession upserts a session's lifecycle row.
func (s *Sink) RecordSession(ctx context.Context, sessionKey, userID, source string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (session_key, user_id, source, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_key) DO NOTHING`,
		sessionKey, userID, source, startedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// EndSession marks a session row ended.
func (s *Sink) EndSession(ctx context.Context, sessionKey, reason string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ?, end_reason = ? WHERE session_key = ?`,
		endedAt.UTC().Format(time.RFC3339Nano), reason, sessionKey)
	return err
}
