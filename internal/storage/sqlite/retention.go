package sqlite

import (
	"context"
	"fmt"
	"time"
)

// DefaultRetention is the age after which rows are purged. A 24h
// retention window keeps the local database small; the JSONL sink is
// the durable record.
const DefaultRetention = 24 * time.Hour

// tablesWithFTS lists the base tables that carry an FTS5 shadow, in
// the order retention must delete them: FTS rows first (an
// external-content FTS5 table has no independent lifetime once its
// content rowids disappear — deleting the base row first would leave
// the shadow table referencing dangling rowids on the next rebuild).
var tablesWithFTS = []struct {
	table, fts string
}{
	{"thinking_blocks", "thinking_fts"},
	{"user_prompts", "prompts_fts"},
	{"assistant_responses", "responses_fts"},
}

var plainTables = []string{"tool_calls", "tool_results", "api_usage"}

// RunRetention deletes rows older than cutoff across every table,
// FTS shadows before their base table, then deletes ended sessions
// older than cutoff, and reports the total rows removed.
func (s *Sink) RunRetention(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning retention transaction: %w", err)
	}
	defer tx.Rollback()

	var removed int64

	for _, t := range tablesWithFTS {
		res, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE rowid IN (SELECT id FROM %s WHERE created_at < ?)`, t.fts, t.table), cutoff)
		if err != nil {
			return 0, fmt.Errorf("purging %s: %w", t.fts, err)
		}
		n, _ := res.RowsAffected()
		removed += n

		res, err = tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, t.table), cutoff)
		if err != nil {
			return 0, fmt.Errorf("purging %s: %w", t.table, err)
		}
		n, _ = res.RowsAffected()
		removed += n
	}

	for _, table := range plainTables {
		res, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, table), cutoff)
		if err != nil {
			return 0, fmt.Errorf("purging %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	res, err := tx.Exec(`DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	removed += n

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing retention transaction: %w", err)
	}
	return removed, nil
}
