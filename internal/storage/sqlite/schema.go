package sqlite

import (
	"database/sql"
	"fmt"
)

// schemaVersion is the current migration target. Migrations run in
// order and must be idempotent — applied again on a database that
// already has them, they are no-ops.
const schemaVersion = 2

// migrate brings db up to schemaVersion, in order, inside one
// transaction per step so a crash mid-migration never leaves a
// half-applied step committed.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS metadata (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating metadata table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	steps := []func(*sql.Tx) error{migrateV1, migrateV2}
	for i := current; i < len(steps); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration tx for step %d: %w", i+1, err)
		}
		if err := steps[i](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fmt.Sprint(i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording schema version after step %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration step %d: %w", i+1, err)
		}
	}
	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var v sql.NullString
	err := db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&v)
	if err == sql.ErrNoRows || !v.Valid {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	var n int
	fmt.Sscanf(v.String, "%d", &n)
	return n, nil
}

// migrateV1 creates the base tables plus the three FTS5
// external-content virtual tables that mirror thinking_blocks,
// user_prompts, and assistant_responses for full-text search.
func migrateV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_key   TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			source        TEXT NOT NULL,
			started_at    TEXT NOT NULL,
			ended_at      TEXT,
			end_reason    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,

		`CREATE TABLE IF NOT EXISTS thinking_blocks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			model       TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_thinking_session ON thinking_blocks(session_key)`,

		`CREATE TABLE IF NOT EXISTS tool_calls (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			tool_id     TEXT NOT NULL DEFAULT '',
			tool_name   TEXT NOT NULL DEFAULT '',
			input_json  TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_key)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_tool_id ON tool_calls(tool_id)`,

		`CREATE TABLE IF NOT EXISTS tool_results (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			tool_id     TEXT NOT NULL DEFAULT '',
			is_error    INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			content     TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_results_session ON tool_results(session_key)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_results_tool_id ON tool_results(tool_id)`,

		`CREATE TABLE IF NOT EXISTS api_usage (
			id                    INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key           TEXT NOT NULL,
			user_id               TEXT NOT NULL,
			model                 TEXT NOT NULL DEFAULT '',
			input_tokens          INTEGER NOT NULL DEFAULT 0,
			output_tokens         INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens     INTEGER NOT NULL DEFAULT 0,
			cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd              REAL NOT NULL DEFAULT 0,
			created_at            TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_usage_session ON api_usage(session_key)`,

		`CREATE TABLE IF NOT EXISTS user_prompts (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			content     TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_prompts_session ON user_prompts(session_key)`,

		`CREATE TABLE IF NOT EXISTS assistant_responses (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			model       TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assistant_responses_session ON assistant_responses(session_key)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS thinking_fts USING fts5(
			content, content='thinking_blocks', content_rowid='id'
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS prompts_fts USING fts5(
			content, content='user_prompts', content_rowid='id'
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS responses_fts USING fts5(
			content, content='assistant_responses', content_rowid='id'
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s, err)
		}
	}
	return nil
}

// migrateV2 adds a latency_ms column (INTEGER, default 0) to
// tool_calls — a conditional add guarded by pragma_table_info, so a
// database already carrying the column is left untouched. No insert
// in this package writes the column, so it holds its default.
func migrateV2(tx *sql.Tx) error {
	var hasColumn bool
	rows, err := tx.Query(`SELECT name FROM pragma_table_info('tool_calls')`)
	if err != nil {
		return fmt.Errorf("inspecting tool_calls columns: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		if name == "latency_ms" {
			hasColumn = true
		}
	}
	rows.Close()

	if !hasColumn {
		if _, err := tx.Exec(`ALTER TABLE tool_calls ADD COLUMN latency_ms INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("adding latency_ms column: %w", err)
		}
	}
	return nil
}
