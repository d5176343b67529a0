package sqlite

import (
	"context"
	"fmt"
)

// SearchResult is one FTS5 match, joined back to its base-table row.
type SearchResult struct {
	SessionKey string
	UserID     string
	Content    string
	CreatedAt  string
}

var searchTables = map[string]struct{ fts, base string }{
	"thinking":  {"thinking_fts", "thinking_blocks"},
	"prompts":   {"prompts_fts", "user_prompts"},
	"responses": {"responses_fts", "assistant_responses"},
}

// Search runs an FTS5 MATCH query against one of "thinking",
// "prompts", or "responses", returning the most recent matches first.
func (s *Sink) Search(ctx context.Context, domain, query string, limit int) ([]SearchResult, error) {
	t, ok := searchTables[domain]
	if !ok {
		return nil, fmt.Errorf("unknown search domain %q", domain)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT b.session_key, b.user_id, b.content, b.created_at
		FROM %s f
		JOIN %s b ON b.id = f.rowid
		WHERE f.content MATCH ?
		ORDER BY b.created_at DESC
		LIMIT ?`, t.fts, t.base), query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", domain, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.SessionKey, &r.UserID, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
