package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/core/ports/driven"
)

// searchEngine implements driven.SearchEngine over an FTS5 table.
type searchEngine struct {
	store *Store
}

var _ driven.SearchEngine = (*searchEngine)(nil)

// Index adds or updates a chunk in the full-text index. The entry is
// replaced wholesale; FTS5 has no usable upsert.
func (s *searchEngine) Index(ctx context.Context, chunk domain.Chunk) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks_fts WHERE chunk_id = ?", chunk.ID); err != nil {
		return fmt.Errorf("clearing search entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunks_fts (chunk_id, content, heading_context)
		VALUES (?, ?, ?)
	`, chunk.ID, chunk.Content, chunk.HeadingContext); err != nil {
		return fmt.Errorf("indexing chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Delete removes a chunk from the full-text index.
func (s *searchEngine) Delete(ctx context.Context, chunkID string) error {
	_, err := s.store.db.ExecContext(ctx,
		"DELETE FROM chunks_fts WHERE chunk_id = ?", chunkID)
	if err != nil {
		return fmt.Errorf("deleting search entry: %w", err)
	}
	return nil
}

// Search runs a keyword search over chunk content and heading context.
// The raw query is reduced to keywords and quoted per term, so arbitrary
// user input never reaches FTS5 as query syntax.
func (s *searchEngine) Search(ctx context.Context, query string, limit int) ([]driven.SearchHit, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT chunk_id, bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("querying search index: %w", err)
	}
	defer rows.Close()

	var hits []driven.SearchHit //nolint:prealloc // size unknown from query
	for rows.Next() {
		var hit driven.SearchHit
		var bm25 float64
		if err := rows.Scan(&hit.ChunkID, &bm25); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		// bm25() returns lower-is-better negative values; flip so callers
		// see higher-is-better.
		hit.Score = -bm25
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search hits: %w", err)
	}

	return hits, nil
}

// Close is a no-op; the underlying database is owned by the Store.
func (s *searchEngine) Close() error {
	return nil
}

// stopWords are filtered out of queries before they reach the index.
// Question phrasing ("what is", "how do I") would otherwise dominate the
// match and drown the informative terms.
var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "an": {}, "and": {}, "any": {}, "are": {},
	"as": {}, "at": {}, "be": {}, "but": {}, "by": {}, "can": {},
	"could": {}, "describe": {}, "did": {}, "do": {}, "does": {},
	"explain": {}, "for": {}, "from": {}, "he": {}, "how": {}, "i": {},
	"if": {}, "in": {}, "is": {}, "it": {}, "its": {}, "me": {},
	"my": {}, "no": {}, "not": {}, "of": {}, "on": {}, "or": {},
	"she": {}, "should": {}, "show": {}, "so": {}, "some": {},
	"tell": {}, "than": {}, "that": {}, "the": {}, "their": {},
	"then": {}, "these": {}, "they": {}, "this": {}, "those": {},
	"to": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "why": {}, "will": {},
	"with": {}, "would": {}, "you": {}, "your": {},
}

// extractKeywords pulls the informative terms out of a natural language
// query. When every term is a stop word the original terms are kept, so a
// query like "what is this about" still searches rather than matching
// nothing.
func extractKeywords(query string) []string {
	terms := tokenise(query)

	keywords := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, stop := stopWords[t]; stop {
			continue
		}
		keywords = append(keywords, t)
	}

	if len(keywords) == 0 {
		return terms
	}
	return keywords
}

// tokenise lowercases the query and splits it into alphanumeric runs.
func tokenise(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})
}

// buildMatchQuery renders keywords as an FTS5 MATCH expression. Each term
// is double-quoted and given a prefix wildcard, joined with OR. Returns ""
// when the query has no usable terms.
func buildMatchQuery(query string) string {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return ""
	}

	quoted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		quoted = append(quoted, `"`+kw+`"*`)
	}
	return strings.Join(quoted, " OR ")
}
