package driven

import (
	"context"

	"github.com/custodia-labs/dalil/internal/core/domain"
)

// SearchEngine provides sparse full-text search operations.
// Backed by SQLite FTS5 over chunk content and heading context.
type SearchEngine interface {
	// Index adds or updates a chunk in the search index.
	// Index entries are regenerated whenever a chunk is inserted and are
	// never edited independently of their chunk.
	Index(ctx context.Context, chunk domain.Chunk) error

	// Delete removes a chunk from the search index.
	Delete(ctx context.Context, chunkID string) error

	// Search performs a keyword search and returns matching chunk IDs
	// ranked by the index's native relevance score. Query terms are
	// escaped by the implementation; arbitrary user input must never
	// produce a syntax error.
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)

	// Close releases resources.
	Close() error
}

// SearchHit represents a search result from the engine.
type SearchHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Score is the relevance score (BM25; higher is better).
	Score float64
}
