package driven

import "context"

// VectorIndex stores one dense vector per chunk and answers similarity
// queries. Corpus sizes are small enough for exact brute-force scoring, so
// implementations scan every stored vector; a full scan costs single-digit
// milliseconds at the intended scale and is the documented scaling boundary.
//
// Writers operate only during the build phase; query-time access is
// read-only, so concurrent readers need no locking.
type VectorIndex interface {
	// Put inserts the vector for the given chunk ID. A vector whose
	// length differs from the index's established dimension fails with
	// domain.ErrVectorDimension; it is never truncated or padded.
	Put(ctx context.Context, chunkID string, embedding []float32) error

	// Delete removes a vector from the index.
	Delete(ctx context.Context, chunkID string) error

	// Search finds the k most similar stored vectors by cosine
	// similarity, descending, ties broken by lower chunk ID. An empty
	// index returns zero hits, not an error.
	Search(ctx context.Context, query []float32, k int) ([]VectorHit, error)

	// Close releases resources.
	Close() error
}

// VectorHit represents a similarity search result.
type VectorHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Similarity is the cosine similarity score.
	Similarity float64
}
