package domain

// RetrievedChunk is a chunk reference produced by the hybrid retriever,
// carrying the score from the pass that ranked it.
type RetrievedChunk struct {
	// Chunk is the matched chunk, hydrated from the document store.
	Chunk Chunk

	// Score is the relevance score. Cosine similarity for dense hits,
	// a fixed text-match score for sparse-only hits.
	Score float64

	// Source records which retrieval pass produced the hit:
	// "dense", "sparse", or "both".
	Source string
}

// SourceReference points a caller at the origin of a context chunk
// used to ground an answer.
type SourceReference struct {
	// ChunkID identifies the chunk.
	ChunkID string

	// DocumentID identifies the owning document.
	DocumentID string

	// DocTitle is the owning document's display title.
	DocTitle string

	// HeadingContext is the chunk's section heading label.
	HeadingContext string

	// Excerpt is a short leading excerpt of the chunk content.
	Excerpt string
}

// RetrieveOptions configures a hybrid retrieval pass.
type RetrieveOptions struct {
	// Limit caps the merged result count. Zero means DefaultRetrieveLimit.
	Limit int
}

// Default retrieval bounds. Dense and sparse passes over-fetch slightly
// so the merge has candidates to deduplicate before truncating.
const (
	// DefaultRetrieveLimit is the merged result cap.
	DefaultRetrieveLimit = 8

	// DenseRetrieveLimit is the dense-pass candidate count.
	DenseRetrieveLimit = 10

	// SparseRetrieveLimit is the sparse-pass candidate count.
	SparseRetrieveLimit = 5
)
