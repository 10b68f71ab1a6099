package domain

import "time"

// Document represents an ingested source document.
// Documents are replaced wholesale on rebuild and never partially mutated.
type Document struct {
	// ID is the unique identifier for the document (a path-derived slug).
	ID string

	// CollectionID groups documents belonging to the same corpus.
	CollectionID string

	// Title is the human-readable title.
	Title string

	// Content is the full plain-text content before chunking.
	Content string

	// Path is the original source location.
	Path string

	// CreatedAt is when the document was first ingested.
	CreatedAt time.Time

	// UpdatedAt is when the document was last rebuilt.
	UpdatedAt time.Time
}

// Chunk represents a retrievable unit within a document.
// Chunks are produced once per ingest; a rebuild discards and
// regenerates all chunks for the affected document.
type Chunk struct {
	// ID is the unique identifier for the chunk.
	ID string

	// DocumentID links to the owning Document.
	DocumentID string

	// Index is the zero-based ordinal position within the document.
	// Indices for a document are contiguous, starting at 0.
	Index int

	// Content is the text content of this chunk.
	Content string

	// HeadingContext is the section heading that dominates this chunk,
	// or "" for content before the first heading.
	HeadingContext string

	// Embedding is the dense vector representation, nil when embedding
	// generation was unavailable at build time. A nil embedding excludes
	// the chunk from dense retrieval only.
	Embedding []float32
}
