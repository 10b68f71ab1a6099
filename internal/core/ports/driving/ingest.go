package driving

import (
	"context"

	"github.com/custodia-labs/dalil/internal/core/domain"
)

// IngestStatus reports the outcome of a batch ingest.
type IngestStatus struct {
	// DocumentsProcessed is the number of documents successfully ingested.
	DocumentsProcessed int

	// ChunksIndexed is the total number of chunks produced and indexed.
	ChunksIndexed int

	// ChunksEmbedded is the number of chunks that received an embedding.
	ChunksEmbedded int

	// ErrorCount is the number of documents skipped due to errors.
	ErrorCount int
}

// IngestService runs the offline build phase: chunk documents, generate
// embeddings (best-effort), and populate the sparse and dense indexes.
// Build-time writes never overlap query-time reads in the same process.
type IngestService interface {
	// Ingest processes a batch of documents. A failing document is
	// skipped and counted; it never aborts the batch or affects
	// sibling documents.
	Ingest(ctx context.Context, docs []domain.Document) (*IngestStatus, error)

	// Remove deletes a document and all derived chunk state.
	Remove(ctx context.Context, documentID string) error
}
