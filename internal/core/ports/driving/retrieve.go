package driving

import (
	"context"

	"github.com/custodia-labs/dalil/internal/core/domain"
)

// RetrieveService produces a ranked, deduplicated set of context chunks
// for a query by merging dense and sparse retrieval passes.
type RetrieveService interface {
	// Retrieve runs the hybrid retrieval pass. queryVector may be nil
	// when no embedding was available; retrieval then runs sparse-only,
	// which is not an error. An empty result is likewise not an error.
	Retrieve(ctx context.Context, queryText string, queryVector []float32, opts domain.RetrieveOptions) ([]domain.RetrievedChunk, error)
}
