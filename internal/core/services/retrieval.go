package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/core/ports/driven"
	"github.com/custodia-labs/dalil/internal/core/ports/driving"
	"github.com/custodia-labs/dalil/internal/logger"
)

// Ensure RetrievalService implements the interface.
var _ driving.RetrieveService = (*RetrievalService)(nil)

// sparseMatchScore is the fixed score assigned to sparse-only hits.
// BM25 scores are not comparable to cosine similarities, so sparse hits
// carry a flat text-match score rather than a fake similarity.
const sparseMatchScore = 0.5

// RetrievalService merges dense and sparse retrieval passes into one
// ranked, deduplicated chunk set.
type RetrievalService struct {
	docStore    driven.DocumentStore
	searchIndex driven.SearchEngine
	vectorIndex driven.VectorIndex
}

// NewRetrievalService creates a new hybrid retrieval service.
func NewRetrievalService(
	docStore driven.DocumentStore,
	searchIndex driven.SearchEngine,
	vectorIndex driven.VectorIndex,
) *RetrievalService {
	return &RetrievalService{
		docStore:    docStore,
		searchIndex: searchIndex,
		vectorIndex: vectorIndex,
	}
}

// Retrieve runs the hybrid retrieval pass. queryVector may be nil when no
// embedding was available; retrieval then runs sparse-only. Dense hits keep
// their rank position; sparse hits not already seen are appended after
// them. An empty result is not an error.
func (s *RetrievalService) Retrieve(
	ctx context.Context, queryText string, queryVector []float32, opts domain.RetrieveOptions,
) ([]domain.RetrievedChunk, error) {
	logger.Section("Retrieval")
	logger.Debug("Query: %q", queryText)

	queryText = strings.TrimSpace(queryText)
	if queryText == "" && queryVector == nil {
		return []domain.RetrievedChunk{}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = domain.DefaultRetrieveLimit
	}

	denseHits, err := s.densePass(ctx, queryVector)
	if err != nil {
		return nil, fmt.Errorf("dense retrieval: %w", err)
	}
	logger.Debug("Dense pass: %d hits", len(denseHits))

	sparseHits, err := s.sparsePass(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("sparse retrieval: %w", err)
	}
	logger.Debug("Sparse pass: %d hits", len(sparseHits))

	merged := mergeHits(denseHits, sparseHits, limit)
	logger.Debug("Merged: %d hits (limit %d)", len(merged), limit)

	results, err := s.hydrate(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("hydrate chunks: %w", err)
	}

	logger.Info("Retrieved %d context chunks", len(results))
	return results, nil
}

// densePass scores the query vector against every stored embedding.
// A nil vector or an empty index both skip the pass without error.
func (s *RetrievalService) densePass(ctx context.Context, queryVector []float32) ([]driven.VectorHit, error) {
	if queryVector == nil || s.vectorIndex == nil {
		return nil, nil
	}

	hits, err := s.vectorIndex.Search(ctx, queryVector, domain.DenseRetrieveLimit)
	if err != nil {
		// A vector sized for a different model than the stored corpus
		// means the dense side is unusable, not that the query failed.
		if errors.Is(err, domain.ErrVectorDimension) {
			logger.Warn("Dense pass skipped: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return hits, nil
}

// sparsePass runs the full-text query. The engine escapes all user input,
// so a syntax error here is a defect, not a user error.
func (s *RetrievalService) sparsePass(ctx context.Context, queryText string) ([]driven.SearchHit, error) {
	if queryText == "" || s.searchIndex == nil {
		return nil, nil
	}
	return s.searchIndex.Search(ctx, queryText, domain.SparseRetrieveLimit)
}

// scoredRef is a merged hit before hydration.
type scoredRef struct {
	chunkID string
	score   float64
	source  string
}

// mergeHits unions the two passes, deduplicating by chunk id. Dense hits
// keep their rank positions; a chunk present in both keeps its dense slot
// and cosine score. Unseen sparse hits follow in relevance order.
func mergeHits(dense []driven.VectorHit, sparse []driven.SearchHit, limit int) []scoredRef {
	merged := make([]scoredRef, 0, len(dense)+len(sparse))
	seen := make(map[string]int, len(dense))

	for _, hit := range dense {
		seen[hit.ChunkID] = len(merged)
		merged = append(merged, scoredRef{
			chunkID: hit.ChunkID,
			score:   hit.Similarity,
			source:  "dense",
		})
	}

	for _, hit := range sparse {
		if idx, ok := seen[hit.ChunkID]; ok {
			merged[idx].source = "both"
			continue
		}
		seen[hit.ChunkID] = len(merged)
		merged = append(merged, scoredRef{
			chunkID: hit.ChunkID,
			score:   sparseMatchScore,
			source:  "sparse",
		})
	}

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// hydrate resolves chunk ids into full chunks. A chunk deleted since
// indexing is skipped, not an error.
func (s *RetrievalService) hydrate(ctx context.Context, refs []scoredRef) ([]domain.RetrievedChunk, error) {
	results := make([]domain.RetrievedChunk, 0, len(refs))

	for _, ref := range refs {
		chunk, err := s.docStore.GetChunk(ctx, ref.chunkID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				logger.Debug("Chunk %s missing from store, skipping", ref.chunkID)
				continue
			}
			return nil, fmt.Errorf("get chunk %s: %w", ref.chunkID, err)
		}

		results = append(results, domain.RetrievedChunk{
			Chunk:  *chunk,
			Score:  ref.score,
			Source: ref.source,
		})
	}

	return results, nil
}
