package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/core/ports/driven"
)

// vectorIndex implements driven.VectorIndex with a brute-force scan over
// the chunk_embeddings table. Exact scoring; no approximate structure.
type vectorIndex struct {
	store *Store
}

var _ driven.VectorIndex = (*vectorIndex)(nil)

// Put inserts or replaces the vector for a chunk. The first stored vector
// establishes the index dimension; later vectors must match it.
func (v *vectorIndex) Put(ctx context.Context, chunkID string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding for chunk %s: %w", chunkID, domain.ErrInvalidInput)
	}

	dims, err := v.dimensions(ctx)
	if err != nil {
		return err
	}
	if dims > 0 && dims != len(embedding) {
		return fmt.Errorf("embedding has %d dimensions, index has %d: %w",
			len(embedding), dims, domain.ErrVectorDimension)
	}

	_, err = v.store.db.ExecContext(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, embedding, dimensions)
		VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimensions = excluded.dimensions
	`, chunkID, float32SliceToBytes(embedding), len(embedding))

	if err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	return nil
}

// Delete removes a vector from the index.
func (v *vectorIndex) Delete(ctx context.Context, chunkID string) error {
	_, err := v.store.db.ExecContext(ctx,
		"DELETE FROM chunk_embeddings WHERE chunk_id = ?", chunkID)
	if err != nil {
		return fmt.Errorf("deleting embedding: %w", err)
	}
	return nil
}

// Search scans every stored vector and returns the k nearest by cosine
// similarity. Hits with non-positive or non-finite similarity are dropped;
// they carry no signal worth ranking.
func (v *vectorIndex) Search(ctx context.Context, query []float32, k int) ([]driven.VectorHit, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("empty query vector: %w", domain.ErrInvalidInput)
	}
	if k <= 0 {
		k = 10
	}

	dims, err := v.dimensions(ctx)
	if err != nil {
		return nil, err
	}
	if dims == 0 {
		return nil, nil
	}
	if dims != len(query) {
		return nil, fmt.Errorf("query has %d dimensions, index has %d: %w",
			len(query), dims, domain.ErrVectorDimension)
	}

	rows, err := v.store.db.QueryContext(ctx,
		"SELECT chunk_id, embedding FROM chunk_embeddings")
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var hits []driven.VectorHit
	for rows.Next() {
		var chunkID string
		var blob []byte
		if err := rows.Scan(&chunkID, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding: %w", err)
		}

		sim := cosineSimilarity(query, bytesToFloat32Slice(blob))
		if sim <= 0 || math.IsNaN(sim) || math.IsInf(sim, 0) {
			continue
		}
		hits = append(hits, driven.VectorHit{ChunkID: chunkID, Similarity: sim})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embeddings: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Close is a no-op; the underlying database is owned by the Store.
func (v *vectorIndex) Close() error {
	return nil
}

// dimensions reports the established index dimension, 0 when empty.
func (v *vectorIndex) dimensions(ctx context.Context) (int, error) {
	var dims int
	err := v.store.db.QueryRowContext(ctx,
		"SELECT dimensions FROM chunk_embeddings LIMIT 1").Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading index dimension: %w", err)
	}
	return dims, nil
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors, accumulating in float64 to limit rounding drift.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
