package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dalil/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/core/ports/driven"
)

// --- Mock implementations ---

// mockSearchEngine implements driven.SearchEngine for testing.
type mockSearchEngine struct {
	hits      []driven.SearchHit
	searchErr error
	indexed   []domain.Chunk
	indexErr  error
}

func (m *mockSearchEngine) Index(_ context.Context, chunk domain.Chunk) error {
	if m.indexErr != nil {
		return m.indexErr
	}
	m.indexed = append(m.indexed, chunk)
	return nil
}

func (m *mockSearchEngine) Delete(_ context.Context, _ string) error {
	return nil
}

func (m *mockSearchEngine) Search(_ context.Context, _ string, limit int) ([]driven.SearchHit, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if limit > len(m.hits) {
		return m.hits, nil
	}
	return m.hits[:limit], nil
}

func (m *mockSearchEngine) Close() error {
	return nil
}

// mockVectorIndex implements driven.VectorIndex for testing.
type mockVectorIndex struct {
	hits      []driven.VectorHit
	stored    map[string][]float32
	searchErr error
	putErr    error
}

func (m *mockVectorIndex) Put(_ context.Context, chunkID string, embedding []float32) error {
	if m.putErr != nil {
		return m.putErr
	}
	if m.stored == nil {
		m.stored = make(map[string][]float32)
	}
	m.stored[chunkID] = embedding
	return nil
}

func (m *mockVectorIndex) Delete(_ context.Context, _ string) error {
	return nil
}

func (m *mockVectorIndex) Search(_ context.Context, _ []float32, k int) ([]driven.VectorHit, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if k > len(m.hits) {
		return m.hits, nil
	}
	return m.hits[:k], nil
}

func (m *mockVectorIndex) Close() error {
	return nil
}

// seedChunks stores n chunks for doc-1 and returns their ids.
func seedChunks(t *testing.T, store *memory.DocumentStore, n int) []string {
	t.Helper()

	ids := make([]string, n)
	chunks := make([]domain.Chunk, n)
	for i := 0; i < n; i++ {
		ids[i] = string(rune('a'+i)) + "-chunk"
		chunks[i] = domain.Chunk{
			ID:             ids[i],
			DocumentID:     "doc-1",
			Index:          i,
			Content:        "chunk content " + ids[i],
			HeadingContext: "Section",
		}
	}
	require.NoError(t, store.SaveChunks(context.Background(), chunks))
	require.NoError(t, store.SaveDocument(context.Background(), &domain.Document{
		ID: "doc-1", Title: "Doc One",
	}))
	return ids
}

func TestRetrieve_DensePreferredOverSparse(t *testing.T) {
	store := memory.NewDocumentStore()
	ids := seedChunks(t, store, 4)

	vector := &mockVectorIndex{hits: []driven.VectorHit{
		{ChunkID: ids[0], Similarity: 0.9},
		{ChunkID: ids[1], Similarity: 0.8},
	}}
	search := &mockSearchEngine{hits: []driven.SearchHit{
		{ChunkID: ids[1], Score: 5.0}, // Also a dense hit
		{ChunkID: ids[2], Score: 3.0},
	}}

	svc := NewRetrievalService(store, search, vector)
	results, err := svc.Retrieve(context.Background(), "query", []float32{0.1, 0.2}, domain.RetrieveOptions{})

	require.NoError(t, err)
	require.Len(t, results, 3)

	// Dense hits keep their rank positions, unseen sparse hits follow
	assert.Equal(t, ids[0], results[0].Chunk.ID)
	assert.Equal(t, "dense", results[0].Source)
	assert.Equal(t, ids[1], results[1].Chunk.ID)
	assert.Equal(t, "both", results[1].Source)
	assert.InDelta(t, 0.8, results[1].Score, 1e-9) // Keeps the cosine score
	assert.Equal(t, ids[2], results[2].Chunk.ID)
	assert.Equal(t, "sparse", results[2].Source)
	assert.InDelta(t, sparseMatchScore, results[2].Score, 1e-9)
}

func TestRetrieve_NoDuplicateChunkIDs(t *testing.T) {
	store := memory.NewDocumentStore()
	ids := seedChunks(t, store, 3)

	vector := &mockVectorIndex{hits: []driven.VectorHit{
		{ChunkID: ids[0], Similarity: 0.9},
		{ChunkID: ids[1], Similarity: 0.8},
	}}
	search := &mockSearchEngine{hits: []driven.SearchHit{
		{ChunkID: ids[0], Score: 7.0},
		{ChunkID: ids[1], Score: 6.0},
	}}

	svc := NewRetrievalService(store, search, vector)
	results, err := svc.Retrieve(context.Background(), "query", []float32{0.1}, domain.RetrieveOptions{})

	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, r := range results {
		assert.False(t, seen[r.Chunk.ID], "duplicate chunk id %s", r.Chunk.ID)
		seen[r.Chunk.ID] = true
	}
	assert.Len(t, results, 2)
}

func TestRetrieve_SparseOnlyWithoutQueryVector(t *testing.T) {
	store := memory.NewDocumentStore()
	ids := seedChunks(t, store, 2)

	vector := &mockVectorIndex{searchErr: errors.New("must not be called")}
	search := &mockSearchEngine{hits: []driven.SearchHit{
		{ChunkID: ids[0], Score: 4.0},
		{ChunkID: ids[1], Score: 2.0},
	}}

	svc := NewRetrievalService(store, search, vector)
	results, err := svc.Retrieve(context.Background(), "incident response", nil, domain.RetrieveOptions{})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "sparse", results[0].Source)
	assert.Equal(t, "sparse", results[1].Source)
}

func TestRetrieve_RespectsLimit(t *testing.T) {
	store := memory.NewDocumentStore()
	ids := seedChunks(t, store, 10)

	hits := make([]driven.VectorHit, 10)
	for i, id := range ids {
		hits[i] = driven.VectorHit{ChunkID: id, Similarity: 1.0 - float64(i)*0.05}
	}

	svc := NewRetrievalService(store, &mockSearchEngine{}, &mockVectorIndex{hits: hits})
	results, err := svc.Retrieve(context.Background(), "query", []float32{0.1}, domain.RetrieveOptions{Limit: 3})

	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestRetrieve_DefaultLimit(t *testing.T) {
	store := memory.NewDocumentStore()
	ids := seedChunks(t, store, 12)

	hits := make([]driven.VectorHit, 10)
	for i := 0; i < 10; i++ {
		hits[i] = driven.VectorHit{ChunkID: ids[i], Similarity: 1.0 - float64(i)*0.05}
	}
	sparse := []driven.SearchHit{
		{ChunkID: ids[10], Score: 3.0},
		{ChunkID: ids[11], Score: 2.0},
	}

	svc := NewRetrievalService(store, &mockSearchEngine{hits: sparse}, &mockVectorIndex{hits: hits})
	results, err := svc.Retrieve(context.Background(), "query", []float32{0.1}, domain.RetrieveOptions{})

	require.NoError(t, err)
	assert.Len(t, results, domain.DefaultRetrieveLimit)
}

func TestRetrieve_EmptyResultIsNotAnError(t *testing.T) {
	store := memory.NewDocumentStore()

	svc := NewRetrievalService(store, &mockSearchEngine{}, &mockVectorIndex{})
	results, err := svc.Retrieve(context.Background(), "nothing matches", []float32{0.1}, domain.RetrieveOptions{})

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	store := memory.NewDocumentStore()

	svc := NewRetrievalService(store, &mockSearchEngine{}, &mockVectorIndex{})
	results, err := svc.Retrieve(context.Background(), "   ", nil, domain.RetrieveOptions{})

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieve_SkipsDeletedChunks(t *testing.T) {
	store := memory.NewDocumentStore()
	ids := seedChunks(t, store, 2)

	// One hit references a chunk no longer in the store
	vector := &mockVectorIndex{hits: []driven.VectorHit{
		{ChunkID: "gone-chunk", Similarity: 0.95},
		{ChunkID: ids[0], Similarity: 0.9},
	}}

	svc := NewRetrievalService(store, &mockSearchEngine{}, vector)
	results, err := svc.Retrieve(context.Background(), "query", []float32{0.1}, domain.RetrieveOptions{})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[0], results[0].Chunk.ID)
}

func TestRetrieve_DimensionMismatchDegradesToSparse(t *testing.T) {
	store := memory.NewDocumentStore()
	ids := seedChunks(t, store, 1)

	vector := &mockVectorIndex{searchErr: domain.ErrVectorDimension}
	search := &mockSearchEngine{hits: []driven.SearchHit{
		{ChunkID: ids[0], Score: 4.0},
	}}

	svc := NewRetrievalService(store, search, vector)
	results, err := svc.Retrieve(context.Background(), "query", []float32{0.1, 0.2}, domain.RetrieveOptions{})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sparse", results[0].Source)
}

func TestRetrieve_SparseErrorFailsRetrieval(t *testing.T) {
	store := memory.NewDocumentStore()

	search := &mockSearchEngine{searchErr: errors.New("index corrupt")}
	svc := NewRetrievalService(store, search, &mockVectorIndex{})

	_, err := svc.Retrieve(context.Background(), "query", nil, domain.RetrieveOptions{})
	assert.Error(t, err)
}

func TestRetrieve_Deterministic(t *testing.T) {
	store := memory.NewDocumentStore()
	ids := seedChunks(t, store, 5)

	vector := &mockVectorIndex{hits: []driven.VectorHit{
		{ChunkID: ids[2], Similarity: 0.9},
		{ChunkID: ids[0], Similarity: 0.7},
	}}
	search := &mockSearchEngine{hits: []driven.SearchHit{
		{ChunkID: ids[4], Score: 3.0},
		{ChunkID: ids[1], Score: 2.0},
	}}

	svc := NewRetrievalService(store, search, vector)

	var first []string
	for run := 0; run < 3; run++ {
		results, err := svc.Retrieve(context.Background(), "query", []float32{0.1}, domain.RetrieveOptions{})
		require.NoError(t, err)

		order := make([]string, len(results))
		for i, r := range results {
			order[i] = r.Chunk.ID
		}
		if first == nil {
			first = order
		} else {
			assert.Equal(t, first, order)
		}
	}
}
