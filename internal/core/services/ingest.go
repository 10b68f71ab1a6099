package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/core/ports/driven"
	"github.com/custodia-labs/dalil/internal/core/ports/driving"
	"github.com/custodia-labs/dalil/internal/logger"
)

// Ensure Ingestor implements the interface.
var _ driving.IngestService = (*Ingestor)(nil)

// embedConcurrency bounds parallel embedding calls during a build.
const embedConcurrency = 4

// embedRatePerSecond keeps batch embedding under typical provider rate
// limits.
const embedRatePerSecond = 10

// Ingestor runs the offline build phase: chunk each document, populate the
// sparse index, and generate embeddings best-effort. Build-time writes are
// exclusive; they never overlap query-time reads in the same process.
type Ingestor struct {
	docStore    driven.DocumentStore
	searchIndex driven.SearchEngine
	vectorIndex driven.VectorIndex
	pipeline    driven.PostProcessorPipeline
	embedder    driven.EmbeddingService
	limiter     *rate.Limiter
}

// NewIngestor creates a new ingest service. embedder may be nil; documents
// are then indexed for sparse retrieval only.
func NewIngestor(
	docStore driven.DocumentStore,
	searchIndex driven.SearchEngine,
	vectorIndex driven.VectorIndex,
	pipeline driven.PostProcessorPipeline,
	embedder driven.EmbeddingService,
) *Ingestor {
	return &Ingestor{
		docStore:    docStore,
		searchIndex: searchIndex,
		vectorIndex: vectorIndex,
		pipeline:    pipeline,
		embedder:    embedder,
		limiter:     rate.NewLimiter(rate.Limit(embedRatePerSecond), embedConcurrency),
	}
}

// Ingest processes a batch of documents. A failing document is skipped and
// counted; it never aborts the batch or affects sibling documents.
func (s *Ingestor) Ingest(ctx context.Context, docs []domain.Document) (*driving.IngestStatus, error) {
	logger.Section("Ingest")
	logger.Info("Ingesting %d documents", len(docs))

	status := &driving.IngestStatus{}

	for i := range docs {
		if err := ctx.Err(); err != nil {
			return status, err
		}

		chunked, embedded, err := s.ingestOne(ctx, &docs[i])
		if err != nil {
			logger.Warn("Skipping document %s: %v", docs[i].ID, err)
			status.ErrorCount++
			continue
		}

		status.DocumentsProcessed++
		status.ChunksIndexed += chunked
		status.ChunksEmbedded += embedded
	}

	logger.Info("Ingest complete: %d documents, %d chunks, %d embedded, %d errors",
		status.DocumentsProcessed, status.ChunksIndexed, status.ChunksEmbedded, status.ErrorCount)
	return status, nil
}

// Remove deletes a document and all derived chunk state. The sparse index
// and stored embeddings are cleared along with the chunks.
func (s *Ingestor) Remove(ctx context.Context, documentID string) error {
	if err := s.docStore.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	logger.Info("Removed document %s", documentID)
	return nil
}

// ingestOne runs the full pipeline for a single document: clear prior
// state, persist, chunk, index, embed. Returns chunk and embedding counts.
func (s *Ingestor) ingestOne(ctx context.Context, doc *domain.Document) (int, int, error) {
	if doc.ID == "" || strings.TrimSpace(doc.Content) == "" {
		return 0, 0, fmt.Errorf("document missing id or content: %w", domain.ErrIngest)
	}

	logger.Debug("Ingesting document %s (%d bytes)", doc.ID, len(doc.Content))

	// A rebuild discards and regenerates all derived chunk state.
	if err := s.docStore.DeleteDocument(ctx, doc.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, 0, fmt.Errorf("clear previous state: %w", err)
	}

	if err := s.docStore.SaveDocument(ctx, doc); err != nil {
		return 0, 0, fmt.Errorf("save document: %w", err)
	}

	chunks, err := s.pipeline.Process(ctx, doc)
	if err != nil {
		return 0, 0, fmt.Errorf("chunk document: %w", domainIngestErr(err))
	}
	logger.Debug("Document %s: %d chunks", doc.ID, len(chunks))

	if len(chunks) == 0 {
		return 0, 0, nil
	}

	if err := s.docStore.SaveChunks(ctx, chunks); err != nil {
		return 0, 0, fmt.Errorf("save chunks: %w", err)
	}

	for i := range chunks {
		if err := s.searchIndex.Index(ctx, chunks[i]); err != nil {
			return 0, 0, fmt.Errorf("index chunk %s: %w", chunks[i].ID, err)
		}
	}

	embedded := s.embedChunks(ctx, chunks)
	return len(chunks), embedded, nil
}

// embedChunks generates and stores embeddings with bounded concurrency.
// Embedding is best-effort: an unreachable backend degrades the document
// to sparse-only retrieval instead of failing the ingest.
func (s *Ingestor) embedChunks(ctx context.Context, chunks []domain.Chunk) int {
	if s.embedder == nil {
		logger.Debug("No embedding service configured, sparse-only index")
		return 0
	}

	var mu sync.Mutex
	embedded := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i := range chunks {
		chunk := chunks[i]
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}

			vector, err := s.embedder.Embed(gctx, chunk.Content)
			if err != nil {
				return fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
			}

			if err := s.vectorIndex.Put(gctx, chunk.ID, vector); err != nil {
				return fmt.Errorf("store embedding %s: %w", chunk.ID, err)
			}

			mu.Lock()
			embedded++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Warn("Embedding degraded: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return embedded
}

// domainIngestErr tags a chunking failure with the ingest sentinel unless
// it already carries one.
func domainIngestErr(err error) error {
	if errors.Is(err, domain.ErrIngest) {
		return err
	}
	return fmt.Errorf("%v: %w", err, domain.ErrIngest)
}
