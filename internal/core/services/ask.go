package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/core/ports/driven"
	"github.com/custodia-labs/dalil/internal/core/ports/driving"
	"github.com/custodia-labs/dalil/internal/logger"
)

// Ensure AskManager implements the interface.
var _ driving.AskService = (*AskManager)(nil)

// maxSourceReferences caps the sources announced per answer.
const maxSourceReferences = 6

// excerptWords is the length of the leading excerpt in a source reference.
const excerptWords = 28

// ChatStreamerFactory resolves a provider into a live chat streamer.
type ChatStreamerFactory func(provider domain.AIProvider) (driven.ChatStreamer, error)

// EmbeddingFactory resolves a provider into an embedding service. It may
// fail with domain.ErrEmbeddingUnavailable when no backend can embed;
// the request then degrades to sparse-only retrieval.
type EmbeddingFactory func(provider domain.AIProvider) (driven.EmbeddingService, error)

// askState tracks one in-flight or completed request.
type askState struct {
	req    *domain.AskRequest
	cancel context.CancelFunc
}

// AskManager owns the per-question lifecycle: embed the query, retrieve
// context, stream the answer, reach a terminal state. Each request runs in
// its own goroutine with independent provider-call state; a failing request
// never affects its siblings.
type AskManager struct {
	retriever   driving.RetrieveService
	docStore    driven.DocumentStore
	prompts     driven.PromptStore
	sink        driving.EventSink
	newStreamer ChatStreamerFactory
	newEmbedder EmbeddingFactory

	// mu guards requests and is held across sink calls so that no
	// increment can be delivered after a terminal event for the same
	// request id.
	mu       sync.Mutex
	requests map[string]*askState
}

// NewAskManager creates a new ask manager. The sink receives every event
// for every submitted request, demultiplexed by request id.
func NewAskManager(
	retriever driving.RetrieveService,
	docStore driven.DocumentStore,
	prompts driven.PromptStore,
	sink driving.EventSink,
	newStreamer ChatStreamerFactory,
	newEmbedder EmbeddingFactory,
) *AskManager {
	return &AskManager{
		retriever:   retriever,
		docStore:    docStore,
		prompts:     prompts,
		sink:        sink,
		newStreamer: newStreamer,
		newEmbedder: newEmbedder,
		requests:    make(map[string]*askState),
	}
}

// Submit registers a question and starts the answer pipeline asynchronously.
// The returned id identifies the request in all subsequent events. Submit
// never blocks on a network call.
func (m *AskManager) Submit(
	_ context.Context, requestID, question string, provider domain.AIProvider,
) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("empty question: %w", domain.ErrInvalidInput)
	}
	if !provider.IsValid() {
		return "", fmt.Errorf("unknown provider %q: %w", provider, domain.ErrInvalidInput)
	}

	if requestID == "" {
		requestID = uuid.New().String()
	}

	// The pipeline outlives Submit's caller context; only Cancel or
	// completion ends it.
	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if _, exists := m.requests[requestID]; exists {
		m.mu.Unlock()
		cancel()
		return "", fmt.Errorf("request %q: %w", requestID, domain.ErrAlreadyExists)
	}
	state := &askState{
		req: &domain.AskRequest{
			ID:       requestID,
			Question: question,
			Provider: provider,
			Status:   domain.AskStatusPending,
		},
		cancel: cancel,
	}
	m.requests[requestID] = state
	m.mu.Unlock()

	logger.Info("Submitted request %s (provider=%s)", requestID, provider)
	go m.run(runCtx, state)

	return requestID, nil
}

// Cancel stops a Pending or Streaming request and transitions it to
// Cancelled, aborting the in-flight provider call. Cancelling an unknown
// or already-terminal request is a no-op.
func (m *AskManager) Cancel(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.requests[requestID]
	if !ok || state.req.Status.IsTerminal() {
		return
	}

	state.req.Status = domain.AskStatusCancelled
	state.cancel()
	logger.Info("Cancelled request %s", requestID)
	m.sink.OnDone(domain.AnswerDone{RequestID: requestID, Cancelled: true})
}

// Status reports the current lifecycle state of a request.
func (m *AskManager) Status(requestID string) (domain.AskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.requests[requestID]
	if !ok {
		return "", fmt.Errorf("request %q: %w", requestID, domain.ErrRequestNotFound)
	}
	return state.req.Status, nil
}

// Request returns a copy of the request record, for display after
// completion.
func (m *AskManager) Request(requestID string) (*domain.AskRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("request %q: %w", requestID, domain.ErrRequestNotFound)
	}
	req := *state.req
	return &req, nil
}

// run executes the answer pipeline for one request: embed the query,
// retrieve context, announce sources, stream the answer.
func (m *AskManager) run(ctx context.Context, state *askState) {
	defer state.cancel()

	req := state.req

	queryVector := m.embedQuery(ctx, req)
	if m.terminal(req.ID) {
		return
	}

	retrieved, err := m.retriever.Retrieve(ctx, req.Question, queryVector, domain.RetrieveOptions{})
	if err != nil {
		m.finish(state, fmt.Errorf("retrieve context: %w", err))
		return
	}

	// Empty retrieval is not an error: the answer proceeds with no
	// context and the model says it has no information.
	sources := m.buildSourceReferences(ctx, retrieved)
	m.announceSources(state, sources)
	if m.terminal(req.ID) {
		return
	}

	streamer, err := m.newStreamer(req.Provider)
	if err != nil {
		m.finish(state, fmt.Errorf("create chat streamer: %w", err))
		return
	}
	defer streamer.Close()

	messages, err := m.buildMessages(req.Question, retrieved)
	if err != nil {
		m.finish(state, err)
		return
	}

	err = streamer.StreamChat(ctx, messages, driven.ChatOptions{}, func(delta string) error {
		return m.deliverDelta(state, delta)
	})
	m.finish(state, err)
}

// embedQuery generates the query embedding, degrading to nil (sparse-only
// retrieval) when no embedding backend is usable. Embedding failure is
// never fatal to the request.
func (m *AskManager) embedQuery(ctx context.Context, req *domain.AskRequest) []float32 {
	embedder, err := m.newEmbedder(req.Provider)
	if err != nil {
		logger.Warn("Request %s: no embedding backend (%v), sparse-only retrieval", req.ID, err)
		return nil
	}
	defer embedder.Close()

	vector, err := embedder.Embed(ctx, req.Question)
	if err != nil {
		logger.Warn("Request %s: query embedding failed (%v), sparse-only retrieval", req.ID, err)
		return nil
	}
	return vector
}

// deliverDelta appends one increment and forwards it to the sink. The
// first increment confirms the stream is live and moves the request to
// Streaming. Increments for a terminal request are dropped and the stream
// is stopped.
func (m *AskManager) deliverDelta(state *askState, delta string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := state.req
	if req.Status.IsTerminal() {
		return context.Canceled
	}
	if req.Status == domain.AskStatusPending {
		req.Status = domain.AskStatusStreaming
	}

	req.Answer += delta
	m.sink.OnDelta(domain.AnswerDelta{RequestID: req.ID, Content: delta})
	return nil
}

// announceSources records and emits the source references, at most once,
// before any increment.
func (m *AskManager) announceSources(state *askState, sources []domain.SourceReference) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state.req.Status.IsTerminal() {
		return
	}
	state.req.Sources = sources
	m.sink.OnSources(domain.AnswerSources{RequestID: state.req.ID, Sources: sources})
}

// finish delivers the terminal event. Exactly one terminal event is
// emitted per request: if Cancel already won, this is a no-op.
func (m *AskManager) finish(state *askState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := state.req
	if req.Status.IsTerminal() {
		return
	}

	switch {
	case err == nil:
		req.Status = domain.AskStatusDone
		m.sink.OnDone(domain.AnswerDone{RequestID: req.ID})
	case errors.Is(err, context.Canceled):
		req.Status = domain.AskStatusCancelled
		m.sink.OnDone(domain.AnswerDone{RequestID: req.ID, Cancelled: true})
	default:
		req.Status = domain.AskStatusError
		logger.Warn("Request %s failed: %v", req.ID, err)
		m.sink.OnFailure(domain.AnswerFailure{RequestID: req.ID, Message: err.Error()})
	}
}

// terminal reports whether the request has already reached a terminal
// state, so the pipeline can stop early after a cancellation.
func (m *AskManager) terminal(requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.requests[requestID]
	return !ok || state.req.Status.IsTerminal()
}

// buildSourceReferences resolves the top retrieved chunks into display
// references with document titles and short leading excerpts.
func (m *AskManager) buildSourceReferences(
	ctx context.Context, retrieved []domain.RetrievedChunk,
) []domain.SourceReference {
	count := len(retrieved)
	if count > maxSourceReferences {
		count = maxSourceReferences
	}

	titles := make(map[string]string)
	refs := make([]domain.SourceReference, 0, count)

	for _, rc := range retrieved[:count] {
		title, ok := titles[rc.Chunk.DocumentID]
		if !ok {
			if doc, err := m.docStore.GetDocument(ctx, rc.Chunk.DocumentID); err == nil {
				title = doc.Title
			}
			titles[rc.Chunk.DocumentID] = title
		}

		refs = append(refs, domain.SourceReference{
			ChunkID:        rc.Chunk.ID,
			DocumentID:     rc.Chunk.DocumentID,
			DocTitle:       title,
			HeadingContext: rc.Chunk.HeadingContext,
			Excerpt:        excerpt(rc.Chunk.Content, excerptWords),
		})
	}

	return refs
}

// buildMessages assembles the system prompt and the context-grounded user
// message for the chat stream.
func (m *AskManager) buildMessages(
	question string, retrieved []domain.RetrievedChunk,
) ([]driven.ChatMessage, error) {
	system, err := m.prompts.Load(driven.PromptAnswerSystem)
	if err != nil {
		return nil, fmt.Errorf("load system prompt: %w", err)
	}

	return []driven.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: buildRAGPrompt(question, retrieved)},
	}, nil
}

// buildRAGPrompt formats the retrieved chunks as numbered context blocks
// followed by the question. With no chunks the question stands alone.
func buildRAGPrompt(question string, retrieved []domain.RetrievedChunk) string {
	if len(retrieved) == 0 {
		return question
	}

	var b strings.Builder
	b.WriteString("Use the following context to answer the question.\n\n")

	for i, rc := range retrieved {
		fmt.Fprintf(&b, "--- Context %d ---", i+1)
		if rc.Chunk.HeadingContext != "" {
			fmt.Fprintf(&b, " (%s)", rc.Chunk.HeadingContext)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(rc.Chunk.Content))
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// excerpt returns the leading n words of content, with an ellipsis when
// truncated.
func excerpt(content string, n int) string {
	words := strings.Fields(content)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}
