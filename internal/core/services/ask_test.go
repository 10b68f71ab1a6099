package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dalil/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/dalil/internal/core/domain"
	"github.com/custodia-labs/dalil/internal/core/ports/driven"
)

// --- Fakes ---

// fakeRetriever implements driving.RetrieveService, recording the vector
// it was called with.
type fakeRetriever struct {
	mu      sync.Mutex
	chunks  []domain.RetrievedChunk
	err     error
	vectors [][]float32
}

func (f *fakeRetriever) Retrieve(
	_ context.Context, _ string, queryVector []float32, _ domain.RetrieveOptions,
) ([]domain.RetrievedChunk, error) {
	f.mu.Lock()
	f.vectors = append(f.vectors, queryVector)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

func (f *fakeRetriever) lastVector() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.vectors) == 0 {
		return nil
	}
	return f.vectors[len(f.vectors)-1]
}

// fakeStreamer implements driven.ChatStreamer. It emits the configured
// deltas unless ctx is cancelled first; with blockUntilCancel set it
// emits nothing and waits for cancellation.
type fakeStreamer struct {
	deltas           []string
	terminalErr      error
	blockUntilCancel bool
}

func (f *fakeStreamer) StreamChat(
	ctx context.Context, _ []driven.ChatMessage, _ driven.ChatOptions, onDelta driven.DeltaFunc,
) error {
	if f.blockUntilCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	for _, d := range f.deltas {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return f.terminalErr
}

func (f *fakeStreamer) ModelName() string           { return "fake-model" }
func (f *fakeStreamer) Ping(_ context.Context) error { return nil }
func (f *fakeStreamer) Close() error                 { return nil }

// fakeEmbedder implements driven.EmbeddingService returning a fixed vector.
type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vector, f.err
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vector
	}
	return out, f.err
}

func (f *fakeEmbedder) Dimensions() int              { return len(f.vector) }
func (f *fakeEmbedder) ModelName() string            { return "fake-embed" }
func (f *fakeEmbedder) Ping(_ context.Context) error { return nil }
func (f *fakeEmbedder) Close() error                 { return nil }

// fakePromptStore implements driven.PromptStore.
type fakePromptStore struct{}

func (f *fakePromptStore) Load(_ string) (string, error) {
	return "Answer from context only.", nil
}

func (f *fakePromptStore) Reload() {}

// recordingSink implements driving.EventSink, recording events per request
// and signalling terminal events on a channel.
type recordingSink struct {
	mu       sync.Mutex
	sources  map[string][]domain.SourceReference
	deltas   map[string][]string
	done     map[string][]domain.AnswerDone
	failures map[string][]domain.AnswerFailure
	terminal chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		sources:  make(map[string][]domain.SourceReference),
		deltas:   make(map[string][]string),
		done:     make(map[string][]domain.AnswerDone),
		failures: make(map[string][]domain.AnswerFailure),
		terminal: make(chan string, 16),
	}
}

func (s *recordingSink) OnSources(e domain.AnswerSources) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[e.RequestID] = append(s.sources[e.RequestID], e.Sources...)
}

func (s *recordingSink) OnDelta(e domain.AnswerDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas[e.RequestID] = append(s.deltas[e.RequestID], e.Content)
}

func (s *recordingSink) OnDone(e domain.AnswerDone) {
	s.mu.Lock()
	s.done[e.RequestID] = append(s.done[e.RequestID], e)
	s.mu.Unlock()
	s.terminal <- e.RequestID
}

func (s *recordingSink) OnFailure(e domain.AnswerFailure) {
	s.mu.Lock()
	s.failures[e.RequestID] = append(s.failures[e.RequestID], e)
	s.mu.Unlock()
	s.terminal <- e.RequestID
}

func (s *recordingSink) waitTerminal(t *testing.T, requestID string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case id := <-s.terminal:
			if id == requestID {
				return
			}
		case <-deadline:
			t.Fatalf("request %s never reached a terminal event", requestID)
		}
	}
}

func (s *recordingSink) answer(requestID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out string
	for _, d := range s.deltas[requestID] {
		out += d
	}
	return out
}

func newTestManager(
	retriever *fakeRetriever, streamer driven.ChatStreamer, embedder driven.EmbeddingService, sink *recordingSink,
) (*AskManager, *memory.DocumentStore) {
	store := memory.NewDocumentStore()
	mgr := NewAskManager(
		retriever,
		store,
		&fakePromptStore{},
		sink,
		func(_ domain.AIProvider) (driven.ChatStreamer, error) {
			return streamer, nil
		},
		func(_ domain.AIProvider) (driven.EmbeddingService, error) {
			if embedder == nil {
				return nil, domain.ErrEmbeddingUnavailable
			}
			return embedder, nil
		},
	)
	return mgr, store
}

// --- Tests ---

func TestSubmit_HappyPath(t *testing.T) {
	sink := newRecordingSink()
	retriever := &fakeRetriever{chunks: []domain.RetrievedChunk{
		{Chunk: domain.Chunk{ID: "c1", DocumentID: "doc-1", Content: "alpha beta gamma", HeadingContext: "Intro"}, Score: 0.9, Source: "dense"},
	}}
	streamer := &fakeStreamer{deltas: []string{"The ", "answer ", "is 42."}}
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}}

	mgr, store := newTestManager(retriever, streamer, embedder, sink)
	require.NoError(t, store.SaveDocument(context.Background(), &domain.Document{ID: "doc-1", Title: "Doc One"}))

	id, err := mgr.Submit(context.Background(), "", "what is the answer?", domain.AIProviderOllama)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sink.waitTerminal(t, id)

	status, err := mgr.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.AskStatusDone, status)

	assert.Equal(t, "The answer is 42.", sink.answer(id))
	require.Len(t, sink.done[id], 1)
	assert.False(t, sink.done[id][0].Cancelled)
	assert.Empty(t, sink.failures[id])

	// Sources announced before streaming, resolved to document titles
	require.Len(t, sink.sources[id], 1)
	assert.Equal(t, "c1", sink.sources[id][0].ChunkID)
	assert.Equal(t, "Doc One", sink.sources[id][0].DocTitle)
	assert.Equal(t, "Intro", sink.sources[id][0].HeadingContext)
	assert.Equal(t, "alpha beta gamma", sink.sources[id][0].Excerpt)

	// The query embedding reached the retriever
	assert.Equal(t, []float32{0.1, 0.2}, retriever.lastVector())

	req, err := mgr.Request(id)
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42.", req.Answer)
}

func TestSubmit_EmptyQuestion(t *testing.T) {
	mgr, _ := newTestManager(&fakeRetriever{}, &fakeStreamer{}, nil, newRecordingSink())

	_, err := mgr.Submit(context.Background(), "", "   ", domain.AIProviderOllama)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSubmit_InvalidProvider(t *testing.T) {
	mgr, _ := newTestManager(&fakeRetriever{}, &fakeStreamer{}, nil, newRecordingSink())

	_, err := mgr.Submit(context.Background(), "", "question", "mystery")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSubmit_DuplicateRequestID(t *testing.T) {
	sink := newRecordingSink()
	mgr, _ := newTestManager(&fakeRetriever{}, &fakeStreamer{deltas: []string{"ok"}}, nil, sink)

	id, err := mgr.Submit(context.Background(), "r1", "first question", domain.AIProviderOllama)
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	_, err = mgr.Submit(context.Background(), "r1", "second question", domain.AIProviderOllama)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	sink.waitTerminal(t, "r1")
}

func TestCancel_BeforeFirstIncrement(t *testing.T) {
	sink := newRecordingSink()
	streamer := &fakeStreamer{blockUntilCancel: true}
	mgr, _ := newTestManager(&fakeRetriever{}, streamer, nil, sink)

	id, err := mgr.Submit(context.Background(), "r1", "question", domain.AIProviderOllama)
	require.NoError(t, err)

	mgr.Cancel(id)
	sink.waitTerminal(t, id)

	status, err := mgr.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.AskStatusCancelled, status)

	// Exactly one terminal event, zero increments
	require.Len(t, sink.done[id], 1)
	assert.True(t, sink.done[id][0].Cancelled)
	assert.Empty(t, sink.deltas[id])
	assert.Empty(t, sink.failures[id])

	// The run goroutine must not deliver a second terminal event
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.done[id], 1)
}

func TestCancel_IsIdempotent(t *testing.T) {
	sink := newRecordingSink()
	streamer := &fakeStreamer{blockUntilCancel: true}
	mgr, _ := newTestManager(&fakeRetriever{}, streamer, nil, sink)

	id, err := mgr.Submit(context.Background(), "", "question", domain.AIProviderOllama)
	require.NoError(t, err)

	mgr.Cancel(id)
	mgr.Cancel(id)
	mgr.Cancel(id)
	sink.waitTerminal(t, id)

	assert.Len(t, sink.done[id], 1)
}

func TestCancel_UnknownRequestIsNoOp(t *testing.T) {
	mgr, _ := newTestManager(&fakeRetriever{}, &fakeStreamer{}, nil, newRecordingSink())

	// Must not panic or emit anything
	mgr.Cancel("nonexistent")
}

func TestStatus_UnknownRequest(t *testing.T) {
	mgr, _ := newTestManager(&fakeRetriever{}, &fakeStreamer{}, nil, newRecordingSink())

	_, err := mgr.Status("nonexistent")
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestSubmit_EmbeddingUnavailableDegradesToSparse(t *testing.T) {
	sink := newRecordingSink()
	retriever := &fakeRetriever{}
	mgr, _ := newTestManager(retriever, &fakeStreamer{deltas: []string{"ok"}}, nil, sink)

	id, err := mgr.Submit(context.Background(), "", "question", domain.AIProviderAnthropic)
	require.NoError(t, err)
	sink.waitTerminal(t, id)

	status, err := mgr.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.AskStatusDone, status)

	// Retrieval ran sparse-only
	assert.Nil(t, retriever.lastVector())
}

func TestSubmit_ProviderErrorIsTerminalFailure(t *testing.T) {
	sink := newRecordingSink()
	streamer := &fakeStreamer{terminalErr: fmt.Errorf("rate limited: %w", domain.ErrProviderUnavailable)}
	mgr, _ := newTestManager(&fakeRetriever{}, streamer, nil, sink)

	id, err := mgr.Submit(context.Background(), "", "question", domain.AIProviderOpenAI)
	require.NoError(t, err)
	sink.waitTerminal(t, id)

	status, err := mgr.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.AskStatusError, status)

	require.Len(t, sink.failures[id], 1)
	assert.Contains(t, sink.failures[id][0].Message, "rate limited")
	assert.Empty(t, sink.done[id])
}

func TestSubmit_RetrievalErrorIsTerminalFailure(t *testing.T) {
	sink := newRecordingSink()
	retriever := &fakeRetriever{err: errors.New("store closed")}
	mgr, _ := newTestManager(retriever, &fakeStreamer{}, nil, sink)

	id, err := mgr.Submit(context.Background(), "", "question", domain.AIProviderOllama)
	require.NoError(t, err)
	sink.waitTerminal(t, id)

	status, err := mgr.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.AskStatusError, status)
}

func TestSubmit_EmptyRetrievalStillAnswers(t *testing.T) {
	sink := newRecordingSink()
	mgr, _ := newTestManager(&fakeRetriever{}, &fakeStreamer{deltas: []string{"no info"}}, nil, sink)

	id, err := mgr.Submit(context.Background(), "", "unknown topic", domain.AIProviderOllama)
	require.NoError(t, err)
	sink.waitTerminal(t, id)

	status, err := mgr.Status(id)
	require.NoError(t, err)
	assert.Equal(t, domain.AskStatusDone, status)
	assert.Equal(t, "no info", sink.answer(id))
	assert.Empty(t, sink.sources[id])
}

func TestSubmit_FailingRequestDoesNotAffectSiblings(t *testing.T) {
	sink := newRecordingSink()
	store := memory.NewDocumentStore()

	streamers := map[string]driven.ChatStreamer{
		"ok":   &fakeStreamer{deltas: []string{"fine"}},
		"fail": &fakeStreamer{terminalErr: errors.New("backend down")},
	}
	next := make(chan string, 2)
	next <- "fail"
	next <- "ok"

	mgr := NewAskManager(
		&fakeRetriever{},
		store,
		&fakePromptStore{},
		sink,
		func(_ domain.AIProvider) (driven.ChatStreamer, error) {
			return streamers[<-next], nil
		},
		func(_ domain.AIProvider) (driven.EmbeddingService, error) {
			return nil, domain.ErrEmbeddingUnavailable
		},
	)

	// Submit sequentially so each request gets its intended streamer
	idFail, err := mgr.Submit(context.Background(), "r-fail", "question one", domain.AIProviderOllama)
	require.NoError(t, err)
	sink.waitTerminal(t, idFail)

	idOK, err := mgr.Submit(context.Background(), "r-ok", "question two", domain.AIProviderOllama)
	require.NoError(t, err)
	sink.waitTerminal(t, idOK)

	failStatus, _ := mgr.Status(idFail)
	okStatus, _ := mgr.Status(idOK)
	assert.Equal(t, domain.AskStatusError, failStatus)
	assert.Equal(t, domain.AskStatusDone, okStatus)
	assert.Equal(t, "fine", sink.answer(idOK))
}

func TestSubmit_ConcurrentRequestsDemultiplexCorrectly(t *testing.T) {
	sink := newRecordingSink()
	store := memory.NewDocumentStore()

	const n = 8
	mgr := NewAskManager(
		&fakeRetriever{},
		store,
		&fakePromptStore{},
		sink,
		func(_ domain.AIProvider) (driven.ChatStreamer, error) {
			// Each streamer is created inside the request's own
			// goroutine; deltas echo the question so streams are
			// distinguishable.
			return &echoStreamer{}, nil
		},
		func(_ domain.AIProvider) (driven.EmbeddingService, error) {
			return nil, domain.ErrEmbeddingUnavailable
		},
	)

	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("req-%d", i)
		_, err := mgr.Submit(context.Background(), id, fmt.Sprintf("question %d", i), domain.AIProviderOllama)
		require.NoError(t, err)
		ids[i] = id
	}

	for _, id := range ids {
		sink.waitTerminal(t, id)
	}

	for i, id := range ids {
		status, err := mgr.Status(id)
		require.NoError(t, err)
		assert.Equal(t, domain.AskStatusDone, status)

		// No cross-contamination between streams
		req, err := mgr.Request(id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("echo: question %d", i), req.Answer)
		assert.Equal(t, req.Answer, sink.answer(id))
	}
}

// echoStreamer answers with the question text, split into word deltas.
type echoStreamer struct{}

func (e *echoStreamer) StreamChat(
	ctx context.Context, messages []driven.ChatMessage, _ driven.ChatOptions, onDelta driven.DeltaFunc,
) error {
	question := messages[len(messages)-1].Content
	if err := onDelta("echo: "); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return onDelta(question)
}

func (e *echoStreamer) ModelName() string            { return "echo" }
func (e *echoStreamer) Ping(_ context.Context) error { return nil }
func (e *echoStreamer) Close() error                 { return nil }

func TestBuildRAGPrompt(t *testing.T) {
	retrieved := []domain.RetrievedChunk{
		{Chunk: domain.Chunk{Content: "First chunk.", HeadingContext: "Setup"}},
		{Chunk: domain.Chunk{Content: "Second chunk."}},
	}

	prompt := buildRAGPrompt("how do I set up?", retrieved)

	assert.Contains(t, prompt, "--- Context 1 --- (Setup)")
	assert.Contains(t, prompt, "First chunk.")
	assert.Contains(t, prompt, "--- Context 2 ---")
	assert.NotContains(t, prompt, "--- Context 2 --- (")
	assert.Contains(t, prompt, "Question: how do I set up?")
}

func TestBuildRAGPrompt_NoContext(t *testing.T) {
	prompt := buildRAGPrompt("lonely question", nil)
	assert.Equal(t, "lonely question", prompt)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "one two three", excerpt("one two three", 5))
	assert.Equal(t, "one two", excerpt("one   two", 2))
	assert.Equal(t, "one two...", excerpt("one two three", 2))
	assert.Equal(t, "", excerpt("   ", 5))
}
