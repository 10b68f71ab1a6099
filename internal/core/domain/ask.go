package domain

// AskStatus is the lifecycle state of one question.
// Terminal states are final: no further transition occurs and delivering
// a second terminal signal for the same request is a no-op.
type AskStatus string

// Lifecycle states. Pending is entered on submission, Streaming once the
// provider confirms the stream is live.
const (
	AskStatusPending   AskStatus = "pending"
	AskStatusStreaming AskStatus = "streaming"
	AskStatusDone      AskStatus = "done"
	AskStatusCancelled AskStatus = "cancelled"
	AskStatusError     AskStatus = "error"
)

// IsTerminal returns true for states from which no transition occurs.
func (s AskStatus) IsTerminal() bool {
	switch s {
	case AskStatusDone, AskStatusCancelled, AskStatusError:
		return true
	default:
		return false
	}
}

// AskRequest is one user question in flight or completed. It is mutated
// only by the ask service as events arrive.
type AskRequest struct {
	// ID is the unique request identifier.
	ID string

	// Question is the user's question text.
	Question string

	// Provider is the backend answering this request.
	Provider AIProvider

	// Answer accumulates the streamed answer text.
	Answer string

	// Sources are the context chunks the answer was grounded on.
	Sources []SourceReference

	// Status is the current lifecycle state.
	Status AskStatus
}

// AnswerDelta carries one answer-text increment for a request.
// Increments arrive in generation order within a request.
type AnswerDelta struct {
	RequestID string
	Content   string
}

// AnswerSources announces the context chunks selected for a request,
// emitted once before streaming begins.
type AnswerSources struct {
	RequestID string
	Sources   []SourceReference
}

// AnswerDone is the terminal event for a completed or cancelled request.
type AnswerDone struct {
	RequestID string
	Cancelled bool
}

// AnswerFailure is the terminal event for a failed request.
type AnswerFailure struct {
	RequestID string
	Message   string
}
