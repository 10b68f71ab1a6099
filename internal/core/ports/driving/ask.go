package driving

import (
	"context"

	"github.com/custodia-labs/dalil/internal/core/domain"
)

// AskService owns the per-question lifecycle: embed the query, retrieve
// context, stream the answer, reach a terminal state. Many requests may be
// in flight at once; each owns independent provider-call state, and a later
// Submit never implicitly cancels an earlier one.
type AskService interface {
	// Submit registers a question and starts the answer pipeline
	// asynchronously, returning the allocated request id without
	// blocking on any network call. If requestID is empty a fresh id
	// is allocated; a duplicate id is rejected with
	// domain.ErrAlreadyExists.
	Submit(ctx context.Context, requestID, question string, provider domain.AIProvider) (string, error)

	// Cancel stops a Pending or Streaming request, aborting the
	// in-flight provider call, and transitions it to Cancelled.
	// Cancelling an unknown or already-terminal request is a no-op.
	Cancel(requestID string)

	// Status reports the current lifecycle state of a request.
	Status(requestID string) (domain.AskStatus, error)
}

// EventSink receives the ordered event stream for submitted requests.
// Events carry the request id so a caller juggling multiple concurrent
// questions can demultiplex. For each request the sink sees at most one
// OnSources call, zero or more OnDelta calls in generation order, then
// exactly one terminal call (OnDone or OnFailure). Methods may be called
// from multiple goroutines, one per in-flight request.
type EventSink interface {
	OnSources(domain.AnswerSources)
	OnDelta(domain.AnswerDelta)
	OnDone(domain.AnswerDone)
	OnFailure(domain.AnswerFailure)
}
