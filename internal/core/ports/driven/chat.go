package driven

import "context"

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// ChatOptions configures chat behaviour.
type ChatOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic, 1.0 = creative).
	Temperature float64
}

// DeltaFunc receives one answer-text increment. Returning an error stops
// the stream; the streamer surfaces that error from StreamChat.
type DeltaFunc func(delta string) error

// ChatStreamer streams chat completions from one provider backend.
//
// StreamChat is push-based: the sink is a parameter, so it is registered
// before the request is issued and no increment can be missed regardless of
// backend latency. The call blocks until the stream terminates; the return
// value is the stream's single terminal slot. A connectable-but-erroring
// backend (bad credential, rate limit) surfaces there as a typed error, not
// mid-stream. Cancelling ctx aborts the underlying request, which stops
// upstream token generation.
//
// Implementations wrap a distinct wire protocol (SSE for cloud backends,
// NDJSON for the local Ollama daemon) and normalise it into this shape.
// Every call carries a bounded deadline even when ctx has none.
type ChatStreamer interface {
	// StreamChat sends messages and pushes answer increments to onDelta
	// in generation order.
	StreamChat(ctx context.Context, messages []ChatMessage, opts ChatOptions, onDelta DeltaFunc) error

	// ModelName returns the name of the chat model being used.
	ModelName() string

	// Ping validates the backend is reachable with a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
