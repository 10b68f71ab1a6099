package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIngest indicates a document could not be processed at build time.
	// The offending document is skipped; the batch continues.
	ErrIngest = errors.New("ingest failed")

	// ErrEmbeddingUnavailable indicates no embedding backend is configured
	// or reachable. Retrieval degrades to sparse-only; not fatal.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrUnsupportedOperation indicates the selected provider does not
	// implement the requested capability (e.g. a chat-only backend asked
	// to embed). Callers fall back to another provider or skip the step.
	ErrUnsupportedOperation = errors.New("operation not supported by provider")

	// ErrProviderUnavailable indicates a provider could not be reached
	// (network or auth failure). Scoped to the request it occurred on.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrRequestNotFound indicates an unknown request id.
	ErrRequestNotFound = errors.New("request not found")

	// ErrSearchUnavailable indicates the sparse index is not configured.
	ErrSearchUnavailable = errors.New("search engine unavailable")

	// ErrVectorDimension indicates a vector of the wrong length was
	// offered to the embedding store. This is a caller error; vectors
	// are never silently truncated or padded.
	ErrVectorDimension = errors.New("embedding dimension mismatch")
)
