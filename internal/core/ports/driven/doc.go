// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - DocumentStore: Document and chunk persistence
//   - SearchEngine: Sparse full-text search (SQLite FTS5). Always required.
//   - ChatStreamer: Streaming chat completion from a provider backend
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - VectorIndex: Dense embedding storage/search. Only populated when an
//     EmbeddingService was available at build time.
//   - EmbeddingService: Generates vector embeddings. Without it, retrieval
//     runs sparse-only.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
