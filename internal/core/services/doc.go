// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// The three services cover the two phases of the system: Ingestor runs the
// offline build (chunk, index, embed), while RetrievalService and
// AskManager serve queries at runtime.
package services
