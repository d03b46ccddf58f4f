// Package llm provides LLM client abstractions for graph nodes.
//
// The Client interface decouples graph logic from any specific provider.
// Groq implements it over the OpenAI-compatible chat completions API, and
// MockClient implements it for tests.
package llm

import "context"

// Client is the interface for LLM completion providers.
type Client interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
