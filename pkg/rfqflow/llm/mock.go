package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockClient implements Client for testing.
type MockClient struct {
	mu sync.Mutex

	// Calls records every request received.
	Calls []CompletionRequest

	fixedResponse string
	responses     []string
	responseIdx   int
	err           error
	completeFunc  func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// NewMockClient creates a mock that always returns the given response.
func NewMockClient(response string) *MockClient {
	return &MockClient{fixedResponse: response}
}

// WithResponses configures sequential responses, cycling when exhausted.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.responses = responses
	return m
}

// WithError configures the mock to return an error on every call.
func (m *MockClient) WithError(err error) *MockClient {
	m.err = err
	return m
}

// WithCompleteFunc overrides Complete with a custom function.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.completeFunc = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)

	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}

	if m.completeFunc != nil {
		fn := m.completeFunc
		m.mu.Unlock()
		return fn(ctx, req)
	}

	content := m.fixedResponse
	if len(m.responses) > 0 {
		content = m.responses[m.responseIdx%len(m.responses)]
		m.responseIdx++
	}
	m.mu.Unlock()

	return &CompletionResponse{
		Content:      content,
		FinishReason: "stop",
		Usage:        approximateUsage(req, content),
		Duration:     time.Millisecond,
	}, nil
}

// CallCount returns the number of calls received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil if none were made.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return &m.Calls[len(m.Calls)-1]
}

// Reset clears recorded calls and restarts sequential responses.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.responseIdx = 0
}

// approximateUsage estimates token counts from word counts.
func approximateUsage(req CompletionRequest, content string) TokenUsage {
	inputWords := len(strings.Fields(req.SystemPrompt))
	for _, msg := range req.Messages {
		inputWords += len(strings.Fields(msg.Content))
	}
	input := inputWords + 1
	output := len(strings.Fields(content)) + 1
	return TokenUsage{
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
	}
}
