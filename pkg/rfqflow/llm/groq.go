package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Default Groq settings.
const (
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
	DefaultGroqModel   = "openai/gpt-oss-120b"
)

// Groq implements Client using the Groq OpenAI-compatible chat completions API.
type Groq struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

// GroqOption configures Groq.
type GroqOption func(*Groq)

// NewGroq creates a new Groq client.
func NewGroq(apiKey string, opts ...GroqOption) *Groq {
	g := &Groq{
		apiKey:      apiKey,
		baseURL:     DefaultGroqBaseURL,
		model:       DefaultGroqModel,
		temperature: 0.2,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) GroqOption {
	return func(g *Groq) { g.baseURL = url }
}

// WithModel sets the default model.
func WithModel(model string) GroqOption {
	return func(g *Groq) { g.model = model }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) GroqOption {
	return func(g *Groq) { g.temperature = t }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) GroqOption {
	return func(g *Groq) { g.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) GroqOption {
	return func(g *Groq) { g.httpClient = c }
}

// chatRequest is the wire format for the chat completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete implements Client.
func (g *Groq) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	body, err := json.Marshal(g.buildRequest(req))
	if err != nil {
		return nil, NewError("complete", fmt.Errorf("encode request: %w", err), false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, NewError("complete", fmt.Errorf("build request: %w", err), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), false)
		}
		return nil, NewError("complete", err, isRetryableMessage(err.Error()))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewError("complete", fmt.Errorf("read response: %w", err), false)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, g.apiError(httpResp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewError("complete", fmt.Errorf("decode response: %w", err), false)
	}
	if len(parsed.Choices) == 0 {
		return nil, NewError("complete", fmt.Errorf("response contained no choices"), false)
	}

	resp := &CompletionResponse{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage: TokenUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}
	return resp, nil
}

// buildRequest converts a CompletionRequest to the wire format.
// The system prompt becomes the first message.
func (g *Groq) buildRequest(req CompletionRequest) chatRequest {
	model := g.model
	if req.Model != "" {
		model = req.Model
	}
	temperature := g.temperature
	if req.Temperature != 0 {
		temperature = req.Temperature
	}

	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: string(RoleSystem), Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	return chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// apiError maps a non-200 response to an Error with retryability.
func (g *Groq) apiError(status int, body []byte) error {
	msg := string(body)
	var parsed chatError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}

	retryable := status == http.StatusTooManyRequests ||
		status == http.StatusInternalServerError ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		isRetryableMessage(msg)

	return NewError("complete", fmt.Errorf("status %d: %s", status, msg), retryable)
}
