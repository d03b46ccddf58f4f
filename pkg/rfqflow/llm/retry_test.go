package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestRetryClient_SucceedsFirstAttempt(t *testing.T) {
	mock := NewMockClient("hello")
	client := NewRetryClientWithConfig(mock, fastRetryConfig(3))

	resp, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 1, mock.CallCount())
}

func TestRetryClient_RetriesTransientError(t *testing.T) {
	calls := 0
	mock := NewMockClient("").WithCompleteFunc(func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
		calls++
		if calls < 3 {
			return nil, NewError("complete", errors.New("rate limit exceeded"), true)
		}
		return &CompletionResponse{Content: "recovered"}, nil
	})
	client := NewRetryClientWithConfig(mock, fastRetryConfig(3))

	resp, err := client.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 3, calls)
}

func TestRetryClient_StopsOnPermanentError(t *testing.T) {
	permanent := NewError("complete", errors.New("invalid api key"), false)
	mock := NewMockClient("").WithError(permanent)
	client := NewRetryClientWithConfig(mock, fastRetryConfig(3))

	_, err := client.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, mock.CallCount())
}

func TestRetryClient_ExhaustsAttempts(t *testing.T) {
	transient := NewError("complete", errors.New("overloaded"), true)
	mock := NewMockClient("").WithError(transient)
	client := NewRetryClientWithConfig(mock, fastRetryConfig(3))

	_, err := client.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, mock.CallCount())
}

func TestRetryClient_ContextCancelled(t *testing.T) {
	transient := NewError("complete", errors.New("overloaded"), true)
	mock := NewMockClient("").WithError(transient)
	cfg := fastRetryConfig(5)
	cfg.InitialBackoff = time.Second
	client := NewRetryClientWithConfig(mock, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, CompletionRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, mock.CallCount())
}

func TestRetryClient_CustomRetryableFunc(t *testing.T) {
	sentinel := errors.New("flaky")
	calls := 0
	mock := NewMockClient("").WithCompleteFunc(func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
		calls++
		if calls == 1 {
			return nil, sentinel
		}
		return &CompletionResponse{Content: "ok"}, nil
	})

	cfg := fastRetryConfig(3)
	cfg.RetryableFunc = func(err error) bool { return errors.Is(err, sentinel) }
	client := NewRetryClientWithConfig(mock, cfg)

	resp, err := client.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, calls)
}
