package llm

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior for a RetryClient.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc optionally overrides the default retryability check.
	RetryableFunc func(error) bool
}

// DefaultRetryConfig is the standard retry configuration: three attempts with
// exponential backoff, tuned for provider rate limits.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// RetryClient wraps a Client and retries transient failures. Whether an
// error is transient is decided by IsRetryable unless RetryableFunc is set.
type RetryClient struct {
	inner Client
	cfg   RetryConfig
}

// NewRetryClient wraps client with the default retry configuration.
func NewRetryClient(client Client) *RetryClient {
	return NewRetryClientWithConfig(client, DefaultRetryConfig)
}

// NewRetryClientWithConfig wraps client with a custom retry configuration.
func NewRetryClientWithConfig(client Client, cfg RetryConfig) *RetryClient {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryClient{inner: client, cfg: cfg}
}

// Complete implements Client. It respects context cancellation between
// attempts and during backoff.
func (r *RetryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	isRetryable := r.cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = IsRetryable
	}

	backoff := r.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}

		// No sleep after the last attempt.
		if attempt < r.cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(applyJitter(backoff, r.cfg.Jitter)):
			}

			backoff = time.Duration(float64(backoff) * r.cfg.BackoffFactor)
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		}
	}

	return nil, lastErr
}

// applyJitter returns the backoff duration with jitter applied.
func applyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}
