package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/bjeremy23/jibberish/pkg/errors"
)

var (
	// ErrMaxRetriesExceeded indicates all retry attempts have been exhausted.
	ErrMaxRetriesExceeded = stderrors.New("maximum retry attempts exceeded")
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (typically 2.0 for exponential).
	Multiplier float64

	// Jitter adds randomness to prevent thundering herd (0.0-1.0).
	Jitter float64

	// RetryableErrors decides whether an error should trigger a retry.
	// If nil, retryable provider errors (429 and 5xx) are retried.
	RetryableErrors func(error) bool

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// DefaultRetryConfig returns sensible default retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// RetryingProvider wraps a provider with retry logic. Only completions are
// retried; tool calls never are.
type RetryingProvider struct {
	provider Provider
	config   RetryConfig
}

// NewRetryingProvider wraps a provider with retry logic.
func NewRetryingProvider(provider Provider, config RetryConfig) *RetryingProvider {
	if config.RetryableErrors == nil {
		config.RetryableErrors = isRetryableError
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &RetryingProvider{
		provider: provider,
		config:   config,
	}
}

// Name returns the wrapped provider's name.
func (r *RetryingProvider) Name() string {
	return r.provider.Name()
}

// Complete executes a completion request with retry logic.
func (r *RetryingProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateBackoff(attempt)
			r.config.Logger.Debug("retrying completion",
				"provider", r.provider.Name(),
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := r.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !r.config.RetryableErrors(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if r.config.MaxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, r.config.MaxRetries+1, lastErr)
}

// calculateBackoff computes the delay for a given attempt with jitter.
func (r *RetryingProvider) calculateBackoff(attempt int) time.Duration {
	backoff := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if backoff > float64(r.config.MaxDelay) {
		backoff = float64(r.config.MaxDelay)
	}

	// backoff * (1 ± jitter)
	if r.config.Jitter > 0 {
		jitterAmount := backoff * r.config.Jitter
		backoff += (rand.Float64() * 2 * jitterAmount) - jitterAmount
	}

	return time.Duration(backoff)
}

// isRetryableError retries classified errors that report themselves as
// retryable. Cancellation is never retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pe *errors.ProviderError
	if stderrors.As(err, &pe) {
		return pe.IsRetryable()
	}

	var classified errors.ErrorClassifier
	if stderrors.As(err, &classified) {
		return classified.IsRetryable()
	}
	return false
}
