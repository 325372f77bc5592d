package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/windlane/chatgraph/internal/agent"
	"github.com/windlane/chatgraph/internal/log"
)

// RetryConfig configures the retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups error substrings by category.
// Matched case-insensitively against err.Error().
//
// String matching because provider SDKs do not expose typed errors for
// transient failures. Re-evaluate if the genai SDK grows structured
// error types.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "resource_exhausted", "429"}, // rate limiting
	{"500", "502", "503", "504", "unavailable"},                   // transient server errors
	{"connection reset", "timeout", "temporary"},                  // network errors
}

// retryableError reports whether err is transient and should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// generateWithRetry runs attempt with exponential backoff on transient
// errors. Each attempt waits on the rate limiter first, so retries never
// pile extra load onto a throttled provider.
//
// Once any chunk has reached the caller the attempt is no longer
// retryable: a retry would replay text the client already rendered.
// attempt reports whether it emitted via the returned bool.
func generateWithRetry(
	ctx context.Context,
	logger log.Logger,
	limiter *rate.Limiter,
	cfg RetryConfig,
	attempt func(ctx context.Context) (*agent.Message, bool, error),
) (*agent.Message, error) {
	var lastErr error
	delay := cfg.InitialInterval
	start := time.Now()

	for try := 0; try <= cfg.MaxRetries; try++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		msg, emitted, err := attempt(ctx)
		if err == nil {
			logger.Debug("model call succeeded",
				"attempts", try+1,
				"elapsed", time.Since(start),
			)
			return msg, nil
		}

		lastErr = err

		if emitted || !retryableError(err) {
			return nil, fmt.Errorf("model call: %w", err)
		}

		if try == cfg.MaxRetries {
			break
		}

		logger.Debug("retrying after transient model error",
			"attempt", try+1,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return nil, fmt.Errorf("model call after %d retries (elapsed: %v): %w",
		cfg.MaxRetries, time.Since(start), lastErr)
}
