package resilience

import (
	"time"
)

// Class tells the retry loop how to treat a failed attempt
type Class int

const (
	// ClassTerminal stops retrying; the error is returned as-is
	ClassTerminal Class = iota

	// ClassRetry retries immediately
	ClassRetry

	// ClassRetryAfterPause pauses before the next attempt
	ClassRetryAfterPause
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts int           // Total attempt budget, including the first call
	Pause       time.Duration // Pause before retrying a paused-class failure
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		Pause:       time.Second,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// ClassifyFunc decides how a failed attempt should be treated
type ClassifyFunc func(error) Class

// Retry executes a function with retry logic, consulting classify after each
// failure. A nil classify treats every failure as immediately retryable.
func Retry(fn RetryableFunc, config *RetryConfig, classify ClassifyFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil // Success
		}

		lastErr = err

		class := ClassRetry
		if classify != nil {
			class = classify(err)
		}
		if class == ClassTerminal {
			return err // Non-retryable error
		}

		// Don't sleep after the last attempt
		if class == ClassRetryAfterPause && attempt < config.MaxAttempts-1 {
			time.Sleep(config.Pause)
		}
	}

	return lastErr
}
