package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_ExhaustsAttemptBudget(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, Pause: time.Millisecond}

	persistent := errors.New("persistent error")
	attempts := 0
	err := Retry(func() error {
		attempts++
		return persistent
	}, config, nil)

	if !errors.Is(err, persistent) {
		t.Errorf("Expected last error after exhaustion, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_TerminalStopsImmediately(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, Pause: time.Millisecond}

	fatal := errors.New("model not found")
	attempts := 0
	err := Retry(func() error {
		attempts++
		return fatal
	}, config, func(error) Class { return ClassTerminal })

	if !errors.Is(err, fatal) {
		t.Errorf("Expected terminal error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for terminal error, got %d", attempts)
	}
}

func TestRetry_PausesBetweenAttemptsOnly(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, Pause: 100 * time.Millisecond}

	start := time.Now()
	err := Retry(func() error {
		return errors.New("timeout")
	}, config, func(error) Class { return ClassRetryAfterPause })
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Expected error after exhaustion, got nil")
	}
	// Two inter-attempt pauses, none after the final failure.
	if elapsed < 2*config.Pause {
		t.Errorf("Expected at least two pauses (%v), took %v", 2*config.Pause, elapsed)
	}
	if elapsed >= 3*config.Pause {
		t.Errorf("Expected no pause after the final attempt, took %v", elapsed)
	}
}

func TestRetry_ImmediateClassSkipsPause(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, Pause: time.Hour}

	start := time.Now()
	attempts := 0
	err := Retry(func() error {
		attempts++
		return errors.New("bad status")
	}, config, func(error) Class { return ClassRetry })
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Expected error after exhaustion, got nil")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if elapsed > time.Second {
		t.Errorf("Expected immediate retries with no pause, took %v", elapsed)
	}
}

func TestRetry_ClassifierSeesEachError(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, Pause: time.Millisecond}

	timeout := errors.New("timeout")
	fatal := errors.New("fatal")
	attempts := 0
	err := Retry(func() error {
		attempts++
		if attempts == 1 {
			return timeout
		}
		return fatal
	}, config, func(err error) Class {
		if errors.Is(err, fatal) {
			return ClassTerminal
		}
		return ClassRetryAfterPause
	})

	if !errors.Is(err, fatal) {
		t.Errorf("Expected fatal error, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}
