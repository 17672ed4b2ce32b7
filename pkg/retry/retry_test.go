package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	verrors "github.com/bardlex/poolverify/pkg/errors"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		attempts int
		base     time.Duration
	}{
		{"default", DefaultConfig(), 3, 100 * time.Millisecond},
		{"network", NetworkConfig(), 5, 50 * time.Millisecond},
		{"sink", SinkConfig(), 3, 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cfg.MaxAttempts != tt.attempts {
				t.Errorf("MaxAttempts = %d, want %d", tt.cfg.MaxAttempts, tt.attempts)
			}
			if tt.cfg.BaseDelay != tt.base {
				t.Errorf("BaseDelay = %v, want %v", tt.cfg.BaseDelay, tt.base)
			}
		})
	}
}

func TestDo_SucceedsAfterRetryableFailures(t *testing.T) {
	calls := 0
	var retries []int

	cfg := fastConfig(4)
	cfg.OnRetry = func(attempt int, _ time.Duration, _ error) {
		retries = append(retries, attempt)
	}

	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return verrors.New(verrors.ErrorTypeDatabase, "insert_result", "connection reset")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", retries)
	}
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	want := verrors.New(verrors.ErrorTypeValidation, "encode", "bad payload")

	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return want
	})

	if !errors.Is(err, want) {
		t.Errorf("Do() error = %v, want %v", err, want)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return verrors.New(verrors.ErrorTypeKafka, "publish", "broker unavailable")
	})

	if err == nil {
		t.Fatal("Do() expected error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got := verrors.GetContext(err)["max_attempts"]; got != 3 {
		t.Errorf("max_attempts context = %v, want 3", got)
	}
}

func TestDoWithResult_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}

	calls := 0
	_, err := DoWithResult(ctx, cfg, func() (int, error) {
		calls++
		cancel()
		return 0, verrors.New(verrors.ErrorTypeNetwork, "rpc", "temporary failure")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("DoWithResult() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestCalculateDelay_Capped(t *testing.T) {
	cfg := &Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}

	if got := cfg.calculateDelay(0); got != 100*time.Millisecond {
		t.Errorf("delay(0) = %v", got)
	}
	if got := cfg.calculateDelay(5); got != 300*time.Millisecond {
		t.Errorf("delay(5) = %v, want cap 300ms", got)
	}
}
