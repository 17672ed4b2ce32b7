package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	verrors "github.com/bardlex/poolverify/pkg/errors"
)

var errSink = errors.New("sink down")

// fakeClock lets tests move time without sleeping
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(cfg *Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(cfg)
	cb.now = clock.now
	cb.lastResetTime = clock.t
	return cb, clock
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", config.MaxFailures)
	}
	if config.SuccessRequired != 3 {
		t.Errorf("SuccessRequired = %d, want 3", config.SuccessRequired)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", config.Timeout)
	}
}

func TestNew_NilConfig(t *testing.T) {
	cb := New(nil)
	if cb.config == nil {
		t.Fatal("expected default config when nil is passed")
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %s, want closed", cb.State())
	}
}

func TestBreaker_Lifecycle(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(&Config{
		Name:            "postgres",
		MaxFailures:     2,
		SuccessRequired: 2,
		Timeout:         10 * time.Second,
		ResetTimeout:    time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()
	fail := func() error { return errSink }
	ok := func() error { return nil }

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	if cb.State() != StateOpen {
		t.Fatalf("state after 2 failures = %s, want open", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	if called {
		t.Error("open breaker executed the function")
	}
	if !verrors.IsType(err, verrors.ErrorTypeInternal) {
		t.Errorf("open breaker error = %v", err)
	}

	clock.t = clock.t.Add(11 * time.Second)
	if err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("half-open call error = %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}
	_ = cb.Execute(ctx, ok)
	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}

	want := []string{
		"postgres:closed->open",
		"postgres:open->half-open",
		"postgres:half-open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(&Config{MaxFailures: 1, SuccessRequired: 1, Timeout: time.Second, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errSink })
	clock.t = clock.t.Add(2 * time.Second)
	_ = cb.Execute(ctx, func() error { return errSink })

	if cb.State() != StateOpen {
		t.Errorf("state = %s, want open", cb.State())
	}
}

func TestBreaker_ResetTimeoutForgetsFailures(t *testing.T) {
	cb, clock := newTestBreaker(&Config{MaxFailures: 2, SuccessRequired: 1, Timeout: time.Second, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errSink })
	clock.t = clock.t.Add(2 * time.Minute)
	_ = cb.Execute(ctx, func() error { return errSink })

	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed (first failure should have expired)", cb.State())
	}
	if got := cb.Stats().Failures; got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := New(nil)
	got, err := ExecuteWithResult(context.Background(), cb, func() (string, error) {
		return "latest", nil
	})
	if err != nil || got != "latest" {
		t.Errorf("ExecuteWithResult() = %q, %v", got, err)
	}
}

func TestReset(t *testing.T) {
	cb, _ := newTestBreaker(&Config{MaxFailures: 1, SuccessRequired: 1, Timeout: time.Hour, ResetTimeout: time.Hour})
	_ = cb.Execute(context.Background(), func() error { return errSink })
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state after Reset = %s", cb.State())
	}
}
