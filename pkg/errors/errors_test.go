package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

var errSentinel = errors.New("unexpected end of buffer")

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name: "error with cause",
			err: &ServiceError{
				Type:      ErrorTypeProtocol,
				Operation: "stratum_connect",
				Message:   "connect failed",
				Cause:     errors.New("connection refused"),
			},
			expected: "protocol operation 'stratum_connect' failed: connect failed (caused by: connection refused)",
		},
		{
			name: "error without cause",
			err: &ServiceError{
				Type:      ErrorTypeValidation,
				Operation: "config_validate",
				Message:   "MIN_SHARE out of range",
			},
			expected: "validation operation 'config_validate' failed: MIN_SHARE out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ServiceError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWrap_PreservesSentinel(t *testing.T) {
	err := Wrap(errSentinel, ErrorTypeBuffer, "parse_outputs", "truncated transaction").
		WithContext("offset", 41)

	if !errors.Is(err, errSentinel) {
		t.Fatal("errors.Is() lost the wrapped sentinel")
	}
	if !IsType(err, ErrorTypeBuffer) {
		t.Error("IsType(buffer) = false")
	}
	if got := GetContext(err)["offset"]; got != 41 {
		t.Errorf("context offset = %v, want 41", got)
	}
	if err.IsRetryable() {
		t.Error("buffer errors must not be retryable")
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, ErrorTypeInternal, "op", "msg") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestIsType_ThroughFmtWrap(t *testing.T) {
	inner := New(ErrorTypeTimeout, "await_notify", "no mining.notify before deadline")
	outer := fmt.Errorf("probe: %w", inner)

	if !IsType(outer, ErrorTypeTimeout) {
		t.Error("IsType() should see a ServiceError behind fmt.Errorf")
	}
	if IsType(outer, ErrorTypeProtocol) {
		t.Error("IsType() matched the wrong type")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"database", New(ErrorTypeDatabase, "insert", "failed"), true},
		{"kafka", New(ErrorTypeKafka, "publish", "failed"), true},
		{"protocol", New(ErrorTypeProtocol, "connect", "failed"), false},
		{"timeout", New(ErrorTypeTimeout, "await", "failed"), false},
		{"codec", New(ErrorTypeCodec, "bech32", "failed"), false},
		{"plain refused", errors.New("dial tcp: connection refused"), true},
		{"plain cancelled", context.Canceled, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessage(t *testing.T) {
	inner := Wrap(errors.New("i/o timeout"), ErrorTypeProtocol, "dial", "connect failed")
	outer := Wrap(inner, ErrorTypeProtocol, "probe", "stratum probe failed")

	if got, want := Message(outer), "stratum probe failed: connect failed: i/o timeout"; got != want {
		t.Errorf("Message() = %q, want %q", got, want)
	}
	if got := Message(errors.New("plain")); got != "plain" {
		t.Errorf("Message(plain) = %q", got)
	}
	if got := Message(nil); got != "" {
		t.Errorf("Message(nil) = %q", got)
	}
}
