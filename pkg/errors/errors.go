// Package errors provides the structured error taxonomy shared by the verifier,
// the prober and the result sinks.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType classifies where an error originated
type ErrorType string

const (
	// ErrorTypeCodec is malformed Base58/Bech32 input, bad checksums or bit packing
	ErrorTypeCodec ErrorType = "codec"
	// ErrorTypeBuffer is a transaction parse that ran past its buffer or is inconsistent
	ErrorTypeBuffer ErrorType = "buffer"
	// ErrorTypeProtocol is a stratum connect or conversation failure
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeTimeout is a bounded wait that expired
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeNetwork is a transport failure talking to a sink or node
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeDatabase is a postgres, redis or influx failure
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeKafka is a messaging failure
	ErrorTypeKafka ErrorType = "kafka"
	// ErrorTypeValidation is bad configuration or input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeInternal is anything else
	ErrorTypeInternal ErrorType = "internal"
)

// ServiceError represents a structured error with context
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause so errors.Is reaches sentinel errors
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error should be retried
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds a key/value pair to the error
func (e *ServiceError) WithContext(key string, value any) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Short renders the message and the root cause without the operation prefix.
// It is what ends up in user-visible diagnostics.
func (e *ServiceError) Short() string {
	if e.Cause == nil {
		return e.Message
	}
	var inner *ServiceError
	if errors.As(e.Cause, &inner) {
		return e.Message + ": " + inner.Short()
	}
	return e.Message + ": " + e.Cause.Error()
}

// New creates a new ServiceError
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableByType(errorType),
	}
}

// Wrap wraps an existing error with context
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	if se, ok := err.(*ServiceError); ok {
		return &ServiceError{
			Type:      errorType,
			Operation: operation,
			Message:   message,
			Cause:     se,
			Timestamp: time.Now(),
			Retryable: se.Retryable,
		}
	}

	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: retryable(errorType, err),
	}
}

// Probe failures are never retryable here: retry policy belongs to whoever
// schedules verifications.
func retryable(errorType ErrorType, cause error) bool {
	switch errorType {
	case ErrorTypeCodec, ErrorTypeBuffer, ErrorTypeProtocol, ErrorTypeTimeout, ErrorTypeValidation:
		return false
	}
	return isRetryableByType(errorType) || isRetryableByDefault(cause)
}

func isRetryableByType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeKafka, ErrorTypeDatabase:
		return true
	default:
		return false
	}
}

func isRetryableByDefault(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	networkErrors := []string{
		"connection refused",
		"connection reset",
		"network unreachable",
		"i/o timeout",
		"temporary failure",
		"too many connections",
		"broken pipe",
	}

	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}

	return false
}

// IsType checks if any error in the chain is a ServiceError of the given type
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		se, ok := err.(*ServiceError)
		if ok && se.Type == errorType {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return isRetryableByDefault(err)
}

// GetContext retrieves context from the outermost ServiceError
func GetContext(err error) map[string]any {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}

// Message returns a short diagnostic for any error, preferring ServiceError.Short
func Message(err error) string {
	if err == nil {
		return ""
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Short()
	}
	return err.Error()
}
