package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: network timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, permission denied, malformed data.
	ErrorClassPermanent ErrorClass = "permanent"
)

// PipelineError represents a classified error with run context.
type PipelineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Connector is the connector kind that produced the error, if applicable.
	Connector string `json:"connector,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// BatchSeq is the batch sequence number, if the error is batch-scoped.
	BatchSeq int `json:"batch_seq,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Connector != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (connector=%s, operation=%s): %s",
			e.Class, e.Message, e.Connector, e.Operation, e.unwrapMessage())
	}
	if e.Connector != "" {
		return fmt.Sprintf("[%s] %s (connector=%s): %s",
			e.Class, e.Message, e.Connector, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *PipelineError {
	return &PipelineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *PipelineError {
	return &PipelineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *PipelineError {
	return &PipelineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithConnector adds connector context to an error.
func (e *PipelineError) WithConnector(connector string) *PipelineError {
	e.Connector = connector
	return e
}

// WithOperation adds operation context to an error.
func (e *PipelineError) WithOperation(operation string) *PipelineError {
	e.Operation = operation
	return e
}

// WithBatch adds batch context to an error.
func (e *PipelineError) WithBatch(seq int) *PipelineError {
	e.BatchSeq = seq
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried. Transient and
// throttled errors are retryable; anything unclassified is treated as
// permanent.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}
