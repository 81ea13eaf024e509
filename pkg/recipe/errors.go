package recipe

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies recipe resolution failures.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a referenced recipe document could not be loaded.
	ErrCodeNotFound ErrorCode = "not_found"

	// ErrCodeParseFailure indicates a document's raw syntax is invalid.
	ErrCodeParseFailure ErrorCode = "parse_failure"

	// ErrCodeCycleDetected indicates the inheritance chain revisits a document
	// that is still being resolved.
	ErrCodeCycleDetected ErrorCode = "cycle_detected"

	// ErrCodeStructuralConflict indicates path addressing met a non-mapping
	// value where a mapping was required.
	ErrCodeStructuralConflict ErrorCode = "structural_conflict"

	// ErrCodeUnresolvedReference indicates a template expression named a
	// variable that is absent at render time.
	ErrCodeUnresolvedReference ErrorCode = "unresolved_reference"

	// ErrCodeValidationFailure indicates the resolved document was rejected
	// by schema validation.
	ErrCodeValidationFailure ErrorCode = "validation_failure"
)

// RecipeError represents a classified recipe resolution error with context.
// nolint:revive // RecipeError is intentionally named to distinguish from standard errors
type RecipeError struct {
	// Code is the error classification.
	Code ErrorCode `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Document is the logical identifier of the document involved, if known.
	Document string `json:"document,omitempty"`

	// Path is the offending dotted path, if applicable.
	Path string `json:"path,omitempty"`

	// Chain is the inheritance chain at the point of failure, deepest
	// ancestor first, if applicable.
	Chain []string `json:"chain,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *RecipeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)

	var ctx []string
	if e.Document != "" {
		ctx = append(ctx, "document="+e.Document)
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if len(e.Chain) > 0 {
		ctx = append(ctx, "chain="+strings.Join(e.Chain, " -> "))
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RecipeError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is. Two recipe errors
// match when their codes match.
func (e *RecipeError) Is(target error) bool {
	t, ok := target.(*RecipeError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewNotFoundError creates a not-found error for a document identifier.
func NewNotFoundError(message string, err error) *RecipeError {
	return &RecipeError{Code: ErrCodeNotFound, Message: message, Err: err}
}

// NewParseFailureError creates a parse-failure error.
func NewParseFailureError(message string, err error) *RecipeError {
	return &RecipeError{Code: ErrCodeParseFailure, Message: message, Err: err}
}

// NewCycleDetectedError creates a cycle-detected error carrying the full
// inheritance chain.
func NewCycleDetectedError(chain []string) *RecipeError {
	return &RecipeError{
		Code:    ErrCodeCycleDetected,
		Message: "cycle detected in recipe inheritance",
		Chain:   chain,
	}
}

// NewStructuralConflictError creates a structural-conflict error for a path
// whose intermediate segment is not a mapping.
func NewStructuralConflictError(path string, kind Kind) *RecipeError {
	return &RecipeError{
		Code:    ErrCodeStructuralConflict,
		Message: fmt.Sprintf("path segment is a %s, expected a mapping", kind),
		Path:    path,
	}
}

// NewUnresolvedReferenceError creates an unresolved-reference error for a
// template expression.
func NewUnresolvedReferenceError(message string) *RecipeError {
	return &RecipeError{Code: ErrCodeUnresolvedReference, Message: message}
}

// NewValidationFailureError creates a validation-failure error wrapping the
// downstream rejection unmodified.
func NewValidationFailureError(message string, err error) *RecipeError {
	return &RecipeError{Code: ErrCodeValidationFailure, Message: message, Err: err}
}

// WithDocument adds the logical document identifier to an error.
func (e *RecipeError) WithDocument(id string) *RecipeError {
	e.Document = id
	return e
}

// WithPath adds the offending dotted path to an error.
func (e *RecipeError) WithPath(path string) *RecipeError {
	e.Path = path
	return e
}

// WithChain adds the inheritance chain to an error.
func (e *RecipeError) WithChain(chain []string) *RecipeError {
	e.Chain = chain
	return e
}

// CodeOf returns the recipe error code of err, or the empty string when err
// is not a RecipeError.
func CodeOf(err error) ErrorCode {
	var re *RecipeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
