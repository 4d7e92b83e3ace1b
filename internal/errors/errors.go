// Package errors provides a lightweight structured error type (GhillieError)
// for category-based classification and retry semantics across the pipeline,
// HTTP adapters and CLI.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a Ghillie error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// Ingestion boundary errors
	CategoryTimezoneRequired ErrorCategory = "timezone_required"
	CategoryPayloadMismatch  ErrorCategory = "payload_mismatch"

	// External system integration errors
	CategoryTransientUpstream ErrorCategory = "transient_upstream"
	CategoryPermanentUpstream ErrorCategory = "permanent_upstream"
	CategoryResponseShape     ErrorCategory = "response_shape"

	// Reporting errors
	CategoryReportValidation   ErrorCategory = "report_validation"
	CategoryRepositoryNotFound ErrorCategory = "repository_not_found"
	CategoryProjectNotFound    ErrorCategory = "project_not_found"

	// Runtime and infrastructure errors
	CategoryStorage  ErrorCategory = "storage"
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// GhillieError is a structured error with category, retryability, and context
type GhillieError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for GhillieError
type ContextFields map[string]any

// Error implements the error interface
func (e *GhillieError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *GhillieError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *GhillieError) WithContext(key string, value any) *GhillieError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new GhillieError
func New(category ErrorCategory, severity ErrorSeverity, message string) *GhillieError {
	return &GhillieError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new GhillieError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *GhillieError {
	return &GhillieError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable GhillieError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *GhillieError {
	return &GhillieError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable GhillieError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *GhillieError {
	return &GhillieError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if ge, ok := err.(*GhillieError); ok {
		return ge.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if ge, ok := err.(*GhillieError); ok {
		return ge.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a GhillieError
func GetCategory(err error) ErrorCategory {
	if ge, ok := err.(*GhillieError); ok {
		return ge.Category
	}
	return CategoryInternal
}
