package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestGhillieError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *GhillieError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CategoryConfig, SeverityFatal, "configuration invalid"),
			expected: "config (fatal): configuration invalid",
		},
		{
			name:     "error with cause",
			err:      Wrap(fmt.Errorf("file not found"), CategoryConfig, SeverityFatal, "failed to load config"),
			expected: "config (fatal): failed to load config: file not found",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := test.err.Error()
			if result != test.expected {
				t.Errorf("Error() = %q, want %q", result, test.expected)
			}
		})
	}
}

func TestGhillieError_WithContext(t *testing.T) {
	err := New(CategoryTransientUpstream, SeverityWarning, "fetch failed").
		WithContext("repository", "octo/reef").
		WithContext("operation", "list_commits")

	if err.Context == nil {
		t.Fatal("Context should not be nil")
	}

	if err.Context["repository"] != "octo/reef" {
		t.Errorf("Context[repository] = %v, want octo/reef", err.Context["repository"])
	}

	if err.Context["operation"] != "list_commits" {
		t.Errorf("Context[operation] = %v, want list_commits", err.Context["operation"])
	}
}

func TestIsCategory(t *testing.T) {
	configErr := New(CategoryConfig, SeverityFatal, "config error")
	tzErr := New(CategoryTimezoneRequired, SeverityError, "naive timestamp")
	standardErr := fmt.Errorf("standard error")

	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		expected bool
	}{
		{"config error matches config category", configErr, CategoryConfig, true},
		{"config error doesn't match timezone category", configErr, CategoryTimezoneRequired, false},
		{"timezone error matches timezone category", tzErr, CategoryTimezoneRequired, true},
		{"standard error doesn't match any category", standardErr, CategoryConfig, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsCategory(test.err, test.category)
			if result != test.expected {
				t.Errorf("IsCategory() = %v, want %v", result, test.expected)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	retryableErr := Retryable(CategoryTransientUpstream, SeverityWarning, "timeout")
	nonRetryableErr := New(CategoryConfig, SeverityFatal, "invalid")
	standardErr := fmt.Errorf("standard error")

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"retryable error", retryableErr, true},
		{"non-retryable error", nonRetryableErr, false},
		{"standard error", standardErr, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsRetryable(test.err)
			if result != test.expected {
				t.Errorf("IsRetryable() = %v, want %v", result, test.expected)
			}
		})
	}
}

func TestConvenienceFunctions(t *testing.T) {
	t.Run("ConfigRequired", func(t *testing.T) {
		err := ConfigRequired("DATABASE_URL")
		if err.Category != CategoryConfig {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfig)
		}
		if err.Severity != SeverityFatal {
			t.Errorf("Severity = %v, want %v", err.Severity, SeverityFatal)
		}
		if err.Context["field"] != "DATABASE_URL" {
			t.Errorf("Context[field] = %v, want DATABASE_URL", err.Context["field"])
		}
	})

	t.Run("TransientUpstream", func(t *testing.T) {
		cause := fmt.Errorf("timeout")
		err := TransientUpstream("list_commits", cause)
		if err.Category != CategoryTransientUpstream {
			t.Errorf("Category = %v, want %v", err.Category, CategoryTransientUpstream)
		}
		if !err.Retryable {
			t.Error("TransientUpstream should be retryable")
		}
		if !stdErrors.Is(err, cause) {
			t.Errorf("Cause should match wrapped cause: %v", cause)
		}
	})

	t.Run("TimezoneRequired", func(t *testing.T) {
		err := TimezoneRequired("occurred_at", "2024-07-10T12:00:00")
		if err.Category != CategoryTimezoneRequired {
			t.Errorf("Category = %v, want %v", err.Category, CategoryTimezoneRequired)
		}
		if err.Retryable {
			t.Error("TimezoneRequired should not be retryable")
		}
		if err.Context["value"] != "2024-07-10T12:00:00" {
			t.Errorf("Context[value] = %v", err.Context["value"])
		}
	})

	t.Run("ReportValidationExhausted", func(t *testing.T) {
		err := ReportValidationExhausted("repository:octo/reef", "rev-1", 2)
		if err.Category != CategoryReportValidation {
			t.Errorf("Category = %v, want %v", err.Category, CategoryReportValidation)
		}
		if err.Context["attempts"] != 2 {
			t.Errorf("Context[attempts] = %v, want 2", err.Context["attempts"])
		}
	})
}
