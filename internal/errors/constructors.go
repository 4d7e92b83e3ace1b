package errors

// Convenience functions for common error patterns

// Config errors

func ConfigRequired(field string) *GhillieError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

func ValidationFailed(field, reason string) *GhillieError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Ingestion boundary errors

func TimezoneRequired(field, value string) *GhillieError {
	return New(CategoryTimezoneRequired, SeverityError, "timestamp requires an explicit timezone offset").
		WithContext("field", field).
		WithContext("value", value)
}

func PayloadMismatch(rawEventID string) *GhillieError {
	return New(CategoryPayloadMismatch, SeverityError, "stored payload digest disagrees with event fact").
		WithContext("raw_event_id", rawEventID)
}

// Upstream errors

func TransientUpstream(operation string, cause error) *GhillieError {
	return WrapRetryable(cause, CategoryTransientUpstream, SeverityWarning, "transient upstream failure").
		WithContext("operation", operation)
}

func PermanentUpstream(operation string, cause error) *GhillieError {
	return Wrap(cause, CategoryPermanentUpstream, SeverityError, "permanent upstream failure").
		WithContext("operation", operation)
}

func ResponseShape(reason string, cause error) *GhillieError {
	return Wrap(cause, CategoryResponseShape, SeverityWarning, "model response has unexpected shape").
		WithContext("reason", reason)
}

// Reporting errors

func ReportValidationExhausted(scopeKey, reviewID string, attempts int) *GhillieError {
	return New(CategoryReportValidation, SeverityError, "report validation attempts exhausted").
		WithContext("scope_key", scopeKey).
		WithContext("review_id", reviewID).
		WithContext("attempts", attempts)
}

func RepositoryNotFound(slug string) *GhillieError {
	return New(CategoryRepositoryNotFound, SeverityError, "repository not registered").
		WithContext("slug", slug)
}

func ProjectNotFound(key string) *GhillieError {
	return New(CategoryProjectNotFound, SeverityError, "project not in catalogue").
		WithContext("project", key)
}

// Infrastructure errors

func StorageError(operation string, cause error) *GhillieError {
	return Wrap(cause, CategoryStorage, SeverityError, "storage operation failed").
		WithContext("operation", operation)
}

func DaemonError(message string) *GhillieError {
	return New(CategoryDaemon, SeverityError, message)
}

func InternalError(message string, cause error) *GhillieError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
