package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HTTPErrorAdapter handles error presentation and status code determination for HTTP handlers.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

// NewHTTPErrorAdapter creates a new HTTP error adapter with an optional slog logger.
// If logger is nil, the default package logger will be used.
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

// HTTPErrorResponse is the standard JSON error payload.
type HTTPErrorResponse struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
}

// StatusCodeFor determines the HTTP status code for a given error based on
// its category. Unknown errors map to 500.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	if ge, ok := err.(*GhillieError); ok {
		switch ge.Category {
		case CategoryValidation, CategoryConfig, CategoryTimezoneRequired, CategoryPayloadMismatch:
			return http.StatusBadRequest
		case CategoryRepositoryNotFound, CategoryProjectNotFound:
			return http.StatusNotFound
		case CategoryReportValidation:
			return http.StatusUnprocessableEntity
		case CategoryTransientUpstream, CategoryPermanentUpstream, CategoryResponseShape:
			return http.StatusBadGateway
		case CategoryDaemon:
			return http.StatusServiceUnavailable
		case CategoryStorage, CategoryInternal:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}

	return http.StatusInternalServerError
}

// WriteErrorResponse writes a JSON error response and logs it at a level
// matching the error's severity.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	status := a.StatusCodeFor(err)
	payload := a.FormatErrorResponse(err)

	b, jerr := json.Marshal(payload)
	if jerr != nil {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"title":"internal error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)

	if ge, ok := err.(*GhillieError); ok {
		a.logger.Log(r.Context(), a.slogLevelFromSeverity(ge.Severity), ge.Error())
		return
	}
	a.logger.Error(err.Error())
}

// FormatErrorResponse converts known errors into the canonical error payload.
func (a *HTTPErrorAdapter) FormatErrorResponse(err error) HTTPErrorResponse {
	if err == nil {
		return HTTPErrorResponse{}
	}
	if ge, ok := err.(*GhillieError); ok {
		resp := HTTPErrorResponse{
			Title:     titleFor(ge.Category),
			Retryable: ge.Retryable,
		}
		resp.Description = ge.Message
		if ge.Cause != nil {
			resp.Description = ge.Message + ": " + ge.Cause.Error()
		}
		return resp
	}
	return HTTPErrorResponse{Title: "internal error", Description: err.Error()}
}

// titleFor gives each category a short human title for error payloads.
func titleFor(category ErrorCategory) string {
	switch category {
	case CategoryValidation, CategoryConfig:
		return "invalid request"
	case CategoryTimezoneRequired:
		return "timestamp requires timezone"
	case CategoryPayloadMismatch:
		return "payload mismatch"
	case CategoryRepositoryNotFound:
		return "repository not found"
	case CategoryProjectNotFound:
		return "project not found"
	case CategoryReportValidation:
		return "report failed validation"
	case CategoryTransientUpstream, CategoryPermanentUpstream:
		return "upstream failure"
	case CategoryResponseShape:
		return "model response unusable"
	case CategoryDaemon:
		return "service unavailable"
	case CategoryStorage:
		return "storage failure"
	default:
		return "internal error"
	}
}

func (a *HTTPErrorAdapter) slogLevelFromSeverity(s ErrorSeverity) slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError, SeverityFatal:
		return slog.LevelError
	default:
		return slog.LevelError
	}
}
