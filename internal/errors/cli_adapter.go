package errors

import (
	"fmt"
	"log/slog"
	"os"
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	if ge, ok := err.(*GhillieError); ok {
		return a.exitCodeFromGhillie(ge)
	}

	return 1
}

// exitCodeFromGhillie maps GhillieError to exit codes.
func (a *CLIErrorAdapter) exitCodeFromGhillie(err *GhillieError) int {
	switch err.Category {
	case CategoryValidation, CategoryTimezoneRequired:
		return 2 // Invalid usage or input
	case CategoryConfig:
		return 7 // Configuration error
	case CategoryTransientUpstream, CategoryPermanentUpstream, CategoryResponseShape:
		return 8 // External system error
	case CategoryReportValidation:
		return 9 // Report needs human review
	case CategoryRepositoryNotFound, CategoryProjectNotFound:
		return 4 // Unknown subject
	case CategoryStorage, CategoryPayloadMismatch:
		return 11 // Store error
	case CategoryDaemon:
		return 12 // Runtime error
	case CategoryInternal:
		return 10 // Internal error
	default:
		return 1 // General error
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	if ge, ok := err.(*GhillieError); ok {
		return a.formatGhillie(ge)
	}

	return fmt.Sprintf("Error: %v", err)
}

// formatGhillie formats a GhillieError for display.
func (a *CLIErrorAdapter) formatGhillie(err *GhillieError) string {
	if a.verbose {
		return err.Error()
	}

	switch err.Category {
	case CategoryConfig, CategoryValidation:
		return err.Message
	default:
		return fmt.Sprintf("%s: %s", err.Category, err.Message)
	}
}

// HandleError processes an error and exits the program with appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	exitCode := a.ExitCodeFor(err)
	message := a.FormatError(err)

	if a.shouldLog(err) {
		a.logError(err)
	}

	fmt.Fprintf(os.Stderr, "%s\n", message)
	os.Exit(exitCode)
}

// shouldLog determines if an error should be logged.
func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}

	if ge, ok := err.(*GhillieError); ok {
		return ge.Category == CategoryInternal ||
			ge.Category == CategoryDaemon ||
			ge.Severity == SeverityFatal
	}

	return true
}

// logError logs an error with appropriate level and context.
func (a *CLIErrorAdapter) logError(err error) {
	if ge, ok := err.(*GhillieError); ok {
		level := a.slogLevelFromSeverity(ge.Severity)
		attrs := []slog.Attr{
			slog.String("category", string(ge.Category)),
		}
		if ge.Retryable {
			attrs = append(attrs, slog.Bool("retryable", true))
		}

		a.logger.LogAttrs(nil, level, ge.Message, attrs...)
		return
	}

	a.logger.Error("Unclassified error", "error", err)
}

// slogLevelFromSeverity converts GhillieError severity to slog level.
func (a *CLIErrorAdapter) slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityFatal:
		return slog.LevelError
	default:
		return slog.LevelError
	}
}
