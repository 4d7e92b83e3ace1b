package status

import (
	"log/slog"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
)

// Options selects and configures a status model backend.
type Options struct {
	Backend     string // "mock" or "openai"
	APIKey      string
	Endpoint    string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
}

// New builds the configured model. The zero backend is the deterministic
// heuristic, so a bare environment still produces reports.
func New(opts Options, logger *slog.Logger) (Model, error) {
	switch opts.Backend {
	case "", "mock":
		return NewHeuristicModel(), nil
	case "openai":
		return NewOpenAIModel(opts, logger)
	default:
		return nil, gerrors.ValidationFailed("STATUS_MODEL_BACKEND",
			"must be one of mock, openai; got "+opts.Backend)
	}
}
