package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/reporting"
)

// HealthResponse answers liveness probes.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ReadyResponse answers readiness probes.
type ReadyResponse struct {
	Status string `json:"status"`
}

// ReportModelMetrics carries the nullable model cost fields of one report.
type ReportModelMetrics struct {
	LatencyMS        *int64 `json:"latency_ms"`
	PromptTokens     *int64 `json:"prompt_tokens"`
	CompletionTokens *int64 `json:"completion_tokens"`
	TotalTokens      *int64 `json:"total_tokens"`
}

// ReportRunResponse describes a report persisted by an on-demand run.
type ReportRunResponse struct {
	ReportID    string             `json:"report_id"`
	Repository  string             `json:"repository"`
	WindowStart time.Time          `json:"window_start"`
	WindowEnd   time.Time          `json:"window_end"`
	GeneratedAt time.Time          `json:"generated_at"`
	Status      string             `json:"status"`
	Model       string             `json:"model"`
	Metrics     ReportModelMetrics `json:"metrics"`
}

func newReportRunResponse(slug string, result *reporting.RunResult) ReportRunResponse {
	rep := result.Report
	return ReportRunResponse{
		ReportID:    rep.ID,
		Repository:  slug,
		WindowStart: rep.WindowStart,
		WindowEnd:   rep.WindowEnd,
		GeneratedAt: rep.GeneratedAt,
		Status:      rep.MachineSummary.Status,
		Model:       rep.Model,
		Metrics: ReportModelMetrics{
			LatencyMS:        rep.LatencyMS,
			PromptTokens:     rep.PromptTokens,
			CompletionTokens: rep.CompletionTokens,
			TotalTokens:      rep.TotalTokens,
		},
	}
}

// ReportValidationResponse describes a run that exhausted its validation
// attempts. Issues come from the pending review marker.
type ReportValidationResponse struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Issues      []gold.ValidationIssue `json:"issues"`
	ReviewID    string                 `json:"review_id,omitempty"`
}

// RuntimeStatus is the daemon state reported by the status endpoint.
type RuntimeStatus struct {
	State               string    `json:"state"`
	StartedAt           time.Time `json:"started_at"`
	QueueDepth          int       `json:"queue_depth"`
	ActiveJobs          []string  `json:"active_jobs"`
	CheckpointCount     int       `json:"checkpoint_count"`
	StalledRepositories int       `json:"stalled_repositories"`
	CatalogueRevision   string    `json:"catalogue_revision"`
}

// writeJSON serializes the provided value to JSON and writes it with the
// given status code. Encoding goes through an intermediate buffer so a
// serialization failure never sends a partial body.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	if err := enc.Encode(v); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("failed writing JSON response body", logfields.Error(err))
		return err
	}
	return nil
}

// writeJSONPretty optionally pretty prints when pretty=1 or pretty=true is
// passed as a query parameter. It falls back to compact form if indented
// marshalling fails.
func writeJSONPretty(w http.ResponseWriter, r *http.Request, status int, v any) error {
	if r != nil {
		if p := r.URL.Query().Get("pretty"); p == "1" || p == "true" {
			b, err := json.MarshalIndent(v, "", "  ")
			if err == nil {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(status)
				if _, werr := w.Write(append(b, '\n')); werr != nil {
					slog.Error("failed writing pretty JSON", logfields.Error(werr))
					return werr
				}
				return nil
			}
			slog.Warn("pretty JSON marshal failed, falling back to standard encode", logfields.Error(err))
		}
	}
	return writeJSON(w, status, v)
}
