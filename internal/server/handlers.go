package server

import (
	"net/http"
	"strings"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/gold"
	"git.home.luguber.info/inful/ghillie/internal/render"
	"git.home.luguber.info/inful/ghillie/internal/version"
)

// defaultMetricsPeriod is how far back the metrics snapshot reaches when the
// caller omits period_start.
const defaultMetricsPeriod = 30 * 24 * time.Hour

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = writeJSONPretty(w, r, http.StatusOK, HealthResponse{Status: "ok", Version: version.Version})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db == nil || s.db.PingContext(r.Context()) != nil {
		_ = writeJSONPretty(w, r, http.StatusServiceUnavailable, ReadyResponse{Status: "unavailable"})
		return
	}
	_ = writeJSONPretty(w, r, http.StatusOK, ReadyResponse{Status: "ready"})
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	owner, name := r.PathValue("owner"), r.PathValue("name")

	repo, err := s.entities.GetRepositoryBySlug(r.Context(), owner, name)
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	if repo == nil {
		s.adapter.WriteErrorResponse(w, r, gerrors.RepositoryNotFound(owner+"/"+name))
		return
	}

	result, err := s.runner.RunForRepository(r.Context(), repo.ID, time.Now().UTC())
	if err != nil {
		if gerrors.IsCategory(err, gerrors.CategoryReportValidation) {
			s.writeValidationFailure(w, r, err)
			return
		}
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	_ = writeJSONPretty(w, r, http.StatusOK, newReportRunResponse(repo.Slug(), result))
}

// writeValidationFailure answers an exhausted run with the review marker's
// accumulated issues.
func (s *Server) writeValidationFailure(w http.ResponseWriter, r *http.Request, err error) {
	payload := s.adapter.FormatErrorResponse(err)
	resp := ReportValidationResponse{
		Title:       payload.Title,
		Description: payload.Description,
		Issues:      []gold.ValidationIssue{},
	}

	if ge, ok := err.(*gerrors.GhillieError); ok {
		if id, ok := ge.Context["review_id"].(string); ok && id != "" {
			resp.ReviewID = id
			if review, rerr := s.reports.GetReview(r.Context(), id); rerr == nil && review != nil {
				resp.Issues = review.Issues
			}
		}
	}

	_ = writeJSONPretty(w, r, http.StatusUnprocessableEntity, resp)
}

func (s *Server) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	owner, name := r.PathValue("owner"), r.PathValue("name")

	repo, err := s.entities.GetRepositoryBySlug(r.Context(), owner, name)
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	if repo == nil {
		s.adapter.WriteErrorResponse(w, r, gerrors.RepositoryNotFound(owner+"/"+name))
		return
	}

	report, err := s.reports.LatestRepositoryReport(r.Context(), repo.ID)
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	if report == nil {
		_ = writeJSONPretty(w, r, http.StatusNotFound, gerrors.HTTPErrorResponse{
			Title:       "report not found",
			Description: "no report generated for " + repo.Slug() + " yet",
		})
		return
	}

	markdown := render.RepositoryMarkdown(repo.GithubOwner, repo.GithubName, *report)
	if wantsHTML(r) {
		html, err := render.HTML(markdown)
		if err != nil {
			s.adapter.WriteErrorResponse(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(html)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markdown))
}

// wantsHTML honors an explicit format override before content negotiation.
func wantsHTML(r *http.Request) bool {
	if r.URL.Query().Get("format") == "html" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (s *Server) handleReportMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	periodEnd := time.Now().UTC()
	if raw := q.Get("period_end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.adapter.WriteErrorResponse(w, r, gerrors.ValidationFailed("period_end", "expected an RFC 3339 timestamp"))
			return
		}
		periodEnd = t.UTC()
	}

	periodStart := periodEnd.Add(-defaultMetricsPeriod)
	if raw := q.Get("period_start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.adapter.WriteErrorResponse(w, r, gerrors.ValidationFailed("period_start", "expected an RFC 3339 timestamp"))
			return
		}
		periodStart = t.UTC()
	}

	scope := gold.Scope(q.Get("scope"))
	switch scope {
	case "", gold.ScopeRepository, gold.ScopeProject, gold.ScopeEstate:
	default:
		s.adapter.WriteErrorResponse(w, r, gerrors.ValidationFailed("scope", "expected repository, project or estate"))
		return
	}

	snap, err := s.runner.Snapshot(r.Context(), periodStart, periodEnd, scope)
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSONPretty(w, r, http.StatusOK, snap)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.runtime == nil {
		s.adapter.WriteErrorResponse(w, r, gerrors.DaemonError("daemon is not running"))
		return
	}

	st, err := s.runtime.RuntimeStatus(r.Context())
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSONPretty(w, r, http.StatusOK, st)
}
